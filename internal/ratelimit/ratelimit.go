// Package ratelimit implements the per-IP and per-endpoint rate
// limiting and the TTL cache described in spec.md §4.10 (C10).
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/gravitational/fleetctl/internal/obslog"
)

var log = obslog.New(obslog.Component("ratelimit"))

const (
	defaultGeneralRate   = 100
	defaultGeneralWindow = 60 * time.Second
	defaultLoginRate     = 5
	defaultLoginWindow   = 300 * time.Second
	blockDuration        = 15 * time.Minute
	sweepInterval        = 10 * time.Minute
	entryMaxAge          = time.Hour
)

// Config tunes the general and login buckets. Zero values fall back to
// spec.md's defaults.
type Config struct {
	GeneralRequests int
	GeneralWindow   time.Duration
	LoginAttempts   int
	LoginWindow     time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.GeneralRequests <= 0 {
		out.GeneralRequests = defaultGeneralRate
	}
	if out.GeneralWindow <= 0 {
		out.GeneralWindow = defaultGeneralWindow
	}
	if out.LoginAttempts <= 0 {
		out.LoginAttempts = defaultLoginRate
	}
	if out.LoginWindow <= 0 {
		out.LoginWindow = defaultLoginWindow
	}
	return out
}

type bucketEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

type blockEntry struct {
	until time.Time
}

// Limiter holds the general bucket, the login bucket + block list, and
// arbitrary per-endpoint buckets, all keyed by caller-supplied strings
// (typically an IP or a caller id for the per-endpoint case).
type Limiter struct {
	cfg Config

	mu       sync.Mutex
	general  map[string]*bucketEntry
	login    map[string]*bucketEntry
	blocked  map[string]blockEntry
	endpoint map[string]map[string]*bucketEntry // endpoint -> key -> bucket

	stop chan struct{}
}

// New constructs a Limiter and starts its background sweeper.
func New(cfg Config) *Limiter {
	l := &Limiter{
		cfg:      cfg.withDefaults(),
		general:  make(map[string]*bucketEntry),
		login:    make(map[string]*bucketEntry),
		blocked:  make(map[string]blockEntry),
		endpoint: make(map[string]map[string]*bucketEntry),
		stop:     make(chan struct{}),
	}
	go l.sweepLoop()
	return l
}

// Close stops the background sweeper.
func (l *Limiter) Close() { close(l.stop) }

// Blocked reports whether ip is currently on the 15-minute login block
// list, and the remaining duration if so.
func (l *Limiter) Blocked(ip string) (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.blocked[ip]
	if !ok {
		return 0, false
	}
	remaining := time.Until(b.until)
	if remaining <= 0 {
		delete(l.blocked, ip)
		return 0, false
	}
	return remaining, true
}

// AllowGeneral consumes one token from ip's general bucket.
func (l *Limiter) AllowGeneral(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.allowLocked(l.general, ip, l.cfg.GeneralRequests, l.cfg.GeneralWindow)
}

// AllowLogin consumes one token from ip's login bucket; exhausting it
// places ip on the block list for 15 minutes, per spec.md §4.10.
func (l *Limiter) AllowLogin(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.allowLocked(l.login, ip, l.cfg.LoginAttempts, l.cfg.LoginWindow) {
		return true
	}
	l.blocked[ip] = blockEntry{until: time.Now().Add(blockDuration)}
	return false
}

// RecordLoginFailure is the hook authn.Service calls on every failed
// login; it counts as a login-bucket consumption.
func (l *Limiter) RecordLoginFailure(ip string) {
	l.AllowLogin(ip)
}

// AllowEndpoint consumes one token from a named per-endpoint bucket
// keyed by an arbitrary caller string (e.g. user_id or server_id), per
// spec.md §4.10's "hot endpoints" mechanism.
func (l *Limiter) AllowEndpoint(endpoint, key string, limit int, window time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	buckets, ok := l.endpoint[endpoint]
	if !ok {
		buckets = make(map[string]*bucketEntry)
		l.endpoint[endpoint] = buckets
	}
	return l.allowLocked(buckets, key, limit, window)
}

func (l *Limiter) allowLocked(buckets map[string]*bucketEntry, key string, limit int, window time.Duration) bool {
	now := time.Now()
	e, ok := buckets[key]
	if !ok {
		e = &bucketEntry{limiter: rate.NewLimiter(rate.Every(window/time.Duration(limit)), limit)}
		buckets[key] = e
	}
	e.lastAccess = now
	return e.limiter.AllowN(now, 1)
}

// ClearAll wipes every bucket and the block list. Intended only for
// test harnesses; guarded by CI=true at the HTTP layer per spec.md §6.
func (l *Limiter) ClearAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.general = make(map[string]*bucketEntry)
	l.login = make(map[string]*bucketEntry)
	l.blocked = make(map[string]blockEntry)
	l.endpoint = make(map[string]map[string]*bucketEntry)
}

func (l *Limiter) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}

func (l *Limiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := time.Now().Add(-entryMaxAge)
	sweepBuckets(l.general, cutoff)
	sweepBuckets(l.login, cutoff)
	for _, buckets := range l.endpoint {
		sweepBuckets(buckets, cutoff)
	}
	now := time.Now()
	for ip, b := range l.blocked {
		if now.After(b.until) {
			delete(l.blocked, ip)
		}
	}
	log.WithField("general_keys", len(l.general)).Debug("rate limiter sweep complete")
}

func sweepBuckets(buckets map[string]*bucketEntry, cutoff time.Time) {
	for k, e := range buckets {
		if e.lastAccess.Before(cutoff) {
			delete(buckets, k)
		}
	}
}
