// Command fleetd is the central SSH fleet control plane daemon: it
// opens three listeners (REST API, terminal WebSocket, stats
// WebSocket) backed by a single SQLite store, per spec.md §6.
//
// Grounded on the teacher's top-level command wiring style (construct
// every dependency explicitly in main, pass narrow interfaces into
// constructors, no package-level globals beyond loggers) rather than
// any single teleport command file, since fleetd has no subcommand
// tree of its own.
package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/gravitational/fleetctl/internal/authn"
	"github.com/gravitational/fleetctl/internal/config"
	"github.com/gravitational/fleetctl/internal/events"
	"github.com/gravitational/fleetctl/internal/httpapi"
	"github.com/gravitational/fleetctl/internal/inventory"
	"github.com/gravitational/fleetctl/internal/lifecycle"
	"github.com/gravitational/fleetctl/internal/model"
	"github.com/gravitational/fleetctl/internal/obslog"
	"github.com/gravitational/fleetctl/internal/ratelimit"
	"github.com/gravitational/fleetctl/internal/sshpool"
	"github.com/gravitational/fleetctl/internal/stats"
	"github.com/gravitational/fleetctl/internal/store"
	"github.com/gravitational/fleetctl/internal/tasks"
	"github.com/gravitational/fleetctl/internal/terminal"
	"github.com/gravitational/fleetctl/internal/vault"
)

var log = obslog.New(obslog.Component("cmd/fleetd"))

var errNoCredential = errors.New("host has no usable credential configured")

const statsInterval = 3 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}
	if err := run(cfg); err != nil {
		log.WithError(err).Fatal("fleetd exited with error")
	}
}

func run(cfg *config.Config) error {
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}

	vlt, err := vault.New(st, cfg.KeyVaultMasterKey)
	if err != nil {
		return err
	}

	pool := sshpool.New()
	credResolver := sshCredResolver{vault: vlt}

	dispatcher := events.NewDispatcher(st, 4, nil)
	bus := events.New(st, dispatcher)
	dispatcher.Run()

	issuer := authn.NewIssuer(cfg.JWTSecret, time.Duration(cfg.JWTExpiration)*time.Second)
	limiter := ratelimit.New(ratelimit.Config{})
	authSvc := authn.NewService(st, issuer, bus, limiter)
	cache := ratelimit.NewTTLCache()

	taskEngine := tasks.New(
		tasks.Config{
			NumWorkers:     cfg.TasksNumWorkers,
			PerHostCap:     cfg.TasksPerServerCap,
			CommandMaxLen:  cfg.TaskCommandMaxLen,
			OutputMaxBytes: cfg.TasksOutputMaxBytes,
			DefaultTimeout: time.Duration(cfg.TasksDefaultTimeout) * time.Second,
		},
		st,
		tasks.NewSSHRunner(pool, credResolver),
		tasks.NewDenylistPolicy(),
		events.TaskSink{Bus: bus},
		nil,
	)
	taskEngine.Run()

	invCollector := inventory.New(st, func(h *model.Host, creds sshpool.Credentials) (*ssh.Client, error) {
		return sshpool.DialDirect(h.Address, h.Port, h.Username, creds, 0)
	})

	_, restHandler := httpapi.NewServer(httpapi.Deps{
		Store: st, Vault: vlt, Tasks: taskEngine, Inventory: invCollector,
		Events: bus, Authn: authSvc, Limiter: limiter, Cache: cache,
		CORS:   httpapi.CORSConfig{AllowedOrigins: cfg.CORSAllowedOrigins},
		CIMode: cfg.CI,
	})

	termBroker := terminal.New(st, sshDialer{}, events.TerminalSink{Bus: bus},
		time.Duration(cfg.TerminalIdleTimeout)*time.Second, nil)
	termShutdown := make(chan struct{})
	termSrv := &terminalServer{
		broker: termBroker, authn: authSvc, vault: vlt, shutdown: termShutdown,
		store: &hostGetter{GetHost: st.GetHost},
	}

	statsCollector := stats.NewSSHCollector(pool, credResolver)
	broadcaster := stats.New(st, statsCollector, events.StatsSink{Bus: bus}, statsInterval, nil)
	statsCtx, cancelStats := context.WithCancel(context.Background())
	go broadcaster.Run(statsCtx)
	statsSrv := &statsServer{broadcaster: broadcaster, intervalSecs: int(statsInterval.Seconds())}

	lc := lifecycle.New(cfg, st, taskEngine, pool, nil)
	if err := lc.ValidateStartup(); err != nil {
		return err
	}
	if err := lc.Recover(); err != nil {
		return err
	}
	cleanupCtx, cancelCleanup := context.WithCancel(context.Background())
	lc.StartScheduledJobs(cleanupCtx)

	restServer := &http.Server{Addr: cfg.RESTAddr, Handler: restHandler}
	terminalHTTP := &http.Server{Addr: cfg.TerminalAddr, Handler: termSrv}
	statsHTTP := &http.Server{Addr: cfg.StatsAddr, Handler: statsSrv}

	go func() {
		log.WithField("addr", cfg.RESTAddr).Info("REST API listening")
		if err := restServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("REST server stopped unexpectedly")
		}
	}()
	go func() {
		log.WithField("addr", cfg.TerminalAddr).Info("terminal websocket listening")
		if err := terminalHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("terminal server stopped unexpectedly")
		}
	}()
	go func() {
		log.WithField("addr", cfg.StatsAddr).Info("stats websocket listening")
		if err := statsHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("stats server stopped unexpectedly")
		}
	}()

	sig := lifecycle.WaitForShutdownSignal()
	log.WithField("signal", sig.String()).Info("shutdown signal received")

	close(termShutdown)
	cancelStats()
	cancelCleanup()
	dispatcher.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = restServer.Shutdown(shutdownCtx)
	_ = terminalHTTP.Shutdown(shutdownCtx)
	_ = statsHTTP.Shutdown(shutdownCtx)

	if err := lc.Shutdown(shutdownCtx); err != nil {
		return err
	}

	log.Info("fleetd stopped")
	return nil
}
