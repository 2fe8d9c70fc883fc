package events

import (
	"net"
	"net/url"
	"strings"

	"github.com/gravitational/trace"
)

// checkSSRF rejects URLs that could be used to reach internal or
// loopback network resources, per spec.md §4.8 item 1. It runs on
// every delivery attempt, not only at webhook creation time.
func checkSSRF(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return trace.BadParameter("invalid webhook URL: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return trace.BadParameter("webhook URL scheme %q is not allowed", u.Scheme)
	}

	host := u.Hostname()
	if host == "" {
		return trace.BadParameter("webhook URL has no host")
	}
	lower := strings.ToLower(host)
	if strings.HasSuffix(lower, ".local") || strings.HasSuffix(lower, ".internal") {
		return trace.BadParameter("webhook host %q matches an internal hostname pattern", host)
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		return trace.BadParameter("failed to resolve webhook host %q: %v", host, err)
	}
	for _, ip := range ips {
		if err := checkIP(ip); err != nil {
			return err
		}
	}
	return nil
}

func checkIP(ip net.IP) error {
	switch {
	case ip.IsLoopback():
		return trace.BadParameter("webhook address %s is loopback", ip)
	case ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast():
		return trace.BadParameter("webhook address %s is link-local", ip)
	case ip.IsUnspecified():
		return trace.BadParameter("webhook address %s is unspecified", ip)
	case ip.IsPrivate():
		return trace.BadParameter("webhook address %s is private", ip)
	}
	return nil
}
