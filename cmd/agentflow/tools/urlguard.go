package tools

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// urlGuard rejects request targets that would let a model-directed HTTP
// call reach localhost, private networks or cloud metadata endpoints.
type urlGuard struct {
	allowLocal bool
}

var blockedHostnames = []string{
	"localhost",
	"0.0.0.0",
	"::",
	"::1",
	"[::1]",
	"metadata.google.internal",
}

// Validate checks scheme and destination before a request is issued.
func (g urlGuard) Validate(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("scheme %q is not allowed, only http and https", parsed.Scheme)
	}

	hostname := strings.ToLower(strings.TrimSpace(parsed.Hostname()))
	if hostname == "" {
		return fmt.Errorf("URL has no host")
	}
	if g.allowLocal {
		return nil
	}

	for _, blocked := range blockedHostnames {
		if hostname == blocked {
			return fmt.Errorf("host %q is blocked", hostname)
		}
	}

	if ip := net.ParseIP(hostname); ip != nil {
		return g.validateIP(ip)
	}

	// Validate every address the name resolves to; a lookup failure is
	// left for the request itself to report.
	ips, err := net.LookupIP(hostname)
	if err != nil {
		return nil
	}
	for _, ip := range ips {
		if err := g.validateIP(ip); err != nil {
			return err
		}
	}
	return nil
}

func (g urlGuard) validateIP(ip net.IP) error {
	switch {
	case ip.IsLoopback():
		return fmt.Errorf("IP %s is blocked: loopback address", ip)
	case ip.IsPrivate():
		return fmt.Errorf("IP %s is blocked: private network", ip)
	case ip.IsLinkLocalUnicast():
		return fmt.Errorf("IP %s is blocked: link-local address", ip)
	case ip.IsMulticast():
		return fmt.Errorf("IP %s is blocked: multicast address", ip)
	case ip.IsUnspecified():
		return fmt.Errorf("IP %s is blocked: unspecified address", ip)
	}
	return nil
}
