// Package delivery sends signed domain events to tenant-registered webhook
// endpoints and guards those endpoints against server-side request forgery.
package delivery

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-integrations/core"
)

var defaultBlockedHosts = []string{
	"localhost",
	"localhost.localdomain",
	"ip6-localhost",
	"ip6-loopback",
	"metadata",
	"metadata.google.internal",
	"metadata.azure.com",
	"instance-data",
	"instance-data.ec2.internal",
}

var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.0.0.0/24"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("198.18.0.0/15"),
	netip.MustParsePrefix("224.0.0.0/4"),
	netip.MustParsePrefix("240.0.0.0/4"),
	netip.MustParsePrefix("::/128"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("64:ff9b::/96"),
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("fe80::/10"),
	netip.MustParsePrefix("ff00::/8"),
}

// Resolver looks up the addresses of a host. *net.Resolver satisfies it.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

type ValidatorOption func(*URLValidator)

func WithResolver(resolver Resolver) ValidatorOption {
	return func(v *URLValidator) {
		if resolver != nil {
			v.resolver = resolver
		}
	}
}

// URLValidator decides whether a webhook endpoint may be called.
type URLValidator struct {
	resolver  Resolver
	allowHTTP bool
	blocked   map[string]struct{}
}

func NewURLValidator(cfg core.DeliveryConfig, opts ...ValidatorOption) *URLValidator {
	v := &URLValidator{
		resolver:  net.DefaultResolver,
		allowHTTP: cfg.AllowHTTP,
		blocked:   map[string]struct{}{},
	}
	for _, host := range append(append([]string(nil), defaultBlockedHosts...), cfg.BlockedHosts...) {
		if host = normalizeHost(host); host != "" {
			v.blocked[host] = struct{}{}
		}
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// Validate rejects endpoints with a non-web scheme, a blocked host name, or
// any resolved address in a private, loopback, link-local or otherwise
// non-public range.
func (v *URLValidator) Validate(ctx context.Context, rawURL string) error {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return rejected(rawURL, "url is not parseable")
	}
	switch strings.ToLower(parsed.Scheme) {
	case "https":
	case "http":
		if !v.allowHTTP {
			return rejected(rawURL, "plain http is not allowed")
		}
	default:
		return rejected(rawURL, fmt.Sprintf("scheme %q is not allowed", parsed.Scheme))
	}
	if parsed.User != nil {
		return rejected(rawURL, "credentials in the url are not allowed")
	}
	host := normalizeHost(parsed.Hostname())
	if host == "" {
		return rejected(rawURL, "host is required")
	}
	if v.hostBlocked(host) {
		return rejected(rawURL, fmt.Sprintf("host %q is blocked", host))
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if BlockedAddr(addr) {
			return rejected(rawURL, fmt.Sprintf("address %s is not public", addr))
		}
		return nil
	}

	addrs, err := v.resolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return core.WrapError(err, goerrors.CategoryValidation, core.ErrorURLRejected,
			fmt.Sprintf("delivery: host %q does not resolve", host))
	}
	if len(addrs) == 0 {
		return rejected(rawURL, fmt.Sprintf("host %q has no addresses", host))
	}
	for _, addr := range addrs {
		if BlockedAddr(addr) {
			return rejected(rawURL, fmt.Sprintf("host %q resolves to non-public address %s", host, addr))
		}
	}
	return nil
}

func (v *URLValidator) hostBlocked(host string) bool {
	if _, ok := v.blocked[host]; ok {
		return true
	}
	return strings.HasSuffix(host, ".localhost")
}

// BlockedAddr reports whether addr must never be dialed. IPv4-mapped IPv6
// addresses are checked as IPv4.
func BlockedAddr(addr netip.Addr) bool {
	if !addr.IsValid() {
		return true
	}
	addr = addr.Unmap()
	if addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() || addr.IsMulticast() || addr.IsUnspecified() {
		return true
	}
	for _, prefix := range blockedPrefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func normalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	host = strings.TrimSuffix(host, ".")
	return strings.Trim(host, "[]")
}

func rejected(rawURL, reason string) *goerrors.Error {
	return core.NewError(
		"delivery: url rejected: "+reason,
		goerrors.CategoryValidation,
		core.ErrorURLRejected,
	).WithMetadata(map[string]any{"url": redactURL(rawURL)})
}

// redactURL drops userinfo and query so secrets never reach logs.
func redactURL(rawURL string) string {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	parsed.User = nil
	parsed.RawQuery = ""
	parsed.Fragment = ""
	return parsed.String()
}
