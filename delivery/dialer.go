package delivery

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"syscall"
	"time"
)

// SafeDialer refuses to connect to any address BlockedAddr rejects. The
// check runs on the resolved peer, after DNS, so a host that re-resolves to
// a private address between validation and delivery is still refused.
func SafeDialer(timeout time.Duration) *net.Dialer {
	return &net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
		Control: func(network, address string, _ syscall.RawConn) error {
			addrPort, err := netip.ParseAddrPort(address)
			if err != nil {
				return fmt.Errorf("delivery: unexpected dial address %q: %w", address, err)
			}
			if BlockedAddr(addrPort.Addr()) {
				return fmt.Errorf("delivery: refusing to dial non-public address %s", addrPort.Addr())
			}
			return nil
		},
	}
}

// NewHTTPClient builds the client used for webhook delivery: no proxy, no
// redirects, and the safe dialer.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	transport := &http.Transport{
		Proxy:                 nil,
		DialContext:           SafeDialer(timeout).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          64,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}
