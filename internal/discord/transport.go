package discord

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// WithPublicNetworksOnly makes the default HTTP client refuse connections to
// loopback, private and link-local addresses. Useful when api_base_url comes
// from an untrusted source.
func WithPublicNetworksOnly() ClientOption {
	return func(c *Client) {
		c.httpClient.Transport = otelhttp.NewTransport(publicTransport())
	}
}

func publicTransport() *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	dialer := &net.Dialer{Timeout: 5 * time.Second}
	t.Proxy = nil
	t.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := dialer.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		host, _, _ := net.SplitHostPort(conn.RemoteAddr().String())
		ip := net.ParseIP(host)
		if ip == nil {
			conn.Close()
			return nil, fmt.Errorf("parse remote address for %q", addr)
		}
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
			conn.Close()
			return nil, fmt.Errorf("connection to non-public address %s denied", ip)
		}
		return conn, nil
	}
	return t
}
