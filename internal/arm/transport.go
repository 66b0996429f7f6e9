package arm

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/rs/dnscache"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Resolver caches upstream DNS lookups and refreshes them every ttl until ctx
// is cancelled.
type Resolver struct {
	cache *dnscache.Resolver
}

func NewResolver(ctx context.Context, ttl time.Duration) *Resolver {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	r := &Resolver{cache: &dnscache.Resolver{}}

	go func() {
		ticker := time.NewTicker(ttl)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.cache.Refresh(true)
				log.Debug().Dur("ttl", ttl).Msg("DNS cache refreshed")
			}
		}
	}()

	return r
}

// DialContext resolves through the cache and dials the first address.
func (r *Resolver) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return nil, err
	}

	ips, err := r.cache.LookupHost(ctx, host)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, &net.DNSError{Err: "no IP addresses found", Name: host}
	}

	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return dialer.DialContext(ctx, network, net.JoinHostPort(ips[0], port))
}

// NewTransport returns the base transport for upstream calls: client spans
// from otelhttp over a pooled transport that dials through resolver. A nil
// resolver uses the system resolver.
func NewTransport(resolver *Resolver) http.RoundTripper {
	base := http.DefaultTransport.(*http.Transport).Clone()
	if resolver != nil {
		base.DialContext = resolver.DialContext
	}
	return otelhttp.NewTransport(base)
}
