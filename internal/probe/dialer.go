package probe

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/rs/dnscache"
	"go.uber.org/zap"
)

// NewResolver returns a caching resolver that re-resolves its entries every
// refresh until ctx is done. Probing the same backend host once a second
// would otherwise hit DNS on every call.
func NewResolver(ctx context.Context, refresh time.Duration, log *zap.Logger) *dnscache.Resolver {
	r := &dnscache.Resolver{}
	if refresh <= 0 {
		refresh = 5 * time.Minute
	}
	go func() {
		t := time.NewTicker(refresh)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				r.Refresh(true)
				if log != nil {
					log.Debug("dns_cache_refreshed", zap.Duration("ttl", refresh))
				}
			}
		}
	}()
	return r
}

// cachingTransport dials through r, trying each resolved address in turn.
func cachingTransport(r *dnscache.Resolver) *http.Transport {
	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		ips, err := r.LookupHost(ctx, host)
		if err != nil {
			return nil, err
		}
		if len(ips) == 0 {
			return nil, &net.DNSError{Err: "no addresses found", Name: host}
		}
		var lastErr error
		for _, ip := range ips {
			conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
			if err == nil {
				return conn, nil
			}
			lastErr = err
		}
		return nil, lastErr
	}
	return t
}
