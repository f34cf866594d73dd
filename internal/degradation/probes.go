// File: internal/degradation/probes.go
// Description: Real health probes for the monitored components. Each probe
// performs one concrete measurement against the dependency it covers and is
// injected into the component registry, so tests can substitute
// deterministic ones.
package degradation

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/cicerone-dev/cicerone/api/schemas"
	"github.com/cicerone-dev/cicerone/internal/store"
)

type atomicBool = atomic.Bool

// Probes carries one probe per monitored component. Nil entries mean the
// component has no external dependency to measure and is treated as healthy.
type Probes struct {
	Browser   ProbeFunc
	AI        ProbeFunc
	Network   ProbeFunc
	Interface ProbeFunc
	Storage   ProbeFunc
	Auth      ProbeFunc
}

// NavigatorProbe measures browser automation health by asking the navigator
// to ready the given capability.
func NavigatorProbe(nav schemas.Navigator, capability string) ProbeFunc {
	return func(ctx context.Context) ProbeResult {
		start := time.Now()
		err := nav.EnsureReady(ctx, capability)
		return ProbeResult{OK: err == nil, Latency: time.Since(start), Err: err}
	}
}

// HTTPProbe measures reachability of an HTTP endpoint. Any 2xx-4xx response
// counts as reachable; only transport errors and 5xx responses fail.
func HTTPProbe(client *http.Client, url string) ProbeFunc {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context) ProbeResult {
		start := time.Now()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return ProbeResult{OK: false, Err: err}
		}
		resp, err := client.Do(req)
		latency := time.Since(start)
		if err != nil {
			return ProbeResult{OK: false, Latency: latency, Err: err}
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 500 {
			return ProbeResult{OK: false, Latency: latency,
				Err: fmt.Errorf("endpoint returned %s", resp.Status)}
		}
		return ProbeResult{OK: true, Latency: latency}
	}
}

// TCPProbe measures raw network reachability of a host:port address.
func TCPProbe(addr string) ProbeFunc {
	var dialer net.Dialer
	return func(ctx context.Context) ProbeResult {
		start := time.Now()
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		latency := time.Since(start)
		if err != nil {
			return ProbeResult{OK: false, Latency: latency, Err: err}
		}
		_ = conn.Close()
		return ProbeResult{OK: true, Latency: latency}
	}
}

// StoreProbe measures the session store by issuing a cheap read.
func StoreProbe(s store.SessionStore) ProbeFunc {
	return func(ctx context.Context) ProbeResult {
		start := time.Now()
		_, err := s.List(ctx)
		return ProbeResult{OK: err == nil, Latency: time.Since(start), Err: err}
	}
}
