// control/http.go
// Author: momentics <momentics@gmail.com>
//
// HTTP endpoint for Prometheus scraping and debug state dumps. Runs on its
// own goroutine, never on the reactor.

package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/momentics/hioload-pipeline/internal/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Endpoint serves /metrics and /debug/state.
type Endpoint struct {
	server       *http.Server
	ln           net.Listener
	shutdownOnce sync.Once
}

// NewEndpoint binds addr immediately so a port conflict surfaces at startup.
// gatherer may be nil when metrics are disabled; probes may be nil.
func NewEndpoint(addr string, gatherer prometheus.Gatherer, probes *DebugProbes) (*Endpoint, error) {
	mux := http.NewServeMux()
	if gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	} else {
		mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/plain")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = fmt.Fprintf(w, "Metrics collection is disabled\n")
		})
	}
	mux.HandleFunc("/debug/state", func(w http.ResponseWriter, r *http.Request) {
		state := map[string]any{}
		if probes != nil {
			state = probes.DumpState()
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(state)
	})

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listen %s: %w", addr, err)
	}
	return &Endpoint{
		server: &http.Server{
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		ln: ln,
	}, nil
}

// Addr returns the bound address.
func (e *Endpoint) Addr() net.Addr {
	return e.ln.Addr()
}

// Serve blocks until ctx is cancelled or the server fails.
func (e *Endpoint) Serve(ctx context.Context) error {
	log := logger.New("metrics")
	errc := make(chan error, 1)
	go func() {
		log.Infof("listening on %s", e.ln.Addr())
		if err := e.server.Serve(e.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return e.Stop(shutdownCtx)
	case err := <-errc:
		return fmt.Errorf("metrics server failed: %w", err)
	}
}

// Stop shuts the server down. Safe to call more than once.
func (e *Endpoint) Stop(ctx context.Context) error {
	var err error
	e.shutdownOnce.Do(func() {
		if serr := e.server.Shutdown(ctx); serr != nil {
			err = fmt.Errorf("metrics server shutdown: %w", serr)
		}
		// Shutdown only closes listeners that Serve picked up.
		_ = e.ln.Close()
	})
	return err
}
