package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 5 * time.Second

// MetricsServer exposes /metrics over HTTP for Prometheus scraping. The
// otel prometheus exporter registers its collector against the default
// registry, so serving promhttp.Handler() here is all that's needed to
// make cbtrader_* gauges and counters scrapeable.
type MetricsServer struct {
	srv *http.Server
}

// NewMetricsServer binds a /metrics endpoint on the given port. It does
// not start listening until Run is called.
func NewMetricsServer(port int) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &MetricsServer{
		srv: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
	}
}

// Run implements bootstrap.Runner: serve until ctx is canceled, then
// shut down gracefully.
func (m *MetricsServer) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := m.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return m.srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
