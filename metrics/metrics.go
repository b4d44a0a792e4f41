// Package metrics exposes Prometheus metrics for the custodian services on
// a dedicated listen address, separate from the API server.
package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsServer serves the /metrics endpoint for a single service instance.
type MetricsServer struct {
	srv      *http.Server
	registry *prometheus.Registry

	// NodeOperations counts protocol operations handled by a custodian
	// node, labelled by operation name and outcome.
	NodeOperations *prometheus.CounterVec
}

// New creates a metrics server with its own registry. The namespace is
// prefixed to all metric names.
func New(namespace, listenAddr string) (*MetricsServer, error) {
	if listenAddr == "" {
		return nil, fmt.Errorf("metrics listen address must not be empty")
	}

	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	m := &MetricsServer{
		registry: registry,
		NodeOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_operations_total",
			Help:      "Protocol operations handled, by operation and outcome.",
		}, []string{"operation", "outcome"}),
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	m.srv = &http.Server{Addr: listenAddr, Handler: mux}

	return m, nil
}

// ListenAndServe blocks serving the metrics endpoint.
func (m *MetricsServer) ListenAndServe() error {
	return m.srv.ListenAndServe()
}

// Shutdown gracefully stops the metrics server.
func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}
