package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's metric collectors on a private registry.
type Metrics struct {
	registry  *prometheus.Registry
	Occupancy *OccupancyMetrics
	MQTT      *MQTTMetrics
}

// New creates a registry with the Go runtime, process, occupancy and
// MQTT collectors.
func New() (*Metrics, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	occ, err := NewOccupancyMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create occupancy metrics: %w", err)
	}
	mq, err := NewMQTTMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create MQTT metrics: %w", err)
	}
	return &Metrics{registry: registry, Occupancy: occ, MQTT: mq}, nil
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
