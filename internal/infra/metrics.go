package infra

import (
	"fmt"
	"os"
	"path/filepath"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/eliteGoblin/focusd/scroll_mon/internal/domain"
)

// PrometheusRecorder counts state transitions, override decisions and shield
// state on a private registry. There is no listener; WriteTextfile dumps the
// registry for the node exporter's textfile collector.
type PrometheusRecorder struct {
	registry    *prom.Registry
	transitions *prom.CounterVec
	overrides   *prom.CounterVec
	shield      prom.Gauge
	state       *prom.GaugeVec
}

// NewPrometheusRecorder constructs and registers the metrics.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		registry: reg,
		transitions: prom.NewCounterVec(prom.CounterOpts{
			Namespace: AppName,
			Name:      "transitions_total",
			Help:      "State transitions by source and target state",
		}, []string{"from", "to"}),
		overrides: prom.NewCounterVec(prom.CounterOpts{
			Namespace: AppName,
			Name:      "overrides_total",
			Help:      "Override requests by result",
		}, []string{"result"}),
		shield: prom.NewGauge(prom.GaugeOpts{
			Namespace: AppName,
			Name:      "shield_active",
			Help:      "1 while the shield is up in this process",
		}),
		state: prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: AppName,
			Name:      "state",
			Help:      "1 for the current runtime state",
		}, []string{"state"}),
	}
	reg.MustRegister(pr.transitions, pr.overrides, pr.shield, pr.state)
	return pr
}

// Registry returns the underlying registry.
func (p *PrometheusRecorder) Registry() *prom.Registry {
	return p.registry
}

// Transition counts one state change.
func (p *PrometheusRecorder) Transition(from, to domain.State) {
	p.transitions.WithLabelValues(string(from), string(to)).Inc()
	p.state.Reset()
	p.state.WithLabelValues(string(to)).Set(1)
}

// Override counts one override decision.
func (p *PrometheusRecorder) Override(granted bool) {
	result := "denied"
	if granted {
		result = "granted"
	}
	p.overrides.WithLabelValues(result).Inc()
}

// ShieldActive records whether the shield is up.
func (p *PrometheusRecorder) ShieldActive(active bool) {
	if active {
		p.shield.Set(1)
	} else {
		p.shield.Set(0)
	}
}

// WriteTextfile writes the registry in text exposition format.
// An empty path disables the export.
func (p *PrometheusRecorder) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prom.WriteToTextfile(path, p.registry); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return nil
}
