package bridge

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/victorjacobs/go-brink/brink"
)

type metrics struct {
	registry *prometheus.Registry

	pollSuccess     prometheus.Gauge
	lastSuccess     prometheus.Gauge
	ventilationStep *prometheus.GaugeVec
	mode            *prometheus.GaugeVec
	commands        *prometheus.CounterVec
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		pollSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "brink_poll_success",
			Help: "Last poll of the Brink portal succeeded (1=ok, 0=error)",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "brink_last_success_timestamp_seconds",
			Help: "Last successful poll (epoch seconds)",
		}),
		ventilationStep: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "brink_ventilation_level",
			Help: "Current ventilation level value",
		}, []string{"system_id", "name"}),
		mode: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "brink_mode",
			Help: "Current ventilation mode value",
		}, []string{"system_id", "name"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "brink_commands_total",
			Help: "Write commands sent to the Brink portal",
		}, []string{"kind", "result"}),
	}

	m.registry.MustRegister(m.pollSuccess, m.lastSuccess, m.ventilationStep, m.mode, m.commands)

	return m
}

func (m *metrics) pollSucceeded(now time.Time) {
	m.pollSuccess.Set(1)
	m.lastSuccess.Set(float64(now.Unix()))
}

func (m *metrics) pollFailed() {
	m.pollSuccess.Set(0)
}

func (m *metrics) observe(s brink.System, descriptions *brink.Descriptions) {
	labels := prometheus.Labels{"system_id": strconv.Itoa(s.SystemID), "name": s.Name}

	if v, err := strconv.ParseFloat(descriptions.Ventilation.Value, 64); err == nil {
		m.ventilationStep.With(labels).Set(v)
	}
	if v, err := strconv.ParseFloat(descriptions.Mode.Value, 64); err == nil {
		m.mode.With(labels).Set(v)
	}
}

func (m *metrics) command(kind string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	m.commands.WithLabelValues(kind, result).Inc()
}
