package monitor

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "rosebud_bot"

// Metrics exports bot activity to Prometheus. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	mentions       *prometheus.CounterVec
	generations    *prometheus.CounterVec
	composeTiers   *prometheus.CounterVec
	cycles         *prometheus.CounterVec
	providerStatus *prometheus.GaugeVec
	ledgerErrors   prometheus.Counter
}

// NewMetrics registers the bot collectors with reg (DefaultRegisterer when nil)
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		mentions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "mentions_total",
			Help:      "Mentions processed, by outcome.",
		}, []string{"outcome"}),
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "prompt_generations_total",
			Help:      "Generated prompts, by fallback tier.",
		}, []string{"tier"}),
		composeTiers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "composed_replies_total",
			Help:      "Composed replies, by formatting tier.",
		}, []string{"tier"}),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "poll_cycles_total",
			Help:      "Poll cycles, by result.",
		}, []string{"result"}),
		providerStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "ai_provider_throttled",
			Help:      "1 when the AI provider is throttled, 0.5 on warning, 0 otherwise.",
		}, []string{"provider"}),
		ledgerErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "ledger_write_errors_total",
			Help:      "Ledger writes that failed and were dropped.",
		}),
	}

	collectors := []prometheus.Collector{m.mentions, m.generations, m.composeTiers, m.cycles, m.providerStatus, m.ledgerErrors}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register bot metric: %w", err)
		}
	}

	return m, nil
}

// RecordMention counts one processed mention
func (m *Metrics) RecordMention(outcome string) {
	if m == nil {
		return
	}
	m.mentions.WithLabelValues(outcome).Inc()
}

// RecordGeneration counts one generated prompt
func (m *Metrics) RecordGeneration(tier string) {
	if m == nil {
		return
	}
	m.generations.WithLabelValues(tier).Inc()
}

// RecordCompose counts one composed reply
func (m *Metrics) RecordCompose(tier string) {
	if m == nil {
		return
	}
	m.composeTiers.WithLabelValues(tier).Inc()
}

// RecordCycle counts one poll cycle
func (m *Metrics) RecordCycle(result string) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(result).Inc()
}

// RecordLedgerError counts one dropped ledger write
func (m *Metrics) RecordLedgerError() {
	if m == nil {
		return
	}
	m.ledgerErrors.Inc()
}

// SetProviderStatus publishes a rate limit status; usable as a StatusCallback
func (m *Metrics) SetProviderStatus(providerID, status string) {
	if m == nil {
		return
	}
	var value float64
	switch status {
	case StatusThrottled:
		value = 1
	case StatusWarning:
		value = 0.5
	}
	m.providerStatus.WithLabelValues(providerID).Set(value)
}
