package pipeline

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts pipeline transitions and key cache outcomes. A nil *Metrics
// records nothing.
type Metrics struct {
	messages *prometheus.CounterVec
	keys     *prometheus.CounterVec
}

// NewMetrics registers the pipeline collectors on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dimp",
			Subsystem: "pipeline",
			Name:      "messages_total",
			Help:      "Messages processed per stage and outcome.",
		}, []string{"stage", "outcome"}),
		keys: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dimp",
			Subsystem: "keycache",
			Name:      "lookups_total",
			Help:      "Symmetric key lookups by result (reused, created, installed).",
		}, []string{"result"}),
	}
	for _, c := range []prometheus.Collector{m.messages, m.keys} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observe(stage Stage, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	switch Category(err) {
	case nil:
		if err != nil {
			outcome = "error"
		}
	case ErrIdentity:
		outcome = "identity_error"
	case ErrKey:
		outcome = "key_error"
	case ErrCrypto:
		outcome = "crypto_error"
	case ErrCodec:
		outcome = "codec_error"
	}
	m.messages.WithLabelValues(string(stage), outcome).Inc()
}

func (m *Metrics) key(result string) {
	if m == nil {
		return
	}
	m.keys.WithLabelValues(result).Inc()
}
