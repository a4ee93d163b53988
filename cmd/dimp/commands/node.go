package commands

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/TheusHen/dimp/dimp"
	"github.com/TheusHen/dimp/dimp/directory"
	"github.com/TheusHen/dimp/dimp/keycache"
	"github.com/TheusHen/dimp/dimp/pipeline"
	"github.com/TheusHen/dimp/dimp/ratelimit"
	"github.com/TheusHen/dimp/dimp/session"
	"github.com/TheusHen/dimp/dimp/transport/quic"
)

// newMessenger wires the pipeline, the badger directory and the transport
// from the loaded config.
func newMessenger(local session.Local, reg prometheus.Registerer) (*dimp.Messenger, error) {
	var metrics *pipeline.Metrics
	if reg != nil {
		var err error
		if metrics, err = pipeline.NewMetrics(reg); err != nil {
			return nil, err
		}
	}
	metas := directory.NewBarrack(store)
	p, err := pipeline.New(pipeline.Config{
		Metas:           metas,
		PrivateKeys:     store,
		Members:         store,
		Cache:           keycache.New(keycache.WithStore(store)),
		CipherAlgorithm: cfg.CipherAlgorithm,
		AttachMeta:      cfg.AttachMeta,
		Logger:          logger,
		Metrics:         metrics,
	})
	if err != nil {
		return nil, err
	}
	return dimp.NewMessenger(dimp.Config{
		Local:            local,
		Pipeline:         p,
		Metas:            metas,
		Limiter:          ratelimit.New(cfg.RateLimit.RPS, cfg.RateLimit.Burst, cfg.RateLimit.IdleTTL),
		Compression:      cfg.Compression,
		HandshakeTimeout: cfg.HandshakeTimeout,
		Transport:        quic.Options{HandshakeTimeout: cfg.HandshakeTimeout},
		Logger:           logger,
	})
}
