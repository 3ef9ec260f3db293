// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package relay

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "txrelay"

// relayMetrics holds the prometheus collectors updated by the relayer.
type relayMetrics struct {
	outcomes *prometheus.CounterVec
	fanout   prometheus.Histogram
	bans     prometheus.Counter
}

// newRelayMetrics creates the relay collectors and registers them with reg.
// A nil reg leaves them unregistered.
func newRelayMetrics(reg prometheus.Registerer) (*relayMetrics, error) {
	m := &relayMetrics{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "relay",
			Name:      "transactions_total",
			Help:      "Relayed transactions processed, by outcome.",
		}, []string{"outcome"}),
		fanout: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "relay",
			Name:      "fanout_peers",
			Help:      "Number of peers an accepted transaction was relayed to.",
			Buckets:   []float64{0, 1, 2, 4, 8, 16, 32, 64, 128},
		}),
		bans: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "relay",
			Name:      "peer_bans_total",
			Help:      "Peers banned for relaying bad transactions.",
		}),
	}

	// Pre-create every outcome series so they are exported at zero.
	for o := Outcome(0); o < numOutcomes; o++ {
		m.outcomes.WithLabelValues(o.String())
	}

	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.outcomes, m.fanout, m.bans} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}
