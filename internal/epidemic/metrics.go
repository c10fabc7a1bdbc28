package epidemic

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the engine's prometheus instruments. NewMetrics
// registers each counter with prometheus.DefaultRegisterer and ignores
// a registration error, so a second NewMetrics call still returns
// working counters but they are not the ones exported.
type Metrics struct {
	GossipRounds          prometheus.Counter
	ReconciliationRounds   prometheus.Counter
	TopologyRounds        prometheus.Counter
	ConflictsResolved      prometheus.Counter
	ProofHashFailures      prometheus.Counter
	NetworkErrors          prometheus.Counter
	PeersTrimmed           prometheus.Counter
	EntriesTransferredIn   prometheus.Counter
	EntriesTransferredOut  prometheus.Counter
}

// NewMetrics constructs the instrument set with a shared namespace,
// matching the counter-per-event shape rather than histograms since
// counts, not latencies, are the observable surface here.
func NewMetrics() *Metrics {
	f := promauto()
	return &Metrics{
		GossipRounds: f(prometheus.CounterOpts{
			Namespace: "sentrynode", Subsystem: "epidemic", Name: "gossip_rounds_total",
			Help: "Gossip push rounds completed.",
		}),
		ReconciliationRounds: f(prometheus.CounterOpts{
			Namespace: "sentrynode", Subsystem: "epidemic", Name: "reconciliation_rounds_total",
			Help: "Anti-entropy exchange rounds completed.",
		}),
		TopologyRounds: f(prometheus.CounterOpts{
			Namespace: "sentrynode", Subsystem: "epidemic", Name: "topology_rounds_total",
			Help: "Topology-maintenance passes completed.",
		}),
		ConflictsResolved: f(prometheus.CounterOpts{
			Namespace: "sentrynode", Subsystem: "epidemic", Name: "conflicts_resolved_total",
			Help: "Concurrent writes resolved via proof-hash tiebreak.",
		}),
		ProofHashFailures: f(prometheus.CounterOpts{
			Namespace: "sentrynode", Subsystem: "epidemic", Name: "proof_hash_failures_total",
			Help: "Incoming entries dropped for a proof-hash mismatch.",
		}),
		NetworkErrors: f(prometheus.CounterOpts{
			Namespace: "sentrynode", Subsystem: "epidemic", Name: "network_errors_total",
			Help: "Soft peer-unreachable errors absorbed by a background task.",
		}),
		PeersTrimmed: f(prometheus.CounterOpts{
			Namespace: "sentrynode", Subsystem: "epidemic", Name: "peers_trimmed_total",
			Help: "Peers removed by topology maintenance (expired or over the long-link cap).",
		}),
		EntriesTransferredIn: f(prometheus.CounterOpts{
			Namespace: "sentrynode", Subsystem: "epidemic", Name: "entries_transferred_in_total",
			Help: "Entries applied from a peer transfer.",
		}),
		EntriesTransferredOut: f(prometheus.CounterOpts{
			Namespace: "sentrynode", Subsystem: "epidemic", Name: "entries_transferred_out_total",
			Help: "Entries sent to a peer during anti-entropy or replication maintenance.",
		}),
	}
}

// promauto returns a helper that registers a counter against the
// default registerer and returns it; factored out so NewMetrics stays
// one expression per instrument.
func promauto() func(prometheus.CounterOpts) prometheus.Counter {
	return func(opts prometheus.CounterOpts) prometheus.Counter {
		c := prometheus.NewCounter(opts)
		_ = prometheus.Register(c)
		return c
	}
}
