package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the pool engine.
type Metrics struct {
	// --- Engine operations ---
	ActionsProcessed *prometheus.CounterVec
	ActionsRejected  *prometheus.CounterVec
	ActionDuration   *prometheus.HistogramVec
	EngineSequence   prometheus.Gauge

	// --- Book state ---
	BalanceLong          prometheus.Gauge
	BalanceVault         prometheus.Gauge
	TotalExpo            prometheus.Gauge
	HighestPopulatedTick prometheus.Gauge
	StableTotalShares    prometheus.Gauge

	// --- Funding ---
	FundingApplied    prometheus.Counter
	FundingPerDay     prometheus.Gauge
	FundingEMA        prometheus.Gauge

	// --- Liquidation ---
	TicksLiquidated     prometheus.Counter
	PositionsLiquidated prometheus.Counter
	SweepIterations     prometheus.Histogram

	// --- Pending queue ---
	PendingActions        prometheus.Gauge
	StaleActionsEvicted   prometheus.Counter
	BlockedActionsRemoved *prometheus.CounterVec

	// --- Rebalancer ---
	RebalancerTriggers prometheus.Counter

	// --- Channels & backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ChannelUtilization  *prometheus.GaugeVec
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Persistence ---
	PersistEventsWritten prometheus.Counter
	PersistErrors        *prometheus.CounterVec
	PersistLastSequence  prometheus.Gauge
	SnapshotTaken        prometheus.Counter
	SnapshotDuration     prometheus.Histogram

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		ActionsProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tickvault_actions_processed_total",
			Help: "Engine operations completed",
		}, []string{"action"}),

		ActionsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tickvault_actions_rejected_total",
			Help: "Engine operations rejected",
		}, []string{"action", "reason"}),

		ActionDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tickvault_action_duration_seconds",
			Help:    "Time to apply a single engine operation",
			Buckets: latencyBuckets,
		}, []string{"action"}),

		EngineSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "tickvault_engine_sequence",
			Help: "Current event sequence number",
		}),

		BalanceLong: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "tickvault_balance_long",
			Help: "Long side collateral (float approximation)",
		}),

		BalanceVault: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "tickvault_balance_vault",
			Help: "Vault side collateral (float approximation)",
		}),

		TotalExpo: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "tickvault_total_expo",
			Help: "Summed leveraged exposure (float approximation)",
		}),

		HighestPopulatedTick: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "tickvault_highest_populated_tick",
			Help: "Current high-water mark of the tick book",
		}),

		StableTotalShares: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "tickvault_stable_total_shares",
			Help: "Stable-token share supply (float approximation)",
		}),

		FundingApplied: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tickvault_funding_applied_total",
			Help: "Funding/PnL applications to the balances",
		}),

		FundingPerDay: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "tickvault_funding_per_day",
			Help: "Last computed daily funding rate (float approximation)",
		}),

		FundingEMA: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "tickvault_funding_ema",
			Help: "Funding rate EMA (float approximation)",
		}),

		TicksLiquidated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tickvault_ticks_liquidated_total",
			Help: "Ticks cleared by liquidation sweeps",
		}),

		PositionsLiquidated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tickvault_positions_liquidated_total",
			Help: "Positions closed by liquidation sweeps",
		}),

		SweepIterations: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "tickvault_sweep_iterations",
			Help:    "Ticks visited per liquidation sweep",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 10},
		}),

		PendingActions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "tickvault_pending_actions",
			Help: "Actions awaiting validation",
		}),

		StaleActionsEvicted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tickvault_stale_actions_evicted_total",
			Help: "Stale open actions evicted opportunistically",
		}),

		BlockedActionsRemoved: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tickvault_blocked_actions_removed_total",
			Help: "Admin recoveries of blocked pending actions",
		}, []string{"cleanup"}),

		RebalancerTriggers: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tickvault_rebalancer_triggers_total",
			Help: "Imbalance corrections via the rebalancer",
		}),

		ChannelSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tickvault_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tickvault_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tickvault_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tickvault_publish_drops_total",
			Help: "Events dropped due to full publish channel",
		}),

		PersistBackpressure: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tickvault_persist_backpressure_total",
			Help: "Times the engine blocked on the persist channel",
		}),

		PersistEventsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tickvault_persist_events_written_total",
			Help: "Events written to Postgres",
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tickvault_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "tickvault_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		SnapshotTaken: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tickvault_snapshot_taken_total",
			Help: "State snapshots written",
		}),

		SnapshotDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "tickvault_snapshot_duration_seconds",
			Help:    "Snapshot creation time",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		}),

		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tickvault_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tickvault_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
