package obs

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	SubmittedTotal *prometheus.CounterVec // result=queued|duplicate|glitched
	OpTotal        *prometheus.CounterVec // op=send|accept|decline|fetch, result=success|error|gone

	OpLatencyMS *prometheus.HistogramVec // op=send|accept|decline|fetch

	RetryTotal           *prometheus.CounterVec // op, reason=transient|session
	SessionRecoveryTotal *prometheus.CounterVec // result=success|fail
	ConfirmationTotal    *prometheus.CounterVec // result=success|fail

	ItemsReserved prometheus.Gauge
	QueueDepth    prometheus.Gauge
	PrunedTotal   prometheus.Counter
}

// NewMetrics registers the offer metrics on reg; nil means the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		SubmittedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "offer_submitted_total",
				Help: "New offers seen by the desk, by result",
			},
			[]string{"result"},
		),
		OpTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "offer_op_total",
				Help: "Completed platform operations by op and result",
			},
			[]string{"op", "result"},
		),
		OpLatencyMS: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "offer_op_latency_ms",
				Help:    "Latency of platform operations including retries (ms)",
				Buckets: prometheus.ExponentialBuckets(1, 2, 16), // 1ms .. ~32s
			},
			[]string{"op"},
		),
		RetryTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "offer_retry_total",
				Help: "Retries scheduled by op and reason",
			},
			[]string{"op", "reason"},
		),
		SessionRecoveryTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "offer_session_recovery_total",
				Help: "Session recoveries triggered by expired sessions",
			},
			[]string{"result"},
		),
		ConfirmationTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "offer_confirmation_total",
				Help: "Mobile confirmations requested by result",
			},
			[]string{"result"},
		),
		ItemsReserved: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "offer_items_reserved",
			Help: "Number of our items currently reserved by in-flight offers",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "offer_queue_depth",
			Help: "Offers waiting in the processing queue",
		}),
		PrunedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "offer_poll_pruned_total",
			Help: "Poll data entries pruned after the retention window",
		}),
	}

	reg.MustRegister(
		m.SubmittedTotal,
		m.OpTotal,
		m.OpLatencyMS,
		m.RetryTotal,
		m.SessionRecoveryTotal,
		m.ConfirmationTotal,
		m.ItemsReserved,
		m.QueueDepth,
		m.PrunedTotal,
	)

	return m
}
