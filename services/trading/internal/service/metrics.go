package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	SettlementsTotal   *prometheus.CounterVec
	SettlementDuration *prometheus.HistogramVec
	WalletMutations    *prometheus.CounterVec
	TransfersTotal     *prometheus.CounterVec
	WithdrawalsTotal   *prometheus.CounterVec
	PaymentsTotal      *prometheus.CounterVec
	PositionsClosed    prometheus.Counter
	Conflicts          *prometheus.CounterVec
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		SettlementsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trading_settlements_total",
				Help: "Total orders processed by outcome.",
			},
			[]string{"order_type", "status"},
		),
		SettlementDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "trading_settlement_duration_seconds",
				Help:    "Order settlement duration in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"order_type"},
		),
		WalletMutations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trading_wallet_mutations_total",
				Help: "Total wallet balance mutations by journal type.",
			},
			[]string{"type"},
		),
		TransfersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trading_wallet_transfers_total",
				Help: "Total wallet to wallet transfers.",
			},
			[]string{"status"},
		),
		WithdrawalsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trading_withdrawals_total",
				Help: "Total withdrawal transitions.",
			},
			[]string{"status"},
		),
		PaymentsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trading_payments_total",
				Help: "Total payment order transitions.",
			},
			[]string{"status"},
		),
		PositionsClosed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "trading_positions_closed_total",
				Help: "Total positions deleted after liquidation or dust.",
			},
		),
		Conflicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trading_concurrency_conflicts_total",
				Help: "Total operations aborted on lock or version conflicts.",
			},
			[]string{"operation"},
		),
	}

	registry.MustRegister(
		m.SettlementsTotal,
		m.SettlementDuration,
		m.WalletMutations,
		m.TransfersTotal,
		m.WithdrawalsTotal,
		m.PaymentsTotal,
		m.PositionsClosed,
		m.Conflicts,
	)
	return m
}

func (m *Metrics) ObserveSettlement(orderType, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.SettlementsTotal.WithLabelValues(orderType, status).Inc()
	m.SettlementDuration.WithLabelValues(orderType).Observe(duration.Seconds())
}

func (m *Metrics) IncWalletMutation(txType string) {
	if m == nil {
		return
	}
	m.WalletMutations.WithLabelValues(txType).Inc()
}

func (m *Metrics) IncTransfer(status string) {
	if m == nil {
		return
	}
	m.TransfersTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) IncWithdrawal(status string) {
	if m == nil {
		return
	}
	m.WithdrawalsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) IncPayment(status string) {
	if m == nil {
		return
	}
	m.PaymentsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) IncPositionClosed() {
	if m == nil {
		return
	}
	m.PositionsClosed.Inc()
}

func (m *Metrics) observeError(operation string, err error) {
	if m == nil || err == nil {
		return
	}
	if IsRetryable(err) {
		m.Conflicts.WithLabelValues(operation).Inc()
	}
}
