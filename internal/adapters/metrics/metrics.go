// Package metrics exposes Prometheus collectors for the ledger, keepers and
// the upkeep registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/alejandrodnm/blitzrace/internal/domain"
	"github.com/alejandrodnm/blitzrace/internal/ports"
)

// Metrics implements ports.CallRecorder and ports.KeeperRecorder.
type Metrics struct {
	calls     *prometheus.CounterVec
	submits   *prometheus.CounterVec
	dropped   prometheus.Counter
	ledgerSeq prometheus.Gauge
	roundID   prometheus.Gauge
	escrow    prometheus.Gauge
	treasury  prometheus.Gauge
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blitz_ledger_calls_total",
			Help: "calls applied by the ledger, by op and outcome",
		}, []string{"op", "result"}),
		submits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blitz_keeper_submits_total",
			Help: "transitions submitted by keepers, by keeper, op and outcome",
		}, []string{"keeper", "op", "result"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blitz_event_subscribers_dropped_total",
			Help: "event subscribers disconnected for falling behind",
		}),
		ledgerSeq: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "blitz_ledger_seq",
			Help: "sequence number of the last committed call",
		}),
		roundID: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "blitz_round_id",
			Help: "id of the current round",
		}),
		escrow: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "blitz_escrow",
			Help: "value held for unpaid bets",
		}),
		treasury: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "blitz_treasury",
			Help: "value retained from pools without winners",
		}),
	}
	reg.MustRegister(m.calls, m.submits, m.dropped, m.ledgerSeq, m.roundID, m.escrow, m.treasury)
	return m
}

// result labels an outcome by error kind.
func result(err error) string {
	if err == nil {
		return "ok"
	}
	return domain.KindOf(err).String()
}

func (m *Metrics) ObserveCall(op domain.Op, err error) {
	m.calls.WithLabelValues(string(op), result(err)).Inc()
}

func (m *Metrics) ObserveSubscriberDropped() { m.dropped.Inc() }

func (m *Metrics) ObserveSubmit(keeper string, op domain.Op, err error) {
	m.submits.WithLabelValues(keeper, string(op), result(err)).Inc()
}

// SetLedger records the latest ledger totals.
func (m *Metrics) SetLedger(seq, roundID uint64, escrow, treasury float64) {
	m.ledgerSeq.Set(float64(seq))
	m.roundID.Set(float64(roundID))
	m.escrow.Set(escrow)
	m.treasury.Set(treasury)
}

var (
	_ ports.CallRecorder   = (*Metrics)(nil)
	_ ports.KeeperRecorder = (*Metrics)(nil)
)
