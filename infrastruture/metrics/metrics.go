// Package metrics exposes engine activity as prometheus collectors.
package metrics

import (
	"time"

	"github.com/beka-birhanu/xplode-api/game"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics implements i.Metrics.
type Metrics struct {
	activeGames        prometheus.Gauge
	activeConnections  prometheus.Gauge
	gamesCompleted     prometheus.Counter
	gamesAbandoned     prometheus.Counter
	gameDuration       prometheus.Histogram
	settlements        *prometheus.CounterVec
	settlementDuration prometheus.Histogram
	rewards            *prometheus.CounterVec
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		activeGames: f.NewGauge(prometheus.GaugeOpts{
			Name: "active_games",
			Help: "Number of live matches",
		}),
		activeConnections: f.NewGauge(prometheus.GaugeOpts{
			Name: "active_connections",
			Help: "Number of open player connections",
		}),
		gamesCompleted: f.NewCounter(prometheus.CounterOpts{
			Name: "games_completed_total",
			Help: "Rounds that finished with a winner",
		}),
		gamesAbandoned: f.NewCounter(prometheus.CounterOpts{
			Name: "games_abandoned_total",
			Help: "Matches that ended aborted",
		}),
		gameDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "game_duration_seconds",
			Help:    "Time from match creation to the end of a round",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		settlements: f.NewCounterVec(prometheus.CounterOpts{
			Name: "settlements_total",
			Help: "Settlement submissions by final status",
		}, []string{"status"}),
		settlementDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "settlement_processing_seconds",
			Help:    "Time spent submitting a settlement",
			Buckets: prometheus.DefBuckets,
		}),
		rewards: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rewards_distributed_total",
			Help: "Payouts to winners by currency",
		}, []string{"currency"}),
	}
}

func (m *Metrics) SetActiveMatches(n int) { m.activeGames.Set(float64(n)) }

func (m *Metrics) MatchEnded(terminal game.State, d time.Duration) {
	switch terminal {
	case game.StateFinished:
		m.gamesCompleted.Inc()
	case game.StateAborted:
		m.gamesAbandoned.Inc()
	}
	m.gameDuration.Observe(d.Seconds())
}

func (m *Metrics) ConnectionOpened() { m.activeConnections.Inc() }

func (m *Metrics) ConnectionClosed() { m.activeConnections.Dec() }

func (m *Metrics) SettlementProcessed(status game.SettlementStatus, d time.Duration) {
	m.settlements.WithLabelValues(string(status)).Inc()
	m.settlementDuration.Observe(d.Seconds())
}

func (m *Metrics) RewardsDistributed(currency string, amount float64) {
	m.rewards.WithLabelValues(currency).Add(amount)
}
