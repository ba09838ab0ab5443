// Package metrics holds the process-wide prometheus instruments. They are
// registered on a dedicated registry so tests can run in parallel without
// duplicate-registration panics from the global default.
package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every instrument the server updates.
type Metrics struct {
	Registry *prometheus.Registry

	SessionsActive     prometheus.Gauge
	SessionsTotal      prometheus.Counter
	SessionsRefused    prometheus.Counter
	FramesIn           prometheus.Counter
	FramesOut          prometheus.Counter
	DatagramsIn        prometheus.Counter
	DatagramsDropped   prometheus.Counter
	Broadcasts         prometheus.Counter
	UnknownMessages    prometheus.Counter
	DecodeFailures     prometheus.Counter
	HandlerFailures    prometheus.Counter
	ProtocolViolations prometheus.Counter
	SchedulerRuns      *prometheus.CounterVec
	RoomsActive        prometheus.Gauge
}

// New builds the instrument set on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gamehub_sessions_active", Help: "Currently connected sessions.",
		}),
		SessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gamehub_sessions_total", Help: "Sessions accepted since start.",
		}),
		SessionsRefused: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gamehub_sessions_refused_total", Help: "Sessions refused at admission.",
		}),
		FramesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gamehub_frames_in_total", Help: "Reliable frames received.",
		}),
		FramesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gamehub_frames_out_total", Help: "Reliable frames sent.",
		}),
		DatagramsIn: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gamehub_datagrams_in_total", Help: "Datagrams received.",
		}),
		DatagramsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gamehub_datagrams_dropped_total", Help: "Datagrams dropped (unknown session, oversized, or malformed).",
		}),
		Broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gamehub_broadcasts_total", Help: "Room broadcasts performed.",
		}),
		UnknownMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gamehub_unknown_messages_total", Help: "Frames with an unregistered message id.",
		}),
		DecodeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gamehub_decode_failures_total", Help: "Message bodies that failed to decode.",
		}),
		HandlerFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gamehub_handler_failures_total", Help: "Handler errors and recovered panics.",
		}),
		ProtocolViolations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gamehub_protocol_violations_total", Help: "Protocol violations observed on sessions.",
		}),
		SchedulerRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gamehub_scheduler_runs_total", Help: "Scheduler executions by outcome.",
		}, []string{"outcome"}),
		RoomsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gamehub_rooms_active", Help: "Rooms currently registered.",
		}),
	}
	reg.MustRegister(
		m.SessionsActive, m.SessionsTotal, m.SessionsRefused,
		m.FramesIn, m.FramesOut,
		m.DatagramsIn, m.DatagramsDropped,
		m.Broadcasts,
		m.UnknownMessages, m.DecodeFailures, m.HandlerFailures, m.ProtocolViolations,
		m.SchedulerRuns, m.RoomsActive,
	)
	return m
}

// Snapshot is the subset of live state the periodic stats line reports.
type Snapshot struct {
	Sessions int
	Players  int
	Rooms    int
}

// RunStatsLog logs a stats line every interval until ctx is canceled. Quiet
// when the server is empty.
func RunStatsLog(ctx context.Context, interval time.Duration, snap func() Snapshot) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := snap()
			if s.Sessions == 0 && s.Rooms == 0 {
				continue
			}
			slog.Info("stats", "sessions", s.Sessions, "players", s.Players, "rooms", s.Rooms)
		}
	}
}
