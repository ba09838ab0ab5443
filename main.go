package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gamehub/server/internal/clock"
	"gamehub/server/internal/config"
	"gamehub/server/internal/dispatch"
	"gamehub/server/internal/game"
	"gamehub/server/internal/handlers"
	"gamehub/server/internal/httpapi"
	"gamehub/server/internal/metrics"
	"gamehub/server/internal/sched"
	"gamehub/server/internal/store"
	"gamehub/server/internal/transport"
)

// Version is injected at build time with -ldflags.
var Version = "0.1.0-dev"

// roomIdleGrace is how long an empty waiting room survives before the
// cleanup pass collects it.
const roomIdleGrace = 5 * time.Minute

func main() {
	os.Exit(run())
}

func run() int {
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()
	if *showVersion {
		fmt.Println(Version)
		return 0
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "configuration error:", err)
		return 1
	}

	level := slog.LevelInfo
	switch cfg.Server.DebugLevel {
	case 0:
		level = slog.LevelWarn
	case 2, 3:
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.Server.DebugLevel >= 3,
	})))

	slog.Info("starting gamehub server",
		"version", Version,
		"reliable_port", cfg.Server.ReliablePort,
		"datagram_port", cfg.Server.DatagramPort,
		"max_players", cfg.Server.MaxPlayers)

	st, err := store.Open(store.Options{
		DataDir:       cfg.Store.DataDir,
		EncryptionKey: cfg.Store.EncryptionKey,
	})
	if err != nil {
		slog.Error("open store", "err", err)
		return 1
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("close store", "err", err)
		}
	}()

	bootCtx, bootCancel := context.WithTimeout(context.Background(), 10*time.Second)
	bans, err := store.LoadBans(bootCtx, st)
	bootCancel()
	if err != nil {
		slog.Error("reload bans", "err", err)
		return 1
	}

	clk := clock.New()
	met := metrics.New()
	bus := game.NewEventBus()
	lobby := game.NewLobby(clk, bus, cfg.Audio.MinDist, cfg.Audio.MaxDist)

	bus.Subscribe(func(ev game.Event) {
		slog.Debug("lobby event", "kind", string(ev.Kind), "room_id", ev.RoomID, "player_id", ev.PlayerID, "detail", ev.Detail)
		switch ev.Kind {
		case game.EventRoomCreated, game.EventRoomDestroyed:
			met.RoomsActive.Set(float64(len(lobby.ListRooms())))
		}
	})

	scheduler := sched.New(clk, cfg.Scheduler.Workers)
	scheduler.OnRun(func(name string, err error) {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		met.SchedulerRuns.WithLabelValues(outcome).Inc()
	})
	scheduler.Schedule(&sched.Event{
		Name:       "room_cleanup",
		Priority:   sched.Low,
		Recurrence: sched.EveryMinutes(1),
		Coalesce:   true,
		Action: func(ctx context.Context) error {
			if n := lobby.CleanupRooms(roomIdleGrace); n > 0 {
				slog.Info("room cleanup", "destroyed", n)
			}
			return nil
		},
	})
	if cfg.Scheduler.AutoStart {
		scheduler.Start()
	}

	disp := dispatch.New(0, met)
	handlers.RegisterAll(disp, &handlers.API{
		Lobby: lobby,
		Clock: clk,
		Bans:  bans,
	})
	disp.Start()

	ts := transport.New(transport.Config{
		ReliableAddr: fmt.Sprintf(":%d", cfg.Server.ReliablePort),
		DatagramAddr: fmt.Sprintf(":%d", cfg.Server.DatagramPort),
		MaxPlayers:   cfg.Server.MaxPlayers,
		IdleTimeout:  cfg.Server.IdleTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		DrainTimeout: cfg.Server.DrainTimeout,
	}, clk, disp, met)
	ts.OnConnect(func(s *transport.Session) {
		lobby.Attach(s.ID(), s)
	})
	ts.OnDisconnect(func(sessionID string) {
		lobby.Detach(sessionID)
		lobby.RemovePlayer(sessionID)
	})
	if err := ts.Start(); err != nil {
		slog.Error("start transport", "err", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go metrics.RunStatsLog(ctx, 30*time.Second, func() metrics.Snapshot {
		return metrics.Snapshot{
			Sessions: ts.SessionCount(),
			Players:  lobby.PlayerCount(),
			Rooms:    len(lobby.ListRooms()),
		}
	})

	admin := httpapi.New(lobby, ts, bans, st, clk, met, cfg.Admin.Token)
	adminDone := make(chan struct{})
	go func() {
		admin.Run(ctx, cfg.Admin.Addr)
		close(adminDone)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutting down", "signal", sig.String())
	cancel()

	drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.Server.DrainTimeout+time.Second)
	ts.Shutdown(drainCtx)
	drainCancel()

	scheduler.Stop()
	disp.Stop()
	<-adminDone

	flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer flushCancel()
	if err := st.Flush(flushCtx); err != nil {
		slog.Error("flush store", "err", err)
		return 1
	}
	slog.Info("server stopped")
	return 0
}
