// Package httpapi is the operator surface: an echo server carrying health,
// state inspection, moderation actions, and the prometheus endpoint. It runs
// on its own TCP port, away from game traffic.
package httpapi

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gamehub/server/internal/clock"
	"gamehub/server/internal/game"
	"gamehub/server/internal/metrics"
	"gamehub/server/internal/protocol"
	"gamehub/server/internal/store"
)

// SessionController is the slice of the transport the admin API drives.
type SessionController interface {
	Kick(sessionID, reason string) bool
	Broadcast(msgID string, body []byte) int
	SessionCount() int
}

// auditTable holds one row per admin action, authorized or not.
const auditTable = "audit"

type auditRow struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	Target     string    `json:"target,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	Authorized bool      `json:"authorized"`
	Remote     string    `json:"remote"`
	TS         time.Time `json:"ts"`
}

// API is the admin HTTP server.
type API struct {
	lobby    *game.Lobby
	sessions SessionController
	bans     *store.Bans
	st       store.Store
	clk      *clock.Clock
	met      *metrics.Metrics
	token    string
	started  time.Time

	echo *echo.Echo
}

// New constructs the server and registers all routes. An empty token
// disables every /api route.
func New(lobby *game.Lobby, sessions SessionController, bans *store.Bans, st store.Store, clk *clock.Clock, met *metrics.Metrics, token string) *API {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod: true,
		LogURI:    true,
		LogStatus: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			slog.Debug("admin request", "method", v.Method, "uri", v.URI, "status", v.Status)
			return nil
		},
	}))
	e.Use(middleware.Recover())

	a := &API{
		lobby:    lobby,
		sessions: sessions,
		bans:     bans,
		st:       st,
		clk:      clk,
		met:      met,
		token:    token,
		started:  time.Now(),
		echo:     e,
	}
	a.registerRoutes()
	return a
}

func (a *API) registerRoutes() {
	a.echo.GET("/health", a.handleHealth)
	a.echo.GET("/metrics", echo.WrapHandler(
		promhttp.HandlerFor(a.met.Registry, promhttp.HandlerOpts{})))

	api := a.echo.Group("/api", a.requireToken)
	api.GET("/state", a.handleState)
	api.GET("/rooms", a.handleRooms)
	api.POST("/rooms/:id/close", a.handleCloseRoom)
	api.POST("/players/:id/kick", a.handleKick)
	api.GET("/bans", a.handleListBans)
	api.POST("/bans", a.handleBan)
	api.DELETE("/bans/:id", a.handleUnban)
	api.POST("/players/:id/mute", a.handleMute)
	api.DELETE("/players/:id/mute", a.handleUnmute)
	api.POST("/broadcast", a.handleBroadcast)
}

// requireToken authorizes /api requests against the configured bearer
// token. Failures are audited.
func (a *API) requireToken(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if a.token == "" {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "admin api disabled: no token configured")
		}
		got := strings.TrimPrefix(c.Request().Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(got), []byte(a.token)) != 1 {
			a.audit(c, "auth", "", "bad or missing token", false)
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
		}
		return next(c)
	}
}

// audit persists one admin-action row. Failures are logged, never fatal to
// the request.
func (a *API) audit(c echo.Context, action, target, detail string, authorized bool) {
	row := auditRow{
		ID:         uuid.NewString(),
		Action:     action,
		Target:     target,
		Detail:     detail,
		Authorized: authorized,
		Remote:     c.RealIP(),
		TS:         a.clk.Now(),
	}
	if err := a.st.Create(c.Request().Context(), auditTable, "id", row.ID, row); err != nil {
		slog.Warn("audit write failed", "action", action, "err", err)
	}
}

// Run starts the echo server on addr and blocks until ctx is canceled.
func (a *API) Run(ctx context.Context, addr string) {
	go func() {
		if err := a.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("admin api server error", "err", err)
		}
	}()
	<-ctx.Done()
	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.echo.Shutdown(shutCtx); err != nil {
		slog.Warn("admin api shutdown", "err", err)
	}
}

// ServeHTTP exposes the router for httptest.
func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.echo.ServeHTTP(w, r)
}

// HealthResponse is the payload for GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
	Rooms    int    `json:"rooms"`
}

func (a *API) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:   "ok",
		Sessions: a.sessions.SessionCount(),
		Rooms:    len(a.lobby.ListRooms()),
	})
}

// StateResponse is the payload for GET /api/state.
type StateResponse struct {
	Sessions      int     `json:"sessions"`
	Players       int     `json:"players"`
	Rooms         int     `json:"rooms"`
	Bans          int     `json:"bans"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	ServerTime    int64   `json:"server_time"`
}

func (a *API) handleState(c echo.Context) error {
	return c.JSON(http.StatusOK, StateResponse{
		Sessions:      a.sessions.SessionCount(),
		Players:       a.lobby.PlayerCount(),
		Rooms:         len(a.lobby.ListRooms()),
		Bans:          len(a.bans.List()),
		UptimeSeconds: time.Since(a.started).Seconds(),
		ServerTime:    a.clk.NowUnixMilli(),
	})
}

func (a *API) handleRooms(c echo.Context) error {
	rooms := a.lobby.ListRooms()
	resp := make([]protocol.RoomInfo, 0, len(rooms))
	for _, r := range rooms {
		resp = append(resp, a.lobby.RoomInfo(r))
	}
	return c.JSON(http.StatusOK, resp)
}

func (a *API) handleCloseRoom(c echo.Context) error {
	id := c.Param("id")
	if !a.lobby.DestroyRoom(id, "closed by operator") {
		return echo.NewHTTPError(http.StatusNotFound, "room not found")
	}
	a.audit(c, "close_room", id, "", true)
	return c.NoContent(http.StatusNoContent)
}

// KickRequest is the body for POST /api/players/:id/kick.
type KickRequest struct {
	Reason string `json:"reason"`
}

func (a *API) handleKick(c echo.Context) error {
	id := c.Param("id")
	var req KickRequest
	_ = c.Bind(&req)
	if req.Reason == "" {
		req.Reason = "kicked by operator"
	}

	_, hadPlayer := a.lobby.GetPlayer(id)
	a.lobby.RemovePlayer(id)
	kicked := a.sessions.Kick(id, req.Reason)
	if !hadPlayer && !kicked {
		return echo.NewHTTPError(http.StatusNotFound, "player not found")
	}
	a.lobby.Events().Publish(game.Event{
		Kind: game.EventPlayerKicked, PlayerID: id, Detail: req.Reason, TS: a.clk.Now(),
	})
	a.audit(c, "kick", id, req.Reason, true)
	return c.NoContent(http.StatusNoContent)
}

// BanRequest is the body for POST /api/bans.
type BanRequest struct {
	PlayerID        string `json:"player_id"`
	Reason          string `json:"reason"`
	DurationSeconds int64  `json:"duration_seconds,omitempty"` // 0 = permanent
}

func (a *API) handleBan(c echo.Context) error {
	var req BanRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.PlayerID) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "player_id must not be empty")
	}
	ban := store.Ban{
		PlayerID: req.PlayerID,
		Reason:   req.Reason,
		Issuer:   c.RealIP(),
		IssuedAt: a.clk.Now(),
	}
	if req.DurationSeconds > 0 {
		until := a.clk.Now().Add(time.Duration(req.DurationSeconds) * time.Second)
		ban.Until = &until
	}
	if err := a.bans.Add(c.Request().Context(), ban); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	// A connected banned player is evicted immediately.
	a.lobby.RemovePlayer(req.PlayerID)
	a.sessions.Kick(req.PlayerID, "banned: "+req.Reason)
	a.lobby.Events().Publish(game.Event{
		Kind: game.EventPlayerBanned, PlayerID: req.PlayerID, Detail: req.Reason, TS: a.clk.Now(),
	})
	a.audit(c, "ban", req.PlayerID, req.Reason, true)
	return c.JSON(http.StatusCreated, ban)
}

func (a *API) handleListBans(c echo.Context) error {
	bans := a.bans.List()
	if bans == nil {
		bans = []store.Ban{}
	}
	return c.JSON(http.StatusOK, bans)
}

func (a *API) handleUnban(c echo.Context) error {
	id := c.Param("id")
	if _, ok := a.bans.Get(id); !ok {
		return echo.NewHTTPError(http.StatusNotFound, "ban not found")
	}
	if err := a.bans.Remove(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	a.audit(c, "unban", id, "", true)
	return c.NoContent(http.StatusNoContent)
}

func (a *API) handleMute(c echo.Context) error {
	return a.setMuted(c, true, "mute")
}

func (a *API) handleUnmute(c echo.Context) error {
	return a.setMuted(c, false, "unmute")
}

func (a *API) setMuted(c echo.Context, muted bool, action string) error {
	id := c.Param("id")
	p, ok := a.lobby.GetPlayer(id)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "player not found")
	}
	p.SetMuted(muted)
	if roomID := p.Room(); roomID != "" {
		v := p.Voice()
		_ = a.lobby.BroadcastToRoom(roomID, protocol.MsgVoiceStateBcast, protocol.VoiceStateBroadcast{
			PlayerID: id,
			Muted:    v.Muted,
			Deafened: v.Deafened,
			Talking:  v.Talking,
		}, game.Reliable, "")
	}
	a.audit(c, action, id, "", true)
	return c.NoContent(http.StatusNoContent)
}

// BroadcastRequest is the body for POST /api/broadcast.
type BroadcastRequest struct {
	Message string `json:"message"`
}

// BroadcastResponse reports how many sessions the notice reached.
type BroadcastResponse struct {
	Sent int `json:"sent"`
}

func (a *API) handleBroadcast(c echo.Context) error {
	var req BroadcastRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Message) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message must not be empty")
	}
	body, err := protocol.EncodeBody(protocol.ServerNotice{
		Message: req.Message,
		TS:      a.clk.NowUnixMilli(),
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	sent := a.sessions.Broadcast(protocol.MsgServerNotice, body)
	a.met.Broadcasts.Inc()
	a.audit(c, "broadcast", "", req.Message, true)
	return c.JSON(http.StatusOK, BroadcastResponse{Sent: sent})
}
