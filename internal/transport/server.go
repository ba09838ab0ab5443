// Package transport owns the two listeners: a TCP accept loop for the
// reliable channel and a UDP loop for datagrams. Both feed the dispatcher;
// sessions bridge the two via the embedded session id.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"gamehub/server/internal/clock"
	"gamehub/server/internal/dispatch"
	"gamehub/server/internal/metrics"
	"gamehub/server/internal/protocol"
)

// Config carries the transport knobs resolved from startup configuration.
type Config struct {
	ReliableAddr string
	DatagramAddr string
	MaxPlayers   int
	IdleTimeout  time.Duration
	WriteTimeout time.Duration
	DrainTimeout time.Duration
}

// Server accepts sessions and pumps both channels into the dispatcher.
type Server struct {
	cfg  Config
	clk  *clock.Clock
	disp *dispatch.Dispatcher
	met  *metrics.Metrics

	// onConnect runs after the welcome frame; onDisconnect after teardown.
	onConnect    func(s *Session)
	onDisconnect func(sessionID string)

	ln  net.Listener
	udp *net.UDPConn

	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session

	closing bool
	wg      sync.WaitGroup
}

// New builds a stopped transport server.
func New(cfg Config, clk *clock.Clock, disp *dispatch.Dispatcher, met *metrics.Metrics) *Server {
	return &Server{
		cfg:      cfg,
		clk:      clk,
		disp:     disp,
		met:      met,
		sessions: make(map[uuid.UUID]*Session),
	}
}

// OnConnect registers the session-activated hook. Must be set before Start.
func (srv *Server) OnConnect(fn func(s *Session)) { srv.onConnect = fn }

// OnDisconnect registers the teardown hook. Must be set before Start.
func (srv *Server) OnDisconnect(fn func(sessionID string)) { srv.onDisconnect = fn }

// Start opens both listeners and launches the accept and datagram loops.
func (srv *Server) Start() error {
	ln, err := net.Listen("tcp", srv.cfg.ReliableAddr)
	if err != nil {
		return fmt.Errorf("listen reliable %s: %w", srv.cfg.ReliableAddr, err)
	}
	udpAddr, err := net.ResolveUDPAddr("udp", srv.cfg.DatagramAddr)
	if err != nil {
		_ = ln.Close()
		return fmt.Errorf("resolve datagram %s: %w", srv.cfg.DatagramAddr, err)
	}
	udp, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		_ = ln.Close()
		return fmt.Errorf("listen datagram %s: %w", srv.cfg.DatagramAddr, err)
	}
	srv.ln = ln
	srv.udp = udp

	srv.wg.Add(2)
	go srv.acceptLoop()
	go srv.datagramLoop()

	slog.Info("transport listening",
		"reliable", ln.Addr().String(),
		"datagram", udp.LocalAddr().String(),
		"max_players", srv.cfg.MaxPlayers)
	return nil
}

// ReliableAddr reports the bound TCP address (useful with port 0).
func (srv *Server) ReliableAddr() string { return srv.ln.Addr().String() }

// DatagramAddr reports the bound UDP address.
func (srv *Server) DatagramAddr() string { return srv.udp.LocalAddr().String() }

// SessionCount returns the number of live sessions.
func (srv *Server) SessionCount() int {
	srv.mu.RLock()
	defer srv.mu.RUnlock()
	return len(srv.sessions)
}

// Sessions returns a snapshot of live sessions.
func (srv *Server) Sessions() []*Session {
	srv.mu.RLock()
	defer srv.mu.RUnlock()
	out := make([]*Session, 0, len(srv.sessions))
	for _, s := range srv.sessions {
		out = append(out, s)
	}
	return out
}

// Lookup resolves a session by its string id.
func (srv *Server) Lookup(id string) (*Session, bool) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, false
	}
	srv.mu.RLock()
	defer srv.mu.RUnlock()
	s, ok := srv.sessions[uid]
	return s, ok
}

func (srv *Server) acceptLoop() {
	defer srv.wg.Done()
	for {
		conn, err := srv.ln.Accept()
		if err != nil {
			srv.mu.RLock()
			closing := srv.closing
			srv.mu.RUnlock()
			if closing {
				return
			}
			slog.Warn("accept failed", "err", err)
			continue
		}
		srv.wg.Add(1)
		go func() {
			defer srv.wg.Done()
			srv.handleConn(conn)
		}()
	}
}

// handleConn admits one TCP connection: capacity check, registry insert,
// welcome frame, then the read loop until the session dies.
func (srv *Server) handleConn(conn net.Conn) {
	srv.mu.Lock()
	if srv.closing || len(srv.sessions) >= srv.cfg.MaxPlayers {
		srv.mu.Unlock()
		srv.refuse(conn)
		return
	}
	s := newSession(conn, srv)
	srv.sessions[s.uid] = s
	count := len(srv.sessions)
	srv.mu.Unlock()

	srv.met.SessionsTotal.Inc()
	srv.met.SessionsActive.Set(float64(count))
	slog.Info("session accepted", "session_id", s.ID(), "remote", s.RemoteAddr(), "sessions", count)

	welcome, _ := protocol.EncodeBody(protocol.Welcome{
		SessionID:  s.ID(),
		ServerTime: srv.clk.NowUnixMilli(),
	})
	if err := s.SendFrame(protocol.MsgWelcome, welcome); err != nil {
		return
	}
	s.advance(Active)
	if srv.onConnect != nil {
		srv.onConnect(s)
	}
	s.readLoop()
}

// refuse turns away a connection over capacity: one server_full frame, then
// close. Best effort on a short deadline.
func (srv *Server) refuse(conn net.Conn) {
	srv.met.SessionsRefused.Inc()
	slog.Warn("session refused, server full", "remote", conn.RemoteAddr().String())
	_ = conn.SetWriteDeadline(time.Now().Add(srv.cfg.WriteTimeout))
	_ = protocol.WriteFrame(conn, protocol.MsgServerFull, []byte(`{}`))
	_ = conn.Close()
}

// remove deletes a session from the registry. Called from Session.Close.
func (srv *Server) remove(s *Session) {
	srv.mu.Lock()
	delete(srv.sessions, s.uid)
	count := len(srv.sessions)
	srv.mu.Unlock()
	srv.met.SessionsActive.Set(float64(count))
}

// datagramLoop drains the UDP socket. A datagram from an unknown session is
// dropped silently; oversized or malformed ones are dropped with a warning.
func (srv *Server) datagramLoop() {
	defer srv.wg.Done()
	buf := make([]byte, 64*1024)
	for {
		n, addr, err := srv.udp.ReadFromUDP(buf)
		if err != nil {
			srv.mu.RLock()
			closing := srv.closing
			srv.mu.RUnlock()
			if closing {
				return
			}
			slog.Warn("datagram read failed", "err", err)
			continue
		}
		if n > protocol.MaxDatagramSize {
			srv.met.DatagramsDropped.Inc()
			slog.Warn("oversized datagram dropped", "from", addr.String(), "size", n)
			continue
		}
		dg, err := protocol.DecodeDatagram(buf[:n])
		if err != nil {
			srv.met.DatagramsDropped.Inc()
			slog.Warn("malformed datagram dropped", "from", addr.String(), "err", err)
			continue
		}

		srv.mu.RLock()
		s, ok := srv.sessions[uuid.UUID(dg.SessionID)]
		srv.mu.RUnlock()
		if !ok {
			srv.met.DatagramsDropped.Inc()
			continue
		}
		s.setDatagramAddr(addr)
		s.touch()
		srv.met.DatagramsIn.Inc()

		body := make([]byte, len(dg.Body))
		copy(body, dg.Body)
		srv.dispatch(s, dg.ID, body, true)
	}
}

func (srv *Server) dispatch(s *Session, msgID string, body []byte, fromDatagram bool) {
	srv.disp.Enqueue(dispatch.Request{
		Session:  s,
		MsgID:    msgID,
		Body:     body,
		Datagram: fromDatagram,
	})
}

// Kick sends a kicked notice to one session and closes it. Returns false
// when the session is unknown.
func (srv *Server) Kick(sessionID, reason string) bool {
	s, ok := srv.Lookup(sessionID)
	if !ok {
		return false
	}
	body, _ := protocol.EncodeBody(protocol.Kicked{Reason: reason})
	_ = s.SendFrame(protocol.MsgKicked, body)
	s.Close("kicked: " + reason)
	return true
}

// Broadcast sends one frame to every live session and returns how many
// sends succeeded.
func (srv *Server) Broadcast(msgID string, body []byte) int {
	sent := 0
	for _, s := range srv.Sessions() {
		if err := s.SendFrame(msgID, body); err == nil {
			sent++
		}
	}
	return sent
}

// Shutdown drains gracefully: stop accepting, announce the shutdown, mark
// every session Draining, wait up to DrainTimeout for them to hang up, then
// force-close stragglers.
func (srv *Server) Shutdown(ctx context.Context) {
	srv.mu.Lock()
	if srv.closing {
		srv.mu.Unlock()
		return
	}
	srv.closing = true
	srv.mu.Unlock()

	_ = srv.ln.Close()

	notice, _ := protocol.EncodeBody(protocol.ServerShutdown{Reason: "server shutting down"})
	for _, s := range srv.Sessions() {
		_ = s.SendFrame(protocol.MsgServerShutdown, notice)
		s.advance(Draining)
	}

	deadline := time.NewTimer(srv.cfg.DrainTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
drain:
	for srv.SessionCount() > 0 {
		select {
		case <-ctx.Done():
			break drain
		case <-deadline.C:
			break drain
		case <-tick.C:
		}
	}

	for _, s := range srv.Sessions() {
		s.Close("server shutdown")
	}
	_ = srv.udp.Close()
	srv.wg.Wait()
	slog.Info("transport stopped")
}
