package transport

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"gamehub/server/internal/protocol"
)

// State is a session's lifecycle stage. Transitions are one-way:
// Accepting → Active → Draining → Closed.
type State int32

const (
	Accepting State = iota
	Active
	Draining
	Closed
)

func (s State) String() string {
	switch s {
	case Accepting:
		return "accepting"
	case Active:
		return "active"
	case Draining:
		return "draining"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// maxViolations kills a session that keeps violating the protocol within
// violationWindow.
const (
	maxViolations   = 5
	violationWindow = time.Minute
)

// Session is one connected client: the reliable TCP stream plus a learned
// datagram return address. All sends serialize on the write mutex and take a
// write deadline; a failed or timed-out write closes the session.
type Session struct {
	uid  uuid.UUID
	conn net.Conn
	srv  *Server

	wmu sync.Mutex

	state    atomic.Int32
	lastSeen atomic.Int64 // unix nanos

	vmu        sync.Mutex
	violations int
	firstViol  time.Time

	dgramAddr atomic.Pointer[net.UDPAddr]
	closeOnce sync.Once
}

func newSession(conn net.Conn, srv *Server) *Session {
	s := &Session{uid: uuid.New(), conn: conn, srv: srv}
	s.touch()
	return s
}

// ID returns the session id in its string form.
func (s *Session) ID() string { return s.uid.String() }

// UID returns the raw 16-byte session id embedded in datagrams.
func (s *Session) UID() uuid.UUID { return s.uid }

// State returns the current lifecycle stage.
func (s *Session) State() State { return State(s.state.Load()) }

// advance moves the state forward, never backward.
func (s *Session) advance(to State) {
	for {
		cur := s.state.Load()
		if cur >= int32(to) {
			return
		}
		if s.state.CompareAndSwap(cur, int32(to)) {
			return
		}
	}
}

// RemoteAddr reports the TCP peer address.
func (s *Session) RemoteAddr() string { return s.conn.RemoteAddr().String() }

func (s *Session) touch() { s.lastSeen.Store(time.Now().UnixNano()) }

// LastSeen returns the time of the last inbound frame or datagram.
func (s *Session) LastSeen() time.Time { return time.Unix(0, s.lastSeen.Load()) }

// setDatagramAddr learns or refreshes the client's datagram return address.
func (s *Session) setDatagramAddr(addr *net.UDPAddr) {
	prev := s.dgramAddr.Swap(addr)
	if prev == nil {
		slog.Debug("datagram address learned", "session_id", s.ID(), "addr", addr)
	}
}

// SendFrame writes one message on the reliable channel. A draining session
// refuses new writes; the shutdown notice goes out before the state advances.
func (s *Session) SendFrame(msgID string, body []byte) error {
	if s.State() >= Draining {
		return net.ErrClosed
	}
	s.wmu.Lock()
	err := func() error {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.srv.cfg.WriteTimeout)); err != nil {
			return err
		}
		return protocol.WriteFrame(s.conn, msgID, body)
	}()
	s.wmu.Unlock()

	if err != nil {
		s.Close("write failed: " + err.Error())
		return fmt.Errorf("send %s: %w", msgID, err)
	}
	s.srv.met.FramesOut.Inc()
	return nil
}

// SendDatagram writes one message on the datagram channel. Before the client
// has sent its first datagram there is no return address, and payloads can
// exceed the datagram cap; both cases fall back to the reliable channel.
func (s *Session) SendDatagram(msgID string, body []byte) error {
	addr := s.dgramAddr.Load()
	if addr == nil {
		return s.SendFrame(msgID, body)
	}
	pkt, err := protocol.EncodeDatagram(msgID, s.uid, body)
	if err != nil {
		if err == protocol.ErrDatagramTooLarge {
			return s.SendFrame(msgID, body)
		}
		return err
	}
	if _, err := s.srv.udp.WriteToUDP(pkt, addr); err != nil {
		return fmt.Errorf("send datagram %s: %w", msgID, err)
	}
	return nil
}

// Violate records a protocol violation. The counter resets once the window
// lapses; crossing maxViolations inside it closes the session.
func (s *Session) Violate(reason string) int {
	s.srv.met.ProtocolViolations.Inc()

	s.vmu.Lock()
	now := time.Now()
	if s.violations == 0 || now.Sub(s.firstViol) > violationWindow {
		s.violations = 0
		s.firstViol = now
	}
	s.violations++
	n := s.violations
	s.vmu.Unlock()

	slog.Warn("protocol violation", "session_id", s.ID(), "reason", reason, "count", n)
	if n >= maxViolations {
		s.Close("too many protocol violations")
	}
	return n
}

// Close tears the session down exactly once: marks it Closed, closes the TCP
// conn, removes it from the registry, and runs the disconnect hook.
func (s *Session) Close(reason string) {
	s.closeOnce.Do(func() {
		s.advance(Closed)
		_ = s.conn.Close()
		s.srv.remove(s)
		slog.Info("session closed", "session_id", s.ID(), "reason", reason)
		if s.srv.onDisconnect != nil {
			s.srv.onDisconnect(s.ID())
		}
	})
}

// readLoop drains reliable frames until the session dies. Each read takes a
// fresh idle deadline; handlers never run inline here.
func (s *Session) readLoop() {
	br := bufio.NewReader(s.conn)
	for {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.srv.cfg.IdleTimeout)); err != nil {
			s.Close("set read deadline: " + err.Error())
			return
		}
		f, err := protocol.ReadFrame(br)
		if err != nil {
			s.closeOnReadError(err)
			return
		}
		s.touch()
		s.srv.met.FramesIn.Inc()
		s.srv.dispatch(s, f.ID, f.Body, false)
	}
}

func (s *Session) closeOnReadError(err error) {
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		s.Close("idle timeout")
		return
	}
	switch {
	case err == nil:
	case s.State() >= Draining:
		s.Close("draining")
	default:
		s.Close(err.Error())
	}
}
