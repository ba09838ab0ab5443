package game

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"gamehub/server/internal/clock"
	"gamehub/server/internal/protocol"
)

// Channel selects the transport used for a broadcast.
type Channel int

const (
	Reliable Channel = iota
	Datagram
)

// Lobby operation errors.
var (
	errRoomFull      = errors.New("room is full")
	errRoomStarted   = errors.New("room has started")
	errAlreadyMember = errors.New("already a member")

	ErrNotFound      = errors.New("not found")
	ErrFull          = errors.New("room is full")
	ErrWrongPassword = errors.New("wrong password")
	ErrAlreadyInRoom = errors.New("already in a room")
	ErrNotInRoom     = errors.New("not in a room")
	ErrNotCreator    = errors.New("only the room creator may do that")
	ErrNotAllReady   = errors.New("not all players are ready")
	ErrBadState      = errors.New("invalid room state")
)

// Sender is the session surface the lobby needs for fan-out. Both methods
// take a pre-encoded body so a broadcast encodes once per room, not once per
// member.
type Sender interface {
	SendFrame(msgID string, body []byte) error
	SendDatagram(msgID string, body []byte) error
}

// Lobby owns the room and player registries and performs room-scoped
// broadcast. One coarse mutex guards the registries; each room has its own
// lock. Sends always happen outside both.
type Lobby struct {
	mu      sync.RWMutex
	players map[string]*Player
	rooms   map[string]*Room
	senders map[string]Sender

	nextRoom atomic.Uint64
	clock    *clock.Clock
	bus      *EventBus

	defMinDist float64
	defMaxDist float64
}

// NewLobby returns an empty lobby. minDist/maxDist are the process-wide
// positional-audio defaults; rooms may override them per room.
func NewLobby(clk *clock.Clock, bus *EventBus, minDist, maxDist float64) *Lobby {
	if bus == nil {
		bus = NewEventBus()
	}
	return &Lobby{
		players:    make(map[string]*Player),
		rooms:      make(map[string]*Room),
		senders:    make(map[string]Sender),
		clock:      clk,
		bus:        bus,
		defMinDist: minDist,
		defMaxDist: maxDist,
	}
}

// Events returns the lobby's event bus.
func (l *Lobby) Events() *EventBus {
	return l.bus
}

// Attach registers the session sender for a player id. Called by the
// transport when a session becomes active.
func (l *Lobby) Attach(id string, s Sender) {
	l.mu.Lock()
	l.senders[id] = s
	l.mu.Unlock()
}

// Detach drops the sender registration. Idempotent.
func (l *Lobby) Detach(id string) {
	l.mu.Lock()
	delete(l.senders, id)
	l.mu.Unlock()
}

func (l *Lobby) sender(id string) (Sender, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.senders[id]
	return s, ok
}

// CreatePlayer registers a player for a session id. Idempotent: an existing
// player is returned unchanged except for a non-empty name update.
func (l *Lobby) CreatePlayer(sessionID, name string) *Player {
	l.mu.Lock()
	defer l.mu.Unlock()
	if p, ok := l.players[sessionID]; ok {
		if name != "" {
			p.mu.Lock()
			p.Name = name
			p.mu.Unlock()
		}
		return p
	}
	p := newPlayer(sessionID, name)
	l.players[sessionID] = p
	slog.Info("player created", "player_id", sessionID, "name", name, "total_players", len(l.players))
	return p
}

// RemovePlayer evicts a player: leaves any room (broadcasting the departure),
// drops voice state, and removes the registry entry. Idempotent.
func (l *Lobby) RemovePlayer(id string) {
	l.mu.Lock()
	p, ok := l.players[id]
	if !ok {
		l.mu.Unlock()
		return
	}
	delete(l.players, id)
	remaining := len(l.players)
	l.mu.Unlock()

	p.mu.Lock()
	roomID := p.CurrentRoom
	p.CurrentRoom = ""
	p.State = StateDisconnected
	p.mu.Unlock()

	if roomID != "" {
		if r, ok := l.GetRoom(roomID); ok && r.removeMember(id, l.clock.Now()) {
			body, _ := protocol.EncodeBody(protocol.PlayerLeft{PlayerID: id, Reason: "disconnected"})
			l.broadcastRaw(r, protocol.MsgPlayerLeft, body, Reliable, id)
			l.bus.Publish(Event{Kind: EventPlayerLeft, RoomID: roomID, PlayerID: id, TS: l.clock.Now()})
		}
	}
	slog.Info("player removed", "player_id", id, "room_id", roomID, "remaining_players", remaining)
}

// GetPlayer looks up a player by id.
func (l *Lobby) GetPlayer(id string) (*Player, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.players[id]
	return p, ok
}

// ListPlayers returns a snapshot of all players.
func (l *Lobby) ListPlayers() []*Player {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Player, 0, len(l.players))
	for _, p := range l.players {
		out = append(out, p)
	}
	return out
}

// PlayerCount returns the number of registered players.
func (l *Lobby) PlayerCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.players)
}

// CreateRoom allocates a room and returns it.
func (l *Lobby) CreateRoom(name string, max int, private bool, passwordHash, creatorID string) (*Room, error) {
	if name == "" {
		return nil, fmt.Errorf("room name is required")
	}
	if max <= 0 {
		return nil, fmt.Errorf("room capacity must be positive")
	}
	id := fmt.Sprintf("R%d", l.nextRoom.Add(1))
	r := newRoom(id, name, max, private, passwordHash, creatorID, l.clock.Now())

	l.mu.Lock()
	l.rooms[id] = r
	total := len(l.rooms)
	l.mu.Unlock()

	slog.Info("room created", "room_id", id, "name", name, "max", max, "private", private, "creator", creatorID, "total_rooms", total)
	l.bus.Publish(Event{Kind: EventRoomCreated, RoomID: id, PlayerID: creatorID, TS: l.clock.Now()})
	return r, nil
}

// DestroyRoom removes a room, unsets every member's current room, and sends
// them a room_closed notice. Returns false when the room does not exist.
func (l *Lobby) DestroyRoom(id, reason string) bool {
	l.mu.Lock()
	r, ok := l.rooms[id]
	if !ok {
		l.mu.Unlock()
		return false
	}
	delete(l.rooms, id)
	l.mu.Unlock()

	members := r.Members()
	now := l.clock.Now()
	for _, m := range members {
		r.removeMember(m, now)
		if p, ok := l.GetPlayer(m); ok {
			p.mu.Lock()
			if p.CurrentRoom == id {
				p.CurrentRoom = ""
				p.State = StateInLobby
				p.Ready = false
			}
			p.mu.Unlock()
		}
	}

	body, _ := protocol.EncodeBody(protocol.RoomClosed{RoomID: id, Reason: reason})
	for _, m := range members {
		if s, ok := l.sender(m); ok {
			if err := s.SendFrame(protocol.MsgRoomClosed, body); err != nil {
				slog.Warn("room_closed notice failed", "room_id", id, "player_id", m, "err", err)
			}
		}
	}

	slog.Info("room destroyed", "room_id", id, "reason", reason, "members", len(members))
	l.bus.Publish(Event{Kind: EventRoomDestroyed, RoomID: id, Detail: reason, TS: now})
	return true
}

// GetRoom looks up a room by id.
func (l *Lobby) GetRoom(id string) (*Room, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	r, ok := l.rooms[id]
	return r, ok
}

// ListRooms returns a snapshot of all rooms.
func (l *Lobby) ListRooms() []*Room {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Room, 0, len(l.rooms))
	for _, r := range l.rooms {
		out = append(out, r)
	}
	return out
}

// PublicRooms returns wire snapshots of rooms that appear in listings:
// public, not full, and not yet started.
func (l *Lobby) PublicRooms() []protocol.RoomInfo {
	var out []protocol.RoomInfo
	for _, r := range l.ListRooms() {
		if r.Private {
			continue
		}
		switch r.State() {
		case RoomStarting, RoomInProgress, RoomFinished:
			continue
		}
		if r.MemberCount() >= r.MaxPlayers {
			continue
		}
		out = append(out, l.RoomInfo(r))
	}
	return out
}

// RoomInfo builds the wire snapshot for a room, resolving member names.
func (l *Lobby) RoomInfo(r *Room) protocol.RoomInfo {
	return r.info(func(id string) string {
		if p, ok := l.GetPlayer(id); ok {
			p.mu.Lock()
			defer p.mu.Unlock()
			return p.Name
		}
		return id
	})
}

// JoinRoom places a player into a room. The password hash is compared in
// constant time against the room's stored hash.
func (l *Lobby) JoinRoom(playerID, roomID, passwordHash string) error {
	p, ok := l.GetPlayer(playerID)
	if !ok {
		return fmt.Errorf("player %s: %w", playerID, ErrNotFound)
	}
	r, ok := l.GetRoom(roomID)
	if !ok {
		return fmt.Errorf("room %s: %w", roomID, ErrNotFound)
	}

	if r.Private && r.PasswordHash != "" {
		if subtle.ConstantTimeCompare([]byte(r.PasswordHash), []byte(passwordHash)) != 1 {
			return fmt.Errorf("room %s: %w", roomID, ErrWrongPassword)
		}
	}

	// Claim the player for this room before touching the member list so two
	// concurrent joins cannot both pass the membership check. The claim is
	// rolled back if addMember refuses.
	p.mu.Lock()
	if p.CurrentRoom != "" {
		inRoom := p.CurrentRoom
		p.mu.Unlock()
		return fmt.Errorf("player %s is in room %s: %w", playerID, inRoom, ErrAlreadyInRoom)
	}
	p.CurrentRoom = roomID
	p.mu.Unlock()

	if err := r.addMember(playerID, l.clock.Now()); err != nil {
		p.mu.Lock()
		if p.CurrentRoom == roomID {
			p.CurrentRoom = ""
		}
		p.mu.Unlock()
		switch {
		case errors.Is(err, errRoomFull):
			return fmt.Errorf("room %s: %w", roomID, ErrFull)
		case errors.Is(err, errAlreadyMember):
			return fmt.Errorf("room %s: %w", roomID, ErrAlreadyInRoom)
		default:
			return fmt.Errorf("room %s: %w", roomID, ErrBadState)
		}
	}

	p.mu.Lock()
	if p.CurrentRoom == roomID {
		p.State = StateInRoom
		p.Ready = false
	}
	p.mu.Unlock()

	slog.Info("player joined room", "player_id", playerID, "room_id", roomID, "members", r.MemberCount())
	l.bus.Publish(Event{Kind: EventPlayerJoined, RoomID: roomID, PlayerID: playerID, TS: l.clock.Now()})
	return nil
}

// LeaveRoom removes a player from a room. Returns false when the player was
// not a member. An emptied room in Waiting state stays around for reuse; the
// cleanup pass collects it later.
func (l *Lobby) LeaveRoom(playerID, roomID string) bool {
	r, ok := l.GetRoom(roomID)
	if !ok {
		return false
	}
	if !r.removeMember(playerID, l.clock.Now()) {
		return false
	}
	if p, ok := l.GetPlayer(playerID); ok {
		p.mu.Lock()
		if p.CurrentRoom == roomID {
			p.CurrentRoom = ""
			p.State = StateInLobby
			p.Ready = false
		}
		p.mu.Unlock()
	}
	slog.Info("player left room", "player_id", playerID, "room_id", roomID, "members", r.MemberCount())
	l.bus.Publish(Event{Kind: EventPlayerLeft, RoomID: roomID, PlayerID: playerID, TS: l.clock.Now()})
	return true
}

// StartGame transitions a room to in_progress: only the creator may start,
// every member must be ready, and the started broadcast goes out between the
// Starting and InProgress states.
func (l *Lobby) StartGame(playerID, roomID string) error {
	r, ok := l.GetRoom(roomID)
	if !ok {
		return fmt.Errorf("room %s: %w", roomID, ErrNotFound)
	}
	if r.CreatorID != playerID {
		return fmt.Errorf("player %s: %w", playerID, ErrNotCreator)
	}
	now := l.clock.Now()
	err := r.BeginStart(now, func(id string) bool {
		p, ok := l.GetPlayer(id)
		return ok && p.IsReady()
	})
	if err != nil {
		if errors.Is(err, ErrNotAllReady) {
			return err
		}
		return fmt.Errorf("%v: %w", err, ErrBadState)
	}

	body, _ := protocol.EncodeBody(protocol.GameStarted{RoomID: roomID, TS: now.UnixMilli()})
	l.broadcastRaw(r, protocol.MsgGameStarted, body, Reliable, "")

	if err := r.MarkInProgress(l.clock.Now()); err != nil {
		return fmt.Errorf("%v: %w", err, ErrBadState)
	}
	for _, m := range r.Members() {
		if p, ok := l.GetPlayer(m); ok {
			p.SetState(StateInGame)
		}
	}
	slog.Info("game started", "room_id", roomID, "by", playerID)
	l.bus.Publish(Event{Kind: EventGameStarted, RoomID: roomID, PlayerID: playerID, TS: now})
	return nil
}

// BroadcastToRoom encodes body once and emits it to every member of the room
// in join order, optionally excluding one player. Per-session failures are
// logged and do not abort the fan-out.
func (l *Lobby) BroadcastToRoom(roomID, msgID string, body any, ch Channel, exclude string) error {
	r, ok := l.GetRoom(roomID)
	if !ok {
		return fmt.Errorf("room %s: %w", roomID, ErrNotFound)
	}
	raw, err := protocol.EncodeBody(body)
	if err != nil {
		return err
	}
	l.broadcastRaw(r, msgID, raw, ch, exclude)
	return nil
}

// broadcastRaw copies the member list under the room lock, then sends
// outside it so a slow writer never blocks room mutations.
func (l *Lobby) broadcastRaw(r *Room, msgID string, body []byte, ch Channel, exclude string) {
	for _, m := range r.Members() {
		if m == exclude {
			continue
		}
		s, ok := l.sender(m)
		if !ok {
			continue
		}
		var err error
		if ch == Datagram {
			err = s.SendDatagram(msgID, body)
		} else {
			err = s.SendFrame(msgID, body)
		}
		if err != nil {
			slog.Warn("broadcast send failed", "room_id", r.ID, "player_id", m, "msg_id", msgID, "err", err)
		}
	}
}

// RelayAudio fans an audio payload out to every non-deafened member of the
// sender's room, applying per-listener positional gain. Listeners at zero
// gain are skipped. Returns the number of listeners reached.
func (l *Lobby) RelayAudio(senderID string, pkt protocol.AudioPacket) int {
	p, ok := l.GetPlayer(senderID)
	if !ok || !p.CanSpeak() {
		return 0
	}
	p.mu.Lock()
	roomID := p.CurrentRoom
	p.mu.Unlock()
	if roomID == "" {
		return 0
	}
	r, ok := l.GetRoom(roomID)
	if !ok {
		return 0
	}

	senderPos := p.Pos()
	if pkt.Position != nil {
		senderPos = *pkt.Position
	}
	minDist, maxDist := r.AudioRange(l.defMinDist, l.defMaxDist)

	reached := 0
	for _, m := range r.Members() {
		if m == senderID {
			continue
		}
		listener, ok := l.GetPlayer(m)
		if !ok || listener.Voice().Deafened {
			continue
		}
		gain := Gain(Distance(senderPos, listener.Pos()), minDist, maxDist)
		if gain <= 0 {
			continue
		}
		s, ok := l.sender(m)
		if !ok {
			continue
		}
		body, err := protocol.EncodeBody(protocol.AudioBroadcast{
			PlayerID: senderID,
			Seq:      pkt.Seq,
			Gain:     gain,
			Data:     pkt.Data,
		})
		if err != nil {
			continue
		}
		if err := s.SendDatagram(protocol.MsgAudioBcast, body); err != nil {
			slog.Debug("audio relay dropped", "room_id", roomID, "player_id", m, "err", err)
			continue
		}
		reached++
	}
	return reached
}

// CleanupRooms destroys finished rooms and empty rooms idle for longer than
// idleAfter. Returns the number of rooms destroyed. Wired as a recurring
// scheduler event.
func (l *Lobby) CleanupRooms(idleAfter time.Duration) int {
	now := l.clock.Now()
	destroyed := 0
	for _, r := range l.ListRooms() {
		switch {
		case r.State() == RoomFinished:
			if l.DestroyRoom(r.ID, "finished") {
				destroyed++
			}
		case r.MemberCount() == 0 && now.Sub(r.LastActivity()) > idleAfter:
			if l.DestroyRoom(r.ID, "idle") {
				destroyed++
			}
		}
	}
	return destroyed
}
