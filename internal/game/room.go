package game

import (
	"fmt"
	"sync"
	"time"

	"gamehub/server/internal/protocol"
)

// RoomState is the room lifecycle state.
type RoomState string

const (
	RoomWaiting    RoomState = "waiting"
	RoomStarting   RoomState = "starting"
	RoomInProgress RoomState = "in_progress"
	RoomPaused     RoomState = "paused"
	RoomFinished   RoomState = "finished"
)

// Well-known room setting keys.
const (
	SettingLateJoin = "late_join"
	SettingMinDist  = "min_dist"
	SettingMaxDist  = "max_dist"
)

// Room is a bounded, ordered set of players forming a broadcast domain.
// One coarse mutex guards the member list, state machine, and settings.
type Room struct {
	mu sync.Mutex

	ID           string
	Name         string
	MaxPlayers   int
	Private      bool
	PasswordHash string
	CreatorID    string

	state        RoomState
	members      []string // join order preserved
	createdAt    time.Time
	lastActivity time.Time
	settings     map[string]any
}

func newRoom(id, name string, max int, private bool, passwordHash, creatorID string, now time.Time) *Room {
	return &Room{
		ID:           id,
		Name:         name,
		MaxPlayers:   max,
		Private:      private,
		PasswordHash: passwordHash,
		CreatorID:    creatorID,
		state:        RoomWaiting,
		createdAt:    now,
		lastActivity: now,
		settings:     make(map[string]any),
	}
}

// State returns the current room state.
func (r *Room) State() RoomState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Members returns the member ids in join order.
func (r *Room) Members() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.members))
	copy(out, r.members)
	return out
}

// MemberCount returns the current member count.
func (r *Room) MemberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// HasMember reports whether id is in the member set.
func (r *Room) HasMember(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.members {
		if m == id {
			return true
		}
	}
	return false
}

// CreatedAt returns the creation time.
func (r *Room) CreatedAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.createdAt
}

// LastActivity returns the last join/leave/transition time.
func (r *Room) LastActivity() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastActivity
}

// SetSetting stores an arbitrary room setting.
func (r *Room) SetSetting(key string, value any) {
	r.mu.Lock()
	r.settings[key] = value
	r.mu.Unlock()
}

// Setting returns a room setting.
func (r *Room) Setting(key string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.settings[key]
	return v, ok
}

// boolSetting reads a bool setting, defaulting to def.
func (r *Room) boolSetting(key string, def bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.settings[key].(bool); ok {
		return v
	}
	return def
}

// floatSetting reads a numeric setting, defaulting to def.
func (r *Room) floatSetting(key string, def float64) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch v := r.settings[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return def
}

// AudioRange returns the positional-audio distances for this room, falling
// back to the given defaults.
func (r *Room) AudioRange(defMin, defMax float64) (min, max float64) {
	min = r.floatSetting(SettingMinDist, defMin)
	max = r.floatSetting(SettingMaxDist, defMax)
	if max <= min {
		return defMin, defMax
	}
	return min, max
}

// joinable reports whether a new member may enter given the current state.
func (r *Room) joinable() bool {
	switch r.state {
	case RoomWaiting, RoomPaused:
		return true
	case RoomStarting, RoomInProgress:
		if v, ok := r.settings[SettingLateJoin].(bool); ok {
			return v
		}
		return false
	default:
		return false
	}
}

// addMember appends id to the member list, enforcing capacity and the join
// gate. Callers must have verified the password.
func (r *Room) addMember(id string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.joinable() {
		return errRoomStarted
	}
	if len(r.members) >= r.MaxPlayers {
		return errRoomFull
	}
	for _, m := range r.members {
		if m == id {
			return errAlreadyMember
		}
	}
	r.members = append(r.members, id)
	r.lastActivity = now
	return nil
}

// removeMember removes id, preserving the order of the rest. Returns false
// when id was not a member.
func (r *Room) removeMember(id string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, m := range r.members {
		if m == id {
			r.members = append(r.members[:i], r.members[i+1:]...)
			r.lastActivity = now
			return true
		}
	}
	return false
}

// BeginStart moves Waiting → Starting. The ready predicate is evaluated for
// every member under the room lock, so no join can slip in between the check
// and the transition.
func (r *Room) BeginStart(now time.Time, ready func(id string) bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != RoomWaiting {
		return fmt.Errorf("room %s cannot start from %s", r.ID, r.state)
	}
	for _, m := range r.members {
		if !ready(m) {
			return fmt.Errorf("player %s: %w", m, ErrNotAllReady)
		}
	}
	r.state = RoomStarting
	r.lastActivity = now
	return nil
}

// MarkInProgress moves Starting → InProgress, immediately after the start
// broadcast has been emitted.
func (r *Room) MarkInProgress(now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != RoomStarting {
		return fmt.Errorf("room %s cannot enter in_progress from %s", r.ID, r.state)
	}
	r.state = RoomInProgress
	r.lastActivity = now
	return nil
}

// Pause moves InProgress → Paused.
func (r *Room) Pause(now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != RoomInProgress {
		return fmt.Errorf("room %s cannot pause from %s", r.ID, r.state)
	}
	r.state = RoomPaused
	r.lastActivity = now
	return nil
}

// Resume moves Paused → InProgress.
func (r *Room) Resume(now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != RoomPaused {
		return fmt.Errorf("room %s cannot resume from %s", r.ID, r.state)
	}
	r.state = RoomInProgress
	r.lastActivity = now
	return nil
}

// End moves InProgress|Paused → Finished. A finished room is eligible for
// cleanup.
func (r *Room) End(now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != RoomInProgress && r.state != RoomPaused {
		return fmt.Errorf("room %s cannot end from %s", r.ID, r.state)
	}
	r.state = RoomFinished
	r.lastActivity = now
	return nil
}

// info builds the wire snapshot; names resolves member ids to display names.
func (r *Room) info(names func(id string) string) protocol.RoomInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	players := make([]string, 0, len(r.members))
	for _, id := range r.members {
		players = append(players, names(id))
	}
	return protocol.RoomInfo{
		ID:         r.ID,
		Name:       r.Name,
		MaxPlayers: r.MaxPlayers,
		Private:    r.Private,
		State:      string(r.state),
		Players:    players,
		CreatorID:  r.CreatorID,
	}
}
