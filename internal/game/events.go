package game

import (
	"sync"
	"time"
)

// EventKind tags a lobby event.
type EventKind string

const (
	EventRoomCreated   EventKind = "room_created"
	EventRoomDestroyed EventKind = "room_destroyed"
	EventPlayerJoined  EventKind = "player_joined"
	EventPlayerLeft    EventKind = "player_left"
	EventGameStarted   EventKind = "game_started"
	EventGameEnded     EventKind = "game_ended"
	EventPlayerKicked  EventKind = "player_kicked"
	EventPlayerBanned  EventKind = "player_banned"
)

// Event is a lobby lifecycle notification fanned out to subscribers.
type Event struct {
	Kind     EventKind
	RoomID   string
	PlayerID string
	Detail   string
	TS       time.Time
}

// EventBus fans events out to a subscriber list. Subscribers run on the
// publisher's goroutine and must not block.
type EventBus struct {
	mu   sync.RWMutex
	subs []func(Event)
}

// NewEventBus returns an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{}
}

// Subscribe appends a subscriber. There is no unsubscribe; subscriber sets
// are fixed at wiring time.
func (b *EventBus) Subscribe(fn func(Event)) {
	b.mu.Lock()
	b.subs = append(b.subs, fn)
	b.mu.Unlock()
}

// Publish delivers ev to every subscriber.
func (b *EventBus) Publish(ev Event) {
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()
	for _, fn := range subs {
		fn(ev)
	}
}
