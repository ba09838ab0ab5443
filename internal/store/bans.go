package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// BanTable is the store table holding ban records.
const BanTable = "bans"

// banKeyField names the key attribute of a Ban record.
const banKeyField = "player_id"

// Ban is one admin-issued ban. A nil Until means permanent.
type Ban struct {
	PlayerID string     `json:"player_id"`
	Reason   string     `json:"reason,omitempty"`
	Issuer   string     `json:"issuer,omitempty"`
	IssuedAt time.Time  `json:"issued_at"`
	Until    *time.Time `json:"until,omitempty"`
}

// Expired reports whether the ban has lapsed at t.
func (b Ban) Expired(t time.Time) bool {
	return b.Until != nil && !b.Until.After(t)
}

// Bans is the in-memory ban registry backed by a Store. Admission checks hit
// the map only; writes go through to the store synchronously.
type Bans struct {
	st Store

	mu   sync.RWMutex
	byID map[string]Ban
}

// LoadBans reads every persisted ban into memory. Called once at boot.
func LoadBans(ctx context.Context, st Store) (*Bans, error) {
	b := &Bans{st: st, byID: make(map[string]Ban)}
	records, err := st.List(ctx, BanTable)
	if err != nil {
		return nil, fmt.Errorf("load bans: %w", err)
	}
	for key, doc := range records {
		var ban Ban
		if err := json.Unmarshal(doc, &ban); err != nil {
			slog.Warn("skipping unreadable ban record", "key", key, "err", err)
			continue
		}
		b.byID[ban.PlayerID] = ban
	}
	slog.Info("bans loaded", "count", len(b.byID))
	return b, nil
}

// IsBanned reports whether id is banned at t. Expired bans are treated as
// absent but left on disk until an admin removes them.
func (b *Bans) IsBanned(id string, t time.Time) bool {
	b.mu.RLock()
	ban, ok := b.byID[id]
	b.mu.RUnlock()
	return ok && !ban.Expired(t)
}

// Get returns the ban record for id.
func (b *Bans) Get(id string) (Ban, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ban, ok := b.byID[id]
	return ban, ok
}

// List returns all ban records.
func (b *Bans) List() []Ban {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Ban, 0, len(b.byID))
	for _, ban := range b.byID {
		out = append(out, ban)
	}
	return out
}

// Add persists a ban and installs it in memory. Re-banning an existing id
// replaces the record.
func (b *Bans) Add(ctx context.Context, ban Ban) error {
	if ban.PlayerID == "" {
		return fmt.Errorf("ban requires a player id")
	}
	if ban.IssuedAt.IsZero() {
		ban.IssuedAt = time.Now()
	}

	b.mu.Lock()
	_, exists := b.byID[ban.PlayerID]
	b.mu.Unlock()

	var err error
	if exists {
		err = b.st.Update(ctx, BanTable, banKeyField, ban.PlayerID, ban)
	} else {
		err = b.st.Create(ctx, BanTable, banKeyField, ban.PlayerID, ban)
	}
	if err != nil {
		return fmt.Errorf("persist ban %s: %w", ban.PlayerID, err)
	}

	b.mu.Lock()
	b.byID[ban.PlayerID] = ban
	b.mu.Unlock()
	slog.Info("player banned", "player_id", ban.PlayerID, "reason", ban.Reason, "issuer", ban.Issuer)
	return nil
}

// Remove lifts a ban. Removing an unknown id is a no-op.
func (b *Bans) Remove(ctx context.Context, id string) error {
	b.mu.Lock()
	_, exists := b.byID[id]
	delete(b.byID, id)
	b.mu.Unlock()
	if !exists {
		return nil
	}
	if err := b.st.Delete(ctx, BanTable, banKeyField, id); err != nil {
		return fmt.Errorf("remove ban %s: %w", id, err)
	}
	slog.Info("ban lifted", "player_id", id)
	return nil
}
