package handlers

import (
	"context"
	"log/slog"

	"gamehub/server/internal/dispatch"
	"gamehub/server/internal/game"
	"gamehub/server/internal/protocol"
)

// Position applies a transform datagram and relays it to the room. Stale
// sequence numbers are dropped without a broadcast.
func (api *API) Position(ctx context.Context, s dispatch.Session, body protocol.PositionUpdate) error {
	p, found := api.player(s)
	if !found {
		return nil
	}
	roomID := p.Room()
	if roomID == "" {
		return nil
	}
	if !p.UpdatePosition(body.Seq, body.Position, body.Rotation, body.Velocity) {
		slog.Debug("stale position dropped", "player_id", s.ID(), "seq", body.Seq)
		return nil
	}
	return api.Lobby.BroadcastToRoom(roomID, protocol.MsgPositionBcast, protocol.PositionBroadcast{
		PlayerID: s.ID(),
		Seq:      body.Seq,
		Position: body.Position,
		Rotation: body.Rotation,
		Velocity: body.Velocity,
	}, game.Datagram, s.ID())
}

// PlayerAction classifies an action, applies any stat changes, and relays it.
// Unclassified action strings are dropped.
func (api *API) PlayerAction(ctx context.Context, s dispatch.Session, body protocol.PlayerAction) error {
	p, found := api.player(s)
	if !found {
		return nil
	}
	roomID := p.Room()
	if roomID == "" {
		return nil
	}
	if !p.ApplyAction(body.Action) {
		slog.Debug("unclassified action dropped", "player_id", s.ID(), "action", body.Action)
		return nil
	}
	return api.Lobby.BroadcastToRoom(roomID, protocol.MsgActionBcast, protocol.ActionBroadcast{
		PlayerID: s.ID(),
		Action:   body.Action,
		TargetID: body.TargetID,
		Position: body.Position,
		TS:       api.Clock.NowUnixMilli(),
	}, game.Datagram, s.ID())
}

// Chat relays a chat line to the whole room, sender included, with a
// server-stamped timestamp.
func (api *API) Chat(ctx context.Context, s dispatch.Session, body protocol.Chat) error {
	p, found := api.player(s)
	if !found || body.Message == "" {
		return nil
	}
	roomID := p.Room()
	if roomID == "" {
		s.Violate("chat outside a room")
		return nil
	}
	return api.Lobby.BroadcastToRoom(roomID, protocol.MsgChatBcast, protocol.ChatBroadcast{
		PlayerID:   s.ID(),
		PlayerName: p.DisplayName(),
		Message:    body.Message,
		TS:         api.Clock.NowUnixMilli(),
	}, game.Reliable, "")
}

// Ping answers a latency probe on the channel it arrived on.
func (api *API) Ping(ctx context.Context, s dispatch.Session, body protocol.Ping) error {
	raw, err := protocol.EncodeBody(protocol.Pong{
		ClientTS: body.ClientTS,
		ServerTS: api.Clock.NowUnixMilli(),
	})
	if err != nil {
		return err
	}
	return s.SendDatagram(protocol.MsgPong, raw)
}

// Heartbeat is liveness only; the transport refreshed last-seen when the
// frame was read.
func (api *API) Heartbeat(ctx context.Context, s dispatch.Session, body protocol.Heartbeat) error {
	return nil
}
