package handlers

import (
	"context"
	"log/slog"

	"gamehub/server/internal/dispatch"
	"gamehub/server/internal/game"
	"gamehub/server/internal/protocol"
)

// CreateRoom allocates a room and auto-joins the creator.
func (api *API) CreateRoom(ctx context.Context, s dispatch.Session, body protocol.CreateRoom) error {
	if api.banned(s) {
		return reply(s, protocol.MsgCreateRoomResp, protocol.CreateRoomResp{
			Result: fail(protocol.ErrKindBanned, "you are banned from this server"),
		})
	}
	api.Lobby.CreatePlayer(s.ID(), body.PlayerName)

	r, err := api.Lobby.CreateRoom(body.Name, body.MaxPlayers, body.Private, body.PasswordHash, s.ID())
	if err != nil {
		return reply(s, protocol.MsgCreateRoomResp, protocol.CreateRoomResp{
			Result: fail(protocol.ErrKindBadState, err.Error()),
		})
	}
	if err := api.Lobby.JoinRoom(s.ID(), r.ID, body.PasswordHash); err != nil {
		api.Lobby.DestroyRoom(r.ID, "creator join failed")
		return reply(s, protocol.MsgCreateRoomResp, protocol.CreateRoomResp{
			Result: fail(errKind(err), err.Error()),
		})
	}
	return reply(s, protocol.MsgCreateRoomResp, protocol.CreateRoomResp{
		Result: ok(),
		RoomID: r.ID,
	})
}

// JoinRoom places the sender into a room and announces the arrival.
func (api *API) JoinRoom(ctx context.Context, s dispatch.Session, body protocol.JoinRoom) error {
	if api.banned(s) {
		return reply(s, protocol.MsgJoinRoomResp, protocol.JoinRoomResp{
			Result: fail(protocol.ErrKindBanned, "you are banned from this server"),
		})
	}
	p := api.Lobby.CreatePlayer(s.ID(), body.PlayerName)

	if err := api.Lobby.JoinRoom(s.ID(), body.RoomID, body.PasswordHash); err != nil {
		return reply(s, protocol.MsgJoinRoomResp, protocol.JoinRoomResp{
			Result: fail(errKind(err), err.Error()),
		})
	}
	r, found := api.Lobby.GetRoom(body.RoomID)
	if !found {
		// The room was destroyed between the join and this snapshot.
		return reply(s, protocol.MsgJoinRoomResp, protocol.JoinRoomResp{
			Result: fail(protocol.ErrKindNotFound, "room no longer exists"),
		})
	}
	info := api.Lobby.RoomInfo(r)

	_ = api.Lobby.BroadcastToRoom(body.RoomID, protocol.MsgPlayerJoined, protocol.PlayerJoined{
		PlayerID:   s.ID(),
		PlayerName: p.DisplayName(),
	}, game.Reliable, s.ID())

	return reply(s, protocol.MsgJoinRoomResp, protocol.JoinRoomResp{
		Result: ok(),
		Room:   &info,
	})
}

// LeaveRoom removes the sender from its room and announces the departure.
func (api *API) LeaveRoom(ctx context.Context, s dispatch.Session, body protocol.LeaveRoom) error {
	p, found := api.player(s)
	roomID := body.RoomID
	if roomID == "" && found {
		roomID = p.Room()
	}
	if roomID == "" || !api.Lobby.LeaveRoom(s.ID(), roomID) {
		return reply(s, protocol.MsgLeaveRoomResp, protocol.LeaveRoomResp{
			Result: fail(protocol.ErrKindNotInRoom, "not a member of that room"),
		})
	}
	_ = api.Lobby.BroadcastToRoom(roomID, protocol.MsgPlayerLeft, protocol.PlayerLeft{
		PlayerID: s.ID(),
		Reason:   "left",
	}, game.Reliable, s.ID())

	return reply(s, protocol.MsgLeaveRoomResp, protocol.LeaveRoomResp{Result: ok()})
}

// RoomList returns joinable rooms: public, not full, not yet started.
func (api *API) RoomList(ctx context.Context, s dispatch.Session, body protocol.RoomList) error {
	rooms := api.Lobby.PublicRooms()
	if rooms == nil {
		rooms = []protocol.RoomInfo{}
	}
	return reply(s, protocol.MsgRoomListResp, protocol.RoomListResp{
		Result: ok(),
		Rooms:  rooms,
	})
}

// PlayerReady toggles the sender's ready flag. The room-wide ready_changed
// broadcast doubles as the acknowledgement.
func (api *API) PlayerReady(ctx context.Context, s dispatch.Session, body protocol.PlayerReady) error {
	p, found := api.player(s)
	if !found {
		return nil
	}
	roomID := p.Room()
	if roomID == "" {
		s.Violate("ready outside a room")
		return nil
	}
	if !p.SetReady(body.Ready) {
		return nil // no change, no broadcast
	}
	return api.Lobby.BroadcastToRoom(roomID, protocol.MsgReadyChanged, protocol.ReadyChanged{
		PlayerID: s.ID(),
		Ready:    body.Ready,
	}, game.Reliable, "")
}

// StartGame starts the sender's room.
func (api *API) StartGame(ctx context.Context, s dispatch.Session, body protocol.StartGame) error {
	roomID := body.RoomID
	if roomID == "" {
		if p, found := api.player(s); found {
			roomID = p.Room()
		}
	}
	if err := api.Lobby.StartGame(s.ID(), roomID); err != nil {
		return reply(s, protocol.MsgStartGameResp, protocol.StartGameResp{
			Result: fail(errKind(err), err.Error()),
		})
	}
	return reply(s, protocol.MsgStartGameResp, protocol.StartGameResp{Result: ok()})
}

// PauseGame pauses an in-progress room. Creator only.
func (api *API) PauseGame(ctx context.Context, s dispatch.Session, body protocol.GameLifecycle) error {
	return api.lifecycle(s, body.RoomID, protocol.MsgGamePaused, func(r *game.Room) error {
		return r.Pause(api.Clock.Now())
	})
}

// ResumeGame resumes a paused room. Creator only.
func (api *API) ResumeGame(ctx context.Context, s dispatch.Session, body protocol.GameLifecycle) error {
	return api.lifecycle(s, body.RoomID, protocol.MsgGameResumed, func(r *game.Room) error {
		return r.Resume(api.Clock.Now())
	})
}

// EndGame finishes a room; members fall back to the in_room state and the
// cleanup pass collects the room later.
func (api *API) EndGame(ctx context.Context, s dispatch.Session, body protocol.GameLifecycle) error {
	roomID := body.RoomID
	if roomID == "" {
		if p, found := api.player(s); found {
			roomID = p.Room()
		}
	}
	err := api.lifecycle(s, roomID, protocol.MsgGameEnded, func(r *game.Room) error {
		return r.End(api.Clock.Now())
	})
	if err != nil {
		return err
	}
	r, found := api.Lobby.GetRoom(roomID)
	if !found || r.State() != game.RoomFinished {
		return nil
	}
	for _, m := range r.Members() {
		if p, pok := api.Lobby.GetPlayer(m); pok {
			p.SetState(game.StateInRoom)
		}
	}
	api.Lobby.Events().Publish(game.Event{
		Kind:     game.EventGameEnded,
		RoomID:   roomID,
		PlayerID: s.ID(),
		TS:       api.Clock.Now(),
	})
	return nil
}

// lifecycle runs one creator-gated state transition and broadcasts it.
func (api *API) lifecycle(s dispatch.Session, roomID, bcastID string, transition func(*game.Room) error) error {
	if roomID == "" {
		if p, found := api.player(s); found {
			roomID = p.Room()
		}
	}
	r, found := api.Lobby.GetRoom(roomID)
	if !found {
		slog.Debug("lifecycle request for unknown room", "room_id", roomID, "session_id", s.ID())
		return nil
	}
	if r.CreatorID != s.ID() {
		s.Violate("lifecycle request by non-creator")
		return nil
	}
	if err := transition(r); err != nil {
		slog.Debug("lifecycle transition rejected", "room_id", roomID, "err", err)
		return nil
	}
	return api.Lobby.BroadcastToRoom(roomID, bcastID, protocol.GameLifecycle{
		RoomID: roomID,
		TS:     api.Clock.NowUnixMilli(),
	}, game.Reliable, "")
}
