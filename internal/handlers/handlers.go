// Package handlers implements the message catalogue: every inbound id is
// mapped to a method on API, registered on the dispatcher at startup.
package handlers

import (
	"errors"
	"log/slog"

	"gamehub/server/internal/clock"
	"gamehub/server/internal/dispatch"
	"gamehub/server/internal/game"
	"gamehub/server/internal/protocol"
	"gamehub/server/internal/store"
)

// API carries the shared dependencies of all handlers.
type API struct {
	Lobby *game.Lobby
	Clock *clock.Clock
	Bans  *store.Bans
}

// RegisterAll wires the whole catalogue onto the dispatcher.
func RegisterAll(d *dispatch.Dispatcher, api *API) {
	// Lobby.
	dispatch.Register(d, protocol.MsgCreateRoom, api.CreateRoom)
	dispatch.Register(d, protocol.MsgJoinRoom, api.JoinRoom)
	dispatch.Register(d, protocol.MsgLeaveRoom, api.LeaveRoom)
	dispatch.Register(d, protocol.MsgRoomList, api.RoomList)
	dispatch.Register(d, protocol.MsgPlayerReady, api.PlayerReady)
	dispatch.Register(d, protocol.MsgStartGame, api.StartGame)
	dispatch.Register(d, protocol.MsgPauseGame, api.PauseGame)
	dispatch.Register(d, protocol.MsgResumeGame, api.ResumeGame)
	dispatch.Register(d, protocol.MsgEndGame, api.EndGame)

	// Gameplay.
	dispatch.Register(d, protocol.MsgPosition, api.Position)
	dispatch.Register(d, protocol.MsgPlayerAction, api.PlayerAction)
	dispatch.Register(d, protocol.MsgChat, api.Chat)
	dispatch.Register(d, protocol.MsgPing, api.Ping)
	dispatch.Register(d, protocol.MsgHeartbeat, api.Heartbeat)

	// Voice.
	dispatch.Register(d, protocol.MsgAudio, api.Audio)
	dispatch.Register(d, protocol.MsgVoiceState, api.VoiceState)
	dispatch.Register(d, protocol.MsgPushToTalk, api.PushToTalk)
	dispatch.Register(d, protocol.MsgVoiceSettings, api.VoiceSettings)
	dispatch.Register(d, protocol.MsgVoiceMetrics, api.VoiceMetrics)
	dispatch.Register(d, protocol.MsgAudioDevice, api.AudioDevice)
}

func ok() protocol.Result {
	return protocol.Result{OK: true}
}

func fail(kind, msg string) protocol.Result {
	return protocol.Result{OK: false, ErrorKind: kind, Message: msg}
}

// errKind maps lobby errors to wire error kinds.
func errKind(err error) string {
	switch {
	case errors.Is(err, game.ErrNotFound):
		return protocol.ErrKindNotFound
	case errors.Is(err, game.ErrFull):
		return protocol.ErrKindFull
	case errors.Is(err, game.ErrWrongPassword):
		return protocol.ErrKindWrongPassword
	case errors.Is(err, game.ErrAlreadyInRoom):
		return protocol.ErrKindAlreadyInRoom
	case errors.Is(err, game.ErrNotInRoom):
		return protocol.ErrKindNotInRoom
	case errors.Is(err, game.ErrNotCreator):
		return protocol.ErrKindUnauthorized
	case errors.Is(err, game.ErrNotAllReady):
		return protocol.ErrKindNotReady
	case errors.Is(err, game.ErrBadState):
		return protocol.ErrKindBadState
	default:
		return protocol.ErrKindBadState
	}
}

// reply sends a typed response on the reliable channel. Send failures are
// already fatal to the session, so they are only logged here.
func reply(s dispatch.Session, msgID string, body any) error {
	raw, err := protocol.EncodeBody(body)
	if err != nil {
		return err
	}
	if err := s.SendFrame(msgID, raw); err != nil {
		slog.Debug("reply dropped", "msg_id", msgID, "session_id", s.ID(), "err", err)
	}
	return nil
}

// player resolves the sender's player. Handlers that require registration
// respond not_found through their own reply when this returns false.
func (api *API) player(s dispatch.Session) (*game.Player, bool) {
	return api.Lobby.GetPlayer(s.ID())
}

// banned reports whether the session's player id is currently banned.
func (api *API) banned(s dispatch.Session) bool {
	return api.Bans != nil && api.Bans.IsBanned(s.ID(), api.Clock.Now())
}
