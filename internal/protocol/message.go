// Package protocol defines the wire protocol: message ids, their typed JSON
// bodies, and the frame codec for the reliable and datagram channels.
package protocol

// Message ids carried on the wire. Request ids arrive from clients; the
// matching *_resp id goes back on the reliable channel, and broadcast ids
// fan out to room members.
const (
	// Control (server → client).
	MsgWelcome        = "welcome"
	MsgServerFull     = "server_full"
	MsgServerShutdown = "server_shutdown"
	MsgServerNotice   = "server_notice"
	MsgKicked         = "kicked"

	// Lobby.
	MsgCreateRoom     = "create_room"
	MsgCreateRoomResp = "create_room_resp"
	MsgJoinRoom       = "join_room"
	MsgJoinRoomResp   = "join_room_resp"
	MsgLeaveRoom      = "leave_room"
	MsgLeaveRoomResp  = "leave_room_resp"
	MsgRoomList       = "room_list"
	MsgRoomListResp   = "room_list_resp"
	MsgPlayerReady    = "player_ready"
	MsgStartGame      = "start_game"
	MsgStartGameResp  = "start_game_resp"
	MsgPauseGame      = "pause_game"
	MsgResumeGame     = "resume_game"
	MsgEndGame        = "end_game"

	// Lobby broadcasts.
	MsgPlayerJoined = "player_joined"
	MsgPlayerLeft   = "player_left"
	MsgReadyChanged = "ready_changed"
	MsgGameStarted  = "game_started"
	MsgGamePaused   = "game_paused"
	MsgGameResumed  = "game_resumed"
	MsgGameEnded    = "game_ended"
	MsgRoomClosed   = "room_closed"

	// Gameplay.
	MsgPosition      = "position"
	MsgPositionBcast = "position_bcast"
	MsgPlayerAction  = "player_action"
	MsgActionBcast   = "action_bcast"
	MsgChat          = "chat"
	MsgChatBcast     = "chat_bcast"
	MsgPing          = "ping"
	MsgPong          = "pong"
	MsgHeartbeat     = "heartbeat"

	// Voice.
	MsgAudio             = "audio"
	MsgAudioBcast        = "audio_bcast"
	MsgVoiceState        = "voice_state"
	MsgVoiceStateBcast   = "voice_state_bcast"
	MsgPushToTalk        = "ptt"
	MsgVoiceSettings     = "voice_settings"
	MsgVoiceSettingsResp = "voice_settings_resp"
	MsgVoiceMetrics      = "voice_metrics"
	MsgAudioDevice       = "audio_device"
	MsgAudioDeviceResp   = "audio_device_resp"
)

// Error kinds carried in response bodies.
const (
	ErrKindFull              = "full"
	ErrKindNotFound          = "not_found"
	ErrKindWrongPassword     = "wrong_password"
	ErrKindAlreadyInRoom     = "already_in_room"
	ErrKindNotInRoom         = "not_in_room"
	ErrKindNotReady          = "not_ready"
	ErrKindBadState          = "bad_state"
	ErrKindUnauthorized      = "unauthorized"
	ErrKindProtocolViolation = "protocol_violation"
	ErrKindStoreError        = "store_error"
	ErrKindBanned            = "banned"
)

// Vec3 is a 3-D position or velocity.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Quat is an orientation quaternion.
type Quat struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

// Result is the common shape of every request-style reply.
type Result struct {
	OK        bool   `json:"ok"`
	ErrorKind string `json:"error_kind,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Welcome is the first control frame on the reliable channel. The session id
// it carries must be echoed in every datagram the client sends.
type Welcome struct {
	SessionID  string `json:"session_id"`
	ServerTime int64  `json:"server_time"` // Unix ms
}

// ServerShutdown announces a graceful shutdown before sessions drain.
type ServerShutdown struct {
	Reason string `json:"reason,omitempty"`
}

// ServerNotice is an operator-initiated broadcast to every session.
type ServerNotice struct {
	Message string `json:"message"`
	TS      int64  `json:"ts"`
}

// Kicked tells a session it is being disconnected by an operator.
type Kicked struct {
	Reason string `json:"reason,omitempty"`
}

// RoomInfo is a snapshot of one room, used in replies and listings.
type RoomInfo struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	MaxPlayers int      `json:"max_players"`
	Private    bool     `json:"private"`
	State      string   `json:"state"`
	Players    []string `json:"players,omitempty"` // display names, join order
	CreatorID  string   `json:"creator_id,omitempty"`
}

// CreateRoom allocates a new room.
type CreateRoom struct {
	Name         string `json:"name"`
	MaxPlayers   int    `json:"max_players"`
	Private      bool   `json:"private,omitempty"`
	PasswordHash string `json:"password_hash,omitempty"`
	PlayerName   string `json:"player_name,omitempty"` // registers the creator's player if not yet known
}

// CreateRoomResp answers CreateRoom.
type CreateRoomResp struct {
	Result
	RoomID string `json:"room_id,omitempty"`
}

// JoinRoom joins an existing room by id.
type JoinRoom struct {
	RoomID       string `json:"room_id"`
	PlayerName   string `json:"player_name,omitempty"`
	PasswordHash string `json:"password_hash,omitempty"`
}

// JoinRoomResp answers JoinRoom.
type JoinRoomResp struct {
	Result
	Room *RoomInfo `json:"room,omitempty"`
}

// LeaveRoom leaves the player's current room.
type LeaveRoom struct {
	RoomID string `json:"room_id"`
}

// LeaveRoomResp answers LeaveRoom.
type LeaveRoomResp struct {
	Result
}

// RoomList requests a snapshot of joinable rooms.
type RoomList struct{}

// RoomListResp carries public, non-full rooms that have not started.
type RoomListResp struct {
	Result
	Rooms []RoomInfo `json:"rooms"`
}

// PlayerReady toggles the sender's ready flag.
type PlayerReady struct {
	Ready bool `json:"ready"`
}

// ReadyChanged is broadcast to the room when a member's ready flag changes.
type ReadyChanged struct {
	PlayerID string `json:"player_id"`
	Ready    bool   `json:"ready"`
}

// StartGame transitions the sender's room to in-progress. Only the room
// creator may start, and every member must be ready.
type StartGame struct {
	RoomID string `json:"room_id"`
}

// StartGameResp answers StartGame.
type StartGameResp struct {
	Result
}

// GameStarted is broadcast to every member when the room starts.
type GameStarted struct {
	RoomID string `json:"room_id"`
	TS     int64  `json:"ts"`
}

// GameLifecycle is the shared body for pause/resume/end requests and their
// broadcasts.
type GameLifecycle struct {
	RoomID string `json:"room_id"`
	TS     int64  `json:"ts,omitempty"`
}

// PlayerJoined is broadcast to existing members when a player joins.
type PlayerJoined struct {
	PlayerID   string `json:"player_id"`
	PlayerName string `json:"player_name"`
}

// PlayerLeft is broadcast when a player leaves or disconnects.
type PlayerLeft struct {
	PlayerID string `json:"player_id"`
	Reason   string `json:"reason,omitempty"`
}

// RoomClosed is sent to members when a room is destroyed.
type RoomClosed struct {
	RoomID string `json:"room_id"`
	Reason string `json:"reason,omitempty"`
}

// PositionUpdate is a datagram carrying the sender's transform. Seq is a
// per-player monotonic counter; stale updates are dropped server-side.
type PositionUpdate struct {
	Seq      uint64 `json:"seq"`
	Position Vec3   `json:"pos"`
	Rotation Quat   `json:"rot"`
	Velocity Vec3   `json:"vel"`
}

// PositionBroadcast relays a member's transform to the rest of the room.
type PositionBroadcast struct {
	PlayerID string `json:"player_id"`
	Seq      uint64 `json:"seq"`
	Position Vec3   `json:"pos"`
	Rotation Quat   `json:"rot"`
	Velocity Vec3   `json:"vel"`
}

// PlayerAction is a datagram describing a gameplay action.
type PlayerAction struct {
	Action   string `json:"action"` // attack|jump|shoot|interact|death|kill
	TargetID string `json:"target_id,omitempty"`
	Position *Vec3  `json:"pos,omitempty"`
}

// ActionBroadcast relays an action to the rest of the room.
type ActionBroadcast struct {
	PlayerID string `json:"player_id"`
	Action   string `json:"action"`
	TargetID string `json:"target_id,omitempty"`
	Position *Vec3  `json:"pos,omitempty"`
	TS       int64  `json:"ts"`
}

// Chat is a reliable-channel chat message.
type Chat struct {
	Message string `json:"message"`
}

// ChatBroadcast relays chat with a server-stamped timestamp.
type ChatBroadcast struct {
	PlayerID   string `json:"player_id"`
	PlayerName string `json:"player_name"`
	Message    string `json:"message"`
	TS         int64  `json:"ts"`
}

// Ping is a datagram latency probe.
type Ping struct {
	ClientTS int64 `json:"client_ts"`
}

// Pong answers Ping on the datagram channel.
type Pong struct {
	ClientTS int64 `json:"client_ts"`
	ServerTS int64 `json:"server_ts"`
}

// Heartbeat marks session liveness on the reliable channel.
type Heartbeat struct {
	TS int64 `json:"ts,omitempty"`
}

// AudioPacket is an opaque voice payload tagged with the sender's position.
// The server never decodes Data; it only computes per-listener gain.
type AudioPacket struct {
	Seq      uint64 `json:"seq"`
	Position *Vec3  `json:"pos,omitempty"`
	Data     []byte `json:"data"`
}

// AudioBroadcast relays an audio payload to one listener with the computed
// attenuation.
type AudioBroadcast struct {
	PlayerID string  `json:"player_id"`
	Seq      uint64  `json:"seq"`
	Gain     float64 `json:"gain"`
	Data     []byte  `json:"data"`
}

// VoiceStateUpdate mutates the sender's voice flags. Nil fields are left
// unchanged.
type VoiceStateUpdate struct {
	Muted    *bool `json:"muted,omitempty"`
	Deafened *bool `json:"deafened,omitempty"`
	Talking  *bool `json:"talking,omitempty"`
}

// VoiceStateBroadcast relays a member's voice flags to the room.
type VoiceStateBroadcast struct {
	PlayerID string `json:"player_id"`
	Muted    bool   `json:"muted"`
	Deafened bool   `json:"deafened"`
	Talking  bool   `json:"talking"`
}

// PushToTalkState toggles the sender's push-to-talk key state.
type PushToTalkState struct {
	Active bool `json:"active"`
}

// VoiceSettingsUpdate adjusts per-player volumes and activation mode.
type VoiceSettingsUpdate struct {
	VolumeIn       *float64 `json:"volume_in,omitempty"`
	VolumeOut      *float64 `json:"volume_out,omitempty"`
	ActivationMode string   `json:"activation_mode,omitempty"` // voice|push_to_talk
}

// VoiceSettingsResp answers VoiceSettingsUpdate with the applied values.
type VoiceSettingsResp struct {
	Result
	VolumeIn       float64 `json:"volume_in"`
	VolumeOut      float64 `json:"volume_out"`
	ActivationMode string  `json:"activation_mode"`
}

// VoiceQualityMetrics reports client-side link quality. The server logs it
// and keeps the latest sample per player.
type VoiceQualityMetrics struct {
	PacketLoss float64 `json:"packet_loss"`
	JitterMS   float64 `json:"jitter_ms"`
	RTTMS      float64 `json:"rtt_ms"`
}

// AudioDeviceRequest reports the client's audio device selection.
type AudioDeviceRequest struct {
	InputDevice  string `json:"input_device,omitempty"`
	OutputDevice string `json:"output_device,omitempty"`
}

// AudioDeviceResp acknowledges AudioDeviceRequest.
type AudioDeviceResp struct {
	Result
	InputDevice  string `json:"input_device,omitempty"`
	OutputDevice string `json:"output_device,omitempty"`
}
