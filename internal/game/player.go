package game

import (
	"sync"

	"gamehub/server/internal/protocol"
)

// PlayerState is the lifecycle state of one player.
type PlayerState string

const (
	StateInLobby      PlayerState = "in_lobby"
	StateInRoom       PlayerState = "in_room"
	StateInGame       PlayerState = "in_game"
	StateSpectating   PlayerState = "spectating"
	StateDisconnected PlayerState = "disconnected"
)

// Voice activation modes.
const (
	ActivationVoice      = "voice"
	ActivationPushToTalk = "push_to_talk"
)

// VoiceState is the per-player voice configuration and live flags.
type VoiceState struct {
	Muted          bool
	Deafened       bool
	Talking        bool
	VolumeIn       float64
	VolumeOut      float64
	PTTActive      bool
	ActivationMode string
}

// Player is the per-session game state. Its id equals the owning session id;
// the Lobby owns the Player and sessions look it up by id only.
type Player struct {
	mu sync.Mutex

	ID   string
	Name string

	Position protocol.Vec3
	Rotation protocol.Quat
	Velocity protocol.Vec3
	lastSeq  uint64

	CurrentRoom string
	Ready       bool
	State       PlayerState

	Kills  int
	Deaths int
	Score  int
	Level  int
	Health float64

	voice       VoiceState
	lastMetrics protocol.VoiceQualityMetrics
	inputDev    string
	outputDev   string
}

func newPlayer(id, name string) *Player {
	return &Player{
		ID:     id,
		Name:   name,
		State:  StateInLobby,
		Health: 100,
		Level:  1,
		voice: VoiceState{
			VolumeIn:       1.0,
			VolumeOut:      1.0,
			ActivationMode: ActivationVoice,
		},
	}
}

// UpdatePosition applies a transform update if seq is newer than the last
// applied one. Stale or duplicate datagrams return false and leave state
// untouched.
func (p *Player) UpdatePosition(seq uint64, pos protocol.Vec3, rot protocol.Quat, vel protocol.Vec3) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if seq <= p.lastSeq {
		return false
	}
	p.lastSeq = seq
	p.Position = pos
	p.Rotation = rot
	p.Velocity = vel
	return true
}

// Pos returns the current position.
func (p *Player) Pos() protocol.Vec3 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Position
}

// Room returns the player's current room id, empty when in the lobby.
func (p *Player) Room() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.CurrentRoom
}

// DisplayName returns the player's name.
func (p *Player) DisplayName() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Name
}

// LastSeq returns the highest applied position sequence number.
func (p *Player) LastSeq() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSeq
}

// SetReady sets the ready flag and reports whether it changed.
func (p *Player) SetReady(ready bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Ready == ready {
		return false
	}
	p.Ready = ready
	return true
}

// IsReady returns the ready flag.
func (p *Player) IsReady() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Ready
}

// Status returns the lifecycle state.
func (p *Player) Status() PlayerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.State
}

// SetState moves the player lifecycle state.
func (p *Player) SetState(s PlayerState) {
	p.mu.Lock()
	p.State = s
	p.mu.Unlock()
}

// ApplyAction updates stat counters for actions that carry them. Unknown
// action strings are relayed untouched, so this returns whether the action
// string is one the server classifies.
func (p *Player) ApplyAction(action string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch action {
	case "kill":
		p.Kills++
		p.Score += 100
	case "death":
		p.Deaths++
		p.Health = 0
	case "attack", "jump", "shoot", "interact":
		// Relayed as-is, no stat change.
	default:
		return false
	}
	return true
}

// Stats returns the counter snapshot.
func (p *Player) Stats() (kills, deaths, score, level int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Kills, p.Deaths, p.Score, p.Level
}

// Voice returns a copy of the voice state.
func (p *Player) Voice() VoiceState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.voice
}

// UpdateVoiceFlags applies the non-nil flags and reports whether anything
// changed.
func (p *Player) UpdateVoiceFlags(muted, deafened, talking *bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	changed := false
	if muted != nil && p.voice.Muted != *muted {
		p.voice.Muted = *muted
		changed = true
	}
	if deafened != nil && p.voice.Deafened != *deafened {
		p.voice.Deafened = *deafened
		changed = true
	}
	if talking != nil && p.voice.Talking != *talking {
		p.voice.Talking = *talking
		changed = true
	}
	return changed
}

// SetPTT sets the push-to-talk key state.
func (p *Player) SetPTT(active bool) {
	p.mu.Lock()
	p.voice.PTTActive = active
	p.mu.Unlock()
}

// SetMuted force-sets the muted flag (admin mute/unmute).
func (p *Player) SetMuted(muted bool) {
	p.mu.Lock()
	p.voice.Muted = muted
	p.mu.Unlock()
}

// ApplyVoiceSettings updates volumes and activation mode, clamping volumes
// to [0,2]. It returns the applied state.
func (p *Player) ApplyVoiceSettings(volumeIn, volumeOut *float64, mode string) VoiceState {
	p.mu.Lock()
	defer p.mu.Unlock()
	if volumeIn != nil {
		p.voice.VolumeIn = clampVolume(*volumeIn)
	}
	if volumeOut != nil {
		p.voice.VolumeOut = clampVolume(*volumeOut)
	}
	switch mode {
	case ActivationVoice, ActivationPushToTalk:
		p.voice.ActivationMode = mode
	}
	return p.voice
}

// CanSpeak reports whether this player's audio should be relayed: not muted,
// and either open-mic or push-to-talk currently held.
func (p *Player) CanSpeak() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.voice.Muted {
		return false
	}
	if p.voice.ActivationMode == ActivationPushToTalk && !p.voice.PTTActive {
		return false
	}
	return true
}

// RecordVoiceMetrics stores the latest link-quality sample.
func (p *Player) RecordVoiceMetrics(m protocol.VoiceQualityMetrics) {
	p.mu.Lock()
	p.lastMetrics = m
	p.mu.Unlock()
}

// VoiceMetrics returns the latest link-quality sample.
func (p *Player) VoiceMetrics() protocol.VoiceQualityMetrics {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastMetrics
}

// SetAudioDevices records the client's device selection.
func (p *Player) SetAudioDevices(input, output string) (string, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if input != "" {
		p.inputDev = input
	}
	if output != "" {
		p.outputDev = output
	}
	return p.inputDev, p.outputDev
}

func clampVolume(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 2:
		return 2
	}
	return v
}
