package handlers

import (
	"context"
	"log/slog"

	"gamehub/server/internal/dispatch"
	"gamehub/server/internal/game"
	"gamehub/server/internal/protocol"
)

// Audio relays an opaque voice payload with per-listener positional gain.
// The lobby enforces the speak gate and skips deafened listeners.
func (api *API) Audio(ctx context.Context, s dispatch.Session, body protocol.AudioPacket) error {
	api.Lobby.RelayAudio(s.ID(), body)
	return nil
}

// VoiceState applies mute/deafen/talking flags and broadcasts the change.
func (api *API) VoiceState(ctx context.Context, s dispatch.Session, body protocol.VoiceStateUpdate) error {
	p, found := api.player(s)
	if !found {
		return nil
	}
	if !p.UpdateVoiceFlags(body.Muted, body.Deafened, body.Talking) {
		return nil
	}
	roomID := p.Room()
	if roomID == "" {
		return nil
	}
	v := p.Voice()
	return api.Lobby.BroadcastToRoom(roomID, protocol.MsgVoiceStateBcast, protocol.VoiceStateBroadcast{
		PlayerID: s.ID(),
		Muted:    v.Muted,
		Deafened: v.Deafened,
		Talking:  v.Talking,
	}, game.Reliable, "")
}

// PushToTalk records the sender's push-to-talk key state. No broadcast: the
// gate is applied server-side on the next audio packet.
func (api *API) PushToTalk(ctx context.Context, s dispatch.Session, body protocol.PushToTalkState) error {
	if p, found := api.player(s); found {
		p.SetPTT(body.Active)
	}
	return nil
}

// VoiceSettings applies volumes and activation mode, replying with the
// clamped values actually in effect.
func (api *API) VoiceSettings(ctx context.Context, s dispatch.Session, body protocol.VoiceSettingsUpdate) error {
	p, found := api.player(s)
	if !found {
		return reply(s, protocol.MsgVoiceSettingsResp, protocol.VoiceSettingsResp{
			Result: fail(protocol.ErrKindNotFound, "no player for session"),
		})
	}
	v := p.ApplyVoiceSettings(body.VolumeIn, body.VolumeOut, body.ActivationMode)
	return reply(s, protocol.MsgVoiceSettingsResp, protocol.VoiceSettingsResp{
		Result:         ok(),
		VolumeIn:       v.VolumeIn,
		VolumeOut:      v.VolumeOut,
		ActivationMode: v.ActivationMode,
	})
}

// VoiceMetrics stores the latest link-quality sample for the player.
func (api *API) VoiceMetrics(ctx context.Context, s dispatch.Session, body protocol.VoiceQualityMetrics) error {
	p, found := api.player(s)
	if !found {
		return nil
	}
	p.RecordVoiceMetrics(body)
	slog.Debug("voice metrics",
		"player_id", s.ID(),
		"packet_loss", body.PacketLoss,
		"jitter_ms", body.JitterMS,
		"rtt_ms", body.RTTMS)
	return nil
}

// AudioDevice records the client's device selection and acknowledges it.
func (api *API) AudioDevice(ctx context.Context, s dispatch.Session, body protocol.AudioDeviceRequest) error {
	p, found := api.player(s)
	if !found {
		return reply(s, protocol.MsgAudioDeviceResp, protocol.AudioDeviceResp{
			Result: fail(protocol.ErrKindNotFound, "no player for session"),
		})
	}
	in, out := p.SetAudioDevices(body.InputDevice, body.OutputDevice)
	return reply(s, protocol.MsgAudioDeviceResp, protocol.AudioDeviceResp{
		Result:       ok(),
		InputDevice:  in,
		OutputDevice: out,
	})
}
