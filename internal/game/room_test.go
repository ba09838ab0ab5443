package game

import (
	"errors"
	"testing"
	"time"
)

func TestRoomStateMachine(t *testing.T) {
	now := time.Now()
	r := newRoom("R1", "arena", 4, false, "", "A", now)

	if r.State() != RoomWaiting {
		t.Fatalf("initial state = %s, want waiting", r.State())
	}

	// Transitions out of order are refused.
	if err := r.MarkInProgress(now); err == nil {
		t.Fatal("in_progress from waiting must fail")
	}
	if err := r.Pause(now); err == nil {
		t.Fatal("pause from waiting must fail")
	}
	if err := r.End(now); err == nil {
		t.Fatal("end from waiting must fail")
	}

	allReady := func(string) bool { return true }
	if err := r.BeginStart(now, allReady); err != nil {
		t.Fatalf("begin start: %v", err)
	}
	if err := r.BeginStart(now, allReady); err == nil {
		t.Fatal("double start must fail")
	}
	if err := r.MarkInProgress(now); err != nil {
		t.Fatalf("mark in progress: %v", err)
	}
	if err := r.Pause(now); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := r.Resume(now); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if err := r.End(now); err != nil {
		t.Fatalf("end: %v", err)
	}
	if r.State() != RoomFinished {
		t.Fatalf("final state = %s, want finished", r.State())
	}
	// Finished is terminal.
	if err := r.Resume(now); err == nil {
		t.Fatal("resume from finished must fail")
	}
}

func TestBeginStartChecksMembersUnderLock(t *testing.T) {
	now := time.Now()
	r := newRoom("R1", "arena", 4, false, "", "A", now)
	for _, id := range []string{"A", "B"} {
		if err := r.addMember(id, now); err != nil {
			t.Fatalf("add %s: %v", id, err)
		}
	}

	err := r.BeginStart(now, func(id string) bool { return id != "B" })
	if !errors.Is(err, ErrNotAllReady) {
		t.Fatalf("expected ErrNotAllReady, got %v", err)
	}
	if r.State() != RoomWaiting {
		t.Fatalf("state = %s after refused start, want waiting", r.State())
	}

	if err := r.BeginStart(now, func(string) bool { return true }); err != nil {
		t.Fatalf("begin start: %v", err)
	}
	if r.State() != RoomStarting {
		t.Fatalf("state = %s, want starting", r.State())
	}
}

func TestRoomMemberOrderPreserved(t *testing.T) {
	now := time.Now()
	r := newRoom("R1", "arena", 4, false, "", "A", now)
	for _, id := range []string{"A", "B", "C", "D"} {
		if err := r.addMember(id, now); err != nil {
			t.Fatalf("add %s: %v", id, err)
		}
	}
	if !r.removeMember("B", now) {
		t.Fatal("remove B failed")
	}
	got := r.Members()
	want := []string{"A", "C", "D"}
	if len(got) != len(want) {
		t.Fatalf("members = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("member %d = %s, want %s (join order must survive removal)", i, got[i], want[i])
		}
	}
}

func TestRoomAudioRange(t *testing.T) {
	r := newRoom("R1", "arena", 4, false, "", "A", time.Now())

	min, max := r.AudioRange(1, 50)
	if min != 1 || max != 50 {
		t.Fatalf("defaults = %v/%v, want 1/50", min, max)
	}

	r.SetSetting(SettingMinDist, 2.0)
	r.SetSetting(SettingMaxDist, 20.0)
	min, max = r.AudioRange(1, 50)
	if min != 2 || max != 20 {
		t.Fatalf("overridden = %v/%v, want 2/20", min, max)
	}

	// Inverted settings fall back to defaults.
	r.SetSetting(SettingMaxDist, 1.0)
	min, max = r.AudioRange(1, 50)
	if min != 1 || max != 50 {
		t.Fatalf("inverted range = %v/%v, want defaults", min, max)
	}
}

func TestGain(t *testing.T) {
	cases := []struct {
		d, min, max, want float64
	}{
		{0, 1, 11, 1},
		{1, 1, 11, 1},
		{6, 1, 11, 0.5},
		{11, 1, 11, 0},
		{20, 1, 11, 0},
	}
	for _, c := range cases {
		if got := Gain(c.d, c.min, c.max); got != c.want {
			t.Fatalf("Gain(%v, %v, %v) = %v, want %v", c.d, c.min, c.max, got, c.want)
		}
	}
}

func TestPlayerCanSpeak(t *testing.T) {
	p := newPlayer("A", "alice")
	if !p.CanSpeak() {
		t.Fatal("open-mic default must be able to speak")
	}
	p.SetMuted(true)
	if p.CanSpeak() {
		t.Fatal("muted player must not speak")
	}
	p.SetMuted(false)

	p.ApplyVoiceSettings(nil, nil, ActivationPushToTalk)
	if p.CanSpeak() {
		t.Fatal("ptt without key held must not speak")
	}
	p.SetPTT(true)
	if !p.CanSpeak() {
		t.Fatal("ptt with key held must speak")
	}
}

func TestPlayerApplyAction(t *testing.T) {
	p := newPlayer("A", "alice")
	if !p.ApplyAction("kill") {
		t.Fatal("kill not classified")
	}
	if !p.ApplyAction("death") {
		t.Fatal("death not classified")
	}
	if !p.ApplyAction("jump") {
		t.Fatal("jump not classified")
	}
	if p.ApplyAction("dance") {
		t.Fatal("unknown action classified")
	}
	kills, deaths, score, _ := p.Stats()
	if kills != 1 || deaths != 1 || score != 100 {
		t.Fatalf("stats = %d/%d/%d, want 1/1/100", kills, deaths, score)
	}
}

func TestVolumeClamp(t *testing.T) {
	p := newPlayer("A", "alice")
	in, out := 5.0, -1.0
	v := p.ApplyVoiceSettings(&in, &out, "")
	if v.VolumeIn != 2 || v.VolumeOut != 0 {
		t.Fatalf("volumes = %v/%v, want 2/0", v.VolumeIn, v.VolumeOut)
	}
}
