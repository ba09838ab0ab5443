package game

import (
	"errors"
	"sync"
	"testing"
	"time"

	"gamehub/server/internal/clock"
	"gamehub/server/internal/protocol"
)

// fakeSender records every send for assertions.
type fakeSender struct {
	mu        sync.Mutex
	frames    []string
	datagrams []string
	fail      bool
}

func (f *fakeSender) SendFrame(msgID string, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("boom")
	}
	f.frames = append(f.frames, msgID)
	return nil
}

func (f *fakeSender) SendDatagram(msgID string, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("boom")
	}
	f.datagrams = append(f.datagrams, msgID)
	return nil
}

func (f *fakeSender) count(msgID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, id := range f.frames {
		if id == msgID {
			n++
		}
	}
	for _, id := range f.datagrams {
		if id == msgID {
			n++
		}
	}
	return n
}

func newTestLobby() *Lobby {
	return NewLobby(clock.New(), NewEventBus(), 1.0, 50.0)
}

func addPlayer(t *testing.T, l *Lobby, id, name string) *fakeSender {
	t.Helper()
	l.CreatePlayer(id, name)
	s := &fakeSender{}
	l.Attach(id, s)
	return s
}

func TestCreateJoinStart(t *testing.T) {
	l := newTestLobby()
	sa := addPlayer(t, l, "A", "alice")
	sb := addPlayer(t, l, "B", "bob")

	r, err := l.CreateRoom("arena", 2, false, "", "A")
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	if r.ID != "R1" {
		t.Fatalf("room id = %q, want R1", r.ID)
	}
	if err := l.JoinRoom("A", r.ID, ""); err != nil {
		t.Fatalf("A join: %v", err)
	}
	if err := l.JoinRoom("B", r.ID, ""); err != nil {
		t.Fatalf("B join: %v", err)
	}

	pa, _ := l.GetPlayer("A")
	pb, _ := l.GetPlayer("B")
	pa.SetReady(true)

	// Start must be refused until everyone is ready.
	if err := l.StartGame("A", r.ID); !errors.Is(err, ErrNotAllReady) {
		t.Fatalf("expected ErrNotAllReady, got %v", err)
	}
	pb.SetReady(true)

	// Only the creator may start.
	if err := l.StartGame("B", r.ID); !errors.Is(err, ErrNotCreator) {
		t.Fatalf("expected ErrNotCreator, got %v", err)
	}

	if err := l.StartGame("A", r.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if got := r.State(); got != RoomInProgress {
		t.Fatalf("room state = %s, want in_progress", got)
	}
	if sa.count(protocol.MsgGameStarted) != 1 || sb.count(protocol.MsgGameStarted) != 1 {
		t.Fatalf("game_started delivery: A=%d B=%d, want 1/1",
			sa.count(protocol.MsgGameStarted), sb.count(protocol.MsgGameStarted))
	}
}

func TestJoinWrongPassword(t *testing.T) {
	l := newTestLobby()
	addPlayer(t, l, "A", "alice")
	addPlayer(t, l, "C", "carol")

	r, err := l.CreateRoom("secret", 4, true, "H(pw)", "A")
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	if err := l.JoinRoom("C", r.ID, "H(bad)"); !errors.Is(err, ErrWrongPassword) {
		t.Fatalf("expected ErrWrongPassword, got %v", err)
	}
	if r.HasMember("C") {
		t.Fatal("C must not be a member after a failed join")
	}
	if err := l.JoinRoom("C", r.ID, "H(pw)"); err != nil {
		t.Fatalf("join with correct hash: %v", err)
	}
}

func TestCapacityAndUniqueness(t *testing.T) {
	l := newTestLobby()
	addPlayer(t, l, "A", "a")
	addPlayer(t, l, "B", "b")
	addPlayer(t, l, "C", "c")

	r1, _ := l.CreateRoom("one", 2, false, "", "A")
	r2, _ := l.CreateRoom("two", 2, false, "", "B")

	if err := l.JoinRoom("A", r1.ID, ""); err != nil {
		t.Fatalf("A join r1: %v", err)
	}
	if err := l.JoinRoom("B", r1.ID, ""); err != nil {
		t.Fatalf("B join r1: %v", err)
	}
	if err := l.JoinRoom("C", r1.ID, ""); !errors.Is(err, ErrFull) {
		t.Fatalf("expected ErrFull, got %v", err)
	}
	if r1.MemberCount() > r1.MaxPlayers {
		t.Fatalf("capacity violated: %d > %d", r1.MemberCount(), r1.MaxPlayers)
	}

	// A player appears in at most one room.
	if err := l.JoinRoom("A", r2.ID, ""); !errors.Is(err, ErrAlreadyInRoom) {
		t.Fatalf("expected ErrAlreadyInRoom, got %v", err)
	}
	if r2.HasMember("A") {
		t.Fatal("A must not appear in two rooms")
	}
}

func TestConcurrentJoinsKeepPlayerInOneRoom(t *testing.T) {
	for i := 0; i < 200; i++ {
		l := newTestLobby()
		addPlayer(t, l, "P", "p")
		r1, _ := l.CreateRoom("one", 4, false, "", "P")
		r2, _ := l.CreateRoom("two", 4, false, "", "P")

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for j, id := range []string{r1.ID, r2.ID} {
			wg.Add(1)
			go func(slot int, roomID string) {
				defer wg.Done()
				errs[slot] = l.JoinRoom("P", roomID, "")
			}(j, id)
		}
		wg.Wait()

		if r1.HasMember("P") && r2.HasMember("P") {
			t.Fatalf("iteration %d: P is a member of both rooms", i)
		}
		ok := 0
		for _, err := range errs {
			if err == nil {
				ok++
			}
		}
		if ok != 1 {
			t.Fatalf("iteration %d: %d joins succeeded, want exactly 1 (%v)", i, ok, errs)
		}
	}
}

func TestStartExcludesConcurrentNonReadyJoiner(t *testing.T) {
	for i := 0; i < 200; i++ {
		l := newTestLobby()
		addPlayer(t, l, "A", "a")
		addPlayer(t, l, "B", "b")
		r, _ := l.CreateRoom("arena", 4, false, "", "A")
		if err := l.JoinRoom("A", r.ID, ""); err != nil {
			t.Fatalf("A join: %v", err)
		}
		pa, _ := l.GetPlayer("A")
		pa.SetReady(true)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = l.StartGame("A", r.ID)
		}()
		go func() {
			defer wg.Done()
			_ = l.JoinRoom("B", r.ID, "")
		}()
		wg.Wait()

		// B never set ready, so B may only be a member while the room is
		// still waiting. A started room must not contain a non-ready player.
		if st := r.State(); st != RoomWaiting && r.HasMember("B") {
			t.Fatalf("iteration %d: room is %s with non-ready member B", i, st)
		}
	}
}

func TestLateJoinGate(t *testing.T) {
	l := newTestLobby()
	addPlayer(t, l, "A", "a")
	addPlayer(t, l, "B", "b")

	r, _ := l.CreateRoom("arena", 4, false, "", "A")
	if err := l.JoinRoom("A", r.ID, ""); err != nil {
		t.Fatalf("join: %v", err)
	}
	pa, _ := l.GetPlayer("A")
	pa.SetReady(true)
	if err := l.StartGame("A", r.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := l.JoinRoom("B", r.ID, ""); !errors.Is(err, ErrBadState) {
		t.Fatalf("expected ErrBadState for in-progress join, got %v", err)
	}
	r.SetSetting(SettingLateJoin, true)
	if err := l.JoinRoom("B", r.ID, ""); err != nil {
		t.Fatalf("late join with late_join=true: %v", err)
	}
}

func TestBroadcastCoverageAndExclusion(t *testing.T) {
	l := newTestLobby()
	senders := map[string]*fakeSender{
		"A": addPlayer(t, l, "A", "a"),
		"B": addPlayer(t, l, "B", "b"),
		"C": addPlayer(t, l, "C", "c"),
	}
	r, _ := l.CreateRoom("arena", 4, false, "", "A")
	for id := range senders {
		if err := l.JoinRoom(id, r.ID, ""); err != nil {
			t.Fatalf("%s join: %v", id, err)
		}
	}
	senders["B"].fail = true

	err := l.BroadcastToRoom(r.ID, protocol.MsgChatBcast, protocol.ChatBroadcast{Message: "hi"}, Reliable, "A")
	if err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	if got := senders["A"].count(protocol.MsgChatBcast); got != 0 {
		t.Fatalf("excluded sender got %d messages", got)
	}
	// B's failure must not stop delivery to C, and C gets exactly one copy.
	if got := senders["C"].count(protocol.MsgChatBcast); got != 1 {
		t.Fatalf("C received %d copies, want 1", got)
	}
}

func TestRemovePlayerLeavesRoomAndNotifies(t *testing.T) {
	l := newTestLobby()
	addPlayer(t, l, "A", "a")
	sb := addPlayer(t, l, "B", "b")

	r, _ := l.CreateRoom("arena", 4, false, "", "A")
	_ = l.JoinRoom("A", r.ID, "")
	_ = l.JoinRoom("B", r.ID, "")

	l.RemovePlayer("A")
	if r.HasMember("A") {
		t.Fatal("A still a room member after removal")
	}
	if _, ok := l.GetPlayer("A"); ok {
		t.Fatal("A still registered after removal")
	}
	if sb.count(protocol.MsgPlayerLeft) != 1 {
		t.Fatalf("B received %d player_left, want 1", sb.count(protocol.MsgPlayerLeft))
	}
	// Idempotent.
	l.RemovePlayer("A")
}

func TestDestroyRoomUnsetsCurrentRoom(t *testing.T) {
	l := newTestLobby()
	sa := addPlayer(t, l, "A", "a")
	r, _ := l.CreateRoom("arena", 4, false, "", "A")
	_ = l.JoinRoom("A", r.ID, "")

	if !l.DestroyRoom(r.ID, "test") {
		t.Fatal("destroy returned false")
	}
	p, _ := l.GetPlayer("A")
	p.mu.Lock()
	current := p.CurrentRoom
	p.mu.Unlock()
	if current != "" {
		t.Fatalf("current_room = %q after destroy, want empty", current)
	}
	if sa.count(protocol.MsgRoomClosed) != 1 {
		t.Fatalf("A received %d room_closed, want 1", sa.count(protocol.MsgRoomClosed))
	}
	if l.DestroyRoom(r.ID, "again") {
		t.Fatal("second destroy must return false")
	}
}

func TestPublicRoomsFiltering(t *testing.T) {
	l := newTestLobby()
	addPlayer(t, l, "A", "a")
	addPlayer(t, l, "B", "b")

	pub, _ := l.CreateRoom("open", 4, false, "", "A")
	_, _ = l.CreateRoom("hidden", 4, true, "h", "A")
	full, _ := l.CreateRoom("tight", 1, false, "", "B")
	_ = l.JoinRoom("B", full.ID, "")

	rooms := l.PublicRooms()
	if len(rooms) != 1 || rooms[0].ID != pub.ID {
		t.Fatalf("public rooms = %+v, want only %s", rooms, pub.ID)
	}
}

func TestRelayAudioPositionalGain(t *testing.T) {
	l := newTestLobby()
	addPlayer(t, l, "A", "a")
	sb := addPlayer(t, l, "B", "b")
	sc := addPlayer(t, l, "C", "c")

	r, _ := l.CreateRoom("arena", 4, false, "", "A")
	for _, id := range []string{"A", "B", "C"} {
		if err := l.JoinRoom(id, r.ID, ""); err != nil {
			t.Fatalf("%s join: %v", id, err)
		}
	}
	r.SetSetting(SettingMinDist, 1.0)
	r.SetSetting(SettingMaxDist, 11.0)

	pa, _ := l.GetPlayer("A")
	pb, _ := l.GetPlayer("B")
	pc, _ := l.GetPlayer("C")
	pa.UpdatePosition(1, protocol.Vec3{}, protocol.Quat{W: 1}, protocol.Vec3{})
	pb.UpdatePosition(1, protocol.Vec3{X: 6}, protocol.Quat{W: 1}, protocol.Vec3{})
	pc.UpdatePosition(1, protocol.Vec3{X: 20}, protocol.Quat{W: 1}, protocol.Vec3{})

	reached := l.RelayAudio("A", protocol.AudioPacket{Seq: 1, Data: []byte{1, 2, 3}})
	if reached != 1 {
		t.Fatalf("reached = %d, want 1 (only B)", reached)
	}
	if sb.count(protocol.MsgAudioBcast) != 1 {
		t.Fatalf("B audio count = %d, want 1", sb.count(protocol.MsgAudioBcast))
	}
	if sc.count(protocol.MsgAudioBcast) != 0 {
		t.Fatal("C beyond max_dist must receive nothing")
	}
}

func TestRelayAudioRespectsMuteAndDeafen(t *testing.T) {
	l := newTestLobby()
	addPlayer(t, l, "A", "a")
	sb := addPlayer(t, l, "B", "b")

	r, _ := l.CreateRoom("arena", 4, false, "", "A")
	_ = l.JoinRoom("A", r.ID, "")
	_ = l.JoinRoom("B", r.ID, "")

	pa, _ := l.GetPlayer("A")
	pb, _ := l.GetPlayer("B")

	pa.SetMuted(true)
	if got := l.RelayAudio("A", protocol.AudioPacket{Seq: 1}); got != 0 {
		t.Fatalf("muted sender relayed to %d listeners", got)
	}
	pa.SetMuted(false)

	deaf := true
	pb.UpdateVoiceFlags(nil, &deaf, nil)
	if got := l.RelayAudio("A", protocol.AudioPacket{Seq: 2}); got != 0 {
		t.Fatalf("deafened listener reached: %d", got)
	}
	if sb.count(protocol.MsgAudioBcast) != 0 {
		t.Fatal("deafened listener must receive nothing")
	}
}

func TestStalePositionUpdate(t *testing.T) {
	l := newTestLobby()
	addPlayer(t, l, "A", "a")
	p := l.CreatePlayer("A", "a")

	if !p.UpdatePosition(7, protocol.Vec3{X: 1}, protocol.Quat{W: 1}, protocol.Vec3{}) {
		t.Fatal("seq 7 rejected")
	}
	if p.UpdatePosition(5, protocol.Vec3{X: 9, Y: 9, Z: 9}, protocol.Quat{W: 1}, protocol.Vec3{}) {
		t.Fatal("stale seq 5 accepted")
	}
	if got := p.Pos(); got.X != 1 || got.Y != 0 || got.Z != 0 {
		t.Fatalf("position = %+v, want {1 0 0}", got)
	}
}

func TestCleanupRooms(t *testing.T) {
	l := newTestLobby()
	addPlayer(t, l, "A", "a")

	finished, _ := l.CreateRoom("done", 2, false, "", "A")
	_ = l.JoinRoom("A", finished.ID, "")
	pa, _ := l.GetPlayer("A")
	pa.SetReady(true)
	if err := l.StartGame("A", finished.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := finished.End(time.Now()); err != nil {
		t.Fatalf("end: %v", err)
	}

	idle, _ := l.CreateRoom("idle", 2, false, "", "A")
	_ = idle // never joined, becomes idle

	if n := l.CleanupRooms(0); n != 2 {
		t.Fatalf("cleanup destroyed %d rooms, want 2", n)
	}
	if _, ok := l.GetRoom(finished.ID); ok {
		t.Fatal("finished room survived cleanup")
	}
}

func TestEventBusSeesLifecycle(t *testing.T) {
	l := newTestLobby()
	var mu sync.Mutex
	var kinds []EventKind
	l.Events().Subscribe(func(ev Event) {
		mu.Lock()
		kinds = append(kinds, ev.Kind)
		mu.Unlock()
	})

	addPlayer(t, l, "A", "a")
	r, _ := l.CreateRoom("arena", 2, false, "", "A")
	_ = l.JoinRoom("A", r.ID, "")
	_ = l.LeaveRoom("A", r.ID)
	_ = l.DestroyRoom(r.ID, "test")

	mu.Lock()
	defer mu.Unlock()
	want := []EventKind{EventRoomCreated, EventPlayerJoined, EventPlayerLeft, EventRoomDestroyed}
	if len(kinds) != len(want) {
		t.Fatalf("events = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("event %d = %s, want %s", i, kinds[i], want[i])
		}
	}
}
