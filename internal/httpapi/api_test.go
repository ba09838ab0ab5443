package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"gamehub/server/internal/clock"
	"gamehub/server/internal/game"
	"gamehub/server/internal/metrics"
	"gamehub/server/internal/protocol"
	"gamehub/server/internal/store"
)

const testToken = "sekret"

type fakeController struct {
	mu      sync.Mutex
	kicked  []string
	bcasts  []string
	clients int
}

func (f *fakeController) Kick(sessionID, reason string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range f.kicked {
		if k == sessionID {
			return false
		}
	}
	f.kicked = append(f.kicked, sessionID)
	return true
}

func (f *fakeController) Broadcast(msgID string, body []byte) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bcasts = append(f.bcasts, msgID)
	return f.clients
}

func (f *fakeController) SessionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clients
}

func newTestAPI(t *testing.T) (*API, *fakeController, *game.Lobby, *store.Bans) {
	t.Helper()
	st, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	bans, err := store.LoadBans(context.Background(), st)
	if err != nil {
		t.Fatalf("load bans: %v", err)
	}

	clk := clock.New()
	lobby := game.NewLobby(clk, nil, 1.0, 50.0)
	ctrl := &fakeController{clients: 2}
	api := New(lobby, ctrl, bans, st, clk, metrics.New(), testToken)
	return api, ctrl, lobby, bans
}

func do(t *testing.T, api *API, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	api.ServeHTTP(rec, req)
	return rec
}

func TestHealthNeedsNoToken(t *testing.T) {
	api, _, _, _ := newTestAPI(t)
	rec := do(t, api, http.MethodGet, "/health", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d", rec.Code)
	}
	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if resp.Status != "ok" || resp.Sessions != 2 {
		t.Fatalf("health = %+v", resp)
	}
}

func TestAPIRequiresToken(t *testing.T) {
	api, _, _, _ := newTestAPI(t)

	if rec := do(t, api, http.MethodGet, "/api/state", "", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token status = %d, want 401", rec.Code)
	}
	if rec := do(t, api, http.MethodGet, "/api/state", "wrong", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token status = %d, want 401", rec.Code)
	}
	if rec := do(t, api, http.MethodGet, "/api/state", testToken, ""); rec.Code != http.StatusOK {
		t.Fatalf("valid token status = %d, want 200", rec.Code)
	}
}

func TestStateSnapshot(t *testing.T) {
	api, _, lobby, _ := newTestAPI(t)
	lobby.CreatePlayer("A", "alice")
	if _, err := lobby.CreateRoom("arena", 4, false, "", "A"); err != nil {
		t.Fatalf("create room: %v", err)
	}

	rec := do(t, api, http.MethodGet, "/api/state", testToken, "")
	var resp StateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if resp.Players != 1 || resp.Rooms != 1 || resp.ServerTime == 0 {
		t.Fatalf("state = %+v", resp)
	}
}

func TestRoomListAndClose(t *testing.T) {
	api, _, lobby, _ := newTestAPI(t)
	lobby.CreatePlayer("A", "alice")
	r, _ := lobby.CreateRoom("arena", 4, false, "", "A")

	rec := do(t, api, http.MethodGet, "/api/rooms", testToken, "")
	var rooms []protocol.RoomInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &rooms); err != nil {
		t.Fatalf("decode rooms: %v", err)
	}
	if len(rooms) != 1 || rooms[0].ID != r.ID {
		t.Fatalf("rooms = %+v", rooms)
	}

	if rec := do(t, api, http.MethodPost, "/api/rooms/"+r.ID+"/close", testToken, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("close status = %d", rec.Code)
	}
	if _, found := lobby.GetRoom(r.ID); found {
		t.Fatal("room survived close")
	}
	if rec := do(t, api, http.MethodPost, "/api/rooms/nope/close", testToken, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("close missing room status = %d", rec.Code)
	}
}

func TestKickPlayer(t *testing.T) {
	api, ctrl, lobby, _ := newTestAPI(t)
	lobby.CreatePlayer("A", "alice")

	rec := do(t, api, http.MethodPost, "/api/players/A/kick", testToken, `{"reason":"afk"}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("kick status = %d", rec.Code)
	}
	if len(ctrl.kicked) != 1 || ctrl.kicked[0] != "A" {
		t.Fatalf("kicked = %v", ctrl.kicked)
	}
	if _, found := lobby.GetPlayer("A"); found {
		t.Fatal("player survived kick")
	}

	if rec := do(t, api, http.MethodPost, "/api/players/ghost/kick", testToken, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("kick unknown status = %d", rec.Code)
	}
}

func TestBanLifecycle(t *testing.T) {
	api, ctrl, lobby, bans := newTestAPI(t)
	lobby.CreatePlayer("B", "bob")

	rec := do(t, api, http.MethodPost, "/api/bans", testToken,
		`{"player_id":"B","reason":"speed hack","duration_seconds":3600}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("ban status = %d body=%s", rec.Code, rec.Body.String())
	}
	if !bans.IsBanned("B", api.clk.Now()) {
		t.Fatal("ban not in effect")
	}
	if len(ctrl.kicked) != 1 || ctrl.kicked[0] != "B" {
		t.Fatal("banned player not evicted")
	}

	rec = do(t, api, http.MethodGet, "/api/bans", testToken, "")
	var listed []store.Ban
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode bans: %v", err)
	}
	if len(listed) != 1 || listed[0].PlayerID != "B" || listed[0].Until == nil {
		t.Fatalf("listed bans = %+v", listed)
	}

	if rec := do(t, api, http.MethodDelete, "/api/bans/B", testToken, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("unban status = %d", rec.Code)
	}
	if bans.IsBanned("B", api.clk.Now()) {
		t.Fatal("ban survived delete")
	}
	if rec := do(t, api, http.MethodDelete, "/api/bans/B", testToken, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("double unban status = %d", rec.Code)
	}

	if rec := do(t, api, http.MethodPost, "/api/bans", testToken, `{"player_id":" "}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("blank ban status = %d", rec.Code)
	}
}

func TestMuteUnmute(t *testing.T) {
	api, _, lobby, _ := newTestAPI(t)
	p := lobby.CreatePlayer("A", "alice")

	if rec := do(t, api, http.MethodPost, "/api/players/A/mute", testToken, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("mute status = %d", rec.Code)
	}
	if !p.Voice().Muted {
		t.Fatal("player not muted")
	}
	if rec := do(t, api, http.MethodDelete, "/api/players/A/mute", testToken, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("unmute status = %d", rec.Code)
	}
	if p.Voice().Muted {
		t.Fatal("player still muted")
	}
	if rec := do(t, api, http.MethodPost, "/api/players/ghost/mute", testToken, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("mute unknown status = %d", rec.Code)
	}
}

func TestBroadcast(t *testing.T) {
	api, ctrl, _, _ := newTestAPI(t)

	rec := do(t, api, http.MethodPost, "/api/broadcast", testToken, `{"message":"maintenance in 5m"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("broadcast status = %d", rec.Code)
	}
	var resp BroadcastResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode broadcast: %v", err)
	}
	if resp.Sent != 2 {
		t.Fatalf("sent = %d, want 2", resp.Sent)
	}
	if len(ctrl.bcasts) != 1 || ctrl.bcasts[0] != protocol.MsgServerNotice {
		t.Fatalf("broadcast ids = %v", ctrl.bcasts)
	}

	if rec := do(t, api, http.MethodPost, "/api/broadcast", testToken, `{"message":""}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("empty broadcast status = %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	api, _, _, _ := newTestAPI(t)
	rec := do(t, api, http.MethodGet, "/metrics", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "gamehub_sessions_active") {
		t.Fatal("metrics body missing gamehub instruments")
	}
}

func TestAuditRowsWritten(t *testing.T) {
	api, _, lobby, _ := newTestAPI(t)
	lobby.CreatePlayer("A", "alice")

	do(t, api, http.MethodPost, "/api/players/A/kick", testToken, "")
	do(t, api, http.MethodGet, "/api/state", "wrong-token", "")

	rows, err := api.st.List(context.Background(), auditTable)
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	kinds := map[string]int{}
	for _, raw := range rows {
		var row auditRow
		if err := json.Unmarshal(raw, &row); err != nil {
			t.Fatalf("decode audit row: %v", err)
		}
		kinds[row.Action]++
		if row.Action == "auth" && row.Authorized {
			t.Fatal("failed auth audited as authorized")
		}
	}
	if kinds["kick"] != 1 || kinds["auth"] != 1 {
		t.Fatalf("audit actions = %v, want one kick and one auth failure", kinds)
	}
}
