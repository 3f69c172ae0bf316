package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/frontdesk-ops/frontdesk/internal/clock"
	"github.com/frontdesk-ops/frontdesk/internal/logging"
	"github.com/frontdesk-ops/frontdesk/internal/types"
)

var testEpoch = time.Date(2026, 4, 2, 8, 30, 0, 0, time.UTC)

type staticStatus struct {
	states []types.ConnectionState
	last   time.Time
}

func (s staticStatus) Snapshot() []types.ConnectionState { return s.states }
func (s staticStatus) LastChecked() time.Time             { return s.last }

type staticSync map[types.SyncStatus]int

func (s staticSync) Counts(context.Context) (map[types.SyncStatus]int, error) { return s, nil }

type stubSearch struct {
	members []*types.Member
	err     error
	gotTerm string
	gotOnly bool
}

func (s *stubSearch) Search(_ context.Context, term string, localOnly bool) ([]*types.Member, error) {
	s.gotTerm, s.gotOnly = term, localOnly
	return s.members, s.err
}

func testStatus() staticStatus {
	return staticStatus{
		states: []types.ConnectionState{
			{Backend: types.BackendRemoteDirectory, Status: types.ConnDisconnected, LastError: "configuration missing"},
			{Backend: types.BackendLocalCache, Status: types.ConnConnected},
		},
		last: testEpoch,
	}
}

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	if cfg.Status == nil {
		cfg.Status = testStatus()
	}
	cfg.Host = "127.0.0.1"
	cfg.Clock = clock.Fake(testEpoch)
	cfg.Logger = logging.Discard()
	server, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer() failed: %v", err)
	}
	return server
}

func TestNewServer_RequiresStatus(t *testing.T) {
	if _, err := NewServer(Config{}); err == nil {
		t.Fatal("NewServer() without a status source should fail")
	}
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(t, Config{Sync: staticSync{types.SyncPending: 2, types.SyncFailed: 1}})
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var got SnapshotData
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Backends) != 2 || got.Backends[0].Status != types.ConnDisconnected {
		t.Errorf("backends = %+v", got.Backends)
	}
	if got.LastChecked == nil || !got.LastChecked.Equal(testEpoch) {
		t.Errorf("last_checked = %v, want %v", got.LastChecked, testEpoch)
	}
	if got.Sync["PENDING"] != 2 || got.Sync["FAILED"] != 1 {
		t.Errorf("sync = %v", got.Sync)
	}
}

func TestMemberSearchEndpoint(t *testing.T) {
	search := &stubSearch{members: []*types.Member{{ExternalID: "w1", FirstName: "Grace", LastName: "Hopper"}}}
	server := newTestServer(t, Config{Members: search})
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/members/search?q=hopper&local=true")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body struct {
		Members []types.Member `json:"members"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Members) != 1 || body.Members[0].ExternalID != "w1" {
		t.Errorf("members = %+v", body.Members)
	}
	if search.gotTerm != "hopper" || !search.gotOnly {
		t.Errorf("search called with (%q, %v)", search.gotTerm, search.gotOnly)
	}
}

func TestMemberSearchEndpoint_Errors(t *testing.T) {
	tests := []struct {
		name   string
		search MemberSearcher
		query  string
		want   int
	}{
		{"not configured", nil, "?q=x", http.StatusServiceUnavailable},
		{"missing query", &stubSearch{}, "", http.StatusBadRequest},
		{"remote down", &stubSearch{err: fmt.Errorf("%w: dial tcp", types.ErrRemoteUnavailable)}, "?q=x", http.StatusBadGateway},
		{"store broken", &stubSearch{err: errors.New("disk I/O error")}, "?q=x", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newTestServer(t, Config{Members: tt.search})
			ts := httptest.NewServer(server.Handler())
			defer ts.Close()

			resp, err := http.Get(ts.URL + "/members/search" + tt.query)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestServerStartStop(t *testing.T) {
	server := newTestServer(t, Config{})
	if err := server.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if server.GetAddr() == "" {
		t.Fatal("server address is empty")
	}
	if err := server.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if err := server.Stop(); err != nil {
		t.Fatalf("second Stop() failed: %v", err)
	}
}

func readMessage(t *testing.T, ctx context.Context, conn *websocket.Conn) Message {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return msg
}

func TestWebSocketSnapshotThenStateChange(t *testing.T) {
	server := newTestServer(t, Config{})
	if err := server.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer server.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+server.GetAddr()+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	welcome := readMessage(t, ctx, conn)
	if welcome.Type != MessageTypeSnapshot {
		t.Fatalf("welcome type = %s, want %s", welcome.Type, MessageTypeSnapshot)
	}
	if server.ClientCount() != 1 {
		t.Errorf("ClientCount() = %d, want 1", server.ClientCount())
	}

	events := make(chan types.StateChange, 1)
	events <- types.StateChange{
		Backend:   types.BackendScannerExport,
		OldStatus: types.ConnDisconnected,
		NewStatus: types.ConnConnected,
		Timestamp: testEpoch.Add(time.Minute),
	}
	close(events)
	server.Follow(ctx, events)

	msg := readMessage(t, ctx, conn)
	if msg.Type != MessageTypeStateChange {
		t.Fatalf("type = %s, want %s", msg.Type, MessageTypeStateChange)
	}
	var change types.StateChange
	if err := json.Unmarshal(msg.Data, &change); err != nil {
		t.Fatal(err)
	}
	if change.Backend != types.BackendScannerExport || change.NewStatus != types.ConnConnected {
		t.Errorf("change = %+v", change)
	}

	server.OnSweep(SweepData{BatchID: "b-1", Attempted: 3, Synced: 3})
	msg = readMessage(t, ctx, conn)
	if msg.Type != MessageTypeSyncSweep {
		t.Fatalf("type = %s, want %s", msg.Type, MessageTypeSyncSweep)
	}
	if !msg.Timestamp.Equal(testEpoch) {
		t.Errorf("timestamp = %v, want clock time %v", msg.Timestamp, testEpoch)
	}
}
