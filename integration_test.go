package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"marathon-server/api"
	"marathon-server/config"
	"marathon-server/storage/memory"
	"marathon-server/ws"
)

// headerAuth treats the bearer token as the player id.
type headerAuth struct{}

func (headerAuth) PlayerID(r *http.Request) (uuid.UUID, error) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return uuid.Nil, errors.New("no token")
	}
	return uuid.Parse(token)
}

// setupTestServer runs the full stack on an SQLite file.
func setupTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	cfg := config.Defaults()
	cfg.DBBackend = config.BackendSQLite
	cfg.SQLitePath = filepath.Join(t.TempDir(), "marathon.db")
	cfg.LeaderboardWindows = []string{"NONE", "MONTHLY"}

	logger := slog.Default()
	ctx, cancel := context.WithCancel(context.Background())
	store, err := openStorage(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("openStorage: %v", err)
	}
	a, err := newApp(cfg, store, headerAuth{}, logger)
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	go a.hub.Run(ctx)
	go a.rollover.Run(ctx)

	server := httptest.NewServer(a.mux)
	t.Cleanup(func() {
		server.Close()
		cancel()
		_ = a.board.Close(context.Background())
		store.Close()
	})
	return server
}

// connectWS creates a WebSocket connection to the test server.
func connectWS(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readSnapshot(t *testing.T, conn *websocket.Conn) ws.LeaderboardMsg {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var msg ws.LeaderboardMsg
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("failed to read message: %v", err)
	}
	return msg
}

func postRun(t *testing.T, server *httptest.Server, player uuid.UUID, score int32, timeMS int64) api.RunResponse {
	t.Helper()
	body, _ := json.Marshal(api.RunRequest{Score: score, TimeMS: timeMS})
	req, _ := http.NewRequest(http.MethodPost, server.URL+"/api/runs", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+player.String())
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST /api/runs: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /api/runs: status %d", resp.StatusCode)
	}
	var out api.RunResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode run response: %v", err)
	}
	return out
}

func getLeaderboard(t *testing.T, server *httptest.Server, query string) api.LeaderboardResponse {
	t.Helper()
	resp, err := http.Get(server.URL + "/api/leaderboard?" + query)
	if err != nil {
		t.Fatalf("GET leaderboard: %v", err)
	}
	defer resp.Body.Close()
	var out api.LeaderboardResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode leaderboard: %v", err)
	}
	return out
}

func TestRunIsRankedAndPushed(t *testing.T) {
	server := setupTestServer(t)
	conn := connectWS(t, server)

	if err := conn.WriteJSON(ws.SubscribeMsg{Type: "subscribe", Window: "MONTHLY", Count: 3}); err != nil {
		t.Fatal(err)
	}
	if snap := readSnapshot(t, conn); len(snap.Entries) != 0 {
		t.Fatalf("initial snapshot = %+v", snap)
	}

	alice, bob := uuid.New(), uuid.New()
	res := postRun(t, server, alice, 100, 500)
	for _, o := range res.Results {
		if !o.NewBest {
			t.Errorf("first run should be a new best in %s", o.Window)
		}
	}

	awaitEntries := func(n int) {
		t.Helper()
		deadline := time.Now().Add(3 * time.Second)
		for {
			snap := readSnapshot(t, conn)
			if len(snap.Entries) == n {
				return
			}
			if time.Now().After(deadline) {
				t.Fatalf("no snapshot with %d entries; last %+v", n, snap)
			}
		}
	}
	awaitEntries(1)

	postRun(t, server, bob, 100, 300)
	awaitEntries(2)
	// A slower run with the same score is not a new best.
	res = postRun(t, server, bob, 100, 900)
	for _, o := range res.Results {
		if o.NewBest {
			t.Errorf("repeat score reported as new best in %s", o.Window)
		}
	}

	var board api.LeaderboardResponse
	for i := 0; i < 50; i++ {
		board = getLeaderboard(t, server, "window=monthly")
		if len(board.Entries) == 2 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if len(board.Entries) != 2 || board.Entries[0].Player != bob || board.Entries[1].Player != alice {
		t.Errorf("monthly board = %+v, want bob then alice", board.Entries)
	}
	if board.Entries[0].TimeMS != 300 {
		t.Errorf("bob time = %d, want the first run's 300", board.Entries[0].TimeMS)
	}

	none := getLeaderboard(t, server, "")
	if none.Window != "NONE" {
		t.Errorf("default window = %q, want NONE", none.Window)
	}
}

func TestOpenStorageBackends(t *testing.T) {
	ctx := context.Background()
	logger := slog.Default()

	cfg := config.Defaults()
	cfg.DBBackend = config.BackendMemory
	s, err := openStorage(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	if _, ok := s.(*memory.Store); !ok {
		t.Errorf("memory backend returned %T", s)
	}
	s.Close()

	cfg.DBBackend = config.BackendSQLite
	cfg.SQLitePath = ""
	if _, err := openStorage(ctx, cfg, logger); err == nil {
		t.Error("sqlite without a path should fail")
	}

	cfg.DBBackend = "oracle"
	if _, err := openStorage(ctx, cfg, logger); err == nil {
		t.Error("unknown backend should fail")
	}
}
