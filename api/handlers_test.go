package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"marathon-server/config"
	"marathon-server/leaderboard"
	"marathon-server/race"
	"marathon-server/storage"
	"marathon-server/storage/memory"
)

type stubAuth struct {
	player uuid.UUID
}

func (s stubAuth) PlayerID(r *http.Request) (uuid.UUID, error) {
	if r.Header.Get("Authorization") != "Bearer good" {
		return uuid.Nil, errors.New("bad token")
	}
	return s.player, nil
}

type fixture struct {
	store  *memory.Store
	board  *leaderboard.Service
	mux    *http.ServeMux
	player uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.Defaults()
	cfg.TopMaxCount = 3
	store := memory.New()
	board := leaderboard.New(store, leaderboard.Options{}, nil)
	t.Cleanup(func() { _ = board.Close(context.Background()) })
	player := uuid.New()
	rec := race.NewRecorder(board, []storage.TimeFrame{storage.AllTime, storage.Weekly})
	h := NewHandler(cfg, board, rec, stubAuth{player: player}, nil)
	mux := http.NewServeMux()
	h.Register(mux)
	return &fixture{store: store, board: board, mux: mux, player: player}
}

func (f *fixture) seed(t *testing.T, tf storage.TimeFrame, rows map[uuid.UUID]storage.Highscore) {
	t.Helper()
	for p, hs := range rows {
		if err := f.store.SetHighscore(context.Background(), p, hs, tf); err != nil {
			t.Fatal(err)
		}
	}
}

func (f *fixture) do(t *testing.T, method, target, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestLeaderboard(t *testing.T) {
	f := newFixture(t)
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	f.seed(t, storage.Monthly, map[uuid.UUID]storage.Highscore{
		a: {Score: 100, Time: 500},
		b: {Score: 100, Time: 300},
		c: {Score: 90, Time: 100},
	})

	rec := f.do(t, "GET", "/api/leaderboard?window=monthly&count=2", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %q", rec.Code, rec.Body.String())
	}
	resp := decode[LeaderboardResponse](t, rec)
	if resp.Window != "MONTHLY" || len(resp.Entries) != 2 {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.Entries[0].Player != b || resp.Entries[0].Position != 1 || resp.Entries[1].Player != a {
		t.Errorf("entries = %+v, want B then A", resp.Entries)
	}
}

func TestLeaderboardCountIsClamped(t *testing.T) {
	f := newFixture(t)
	rows := map[uuid.UUID]storage.Highscore{}
	for i := 0; i < 5; i++ {
		rows[uuid.New()] = storage.Highscore{Score: int32(i)}
	}
	f.seed(t, storage.NoTimeFrame, rows)

	resp := decode[LeaderboardResponse](t, f.do(t, "GET", "/api/leaderboard?count=50", "", nil))
	if len(resp.Entries) != 3 || resp.Window != "NONE" {
		t.Errorf("got %d entries in %s, want 3 in NONE", len(resp.Entries), resp.Window)
	}
}

func TestLeaderboardBadRequests(t *testing.T) {
	f := newFixture(t)
	for _, target := range []string{
		"/api/leaderboard?window=yearly",
		"/api/leaderboard?count=ten",
		"/api/leaderboard?count=0",
		"/api/highscore?player=nope",
		"/api/placement?score=99999999999",
	} {
		if rec := f.do(t, "GET", target, "", nil); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", target, rec.Code)
		}
	}
}

func TestHighscoreAndPlacement(t *testing.T) {
	f := newFixture(t)
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	f.seed(t, storage.Weekly, map[uuid.UUID]storage.Highscore{
		a: {Score: 100, Time: 500},
		b: {Score: 100, Time: 300},
		c: {Score: 90, Time: 100},
	})

	rec := f.do(t, "GET", "/api/highscore?window=WEEKLY&player="+c.String(), "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	hs := decode[HighscoreResponse](t, rec)
	if hs.Score != 90 || hs.TimeMS != 100 || hs.Placement != 3 {
		t.Errorf("highscore = %+v", hs)
	}

	if rec := f.do(t, "GET", "/api/highscore?player="+c.String(), "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("other window: status = %d, want 404", rec.Code)
	}

	place := decode[map[string]any](t, f.do(t, "GET", "/api/placement?window=weekly&score=95", "", nil))
	if place["placement"] != float64(3) {
		t.Errorf("placement(95) = %v, want 3", place["placement"])
	}
}

func TestRunsRequiresAuth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, "POST", "/api/runs", `{"score":1,"time_ms":1}`, map[string]string{"Authorization": "Bearer bad"})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestRunsRecordsNewBests(t *testing.T) {
	f := newFixture(t)
	f.seed(t, storage.AllTime, map[uuid.UUID]storage.Highscore{f.player: {Score: 40, Time: 1}})

	auth := map[string]string{"Authorization": "Bearer good"}
	rec := f.do(t, "POST", "/api/runs", `{"score":25,"time_ms":61000}`, auth)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %q", rec.Code, rec.Body.String())
	}
	resp := decode[RunResponse](t, rec)
	if resp.Player != f.player || len(resp.Results) != 2 {
		t.Fatalf("resp = %+v", resp)
	}
	got := map[string]bool{}
	for _, o := range resp.Results {
		got[o.Window] = o.NewBest
	}
	if got["ALL_TIME"] || !got["WEEKLY"] {
		t.Errorf("new bests = %v, want WEEKLY only", got)
	}

	if err := f.board.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	hs, _ := f.store.GetHighscore(context.Background(), f.player, storage.Weekly)
	if hs == nil || *hs != (storage.Highscore{Score: 25, Time: 61000}) {
		t.Errorf("weekly highscore = %v", hs)
	}
}

func TestRunsRejectsBadBodies(t *testing.T) {
	f := newFixture(t)
	auth := map[string]string{"Authorization": "Bearer good"}
	for _, body := range []string{`not json`, `{"score":-1,"time_ms":0}`, `{"score":1,"time_ms":1,"cheat":true}`} {
		if rec := f.do(t, "POST", "/api/runs", body, auth); rec.Code != http.StatusBadRequest {
			t.Errorf("body %s: status = %d, want 400", body, rec.Code)
		}
	}
}

func TestMethodsAndCORS(t *testing.T) {
	f := newFixture(t)
	if rec := f.do(t, "POST", "/api/leaderboard", "", nil); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST leaderboard: status = %d, want 405", rec.Code)
	}
	rec := f.do(t, "OPTIONS", "/api/runs", "", nil)
	if rec.Code != http.StatusNoContent || rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("preflight: status = %d, headers %v", rec.Code, rec.Header())
	}
	if rec := f.do(t, "GET", "/healthz", "", nil); rec.Code != http.StatusOK {
		t.Errorf("healthz: status = %d", rec.Code)
	}
}

func TestStorageFailureIsUnavailable(t *testing.T) {
	f := newFixture(t)
	f.store.Close()
	if rec := f.do(t, "GET", "/api/leaderboard", "", nil); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}
