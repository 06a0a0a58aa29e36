package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"marathon-server/config"
	"marathon-server/leaderboard"
	"marathon-server/race"
	"marathon-server/storage"
)

// PlayerIdentifier resolves the authenticated player of a request.
type PlayerIdentifier interface {
	PlayerID(r *http.Request) (uuid.UUID, error)
}

// Handler holds dependencies for API handlers.
type Handler struct {
	Config   *config.Config
	Board    *leaderboard.Service
	Recorder *race.Recorder
	Auth     PlayerIdentifier
	logger   *slog.Logger
}

// NewHandler creates a new API handler with the given dependencies. auth may
// be nil, in which case POST /api/runs is rejected.
func NewHandler(cfg *config.Config, board *leaderboard.Service, recorder *race.Recorder, auth PlayerIdentifier, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Config:   cfg,
		Board:    board,
		Recorder: recorder,
		Auth:     auth,
		logger:   logger.With("tag", "api"),
	}
}

// Register mounts the API on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/leaderboard", h.Leaderboard)
	mux.HandleFunc("/api/highscore", h.Highscore)
	mux.HandleFunc("/api/placement", h.Placement)
	mux.HandleFunc("/api/runs", h.Runs)
	mux.HandleFunc("/healthz", h.Healthz)
}

// CORS sets CORS headers on the response. Call before writing body.
func CORS(w http.ResponseWriter, r *http.Request) bool {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return true
	}
	return false
}

func allow(w http.ResponseWriter, r *http.Request, method string) bool {
	if CORS(w, r) {
		return false
	}
	if r.Method != method {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("encode response", "err", err)
	}
}

// storageError maps a storage failure to a status code and logs it.
func (h *Handler) storageError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, storage.ErrInvalidCount):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, storage.ErrTimeout):
		h.logger.Warn(op+" timed out", "err", err)
		http.Error(w, "leaderboard timed out", http.StatusGatewayTimeout)
	default:
		h.logger.Error(op+" failed", "err", err)
		http.Error(w, "leaderboard unavailable", http.StatusServiceUnavailable)
	}
}

func parseWindow(w http.ResponseWriter, r *http.Request) (storage.TimeFrame, bool) {
	tf, err := storage.ParseTimeFrame(r.URL.Query().Get("window"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return storage.NoTimeFrame, false
	}
	return tf, true
}

// LeaderboardResponse is the JSON structure for /api/leaderboard.
type LeaderboardResponse struct {
	Window  string                    `json:"window"`
	Entries []leaderboard.RankedEntry `json:"entries"`
}

// Leaderboard returns the top entries of a window.
func (h *Handler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	tf, ok := parseWindow(w, r)
	if !ok {
		return
	}
	count := h.Config.TopDefaultCount
	if raw := r.URL.Query().Get("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "count must be an integer", http.StatusBadRequest)
			return
		}
		count = min(n, h.Config.TopMaxCount)
	}

	entries, err := h.Board.TopHighscoresAsync(r.Context(), count, tf).Await(r.Context())
	if err != nil {
		h.storageError(w, "top highscores", err)
		return
	}
	h.writeJSON(w, http.StatusOK, LeaderboardResponse{Window: tf.Label(), Entries: leaderboard.Rank(entries)})
}

// HighscoreResponse is the JSON structure for /api/highscore.
type HighscoreResponse struct {
	Player    uuid.UUID `json:"player"`
	Window    string    `json:"window"`
	Score     int32     `json:"score"`
	TimeMS    int64     `json:"time_ms"`
	Placement int       `json:"placement"`
}

// Highscore returns one player's best in a window with its placement.
func (h *Handler) Highscore(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	player, err := uuid.Parse(r.URL.Query().Get("player"))
	if err != nil {
		http.Error(w, "player must be a UUID", http.StatusBadRequest)
		return
	}
	tf, ok := parseWindow(w, r)
	if !ok {
		return
	}

	hs, err := h.Board.HighscoreAsync(r.Context(), player, tf).Await(r.Context())
	if err != nil {
		h.storageError(w, "highscore", err)
		return
	}
	if hs == nil {
		http.Error(w, "no highscore", http.StatusNotFound)
		return
	}
	placement, err := h.Board.PlacementAsync(r.Context(), hs.Score, tf).Await(r.Context())
	if err != nil {
		h.storageError(w, "placement", err)
		return
	}
	h.writeJSON(w, http.StatusOK, HighscoreResponse{
		Player:    player,
		Window:    tf.Label(),
		Score:     hs.Score,
		TimeMS:    hs.Time,
		Placement: placement,
	})
}

// Placement returns the rank a score would take in a window.
func (h *Handler) Placement(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	score, err := strconv.ParseInt(r.URL.Query().Get("score"), 10, 32)
	if err != nil {
		http.Error(w, "score must be a 32-bit integer", http.StatusBadRequest)
		return
	}
	tf, ok := parseWindow(w, r)
	if !ok {
		return
	}
	placement, err := h.Board.PlacementAsync(r.Context(), int32(score), tf).Await(r.Context())
	if err != nil {
		h.storageError(w, "placement", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"window": tf.Label(), "placement": placement})
}

// RunRequest is the body of POST /api/runs.
type RunRequest struct {
	Score  int32 `json:"score"`
	TimeMS int64 `json:"time_ms"`
}

// RunResponse reports, per window, whether the run became the player's best.
type RunResponse struct {
	Player  uuid.UUID      `json:"player"`
	Results []race.Outcome `json:"results"`
}

// Runs records a finished run for the authenticated player.
func (h *Handler) Runs(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	if h.Auth == nil {
		http.Error(w, "authorization required", http.StatusUnauthorized)
		return
	}
	player, err := h.Auth.PlayerID(r)
	if err != nil {
		http.Error(w, "authorization required", http.StatusUnauthorized)
		return
	}

	var req RunRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		http.Error(w, "invalid run", http.StatusBadRequest)
		return
	}
	if req.Score < 0 || req.TimeMS < 0 {
		http.Error(w, "score and time_ms must be non-negative", http.StatusBadRequest)
		return
	}

	results, err := h.Recorder.Record(r.Context(), player, storage.Highscore{Score: req.Score, Time: req.TimeMS})
	if err != nil {
		h.storageError(w, "record run", err)
		return
	}
	h.logger.Info("run recorded", "player", player, "score", req.Score, "time_ms", req.TimeMS)
	h.writeJSON(w, http.StatusOK, RunResponse{Player: player, Results: results})
}

// Healthz reports liveness.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
