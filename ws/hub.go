package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"marathon-server/config"
	"marathon-server/leaderboard"
	"marathon-server/storage"
	"marathon-server/wsutil"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Allow all origins for development; restrict in production.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Board is what the Hub needs from the leaderboard service.
type Board interface {
	TopHighscoresAsync(ctx context.Context, count int, tf storage.TimeFrame) *leaderboard.Future[[]storage.Entry]
}

type subscription struct {
	client *Client
	window storage.TimeFrame
	count  int
	active bool
}

// Hub maintains the set of active clients and pushes leaderboard snapshots
// to those subscribed to a window whenever that window changes.
type Hub struct {
	Clients    map[*Client]*subscription
	Register   chan *Client
	Unregister chan *Client
	Board      Board
	Config     *config.Config

	subscribe chan subscription
	changed   chan storage.TimeFrame
	senders   map[storage.TimeFrame]*windowSender
	done      chan struct{}
	ctx       context.Context
	logger    *slog.Logger
}

// NewHub creates a new Hub.
func NewHub(cfg *config.Config, board Board, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		Clients:    make(map[*Client]*subscription),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		Board:      board,
		Config:     cfg,
		subscribe:  make(chan subscription),
		changed:    make(chan storage.TimeFrame, 64),
		senders:    make(map[storage.TimeFrame]*windowSender),
		done:       make(chan struct{}),
		ctx:        context.Background(),
		logger:     logger.With("tag", "ws"),
	}
}

// Notify marks a window as changed. It never blocks; bursts of updates to one
// window are coalesced. Pass it to leaderboard.Service.OnUpdate.
func (h *Hub) Notify(u leaderboard.Update) {
	select {
	case h.changed <- u.TimeFrame:
	default:
	}
}

// Run starts the hub's main loop. Should be run as a goroutine.
// When ctx is cancelled (e.g. on server shutdown), Run disconnects every
// client and returns.
func (h *Hub) Run(ctx context.Context) {
	h.ctx = ctx
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("shutdown signal received, stopping")
			for client := range h.Clients {
				close(client.Send)
			}
			h.Clients = nil
			return

		case client := <-h.Register:
			h.Clients[client] = &subscription{client: client}
			h.logger.Info("client connected", "clients", len(h.Clients))

		case client := <-h.Unregister:
			if _, ok := h.Clients[client]; ok {
				delete(h.Clients, client)
				close(client.Send)
				h.logger.Info("client disconnected", "clients", len(h.Clients))
			}

		case sub := <-h.subscribe:
			if _, ok := h.Clients[sub.client]; !ok {
				continue
			}
			h.Clients[sub.client] = &sub
			if sub.active {
				h.push(sub.window, sub.count, []*Client{sub.client})
			}

		case tf := <-h.changed:
			h.broadcast(tf)
		}
	}
}

// broadcast pushes tf's snapshot to its subscribers, one query per count.
func (h *Hub) broadcast(tf storage.TimeFrame) {
	byCount := make(map[int][]*Client)
	for _, sub := range h.Clients {
		if sub.active && sub.window == tf {
			byCount[sub.count] = append(byCount[sub.count], sub.client)
		}
	}
	for count, clients := range byCount {
		h.push(tf, count, clients)
	}
}

// push hands a snapshot request to tf's sender, starting it on first use.
func (h *Hub) push(tf storage.TimeFrame, count int, clients []*Client) {
	sender, ok := h.senders[tf]
	if !ok {
		sender = &windowSender{
			hub:     h,
			tf:      tf,
			wake:    make(chan struct{}, 1),
			pending: make(map[int]map[*Client]struct{}),
		}
		h.senders[tf] = sender
		go sender.run(h.ctx)
	}
	sender.request(count, clients)
}

// windowSender fetches and delivers one window's snapshots one at a time, so
// a client never receives an older snapshot after a newer one. Requests that
// arrive during a fetch are merged and served by the next one.
type windowSender struct {
	hub  *Hub
	tf   storage.TimeFrame
	wake chan struct{}

	mu      sync.Mutex
	pending map[int]map[*Client]struct{}
}

func (s *windowSender) request(count int, clients []*Client) {
	s.mu.Lock()
	set, ok := s.pending[count]
	if !ok {
		set = make(map[*Client]struct{})
		s.pending[count] = set
	}
	for _, c := range clients {
		set[c] = struct{}{}
	}
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *windowSender) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		}
		s.mu.Lock()
		batch := s.pending
		s.pending = make(map[int]map[*Client]struct{})
		s.mu.Unlock()

		for count, clients := range batch {
			s.send(ctx, count, clients)
		}
	}
}

func (s *windowSender) send(ctx context.Context, count int, clients map[*Client]struct{}) {
	entries, err := s.hub.Board.TopHighscoresAsync(ctx, count, s.tf).Await(ctx)
	if err != nil {
		s.hub.logger.Warn("snapshot failed", "time_frame", s.tf, "err", err)
		return
	}
	data, err := json.Marshal(LeaderboardMsg{
		Type:    "leaderboard",
		Window:  s.tf.Label(),
		Entries: leaderboard.Rank(entries),
	})
	if err != nil {
		s.hub.logger.Error("encode snapshot", "err", err)
		return
	}
	for c := range clients {
		wsutil.SafeSend(c.Send, data)
	}
}

// ServeWS handles WebSocket upgrade requests and creates a new Client.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", "err", err)
		return
	}

	client := &Client{
		Hub:  h,
		Conn: conn,
		Send: make(chan []byte, 256),
	}

	select {
	case h.Register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}
