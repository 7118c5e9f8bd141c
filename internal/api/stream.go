package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"marketsim/internal/game"
)

const (
	streamBuffer     = 16
	streamWriteWait  = 5 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = 25 * time.Second
)

type subscriber struct {
	out chan []byte
}

// Hub fans round events out to websocket subscribers of each game.
type Hub struct {
	log      *slog.Logger
	upgrader websocket.Upgrader

	mu   sync.Mutex
	subs map[string]map[*subscriber]struct{}
}

var _ game.Notifier = (*Hub)(nil)

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		log: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		subs: map[string]map[*subscriber]struct{}{},
	}
}

// Publish delivers ev to every subscriber of its game. Slow subscribers
// miss events rather than block round resolution.
func (h *Hub) Publish(ev game.RoundEvent) {
	b, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("encode round event failed", "game_id", ev.GameID, "err", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[ev.GameID] {
		select {
		case sub.out <- b:
		default:
			h.log.Warn("round event dropped for slow subscriber", "game_id", ev.GameID, "round", ev.Round)
		}
	}
}

func (h *Hub) subscribe(gameID string) *subscriber {
	sub := &subscriber{out: make(chan []byte, streamBuffer)}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[gameID] == nil {
		h.subs[gameID] = map[*subscriber]struct{}{}
	}
	h.subs[gameID][sub] = struct{}{}
	return sub
}

func (h *Hub) unsubscribe(gameID string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs[gameID], sub)
	if len(h.subs[gameID]) == 0 {
		delete(h.subs, gameID)
	}
}

// Subscribers reports how many connections follow gameID.
func (h *Hub) Subscribers(gameID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[gameID])
}

// Handler upgrades the request and streams the game's round events until
// the client goes away.
func (h *Hub) Handler(svc *game.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		gameID := chi.URLParam(r, "gameID")
		if _, err := svc.Game(r.Context(), gameID); err != nil {
			writeDomainError(w, err)
			return
		}
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sub := h.subscribe(gameID)
		defer h.unsubscribe(gameID, sub)
		h.log.Info("stream opened", "game_id", gameID)

		done := make(chan struct{})
		go func() {
			defer close(done)
			_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
			conn.SetPongHandler(func(string) error {
				return conn.SetReadDeadline(time.Now().Add(streamPongWait))
			})
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ping := time.NewTicker(streamPingPeriod)
		defer ping.Stop()
		for {
			select {
			case <-done:
				return
			case b := <-sub.out:
				_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					return
				}
			case <-ping.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
					return
				}
			}
		}
	}
}
