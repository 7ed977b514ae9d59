package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/fairwaylabs/coachvoice/internal/warmer"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// The service sits behind the app's own gateway; origin checks
		// belong there.
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// progressHub fans warm cycle progress out to connected WebSocket clients.
// Sends are non-blocking: a slow client drops updates instead of stalling
// the warmer.
type progressHub struct {
	mu      sync.Mutex
	clients map[chan warmer.Progress]struct{}
}

func newProgressHub() *progressHub {
	return &progressHub{
		clients: make(map[chan warmer.Progress]struct{}),
	}
}

// Broadcast delivers a progress update to every connected client
func (h *progressHub) Broadcast(p warmer.Progress) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.clients {
		select {
		case ch <- p:
		default:
			// Client buffer full, drop this update
		}
	}
}

func (h *progressHub) register() chan warmer.Progress {
	ch := make(chan warmer.Progress, 16)

	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()

	return ch
}

func (h *progressHub) unregister(ch chan warmer.Progress) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
}

// handleProgress streams warm cycle progress updates over a WebSocket
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to upgrade progress connection")
		return
	}
	defer conn.Close()

	ch := s.hub.register()
	defer s.hub.unregister(ch)

	// Drain client frames so close handshakes are noticed
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case p := <-ch:
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(p); err != nil {
				return
			}
		}
	}
}
