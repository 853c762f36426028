package server

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const writeTimeout = 2 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

// SkeletonHandler pushes a user snapshot to WebSocket clients after every frame.
type SkeletonHandler struct {
	source Subscriber
}

// NewSkeletonHandler creates a new SkeletonHandler for the given snapshot source.
func NewSkeletonHandler(s Subscriber) *SkeletonHandler {
	return &SkeletonHandler{source: s}
}

// ServeHTTP handles WebSocket upgrade requests.
func (h *SkeletonHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	snapshots, cancel := h.source.Subscribe()
	defer cancel()

	// Reading is only needed to notice the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case snap, ok := <-snapshots:
			if !ok {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream ended"))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(snap); err != nil {
				log.Printf("websocket write error: %v", err)
				return
			}
		}
	}
}
