package graphql

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/relaykit/cache"
	"github.com/c360/relaykit/types/entity"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Cross-origin policy is handled by the CORS layer; the upgrade itself
	// accepts any origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsEvent is the wire form of one cache event.
type wsEvent struct {
	Kind   string         `json:"kind"`
	Type   string         `json:"type"`
	ID     string         `json:"id"`
	NewID  string         `json:"newId,omitempty"`
	Entity map[string]any `json:"entity,omitempty"`
}

// handleSubscriptions upgrades to a websocket and streams cache events for
// one entity, or for a whole type via the wildcard. Query parameters:
// type (required), id (defaults to the wildcard).
func (s *Server) handleSubscriptions(w http.ResponseWriter, r *http.Request) {
	typ := entity.Type(r.URL.Query().Get("type"))
	if typ == "" {
		http.Error(w, `{"error":"type query parameter is required"}`, http.StatusBadRequest)
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		id = cache.WildcardID
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	sub := s.coord.Cache().Subscribe(typ, id)
	s.logger.Debug("websocket subscription opened", "type", typ, "id", id)

	// Reader goroutine: consume control frames and detect disconnect.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	defer func() {
		sub.Cancel()
		conn.Close()
		s.logger.Debug("websocket subscription closed", "type", typ, "id", id)
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case event, ok := <-sub.C:
			if !ok {
				return
			}
			payload := wsEvent{
				Kind:  string(event.Kind),
				Type:  string(event.Type),
				ID:    event.ID,
				NewID: event.NewID,
			}
			if event.Entity != nil {
				payload.Entity = entityMap(event.Entity)
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(payload); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		case <-s.stopChan:
			return
		}
	}
}
