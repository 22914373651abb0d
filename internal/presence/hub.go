package presence

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"matrixcore/pkg/domain"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 4 * 1024,
}

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// clientMessage is what a connected client may push: a focus announcement.
type clientMessage struct {
	Action string              `json:"action"`
	Focus  *domain.CellAddress `json:"focus,omitempty"`
}

// Hub bridges websocket connections to the presence registry. Each connection
// belongs to one registered session; the hub relays peer events outbound and
// focus announcements inbound.
type Hub struct {
	registry Registry
	logger   *zap.Logger
}

// NewHub constructs a hub over the given registry. A nil logger is replaced
// with a no-op one.
func NewHub(registry Registry, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{registry: registry, logger: logger}
}

// ServeHTTP upgrades the request and pumps presence events until the client
// disconnects. The session must already be registered; matrix_id and token
// arrive as query parameters.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	matrixID, err := strconv.ParseInt(r.URL.Query().Get("matrix_id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid matrix_id", http.StatusBadRequest)
		return
	}
	token := r.URL.Query().Get("token")
	session, ok := h.registry.Lookup(matrixID, token)
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()
	h.logger.Info("presence client connected",
		zap.Int64("matrix_id", matrixID),
		zap.Int64("user_id", session.UserID))

	events, cancel := h.registry.Subscribe(matrixID, token)
	defer cancel()
	defer h.registry.Remove(matrixID, token)

	done := make(chan struct{})
	go h.writeLoop(conn, events, done)

	for {
		var msg clientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			h.logger.Info("presence client disconnected", zap.Int64("user_id", session.UserID))
			break
		}
		if msg.Action != "focus" {
			continue
		}
		h.registry.Update(matrixID, token, func(s *Session) { s.Focus = msg.Focus })
		h.registry.Broadcast(Event{
			Kind:     EventFocus,
			MatrixID: matrixID,
			Token:    token,
			UserID:   session.UserID,
			Focus:    msg.Focus,
		})
	}
	close(done)
}

func (h *Hub) writeLoop(conn *websocket.Conn, events <-chan Event, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				h.logger.Warn("presence write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
