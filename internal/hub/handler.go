package hub

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	myMiddleware "ktv-lounge/internal/middleware"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all for now (Dev mode)
	},
}

type Handler struct {
	hub *Hub
	log *zap.Logger
}

func NewHandler(h *Hub, log *zap.Logger) *Handler {
	return &Handler{hub: h, log: log}
}

// ServeWs upgrades an authenticated request and binds the connection to
// the identity the auth middleware verified. Ladder and broadcast
// authorization later compare against this identity, never against
// client-supplied fields.
func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(myMiddleware.UserKey).(int)
	nickname, ok2 := r.Context().Value(myMiddleware.NicknameKey).(string)
	avatar, _ := r.Context().Value(myMiddleware.AvatarKey).(string)

	if !ok || !ok2 {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := newClient(uuid.New().String(), userID, nickname, avatar, conn, h.hub, h.log)
	h.hub.register <- client

	go client.writePump()
	go client.readPump()
}
