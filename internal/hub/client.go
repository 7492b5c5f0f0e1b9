package hub

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait       = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod     = (pongWait * 9) / 10 // Send pings to peer with this period. Must be less than pongWait.
	maxMessageSize = 64 * 1024           // Signaling payloads (SDP offers) run large.
)

// Client is the middleman between one websocket connection and the hub.
// Identity is fixed at upgrade time from the validated token; the hub
// loop owns the joined flag.
type Client struct {
	ID        string
	UserID    int
	Nickname  string
	AvatarURL string

	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	log  *zap.Logger

	// set and read only by the hub loop
	joined bool
}

func newClient(id string, userID int, nickname, avatarURL string, conn *websocket.Conn, h *Hub, log *zap.Logger) *Client {
	return &Client{
		ID:        id,
		UserID:    userID,
		Nickname:  nickname,
		AvatarURL: avatarURL,
		hub:       h,
		conn:      conn,
		send:      make(chan []byte, 256),
		log:       log,
	}
}

// enqueue hands a frame to the write pump without blocking the hub loop.
// A full buffer means the client is too slow; the frame is dropped and
// the next authoritative snapshot resyncs them.
func (c *Client) enqueue(frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// readPump pumps decoded frames from the connection into the hub.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("websocket read error", zap.String("conn", c.ID), zap.Error(err))
			}
			break
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.log.Debug("dropping malformed frame", zap.String("conn", c.ID), zap.Error(err))
			continue
		}
		if env.Event == "" {
			continue
		}

		c.hub.events <- clientFrame{client: c, env: env}
	}
}

// writePump pumps frames from the hub to the connection and keeps the
// heartbeat alive.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
