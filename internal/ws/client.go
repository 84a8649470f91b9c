package ws

import (
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/manpreetbhatti/sketchroom/internal/protocol"
	"github.com/manpreetbhatti/sketchroom/internal/ratelimit"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024 * 1024
	sendBuffer     = 512

	// Violations tolerated before a flooding client is cut off
	maxRateLimitWarnings = 1000
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is one websocket connection. Room fields are owned by the hub
// loop; the pumps never touch them.
type Client struct {
	hub         *Hub
	conn        *websocket.Conn
	send        chan []byte
	rateLimiter *ratelimit.Limiter
	id          string

	// Room named in the connection URL, used when a join omits one
	roomHint string

	joined bool
	roomID string
	user   protocol.User
}

func (h *Hub) newClient(conn *websocket.Conn, roomHint string) *Client {
	return &Client{
		hub:         h,
		conn:        conn,
		send:        make(chan []byte, sendBuffer),
		rateLimiter: ratelimit.NewLimiter(h.opts.MessagesPerSecond, h.opts.MessageBurst),
		id:          h.ids.NewID(),
		roomHint:    roomHint,
	}
}

func (c *Client) defaultRoom() string {
	if c.roomHint != "" {
		return c.roomHint
	}
	return protocol.DefaultRoom
}

// Extracts the room from /ws/{room}, /room/{room} or ?room=
func RoomFromRequest(r *http.Request) string {
	for _, prefix := range []string{"/ws/", "/room/"} {
		if rest, ok := strings.CutPrefix(r.URL.Path, prefix); ok {
			if id, _, _ := strings.Cut(rest, "/"); id != "" {
				return id
			}
		}
	}
	if id := r.URL.Query().Get("room"); id != "" {
		return id
	}
	return protocol.DefaultRoom
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	if hub.opts.Handshakes != nil && !hub.opts.Handshakes.Allow(remoteHost(r)) {
		http.Error(w, "Too many connection attempts", http.StatusTooManyRequests)
		return
	}

	select {
	case <-hub.done:
		http.Error(w, "Server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	roomHint := RoomFromRequest(r)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("Upgrade error:", err)
		return
	}

	client := hub.newClient(conn, roomHint)

	select {
	case hub.register <- client:
	case <-hub.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.inbound <- &Message{Sender: c, Closed: true}:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	rateLimitWarnings := 0

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		if !c.rateLimiter.Allow() {
			rateLimitWarnings++
			if rateLimitWarnings%100 == 1 {
				log.Printf("⚠️ Rate limit exceeded for client %s (warning #%d)", c.id, rateLimitWarnings)
			}
			if rateLimitWarnings > maxRateLimitWarnings {
				log.Printf("🚫 Disconnecting client %s for excessive rate limit violations", c.id)
				return
			}
			continue
		}

		ev, err := protocol.DecodeClient(data)
		if err != nil {
			log.Printf("⚠️ Invalid message from client %s: %v", c.id, err)
			continue
		}

		select {
		case c.hub.inbound <- &Message{Sender: c, Event: ev}:
		case <-c.hub.done:
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
