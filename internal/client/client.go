package client

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/manpreetbhatti/sketchroom/internal/canvas"
	"github.com/manpreetbhatti/sketchroom/internal/protocol"
)

var ErrNotConnected = errors.New("client: not connected")

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	maxMessage = 1024 * 1024

	// Retry delay starts at initialBackoff, doubles on each failed dial
	// and resets after a successful connection
	initialBackoff = 500 * time.Millisecond
	maxBackoff     = 10 * time.Second

	// Minimum gap between cursor:move frames
	cursorInterval = 50 * time.Millisecond
)

type Status int

const (
	Connected Status = iota + 1
	Disconnected
	Reconnected
)

func (s Status) String() string {
	switch s {
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	case Reconnected:
		return "reconnected"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

type Options struct {
	// Relay endpoint, e.g. ws://localhost:3000/ws
	URL string

	// Room to join on every connect. Empty defers to the room in URL.
	RoomID string

	Dialer *websocket.Dialer

	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	HistoryLimit   int

	// Cursor updates closer together than this are skipped. Zero uses
	// the default; a negative value sends every update.
	CursorInterval time.Duration

	// Called from the connection goroutine; must not block for long
	OnStatus func(Status)
	OnEvent  func(protocol.Event)
}

// Client is a relay participant. It keeps a canvas.Board in sync with the
// room and reconnects until its context ends.
type Client struct {
	opts  Options
	board *canvas.Board

	mu        sync.Mutex
	conn      *websocket.Conn
	connected  bool
	everUp     bool
	lastCursor time.Time
}

func New(opts Options) *Client {
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = initialBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = maxBackoff
	}
	if opts.CursorInterval == 0 {
		opts.CursorInterval = cursorInterval
	}
	return &Client{
		opts:  opts,
		board: canvas.NewBoard(opts.HistoryLimit),
	}
}

func (c *Client) Board() *canvas.Board { return c.board }

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Run connects and serves the connection, reconnecting after failures,
// until ctx is cancelled. It always returns ctx.Err().
func (c *Client) Run(ctx context.Context) error {
	backoff := c.opts.InitialBackoff

	for {
		conn, _, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, nil)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("Client: dial %s failed: %v (retry in %v)", c.opts.URL, err, backoff)
		} else {
			backoff = c.opts.InitialBackoff
			c.serve(ctx, conn)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > c.opts.MaxBackoff {
			backoff = c.opts.MaxBackoff
		}
	}
}

func (c *Client) serve(ctx context.Context, conn *websocket.Conn) {
	conn.SetReadLimit(maxMessage)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	status := c.attach(conn)

	// Unblocks ReadMessage when the context ends
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			conn.Close()
		case <-stop:
		}
	}()
	defer close(stop)

	if err := c.Send(protocol.JoinRoom{RoomID: c.opts.RoomID}); err != nil {
		log.Printf("Client: join failed: %v", err)
	}
	c.notify(status)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && ctx.Err() == nil {
				log.Printf("Client: read error: %v", err)
			}
			break
		}

		ev, err := protocol.DecodeServer(data)
		if err != nil {
			log.Printf("Client: dropping frame: %v", err)
			continue
		}
		c.board.Apply(ev)
		if c.opts.OnEvent != nil {
			c.opts.OnEvent(ev)
		}
	}

	c.detach(conn)
	c.notify(Disconnected)
}

func (c *Client) attach(conn *websocket.Conn) Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.conn = conn
	c.connected = true
	if c.everUp {
		return Reconnected
	}
	c.everUp = true
	return Connected
}

func (c *Client) detach(conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == conn {
		c.conn = nil
		c.connected = false
	}
	conn.Close()
}

func (c *Client) notify(s Status) {
	if c.opts.OnStatus != nil {
		c.opts.OnStatus(s)
	}
}

// Send writes one event to the relay
func (c *Client) Send(ev protocol.Event) error {
	data, err := protocol.Encode(ev)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return ErrNotConnected
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("client: write %s: %w", ev.Kind(), err)
	}
	return nil
}

func (c *Client) DrawStart(x, y float64, color string, size float64) error {
	return c.Send(protocol.DrawStart{Segment: protocol.Segment{X: x, Y: y, Color: color, Size: size}})
}

func (c *Client) DrawMove(x, y float64, color string, size float64) error {
	return c.Send(protocol.DrawMove{Segment: protocol.Segment{X: x, Y: y, Color: color, Size: size}})
}

// DrawEnd sends a finished stroke and records it on the local board
func (c *Client) DrawEnd(path []protocol.Point, color string, size float64) error {
	s := protocol.Stroke{Path: path, Color: color, Size: size}
	if err := c.Send(protocol.DrawEnd{Stroke: s}); err != nil {
		return err
	}
	c.board.AddLocal(s)
	return nil
}

// CursorMove reports the local pointer. Calls inside CursorInterval of
// the last sent update are dropped and return nil.
func (c *Client) CursorMove(x, y float64) error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	now := time.Now()
	if c.opts.CursorInterval > 0 && now.Sub(c.lastCursor) < c.opts.CursorInterval {
		c.mu.Unlock()
		return nil
	}
	c.lastCursor = now
	c.mu.Unlock()

	return c.Send(protocol.CursorMove{X: x, Y: y})
}

func (c *Client) Undo() error {
	return c.Send(protocol.Undo{})
}

func (c *Client) Redo() error {
	return c.Send(protocol.Redo{})
}

func (c *Client) Clear() error {
	return c.Send(protocol.Clear{})
}
