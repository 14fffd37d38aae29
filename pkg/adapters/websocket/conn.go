// Package websocket adapts gorilla/websocket connections to ports.Conn.
package websocket

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aretw0/diffuse/pkg/domain"
)

// Default connection constants.
const (
	DefaultWriteWait        = 10 * time.Second
	DefaultMaxMessageSize   = 16 * 1024 * 1024 // 16MB, base64 images are large
	DefaultCloseGracePeriod = time.Second
	DefaultPongWait         = 60 * time.Second
)

// Config configures server-side connections.
type Config struct {
	// WriteWait is the write deadline for each message. Defaults to DefaultWriteWait.
	WriteWait time.Duration

	// MaxMessageSize is the read limit. Defaults to DefaultMaxMessageSize.
	MaxMessageSize int64

	// CloseGracePeriod is the deadline for writing the close frame.
	CloseGracePeriod time.Duration

	// PongWait is how long the peer may stay silent, pongs included, before reads fail
	// with ErrTransport. Defaults to DefaultPongWait. Negative disables the idle timeout
	// and the keepalive.
	PongWait time.Duration

	// PingPeriod is the keepalive interval. Defaults to 9/10 of PongWait.
	PingPeriod time.Duration

	// CheckOrigin is passed to the upgrader. Nil accepts every origin; cross-origin
	// policy is left to the deployment.
	CheckOrigin func(r *http.Request) bool
}

func (c *Config) defaults() {
	if c.WriteWait == 0 {
		c.WriteWait = DefaultWriteWait
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.CloseGracePeriod == 0 {
		c.CloseGracePeriod = DefaultCloseGracePeriod
	}
	if c.PongWait == 0 {
		c.PongWait = DefaultPongWait
	}
	if c.PingPeriod <= 0 {
		c.PingPeriod = c.PongWait * 9 / 10
	}
	if c.CheckOrigin == nil {
		c.CheckOrigin = func(*http.Request) bool { return true }
	}
}

// Conn implements ports.Conn over a gorilla/websocket connection.
type Conn struct {
	cfg Config
	ws  *websocket.Conn

	writeMu   sync.Mutex // serializes writes (gorilla/websocket requirement)
	closeOnce sync.Once
	closeErr  error
	done      chan struct{}

	// deadlineMu guards interrupted. Once ctx has interrupted a read the idle
	// deadline is never extended again.
	deadlineMu  sync.Mutex
	interrupted bool
}

// Upgrade performs the WebSocket handshake and wraps the connection.
func Upgrade(w http.ResponseWriter, r *http.Request, cfg Config) (*Conn, error) {
	cfg.defaults()
	upgrader := websocket.Upgrader{CheckOrigin: cfg.CheckOrigin}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket upgrade: %w", err)
	}
	return Wrap(ws, cfg), nil
}

// Wrap adapts an established connection.
func Wrap(ws *websocket.Conn, cfg Config) *Conn {
	cfg.defaults()
	ws.SetReadLimit(cfg.MaxMessageSize)
	c := &Conn{cfg: cfg, ws: ws, done: make(chan struct{})}
	if cfg.PongWait > 0 {
		c.extendDeadline()
		ws.SetPongHandler(func(string) error {
			c.extendDeadline()
			return nil
		})
		go c.keepalive()
	}
	return c
}

// extendDeadline pushes the idle deadline PongWait into the future.
func (c *Conn) extendDeadline() {
	if c.cfg.PongWait <= 0 {
		return
	}
	c.deadlineMu.Lock()
	defer c.deadlineMu.Unlock()
	if !c.interrupted {
		_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	}
}

// keepalive pings the peer until the connection is closed or a ping fails.
func (c *Conn) keepalive() {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			// WriteControl may run concurrently with WriteJSON.
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteWait)); err != nil {
				return
			}
		}
	}
}

// ReadMessage blocks for the next text or binary message. Canceling ctx unblocks it;
// so does a peer silent for longer than PongWait.
func (c *Conn) ReadMessage(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() {
		c.deadlineMu.Lock()
		defer c.deadlineMu.Unlock()
		c.interrupted = true
		_ = c.ws.SetReadDeadline(time.Now())
	})
	defer stop()

	_, data, err := c.ws.ReadMessage()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}
	c.extendDeadline()
	return data, nil
}

// WriteJSON sends v as one text message.
func (c *Conn) WriteJSON(ctx context.Context, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(c.cfg.WriteWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}
	if err := c.ws.WriteJSON(v); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}
	return nil
}

// Close sends a normal close frame and closes the socket. Safe to call more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		// Best effort: the peer may already be gone.
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.cfg.CloseGracePeriod))
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}
