package session_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aretw0/diffuse/pkg/domain"
)

// fakeConn is an in-memory ports.Conn. Messages pushed with send are returned by
// ReadMessage; everything written is kept decoded as generic maps.
type fakeConn struct {
	in        chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	out      []map[string]any
	onWrite  func(ctx context.Context, n int, msg map[string]any)
	isClosed bool

	// failWrite, when set, is consulted with the 1-based write attempt number; a
	// non-nil result is returned and the message is dropped.
	failWrite func(attempt int) error
	attempts  int
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) send(t *testing.T, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	c.in <- data
}

func (c *fakeConn) ReadMessage(ctx context.Context) ([]byte, error) {
	select {
	case data := <-c.in:
		return data, nil
	case <-c.closed:
		return nil, fmt.Errorf("%w: connection closed", domain.ErrTransport)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) WriteJSON(ctx context.Context, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-c.closed:
		return fmt.Errorf("%w: connection closed", domain.ErrTransport)
	default:
	}

	c.mu.Lock()
	c.attempts++
	attempt := c.attempts
	fail := c.failWrite
	c.mu.Unlock()
	if fail != nil {
		if err := fail(attempt); err != nil {
			return err
		}
	}

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}

	c.mu.Lock()
	c.out = append(c.out, msg)
	n := len(c.out)
	hook := c.onWrite
	c.mu.Unlock()

	if hook != nil {
		hook(ctx, n, msg)
	}
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.isClosed = true
		c.mu.Unlock()
		close(c.closed)
	})
	return nil
}

func (c *fakeConn) messages() []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]map[string]any(nil), c.out...)
}

func (c *fakeConn) wasClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isClosed
}
