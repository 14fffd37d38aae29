package ports

import "context"

// Conn is one bidirectional message connection carrying a streaming session.
//
// ReadMessage is called by a single reader goroutine. WriteJSON may be called from
// several goroutines; implementations serialize writes. Close must be idempotent and
// must unblock a pending ReadMessage.
type Conn interface {
	ReadMessage(ctx context.Context) ([]byte, error)
	WriteJSON(ctx context.Context, v any) error
	Close() error
}
