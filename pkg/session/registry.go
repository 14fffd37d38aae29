package session

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/aretw0/diffuse/pkg/ports"
	"github.com/aretw0/diffuse/pkg/service"
)

// ErrShuttingDown is returned by Serve once Shutdown has begun.
var ErrShuttingDown = errors.New("session registry is shutting down")

// Info describes a tracked session.
type Info struct {
	ID        string    `json:"id"`
	State     State     `json:"state"`
	Steps     int       `json:"steps"`
	StartedAt time.Time `json:"started_at"`
}

type entry struct {
	sess   *Session
	cancel context.CancelFunc
	done   chan struct{}
}

// Registry runs sessions and keeps track of the live ones.
type Registry struct {
	svc    *service.Service
	opts   []Option
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*entry
	closed   bool
}

// NewRegistry creates a registry. opts are applied to every session it starts.
func NewRegistry(svc *service.Service, opts ...Option) *Registry {
	return &Registry{
		svc:      svc,
		opts:     opts,
		logger:   svc.Logger(),
		sessions: make(map[string]*entry),
	}
}

// Serve runs a new session on conn and blocks until it ends.
func (r *Registry) Serve(ctx context.Context, conn ports.Conn) error {
	id := uuid.NewString()
	sess := New(r.svc, append(slices.Clone(r.opts), WithID(id))...)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	e := &entry{sess: sess, cancel: cancel, done: make(chan struct{})}
	if err := r.register(id, e); err != nil {
		_ = conn.WriteJSON(ctx, Status{Status: StatusError, Detail: err.Error()})
		_ = conn.Close()
		return err
	}
	defer r.unregister(id, e)

	return sess.Run(ctx, conn)
}

func (r *Registry) register(id string, e *entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrShuttingDown
	}
	r.sessions[id] = e
	return nil
}

func (r *Registry) unregister(id string, e *entry) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
	close(e.done)
}

// List returns the tracked sessions, oldest first.
func (r *Registry) List() []Info {
	r.mu.Lock()
	infos := make([]Info, 0, len(r.sessions))
	for id, e := range r.sessions {
		infos = append(infos, Info{
			ID:        id,
			State:     e.sess.State(),
			Steps:     e.sess.Steps(),
			StartedAt: e.sess.StartedAt(),
		})
	}
	r.mu.Unlock()

	slices.SortFunc(infos, func(a, b Info) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return infos
}

// Len returns the number of tracked sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Shutdown refuses new sessions, cancels the running ones and waits for them to
// finish or for ctx to expire.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	pending := make([]*entry, 0, len(r.sessions))
	for _, e := range r.sessions {
		pending = append(pending, e)
	}
	r.mu.Unlock()

	if len(pending) > 0 {
		r.logger.Info("Canceling active sessions", "count", len(pending))
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, e := range pending {
		e.cancel()
		g.Go(func() error {
			select {
			case <-e.done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}
	return g.Wait()
}
