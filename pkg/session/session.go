package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aretw0/diffuse/pkg/domain"
	"github.com/aretw0/diffuse/pkg/engine"
	"github.com/aretw0/diffuse/pkg/observability"
	"github.com/aretw0/diffuse/pkg/ports"
	"github.com/aretw0/diffuse/pkg/service"
)

// DefaultStartTimeout bounds the wait for the start message.
const DefaultStartTimeout = 30 * time.Second

// ErrStartTimeout is returned when no start message arrives in time.
var ErrStartTimeout = errors.New("no start message received")

// State is the lifecycle of a Session.
type State int32

const (
	StateAwaitingStart State = iota
	StateRunning
	StateCancelling
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateAwaitingStart:
		return "awaiting_start"
	case StateRunning:
		return "running"
	case StateCancelling:
		return "cancelling"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name produced by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	for st := StateAwaitingStart; st <= StateFailed; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown session state %q", text)
}

// Session bridges one connection to one engine. A Session runs once.
type Session struct {
	id           string
	svc          *service.Service
	logger       *slog.Logger
	metrics      *observability.Metrics
	maxSide      int
	startTimeout time.Duration

	state     atomic.Int32
	steps     atomic.Int32
	startedAt time.Time
	ran       atomic.Bool
}

// Option configures a Session.
type Option func(*Session)

// WithID sets the identifier used in logs and listings.
func WithID(id string) Option {
	return func(s *Session) {
		s.id = id
	}
}

// WithLogger sets the structured logger. Defaults to the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMaxSide bounds the longest side of the decoded image. Defaults to the
// service's stream limit.
func WithMaxSide(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.maxSide = n
		}
	}
}

// WithStartTimeout bounds the wait for the start message. Zero or negative waits
// until the connection or ctx ends.
func WithStartTimeout(d time.Duration) Option {
	return func(s *Session) {
		s.startTimeout = d
	}
}

// New creates a session that builds its engine through svc.
func New(svc *service.Service, opts ...Option) *Session {
	s := &Session{
		svc:          svc,
		logger:       svc.Logger(),
		metrics:      svc.Metrics(),
		maxSide:      svc.Limits().StreamMaxSide,
		startTimeout: DefaultStartTimeout,
		startedAt:    time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.id != "" {
		s.logger = s.logger.With("session_id", s.id)
	}
	return s
}

// ID returns the session identifier, possibly empty.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// Steps returns the step count of the running job, zero before start.
func (s *Session) Steps() int { return int(s.steps.Load()) }

// StartedAt returns when the session was created.
func (s *Session) StartedAt() time.Time { return s.startedAt }

func (s *Session) setState(st State) {
	prev := State(s.state.Swap(int32(st)))
	if prev != st {
		s.logger.Debug("Session state changed", "from", prev, "to", st)
	}
}

// Run serves conn until the stream completes, is canceled or fails, then closes conn.
//
// Errors the client caused are reported to it and also returned. Transport errors are
// returned without emitting anything. A canceled session returns nil.
func (s *Session) Run(ctx context.Context, conn ports.Conn) error {
	if !s.ran.CompareAndSwap(false, true) {
		return errors.New("session already ran")
	}
	defer conn.Close()

	j, eng, err := s.start(ctx, conn)
	if err != nil {
		s.metrics.SessionRejected()
		return err
	}

	s.steps.Store(int32(eng.Steps()))
	s.setState(StateRunning)
	s.metrics.SessionStarted()
	s.logger.Info("Session started",
		"steps", eng.Steps(),
		"schedule", eng.Schedule().Kind(),
		"seed", eng.Seed(),
		"preview_every", j.stride,
	)

	outcome, err := s.stream(ctx, conn, eng, j)
	s.metrics.SessionFinished(outcome)
	s.logger.Info("Session finished", "outcome", outcome, "state", s.State())
	return err
}

// start reads and validates the start message and prepares the engine.
func (s *Session) start(ctx context.Context, conn ports.Conn) (job, *engine.Engine, error) {
	readCtx := ctx
	if s.startTimeout > 0 {
		var cancel context.CancelFunc
		readCtx, cancel = context.WithTimeout(ctx, s.startTimeout)
		defer cancel()
	}

	data, err := conn.ReadMessage(readCtx)
	if err != nil {
		s.setState(StateFailed)
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("%w within %s", ErrStartTimeout, s.startTimeout)
			s.logger.Warn("Closing idle connection", "err", err)
			s.report(ctx, conn, Status{Status: StatusError, Detail: err.Error()})
			return job{}, nil, err
		}
		s.logger.Warn("Connection lost before start", "err", err)
		return job{}, nil, err
	}

	j, err := parseStart(data, s.svc.Limits().DefaultQuality)
	if err == nil {
		var eng *engine.Engine
		eng, err = s.svc.Prepare(ctx, j.params, s.maxSide)
		if err == nil {
			return j, eng, nil
		}
	}

	s.setState(StateFailed)
	s.logger.Warn("Rejected start message", "err", err)
	s.report(ctx, conn, Status{Status: StatusError, Detail: err.Error()})
	return job{}, nil, err
}

// stream runs the producer and listener until one of them ends the session.
func (s *Session) stream(ctx context.Context, conn ports.Conn, eng *engine.Engine, j job) (string, error) {
	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	produced := make(chan error, 1)
	cancels := make(chan struct{}, 1)
	readErrs := make(chan error, 1)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		produced <- s.produce(runCtx, conn, eng, j)
	}()
	go func() {
		defer wg.Done()
		s.listen(runCtx, conn, cancels, readErrs)
	}()
	defer wg.Wait()

	select {
	case err := <-produced:
		stop()
		return s.finish(ctx, conn, err, false)

	case <-cancels:
		s.setState(StateCancelling)
		s.logger.Info("Cancel requested")
		stop()
		return s.finish(ctx, conn, <-produced, true)

	case err := <-readErrs:
		stop()
		if perr := <-produced; perr == nil {
			s.setState(StateDone)
			return observability.OutcomeCompleted, nil
		}
		s.setState(StateFailed)
		s.logger.Warn("Connection lost", "err", err)
		return observability.OutcomeDisconnected, err
	}
}

// finish maps the producer result to the terminal state. The producer has returned,
// so whatever finish writes is the last message on the connection.
func (s *Session) finish(ctx context.Context, conn ports.Conn, err error, cancelRequested bool) (string, error) {
	switch {
	case err == nil:
		s.setState(StateDone)
		return observability.OutcomeCompleted, nil

	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		if !cancelRequested {
			s.setState(StateCancelling)
		}
		s.report(ctx, conn, Status{Status: StatusCanceled})
		s.setState(StateDone)
		if cancelRequested {
			return observability.OutcomeCanceled, nil
		}
		return observability.OutcomeCanceled, ctx.Err()

	case errors.Is(err, domain.ErrTransport):
		s.setState(StateFailed)
		s.logger.Warn("Connection lost", "err", err)
		return observability.OutcomeDisconnected, err

	default:
		s.setState(StateFailed)
		s.logger.Error("Frame production failed", "err", err)
		s.report(ctx, conn, Status{Status: StatusError, Detail: err.Error()})
		return observability.OutcomeFailed, err
	}
}

// report writes a control message even if ctx is already canceled.
func (s *Session) report(ctx context.Context, conn ports.Conn, msg Status) {
	if err := conn.WriteJSON(context.WithoutCancel(ctx), msg); err != nil {
		s.logger.Debug("Could not deliver status", "status", msg.Status, "err", err)
	}
}

// produce walks the whole chain. Every frame is computed so the shared random stream
// advances identically for any stride; only selected frames are encoded and sent.
// It yields after each frame and re-checks ctx after encoding, so a cancel is observed
// before the next write.
func (s *Session) produce(ctx context.Context, conn ports.Conn, eng *engine.Engine, j job) error {
	steps := eng.Steps()
	last := steps - 1
	frames := eng.Frames()

	var final Progress
	for {
		f, err := frames.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		s.metrics.FrameProduced()

		if f.Index%j.stride == 0 || f.Index == last {
			began := time.Now()
			msg, err := s.progress(eng, j, f, steps)
			if err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := conn.WriteJSON(ctx, msg); err != nil {
				return err
			}
			s.metrics.FrameEmitted(time.Since(began))
			final = msg
		}
		runtime.Gosched()
	}

	final.Status = StatusDone
	final.T = last
	final.Step = steps
	final.Progress = 1.0
	return conn.WriteJSON(ctx, final)
}

// progress encodes one frame and, when requested, its metrics.
func (s *Session) progress(eng *engine.Engine, j job, f engine.Frame, steps int) (Progress, error) {
	image, err := j.output.Encode(f.Pixels)
	if err != nil {
		return Progress{}, err
	}
	msg := Progress{
		T:        f.Index,
		Beta:     f.Beta,
		Step:     f.Index + 1,
		Progress: float64(f.Index+1) / float64(steps),
		Image:    image,
	}
	if j.includeMetrics {
		if m, err := eng.Metrics(f); err == nil {
			msg.Metrics = &m
		}
	}
	return msg, nil
}

// listen waits for a cancel command. Anything else received while running is ignored.
func (s *Session) listen(ctx context.Context, conn ports.Conn, cancels chan<- struct{}, readErrs chan<- error) {
	for {
		data, err := conn.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() == nil {
				readErrs <- err
			}
			return
		}
		cmd, err := parseCommand(data)
		if err != nil || cmd.Action != ActionCancel {
			s.logger.Debug("Ignoring message", "action", cmd.Action, "err", err)
			continue
		}
		cancels <- struct{}{}
		return
	}
}
