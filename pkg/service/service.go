// Package service implements the request/response side of the diffusion service:
// the one-shot diffuse call, interactive sampling at a chosen timestep and schedule
// diagnostics. Streaming sessions reuse Prepare to build their engine.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/diffuse/internal/logging"
	"github.com/aretw0/diffuse/pkg/codec"
	"github.com/aretw0/diffuse/pkg/domain"
	"github.com/aretw0/diffuse/pkg/engine"
	"github.com/aretw0/diffuse/pkg/observability"
	"github.com/aretw0/diffuse/pkg/ports"
	"github.com/aretw0/diffuse/pkg/schedule"
)

// Limits bound the work a single request may cause.
type Limits struct {
	StreamMaxSide  int
	OneShotMaxSide int
	OneShotQuality int
	DefaultQuality int
}

// DefaultLimits mirrors the defaults of the configuration file.
func DefaultLimits() Limits {
	return Limits{
		StreamMaxSide:  512,
		OneShotMaxSide: 256,
		OneShotQuality: 92,
		DefaultQuality: codec.DefaultQuality,
	}
}

// Service builds engines and answers non-streaming requests.
type Service struct {
	slot    ports.ScheduleSlot
	logger  *slog.Logger
	metrics *observability.Metrics
	limits  Limits
	now     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithSlot sets where the last computed schedule is recorded.
func WithSlot(slot ports.ScheduleSlot) Option {
	return func(s *Service) {
		s.slot = slot
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithLimits overrides the default size and quality limits. Zero fields keep their default.
func WithLimits(l Limits) Option {
	return func(s *Service) {
		d := DefaultLimits()
		if l.StreamMaxSide > 0 {
			d.StreamMaxSide = l.StreamMaxSide
		}
		if l.OneShotMaxSide > 0 {
			d.OneShotMaxSide = l.OneShotMaxSide
		}
		if l.OneShotQuality > 0 {
			d.OneShotQuality = codec.ClampQuality(l.OneShotQuality)
		}
		if l.DefaultQuality > 0 {
			d.DefaultQuality = codec.ClampQuality(l.DefaultQuality)
		}
		s.limits = d
	}
}

// New creates a Service. Without WithSlot, schedules are not recorded anywhere.
func New(opts ...Option) *Service {
	s := &Service{
		logger: logging.NewNop(),
		limits: DefaultLimits(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Limits returns the effective limits.
func (s *Service) Limits() Limits { return s.limits }

// Logger returns the service logger so collaborators can share it.
func (s *Service) Logger() *slog.Logger { return s.logger }

// Metrics returns the configured metrics, possibly nil.
func (s *Service) Metrics() *observability.Metrics { return s.metrics }

// Prepare validates p, decodes the image (resized so its longest side is at most maxSide),
// builds the schedule and binds both to a new engine.
//
// Configuration errors are reported before the image is touched, and image errors
// before the schedule is built. When p carries no seed a random one is drawn and logged.
// The schedule is recorded in the slot on a best-effort basis.
func (s *Service) Prepare(ctx context.Context, p Params, maxSide int) (*engine.Engine, error) {
	cfg, err := p.ScheduleConfig()
	if err != nil {
		return nil, err
	}
	seed, ok, err := p.BaseSeed()
	if err != nil {
		return nil, err
	}

	encoded := p.EncodedImage()
	if encoded == "" {
		return nil, fmt.Errorf("%w: empty image payload", domain.ErrInvalidImageData)
	}
	img, err := codec.DecodeBase64(encoded, maxSide)
	if err != nil {
		return nil, err
	}

	sched, err := schedule.New(cfg)
	if err != nil {
		return nil, err
	}

	if !ok {
		seed = engine.RandomSeed()
		s.logger.Info("No seed given, drew a random one", "seed", seed)
	}

	eng, err := engine.New(img, sched, seed, engine.WithLogger(s.logger))
	if err != nil {
		return nil, err
	}
	s.record(ctx, sched)
	return eng, nil
}

// record writes sched to the slot. Failures are logged and otherwise ignored.
func (s *Service) record(ctx context.Context, sched *schedule.Schedule) {
	if s.slot == nil {
		return
	}
	snap := domain.ScheduleSnapshot{
		Kind:       sched.Kind(),
		Steps:      sched.Steps(),
		Beta:       sched.Beta(),
		RecordedAt: s.now().UTC(),
	}
	if err := s.slot.Put(ctx, snap); err != nil {
		s.logger.Warn("Failed to record last schedule", "err", err)
	}
}

// LastSchedule returns the most recently recorded schedule, or ErrScheduleNotRecorded.
func (s *Service) LastSchedule(ctx context.Context) (domain.ScheduleSnapshot, error) {
	if s.slot == nil {
		return domain.ScheduleSnapshot{}, domain.ErrScheduleNotRecorded
	}
	return s.slot.Get(ctx)
}

// sample times one engine sample for the metrics.
func (s *Service) sample(eng *engine.Engine, mode domain.SampleMode, t int) (engine.Frame, error) {
	start := time.Now()
	f, err := eng.Sample(mode, t)
	if err == nil {
		s.metrics.Sampled(string(mode), time.Since(start))
	}
	return f, err
}
