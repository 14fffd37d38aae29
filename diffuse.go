package diffuse

import (
	"fmt"
	"log/slog"

	"github.com/aretw0/diffuse/internal/logging"
	"github.com/aretw0/diffuse/pkg/codec"
	"github.com/aretw0/diffuse/pkg/domain"
	"github.com/aretw0/diffuse/pkg/engine"
	"github.com/aretw0/diffuse/pkg/schedule"
)

type options struct {
	cfg     schedule.Config
	betaSet bool
	seed    *uint32
	maxSide int
	logger  *slog.Logger
}

// Option configures New.
type Option func(*options)

// WithSchedule selects the schedule kind. Linear is the default.
func WithSchedule(kind domain.ScheduleKind) Option {
	return func(o *options) {
		o.cfg.Kind = kind
	}
}

// WithBeta overrides the linear schedule endpoints. Both values are taken as given and
// must lie in [schedule.MinBetaBound, schedule.MaxBetaBound]; zero is rejected, not
// replaced by the default.
func WithBeta(start, end float64) Option {
	return func(o *options) {
		o.cfg.BetaStart = start
		o.cfg.BetaEnd = end
		o.betaSet = true
	}
}

// WithSeed fixes the base seed. Without it a random seed is drawn and logged.
func WithSeed(seed uint32) Option {
	return func(o *options) {
		o.seed = &seed
	}
}

// WithMaxSide resizes the image so its longest side is at most n pixels.
func WithMaxSide(n int) Option {
	return func(o *options) {
		o.maxSide = n
	}
}

// WithLogger sets the logger handed to the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// New decodes an encoded image (PNG, JPEG, GIF or WebP) and binds it to a schedule of
// the given number of steps.
func New(data []byte, steps int, opts ...Option) (*engine.Engine, error) {
	return build(steps, opts, func(maxSide int) (*codec.PixelBuffer, error) {
		return codec.Decode(data, maxSide)
	})
}

// NewBase64 is New for raw base64 or data-URL payloads.
func NewBase64(encoded string, steps int, opts ...Option) (*engine.Engine, error) {
	return build(steps, opts, func(maxSide int) (*codec.PixelBuffer, error) {
		return codec.DecodeBase64(encoded, maxSide)
	})
}

func build(steps int, opts []Option, decode func(maxSide int) (*codec.PixelBuffer, error)) (*engine.Engine, error) {
	o := &options{logger: logging.NewNop()}
	for _, opt := range opts {
		opt(o)
	}
	cfg := o.cfg
	cfg.Steps = steps
	cfg = cfg.WithDefaults()
	if o.betaSet {
		cfg.BetaStart, cfg.BetaEnd = o.cfg.BetaStart, o.cfg.BetaEnd
	}

	// Reject bad configuration before decoding anything.
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	img, err := decode(o.maxSide)
	if err != nil {
		return nil, err
	}
	sched, err := schedule.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build schedule: %w", err)
	}

	var seed uint32
	if o.seed != nil {
		seed = *o.seed
	} else {
		seed = engine.RandomSeed()
		o.logger.Info("No seed given, drew a random one", "seed", seed)
	}
	return engine.New(img, sched, seed, engine.WithLogger(o.logger))
}
