// Package engine applies a noise schedule to one image.
//
// An Engine offers three access patterns with different costs:
//
//   - FastSampleAt jumps straight to any timestep with the closed form
//     x_t = sqrt(alpha_bar_t)·x0 + sqrt(1-alpha_bar_t)·eps, in O(1).
//   - IterativeSampleAt replays the Markov chain x_{i+1} = sqrt(1-beta_i)·x_i + sqrt(beta_i)·eps_i
//     from x0 on every call, in O(t). It is never cached; it is the reference for the chain.
//   - Frames walks t = 0..T-1 once, carrying x_i forward, with a single random stream.
//
// FastSampleAt and IterativeSampleAt seed a fresh generator with MixSeed(seed, t). Frames
// seeds one generator with the base seed. The three paths therefore agree on the schedule
// but not on the random draws: IterativeSampleAt(0) and FastSampleAt(0) share alpha_bar_0 and
// still differ bit for bit. That divergence is intentional.
package engine

import (
	"fmt"
	"log/slog"

	"github.com/aretw0/diffuse/internal/logging"
	"github.com/aretw0/diffuse/pkg/codec"
	"github.com/aretw0/diffuse/pkg/domain"
	"github.com/aretw0/diffuse/pkg/schedule"
	"github.com/aretw0/diffuse/pkg/similarity"
)

// Frame is one noised image produced by the engine. Frames are handed off to the caller
// and never retained by the engine.
type Frame struct {
	Index  int
	Beta   float32
	Pixels *codec.PixelBuffer
}

// Engine binds one normalized image, one schedule and a base seed.
// FastSampleAt, IterativeSampleAt and Metrics are safe for concurrent use.
type Engine struct {
	width, height int
	x0            []float32
	reference     *codec.PixelBuffer
	sched         *schedule.Schedule
	seed          uint32
	logger        *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New normalizes img into [0, 1] once and binds it to sched.
func New(img *codec.PixelBuffer, sched *schedule.Schedule, seed uint32, opts ...Option) (*Engine, error) {
	if img == nil || img.Width <= 0 || img.Height <= 0 || len(img.Pix) != img.Width*img.Height*3 {
		return nil, fmt.Errorf("%w: malformed pixel buffer", domain.ErrInvalidImageData)
	}
	if sched == nil {
		return nil, domain.NewConfigError("schedule", "missing")
	}

	e := &Engine{
		width:  img.Width,
		height: img.Height,
		x0:     make([]float32, len(img.Pix)),
		sched:  sched,
		seed:   seed,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}

	for i, v := range img.Pix {
		e.x0[i] = min(max(float32(v)/255, 0), 1)
	}
	ref, err := e.quantize(e.x0)
	if err != nil {
		return nil, err
	}
	e.reference = ref

	e.logger.Info("Diffusion engine ready",
		"width", e.width,
		"height", e.height,
		"steps", sched.Steps(),
		"schedule", sched.Kind(),
		"seed", seed,
	)
	return e, nil
}

// Steps returns T.
func (e *Engine) Steps() int { return e.sched.Steps() }

// Schedule returns the bound schedule.
func (e *Engine) Schedule() *schedule.Schedule { return e.sched }

// Seed returns the base seed.
func (e *Engine) Seed() uint32 { return e.seed }

// Size returns the image width and height.
func (e *Engine) Size() (int, int) { return e.width, e.height }

// Original returns the 8-bit image reconstructed from x0.
func (e *Engine) Original() *codec.PixelBuffer { return e.reference.Clone() }

// ClampStep forces t into [0, T). Out-of-range values are logged, not rejected.
func (e *Engine) ClampStep(t int) int {
	last := e.sched.Steps() - 1
	if t < 0 || t > last {
		clamped := min(max(t, 0), last)
		e.logger.Warn("Timestep out of bounds, clamping",
			"t", t,
			"steps", e.sched.Steps(),
			"clamped", clamped,
		)
		return clamped
	}
	return t
}

// FastSampleAt computes x_t in closed form. The same seed and t always produce the same
// frame; different t draw independent noise.
func (e *Engine) FastSampleAt(t int) (Frame, error) {
	t = e.ClampStep(t)
	st := e.sched.At(t)

	eps := make([]float32, len(e.x0))
	newNormalStream(MixSeed(e.seed, t)).fill(eps)

	// Explicit conversions keep each product rounded, so no platform fuses them.
	xt := make([]float32, len(e.x0))
	for i, x := range e.x0 {
		xt[i] = float32(st.SqrtAlphaBar*x) + float32(st.SqrtOneMinusAlphaBar*eps[i])
	}
	return e.frame(t, xt)
}

// IterativeSampleAt replays the chain from x0 through step t inclusive, drawing every eps_i
// from one generator seeded with MixSeed(seed, t).
func (e *Engine) IterativeSampleAt(t int) (Frame, error) {
	t = e.ClampStep(t)

	stream := newNormalStream(MixSeed(e.seed, t))
	xt := make([]float32, len(e.x0))
	copy(xt, e.x0)
	eps := make([]float32, len(e.x0))
	for i := 0; i <= t; i++ {
		stream.fill(eps)
		step(xt, eps, e.sched.At(i))
	}
	return e.frame(t, xt)
}

// Sample dispatches on mode.
func (e *Engine) Sample(mode domain.SampleMode, t int) (Frame, error) {
	switch mode {
	case domain.SampleIterative:
		return e.IterativeSampleAt(t)
	case domain.SampleFast, "":
		return e.FastSampleAt(t)
	default:
		return Frame{}, domain.NewConfigError("mode", "unsupported mode %q", mode)
	}
}

// Metrics compares a frame with the original image. Errors wrap domain.ErrMetricUnavailable
// and must only cause the metric to be omitted.
func (e *Engine) Metrics(f Frame) (m domain.Metrics, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", domain.ErrMetricUnavailable, r)
		}
	}()
	m, err = similarity.Compare(f.Pixels, e.reference)
	if err != nil {
		e.logger.Debug("Metrics omitted", "t", f.Index, "err", err)
	}
	return m, err
}

// step advances x in place: x = sqrt(1-beta)·x + sqrt(beta)·eps.
func step(x, eps []float32, st schedule.Step) {
	for i := range x {
		x[i] = float32(st.SqrtOneMinusBeta*x[i]) + float32(st.SqrtBeta*eps[i])
	}
}

func (e *Engine) frame(t int, xt []float32) (Frame, error) {
	pix, err := e.quantize(xt)
	if err != nil {
		return Frame{}, fmt.Errorf("step %d: %w", t, err)
	}
	return Frame{Index: t, Beta: e.sched.At(t).Beta, Pixels: pix}, nil
}

// quantize clamps to [0, 1] and rounds half up: floor(x·255 + 0.5).
func (e *Engine) quantize(x []float32) (*codec.PixelBuffer, error) {
	buf := codec.NewPixelBuffer(e.width, e.height)
	for i, v := range x {
		if v != v {
			return nil, fmt.Errorf("%w: non-finite value at sample %d", domain.ErrComputation, i)
		}
		v = min(max(v, 0), 1)
		buf.Pix[i] = uint8(v*255 + 0.5)
	}
	return buf, nil
}
