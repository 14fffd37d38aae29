// Package schedule builds DDPM forward-process noise schedules.
//
// A Schedule is immutable once built. Every derived array (alpha, alpha_bar and the
// square roots used by the sampling paths) is computed exactly once in New.
package schedule

import (
	"math"

	"github.com/aretw0/diffuse/pkg/domain"
)

// Bounds and defaults for schedule construction.
const (
	MinSteps = 1
	MaxSteps = 1000

	DefaultBetaStart = 1e-3
	DefaultBetaEnd   = 2e-2
	DefaultCosineS   = 8e-3

	MinBetaBound = 1e-8
	MaxBetaBound = 0.5

	betaFloor   = 1e-8
	betaCeil    = 0.999
	alphaBarMin = 1e-8
)

// Config describes the schedule to build.
// Zero BetaStart, BetaEnd and CosineS select the defaults.
type Config struct {
	Steps     int
	Kind      domain.ScheduleKind
	BetaStart float64
	BetaEnd   float64
	CosineS   float64
}

func (c *Config) defaults() {
	if c.Kind == "" {
		c.Kind = domain.ScheduleLinear
	}
	if c.BetaStart == 0 {
		c.BetaStart = DefaultBetaStart
	}
	if c.BetaEnd == 0 {
		c.BetaEnd = DefaultBetaEnd
	}
	if c.CosineS == 0 {
		c.CosineS = DefaultCosineS
	}
}

// WithDefaults returns c with zero fields replaced by their defaults.
func (c Config) WithDefaults() Config {
	c.defaults()
	return c
}

// Validate rejects configurations that cannot produce a schedule.
func (c Config) Validate() error {
	if c.Steps < MinSteps || c.Steps > MaxSteps {
		return domain.NewConfigError("steps", "must be in [%d, %d], got %d", MinSteps, MaxSteps, c.Steps)
	}
	if _, err := domain.ParseScheduleKind(string(c.Kind)); err != nil {
		return err
	}
	if !inBetaRange(c.BetaStart) {
		return domain.NewConfigError("beta_start", "must be in [%g, %g], got %g", MinBetaBound, MaxBetaBound, c.BetaStart)
	}
	if !inBetaRange(c.BetaEnd) {
		return domain.NewConfigError("beta_end", "must be in [%g, %g], got %g", MinBetaBound, MaxBetaBound, c.BetaEnd)
	}
	if math.IsNaN(c.CosineS) || c.CosineS <= 0 || c.CosineS >= 1 {
		return domain.NewConfigError("cosine_s", "must be in (0, 1), got %g", c.CosineS)
	}
	return nil
}

func inBetaRange(v float64) bool {
	return !math.IsNaN(v) && v >= MinBetaBound && v <= MaxBetaBound
}

// Step bundles the schedule parameters of a single timestep.
type Step struct {
	Beta                 float32
	Alpha                float32
	AlphaBar             float32
	SqrtAlphaBar         float32
	SqrtOneMinusAlphaBar float32
	SqrtOneMinusBeta     float32
	SqrtBeta             float32
}

// Schedule is a validated noise schedule of T steps plus its derived arrays.
type Schedule struct {
	cfg Config

	beta                 []float32
	alpha                []float32
	alphaBar             []float32
	sqrtAlphaBar         []float32
	sqrtOneMinusAlphaBar []float32
	sqrtOneMinusBeta     []float32
	sqrtBeta             []float32
}

// New validates cfg and builds the schedule. No partial schedule is ever returned.
func New(cfg Config) (*Schedule, error) {
	cfg.defaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	kind, _ := domain.ParseScheduleKind(string(cfg.Kind))
	cfg.Kind = kind

	var beta []float32
	switch cfg.Kind {
	case domain.ScheduleCosine:
		beta = cosineBeta(cfg.Steps, cfg.CosineS)
	default:
		beta = linearBeta(cfg.Steps, cfg.BetaStart, cfg.BetaEnd)
	}

	s := &Schedule{cfg: cfg, beta: beta}
	s.derive()
	return s, nil
}

// linearBeta spaces T values evenly between start and end (both inclusive).
func linearBeta(steps int, start, end float64) []float32 {
	beta := make([]float32, steps)
	if steps == 1 {
		beta[0] = clampBeta(float32(start))
		return beta
	}
	delta := (end - start) / float64(steps-1)
	for i := range beta {
		v := start + float64(i)*delta
		if i == steps-1 {
			v = end
		}
		beta[i] = clampBeta(float32(v))
	}
	return beta
}

// cosineBeta samples alpha_bar from the squared-cosine curve anchored at alpha_bar_0 = 1,
// then recovers beta by inverting the cumulative product.
func cosineBeta(steps int, s float64) []float32 {
	f := func(u float64) float64 {
		c := math.Cos(((u + s) / (1 + s)) * (math.Pi / 2))
		return c * c
	}
	denom := f(0)

	alphaBar := make([]float32, steps)
	for i := range alphaBar {
		v := float32(f(float64(i)/float64(steps)) / denom)
		alphaBar[i] = min(max(v, alphaBarMin), 1)
	}

	beta := make([]float32, steps)
	beta[0] = clampBeta(1 - alphaBar[0])
	for i := 1; i < steps; i++ {
		beta[i] = clampBeta(1 - alphaBar[i]/alphaBar[i-1])
	}
	return beta
}

func clampBeta(b float32) float32 {
	if b != b { // NaN
		return betaCeil
	}
	return min(max(b, betaFloor), betaCeil)
}

// derive recomputes alpha and alpha_bar from the clamped beta, so alpha_bar is exactly the
// running float32 product of (1 - beta).
func (s *Schedule) derive() {
	n := len(s.beta)
	s.alpha = make([]float32, n)
	s.alphaBar = make([]float32, n)
	s.sqrtAlphaBar = make([]float32, n)
	s.sqrtOneMinusAlphaBar = make([]float32, n)
	s.sqrtOneMinusBeta = make([]float32, n)
	s.sqrtBeta = make([]float32, n)

	prod := float32(1)
	for i, b := range s.beta {
		a := 1 - b
		prod *= a
		s.alpha[i] = a
		s.alphaBar[i] = prod
		s.sqrtAlphaBar[i] = sqrt32(prod)
		s.sqrtOneMinusAlphaBar[i] = sqrt32(1 - prod)
		s.sqrtOneMinusBeta[i] = sqrt32(a)
		s.sqrtBeta[i] = sqrt32(b)
	}
}

func sqrt32(v float32) float32 {
	return float32(math.Sqrt(float64(v)))
}

// Steps returns T.
func (s *Schedule) Steps() int { return len(s.beta) }

// Kind returns the schedule family.
func (s *Schedule) Kind() domain.ScheduleKind { return s.cfg.Kind }

// Config returns the normalized configuration the schedule was built from.
func (s *Schedule) Config() Config { return s.cfg }

// At returns the parameters of step t. It panics if t is outside [0, T).
func (s *Schedule) At(t int) Step {
	return Step{
		Beta:                 s.beta[t],
		Alpha:                s.alpha[t],
		AlphaBar:             s.alphaBar[t],
		SqrtAlphaBar:         s.sqrtAlphaBar[t],
		SqrtOneMinusAlphaBar: s.sqrtOneMinusAlphaBar[t],
		SqrtOneMinusBeta:     s.sqrtOneMinusBeta[t],
		SqrtBeta:             s.sqrtBeta[t],
	}
}

// Beta returns a copy of the beta array.
func (s *Schedule) Beta() []float32 { return clone(s.beta) }

// Alpha returns a copy of the alpha array.
func (s *Schedule) Alpha() []float32 { return clone(s.alpha) }

// AlphaBar returns a copy of the cumulative alpha array.
func (s *Schedule) AlphaBar() []float32 { return clone(s.alphaBar) }

// SqrtAlphaBar returns a copy of sqrt(alpha_bar).
func (s *Schedule) SqrtAlphaBar() []float32 { return clone(s.sqrtAlphaBar) }

// SqrtOneMinusAlphaBar returns a copy of sqrt(1 - alpha_bar).
func (s *Schedule) SqrtOneMinusAlphaBar() []float32 { return clone(s.sqrtOneMinusAlphaBar) }

// SqrtOneMinusBeta returns a copy of sqrt(1 - beta).
func (s *Schedule) SqrtOneMinusBeta() []float32 { return clone(s.sqrtOneMinusBeta) }

// SqrtBeta returns a copy of sqrt(beta).
func (s *Schedule) SqrtBeta() []float32 { return clone(s.sqrtBeta) }

func clone(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
