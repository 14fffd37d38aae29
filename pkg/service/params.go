package service

import (
	"math"

	"github.com/aretw0/diffuse/pkg/codec"
	"github.com/aretw0/diffuse/pkg/domain"
	"github.com/aretw0/diffuse/pkg/schedule"
)

// Params are the inputs every engine-building request shares.
type Params struct {
	Image     string   `json:"image" mapstructure:"image"`
	ImageB64  string   `json:"image_b64,omitempty" mapstructure:"image_b64"`
	Steps     int      `json:"steps" mapstructure:"steps"`
	Schedule  string   `json:"schedule,omitempty" mapstructure:"schedule"`
	Seed      *int64   `json:"seed,omitempty" mapstructure:"seed"`
	BetaStart *float64 `json:"beta_start,omitempty" mapstructure:"beta_start"`
	BetaEnd   *float64 `json:"beta_end,omitempty" mapstructure:"beta_end"`
}

// EncodedImage returns the image payload, preferring image over its image_b64 alias.
func (p Params) EncodedImage() string {
	if p.Image != "" {
		return p.Image
	}
	return p.ImageB64
}

// ScheduleConfig validates the schedule part of p without building anything.
func (p Params) ScheduleConfig() (schedule.Config, error) {
	kind, err := domain.ParseScheduleKind(p.Schedule)
	if err != nil {
		return schedule.Config{}, err
	}
	cfg := schedule.Config{
		Steps:     p.Steps,
		Kind:      kind,
		BetaStart: schedule.DefaultBetaStart,
		BetaEnd:   schedule.DefaultBetaEnd,
		CosineS:   schedule.DefaultCosineS,
	}
	if p.BetaStart != nil {
		cfg.BetaStart = *p.BetaStart
	}
	if p.BetaEnd != nil {
		cfg.BetaEnd = *p.BetaEnd
	}
	if err := cfg.Validate(); err != nil {
		return schedule.Config{}, err
	}
	return cfg, nil
}

// BaseSeed converts the optional seed to the engine's 32-bit seed.
// ok is false when no seed was given.
func (p Params) BaseSeed() (seed uint32, ok bool, err error) {
	if p.Seed == nil {
		return 0, false, nil
	}
	if *p.Seed < 0 || *p.Seed > math.MaxUint32 {
		return 0, false, domain.NewConfigError("seed", "must be in [0, %d], got %d", uint32(math.MaxUint32), *p.Seed)
	}
	return uint32(*p.Seed), true, nil
}

// Output controls how frames are encoded for the client.
type Output struct {
	Format  string
	Quality int
	DataURL bool
}

// Validate normalizes the format and checks quality is in [1, 100].
func (o *Output) Validate() error {
	format, err := codec.NormalizeFormat(o.Format)
	if err != nil {
		return err
	}
	o.Format = format
	if o.Quality < codec.MinQuality || o.Quality > codec.MaxQuality {
		return domain.NewConfigError("quality", "must be in [%d, %d], got %d", codec.MinQuality, codec.MaxQuality, o.Quality)
	}
	return nil
}

// Encode renders buf per o.
func (o Output) Encode(buf *codec.PixelBuffer) (string, error) {
	return codec.EncodeString(buf, o.Format, o.Quality, o.DataURL)
}
