package service

import (
	"context"
	"errors"

	"github.com/aretw0/diffuse/pkg/domain"
)

// SampleRequest asks for the noised image at one timestep.
type SampleRequest struct {
	Params
	T              int    `json:"t"`
	Mode           string `json:"mode,omitempty"`
	Format         string `json:"format,omitempty"`
	Quality        int    `json:"quality,omitempty"`
	ReturnDataURL  *bool  `json:"return_data_url,omitempty"`
	IncludeMetrics bool   `json:"include_metrics,omitempty"`
}

// SampleResult is one sampled timestep. T is the timestep actually used after clamping.
type SampleResult struct {
	Image    string            `json:"image"`
	T        int               `json:"t"`
	Beta     float32           `json:"beta"`
	AlphaBar float32           `json:"alpha_bar"`
	Mode     domain.SampleMode `json:"mode"`
	Metrics  *domain.Metrics   `json:"metrics,omitempty"`
}

// Sample computes the image at req.T with the fast or iterative path.
// An out-of-range T is clamped into [0, steps) rather than rejected.
func (s *Service) Sample(ctx context.Context, req SampleRequest) (SampleResult, error) {
	mode, err := domain.ParseSampleMode(req.Mode)
	if err != nil {
		return SampleResult{}, err
	}
	quality := req.Quality
	if quality == 0 {
		quality = s.limits.DefaultQuality
	}
	out := Output{
		Format:  req.Format,
		Quality: quality,
		DataURL: req.ReturnDataURL == nil || *req.ReturnDataURL,
	}
	if err := out.Validate(); err != nil {
		return SampleResult{}, err
	}

	eng, err := s.Prepare(ctx, req.Params, s.limits.OneShotMaxSide)
	if err != nil {
		return SampleResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return SampleResult{}, err
	}

	t := eng.ClampStep(req.T)
	f, err := s.sample(eng, mode, t)
	if err != nil {
		return SampleResult{}, err
	}
	image, err := out.Encode(f.Pixels)
	if err != nil {
		return SampleResult{}, err
	}

	res := SampleResult{
		Image:    image,
		T:        t,
		Beta:     f.Beta,
		AlphaBar: eng.Schedule().At(t).AlphaBar,
		Mode:     mode,
	}
	if req.IncludeMetrics {
		m, err := eng.Metrics(f)
		switch {
		case err == nil:
			res.Metrics = &m
		case !errors.Is(err, domain.ErrMetricUnavailable):
			return SampleResult{}, err
		}
	}
	return res, nil
}
