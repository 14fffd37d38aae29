package service

import (
	"context"

	"github.com/aretw0/diffuse/pkg/domain"
)

// DiffuseRequest is the one-shot request. The response always holds the last timestep.
type DiffuseRequest struct {
	Params
	ReturnDataURL *bool  `json:"return_data_url,omitempty"`
	Format        string `json:"format,omitempty"`
}

// DiffuseResult is the noised image at t = steps-1.
type DiffuseResult struct {
	Image string `json:"image"`
	T     int    `json:"t"`
}

// Diffuse noises the image to its final timestep with the closed form and encodes it.
// Inputs are resized to the one-shot max side and encoded at the one-shot quality.
func (s *Service) Diffuse(ctx context.Context, req DiffuseRequest) (DiffuseResult, error) {
	out := Output{
		Format:  req.Format,
		Quality: s.limits.OneShotQuality,
		DataURL: req.ReturnDataURL == nil || *req.ReturnDataURL,
	}
	if err := out.Validate(); err != nil {
		return DiffuseResult{}, err
	}

	eng, err := s.Prepare(ctx, req.Params, s.limits.OneShotMaxSide)
	if err != nil {
		return DiffuseResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return DiffuseResult{}, err
	}

	t := eng.Steps() - 1
	f, err := s.sample(eng, domain.SampleFast, t)
	if err != nil {
		return DiffuseResult{}, err
	}
	image, err := out.Encode(f.Pixels)
	if err != nil {
		return DiffuseResult{}, err
	}
	return DiffuseResult{Image: image, T: t}, nil
}
