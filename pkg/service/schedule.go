package service

import (
	"github.com/aretw0/diffuse/pkg/domain"
	"github.com/aretw0/diffuse/pkg/schedule"
)

// SchedulePreview exposes the derived arrays of a schedule for charting.
type SchedulePreview struct {
	Kind                 domain.ScheduleKind `json:"kind"`
	Steps                int                 `json:"steps"`
	Beta                 []float32           `json:"beta"`
	AlphaBar             []float32           `json:"alpha_bar"`
	SqrtAlphaBar         []float32           `json:"sqrt_alpha_bar"`
	SqrtOneMinusAlphaBar []float32           `json:"sqrt_one_minus_alpha_bar"`
}

// PreviewSchedule builds the schedule described by p without touching any image.
// The result is not recorded as the last schedule.
func (s *Service) PreviewSchedule(p Params) (SchedulePreview, error) {
	cfg, err := p.ScheduleConfig()
	if err != nil {
		return SchedulePreview{}, err
	}
	sched, err := schedule.New(cfg)
	if err != nil {
		return SchedulePreview{}, err
	}
	return SchedulePreview{
		Kind:                 sched.Kind(),
		Steps:                sched.Steps(),
		Beta:                 sched.Beta(),
		AlphaBar:             sched.AlphaBar(),
		SqrtAlphaBar:         sched.SqrtAlphaBar(),
		SqrtOneMinusAlphaBar: sched.SqrtOneMinusAlphaBar(),
	}, nil
}
