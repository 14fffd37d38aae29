package domain

import (
	"fmt"
	"strings"
	"time"
)

// ScheduleKind selects the beta schedule family.
type ScheduleKind string

const (
	ScheduleLinear ScheduleKind = "linear"
	ScheduleCosine ScheduleKind = "cosine"
)

// ParseScheduleKind normalizes s and rejects unknown kinds.
// An empty string selects the linear schedule.
func ParseScheduleKind(s string) (ScheduleKind, error) {
	switch k := ScheduleKind(strings.ToLower(strings.TrimSpace(s))); k {
	case "":
		return ScheduleLinear, nil
	case ScheduleLinear, ScheduleCosine:
		return k, nil
	default:
		return "", NewConfigError("schedule", "unsupported schedule %q, use 'linear' or 'cosine'", s)
	}
}

// SampleMode selects how a single timestep is computed.
type SampleMode string

const (
	// SampleFast uses the closed-form jump, O(1) per call.
	SampleFast SampleMode = "fast"
	// SampleIterative replays the Markov chain from x0, O(t) per call.
	SampleIterative SampleMode = "iterative"
)

// ParseSampleMode normalizes s. An empty string selects SampleFast.
func ParseSampleMode(s string) (SampleMode, error) {
	switch m := SampleMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return SampleFast, nil
	case SampleFast, SampleIterative:
		return m, nil
	default:
		return "", NewConfigError("mode", "unsupported mode %q, use 'fast' or 'iterative'", s)
	}
}

// Metrics holds the similarity between a noised frame and the original image.
type Metrics struct {
	SSIM   float64 `json:"SSIM"`
	Cosine float64 `json:"Cosine"`
}

// String implements fmt.Stringer.
func (m Metrics) String() string {
	return fmt.Sprintf("ssim=%.4f cosine=%.4f", m.SSIM, m.Cosine)
}

// ScheduleSnapshot is the diagnostic copy of the most recently built schedule.
type ScheduleSnapshot struct {
	Kind       ScheduleKind `json:"kind"`
	Steps      int          `json:"steps"`
	Beta       []float32    `json:"beta"`
	RecordedAt time.Time    `json:"recorded_at"`
}
