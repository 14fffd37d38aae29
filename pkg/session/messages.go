package session

import (
	"bytes"
	"encoding/json"

	"github.com/mitchellh/mapstructure"

	"github.com/aretw0/diffuse/pkg/domain"
	"github.com/aretw0/diffuse/pkg/service"
)

// Status values of terminal and control messages.
const (
	StatusDone     = "done"
	StatusCanceled = "canceled"
	StatusError    = "error"
)

// ActionCancel is the only client command understood after start.
const ActionCancel = "cancel"

// StartMessage opens a session.
type StartMessage struct {
	service.Params `mapstructure:",squash"`

	PreviewEvery   *int   `mapstructure:"preview_every"`
	Quality        *int   `mapstructure:"quality"`
	DataURL        *bool  `mapstructure:"data_url"`
	IncludeMetrics bool   `mapstructure:"include_metrics"`
	Format         string `mapstructure:"format"`
}

// Command is a control message sent while a session runs.
type Command struct {
	Action string `mapstructure:"action"`
}

// Progress is emitted for each selected frame. The terminal message reuses it with
// Status set to "done".
type Progress struct {
	Status   string          `json:"status,omitempty"`
	T        int             `json:"t"`
	Beta     float32         `json:"beta"`
	Step     int             `json:"step"`
	Progress float64         `json:"progress"`
	Image    string          `json:"image"`
	Metrics  *domain.Metrics `json:"metrics,omitempty"`
}

// Status reports cancellation or failure.
type Status struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// decodeObject parses a JSON object and maps it onto out. Numbers stay json.Number so
// integral fields reject fractional input instead of truncating it.
func decodeObject(data []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return domain.NewConfigError("message", "invalid JSON: %v", err)
	}
	if raw == nil {
		return domain.NewConfigError("message", "expected a JSON object")
	}

	md, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  out,
		TagName: "mapstructure",
	})
	if err != nil {
		return err
	}
	if err := md.Decode(raw); err != nil {
		return domain.NewConfigError("message", "%v", err)
	}
	return nil
}

// job is a validated start message.
type job struct {
	params         service.Params
	stride         int
	output         service.Output
	includeMetrics bool
}

// parseStart validates a start message, filling defaults.
func parseStart(data []byte, defaultQuality int) (job, error) {
	var msg StartMessage
	if err := decodeObject(data, &msg); err != nil {
		return job{}, err
	}

	j := job{
		params:         msg.Params,
		stride:         1,
		includeMetrics: msg.IncludeMetrics,
		output: service.Output{
			Format:  msg.Format,
			Quality: defaultQuality,
			DataURL: true,
		},
	}
	if msg.PreviewEvery != nil {
		if *msg.PreviewEvery < 1 {
			return job{}, domain.NewConfigError("preview_every", "must be at least 1, got %d", *msg.PreviewEvery)
		}
		j.stride = *msg.PreviewEvery
	}
	if msg.Quality != nil {
		j.output.Quality = *msg.Quality
	}
	if msg.DataURL != nil {
		j.output.DataURL = *msg.DataURL
	}
	if err := j.output.Validate(); err != nil {
		return job{}, err
	}
	return j, nil
}

// parseCommand decodes a control message. Unknown fields are ignored.
func parseCommand(data []byte) (Command, error) {
	var cmd Command
	err := decodeObject(data, &cmd)
	return cmd, err
}
