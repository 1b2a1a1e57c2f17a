package protocol

import (
	"fmt"
)

// Interpolation selects how the backend blends between weighted prompts.
type Interpolation string

const (
	InterpolationLinear    Interpolation = "linear"
	InterpolationSpherical Interpolation = "slerp"
)

// Prompt is a single weighted text prompt.
type Prompt struct {
	Text   string  `json:"text" yaml:"text"`
	Weight float64 `json:"weight" yaml:"weight"`
}

// ParameterSet is the complete generation parameter state for a stream.
// It is sent in full alongside the offer; later changes go out as sparse
// ParameterUpdate messages over the data channel.
type ParameterSet struct {
	Prompts           []Prompt      `json:"prompts" yaml:"prompts"`
	Interpolation     Interpolation `json:"prompt_interpolation_method" yaml:"prompt_interpolation_method"`
	DenoisingStepList []int         `json:"denoising_step_list" yaml:"denoising_step_list"`
	NoiseScale        float64       `json:"noise_scale" yaml:"noise_scale"`
	ManageCache       bool          `json:"manage_cache" yaml:"manage_cache"`
}

// Validate checks the bounds the backend enforces on a full parameter set.
func (p ParameterSet) Validate() error {
	if len(p.Prompts) == 0 {
		return fmt.Errorf("parameter set needs at least one prompt")
	}
	for i, pr := range p.Prompts {
		if pr.Text == "" {
			return fmt.Errorf("prompt %d has empty text", i)
		}
	}
	switch p.Interpolation {
	case InterpolationLinear, InterpolationSpherical:
	default:
		return fmt.Errorf("unknown interpolation method %q", p.Interpolation)
	}
	if err := validateSchedule(p.DenoisingStepList); err != nil {
		return err
	}
	if p.NoiseScale < 0 || p.NoiseScale > 1 {
		return fmt.Errorf("noise scale %v outside [0, 1]", p.NoiseScale)
	}
	return nil
}

func validateSchedule(steps []int) error {
	if len(steps) == 0 {
		return fmt.Errorf("denoising step list is empty")
	}
	for i := 1; i < len(steps); i++ {
		if steps[i] >= steps[i-1] {
			return fmt.Errorf("denoising step list must be strictly descending (index %d)", i)
		}
	}
	return nil
}

// ParameterUpdate is a sparse change to the server-held parameter state.
// Nil fields are omitted from the wire message entirely, so the server
// keeps its current value for them.
type ParameterUpdate struct {
	Prompts           []Prompt       `json:"prompts,omitempty"`
	Interpolation     *Interpolation `json:"prompt_interpolation_method,omitempty"`
	DenoisingStepList []int          `json:"denoising_step_list,omitempty"`
	NoiseScale        *float64       `json:"noise_scale,omitempty"`
	ManageCache       *bool          `json:"manage_cache,omitempty"`
}

// IsEmpty reports whether the update would change nothing.
func (u ParameterUpdate) IsEmpty() bool {
	return u.Prompts == nil && u.Interpolation == nil &&
		u.DenoisingStepList == nil && u.NoiseScale == nil && u.ManageCache == nil
}

// Validate checks only the fields present in the update.
func (u ParameterUpdate) Validate() error {
	for i, pr := range u.Prompts {
		if pr.Text == "" {
			return fmt.Errorf("prompt %d has empty text", i)
		}
	}
	if u.Interpolation != nil {
		switch *u.Interpolation {
		case InterpolationLinear, InterpolationSpherical:
		default:
			return fmt.Errorf("unknown interpolation method %q", *u.Interpolation)
		}
	}
	if u.DenoisingStepList != nil {
		if err := validateSchedule(u.DenoisingStepList); err != nil {
			return err
		}
	}
	if u.NoiseScale != nil && (*u.NoiseScale < 0 || *u.NoiseScale > 1) {
		return fmt.Errorf("noise scale %v outside [0, 1]", *u.NoiseScale)
	}
	return nil
}

// Float64 returns a pointer for use in sparse updates.
func Float64(v float64) *float64 { return &v }

// Bool returns a pointer for use in sparse updates.
func Bool(v bool) *bool { return &v }

// InterpolationPtr returns a pointer for use in sparse updates.
func InterpolationPtr(v Interpolation) *Interpolation { return &v }
