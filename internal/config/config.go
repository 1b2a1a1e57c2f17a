// Package config holds the runtime configuration for the streaming client.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/driftlabs/dreamstream/internal/protocol"
	"github.com/driftlabs/dreamstream/internal/signaling"
)

// Config holds all client configuration.
type Config struct {
	// BaseURL is the signaling endpoint of the generative-video backend.
	BaseURL string `yaml:"base_url"`

	// Pipeline is the configuration the backend must have loaded before
	// negotiation. Immutable once a load request has been issued.
	Pipeline signaling.PipelineConfig `yaml:"pipeline"`

	// InitialParameters is the complete parameter set embedded in the
	// offer.
	InitialParameters protocol.ParameterSet `yaml:"initial_parameters"`

	// PollInterval and MaxPollAttempts bound the pipeline-load status
	// poll. RequirePipelineReady makes poll exhaustion a start failure
	// instead of silently proceeding.
	PollInterval         time.Duration `yaml:"poll_interval"`
	MaxPollAttempts      int           `yaml:"max_poll_attempts"`
	RequirePipelineReady bool          `yaml:"require_pipeline_ready"`

	// RelayInterval is the tick of the inbound frame-relay loop.
	RelayInterval time.Duration `yaml:"relay_interval"`

	// CacheRestoreDelay is how long after a cache reset the client waits
	// before re-enabling automatic cache management.
	CacheRestoreDelay time.Duration `yaml:"cache_restore_delay"`

	// LocalSTUNPort, when nonzero, starts an embedded STUN server on that
	// port and prepends it to the negotiated ICE servers. Useful on LANs
	// with no reachable public STUN.
	LocalSTUNPort int    `yaml:"local_stun_port"`
	LocalSTUNIP   string `yaml:"local_stun_ip"`
}

// NewDefaultConfig returns a Config with default values.
func NewDefaultConfig() *Config {
	return &Config{
		BaseURL: "http://localhost:8888",
		Pipeline: signaling.PipelineConfig{
			PipelineID: "streamdiffusion",
			LoadParams: signaling.LoadParams{
				Height: 320,
				Width:  576,
				Seed:   42,
			},
		},
		InitialParameters: protocol.ParameterSet{
			Prompts:           []protocol.Prompt{{Text: "a watercolor landscape", Weight: 1.0}},
			Interpolation:     protocol.InterpolationSpherical,
			DenoisingStepList: []int{32, 24, 16, 8},
			NoiseScale:        0.7,
			ManageCache:       true,
		},
		PollInterval:      2 * time.Second,
		MaxPollAttempts:   30,
		RelayInterval:     33 * time.Millisecond,
		CacheRestoreDelay: 100 * time.Millisecond,
	}
}

// LoadFile overlays YAML settings from path onto c.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return c.Validate()
}

// Validate checks the fields the session cannot work without.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	if c.Pipeline.PipelineID == "" {
		return fmt.Errorf("pipeline.pipeline_id is required")
	}
	if c.Pipeline.LoadParams.Width <= 0 || c.Pipeline.LoadParams.Height <= 0 {
		return fmt.Errorf("pipeline dimensions must be positive")
	}
	if c.Pipeline.LoadParams.Seed < 0 {
		return fmt.Errorf("pipeline seed must be non-negative")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}
	if c.MaxPollAttempts <= 0 {
		return fmt.Errorf("max_poll_attempts must be positive")
	}
	return c.InitialParameters.Validate()
}
