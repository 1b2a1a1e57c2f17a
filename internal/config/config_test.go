package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/driftlabs/dreamstream/internal/protocol"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config failed validation: %v", err)
	}
	if cfg.BaseURL != "http://localhost:8888" {
		t.Errorf("BaseURL = %q", cfg.BaseURL)
	}
	if cfg.Pipeline.PipelineID != "streamdiffusion" {
		t.Errorf("PipelineID = %q", cfg.Pipeline.PipelineID)
	}
	if cfg.PollInterval != 2*time.Second || cfg.MaxPollAttempts != 30 {
		t.Errorf("poll bounds = %v x %d", cfg.PollInterval, cfg.MaxPollAttempts)
	}
}

func TestLoadFileOverlaysDefaults(t *testing.T) {
	yaml := `
base_url: http://gpu-box:8888
pipeline:
  pipeline_id: longlive
  load_params:
    height: 480
    width: 640
    seed: 7
poll_interval: 500ms
local_stun_port: 3478
local_stun_ip: 10.0.0.5
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := NewDefaultConfig()
	if err := cfg.LoadFile(path); err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.BaseURL != "http://gpu-box:8888" {
		t.Errorf("BaseURL = %q", cfg.BaseURL)
	}
	if cfg.Pipeline.PipelineID != "longlive" {
		t.Errorf("PipelineID = %q", cfg.Pipeline.PipelineID)
	}
	if cfg.Pipeline.LoadParams.Height != 480 || cfg.Pipeline.LoadParams.Width != 640 || cfg.Pipeline.LoadParams.Seed != 7 {
		t.Errorf("LoadParams = %+v", cfg.Pipeline.LoadParams)
	}
	if cfg.PollInterval != 500*time.Millisecond {
		t.Errorf("PollInterval = %v", cfg.PollInterval)
	}
	if cfg.LocalSTUNPort != 3478 || cfg.LocalSTUNIP != "10.0.0.5" {
		t.Errorf("STUN overlay = %d / %q", cfg.LocalSTUNPort, cfg.LocalSTUNIP)
	}
	// Fields the file did not mention keep their defaults.
	if cfg.MaxPollAttempts != 30 {
		t.Errorf("MaxPollAttempts = %d, want default 30", cfg.MaxPollAttempts)
	}
	if len(cfg.InitialParameters.Prompts) == 0 {
		t.Error("default initial parameters were lost during overlay")
	}
}

func TestLoadFileMissingPath(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.LoadFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestLoadFileRejectsInvalidOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("base_url: \"\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := NewDefaultConfig()
	if err := cfg.LoadFile(path); err == nil {
		t.Fatal("an overlay that clears base_url must fail validation")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty base url", func(c *Config) { c.BaseURL = "" }},
		{"empty pipeline id", func(c *Config) { c.Pipeline.PipelineID = "" }},
		{"zero width", func(c *Config) { c.Pipeline.LoadParams.Width = 0 }},
		{"negative height", func(c *Config) { c.Pipeline.LoadParams.Height = -1 }},
		{"negative seed", func(c *Config) { c.Pipeline.LoadParams.Seed = -1 }},
		{"zero poll interval", func(c *Config) { c.PollInterval = 0 }},
		{"zero poll attempts", func(c *Config) { c.MaxPollAttempts = 0 }},
		{"no prompts", func(c *Config) { c.InitialParameters.Prompts = nil }},
		{"ascending denoising steps", func(c *Config) {
			c.InitialParameters.DenoisingStepList = []int{1, 2, 3}
		}},
		{"noise scale out of range", func(c *Config) { c.InitialParameters.NoiseScale = 1.5 }},
		{"bad interpolation", func(c *Config) {
			c.InitialParameters.Interpolation = protocol.Interpolation("cubic")
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected a validation error")
			}
		})
	}
}
