package protocol

import (
	"encoding/json"
	"reflect"
	"testing"
)

func validSet() ParameterSet {
	return ParameterSet{
		Prompts:           []Prompt{{Text: "a foggy harbor", Weight: 1.0}},
		Interpolation:     InterpolationSpherical,
		DenoisingStepList: []int{32, 24, 16, 8},
		NoiseScale:        0.7,
		ManageCache:       true,
	}
}

func TestEncodeInitialIncludesEveryField(t *testing.T) {
	data, err := EncodeInitial(validSet())
	if err != nil {
		t.Fatalf("EncodeInitial failed: %v", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}

	for _, key := range []string{
		"prompts", "prompt_interpolation_method",
		"denoising_step_list", "noise_scale", "manage_cache",
	} {
		if _, ok := fields[key]; !ok {
			t.Errorf("initial message missing field %q", key)
		}
	}
	if len(fields) != 5 {
		t.Errorf("initial message has %d fields, want 5: %v", len(fields), fields)
	}
}

func TestEncodeInitialRejectsInvalidSets(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ParameterSet)
	}{
		{"no prompts", func(p *ParameterSet) { p.Prompts = nil }},
		{"empty prompt text", func(p *ParameterSet) { p.Prompts[0].Text = "" }},
		{"bad interpolation", func(p *ParameterSet) { p.Interpolation = "cubic" }},
		{"empty schedule", func(p *ParameterSet) { p.DenoisingStepList = nil }},
		{"ascending schedule", func(p *ParameterSet) { p.DenoisingStepList = []int{8, 16} }},
		{"flat schedule", func(p *ParameterSet) { p.DenoisingStepList = []int{16, 16} }},
		{"noise scale too high", func(p *ParameterSet) { p.NoiseScale = 1.5 }},
		{"noise scale negative", func(p *ParameterSet) { p.NoiseScale = -0.1 }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			set := validSet()
			tc.mutate(&set)
			if _, err := EncodeInitial(set); err == nil {
				t.Fatal("expected an error, got none")
			}
		})
	}
}

func TestEncodeUpdateIsSparse(t *testing.T) {
	data, err := EncodeUpdate(ParameterUpdate{NoiseScale: Float64(0.3)})
	if err != nil {
		t.Fatalf("EncodeUpdate failed: %v", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if len(fields) != 1 {
		t.Fatalf("sparse update has %d fields, want only noise_scale: %v", len(fields), fields)
	}
	if got := fields["noise_scale"]; got != 0.3 {
		t.Errorf("noise_scale = %v, want 0.3", got)
	}
}

func TestEncodeUpdateKeepsExplicitFalse(t *testing.T) {
	data, err := EncodeUpdate(ParameterUpdate{ManageCache: Bool(false)})
	if err != nil {
		t.Fatalf("EncodeUpdate failed: %v", err)
	}
	if string(data) != `{"manage_cache":false}` {
		t.Errorf("got %s, want {\"manage_cache\":false}", data)
	}
}

func TestEncodeUpdateRejectsEmpty(t *testing.T) {
	if _, err := EncodeUpdate(ParameterUpdate{}); err == nil {
		t.Fatal("expected an error for an empty update")
	}
}

func TestEncodeCacheReset(t *testing.T) {
	got := string(EncodeCacheReset())
	want := `{"manage_cache":false,"reset_cache":true}`
	if got != want {
		t.Errorf("EncodeCacheReset() = %s, want %s", got, want)
	}
}

func TestEncodeCacheRestore(t *testing.T) {
	got := string(EncodeCacheRestore())
	want := `{"manage_cache":true}`
	if got != want {
		t.Errorf("EncodeCacheRestore() = %s, want %s", got, want)
	}
}

func TestDecodeNotification(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    *Notification
		wantErr bool
	}{
		{
			name:  "stream stopped with reason",
			input: `{"type":"stream_stopped","error_message":"out of VRAM"}`,
			want:  &Notification{Type: "stream_stopped", ErrorMessage: "out of VRAM"},
		},
		{
			name:  "stream stopped without reason",
			input: `{"type":"stream_stopped"}`,
			want:  &Notification{Type: "stream_stopped"},
		},
		{
			name:  "unknown type ignored",
			input: `{"type":"telemetry","fps":12}`,
			want:  nil,
		},
		{
			name:  "missing type ignored",
			input: `{"noise_scale":0.5}`,
			want:  nil,
		},
		{
			name:    "not JSON",
			input:   `]]]`,
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DecodeNotification([]byte(tc.input))
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected an error, got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeNotification failed: %v", err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("got %+v, want %+v", got, tc.want)
			}
		})
	}
}
