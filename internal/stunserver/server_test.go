package stunserver

import (
	"testing"

	"go.uber.org/zap"
)

func TestNewValidatesArguments(t *testing.T) {
	tests := []struct {
		name    string
		ip      string
		port    int
		wantErr bool
	}{
		{"valid lan address", "192.168.1.10", 3478, false},
		{"valid loopback", "127.0.0.1", 19302, false},
		{"hostname rejected", "stun.example.com", 3478, true},
		{"empty ip", "", 3478, true},
		{"zero port", "192.168.1.10", 0, true},
		{"port too large", "192.168.1.10", 70000, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.ip, tc.port, zap.NewNop())
			if (err != nil) != tc.wantErr {
				t.Errorf("New(%q, %d) error = %v, wantErr %v", tc.ip, tc.port, err, tc.wantErr)
			}
		})
	}
}

func TestURL(t *testing.T) {
	srv, err := New("10.0.0.5", 3478, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if got := srv.URL(); got != "stun:10.0.0.5:3478" {
		t.Errorf("URL() = %q", got)
	}
}

func TestStopBeforeStartIsNoop(t *testing.T) {
	srv, err := New("127.0.0.1", 3478, zap.NewNop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if srv.IsRunning() {
		t.Error("server must not report running before Start")
	}
	if err := srv.Stop(); err != nil {
		t.Errorf("Stop before Start must be a no-op, got %v", err)
	}
}
