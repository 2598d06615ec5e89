package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	os.Unsetenv("CONVEYOR_SERVER__PORT")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Storage.Type != "sqlite" {
		t.Errorf("Storage.Type = %q, want sqlite", cfg.Storage.Type)
	}
	if cfg.Engine.OutputCapBytes != 1<<20 {
		t.Errorf("OutputCapBytes = %d, want %d", cfg.Engine.OutputCapBytes, 1<<20)
	}
	if cfg.Approval.Timeout != "0" {
		t.Errorf("Approval.Timeout = %q, want 0", cfg.Approval.Timeout)
	}
	if cfg.Health.Timeout != "60s" || cfg.Health.Interval != "2s" {
		t.Errorf("Health = %+v", cfg.Health)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	os.Setenv("CONVEYOR_SERVER__PORT", "9000")
	os.Setenv("CONVEYOR_STORAGE__TYPE", "memory")
	defer os.Unsetenv("CONVEYOR_SERVER__PORT")
	defer os.Unsetenv("CONVEYOR_STORAGE__TYPE")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Storage.Type != "memory" {
		t.Errorf("Storage.Type = %q, want memory", cfg.Storage.Type)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conveyor.yaml")
	src := `
server:
  port: 7070
notify:
  url: https://hooks.example.com/builds
  channel: "#builds"
`
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("Server.Port = %d, want 7070", cfg.Server.Port)
	}
	if cfg.Notify.URL != "https://hooks.example.com/builds" || cfg.Notify.Channel != "#builds" {
		t.Errorf("Notify = %+v", cfg.Notify)
	}
	// Untouched keys keep their defaults.
	if cfg.Storage.Type != "sqlite" {
		t.Errorf("Storage.Type = %q, want sqlite", cfg.Storage.Type)
	}
}

func TestLoadMissingExplicitFileIsTolerated(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
}

func TestDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{in: "", want: 0},
		{in: "0", want: 0},
		{in: "90s", want: 90 * time.Second},
		{in: "2h45m", want: 2*time.Hour + 45*time.Minute},
		{in: "soon", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Duration(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Duration(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Duration(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
