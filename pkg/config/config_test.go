package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// TestLoadConfigDefaults verifies an almost empty file picks up every default.
func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "server:\n  port: 9000\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Fatalf("port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Queue.Type != "memory" || cfg.Queue.MaxPending != 100 {
		t.Fatalf("queue defaults wrong: %+v", cfg.Queue)
	}
	if cfg.Store.Type != "memory" {
		t.Fatalf("store type = %s, want memory", cfg.Store.Type)
	}
	if cfg.Engine.Type != "mock" {
		t.Fatalf("engine type = %s, want mock", cfg.Engine.Type)
	}
	if cfg.Worker.PoolSize != 2 || cfg.Worker.JobTimeoutSeconds != 1800 || cfg.Worker.CancelPollMillis != 500 {
		t.Fatalf("worker defaults wrong: %+v", cfg.Worker)
	}
}

// TestLoadConfigValidation covers the hard requirements per queue/engine type.
func TestLoadConfigValidation(t *testing.T) {
	cases := []struct {
		name    string
		content string
		wantErr bool
	}{
		{
			name:    "whisper without api key",
			content: "engine:\n  type: whisper\n",
			wantErr: true,
		},
		{
			name:    "sidecar without script",
			content: "engine:\n  type: sidecar\n",
			wantErr: true,
		},
		{
			name:    "rabbitmq without url",
			content: "queue:\n  type: rabbitmq\n",
			wantErr: true,
		},
		{
			name:    "rabbitmq with url",
			content: "queue:\n  type: rabbitmq\n  rabbitmq:\n    url: amqp://localhost:5672/\n",
			wantErr: false,
		},
		{
			name:    "sidecar with script",
			content: "engine:\n  type: sidecar\n  sidecar_script: scripts/worker.py\n",
			wantErr: false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tc.content))
			if tc.wantErr && err == nil {
				t.Fatal("expected validation error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

// TestLoadConfigMissingFile verifies a readable error for a missing path.
func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig("no/such/config.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}
