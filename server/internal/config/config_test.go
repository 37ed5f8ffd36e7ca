package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aeroledger/aeroledger/pkg/types"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoad_Defaults(t *testing.T) {
	// Only the agent section is present; every server field comes from defaults.
	p := writeConfig(t, `agent:
  server_url: "http://localhost:8000"
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	s := cfg.Server
	if s.HTTPPort != DefaultHTTPPort {
		t.Errorf("http_port: got %d, want %d", s.HTTPPort, DefaultHTTPPort)
	}
	if s.Detector.StuckThreshold != 5 {
		t.Errorf("stuck_threshold: got %d, want 5", s.Detector.StuckThreshold)
	}
	if s.History.Window != 10 || s.History.Capacity != 100 {
		t.Errorf("history: got window=%d capacity=%d, want 10/100", s.History.Window, s.History.Capacity)
	}
	if got := s.Detector.Bounds[types.ChannelCO2]; got.Min != 300 || got.Max != 5000 {
		t.Errorf("co2 bounds: got %v, want [300, 5000]", got)
	}
	if got := s.Ingest.Limits[types.ChannelCO2]; got.Min != 0 {
		t.Errorf("co2 ingest min: got %v, want 0", got.Min)
	}
	if len(s.Control.Levels) != 5 || s.Control.Levels[4] != 100 {
		t.Errorf("levels: got %v", s.Control.Levels)
	}
	if s.Judgment.Model != "gpt-4" || s.Judgment.Temperature != 0.3 || s.Judgment.MaxTokens != 500 {
		t.Errorf("judgment defaults: got %+v", s.Judgment)
	}
	if s.Ledger.Backend != "memory" {
		t.Errorf("ledger.backend: got %q, want memory", s.Ledger.Backend)
	}
}

func TestLoad_PartialBoundsOverride(t *testing.T) {
	p := writeConfig(t, `server:
  detector:
    bounds:
      pm25: {min: 0, max: 800}
    stuck_threshold: 8
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	b := cfg.Server.Detector.Bounds
	if b[types.ChannelPM25].Max != 800 {
		t.Errorf("pm25 max: got %v, want 800", b[types.ChannelPM25].Max)
	}
	// Channels not mentioned keep their defaults.
	if b[types.ChannelCO2].Min != 300 {
		t.Errorf("co2 min: got %v, want 300", b[types.ChannelCO2].Min)
	}
	if cfg.Server.Detector.StuckThreshold != 8 {
		t.Errorf("stuck_threshold: got %d, want 8", cfg.Server.Detector.StuckThreshold)
	}
}

func TestLoad_DefaultHeader(t *testing.T) {
	p := writeConfig(t, `server:
  auth:
    mode: apikey
    key_env: K
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if h := cfg.Server.Auth.EffectiveHeader(); h != "x-api-key" {
		t.Errorf("EffectiveHeader: got %q, want x-api-key", h)
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{"port", "server:\n  http_port: 70000\n", "http_port"},
		{"auth mode", "server:\n  auth:\n    mode: oauth\n", "auth.mode"},
		{"inverted bounds", "server:\n  detector:\n    bounds:\n      co: {min: 10, max: 1}\n", "min 10 exceeds max 1"},
		{"stuck threshold", "server:\n  detector:\n    stuck_threshold: 1\n", "stuck_threshold"},
		{"levels order", "server:\n  control:\n    levels: [0, 50, 25]\n", "ascending"},
		{"levels range", "server:\n  control:\n    levels: [0, 150]\n", "out of range"},
		{"levels safe mode", "server:\n  control:\n    levels: [0, 40, 100]\n", "safe-mode intensity"},
		{"stuck beyond window", "server:\n  detector:\n    stuck_threshold: 20\n  history:\n    window: 10\n", "exceeds history.window"},
		{"capacity", "server:\n  history:\n    capacity: 5\n    window: 10\n", "capacity"},
		{"provider", "server:\n  judgment:\n    provider: oracle\n", "provider"},
		{"ledger", "server:\n  ledger:\n    backend: s3\n", "ledger.backend"},
		{"badger path", "server:\n  ledger:\n    backend: badger\n", "badger.path"},
		{"redis addr", "server:\n  ledger:\n    backend: redis\n", "redis.addr"},
		{"archive", "server:\n  archive:\n    enabled: true\n", "archive"},
		{"alert name", "server:\n  alerts:\n    rules:\n      - event: fault\n", "rules[0].name"},
		{"alert event", "server:\n  alerts:\n    rules:\n      - name: a\n        event: sample\n", "event \"sample\""},
		{"alert dup", "server:\n  alerts:\n    rules:\n      - {name: a, event: fault}\n      - {name: a, event: decision}\n", "duplicate"},
		{"alert condition", "server:\n  alerts:\n    rules:\n      - {name: a, event: fault, condition: stuck}\n", "condition"},
		{"alert severity", "server:\n  alerts:\n    rules:\n      - {name: a, event: fault, severity: page}\n", "severity"},
		{"webhook type", "server:\n  alerts:\n    webhooks:\n      - {type: email}\n", "webhooks[0].type"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, c.yaml))
			if err == nil {
				t.Fatalf("Load: expected error containing %q", c.want)
			}
			if !strings.Contains(err.Error(), c.want) {
				t.Errorf("error %q does not mention %q", err, c.want)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("Load of missing file: expected error")
	}
}

func TestResolveSecretsFromEnv(t *testing.T) {
	t.Setenv("AERO_TEST_KEY", "s3cret")
	a := AuthConfig{KeyEnv: "AERO_TEST_KEY"}
	if a.Key() != "s3cret" {
		t.Errorf("Key: got %q, want s3cret", a.Key())
	}
	j := JudgmentConfig{APIKeyEnv: "AERO_TEST_KEY"}
	if j.APIKey() != "s3cret" {
		t.Errorf("APIKey: got %q, want s3cret", j.APIKey())
	}
	if (AuthConfig{}).Key() != "" {
		t.Error("Key with no env name should be empty")
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	p := writeConfig(t, "server:\n  detector:\n    stuck_threshold: 5\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Config, 1)
	go Watch(ctx, p, func(c *Config) { //nolint:errcheck
		select {
		case got <- c:
		default:
		}
	})

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(p, []byte("server:\n  detector:\n    stuck_threshold: 7\n"), 0o600); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	select {
	case c := <-got:
		if c.Server.Detector.StuckThreshold != 7 {
			t.Errorf("reloaded stuck_threshold: got %d, want 7", c.Server.Detector.StuckThreshold)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}
