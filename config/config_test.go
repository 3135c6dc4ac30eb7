package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/scgolang/linksync/config"
	"github.com/sirupsen/logrus"
)

func writeConfig(t *testing.T, text string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "linksync.yml")
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	c, err := config.Load("")
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Validate(); err != nil {
		t.Fatal(err)
	}
	if c.Server.Port != 5777 {
		t.Fatalf("expected port 5777, got %d", c.Server.Port)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 6000
  queryTimeout: 250ms
link:
  bpm: 96
  range:
    min: 60
    max: 180
playback:
  lookAhead: 50ms
  lowLatency: true
log:
  level: debug
`)
	c, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.Server.Port != 6000 || c.Server.QueryTimeout != 250*time.Millisecond {
		t.Fatalf("unexpected server config %+v", c.Server)
	}
	if c.Server.Host != "127.0.0.1" {
		t.Fatalf("expected default host to survive, got %s", c.Server.Host)
	}
	if c.Link.BPM != 96 || c.Link.Range.Min != 60 || c.Link.Range.Max != 180 {
		t.Fatalf("unexpected link config %+v", c.Link)
	}
	if c.Link.Quantum != 4 {
		t.Fatalf("expected default quantum 4, got %f", c.Link.Quantum)
	}
	if c.Playback.LookAhead != 50*time.Millisecond || !c.Playback.LowLatency {
		t.Fatalf("unexpected playback config %+v", c.Playback)
	}
	level, err := c.Log.ParseLevel()
	if err != nil {
		t.Fatal(err)
	}
	if level != logrus.DebugLevel {
		t.Fatalf("expected debug level, got %s", level)
	}
}

func TestLoadErrors(t *testing.T) {
	for _, tc := range []struct {
		name string
		text string
		want string
	}{
		{"unknown field", "server:\n  hostname: x\n", "parsing"},
		{"bad range", "link:\n  range:\n    min: 100\n    max: 150\n", "invalid tempo range"},
		{"bad quantum", "link:\n  quantum: 0\n", "invalid quantum"},
		{"bad level", "log:\n  level: loud\n", "log level"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := config.Load(writeConfig(t, tc.text))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
