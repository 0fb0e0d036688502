package settings

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultsAreValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("defaults don't validate: %s", err)
	}
}

func TestParseOverridesDefaults(t *testing.T) {
	doc := `
board: bench-pi
listen:
  wire: ":9000"
backend:
  kind: cdev
  chip: gpiochip4
mqtt:
  broker: tcp://mqtt.local:1883
`

	s, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("parse: %s", err)
	}

	if s.Board != "bench-pi" {
		t.Errorf("board = %q", s.Board)
	}
	if s.Listen.Wire != ":9000" {
		t.Errorf("wire addr = %q", s.Listen.Wire)
	}
	if s.Listen.HTTP == "" {
		t.Error("omitted http addr should keep its default")
	}
	if s.Backend.Kind != BackendCdev || s.Backend.Chip != "gpiochip4" {
		t.Errorf("backend = %+v", s.Backend)
	}
	if s.MQTT.Broker != "tcp://mqtt.local:1883" {
		t.Errorf("broker = %q", s.MQTT.Broker)
	}
	if s.LogLevel != "info" {
		t.Errorf("log level = %q, want default", s.LogLevel)
	}
}

func TestParseRejectsUnknownBackend(t *testing.T) {
	if _, err := Parse([]byte("backend:\n  kind: fpga\n")); err == nil {
		t.Error("unknown backend kind should be rejected")
	}
}

func TestParseRejectsBadPollInterval(t *testing.T) {
	doc := `
backend:
  kind: periph
  pollInterval: -5ms
`
	if _, err := Parse([]byte(doc)); err == nil {
		t.Error("negative poll interval should be rejected")
	}
}

func TestPollIntervalParses(t *testing.T) {
	doc := `
backend:
  kind: periph
  pollInterval: 50ms
`
	s, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("parse: %s", err)
	}
	if s.Backend.PollInterval != Duration(50*time.Millisecond) {
		t.Errorf("poll interval = %v", s.Backend.PollInterval)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pinwire.yaml")
	if err := os.WriteFile(path, []byte("board: filetest\n"), 0o600); err != nil {
		t.Fatalf("write: %s", err)
	}

	s, err := Load(path)
	if err != nil {
		t.Fatalf("load: %s", err)
	}
	if s.Board != "filetest" {
		t.Errorf("board = %q", s.Board)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("missing file should be an error")
	}
}
