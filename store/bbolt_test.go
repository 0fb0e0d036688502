package store

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/pinwire/pinwire/device"
)

func openTestStore(t *testing.T) Store {
	t.Helper()

	s, err := OpenBBolt(filepath.Join(t.TempDir(), "pinwire.db"), 0o600, nil)
	if err != nil {
		t.Fatalf("open store: %s", err)
	}
	t.Cleanup(func() { s.Close() })

	return s
}

func sampleConfig() device.Config {
	cfg := device.NewConfig()
	cfg.SetPin(17, device.PinConfig{Direction: device.Output, Function: device.FuncGPIO, Level: device.High})
	cfg.SetPin(26, device.PinConfig{Direction: device.Input, Function: device.FuncGPIO, Pull: device.PullUp})
	return cfg
}

func TestDeviceConfigRoundTrip(t *testing.T) {
	s := openTestStore(t)

	cfg := sampleConfig()
	if err := s.PutDeviceConfig(cfg); err != nil {
		t.Fatalf("put: %s", err)
	}

	got, err := s.DeviceConfig()
	if err != nil {
		t.Fatalf("get: %s", err)
	}
	if !got.Equal(cfg) {
		t.Errorf("got %+v, want %+v", got, cfg)
	}
}

func TestDeviceConfigMissing(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.DeviceConfig(); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestProfileRoundTrip(t *testing.T) {
	s := openTestStore(t)

	cfg := sampleConfig()
	if err := s.PutProfile("bench", cfg); err != nil {
		t.Fatalf("put: %s", err)
	}

	got, err := s.Profile("bench")
	if err != nil {
		t.Fatalf("get: %s", err)
	}
	if !got.Equal(cfg) {
		t.Errorf("got %+v, want %+v", got, cfg)
	}
}

func TestProfileMissing(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.Profile("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestListProfiles(t *testing.T) {
	s := openTestStore(t)

	names, err := s.ListProfiles()
	if err != nil {
		t.Fatalf("list: %s", err)
	}
	if len(names) != 0 {
		t.Errorf("fresh store lists %v", names)
	}

	if err := s.PutProfile("bench", sampleConfig()); err != nil {
		t.Fatalf("put: %s", err)
	}
	if err := s.PutProfile("deploy", sampleConfig()); err != nil {
		t.Fatalf("put: %s", err)
	}

	names, err = s.ListProfiles()
	if err != nil {
		t.Fatalf("list: %s", err)
	}
	if len(names) != 2 || names[0] != "bench" || names[1] != "deploy" {
		t.Errorf("got %v, want [bench deploy]", names)
	}
}

func TestDeleteProfile(t *testing.T) {
	s := openTestStore(t)

	if err := s.PutProfile("bench", sampleConfig()); err != nil {
		t.Fatalf("put: %s", err)
	}
	if err := s.DeleteProfile("bench"); err != nil {
		t.Fatalf("delete: %s", err)
	}

	if _, err := s.Profile("bench"); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound after delete", err)
	}
}

func TestPutProfileEmptyName(t *testing.T) {
	s := openTestStore(t)

	if err := s.PutProfile("", sampleConfig()); err == nil {
		t.Error("empty profile name should be rejected")
	}
}
