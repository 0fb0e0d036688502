// Package store persists pin configurations across daemon restarts.
package store

import (
	"errors"
	"io"

	"github.com/pinwire/pinwire/device"
)

// ErrNotFound is returned when the requested config has never been saved.
var ErrNotFound = errors.New("config does not exist")

// Store describes a persistent storage engine for pinwire information.
type Store interface {
	// DeviceConfig is the layout the daemon boots with.
	DeviceConfig() (device.Config, error)
	PutDeviceConfig(cfg device.Config) error

	// Profiles are named layouts an operator can switch between.
	Profile(name string) (device.Config, error)
	ListProfiles() ([]string, error)
	PutProfile(name string, cfg device.Config) error
	DeleteProfile(name string) error

	io.Closer
}
