//go:build !linux

package hal

import (
	"context"
	"errors"

	"github.com/pinwire/pinwire/device"
)

var _ Backend = &CDev{}

// CDev is only available on Linux, where the GPIO character device lives.
type CDev struct{}

// NewCDev returns an error on non-Linux platforms. Use the Sim backend for
// development on other hosts.
func NewCDev(chipName string) (*CDev, error) {
	return nil, errors.New("hal: gpio character device requires Linux")
}

func (c *CDev) Configure(pin device.Pin, dir device.Direction, fn device.Function, pull device.Pull) error {
	return &Error{Kind: Unavailable, Pin: pin}
}

func (c *CDev) Write(pin device.Pin, level device.Level) error {
	return &Error{Kind: Unavailable, Pin: pin}
}

func (c *CDev) Read(pin device.Pin) (device.Level, error) {
	return device.Low, &Error{Kind: Unavailable, Pin: pin}
}

func (c *CDev) Watch(ctx context.Context, pin device.Pin) (<-chan Event, error) {
	return nil, &Error{Kind: Unavailable, Pin: pin}
}

func (c *CDev) Close() error {
	return nil
}
