//go:build linux

package hal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/warthog618/go-gpiocdev"

	"github.com/pinwire/pinwire/device"
)

// compile-time check for whether CDev satisfies the Backend interface
var _ Backend = &CDev{}

// CDev drives real silicon through the Linux GPIO character device. Level
// changes on inputs arrive via kernel edge events, so watch latency is
// interrupt-driven rather than polled.
//
// The character device only exposes plain input/output; requesting an
// alternate function (I2C, SPI, ...) fails with UnsupportedConfiguration
// since pin muxing belongs to the device tree, not this process.
type CDev struct {
	chip *gpiocdev.Chip

	mu       sync.Mutex
	lines    map[device.Pin]*cdevLine
	watchers map[device.Pin]map[chan Event]struct{}
	closed   bool
}

type cdevLine struct {
	line *gpiocdev.Line
	dir  device.Direction
}

// NewCDev opens the named GPIO chip, typically "gpiochip0" on a Raspberry
// Pi. The chip handle is held exclusively until Close.
func NewCDev(chipName string) (*CDev, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip %q: %w", chipName, err)
	}

	return &CDev{
		chip:     chip,
		lines:    make(map[device.Pin]*cdevLine),
		watchers: make(map[device.Pin]map[chan Event]struct{}),
	}, nil
}

// classify maps kernel errors onto the backend taxonomy.
func classify(pin device.Pin, err error) *Error {
	kind := Unavailable
	switch {
	case errors.Is(err, syscall.EBUSY):
		kind = PinBusy
	case errors.Is(err, syscall.EINVAL):
		kind = UnsupportedConfiguration
	case os.IsPermission(err) || errors.Is(err, syscall.EPERM):
		kind = Permission
	}
	return &Error{Kind: kind, Pin: pin, Cause: err}
}

func (c *CDev) Configure(pin device.Pin, dir device.Direction, fn device.Function, pull device.Pull) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return &Error{Kind: Unavailable, Pin: pin}
	}
	if !device.Known(pin) {
		return &Error{Kind: UnknownPin, Pin: pin}
	}
	if fn != device.FuncGPIO {
		return Errf(UnsupportedConfiguration, pin, "function %s requires device tree muxing", fn)
	}

	// Re-request rather than reconfigure so edge detection and the event
	// handler are always attached to inputs.
	if existing, ok := c.lines[pin]; ok {
		existing.line.Close()
		delete(c.lines, pin)
	}

	var opts []gpiocdev.LineReqOption
	if dir == device.Input {
		opts = append(opts, gpiocdev.AsInput, gpiocdev.WithBothEdges, gpiocdev.WithEventHandler(c.handleEdge))
		switch pull {
		case device.PullUp:
			opts = append(opts, gpiocdev.WithPullUp)
		case device.PullDown:
			opts = append(opts, gpiocdev.WithPullDown)
		case device.PullNone:
			opts = append(opts, gpiocdev.WithBiasDisabled)
		}
	} else {
		opts = append(opts, gpiocdev.AsOutput(0))
	}

	line, err := c.chip.RequestLine(int(pin), opts...)
	if err != nil {
		return classify(pin, fmt.Errorf("request line: %w", err))
	}

	c.lines[pin] = &cdevLine{line: line, dir: dir}

	return nil
}

func (c *CDev) handleEdge(evt gpiocdev.LineEvent) {
	level := device.Level(evt.Type == gpiocdev.LineEventRisingEdge)
	ev := Event{Pin: device.Pin(evt.Offset), Level: level, Timestamp: time.Now()}

	c.mu.Lock()
	defer c.mu.Unlock()
	for ch := range c.watchers[ev.Pin] {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (c *CDev) Write(pin device.Pin, level device.Level) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return &Error{Kind: Unavailable, Pin: pin}
	}

	l, ok := c.lines[pin]
	if !ok {
		return &Error{Kind: UnknownPin, Pin: pin}
	}
	if l.dir != device.Output {
		return Errf(WrongDirection, pin, "write to %s pin", l.dir)
	}

	value := 0
	if level {
		value = 1
	}
	if err := l.line.SetValue(value); err != nil {
		return classify(pin, fmt.Errorf("set value: %w", err))
	}

	return nil
}

func (c *CDev) Read(pin device.Pin) (device.Level, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return device.Low, &Error{Kind: Unavailable, Pin: pin}
	}

	l, ok := c.lines[pin]
	if !ok {
		return device.Low, &Error{Kind: UnknownPin, Pin: pin}
	}

	value, err := l.line.Value()
	if err != nil {
		return device.Low, classify(pin, fmt.Errorf("get value: %w", err))
	}

	return value != 0, nil
}

func (c *CDev) Watch(ctx context.Context, pin device.Pin) (<-chan Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, &Error{Kind: Unavailable, Pin: pin}
	}
	if _, ok := c.lines[pin]; !ok {
		return nil, &Error{Kind: UnknownPin, Pin: pin}
	}

	ch := make(chan Event, 16)
	if c.watchers[pin] == nil {
		c.watchers[pin] = make(map[chan Event]struct{})
	}
	c.watchers[pin][ch] = struct{}{}

	go func() {
		<-ctx.Done()
		c.mu.Lock()
		defer c.mu.Unlock()
		if _, ok := c.watchers[pin][ch]; ok {
			delete(c.watchers[pin], ch)
			close(ch)
		}
	}()

	return ch, nil
}

// Close releases all requested lines and the chip handle. Lines are
// reconfigured back to inputs first so external circuits see boot-default
// pin states after shutdown.
func (c *CDev) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	for pin, watchers := range c.watchers {
		for ch := range watchers {
			close(ch)
		}
		delete(c.watchers, pin)
	}

	var errs []error
	for pin, l := range c.lines {
		if l.dir == device.Output {
			if err := l.line.Reconfigure(gpiocdev.AsInput); err != nil {
				errs = append(errs, fmt.Errorf("reconfigure pin %d: %w", pin, err))
			}
		}
		if err := l.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pin %d: %w", pin, err))
		}
		delete(c.lines, pin)
	}

	if err := c.chip.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close chip: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
