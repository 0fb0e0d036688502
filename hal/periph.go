package hal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/pinwire/pinwire/device"
)

// compile-time check for whether Periph satisfies the Backend interface
var _ Backend = &Periph{}

// DefaultPollInterval bounds the watch latency of the Periph backend.
// Callers must not assume push latency below this interval.
const DefaultPollInterval = 25 * time.Millisecond

// Periph is the constrained backend for embedded deployments, built on
// periph.io pin registry access. It has a reduced feature set: plain GPIO
// only, and level-change watching is polling-based rather than
// interrupt-driven.
type Periph struct {
	interval time.Duration

	mu     sync.Mutex
	pins   map[device.Pin]*periphPin
	closed bool
}

type periphPin struct {
	pio gpio.PinIO
	dir device.Direction

	// commanded level for outputs; Read loops this back
	level device.Level
}

// NewPeriph initializes the periph host drivers and returns a polling
// backend. A non-positive interval selects DefaultPollInterval.
func NewPeriph(interval time.Duration) (*Periph, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("init periph host: %w", err)
	}

	if interval <= 0 {
		interval = DefaultPollInterval
	}

	return &Periph{
		interval: interval,
		pins:     make(map[device.Pin]*periphPin),
	}, nil
}

func (p *Periph) Configure(pin device.Pin, dir device.Direction, fn device.Function, pull device.Pull) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return &Error{Kind: Unavailable, Pin: pin}
	}
	if !device.Known(pin) {
		return &Error{Kind: UnknownPin, Pin: pin}
	}
	if fn != device.FuncGPIO {
		return Errf(UnsupportedConfiguration, pin, "constrained backend supports plain gpio only, not %s", fn)
	}

	pio := gpioreg.ByName(fmt.Sprintf("GPIO%d", pin))
	if pio == nil {
		return Errf(Unavailable, pin, "pin not present in periph registry")
	}

	pp := &periphPin{pio: pio, dir: dir}

	if dir == device.Input {
		var bias gpio.Pull
		switch pull {
		case device.PullUp:
			bias = gpio.PullUp
		case device.PullDown:
			bias = gpio.PullDown
		default:
			bias = gpio.Float
		}
		if err := pio.In(bias, gpio.NoEdge); err != nil {
			return classifyPeriph(pin, fmt.Errorf("configure input: %w", err))
		}
	} else {
		if err := pio.Out(gpio.Low); err != nil {
			return classifyPeriph(pin, fmt.Errorf("configure output: %w", err))
		}
	}

	p.pins[pin] = pp

	return nil
}

func classifyPeriph(pin device.Pin, err error) *Error {
	return &Error{Kind: UnsupportedConfiguration, Pin: pin, Cause: err}
}

func (p *Periph) Write(pin device.Pin, level device.Level) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return &Error{Kind: Unavailable, Pin: pin}
	}

	pp, ok := p.pins[pin]
	if !ok {
		return &Error{Kind: UnknownPin, Pin: pin}
	}
	if pp.dir != device.Output {
		return Errf(WrongDirection, pin, "write to %s pin", pp.dir)
	}

	if err := pp.pio.Out(gpio.Level(level)); err != nil {
		return &Error{Kind: Unavailable, Pin: pin, Cause: fmt.Errorf("out: %w", err)}
	}
	pp.level = level

	return nil
}

func (p *Periph) Read(pin device.Pin) (device.Level, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return device.Low, &Error{Kind: Unavailable, Pin: pin}
	}

	pp, ok := p.pins[pin]
	if !ok {
		return device.Low, &Error{Kind: UnknownPin, Pin: pin}
	}

	if pp.dir == device.Output {
		return pp.level, nil
	}

	return device.Level(pp.pio.Read()), nil
}

// Watch polls the pin at the backend's interval and emits an event whenever
// the sampled level differs from the previous sample. The polling goroutine
// never runs while the backend mutex is held for a mutation.
func (p *Periph) Watch(ctx context.Context, pin device.Pin) (<-chan Event, error) {
	p.mu.Lock()
	pp, ok := p.pins[pin]
	closed := p.closed
	p.mu.Unlock()

	if closed {
		return nil, &Error{Kind: Unavailable, Pin: pin}
	}
	if !ok {
		return nil, &Error{Kind: UnknownPin, Pin: pin}
	}

	ch := make(chan Event, 16)

	go func() {
		defer close(ch)

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		last := device.Level(pp.pio.Read())
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.mu.Lock()
				done := p.closed
				p.mu.Unlock()
				if done {
					return
				}

				level := device.Level(pp.pio.Read())
				if level == last {
					continue
				}
				last = level

				select {
				case ch <- Event{Pin: pin, Level: level, Timestamp: time.Now()}:
				default:
				}
			}
		}
	}()

	return ch, nil
}

func (p *Periph) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	var errs []error
	for pin, pp := range p.pins {
		if err := pp.pio.Halt(); err != nil {
			errs = append(errs, fmt.Errorf("halt pin %d: %w", pin, err))
		}
		delete(p.pins, pin)
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
