package hal

import (
	"context"
	"sync"
	"time"

	"github.com/pinwire/pinwire/device"
)

// compile-time check for whether Sim satisfies the Backend interface
var _ Backend = &Sim{}

// Sim is an in-memory backend with no physical effect, used on development
// hosts and in tests. Level changes on watched pins are driven entirely by
// Write and Drive calls.
type Sim struct {
	mu          sync.Mutex
	pins        map[device.Pin]*simPin
	watchers    map[device.Pin]map[chan Event]struct{}
	closed      bool
	unavailable bool
}

type simPin struct {
	dir   device.Direction
	fn    device.Function
	pull  device.Pull
	level device.Level
}

// NewSim returns an empty simulated backend. Pins exist once configured.
func NewSim() *Sim {
	return &Sim{
		pins:     make(map[device.Pin]*simPin),
		watchers: make(map[device.Pin]map[chan Event]struct{}),
	}
}

// SetAvailable flips the simulated device in and out of existence. While
// unavailable every call fails with an Unavailable error, which is how
// tests exercise the controller's degraded mode.
func (s *Sim) SetAvailable(available bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable = !available
}

func (s *Sim) check(pin device.Pin) error {
	if s.closed || s.unavailable {
		return &Error{Kind: Unavailable, Pin: pin}
	}
	return nil
}

func (s *Sim) Configure(pin device.Pin, dir device.Direction, fn device.Function, pull device.Pull) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(pin); err != nil {
		return err
	}
	if !device.Known(pin) {
		return &Error{Kind: UnknownPin, Pin: pin}
	}
	if !device.Supports(pin, fn) {
		return Errf(UnsupportedConfiguration, pin, "function %s not supported", fn)
	}

	p, ok := s.pins[pin]
	if !ok {
		p = &simPin{}
		s.pins[pin] = p
	}

	p.dir = dir
	p.fn = fn
	p.pull = pull

	// An undriven input floats to wherever its pull resistor holds it.
	if dir == device.Input {
		old := p.level
		p.level = device.Level(pull == device.PullUp)
		if p.level != old {
			s.notify(pin, p.level)
		}
	}

	return nil
}

func (s *Sim) Write(pin device.Pin, level device.Level) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(pin); err != nil {
		return err
	}

	p, ok := s.pins[pin]
	if !ok {
		return &Error{Kind: UnknownPin, Pin: pin}
	}
	if p.dir != device.Output {
		return Errf(WrongDirection, pin, "write to %s pin", p.dir)
	}

	if p.level != level {
		p.level = level
		s.notify(pin, level)
	}

	return nil
}

func (s *Sim) Read(pin device.Pin) (device.Level, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(pin); err != nil {
		return device.Low, err
	}

	p, ok := s.pins[pin]
	if !ok {
		return device.Low, &Error{Kind: UnknownPin, Pin: pin}
	}

	return p.level, nil
}

// Drive simulates an external circuit changing the level of an input pin.
func (s *Sim) Drive(pin device.Pin, level device.Level) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(pin); err != nil {
		return err
	}

	p, ok := s.pins[pin]
	if !ok {
		return &Error{Kind: UnknownPin, Pin: pin}
	}
	if p.dir != device.Input {
		return Errf(WrongDirection, pin, "drive of %s pin", p.dir)
	}

	if p.level != level {
		p.level = level
		s.notify(pin, level)
	}

	return nil
}

// notify fans an event out to every watcher of the pin. Callers hold mu.
// A watcher that can't keep up misses the event; levels are absolute so
// the next one resynchronizes it.
func (s *Sim) notify(pin device.Pin, level device.Level) {
	ev := Event{Pin: pin, Level: level, Timestamp: time.Now()}
	for ch := range s.watchers[pin] {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (s *Sim) Watch(ctx context.Context, pin device.Pin) (<-chan Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(pin); err != nil {
		return nil, err
	}
	if _, ok := s.pins[pin]; !ok {
		return nil, &Error{Kind: UnknownPin, Pin: pin}
	}

	ch := make(chan Event, 16)
	if s.watchers[pin] == nil {
		s.watchers[pin] = make(map[chan Event]struct{})
	}
	s.watchers[pin][ch] = struct{}{}

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.watchers[pin][ch]; ok {
			delete(s.watchers[pin], ch)
			close(ch)
		}
	}()

	return ch, nil
}

func (s *Sim) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	for pin, watchers := range s.watchers {
		for ch := range watchers {
			close(ch)
		}
		delete(s.watchers, pin)
	}

	return nil
}
