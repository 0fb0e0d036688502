// Package control arbitrates access to one board's pins. The Controller is
// the single point of truth for pin state: every mutation goes through it,
// and every observer hears about committed changes from it.
package control

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pinwire/pinwire/device"
	"github.com/pinwire/pinwire/hal"
)

// Origin identifies who caused a level change: a remote session, or a
// local caller (including the hardware itself driving an input).
type Origin struct {
	Remote  bool
	Session string
}

// OriginLocal is the origin for local callers and hardware-driven changes.
var OriginLocal = Origin{}

// OriginRemote tags a change as caused by the named session.
func OriginRemote(session string) Origin {
	return Origin{Remote: true, Session: session}
}

func (o Origin) String() string {
	if o.Remote {
		return fmt.Sprintf("remote(%s)", o.Session)
	}
	return "local"
}

// Event is one committed level change, fanned out to subscribers. Seq is
// assigned per subscription at publish time; a gap means the subscriber's
// queue overflowed and it should take a fresh snapshot.
type Event struct {
	Pin       device.Pin
	Level     device.Level
	Origin    Origin
	Seq       uint64
	Timestamp time.Time
}

// UnknownPinError reports a request against a pin the device config does
// not address.
type UnknownPinError struct {
	Pin device.Pin
}

func (e *UnknownPinError) Error() string {
	return fmt.Sprintf("unknown pin %d", e.Pin)
}

func (e *UnknownPinError) Is(target error) bool {
	_, ok := target.(*UnknownPinError)
	return ok
}

// ValidationError reports a request that is inconsistent with the current
// device config and was rejected before touching hardware.
type ValidationError struct {
	Pin    device.Pin
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("pin %d: %s", e.Pin, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	_, ok := target.(*ValidationError)
	return ok
}

// Controller owns one hardware backend and the current device config. All
// mutations are serialized behind a whole-device lock; pin counts are small
// enough that per-pin locking buys nothing.
type Controller struct {
	Logger *logrus.Logger

	backend hal.Backend

	mu       sync.Mutex
	config   device.Config
	degraded bool
	closed   bool

	subMu      sync.Mutex
	subs       map[*Subscription]struct{}
	subsClosed bool

	watchCtx    context.Context
	watchCancel context.CancelFunc
	watchWG     sync.WaitGroup
	watched     map[device.Pin]context.CancelFunc
}

// New applies the initial config to the backend and starts hardware
// watchers for every input pin. The controller takes exclusive ownership
// of the backend; nothing else may touch it afterwards.
func New(backend hal.Backend, cfg device.Config, logger *logrus.Logger) (*Controller, error) {
	c := &Controller{
		Logger:  logger,
		backend: backend,
		config:  cfg.Clone(),
		subs:    make(map[*Subscription]struct{}),
		watched: make(map[device.Pin]context.CancelFunc),
	}
	c.watchCtx, c.watchCancel = context.WithCancel(context.Background())

	if err := c.applyConfig(); err != nil {
		c.watchCancel()
		c.watchWG.Wait()
		// Ownership was taken above, so a failed start must release the
		// backend; the caller has no other way to.
		backend.Close()
		return nil, fmt.Errorf("apply initial config: %w", err)
	}

	return c, nil
}

// applyConfig pushes the whole in-memory config to the backend and
// (re)starts input watchers. Callers hold mu or have exclusive access.
func (c *Controller) applyConfig() error {
	for _, pin := range c.config.Pins() {
		pc, _ := c.config.Pin(pin)
		if err := pc.Validate(); err != nil {
			return &ValidationError{Pin: pin, Reason: err.Error()}
		}

		if err := c.backend.Configure(pin, pc.Direction, pc.Function, pc.Pull); err != nil {
			return err
		}

		if pc.Direction == device.Output {
			if err := c.backend.Write(pin, pc.Level); err != nil {
				return err
			}
			c.stopWatch(pin)
			continue
		}

		// Capture the sampled level so the first snapshot is honest.
		level, err := c.backend.Read(pin)
		if err != nil {
			return err
		}
		pc.Level = level
		c.config.SetPin(pin, pc)

		if err := c.startWatch(pin); err != nil {
			return err
		}
	}

	return nil
}

// startWatch wires a backend level feed into the fan-out path. The feed
// goroutine only ever pushes events; it never holds the mutation lock
// while waiting on hardware.
func (c *Controller) startWatch(pin device.Pin) error {
	if _, ok := c.watched[pin]; ok {
		return nil
	}

	ctx, cancel := context.WithCancel(c.watchCtx)
	events, err := c.backend.Watch(ctx, pin)
	if err != nil {
		cancel()
		return err
	}
	c.watched[pin] = cancel

	c.watchWG.Add(1)
	go func() {
		defer c.watchWG.Done()
		for ev := range events {
			c.hardwareEvent(ev)
		}
	}()

	return nil
}

func (c *Controller) stopWatch(pin device.Pin) {
	if cancel, ok := c.watched[pin]; ok {
		cancel()
		delete(c.watched, pin)
	}
}

// hardwareEvent folds a backend-observed input change into the snapshot
// and publishes it as a local-origin event.
func (c *Controller) hardwareEvent(ev hal.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	pc, ok := c.config.Pin(ev.Pin)
	if !ok || pc.Direction != device.Input || pc.Level == ev.Level {
		return
	}

	pc.Level = ev.Level
	c.config.SetPin(ev.Pin, pc)
	c.publish(Event{Pin: ev.Pin, Level: ev.Level, Origin: OriginLocal, Timestamp: ev.Timestamp})
}

// noteHardwareErr flips the controller into degraded mode when the backend
// reports the device as gone. Callers hold mu.
func (c *Controller) noteHardwareErr(err error) {
	if errors.Is(err, &hal.Error{Kind: hal.Unavailable}) {
		c.degraded = true
		if c.Logger != nil {
			c.Logger.WithError(err).Warn("backend unavailable, entering degraded mode")
		}
	}
}

// SetLevel drives an output pin and publishes the committed change. A
// write that does not change the level still reaches the hardware but
// emits no event.
func (c *Controller) SetLevel(pin device.Pin, level device.Level, origin Origin) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errors.New("controller is closed")
	}
	if c.degraded {
		return &hal.Error{Kind: hal.Unavailable, Pin: pin}
	}

	pc, ok := c.config.Pin(pin)
	if !ok {
		return &UnknownPinError{Pin: pin}
	}
	if pc.Direction != device.Output {
		return &ValidationError{Pin: pin, Reason: "level writes require an output pin"}
	}

	if err := c.backend.Write(pin, level); err != nil {
		c.noteHardwareErr(err)
		return err
	}

	if pc.Level == level {
		return nil
	}

	pc.Level = level
	c.config.SetPin(pin, pc)
	c.publish(Event{Pin: pin, Level: level, Origin: origin, Timestamp: time.Now()})

	return nil
}

// Configure changes a pin's role. On success the snapshot reflects the new
// role and, if the observable level moved, subscribers hear about it.
func (c *Controller) Configure(pin device.Pin, dir device.Direction, fn device.Function, pull device.Pull, origin Origin) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errors.New("controller is closed")
	}
	if c.degraded {
		return &hal.Error{Kind: hal.Unavailable, Pin: pin}
	}

	old, ok := c.config.Pin(pin)
	if !ok {
		return &UnknownPinError{Pin: pin}
	}

	next := device.PinConfig{Direction: dir, Function: fn, Pull: pull, Level: old.Level}
	if err := next.Validate(); err != nil {
		return &ValidationError{Pin: pin, Reason: err.Error()}
	}

	if err := c.backend.Configure(pin, dir, fn, pull); err != nil {
		c.noteHardwareErr(err)
		return err
	}

	if dir == device.Output {
		c.stopWatch(pin)
		next.Level = device.Low
		if err := c.backend.Write(pin, next.Level); err != nil {
			c.noteHardwareErr(err)
			return err
		}
	} else {
		level, err := c.backend.Read(pin)
		if err != nil {
			c.noteHardwareErr(err)
			return err
		}
		next.Level = level
		if err := c.startWatch(pin); err != nil {
			c.noteHardwareErr(err)
			return err
		}
	}

	c.config.SetPin(pin, next)

	if next.Level != old.Level {
		c.publish(Event{Pin: pin, Level: next.Level, Origin: origin, Timestamp: time.Now()})
	}

	return nil
}

// Read returns a fresh sample from the backend, bypassing the snapshot.
func (c *Controller) Read(pin device.Pin) (device.Level, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return device.Low, errors.New("controller is closed")
	}
	if c.degraded {
		return device.Low, &hal.Error{Kind: hal.Unavailable, Pin: pin}
	}
	if _, ok := c.config.Pin(pin); !ok {
		return device.Low, &UnknownPinError{Pin: pin}
	}

	level, err := c.backend.Read(pin)
	if err != nil {
		c.noteHardwareErr(err)
		return device.Low, err
	}

	return level, nil
}

// Snapshot returns a consistent point-in-time copy of the device config.
func (c *Controller) Snapshot() device.Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.config.Clone()
}

// Degraded reports whether the controller is failing fast because the
// backend went away.
func (c *Controller) Degraded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.degraded
}

// Apply swaps in a whole new device config. Pins the new config drops
// stop being watched; a pin whose observable level moves is published
// with the given origin. On failure the previous config is restored, so
// the snapshot never reflects a half-applied layout.
func (c *Controller) Apply(cfg device.Config, origin Origin) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errors.New("controller is closed")
	}
	if c.degraded {
		return &hal.Error{Kind: hal.Unavailable}
	}

	for _, pin := range cfg.Pins() {
		pc, _ := cfg.Pin(pin)
		if err := pc.Validate(); err != nil {
			return &ValidationError{Pin: pin, Reason: err.Error()}
		}
	}

	old := c.config
	c.config = cfg.Clone()

	for pin := range c.watched {
		if _, ok := c.config.Pin(pin); !ok {
			c.stopWatch(pin)
		}
	}

	if err := c.applyConfig(); err != nil {
		c.config = old
		if rerr := c.applyConfig(); rerr != nil {
			c.degraded = true
			if c.Logger != nil {
				c.Logger.WithError(rerr).Error("rollback failed, entering degraded mode")
			}
		}
		return fmt.Errorf("apply config: %w", err)
	}

	for _, pin := range c.config.Pins() {
		pc, _ := c.config.Pin(pin)
		if opc, ok := old.Pin(pin); ok && opc.Level != pc.Level {
			c.publish(Event{Pin: pin, Level: pc.Level, Origin: origin, Timestamp: time.Now()})
		}
	}

	return nil
}

// Reinitialize re-applies the current config to the backend and leaves
// degraded mode. Existing subscriptions are untouched; clients do not
// need to resubscribe.
func (c *Controller) Reinitialize() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errors.New("controller is closed")
	}

	if err := c.applyConfig(); err != nil {
		return fmt.Errorf("reinitialize: %w", err)
	}

	c.degraded = false
	if c.Logger != nil {
		c.Logger.Info("backend reinitialized")
	}

	return nil
}

// Close tears down subscriptions first, then the backend, guaranteeing no
// backend call is attempted after teardown begins.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.subMu.Lock()
	c.subsClosed = true
	for sub := range c.subs {
		close(sub.ch)
		delete(c.subs, sub)
	}
	c.subMu.Unlock()

	c.watchCancel()
	c.watchWG.Wait()

	return c.backend.Close()
}

// publish fans an event out to every matching subscription. Callers hold
// mu, so events for a given pin always fan out in commit order.
func (c *Controller) publish(ev Event) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	for sub := range c.subs {
		if !sub.wants(ev.Pin) {
			continue
		}

		sub.seq++
		ev.Seq = sub.seq

		select {
		case sub.ch <- ev:
		default:
			// The seq number is consumed either way, so the subscriber
			// can detect the gap and resynchronize from a snapshot.
			sub.dropped++
			if c.Logger != nil {
				c.Logger.WithField("pin", ev.Pin).Warn("subscriber queue full, dropped event")
			}
		}
	}
}
