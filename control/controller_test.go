package control

import (
	"errors"
	"testing"
	"time"

	"github.com/pinwire/pinwire/device"
	"github.com/pinwire/pinwire/hal"
)

func testConfig() device.Config {
	cfg := device.NewConfig()
	cfg.SetPin(17, device.PinConfig{Direction: device.Output, Function: device.FuncGPIO, Level: device.Low})
	cfg.SetPin(26, device.PinConfig{Direction: device.Input, Function: device.FuncGPIO, Pull: device.PullNone})
	return cfg
}

func newTestController(t *testing.T) (*Controller, *hal.Sim) {
	t.Helper()

	sim := hal.NewSim()
	c, err := New(sim, testConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	return c, sim
}

func waitEvent(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		if !ok {
			t.Fatal("event stream closed unexpectedly")
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestSetLevelPublishesWithOrigin(t *testing.T) {
	c, _ := newTestController(t)

	sub := c.Subscribe()
	defer sub.Close()

	origin := OriginRemote("client-a")
	if err := c.SetLevel(17, device.High, origin); err != nil {
		t.Fatalf("SetLevel: %v", err)
	}

	ev := waitEvent(t, sub)
	if ev.Pin != 17 || ev.Level != device.High {
		t.Errorf("event = %+v, want pin 17 high", ev)
	}
	if ev.Origin != origin {
		t.Errorf("origin = %v, want %v", ev.Origin, origin)
	}
	if ev.Seq != 1 {
		t.Errorf("seq = %d, want 1", ev.Seq)
	}

	level, err := c.Read(17)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if level != device.High {
		t.Error("Read after SetLevel should return high")
	}
}

func TestSetLevelValidation(t *testing.T) {
	c, _ := newTestController(t)

	if err := c.SetLevel(99, device.High, OriginLocal); !errors.Is(err, &UnknownPinError{}) {
		t.Errorf("SetLevel(99) = %v, want UnknownPinError", err)
	}

	// pin 26 is an input
	if err := c.SetLevel(26, device.High, OriginLocal); !errors.Is(err, &ValidationError{}) {
		t.Errorf("SetLevel on input = %v, want ValidationError", err)
	}
}

func TestFailedApplyLeavesSnapshotUnchanged(t *testing.T) {
	c, _ := newTestController(t)

	before := c.Snapshot()

	if err := c.SetLevel(26, device.High, OriginLocal); err == nil {
		t.Fatal("expected SetLevel on input to fail")
	}
	if err := c.Configure(17, device.Output, device.FuncGPIO, device.PullUp, OriginLocal); err == nil {
		t.Fatal("expected Configure with pull on output to fail")
	}

	if !c.Snapshot().Equal(before) {
		t.Error("failed applies must leave the snapshot pin-for-pin identical")
	}
}

func TestSubscribersSeeIdenticalSequences(t *testing.T) {
	c, _ := newTestController(t)

	a := c.Subscribe(17)
	defer a.Close()
	b := c.Subscribe()
	defer b.Close()

	levels := []device.Level{device.High, device.Low, device.High}
	for _, l := range levels {
		if err := c.SetLevel(17, l, OriginLocal); err != nil {
			t.Fatalf("SetLevel: %v", err)
		}
	}

	for i, want := range levels {
		evA := waitEvent(t, a)
		evB := waitEvent(t, b)
		if evA.Level != want || evB.Level != want {
			t.Errorf("event %d: a=%s b=%s, want %s", i, evA.Level, evB.Level, want)
		}
		if evA.Seq != uint64(i+1) || evB.Seq != uint64(i+1) {
			t.Errorf("event %d: seq a=%d b=%d, want %d", i, evA.Seq, evB.Seq, i+1)
		}
	}
}

func TestNoOpWriteEmitsNoEvent(t *testing.T) {
	c, _ := newTestController(t)

	sub := c.Subscribe()
	defer sub.Close()

	if err := c.SetLevel(17, device.Low, OriginLocal); err != nil {
		t.Fatalf("SetLevel: %v", err)
	}

	select {
	case ev := <-sub.Events():
		t.Errorf("no-op write produced event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	c, _ := newTestController(t)

	sub := c.Subscribe(17)
	sub.Close()

	if err := c.SetLevel(17, device.High, OriginLocal); err != nil {
		t.Fatalf("SetLevel: %v", err)
	}

	// The stream must be closed with nothing buffered.
	if ev, ok := <-sub.Events(); ok {
		t.Errorf("closed subscription received event %+v", ev)
	}
}

func TestSubscriptionFilter(t *testing.T) {
	c, _ := newTestController(t)

	sub := c.Subscribe(26)
	defer sub.Close()

	if err := c.SetLevel(17, device.High, OriginLocal); err != nil {
		t.Fatalf("SetLevel: %v", err)
	}

	select {
	case ev := <-sub.Events():
		t.Errorf("filtered subscription received event for pin %d", ev.Pin)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHardwareInputChangePublishes(t *testing.T) {
	c, sim := newTestController(t)

	sub := c.Subscribe(26)
	defer sub.Close()

	if err := sim.Drive(26, device.High); err != nil {
		t.Fatalf("Drive: %v", err)
	}

	ev := waitEvent(t, sub)
	if ev.Pin != 26 || ev.Level != device.High {
		t.Errorf("event = %+v, want pin 26 high", ev)
	}
	if ev.Origin.Remote {
		t.Error("hardware-driven change should carry a local origin")
	}

	pc, _ := c.Snapshot().Pin(26)
	if pc.Level != device.High {
		t.Error("snapshot should reflect the sampled input level")
	}
}

func TestConfigureDirectionChange(t *testing.T) {
	c, sim := newTestController(t)

	// Output -> input: allowed, subsequent reads reflect the sampled level.
	if err := c.Configure(17, device.Input, device.FuncGPIO, device.PullUp, OriginLocal); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	pc, _ := c.Snapshot().Pin(17)
	if pc.Direction != device.Input || pc.Pull != device.PullUp {
		t.Errorf("pin 17 = %+v, want pull-up input", pc)
	}
	// The sim floats a pull-up input high.
	if pc.Level != device.High {
		t.Error("snapshot level should be the sampled input level")
	}

	// The freshly configured input is watched.
	sub := c.Subscribe(17)
	defer sub.Close()
	if err := sim.Drive(17, device.Low); err != nil {
		t.Fatalf("Drive: %v", err)
	}
	ev := waitEvent(t, sub)
	if ev.Level != device.Low {
		t.Errorf("event level = %s, want low", ev.Level)
	}
}

func TestDegradedModeAndReinitialize(t *testing.T) {
	c, sim := newTestController(t)

	sub := c.Subscribe()
	defer sub.Close()

	sim.SetAvailable(false)

	err := c.SetLevel(17, device.High, OriginLocal)
	if !errors.Is(err, &hal.Error{Kind: hal.Unavailable}) {
		t.Fatalf("SetLevel with dead backend = %v, want Unavailable", err)
	}
	if !c.Degraded() {
		t.Fatal("controller should be degraded after an Unavailable error")
	}

	// Degraded controller fails fast without touching the backend.
	if _, err := c.Read(17); !errors.Is(err, &hal.Error{Kind: hal.Unavailable}) {
		t.Errorf("Read while degraded = %v, want Unavailable", err)
	}

	sim.SetAvailable(true)
	if err := c.Reinitialize(); err != nil {
		t.Fatalf("Reinitialize: %v", err)
	}
	if c.Degraded() {
		t.Error("controller should leave degraded mode after Reinitialize")
	}

	// The surviving subscription still works without resubscribing.
	if err := c.SetLevel(17, device.High, OriginLocal); err != nil {
		t.Fatalf("SetLevel after recovery: %v", err)
	}
	ev := waitEvent(t, sub)
	if ev.Pin != 17 || ev.Level != device.High {
		t.Errorf("event = %+v, want pin 17 high", ev)
	}
}

func TestCloseClosesSubscriptionsThenBackend(t *testing.T) {
	sim := hal.NewSim()
	c, err := New(sim, testConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	sub := c.Subscribe()

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, ok := <-sub.Events(); ok {
		t.Error("subscription should be drained and closed after controller Close")
	}

	// Closing twice is fine.
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestSnapshotIsolation(t *testing.T) {
	c, _ := newTestController(t)

	snap := c.Snapshot()
	snap.SetPin(17, device.PinConfig{Direction: device.Output, Level: device.High})

	pc, _ := c.Snapshot().Pin(17)
	if pc.Level != device.Low {
		t.Error("mutating a snapshot must not affect the controller")
	}
}

func TestApplySwapsConfig(t *testing.T) {
	c, _ := newTestController(t)

	next := device.NewConfig()
	next.SetPin(17, device.PinConfig{Direction: device.Input, Function: device.FuncGPIO, Pull: device.PullUp})
	next.SetPin(22, device.PinConfig{Direction: device.Output, Function: device.FuncGPIO, Level: device.High})

	if err := c.Apply(next, OriginLocal); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	snap := c.Snapshot()
	if _, ok := snap.Pin(26); ok {
		t.Error("pin 26 should be gone after apply")
	}

	pc, ok := snap.Pin(17)
	if !ok || pc.Direction != device.Input {
		t.Errorf("pin 17 = %+v, want an input", pc)
	}
	// Pull-up floats the input high.
	if pc.Level != device.High {
		t.Error("pulled-up input should read high")
	}

	level, err := c.Read(22)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if level != device.High {
		t.Error("pin 22 should be driven high by the new config")
	}
}

func TestApplyFailsFastWhileDegraded(t *testing.T) {
	c, sim := newTestController(t)

	sim.SetAvailable(false)
	if err := c.SetLevel(17, device.High, OriginLocal); err == nil {
		t.Fatal("expected SetLevel with dead backend to fail")
	}
	if !c.Degraded() {
		t.Fatal("controller should be degraded")
	}

	before := c.Snapshot()

	// The backend recovering isn't enough; only Reinitialize leaves
	// degraded mode.
	sim.SetAvailable(true)

	next := device.NewConfig()
	next.SetPin(22, device.PinConfig{Direction: device.Output, Function: device.FuncGPIO})
	if err := c.Apply(next, OriginLocal); !errors.Is(err, &hal.Error{Kind: hal.Unavailable}) {
		t.Fatalf("Apply while degraded = %v, want Unavailable", err)
	}

	if !c.Snapshot().Equal(before) {
		t.Error("degraded apply must leave the snapshot unchanged")
	}
}

func TestNewClosesBackendOnFailedStart(t *testing.T) {
	sim := hal.NewSim()

	bad := device.NewConfig()
	bad.SetPin(17, device.PinConfig{Direction: device.Output, Function: device.FuncGPIO, Pull: device.PullUp})

	if _, err := New(sim, bad, nil); err == nil {
		t.Fatal("expected New with invalid config to fail")
	}

	// The constructor owned the backend, so failure must have closed it.
	err := sim.Configure(17, device.Output, device.FuncGPIO, device.PullNone)
	if !errors.Is(err, &hal.Error{Kind: hal.Unavailable}) {
		t.Errorf("backend still usable after failed start: %v", err)
	}
}

func TestApplyRejectsInvalidConfigUntouched(t *testing.T) {
	c, _ := newTestController(t)

	before := c.Snapshot()

	bad := device.NewConfig()
	bad.SetPin(17, device.PinConfig{Direction: device.Output, Function: device.FuncGPIO, Pull: device.PullUp})

	if err := c.Apply(bad, OriginLocal); !errors.Is(err, &ValidationError{}) {
		t.Fatalf("Apply = %v, want a validation error", err)
	}

	if !c.Snapshot().Equal(before) {
		t.Error("failed apply must leave the snapshot unchanged")
	}
}
