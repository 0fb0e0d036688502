package hal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pinwire/pinwire/device"
)

func TestSimConfigureAndRead(t *testing.T) {
	s := NewSim()
	defer s.Close()

	if err := s.Configure(17, device.Output, device.FuncGPIO, device.PullNone); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	level, err := s.Read(17)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if level != device.Low {
		t.Errorf("fresh output reads %s, want low", level)
	}
}

func TestSimInputFloatsToPull(t *testing.T) {
	s := NewSim()
	defer s.Close()

	if err := s.Configure(26, device.Input, device.FuncGPIO, device.PullUp); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	level, err := s.Read(26)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if level != device.High {
		t.Error("pull-up input should read high while undriven")
	}
}

func TestSimWriteReadLoopback(t *testing.T) {
	s := NewSim()
	defer s.Close()

	if err := s.Configure(17, device.Output, device.FuncGPIO, device.PullNone); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if err := s.Write(17, device.High); err != nil {
		t.Fatalf("Write: %v", err)
	}

	level, err := s.Read(17)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if level != device.High {
		t.Error("Read should loop back the last commanded level")
	}
}

func TestSimWriteWrongDirection(t *testing.T) {
	s := NewSim()
	defer s.Close()

	if err := s.Configure(26, device.Input, device.FuncGPIO, device.PullNone); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	err := s.Write(26, device.High)
	if !errors.Is(err, &Error{Kind: WrongDirection}) {
		t.Errorf("Write to input = %v, want WrongDirection", err)
	}
}

func TestSimUnknownAndUnsupported(t *testing.T) {
	s := NewSim()
	defer s.Close()

	if err := s.Configure(99, device.Input, device.FuncGPIO, device.PullNone); !errors.Is(err, &Error{Kind: UnknownPin}) {
		t.Errorf("Configure(99) = %v, want UnknownPin", err)
	}

	// BCM 27 is plain gpio only on the 40-pin header
	if err := s.Configure(27, device.Input, device.FuncI2C, device.PullNone); !errors.Is(err, &Error{Kind: UnsupportedConfiguration}) {
		t.Errorf("Configure(27, i2c) = %v, want UnsupportedConfiguration", err)
	}
}

func TestSimWatchSeesWrites(t *testing.T) {
	s := NewSim()
	defer s.Close()

	if err := s.Configure(17, device.Output, device.FuncGPIO, device.PullNone); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := s.Watch(ctx, 17)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}

	if err := s.Write(17, device.High); err != nil {
		t.Fatalf("Write: %v", err)
	}

	select {
	case ev := <-events:
		if ev.Pin != 17 || ev.Level != device.High {
			t.Errorf("got event %+v, want pin 17 high", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no event delivered for write")
	}
}

func TestSimNoOpWriteEmitsNothing(t *testing.T) {
	s := NewSim()
	defer s.Close()

	if err := s.Configure(17, device.Output, device.FuncGPIO, device.PullNone); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := s.Watch(ctx, 17)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}

	if err := s.Write(17, device.Low); err != nil {
		t.Fatalf("Write: %v", err)
	}

	select {
	case ev := <-events:
		t.Errorf("no-op write produced event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSimDriveInput(t *testing.T) {
	s := NewSim()
	defer s.Close()

	if err := s.Configure(26, device.Input, device.FuncGPIO, device.PullNone); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := s.Watch(ctx, 26)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}

	if err := s.Drive(26, device.High); err != nil {
		t.Fatalf("Drive: %v", err)
	}

	select {
	case ev := <-events:
		if ev.Level != device.High {
			t.Errorf("got %s, want high", ev.Level)
		}
	case <-time.After(time.Second):
		t.Fatal("no event for driven input")
	}

	level, err := s.Read(26)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if level != device.High {
		t.Error("Read should reflect the driven level")
	}
}

func TestSimUnavailable(t *testing.T) {
	s := NewSim()
	defer s.Close()

	if err := s.Configure(17, device.Output, device.FuncGPIO, device.PullNone); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	s.SetAvailable(false)

	if err := s.Write(17, device.High); !errors.Is(err, &Error{Kind: Unavailable}) {
		t.Errorf("Write while unavailable = %v, want Unavailable", err)
	}
	if _, err := s.Read(17); !errors.Is(err, &Error{Kind: Unavailable}) {
		t.Errorf("Read while unavailable = %v, want Unavailable", err)
	}

	s.SetAvailable(true)

	if err := s.Write(17, device.High); err != nil {
		t.Errorf("Write after recovery = %v", err)
	}
}

func TestSimCloseIdempotent(t *testing.T) {
	s := NewSim()

	if err := s.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestSimWatchEndsOnClose(t *testing.T) {
	s := NewSim()

	if err := s.Configure(17, device.Output, device.FuncGPIO, device.PullNone); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	events, err := s.Watch(context.Background(), 17)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}

	s.Close()

	select {
	case _, ok := <-events:
		if ok {
			t.Error("expected closed channel, got event")
		}
	case <-time.After(time.Second):
		t.Fatal("watch channel not closed on backend teardown")
	}
}
