package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/pinwire/pinwire/control"
	"github.com/pinwire/pinwire/device"
	"github.com/pinwire/pinwire/hal"
)

func startBridge(t *testing.T, pub Publisher) *control.Controller {
	t.Helper()

	cfg := device.NewConfig()
	cfg.SetPin(17, device.PinConfig{Direction: device.Output, Function: device.FuncGPIO})

	controller, err := control.New(hal.NewSim(), cfg, nil)
	if err != nil {
		t.Fatalf("controller: %s", err)
	}
	t.Cleanup(func() { controller.Close() })

	b := &Bridge{Controller: controller, Publisher: pub, Board: "sim"}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	done := make(chan struct{})
	go func() {
		defer close(done)
		b.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return controller
}

func waitPublished(t *testing.T, fake *FakePublisher, want int) []control.Event {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for {
		events := fake.Published()
		if len(events) >= want {
			return events
		}
		if time.Now().After(deadline) {
			t.Fatalf("got %d published events, want %d", len(events), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBridgePublishesChanges(t *testing.T) {
	fake := NewFakePublisher()
	controller := startBridge(t, fake)

	if err := controller.SetLevel(17, device.High, control.OriginLocal); err != nil {
		t.Fatalf("set level: %s", err)
	}

	events := waitPublished(t, fake, 1)
	if events[0].Pin != 17 || events[0].Level != device.High {
		t.Errorf("published %+v, want pin 17 high", events[0])
	}

	fake.mu.Lock()
	topic := fake.Topics[0]
	payload := fake.Payloads[0]
	fake.mu.Unlock()

	if topic != "pinwire/sim/pins/17" {
		t.Errorf("topic = %q", topic)
	}

	var decoded Payload
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("payload doesn't parse: %s", err)
	}
	if decoded.Pin.BCM != 17 || decoded.Pin.Level != "high" {
		t.Errorf("payload = %+v", decoded)
	}
}

func TestBridgeSkipsFailedPublishes(t *testing.T) {
	fake := NewFakePublisher()
	fake.PublishError = errors.New("broker is down")
	controller := startBridge(t, fake)

	if err := controller.SetLevel(17, device.High, control.OriginLocal); err != nil {
		t.Fatalf("set level: %s", err)
	}

	// The failure must not stall the controller.
	if err := controller.SetLevel(17, device.Low, control.OriginLocal); err != nil {
		t.Fatalf("set level after failed publish: %s", err)
	}
}

func TestFormatPayloadOrigin(t *testing.T) {
	ev := control.Event{Pin: 4, Level: device.High, Origin: control.OriginRemote("10.0.0.2:55000"), Timestamp: time.Unix(1700000000, 0)}

	data, err := FormatPayload(ev)
	if err != nil {
		t.Fatalf("format: %s", err)
	}

	var decoded Payload
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %s", err)
	}
	if decoded.Pin.Origin != "remote(10.0.0.2:55000)" {
		t.Errorf("origin = %q", decoded.Pin.Origin)
	}
}
