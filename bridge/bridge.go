// Package bridge forwards committed pin changes to an MQTT broker so that
// dashboards and automations can follow the board without speaking the
// session protocol.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pinwire/pinwire/control"
)

// DefaultTopicPrefix is prepended to every published topic. The full topic
// for a pin is "<prefix>/<board>/pins/<bcm>".
const DefaultTopicPrefix = "pinwire"

// Publisher publishes pin events to MQTT.
type Publisher interface {
	// Publish sends a pin event to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(topic string, event control.Event) error

	// Close disconnects from the broker.
	Close() error
}

// Payload represents the MQTT message payload structure.
type Payload struct {
	Pin Inner `json:"pin"`
}

// Inner contains the pin event details.
type Inner struct {
	BCM       uint8  `json:"bcm"`
	Level     string `json:"level"`
	Origin    string `json:"origin"`
	Timestamp string `json:"timestamp"`
}

// FormatPayload creates the JSON payload for a pin event.
func FormatPayload(event control.Event) ([]byte, error) {
	level := "low"
	if bool(event.Level) {
		level = "high"
	}

	return json.Marshal(Payload{
		Pin: Inner{
			BCM:       uint8(event.Pin),
			Level:     level,
			Origin:    event.Origin.String(),
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
		},
	})
}

// Bridge pumps a controller subscription into a Publisher.
type Bridge struct {
	Controller *control.Controller
	Publisher  Publisher
	Logger     *logrus.Logger

	// Board names this device in the topic hierarchy.
	Board string

	// TopicPrefix defaults to DefaultTopicPrefix.
	TopicPrefix string
}

// Run forwards events until the context is canceled or the controller shuts
// down. Publish failures are logged and skipped; the broker catching up is
// not worth stalling the controller for.
func (b *Bridge) Run(ctx context.Context) error {
	prefix := b.TopicPrefix
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}

	sub := b.Controller.Subscribe()
	defer sub.Close()

	stop := context.AfterFunc(ctx, sub.Close)
	defer stop()

	for ev := range sub.Events() {
		topic := fmt.Sprintf("%s/%s/pins/%d", prefix, b.Board, ev.Pin)

		if err := b.Publisher.Publish(topic, ev); err != nil {
			if b.Logger != nil {
				b.Logger.WithFields(logrus.Fields{"topic": topic, "pin": ev.Pin}).WithError(err).Warn("publish failed, dropping event")
			}
			continue
		}
	}

	return ctx.Err()
}
