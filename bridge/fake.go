package bridge

import (
	"sync"

	"github.com/pinwire/pinwire/control"
)

// FakePublisher records published events for test assertions.
type FakePublisher struct {
	mu sync.Mutex

	// Topics and Events record each publish, index-aligned.
	Topics []string
	Events []control.Event

	// Payloads contains the JSON payloads that were published.
	Payloads [][]byte

	// PublishError, if set, will be returned by Publish.
	PublishError error

	// Closed tracks if Close was called.
	Closed bool
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

// Publish records the pin event.
func (f *FakePublisher) Publish(topic string, event control.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.PublishError != nil {
		return f.PublishError
	}

	payload, err := FormatPayload(event)
	if err != nil {
		return err
	}

	f.Topics = append(f.Topics, topic)
	f.Events = append(f.Events, event)
	f.Payloads = append(f.Payloads, payload)

	return nil
}

// Close records the disconnect.
func (f *FakePublisher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Closed = true
	return nil
}

// Published returns a snapshot of the recorded events.
func (f *FakePublisher) Published() []control.Event {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]control.Event, len(f.Events))
	copy(out, f.Events)
	return out
}
