package control

import "github.com/pinwire/pinwire/device"

// subscriptionBuffer is the per-subscriber queue depth. Deep enough for a
// burst of toggles; overflow shows up as a sequence gap, not blocking.
const subscriptionBuffer = 32

// Subscription is one listener's attachment to the controller's event
// fan-out. Each subscription has its own queue and its own sequence
// numbering.
type Subscription struct {
	c      *Controller
	ch     chan Event
	filter map[device.Pin]struct{} // nil means all pins

	// guarded by the controller's subMu
	seq     uint64
	dropped uint64
}

// Subscribe registers a listener for level-change events on the given
// pins. No pins means all pins. The returned subscription must be closed
// to release its queue.
func (c *Controller) Subscribe(pins ...device.Pin) *Subscription {
	sub := &Subscription{
		c:  c,
		ch: make(chan Event, subscriptionBuffer),
	}

	if len(pins) > 0 {
		sub.filter = make(map[device.Pin]struct{}, len(pins))
		for _, p := range pins {
			sub.filter[p] = struct{}{}
		}
	}

	c.subMu.Lock()
	defer c.subMu.Unlock()

	if c.subsClosed {
		// Late subscriber to a closed controller gets an already-closed
		// stream instead of a nil channel.
		close(sub.ch)
		return sub
	}

	c.subs[sub] = struct{}{}
	return sub
}

func (s *Subscription) wants(pin device.Pin) bool {
	if s.filter == nil {
		return true
	}
	_, ok := s.filter[pin]
	return ok
}

// Events returns the subscription's event stream. The channel is closed
// when the subscription or the controller is closed.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Dropped returns how many events were discarded because the queue was
// full.
func (s *Subscription) Dropped() uint64 {
	s.c.subMu.Lock()
	defer s.c.subMu.Unlock()
	return s.dropped
}

// Close unsubscribes immediately: no event published after Close returns
// is delivered. Safe to call more than once.
func (s *Subscription) Close() {
	s.c.subMu.Lock()
	defer s.c.subMu.Unlock()

	if _, ok := s.c.subs[s]; !ok {
		return
	}

	delete(s.c.subs, s)
	close(s.ch)
}
