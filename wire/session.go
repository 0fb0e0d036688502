package wire

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/pinwire/pinwire/control"
	"github.com/pinwire/pinwire/hal"
)

// SessionState tracks where a session is in its lifecycle. Transitions
// only ever move forward.
type SessionState int

const (
	StateConnecting SessionState = iota
	StateReady
	StateActive
	StateClosing
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Session serves one peer's attachment to a controller over an
// already-accepted connection. One Session per connection; it never
// outlives its transport.
type Session struct {
	Controller *control.Controller
	Logger     *logrus.Logger

	// Board is the identity sent in the server hello.
	Board string

	// ID names this session in event origins. Defaults to the peer
	// address.
	ID string

	conn    net.Conn
	writeMu sync.Mutex

	mu       sync.Mutex
	state    SessionState
	identity string
	sub      *control.Subscription
	pumpWG   sync.WaitGroup
}

// NewSession wraps an accepted connection. Call Serve to run the session
// to completion.
func NewSession(conn net.Conn, controller *control.Controller) *Session {
	return &Session{
		Controller: controller,
		conn:       conn,
		ID:         conn.RemoteAddr().String(),
	}
}

func (s *Session) setState(state SessionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()

	if s.Logger != nil {
		s.Logger.WithFields(logrus.Fields{"session": s.ID, "state": state}).Debug("session state change")
	}
}

// State returns the session's current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Serve runs the session until the peer disconnects, sends close, or the
// context is canceled. Logical failures (validation, hardware) are
// reported as Error messages and never terminate the session; transport
// failures do.
func (s *Session) Serve(ctx context.Context) error {
	defer s.teardown()

	stop := context.AfterFunc(ctx, func() {
		s.conn.Close()
	})
	defer stop()

	if err := s.handshake(); err != nil {
		return fmt.Errorf("handshake with %s: %w", s.ID, err)
	}
	s.setState(StateReady)

	for {
		var mt messageType
		if _, err := mt.Decode(s.conn); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
				return nil
			}
			return fmt.Errorf("decode message type: %w", err)
		}

		switch mt.Type {
		case keepAliveMessageType:

		case subscribeMessageType:
			if err := s.handleSubscribe(); err != nil {
				return err
			}

		case setLevelMessageType:
			if err := s.handleSetLevel(); err != nil {
				return err
			}

		case configureMessageType:
			if err := s.handleConfigure(); err != nil {
				return err
			}

		case snapshotRequestMessageType:
			if err := s.sendSnapshot(); err != nil {
				return err
			}

		case closeMessageType:
			s.setState(StateClosing)
			return nil

		default:
			s.setState(StateClosing)
			return fmt.Errorf("peer %s sent unknown message type %#x", s.ID, mt.Type)
		}
	}
}

func (s *Session) handshake() error {
	var mt messageType
	if _, err := mt.Decode(s.conn); err != nil {
		return fmt.Errorf("read hello type: %w", err)
	}
	if mt.Type != helloMessageType {
		return fmt.Errorf("peer opened with message type %#x instead of hello", mt.Type)
	}

	var hello helloMessage
	if _, err := hello.Decode(s.conn); err != nil {
		return fmt.Errorf("decode hello: %w", err)
	}

	if hello.ProtocolRevision != ProtocolVersion {
		s.writeMessage(protocolRejectedMessageType, &protocolRejectedMessage{SupportedRevision: ProtocolVersion})
		return fmt.Errorf("peer speaks protocol %#x, want %#x", hello.ProtocolRevision, ProtocolVersion)
	}

	s.mu.Lock()
	s.identity = hello.Identity
	s.mu.Unlock()

	if err := s.writeMessage(serverHelloMessageType, &serverHelloMessage{Board: s.Board}); err != nil {
		return fmt.Errorf("send server hello: %w", err)
	}

	if s.Logger != nil {
		s.Logger.WithFields(logrus.Fields{"session": s.ID, "identity": hello.Identity}).Info("session established")
	}

	return nil
}

// handleSubscribe registers (or replaces) the session's subscription,
// sends the state baseline, and starts the event pump. Subscribing before
// the snapshot is what guarantees the peer can't miss a change between
// baseline and first event.
func (s *Session) handleSubscribe() error {
	var msg subscribeMessage
	if _, err := msg.Decode(s.conn); err != nil {
		return fmt.Errorf("decode subscribe: %w", err)
	}

	sub := s.Controller.Subscribe(msg.Pins...)

	s.mu.Lock()
	old := s.sub
	s.sub = sub
	s.mu.Unlock()

	if old != nil {
		// Drain the old pump before the new baseline goes out so no
		// stale-sequence frame can land after the fresh snapshot.
		old.Close()
		s.pumpWG.Wait()
	}

	if err := s.sendSnapshot(); err != nil {
		sub.Close()
		return err
	}

	s.setState(StateActive)

	s.pumpWG.Add(1)
	go func() {
		defer s.pumpWG.Done()
		s.pump(sub)
	}()

	return nil
}

// pump forwards controller events to the peer until the subscription is
// closed. A write failure kills the connection, which unblocks Serve.
func (s *Session) pump(sub *control.Subscription) {
	for ev := range sub.Events() {
		msg := eventMessage{
			Pin:      ev.Pin,
			Level:    ev.Level,
			Remote:   ev.Origin.Remote,
			Origin:   ev.Origin.Session,
			Sequence: ev.Seq,
		}

		if err := s.writeMessage(eventMessageType, &msg); err != nil {
			if s.Logger != nil {
				s.Logger.WithField("session", s.ID).WithError(err).Warn("event write failed, dropping session")
			}
			s.conn.Close()
			return
		}
	}
}

func (s *Session) handleSetLevel() error {
	var msg setLevelMessage
	if _, err := msg.Decode(s.conn); err != nil {
		return fmt.Errorf("decode set level: %w", err)
	}

	err := s.Controller.SetLevel(msg.Pin, msg.Level, control.OriginRemote(s.ID))
	return s.reportResult(err)
}

func (s *Session) handleConfigure() error {
	var msg configureMessage
	if _, err := msg.Decode(s.conn); err != nil {
		return fmt.Errorf("decode configure: %w", err)
	}

	err := s.Controller.Configure(msg.Pin, msg.Direction, msg.Function, msg.Pull, control.OriginRemote(s.ID))
	return s.reportResult(err)
}

// reportResult encodes a controller failure as a typed Error message for
// the peer. Only transport trouble propagates as a Go error.
func (s *Session) reportResult(err error) error {
	if err == nil {
		return nil
	}

	msg := errorMessage{Kind: errorKindFor(err), Detail: err.Error()}
	if werr := s.writeMessage(errorMessageType, &msg); werr != nil {
		return fmt.Errorf("send error message: %w", werr)
	}

	return nil
}

func errorKindFor(err error) ErrorKind {
	switch {
	case errors.Is(err, &control.ValidationError{}):
		return ErrKindValidation
	case errors.Is(err, &control.UnknownPinError{}):
		return ErrKindUnknownPin
	case errors.Is(err, &hal.Error{Kind: hal.Unavailable}):
		return ErrKindUnavailable
	}

	var hwErr *hal.Error
	if errors.As(err, &hwErr) {
		return ErrKindHardware
	}

	return ErrKindProtocol
}

func (s *Session) sendSnapshot() error {
	snap := s.Controller.Snapshot()
	if err := s.writeMessage(snapshotMessageType, &snapshotMessage{Config: snap}); err != nil {
		return fmt.Errorf("send snapshot: %w", err)
	}
	return nil
}

type encoder interface {
	Encode(w io.Writer) (int, error)
}

// writeMessage serializes a whole message atomically with respect to the
// event pump.
func (s *Session) writeMessage(t uint8, body encoder) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := (&messageType{Type: t}).Encode(s.conn); err != nil {
		return err
	}
	if body == nil {
		return nil
	}
	_, err := body.Encode(s.conn)
	return err
}

// teardown releases the subscription and the connection, in that order,
// exactly once per session.
func (s *Session) teardown() {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
	s.pumpWG.Wait()

	s.conn.Close()
	s.setState(StateClosed)

	if s.Logger != nil {
		s.Logger.WithField("session", s.ID).Info("session closed")
	}
}
