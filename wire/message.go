package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/pinwire/pinwire/device"
)

// ProtocolVersion is bumped whenever the message layout changes
// incompatibly. Peers with mismatched versions refuse each other at
// handshake time.
const ProtocolVersion uint16 = 0x0100

const (
	keepAliveMessageType        uint8 = 0x00
	helloMessageType            uint8 = 0x01
	protocolRejectedMessageType uint8 = 0x02
	serverHelloMessageType      uint8 = 0x03
	subscribeMessageType        uint8 = 0x10
	setLevelMessageType         uint8 = 0x11
	configureMessageType        uint8 = 0x12
	snapshotRequestMessageType  uint8 = 0x13
	snapshotMessageType         uint8 = 0x20
	eventMessageType            uint8 = 0x21
	errorMessageType            uint8 = 0x22
	closeMessageType            uint8 = 0x2F
)

type messageType struct {
	Type uint8
}

func (m *messageType) Decode(rd io.Reader) (int, error) {
	buf := make([]byte, 1)
	n, err := io.ReadFull(rd, buf)
	if err != nil {
		return n, fmt.Errorf("couldn't read message type: %w", err)
	}

	m.Type = buf[0]

	return n, nil
}

func (m *messageType) Encode(w io.Writer) (int, error) {
	n, err := w.Write([]byte{m.Type})
	if err != nil {
		return n, fmt.Errorf("couldn't write message type: %w", err)
	}

	return n, nil
}

// helloMessage opens a session: the client announces its protocol revision
// and a human-readable identity.
type helloMessage struct {
	ProtocolRevision uint16
	Identity         string
}

func (h *helloMessage) Decode(rd io.Reader) (int, error) {
	buf := make([]byte, 2)
	revN, err := io.ReadFull(rd, buf)
	if err != nil {
		return revN, fmt.Errorf("unable to read protocol revision: %w", err)
	}
	h.ProtocolRevision = binary.BigEndian.Uint16(buf)

	identity := wireString{}
	identityN, err := identity.Decode(rd)
	if err != nil {
		return revN + identityN, fmt.Errorf("unable to read identity: %w", err)
	}
	h.Identity = identity.V

	return revN + identityN, nil
}

func (h *helloMessage) Encode(w io.Writer) (int, error) {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, h.ProtocolRevision)
	revN, err := w.Write(buf)
	if err != nil {
		return revN, fmt.Errorf("unable to write protocol revision: %w", err)
	}

	identity := wireString{V: h.Identity}
	identityN, err := identity.Encode(w)
	if err != nil {
		return revN + identityN, fmt.Errorf("unable to write identity: %w", err)
	}

	return revN + identityN, nil
}

// protocolRejectedMessage tells a client which revision the server would
// have accepted.
type protocolRejectedMessage struct {
	SupportedRevision uint16
}

func (p *protocolRejectedMessage) Decode(rd io.Reader) (int, error) {
	buf := make([]byte, 2)
	n, err := io.ReadFull(rd, buf)
	if err != nil {
		return n, fmt.Errorf("unable to read supported revision: %w", err)
	}
	p.SupportedRevision = binary.BigEndian.Uint16(buf)

	return n, nil
}

func (p *protocolRejectedMessage) Encode(w io.Writer) (int, error) {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, p.SupportedRevision)
	n, err := w.Write(buf)
	if err != nil {
		return n, fmt.Errorf("unable to write supported revision: %w", err)
	}

	return n, nil
}

// serverHelloMessage completes the handshake with the board identity the
// session controls.
type serverHelloMessage struct {
	Board string
}

func (s *serverHelloMessage) Decode(rd io.Reader) (int, error) {
	board := wireString{}
	n, err := board.Decode(rd)
	if err != nil {
		return n, fmt.Errorf("unable to read board identity: %w", err)
	}
	s.Board = board.V

	return n, nil
}

func (s *serverHelloMessage) Encode(w io.Writer) (int, error) {
	board := wireString{V: s.Board}
	n, err := board.Encode(w)
	if err != nil {
		return n, fmt.Errorf("unable to write board identity: %w", err)
	}

	return n, nil
}

// subscribeMessage registers interest in a pin set. An empty set means
// every pin.
type subscribeMessage struct {
	Pins []device.Pin
}

func (s *subscribeMessage) Decode(rd io.Reader) (int, error) {
	var count uleb128
	countN, err := count.Decode(rd)
	if err != nil {
		return countN, fmt.Errorf("unable to read pin count: %w", err)
	}

	if count.V > 256 {
		return countN, fmt.Errorf("pin set size %d is implausible", count.V)
	}

	buf := make([]byte, count.V)
	n, err := io.ReadFull(rd, buf)
	if err != nil {
		return countN + n, fmt.Errorf("unable to read pin set: %w", err)
	}

	s.Pins = make([]device.Pin, 0, len(buf))
	for _, b := range buf {
		s.Pins = append(s.Pins, device.Pin(b))
	}

	return countN + n, nil
}

func (s *subscribeMessage) Encode(w io.Writer) (int, error) {
	count := uleb128{V: uint64(len(s.Pins))}
	countN, err := count.Encode(w)
	if err != nil {
		return countN, fmt.Errorf("unable to write pin count: %w", err)
	}

	buf := make([]byte, 0, len(s.Pins))
	for _, p := range s.Pins {
		buf = append(buf, byte(p))
	}

	// A zero-length Write blocks on net.Pipe until a reader rendezvous,
	// while Decode skips the read entirely for an empty pin set.
	if len(buf) == 0 {
		return countN, nil
	}

	n, err := w.Write(buf)
	if err != nil {
		return countN + n, fmt.Errorf("unable to write pin set: %w", err)
	}

	return countN + n, nil
}

// setLevelMessage requests that an output pin be driven to a level.
type setLevelMessage struct {
	Pin   device.Pin
	Level device.Level
}

func (s *setLevelMessage) Decode(rd io.Reader) (int, error) {
	buf := make([]byte, 1)
	pinN, err := io.ReadFull(rd, buf)
	if err != nil {
		return pinN, fmt.Errorf("unable to read pin: %w", err)
	}
	s.Pin = device.Pin(buf[0])

	level := wireBool{}
	levelN, err := level.Decode(rd)
	if err != nil {
		return pinN + levelN, fmt.Errorf("unable to read level: %w", err)
	}
	s.Level = device.Level(level.V)

	return pinN + levelN, nil
}

func (s *setLevelMessage) Encode(w io.Writer) (int, error) {
	pinN, err := w.Write([]byte{byte(s.Pin)})
	if err != nil {
		return pinN, fmt.Errorf("unable to write pin: %w", err)
	}

	level := wireBool{V: bool(s.Level)}
	levelN, err := level.Encode(w)
	if err != nil {
		return pinN + levelN, fmt.Errorf("unable to write level: %w", err)
	}

	return pinN + levelN, nil
}

// configureMessage requests a role change for one pin.
type configureMessage struct {
	Pin       device.Pin
	Direction device.Direction
	Function  device.Function
	Pull      device.Pull
}

func (c *configureMessage) Decode(rd io.Reader) (int, error) {
	buf := make([]byte, 4)
	n, err := io.ReadFull(rd, buf)
	if err != nil {
		return n, fmt.Errorf("unable to read configure payload: %w", err)
	}

	c.Pin = device.Pin(buf[0])
	c.Direction = device.Direction(buf[1])
	c.Function = device.Function(buf[2])
	c.Pull = device.Pull(buf[3])

	return n, nil
}

func (c *configureMessage) Encode(w io.Writer) (int, error) {
	buf := []byte{byte(c.Pin), byte(c.Direction), byte(c.Function), byte(c.Pull)}
	n, err := w.Write(buf)
	if err != nil {
		return n, fmt.Errorf("unable to write configure payload: %w", err)
	}

	return n, nil
}

// snapshotMessage carries a complete device config: the session's state
// baseline.
type snapshotMessage struct {
	Config device.Config
}

func (s *snapshotMessage) Decode(rd io.Reader) (int, error) {
	var count uleb128
	total, err := count.Decode(rd)
	if err != nil {
		return total, fmt.Errorf("unable to read pin count: %w", err)
	}

	if count.V > 256 {
		return total, fmt.Errorf("snapshot pin count %d is implausible", count.V)
	}

	cfg := device.NewConfig()
	buf := make([]byte, 5)
	for i := uint64(0); i < count.V; i++ {
		n, err := io.ReadFull(rd, buf)
		total += n
		if err != nil {
			return total, fmt.Errorf("unable to read pin record: %w", err)
		}

		pc := device.PinConfig{
			Direction: device.Direction(buf[1]),
			Function:  device.Function(buf[2]),
			Pull:      device.Pull(buf[3]),
			Level:     device.Level(buf[4] != 0),
		}
		cfg.SetPin(device.Pin(buf[0]), pc)
	}

	s.Config = cfg

	return total, nil
}

func (s *snapshotMessage) Encode(w io.Writer) (int, error) {
	count := uleb128{V: uint64(s.Config.Len())}
	total, err := count.Encode(w)
	if err != nil {
		return total, fmt.Errorf("unable to write pin count: %w", err)
	}

	for _, pin := range s.Config.Pins() {
		pc, _ := s.Config.Pin(pin)

		var level byte
		if pc.Level {
			level = 1
		}

		buf := []byte{byte(pin), byte(pc.Direction), byte(pc.Function), byte(pc.Pull), level}
		n, err := w.Write(buf)
		total += n
		if err != nil {
			return total, fmt.Errorf("unable to write pin record: %w", err)
		}
	}

	return total, nil
}

// eventMessage is one committed level change, stamped with the session's
// sequence number.
type eventMessage struct {
	Pin      device.Pin
	Level    device.Level
	Remote   bool
	Origin   string
	Sequence uint64
}

func (e *eventMessage) Decode(rd io.Reader) (int, error) {
	buf := make([]byte, 11)
	total, err := io.ReadFull(rd, buf)
	if err != nil {
		return total, fmt.Errorf("unable to read event payload: %w", err)
	}

	e.Pin = device.Pin(buf[0])
	e.Level = device.Level(buf[1] != 0)
	e.Remote = buf[2] != 0
	e.Sequence = binary.BigEndian.Uint64(buf[3:11])

	origin := wireString{}
	originN, err := origin.Decode(rd)
	total += originN
	if err != nil {
		return total, fmt.Errorf("unable to read event origin: %w", err)
	}
	e.Origin = origin.V

	return total, nil
}

func (e *eventMessage) Encode(w io.Writer) (int, error) {
	buf := make([]byte, 11)
	buf[0] = byte(e.Pin)
	if e.Level {
		buf[1] = 1
	}
	if e.Remote {
		buf[2] = 1
	}
	binary.BigEndian.PutUint64(buf[3:11], e.Sequence)

	total, err := w.Write(buf)
	if err != nil {
		return total, fmt.Errorf("unable to write event payload: %w", err)
	}

	origin := wireString{V: e.Origin}
	originN, err := origin.Encode(w)
	total += originN
	if err != nil {
		return total, fmt.Errorf("unable to write event origin: %w", err)
	}

	return total, nil
}

// ErrorKind classifies a failure reported over the wire.
type ErrorKind uint8

const (
	ErrKindValidation ErrorKind = iota + 1
	ErrKindUnknownPin
	ErrKindHardware
	ErrKindUnavailable
	ErrKindProtocol
)

func (k ErrorKind) String() string {
	switch k {
	case ErrKindValidation:
		return "validation"
	case ErrKindUnknownPin:
		return "unknown pin"
	case ErrKindHardware:
		return "hardware"
	case ErrKindUnavailable:
		return "unavailable"
	case ErrKindProtocol:
		return "protocol"
	}
	return fmt.Sprintf("error kind %d", uint8(k))
}

// errorMessage reports a logical failure without dropping the session.
type errorMessage struct {
	Kind   ErrorKind
	Detail string
}

func (e *errorMessage) Decode(rd io.Reader) (int, error) {
	buf := make([]byte, 1)
	kindN, err := io.ReadFull(rd, buf)
	if err != nil {
		return kindN, fmt.Errorf("unable to read error kind: %w", err)
	}
	e.Kind = ErrorKind(buf[0])

	detail := wireString{}
	detailN, err := detail.Decode(rd)
	if err != nil {
		return kindN + detailN, fmt.Errorf("unable to read error detail: %w", err)
	}
	e.Detail = detail.V

	return kindN + detailN, nil
}

func (e *errorMessage) Encode(w io.Writer) (int, error) {
	kindN, err := w.Write([]byte{byte(e.Kind)})
	if err != nil {
		return kindN, fmt.Errorf("unable to write error kind: %w", err)
	}

	detail := wireString{V: e.Detail}
	detailN, err := detail.Encode(w)
	if err != nil {
		return kindN + detailN, fmt.Errorf("unable to write error detail: %w", err)
	}

	return kindN + detailN, nil
}
