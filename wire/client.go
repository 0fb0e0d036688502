package wire

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	badger "github.com/dgraph-io/badger/v2"
	"github.com/sirupsen/logrus"

	"github.com/pinwire/pinwire/device"
)

// DefaultAddr is the wire protocol's default listen address.
const DefaultAddr = ":7180"

// ClientConfig carries the connection settings for a Client.
type ClientConfig struct {
	Addr     string
	Identity string
}

// Event is a level change as seen by a client.
type Event struct {
	Pin      device.Pin
	Level    device.Level
	Remote   bool
	Origin   string
	Sequence uint64
}

// RemoteError is a typed failure the server reported for one of this
// client's requests.
type RemoteError struct {
	Kind   ErrorKind
	Detail string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// Client drives a remote pin controller. The zero value plus a Config is
// usable after Open; connections are established lazily and re-dialed
// after a drop.
type Client struct {
	Mirror Mirror
	Logger *logrus.Logger
	Config ClientConfig

	// Dial can be replaced to run the protocol over something other than
	// TCP. Defaults to net.Dial("tcp", addr).
	Dial func(addr string) (net.Conn, error)

	conn    net.Conn
	connMu  *sync.Mutex
	writeMu sync.Mutex

	board string

	seqMu   sync.Mutex
	lastSeq uint64

	events     chan Event
	serverErrs chan *RemoteError
}

// Open prepares the client. It does not connect; the first request does.
func (c *Client) Open() error {
	if c.Config.Addr == "" {
		c.Config.Addr = DefaultAddr
	}

	if c.Config.Identity == "" {
		hostname, err := os.Hostname()
		if err == nil {
			c.Config.Identity = hostname
		} else {
			c.Config.Identity = "pinwire-go"
		}
	}

	if c.Mirror == nil {
		mirror, err := OpenBadgerMirror(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
		if err != nil {
			return fmt.Errorf("no mirror was specified, tried to use badger in memory but got: %w", err)
		}
		c.Mirror = mirror
	}

	if c.Dial == nil {
		c.Dial = func(addr string) (net.Conn, error) {
			return net.Dial("tcp", addr)
		}
	}

	c.connMu = new(sync.Mutex)
	c.events = make(chan Event, 64)
	c.serverErrs = make(chan *RemoteError, 8)

	return nil
}

// Close tells the server we're leaving and drops the connection.
func (c *Client) Close() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil {
		return nil
	}

	c.writeMessage(c.conn, closeMessageType, nil)

	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) getConn() (net.Conn, error) {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil {
		conn, err := c.Dial(c.Config.Addr)
		if err != nil {
			return nil, fmt.Errorf("couldn't dial into server: %w", err)
		}

		c.conn = conn

		if err := c.handshake(); err != nil {
			conn.Close()
			c.conn = nil
			return nil, fmt.Errorf("handshake failed: %w", err)
		}

		go func() {
			c.listen(conn)
			c.connMu.Lock()
			if c.conn == conn {
				c.conn = nil
			}
			c.connMu.Unlock()
		}()
	}

	return c.conn, nil
}

// handshake callers hold connMu.
func (c *Client) handshake() error {
	conn := c.conn

	if c.Logger != nil {
		c.Logger.Infof("identifying as %q to server at %q", c.Config.Identity, conn.RemoteAddr().String())
	}

	c.writeMu.Lock()
	_, err := (&messageType{Type: helloMessageType}).Encode(conn)
	if err == nil {
		_, err = (&helloMessage{ProtocolRevision: ProtocolVersion, Identity: c.Config.Identity}).Encode(conn)
	}
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("couldn't send hello to server: %w", err)
	}

	var mt messageType
	if _, err := mt.Decode(conn); err != nil {
		return fmt.Errorf("couldn't decode server response type: %w", err)
	}

	switch mt.Type {
	case protocolRejectedMessageType:
		var rejected protocolRejectedMessage
		if _, err := rejected.Decode(conn); err != nil {
			return fmt.Errorf("couldn't decode rejection: %w", err)
		}
		return fmt.Errorf("server only speaks protocol %#x, we speak %#x", rejected.SupportedRevision, ProtocolVersion)

	case serverHelloMessageType:
		var hello serverHelloMessage
		if _, err := hello.Decode(conn); err != nil {
			return fmt.Errorf("couldn't decode server hello: %w", err)
		}
		c.board = hello.Board

	default:
		return fmt.Errorf("server responded with unexpected message type %#x", mt.Type)
	}

	// Sequence numbering starts over with each connection.
	c.seqMu.Lock()
	c.lastSeq = 0
	c.seqMu.Unlock()

	if c.Logger != nil {
		c.Logger.Infof("connected to board %q", c.board)
	}

	return nil
}

// Board returns the board identity from the server hello, once connected.
func (c *Client) Board() string {
	return c.board
}

// Events returns the stream of level changes observed on subscribed pins.
func (c *Client) Events() <-chan Event {
	return c.events
}

// ServerErrors returns typed failures the server reported. Requests are
// fire-and-forget on the wire, so errors surface here rather than as
// return values.
func (c *Client) ServerErrors() <-chan *RemoteError {
	return c.serverErrs
}

// Subscribe asks for events on the given pins (none means all). The
// server replies with a snapshot baseline before any event.
func (c *Client) Subscribe(pins ...device.Pin) error {
	conn, err := c.getConn()
	if err != nil {
		return fmt.Errorf("unable to get connection to server: %w", err)
	}

	// The server numbers each subscription from 1, so expectations start
	// over here. An event from the old subscription arriving after the
	// reset at worst triggers a redundant snapshot request.
	c.seqMu.Lock()
	c.lastSeq = 0
	c.seqMu.Unlock()

	return c.writeMessage(conn, subscribeMessageType, &subscribeMessage{Pins: pins})
}

// SetLevel asks the server to drive an output pin.
func (c *Client) SetLevel(pin device.Pin, level device.Level) error {
	conn, err := c.getConn()
	if err != nil {
		return fmt.Errorf("unable to get connection to server: %w", err)
	}

	return c.writeMessage(conn, setLevelMessageType, &setLevelMessage{Pin: pin, Level: level})
}

// Configure asks the server to change a pin's role.
func (c *Client) Configure(pin device.Pin, dir device.Direction, fn device.Function, pull device.Pull) error {
	conn, err := c.getConn()
	if err != nil {
		return fmt.Errorf("unable to get connection to server: %w", err)
	}

	return c.writeMessage(conn, configureMessageType, &configureMessage{Pin: pin, Direction: dir, Function: fn, Pull: pull})
}

// RequestSnapshot asks for a fresh baseline, replacing the mirror when it
// arrives.
func (c *Client) RequestSnapshot() error {
	conn, err := c.getConn()
	if err != nil {
		return fmt.Errorf("unable to get connection to server: %w", err)
	}

	return c.writeMessage(conn, snapshotRequestMessageType, nil)
}

// Ping sends a keep-alive.
func (c *Client) Ping() error {
	conn, err := c.getConn()
	if err != nil {
		return fmt.Errorf("unable to get connection to server: %w", err)
	}

	return c.writeMessage(conn, keepAliveMessageType, nil)
}

func (c *Client) writeMessage(conn net.Conn, t uint8, body encoder) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if _, err := (&messageType{Type: t}).Encode(conn); err != nil {
		return fmt.Errorf("unable to encode message type: %w", err)
	}
	if body == nil {
		return nil
	}
	if _, err := body.Encode(conn); err != nil {
		return fmt.Errorf("unable to encode message: %w", err)
	}

	return nil
}

func (c *Client) listen(conn net.Conn) {
	for {
		err := c.handleMessage(conn)
		if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
			if c.Logger != nil {
				c.Logger.Info("server closed connection")
			}
			return
		} else if err != nil {
			if c.Logger != nil {
				c.Logger.Errorf("couldn't handle server message: %s", err)
			}
			return
		}
	}
}

func (c *Client) handleMessage(conn net.Conn) error {
	var mt messageType
	if _, err := mt.Decode(conn); err != nil {
		return err
	}

	switch mt.Type {
	case keepAliveMessageType:

	case snapshotMessageType:
		var snap snapshotMessage
		if _, err := snap.Decode(conn); err != nil {
			return fmt.Errorf("couldn't decode snapshot: %w", err)
		}

		if err := c.Mirror.Replace(snap.Config); err != nil {
			return fmt.Errorf("couldn't replace mirror from snapshot: %w", err)
		}

		if c.Logger != nil {
			c.Logger.WithField("pins", snap.Config.Len()).Info("applied snapshot baseline")
		}

	case eventMessageType:
		var ev eventMessage
		if _, err := ev.Decode(conn); err != nil {
			return fmt.Errorf("couldn't decode event: %w", err)
		}

		c.handleEvent(ev)

	case errorMessageType:
		var msg errorMessage
		if _, err := msg.Decode(conn); err != nil {
			return fmt.Errorf("couldn't decode error message: %w", err)
		}

		remote := &RemoteError{Kind: msg.Kind, Detail: msg.Detail}
		if c.Logger != nil {
			c.Logger.Warnf("server reported error: %s", remote)
		}

		select {
		case c.serverErrs <- remote:
		default:
		}

	case closeMessageType:
		return io.EOF

	default:
		return fmt.Errorf("got unknown message type: %#x", mt.Type)
	}

	return nil
}

// handleEvent applies an event to the mirror and hands it to the
// application. A sequence gap means we missed events; the mirror is
// resynchronized from a fresh snapshot.
func (c *Client) handleEvent(ev eventMessage) {
	// lastSeq of 0 means nothing delivered yet, so the first event must
	// carry sequence 1; anything else is a gap too.
	c.seqMu.Lock()
	last := c.lastSeq
	c.lastSeq = ev.Sequence
	c.seqMu.Unlock()

	if ev.Sequence != last+1 {
		if c.Logger != nil {
			c.Logger.Warnf("sequence gap (%d -> %d), requesting snapshot", last, ev.Sequence)
		}
		if err := c.RequestSnapshot(); err != nil && c.Logger != nil {
			c.Logger.Errorf("couldn't request snapshot after gap: %s", err)
		}
	}

	if err := c.Mirror.SetLevel(ev.Pin, ev.Level); err != nil && c.Logger != nil {
		c.Logger.Errorf("couldn't apply event to mirror: %s", err)
	}

	out := Event{Pin: ev.Pin, Level: ev.Level, Remote: ev.Remote, Origin: ev.Origin, Sequence: ev.Sequence}
	select {
	case c.events <- out:
	default:
		// the application isn't draining; levels are absolute so the
		// mirror stays correct regardless
	}
}
