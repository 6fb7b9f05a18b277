package transport

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"

	"github.com/rs/xid"
	"github.com/tebeka/atexit"

	"github.com/softgpu/gpudbg/pkg/logflags"
	"github.com/softgpu/gpudbg/pkg/wire"
	"github.com/softgpu/gpudbg/service/internal/sameuser"
)

// State is the connection state of a Channel.
type State int32

const (
	// Closed channels have no endpoint and never accept again.
	Closed State = iota
	// Listening channels wait for the simulator to connect.
	Listening
	// Connected channels have a peer and completed the handshake.
	Connected
	// Faulted channels saw an I/O error on their current connection and
	// must be reset before they can be used again.
	Faulted
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Listening:
		return "listening"
	case Connected:
		return "connected"
	case Faulted:
		return "faulted"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

var (
	// ErrNotConnected is returned by channel I/O when no peer is connected.
	ErrNotConnected = errors.New("channel not connected")
	// ErrClosed is returned by Listen after Close.
	ErrClosed = errors.New("channel closed")
)

// FaultError is returned by channel I/O that failed on an established
// connection. The channel is Faulted once it is returned.
type FaultError struct {
	Channel string
	Session string
	Err     error
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("%s channel (session %s): %v", e.Channel, e.Session, e.Err)
}

func (e *FaultError) Unwrap() error {
	return e.Err
}

// connection is one accepted peer. Channel I/O holds on to the
// connection it started with so that a fault raised after a reset can be
// recognized as stale.
type connection struct {
	net.Conn
	id xid.ID
	r  *bufio.Reader
}

// ChannelConfig describes a Channel.
type ChannelConfig struct {
	// Name is used in logs and errors, "control" or "telemetry".
	Name string
	// Path is the filesystem path of the unix domain socket.
	Path string
	// Handshake, if not nil, is called after a peer connects and the
	// returned message is sent before the channel becomes Connected.
	Handshake func() wire.Message
	// CheckLocalConnUser rejects peers running as a different user.
	CheckLocalConnUser bool
	// OnStateChange is called, without locks held, every time the state
	// of the channel changes.
	OnStateChange func(State)
}

// Channel is one duplex endpoint the simulator connects to. A Channel
// accepts a single peer at a time. Any I/O error on the peer faults the
// channel, after which Reset drops the peer and starts listening again.
type Channel struct {
	config ChannelConfig
	log    logflags.Logger

	mu       sync.Mutex
	listener net.Listener
	cleanup  atexit.HandlerID
	closed   bool

	state atomic.Int32
	cur   atomic.Pointer[connection]

	wmu sync.Mutex
}

// NewChannel returns a Channel for config. The endpoint is not created
// until Listen is called.
func NewChannel(config ChannelConfig) *Channel {
	return &Channel{
		config: config,
		log:    logflags.TransportLogger().WithField("channel", config.Name),
	}
}

// Name returns the name of the channel.
func (c *Channel) Name() string {
	return c.config.Name
}

// Path returns the endpoint path of the channel.
func (c *Channel) Path() string {
	return c.config.Path
}

// State returns the current state of the channel.
func (c *Channel) State() State {
	return State(c.state.Load())
}

// IsReady returns true if a peer is connected and the handshake, if any,
// was sent.
func (c *Channel) IsReady() bool {
	return c.State() == Connected
}

// Session returns the id of the current connection, or the empty string.
func (c *Channel) Session() string {
	if cc := c.cur.Load(); cc != nil {
		return cc.id.String()
	}
	return ""
}

// setStateLocked records a new state and returns a function that reports
// the change. It must be called with c.mu held and the returned function
// called after releasing it.
func (c *Channel) setStateLocked(s State) func() {
	old := State(c.state.Swap(int32(s)))
	if old == s {
		return func() {}
	}
	return func() {
		if logflags.Transport() {
			c.log.Debugf("%v -> %v", old, s)
		}
		if c.config.OnStateChange != nil {
			c.config.OnStateChange(s)
		}
	}
}

// Listen creates the endpoint and starts accepting a peer in the
// background. It returns once the endpoint exists. Calling Listen on a
// channel that is already listening or connected does nothing.
func (c *Channel) Listen() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.listener != nil {
		c.mu.Unlock()
		return nil
	}
	// A previous run that did not exit cleanly leaves the socket file
	// behind and bind fails with EADDRINUSE.
	if err := os.Remove(c.config.Path); err != nil && !os.IsNotExist(err) {
		c.mu.Unlock()
		return fmt.Errorf("removing stale endpoint: %w", err)
	}
	l, err := net.Listen("unix", c.config.Path)
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("couldn't listen on %s channel: %w", c.config.Name, err)
	}
	path := c.config.Path
	c.listener = l
	c.cleanup = atexit.Register(func() { os.Remove(path) })
	notify := c.setStateLocked(Listening)
	c.mu.Unlock()

	c.log.Infof("waiting for simulator on %s", path)
	notify()
	go c.acceptLoop(l)
	return nil
}

// acceptLoop accepts peers until one completes the handshake or the
// listener is closed.
func (c *Channel) acceptLoop(l net.Listener) {
	for {
		conn, err := l.Accept()
		if err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if !closed {
				c.log.Errorf("accept failed: %v", err)
			}
			return
		}
		if c.config.CheckLocalConnUser && !sameuser.CanAccept(conn) {
			conn.Close()
			continue
		}
		cc := &connection{Conn: conn, id: xid.New(), r: bufio.NewReader(conn)}
		if c.config.Handshake != nil {
			m := c.config.Handshake()
			if err := wire.WriteMessage(conn, m.Code, m.Length, m.Payload); err != nil {
				c.log.Warnf("handshake with %s failed: %v", cc.id, err)
				conn.Close()
				continue
			}
			if logflags.Wire() {
				logflags.WireLogger().Debugf("%s -> %v %v", c.config.Name, m.Header, m.Payload)
			}
		}

		c.mu.Lock()
		if c.closed || c.listener != l {
			c.mu.Unlock()
			conn.Close()
			return
		}
		c.cur.Store(cc)
		notify := c.setStateLocked(Connected)
		c.mu.Unlock()
		c.log.Infof("simulator connected, session %s", cc.id)
		notify()
		return
	}
}

// Reset drops the current peer, if any, and starts listening for a new
// one. Resetting a channel that is already listening does nothing.
func (c *Channel) Reset() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	cc := c.cur.Swap(nil)
	if cc == nil {
		c.mu.Unlock()
		return
	}
	cc.Close()
	l := c.listener
	notify := c.setStateLocked(Listening)
	if l != nil {
		go c.acceptLoop(l)
	}
	c.mu.Unlock()

	c.log.Infof("session %s reset", cc.id)
	notify()
}

// Close drops the peer, closes the listener and removes the endpoint.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if cc := c.cur.Swap(nil); cc != nil {
		cc.Close()
	}
	var err error
	if c.listener != nil {
		// Closing a unix listener also unlinks its socket file.
		err = c.listener.Close()
		c.listener = nil
		c.cleanup.Cancel()
	}
	notify := c.setStateLocked(Closed)
	c.mu.Unlock()
	notify()
	return err
}

// fault marks the channel Faulted if cc is still its current connection.
func (c *Channel) fault(cc *connection, err error) error {
	ferr := &FaultError{Channel: c.config.Name, Session: cc.id.String(), Err: err}
	c.mu.Lock()
	if c.closed || c.cur.Load() != cc {
		c.mu.Unlock()
		return ferr
	}
	notify := c.setStateLocked(Faulted)
	c.mu.Unlock()
	c.log.Warnf("session %s faulted: %v", cc.id, err)
	notify()
	return ferr
}

func (c *Channel) conn() (*connection, error) {
	cc := c.cur.Load()
	if cc == nil {
		return nil, ErrNotConnected
	}
	return cc, nil
}

// ReadHeader reads one message header. On failure the returned header is
// wire.ErrorHeader.
func (c *Channel) ReadHeader() (wire.Header, error) {
	cc, err := c.conn()
	if err != nil {
		return wire.ErrorHeader, err
	}
	h, err := wire.ReadHeader(cc.r)
	if err != nil {
		return wire.ErrorHeader, c.fault(cc, err)
	}
	if logflags.Wire() {
		logflags.WireLogger().Debugf("%s <- %v", c.config.Name, h)
	}
	return h, nil
}

// ReadUint32 reads one little endian word.
func (c *Channel) ReadUint32() (uint32, error) {
	cc, err := c.conn()
	if err != nil {
		return 0, err
	}
	v, err := wire.ReadUint32(cc.r)
	if err != nil {
		return 0, c.fault(cc, err)
	}
	return v, nil
}

// ReadUint32s fills dst with little endian words.
func (c *Channel) ReadUint32s(dst []uint32) error {
	cc, err := c.conn()
	if err != nil {
		return err
	}
	if err := wire.ReadUint32s(cc.r, dst); err != nil {
		return c.fault(cc, err)
	}
	return nil
}

// ReadFull fills buf.
func (c *Channel) ReadFull(buf []byte) error {
	cc, err := c.conn()
	if err != nil {
		return err
	}
	if _, err := io.ReadFull(cc.r, buf); err != nil {
		return c.fault(cc, err)
	}
	return nil
}

// Discard skips n bytes.
func (c *Channel) Discard(n uint32) error {
	cc, err := c.conn()
	if err != nil {
		return err
	}
	if err := wire.Discard(cc.r, n); err != nil {
		return c.fault(cc, err)
	}
	return nil
}

// Write sends one message. Concurrent writes are serialized.
func (c *Channel) Write(code wire.Code, length uint32, payload []byte) error {
	cc, err := c.conn()
	if err != nil {
		return err
	}
	c.wmu.Lock()
	err = wire.WriteMessage(cc, code, length, payload)
	c.wmu.Unlock()
	if err != nil {
		return c.fault(cc, err)
	}
	if logflags.Wire() {
		logflags.WireLogger().Debugf("%s -> %v", c.config.Name, wire.Header{Code: code, Length: length})
	}
	return nil
}
