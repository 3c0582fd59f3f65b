// Package channel owns the single duplex connection to the narrator service.
// Every UI surface shares one logical channel: acquisition is lazy, sends are
// gated on readiness, and a dead channel is replaced on the next acquire
// rather than retried in a loop.
package channel

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/eigensight/pkg/frames"
)

// State is the channel lifecycle position.
type State int32

const (
	StateUninitialized State = iota
	StateConnecting
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ErrUnavailable is returned when a send is attempted while the channel is
// not open. The frame is dropped, never queued.
var ErrUnavailable = errors.New("channel not open")

// Conn is one physical duplex connection.
type Conn interface {
	WriteMessage(data []byte) error
	ReadMessage() ([]byte, error)
	Close() error
}

// Dialer opens physical connections. The production implementation dials a
// websocket; tests substitute an in-memory pipe.
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Conn, error)
}

// FrameHandler receives inbound raw frames in arrival order.
type FrameHandler func(raw []byte)

// Channel is one logical connection with an explicit lifecycle. It is shared
// by every component; none owns it exclusively.
type Channel struct {
	mu      sync.Mutex
	state   State
	conn    Conn
	waiters []func()
}

// State returns the current lifecycle state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// WhenReady runs fn immediately if the channel is open, otherwise registers
// it as a one-shot observer fired on the transition to open. A channel that
// dies before opening never fires its observers; the interaction is dropped.
func (c *Channel) WhenReady(fn func()) {
	c.mu.Lock()
	if c.state == StateOpen {
		c.mu.Unlock()
		fn()
		return
	}
	c.waiters = append(c.waiters, fn)
	c.mu.Unlock()
}

// Send encodes the frame and writes it to the connection. Fire-and-forget:
// the caller is never blocked on a reply. Sends while not open return
// ErrUnavailable and the frame is dropped.
func (c *Channel) Send(frame interface{}) error {
	data, err := frames.Encode(frame)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.state != StateOpen {
		c.mu.Unlock()
		return ErrUnavailable
	}
	conn := c.conn
	c.mu.Unlock()

	if err := conn.WriteMessage(data); err != nil {
		log.Warn().Err(err).Msg("channel write failed")
		c.transitionClosed()
		return err
	}
	return nil
}

// Close moves the channel through closing to closed and releases the
// connection.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.state == StateClosed || c.state == StateClosing {
		c.mu.Unlock()
		return
	}
	c.state = StateClosing
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	c.transitionClosed()
}

func (c *Channel) transitionOpen(conn Conn) {
	c.mu.Lock()
	if c.state != StateConnecting {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.state = StateOpen
	c.conn = conn
	waiters := c.waiters
	c.waiters = nil
	c.mu.Unlock()

	for _, fn := range waiters {
		fn()
	}
}

func (c *Channel) transitionClosed() {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = StateClosed
	c.conn = nil
	c.waiters = nil
	c.mu.Unlock()
}

// Manager hands out the process-wide channel. At most one physical
// connection is outstanding at any time; a caller observing a closed or
// closing channel triggers re-creation.
type Manager struct {
	mu       sync.Mutex
	endpoint string
	dialer   Dialer
	onFrame  FrameHandler
	current  *Channel
}

// NewManager creates a manager that dials endpoint on demand and delivers
// every inbound frame to onFrame in arrival order.
func NewManager(endpoint string, dialer Dialer, onFrame FrameHandler) *Manager {
	return &Manager{
		endpoint: endpoint,
		dialer:   dialer,
		onFrame:  onFrame,
	}
}

// Acquire returns the live channel, creating and dialing one if none exists
// or the existing one is closed or closing. This is the only place a
// physical connection is opened.
func (m *Manager) Acquire() *Channel {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		switch m.current.State() {
		case StateClosed, StateClosing:
			// Fall through to re-create.
		default:
			return m.current
		}
	}

	ch := &Channel{state: StateConnecting}
	m.current = ch
	go m.connect(ch)
	return ch
}

// WhenReady acquires the channel and defers fn until it is open.
func (m *Manager) WhenReady(fn func()) {
	m.Acquire().WhenReady(fn)
}

func (m *Manager) connect(ch *Channel) {
	conn, err := m.dialer.Dial(context.Background(), m.endpoint)
	if err != nil {
		log.Warn().Err(err).Str("endpoint", m.endpoint).Msg("channel dial failed")
		ch.mu.Lock()
		ch.state = StateClosed
		ch.waiters = nil
		ch.mu.Unlock()
		return
	}

	ch.transitionOpen(conn)
	log.Debug().Str("endpoint", m.endpoint).Msg("channel open")

	// Read loop: frames are handed to the router on this goroutine, so
	// delivery order equals arrival order.
	for {
		raw, err := conn.ReadMessage()
		if err != nil {
			log.Debug().Err(err).Msg("channel read loop ended")
			conn.Close()
			ch.transitionClosed()
			return
		}
		if m.onFrame != nil {
			m.onFrame(raw)
		}
	}
}
