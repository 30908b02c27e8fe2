package mediatest

import (
	"context"
	"sync"

	"github.com/cloudgroundcontrol/meeting-recorder/pkg/media"
	"go.uber.org/atomic"
)

// Connection is a room whose events are pushed by the test.
type Connection struct {
	lock   sync.Mutex
	events chan media.Event
	closed bool

	disconnected atomic.Bool
}

func NewConnection() *Connection {
	return &Connection{events: make(chan media.Event, 256)}
}

func (c *Connection) Events() <-chan media.Event {
	return c.events
}

// Send delivers an event unless the connection is already torn down.
func (c *Connection) Send(ev media.Event) bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.closed {
		return false
	}
	c.events <- ev
	return true
}

// Drop closes the event channel as if the server went away.
func (c *Connection) Drop() {
	c.lock.Lock()
	defer c.lock.Unlock()
	if !c.closed {
		c.closed = true
		close(c.events)
	}
}

func (c *Connection) Disconnect() {
	c.disconnected.Store(true)
	c.Drop()
}

func (c *Connection) Disconnected() bool {
	return c.disconnected.Load()
}

// Connector returns Conn for every room, or Err if set. Joined rooms are
// recorded in order.
type Connector struct {
	Conn *Connection
	Err  error
	// Gate, when set, blocks Connect until it is closed.
	Gate chan struct{}

	lock  sync.Mutex
	rooms []string
}

func (c *Connector) Connect(ctx context.Context, room string, token string) (media.Connection, error) {
	if c.Gate != nil {
		select {
		case <-c.Gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	c.lock.Lock()
	c.rooms = append(c.rooms, room)
	c.lock.Unlock()
	if c.Err != nil {
		return nil, c.Err
	}
	return c.Conn, nil
}

func (c *Connector) Rooms() []string {
	c.lock.Lock()
	defer c.lock.Unlock()
	return append([]string(nil), c.rooms...)
}
