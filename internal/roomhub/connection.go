package roomhub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/Rrens/classroom-live/internal/domain"
	"github.com/gorilla/websocket"
)

const (
	writeWait    = 5 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = 30 * time.Second
	writeBuffer  = 100
	maxFrameSize = 64 << 10
)

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendBufferFull   = errors.New("send buffer full")
)

// Connection wraps one participant socket. All writes go through a single
// writer goroutine.
type Connection struct {
	conn      *websocket.Conn
	writeCh   chan outbound
	room      string
	admin     bool
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	mu          sync.RWMutex
	participant domain.Participant
}

type outbound struct {
	data  []byte
	final bool
}

func newConnection(conn *websocket.Conn, room string, admin bool, participant domain.Participant) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:        conn,
		writeCh:     make(chan outbound, writeBuffer),
		room:        room,
		admin:       admin,
		ctx:         ctx,
		cancel:      cancel,
		participant: participant,
	}
	go c.writeLoop()
	return c
}

func (c *Connection) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg.data); err != nil {
				c.Close()
				return
			}
			if msg.final {
				c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
				c.Close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.Close()
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// Send queues a frame. It never blocks: a full buffer returns
// ErrSendBufferFull.
func (c *Connection) Send(frame Frame) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	select {
	case c.writeCh <- outbound{data: data}:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
		return ErrSendBufferFull
	}
}

// CloseWith queues a final frame and closes the socket once it is written
func (c *Connection) CloseWith(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		c.Close()
		return
	}

	select {
	case c.writeCh <- outbound{data: data, final: true}:
	case <-c.ctx.Done():
	case <-time.After(writeWait):
		c.Close()
	}
}

// Close stops the writer and closes the socket. Safe to call repeatedly.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.conn.Close()
	})
	return err
}

// Identity returns the participant identity
func (c *Connection) Identity() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.participant.Identity
}

// Participant returns a snapshot of the participant state
func (c *Connection) Participant() domain.Participant {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.participant
}

func (c *Connection) updateState(frame Frame) domain.Participant {
	c.mu.Lock()
	defer c.mu.Unlock()
	if frame.Microphone != nil {
		c.participant.MicrophoneEnabled = *frame.Microphone
	}
	if frame.Camera != nil {
		c.participant.CameraEnabled = *frame.Camera
	}
	if frame.Speaking != nil {
		c.participant.Speaking = *frame.Speaking
	}
	return c.participant
}
