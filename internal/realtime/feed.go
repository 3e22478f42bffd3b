// Package realtime subscribes to the server's chat insert feed.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Rrens/classroom-live/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 75 * time.Second
	eventQueue = 64
)

// Client opens feed subscriptions. It holds no connection of its own; each
// Subscribe call owns one socket.
type Client struct {
	dialer *websocket.Dialer
	header http.Header
}

// NewClient creates a feed client. A nil dialer uses websocket.DefaultDialer.
func NewClient(dialer *websocket.Dialer, header http.Header) *Client {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	return &Client{dialer: dialer, header: header}
}

// Subscription is one open feed
type Subscription struct {
	conn      *websocket.Conn
	events    chan domain.MessageEvent
	done      chan struct{}
	closeOnce sync.Once

	mu  sync.Mutex
	err error
}

// Subscribe dials the feed URL and starts delivering insert events
func (c *Client) Subscribe(ctx context.Context, url string) (*Subscription, error) {
	conn, resp, err := c.dialer.DialContext(ctx, url, c.header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: feed handshake failed with status %d", statusError(resp.StatusCode), resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: failed to dial feed: %v", domain.ErrTransport, err)
	}

	s := &Subscription{
		conn:   conn,
		events: make(chan domain.MessageEvent, eventQueue),
		done:   make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

func statusError(status int) error {
	switch status {
	case http.StatusUnauthorized:
		return domain.ErrUnauthorized
	case http.StatusForbidden:
		return domain.ErrPermission
	case http.StatusNotFound:
		return domain.ErrNotFound
	}
	return domain.ErrTransport
}

func (s *Subscription) readLoop() {
	defer close(s.events)

	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPingHandler(func(data string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return s.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					s.setErr(fmt.Errorf("%w: feed read failed: %v", domain.ErrTransport, err))
				}
			}
			return
		}

		var event domain.MessageEvent
		if err := json.Unmarshal(data, &event); err != nil {
			log.Warn().Err(err).Msg("Dropping malformed feed event")
			continue
		}

		select {
		case s.events <- event:
		case <-s.done:
			return
		}
	}
}

func (s *Subscription) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Events returns the insert events. The channel is closed when the feed ends.
func (s *Subscription) Events() <-chan domain.MessageEvent {
	return s.events
}

// Err returns the error that ended the feed, if any
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close ends the subscription. Safe to call repeatedly.
func (s *Subscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		err = s.conn.Close()
	})
	return err
}
