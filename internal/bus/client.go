package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	log "log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
)

var (
	ErrClosed = errors.New("bus closed")
	// ErrRejected wraps an error reported in an ack.
	ErrRejected = errors.New("rejected")
)

type Config struct {
	Shard        string
	URL          string
	Reconnect    time.Duration
	WriteTimeout time.Duration
	InboxSize    int
}

// Client is one shard's connection to the hub. Run must be running for
// Request replies and Inbox deliveries to arrive.
type Client struct {
	cfg Config

	connMu  sync.Mutex
	conn    *ws.Conn
	writeMu sync.Mutex

	waiterMu sync.Mutex
	waiters  map[string]chan Message

	inbox     chan Message
	done      chan struct{}
	closeOnce sync.Once
}

func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Shard == "" {
		return nil, errors.New("bus: shard name is required")
	}
	if cfg.Reconnect <= 0 {
		cfg.Reconnect = 2 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 16
	}

	c := &Client{
		cfg:     cfg,
		waiters: map[string]chan Message{},
		inbox:   make(chan Message, cfg.InboxSize),
		done:    make(chan struct{}),
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	log.Info("Connected to bus", "url", cfg.URL, "shard", cfg.Shard)
	return c, nil
}

func (c *Client) dial(ctx context.Context) (*ws.Conn, error) {
	conn, _, err := ws.DefaultDialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}
	return conn, nil
}

// Inbox delivers messages addressed to this shard that are not replies to a
// pending Request. It is closed when Run returns.
func (c *Client) Inbox() <-chan Message {
	return c.inbox
}

// Run reads frames until ctx is done or the client is closed, reconnecting
// after the hub drops the connection.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.inbox)

	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	for {
		_, data, err := c.current().ReadMessage()
		if err != nil {
			if c.closed() {
				return nil
			}
			if !isClosed(err) {
				log.Error("Failed to read bus", "err", err)
			}
			log.Warn("Reconnecting to bus", "url", c.cfg.URL)
			if err := c.reconnect(ctx); err != nil {
				return nil
			}
			log.Info("Reconnected to bus")
			continue
		}

		m, err := Decode(data)
		if err != nil {
			log.Warn("Dropping bus frame", "err", err)
			continue
		}
		if !m.For(c.cfg.Shard) {
			continue
		}
		log.Debug("Bus message", "from", m.From, "kind", m.Kind, "id", m.ID)

		if m.Kind == KindAck && c.deliver(m) {
			continue
		}

		select {
		case c.inbox <- m:
		case <-c.done:
			return nil
		}
	}
}

func (c *Client) reconnect(ctx context.Context) error {
	for {
		select {
		case <-time.After(c.cfg.Reconnect):
		case <-c.done:
			return ErrClosed
		}

		conn, err := c.dial(ctx)
		if err != nil {
			log.Debug("Bus reconnect failed", "err", err)
			continue
		}

		c.connMu.Lock()
		old := c.conn
		c.conn = conn
		c.connMu.Unlock()
		old.Close()

		if c.closed() {
			conn.Close()
			return ErrClosed
		}
		return nil
	}
}

// Send stamps m with this shard's name and writes it.
func (c *Client) Send(ctx context.Context, m Message) error {
	if c.closed() {
		return ErrClosed
	}
	m.From = c.cfg.Shard

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode bus message: %w", err)
	}

	deadline := time.Now().Add(c.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn := c.current()
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(ws.TextMessage, data); err != nil {
		return fmt.Errorf("write bus: %w", err)
	}
	return nil
}

// Request sends m under a fresh ID and waits for the matching ack. An ack
// carrying an error is returned as an error.
func (c *Client) Request(ctx context.Context, m Message) (Message, error) {
	m.ID = uuid.NewString()
	w := c.installWaiter(m.ID)
	defer c.clearWaiter(m.ID)

	if err := c.Send(ctx, m); err != nil {
		return Message{}, err
	}

	select {
	case resp := <-w:
		if resp.Error != "" {
			return resp, fmt.Errorf("%w by %s: %s", ErrRejected, resp.From, resp.Error)
		}
		return resp, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case <-c.done:
		return Message{}, ErrClosed
	}
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		conn := c.current()
		c.writeMu.Lock()
		_ = conn.WriteControl(ws.CloseMessage,
			ws.FormatCloseMessage(ws.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = conn.Close()
	})
	return err
}

func (c *Client) current() *ws.Conn {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn
}

func (c *Client) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Client) installWaiter(id string) chan Message {
	c.waiterMu.Lock()
	defer c.waiterMu.Unlock()
	w := make(chan Message, 1)
	c.waiters[id] = w
	return w
}

func (c *Client) clearWaiter(id string) {
	c.waiterMu.Lock()
	defer c.waiterMu.Unlock()
	delete(c.waiters, id)
}

func (c *Client) deliver(m Message) bool {
	c.waiterMu.Lock()
	defer c.waiterMu.Unlock()
	w, ok := c.waiters[m.ID]
	if !ok {
		return false
	}
	w <- m
	delete(c.waiters, m.ID)
	return true
}

func isClosed(err error) bool {
	return ws.IsCloseError(err,
		ws.CloseNormalClosure,
		ws.CloseGoingAway,
		ws.CloseAbnormalClosure)
}
