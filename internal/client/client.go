package client

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"palaver/internal/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type Status int

const (
	StatusOffline Status = iota
	StatusConnecting
	StatusOnline
	StatusReconnecting
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "Connecting"
	case StatusOnline:
		return "Online"
	case StatusReconnecting:
		return "Reconnecting"
	default:
		return "Offline"
	}
}

const (
	DefaultAckTimeout   = 5 * time.Second
	DefaultReconnectMin = 1 * time.Second
	DefaultReconnectMax = 5 * time.Second
	DefaultLeaveGrace   = 120 * time.Millisecond
)

type Config struct {
	// URL is the websocket endpoint, e.g. "ws://localhost:8080/ws".
	URL      string
	Identity string
	Room     string

	AckTimeout   time.Duration
	ReconnectMin time.Duration
	ReconnectMax time.Duration
	// LeaveGrace is how long Leave waits after writing the leave event
	// before closing the socket, so the server sees it as an explicit
	// leave rather than an abrupt disconnect.
	LeaveGrace time.Duration

	// OnStatus, when set, is invoked on every status transition.
	OnStatus func(Status)
}

func (c *Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("URL is required")
	}
	if strings.TrimSpace(c.Identity) == "" {
		return models.ErrIdentityRequired
	}
	if strings.TrimSpace(c.Room) == "" {
		return models.ErrRoomRequired
	}

	if c.AckTimeout == 0 {
		c.AckTimeout = DefaultAckTimeout
	}
	if c.ReconnectMin == 0 {
		c.ReconnectMin = DefaultReconnectMin
	}
	if c.ReconnectMax == 0 {
		c.ReconnectMax = DefaultReconnectMax
	}
	if c.LeaveGrace == 0 {
		c.LeaveGrace = DefaultLeaveGrace
	}

	return nil
}

type ackResult struct {
	ack models.Ack
	err error
}

// Client is the transport session controller. It owns the connect /
// disconnect / reconnect lifecycle, re-announces the join on every
// transition to Online and correlates message acknowledgements with
// pending sends. Incoming events feed the reconciliation Store.
type Client struct {
	cfg   Config
	store *Store

	dialer *websocket.Dialer

	mu      sync.Mutex
	conn    *websocket.Conn
	status  Status
	pending map[string]chan ackResult
	closed  bool

	// writeMu serializes writes to the websocket.
	writeMu sync.Mutex
}

func New(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Client{
		cfg:     cfg,
		store:   NewStore(),
		dialer:  websocket.DefaultDialer,
		status:  StatusOffline,
		pending: make(map[string]chan ackResult),
	}, nil
}

// Store exposes the client's reconciliation store.
func (c *Client) Store() *Store {
	return c.store
}

func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Client) setStatus(status Status) {
	c.mu.Lock()
	if c.status == status {
		c.mu.Unlock()
		return
	}
	c.status = status
	c.mu.Unlock()

	if c.cfg.OnStatus != nil {
		c.cfg.OnStatus(status)
	}
}

// Connect dials the server and announces the join. On failure the client
// stays Offline and the error is returned; there is no automatic retry of
// the initial connect. After a successful connect, lost connections are
// re-established in the background with capped backoff.
func (c *Client) Connect(ctx context.Context) error {
	c.setStatus(StatusConnecting)

	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		c.setStatus(StatusOffline)
		return fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}

	c.attach(conn)
	return nil
}

// attach installs a freshly dialed connection, announces the join and
// starts the read loop.
func (c *Client) attach(conn *websocket.Conn) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.mu.Unlock()

	c.setStatus(StatusOnline)

	// Join is an explicit re-handshake on every transition to Online;
	// the server does not remember us across connections.
	if err := c.writeJSON(models.ClientEvent{
		Type:     models.ClientEventJoin,
		Identity: c.cfg.Identity,
		Room:     c.cfg.Room,
	}); err != nil {
		log.Warn().Err(err).Msg("join announce failed")
	}

	go c.readLoop(conn)
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		var ev models.ServerEvent
		if err := conn.ReadJSON(&ev); err != nil {
			c.handleDisconnect(err)
			return
		}
		c.handleEvent(ev)
	}
}

func (c *Client) handleEvent(ev models.ServerEvent) {
	switch ev.Type {
	case models.ServerEventUsers:
		c.store.SetUsers(ev.Users)
	case models.ServerEventTyping:
		c.store.SetTyping(ev.Typing)
	case models.ServerEventMessage, models.ServerEventSystem:
		if ev.Message != nil {
			c.store.ApplyIncoming(*ev.Message)
		}
	case models.ServerEventHistory:
		c.store.ApplyHistory(ev.Messages)
	case models.ServerEventAck:
		if ev.Ack != nil {
			c.resolveAck(*ev.Ack)
		}
	}
}

func (c *Client) resolveAck(ack models.Ack) {
	c.mu.Lock()
	ch, ok := c.pending[ack.CorrelationID]
	if ok {
		delete(c.pending, ack.CorrelationID)
	}
	c.mu.Unlock()

	if !ok {
		// Late ack for a timed-out or disconnected send; discard.
		return
	}
	ch <- ackResult{ack: ack}
}

// failPendingLocked resolves every in-flight ack wait with a connection
// error. Late acks arriving after this point find no pending entry and are
// dropped.
func (c *Client) failPendingLocked() {
	for corr, ch := range c.pending {
		delete(c.pending, corr)
		ch <- ackResult{err: models.ErrNotConnected}
	}
}

func (c *Client) handleDisconnect(cause error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.failPendingLocked()
	c.mu.Unlock()

	log.Info().Err(cause).Msg("connection lost, reconnecting")
	c.setStatus(StatusReconnecting)

	go c.reconnectLoop()
}

func (c *Client) reconnectLoop() {
	backoff := c.cfg.ReconnectMin
	for {
		time.Sleep(backoff)

		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return
		}

		conn, _, err := c.dialer.Dial(c.cfg.URL, nil)
		if err == nil {
			c.attach(conn)
			return
		}

		log.Debug().Err(err).Dur("backoff", backoff).Msg("reconnect attempt failed")
		backoff *= 2
		if backoff > c.cfg.ReconnectMax {
			backoff = c.cfg.ReconnectMax
		}
	}
}

func (c *Client) writeJSON(ev models.ClientEvent) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return models.ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(ev)
}

// Send submits a message. While not Online it fails locally with
// ErrNotConnected (messages are never queued). Otherwise it inserts an
// optimistic entry into the store, writes the event with a correlation id
// and waits for the server acknowledgement up to the ack timeout. A
// timeout surfaces ErrAckTimeout; retrying is the caller's decision.
func (c *Client) Send(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.ErrEmptyText
	}

	c.mu.Lock()
	if c.status != StatusOnline {
		c.mu.Unlock()
		return models.ErrNotConnected
	}
	corr := uuid.NewString()
	ackCh := make(chan ackResult, 1)
	c.pending[corr] = ackCh
	c.mu.Unlock()

	ts := time.Now().UnixMilli()
	c.store.ApplyOptimistic(models.Message{
		ID:        "local-" + corr,
		Room:      c.cfg.Room,
		Author:    c.cfg.Identity,
		Text:      text,
		Timestamp: ts,
	})

	err := c.writeJSON(models.ClientEvent{
		Type:          models.ClientEventMessage,
		Identity:      c.cfg.Identity,
		Room:          c.cfg.Room,
		Text:          text,
		Timestamp:     ts,
		CorrelationID: corr,
	})
	if err != nil {
		c.removePending(corr)
		return models.ErrNotConnected
	}

	select {
	case res := <-ackCh:
		if res.err != nil {
			return res.err
		}
		if res.ack.Error != "" {
			return fmt.Errorf("send rejected: %s", res.ack.Error)
		}
		return nil
	case <-time.After(c.cfg.AckTimeout):
		c.removePending(corr)
		return models.ErrAckTimeout
	}
}

func (c *Client) removePending(corr string) {
	c.mu.Lock()
	delete(c.pending, corr)
	c.mu.Unlock()
}

// Typing signals that the user is composing. Best effort; a failed or
// offline write is ignored (the server clears typing on disconnect).
func (c *Client) Typing() {
	_ = c.writeJSON(models.ClientEvent{
		Type:     models.ClientEventTyping,
		Identity: c.cfg.Identity,
		Room:     c.cfg.Room,
	})
}

func (c *Client) StopTyping() {
	_ = c.writeJSON(models.ClientEvent{
		Type:     models.ClientEventStopTyping,
		Identity: c.cfg.Identity,
		Room:     c.cfg.Room,
	})
}

// Leave announces an explicit leave, gives the write a short grace period
// to reach the server and closes the connection. The client ends Offline.
func (c *Client) Leave() {
	err := c.writeJSON(models.ClientEvent{
		Type:     models.ClientEventLeave,
		Identity: c.cfg.Identity,
		Room:     c.cfg.Room,
	})
	if err == nil {
		time.Sleep(c.cfg.LeaveGrace)
	}
	c.Close()
}

// Close tears the connection down and stops any reconnect loop. Safe to
// call more than once.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.failPendingLocked()
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	c.setStatus(StatusOffline)
}
