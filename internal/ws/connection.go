package ws

import (
	"context"
	"errors"
	"sync"

	"palaver/internal/models"
)

type wsConnection interface {
	Close() error
	WriteJSON(v interface{}) error
	ReadJSON(v interface{}) error
}

type eventHub interface {
	Connect(connID string) (events, acks chan models.ServerEvent)
	Route(connID string, ev models.ClientEvent)
	Disconnect(connID string)
}

// Connection pumps events between one websocket and the hub. Reads and hub
// pushes run on separate goroutines; Handle returns when either side fails
// or the context is cancelled, and always runs the hub disconnect cleanup
// exactly once.
type Connection struct {
	ws         wsConnection
	hub        eventHub
	id         string
	fromClient chan models.ClientEvent
	fromServer chan models.ServerEvent
	fromAcks   chan models.ServerEvent
	errorCh    chan error
}

func NewConnection(
	hub eventHub,
	ws wsConnection,
	connID string,
) *Connection {
	events, acks := hub.Connect(connID)
	return &Connection{
		ws:         ws,
		hub:        hub,
		id:         connID,
		fromClient: make(chan models.ClientEvent),
		fromServer: events,
		fromAcks:   acks,
		errorCh:    make(chan error, 2),
	}
}

func (c *Connection) Handle(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		close(c.fromClient)
		close(c.errorCh)
		c.hub.Disconnect(c.id)
	}()

	var wg sync.WaitGroup
	wg.Go(func() {
		c.errorCh <- c.pumpEvents(ctx)
		cancel()
	})

	wg.Go(func() {
		c.errorCh <- c.mainLoop(ctx)
		cancel()
	})

	var err error
	select {
	case err = <-c.errorCh:
	case <-ctx.Done():
	}
	c.ws.Close()
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

func (c *Connection) pumpEvents(ctx context.Context) error {
	for {
		var ev models.ClientEvent
		if err := c.ws.ReadJSON(&ev); err != nil {
			return err
		}
		select {
		case c.fromClient <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Connection) mainLoop(ctx context.Context) error {
	for {
		select {
		case ev := <-c.fromClient:
			c.hub.Route(c.id, ev)
		case ev := <-c.fromServer:
			if err := c.ws.WriteJSON(ev); err != nil {
				return err
			}
		case ev := <-c.fromAcks:
			if err := c.ws.WriteJSON(ev); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}
