package ws

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"palaver/internal/models"
)

// fakeSocket scripts one side of a websocket: the test feeds client frames
// into incoming and observes everything the connection writes on sent.
type fakeSocket struct {
	incoming chan models.ClientEvent
	sent     chan models.ServerEvent
	readErr  error

	once   sync.Once
	closed chan struct{}
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		incoming: make(chan models.ClientEvent, 4),
		sent:     make(chan models.ServerEvent, 4),
		closed:   make(chan struct{}),
	}
}

func (f *fakeSocket) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeSocket) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func (f *fakeSocket) WriteJSON(v interface{}) error {
	ev, ok := v.(models.ServerEvent)
	if !ok {
		return errors.New("unexpected frame type")
	}
	f.sent <- ev
	return nil
}

func (f *fakeSocket) ReadJSON(v interface{}) error {
	if f.readErr != nil {
		return f.readErr
	}
	select {
	case ev := <-f.incoming:
		*v.(*models.ClientEvent) = ev
		return nil
	case <-f.closed:
		return errors.New("socket closed")
	}
}

// hubRecorder satisfies eventHub for a single connection and records what
// the connection asked of it.
type hubRecorder struct {
	events chan models.ServerEvent
	acks   chan models.ServerEvent

	routed chan models.ClientEvent
	gone   chan string
}

func newHubRecorder() *hubRecorder {
	return &hubRecorder{
		events: make(chan models.ServerEvent, 4),
		acks:   make(chan models.ServerEvent, 4),
		routed: make(chan models.ClientEvent, 4),
		gone:   make(chan string, 1),
	}
}

func (r *hubRecorder) Connect(connID string) (chan models.ServerEvent, chan models.ServerEvent) {
	return r.events, r.acks
}

func (r *hubRecorder) Route(connID string, ev models.ClientEvent) {
	r.routed <- ev
}

func (r *hubRecorder) Disconnect(connID string) {
	r.gone <- connID
	close(r.events)
}

func startConnection(t *testing.T, hub *hubRecorder, sock *fakeSocket, id string) (chan error, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- NewConnection(hub, sock, id).Handle(ctx)
	}()
	return done, cancel
}

func waitSent(t *testing.T, sock *fakeSocket) models.ServerEvent {
	t.Helper()
	select {
	case ev := <-sock.sent:
		return ev
	case <-time.After(time.Second):
		t.Fatal("nothing written to the socket")
		return models.ServerEvent{}
	}
}

func TestConnection_PumpsBothDirections(t *testing.T) {
	hub := newHubRecorder()
	sock := newFakeSocket()
	done, cancel := startConnection(t, hub, sock, "c1")

	// Client frame lands at the hub.
	sock.incoming <- models.ClientEvent{
		Type:     models.ClientEventJoin,
		Identity: "alice",
		Room:     "general",
	}
	select {
	case ev := <-hub.routed:
		if ev.Type != models.ClientEventJoin || ev.Identity != "alice" {
			t.Errorf("hub saw wrong event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("client event never reached the hub")
	}

	// A broadcast from the hub goes out on the socket.
	hub.events <- models.ServerEvent{Type: models.ServerEventUsers, Users: []string{"alice"}}
	if ev := waitSent(t, sock); ev.Type != models.ServerEventUsers || len(ev.Users) != 1 {
		t.Errorf("wrong broadcast written: %+v", ev)
	}

	// An ack takes the dedicated channel and still reaches the socket.
	hub.acks <- models.ServerEvent{
		Type: models.ServerEventAck,
		Ack:  &models.Ack{CorrelationID: "corr-1", ID: "m1"},
	}
	ev := waitSent(t, sock)
	if ev.Type != models.ServerEventAck || ev.Ack == nil || ev.Ack.CorrelationID != "corr-1" {
		t.Errorf("wrong ack written: %+v", ev)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Handle returned error on cancel: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Handle did not return after cancel")
	}

	select {
	case id := <-hub.gone:
		if id != "c1" {
			t.Errorf("disconnected wrong connection: %s", id)
		}
	default:
		t.Error("hub never saw the disconnect")
	}
	if !sock.isClosed() {
		t.Error("socket left open")
	}
}

func TestConnection_ReadFailureTearsDown(t *testing.T) {
	hub := newHubRecorder()
	sock := newFakeSocket()
	sock.readErr = errors.New("broken pipe")

	done, cancel := startConnection(t, hub, sock, "c2")
	defer cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Error("expected the read error to surface from Handle")
		}
	case <-time.After(time.Second):
		t.Fatal("Handle did not return on read failure")
	}

	select {
	case <-hub.gone:
	default:
		t.Error("hub never saw the disconnect")
	}
	if !sock.isClosed() {
		t.Error("socket left open")
	}
}
