package ws

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"palaver/internal/content"
	"palaver/internal/models"
	"palaver/internal/room"

	"github.com/c-pro/geche"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// sendBuffer is the per-connection outbound queue size. Fan-out never
// blocks: a subscriber that falls this far behind starts losing events.
const sendBuffer = 100

// session is the (identity, room) pair a connection announced via join.
type session struct {
	Identity string
	Room     string
}

// outbound holds the per-connection send state. Broadcast fan-out goes
// through the lossy events channel; acks ride their own channel that is
// never dropped, since a sender decides success vs retry on its ack alone.
// done is closed on disconnect to release any blocked ack delivery.
type outbound struct {
	events chan models.ServerEvent
	acks   chan models.ServerEvent
	done   chan struct{}
}

// HistoryStore persists the bounded message window of each room so it
// survives restarts.
type HistoryStore interface {
	SaveMessage(room string, msg models.Message) error
	RecentMessages(room string, n int) ([]models.Message, error)
	Rooms() ([]string, error)
}

// Hub is the single authority for all room state. It owns the session
// registry (connection id -> session), the per-room state objects and the
// subscriber table used for fan-out. Every state-changing operation holds
// the hub mutex, so join/leave/append/typing for any room serialize with
// each other and a joining connection can never miss or double-receive a
// live message relative to its history snapshot.
type Hub struct {
	// Map of room name -> Room state object, created lazily on first join.
	rooms map[string]*room.Room

	// Session registry keyed by connection id.
	sessions geche.Geche[string, session]

	// Map of connection id -> outbound send state.
	conns map[string]*outbound

	// Map of room name -> set of subscribed connection ids.
	subs map[string]map[string]struct{}

	maxRecords int
	store      HistoryStore

	mu sync.RWMutex
}

type Config struct {
	// MaxRecords bounds each room's message log (default 100).
	MaxRecords int
	// Store is an optional history store; nil keeps everything in memory.
	Store HistoryStore
}

func NewHub(config Config) *Hub {
	maxRecords := config.MaxRecords
	if maxRecords <= 0 {
		maxRecords = room.DefaultMaxRecords
	}

	h := &Hub{
		rooms:      make(map[string]*room.Room),
		sessions:   geche.NewMapCache[string, session](),
		conns:      make(map[string]*outbound),
		subs:       make(map[string]map[string]struct{}),
		maxRecords: maxRecords,
		store:      config.Store,
	}

	if h.store != nil {
		h.restore()
	}

	return h
}

// restore seeds room logs from the history store at startup.
func (h *Hub) restore() {
	names, err := h.store.Rooms()
	if err != nil {
		log.Warn().Err(err).Msg("history restore failed")
		return
	}
	for _, name := range names {
		msgs, err := h.store.RecentMessages(name, h.maxRecords)
		if err != nil {
			log.Warn().Err(err).Str("room", name).Msg("history restore failed")
			continue
		}
		r := h.createRoom(name)
		r.Seed(msgs)
		if len(msgs) > 0 {
			log.Info().Str("room", name).Int("messages", len(msgs)).Msg("restored room history")
		}
	}
}

func (h *Hub) createRoom(name string) *room.Room {
	r := room.New(room.Config{
		Name:       name,
		MaxRecords: h.maxRecords,
	})
	h.rooms[name] = r
	return r
}

func (h *Hub) getOrCreateRoom(name string) *room.Room {
	if r, ok := h.rooms[name]; ok {
		return r
	}
	return h.createRoom(name)
}

// Connect registers a new transport connection and returns its two
// outbound channels: events carries broadcasts (and may drop under
// backpressure), acks carries acknowledgements and never drops. The
// connection is not a member of any room until it announces a join.
func (h *Hub) Connect(connID string) (events, acks chan models.ServerEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := &outbound{
		events: make(chan models.ServerEvent, sendBuffer),
		acks:   make(chan models.ServerEvent, sendBuffer),
		done:   make(chan struct{}),
	}
	h.conns[connID] = out
	return out.events, out.acks
}

// Disconnect tears down a connection: it runs the implicit-leave cleanup if
// the connection still holds a session, then removes the outbound state and
// closes the events channel. The acks channel is left open so a straggling
// ack delivery unblocked by done cannot panic; it is simply garbage
// collected. Idempotent; a disconnect after an explicit leave does not
// decrement presence again.
func (h *Hub) Disconnect(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sess, err := h.sessions.Get(connID); err == nil {
		h.leaveLocked(connID, sess)
	}

	if out, ok := h.conns[connID]; ok {
		delete(h.conns, connID)
		close(out.done)
		close(out.events)
	}
}

// Route dispatches a single client event. Malformed events are dropped or
// acknowledged with an error to the origin only; they are never broadcast
// and never affect other connections.
func (h *Hub) Route(connID string, ev models.ClientEvent) {
	switch ev.Type {
	case models.ClientEventJoin:
		h.handleJoin(connID, ev)
	case models.ClientEventMessage:
		h.handleMessage(connID, ev)
	case models.ClientEventTyping:
		h.handleTyping(connID, true)
	case models.ClientEventStopTyping:
		h.handleTyping(connID, false)
	case models.ClientEventLeave:
		h.handleLeave(connID)
	default:
		log.Debug().Str("conn", connID).Str("type", string(ev.Type)).Msg("dropping unknown event")
	}
}

func (h *Hub) handleJoin(connID string, ev models.ClientEvent) {
	identity := strings.TrimSpace(ev.Identity)
	roomName := strings.TrimSpace(ev.Room)
	if identity == "" || roomName == "" {
		log.Debug().Str("conn", connID).Msg("dropping join without identity or room")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	// A connection holds at most one (identity, room) pair: re-joining
	// leaves the previous room first.
	if sess, err := h.sessions.Get(connID); err == nil {
		h.leaveLocked(connID, sess)
	}

	h.sessions.Set(connID, session{Identity: identity, Room: roomName})

	r := h.getOrCreateRoom(roomName)
	members := r.Join(identity)

	if h.subs[roomName] == nil {
		h.subs[roomName] = make(map[string]struct{})
	}
	h.subs[roomName][connID] = struct{}{}

	// History goes to the joiner first, on the same FIFO channel as any
	// following broadcasts, so the snapshot and live messages never
	// overlap or leave a gap.
	h.sendLocked(connID, models.ServerEvent{
		Type:     models.ServerEventHistory,
		Room:     roomName,
		Messages: r.Snapshot(),
	})

	h.broadcastLocked(roomName, models.ServerEvent{
		Type:  models.ServerEventUsers,
		Room:  roomName,
		Users: members,
	})
	h.broadcastLocked(roomName, h.systemEvent(roomName, fmt.Sprintf("%s joined %s", identity, roomName)))

	log.Info().Str("conn", connID).Str("identity", identity).Str("room", roomName).Msg("joined")
}

func (h *Hub) handleMessage(connID string, ev models.ClientEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sess, err := h.sessions.Get(connID)
	if err != nil {
		h.ackLocked(connID, models.Ack{
			CorrelationID: ev.CorrelationID,
			Error:         models.ErrNotJoined.Error(),
		})
		return
	}

	r := h.rooms[sess.Room]

	msg := models.Message{
		Author:    sess.Identity,
		Text:      ev.Text,
		Timestamp: ev.Timestamp,
		HTML:      content.Render(strings.TrimSpace(ev.Text)),
	}

	accepted, err := r.Append(msg)
	if err != nil {
		h.ackLocked(connID, models.Ack{
			CorrelationID: ev.CorrelationID,
			Error:         err.Error(),
		})
		return
	}

	// The ack is point-to-point to the origin and must land regardless of
	// how fan-out goes.
	h.ackLocked(connID, models.Ack{
		CorrelationID: ev.CorrelationID,
		ID:            accepted.ID,
	})

	h.broadcastLocked(sess.Room, models.ServerEvent{
		Type:    models.ServerEventMessage,
		Room:    sess.Room,
		Message: &accepted,
	})

	if h.store != nil {
		if err := h.store.SaveMessage(sess.Room, accepted); err != nil {
			log.Warn().Err(err).Str("room", sess.Room).Msg("history save failed")
		}
	}
}

func (h *Hub) handleTyping(connID string, typing bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sess, err := h.sessions.Get(connID)
	if err != nil {
		return
	}

	r := h.rooms[sess.Room]

	var list []string
	if typing {
		list = r.SetTyping(sess.Identity)
	} else {
		list = r.ClearTyping(sess.Identity)
	}

	// Full replacement to the whole room, origin included; the client UI
	// filters itself out.
	h.broadcastLocked(sess.Room, models.ServerEvent{
		Type:   models.ServerEventTyping,
		Room:   sess.Room,
		Typing: list,
	})
}

func (h *Hub) handleLeave(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sess, err := h.sessions.Get(connID)
	if err != nil {
		// Already left or never joined.
		return
	}
	h.leaveLocked(connID, sess)
}

// leaveLocked unregisters the connection's session, decrements presence and
// broadcasts the updated member list, typing set and a system notice.
// The outbound channel stays open: the connection may join again.
func (h *Hub) leaveLocked(connID string, sess session) {
	_ = h.sessions.Del(connID)

	r, ok := h.rooms[sess.Room]
	if !ok {
		return
	}

	if subs, ok := h.subs[sess.Room]; ok {
		delete(subs, connID)
	}

	_, members := r.Leave(sess.Identity)

	h.broadcastLocked(sess.Room, models.ServerEvent{
		Type:  models.ServerEventUsers,
		Room:  sess.Room,
		Users: members,
	})
	h.broadcastLocked(sess.Room, models.ServerEvent{
		Type:   models.ServerEventTyping,
		Room:   sess.Room,
		Typing: r.Typing(),
	})
	h.broadcastLocked(sess.Room, h.systemEvent(sess.Room, fmt.Sprintf("%s left %s", sess.Identity, sess.Room)))

	log.Info().Str("conn", connID).Str("identity", sess.Identity).Str("room", sess.Room).Msg("left")
}

func (h *Hub) systemEvent(roomName, text string) models.ServerEvent {
	return models.ServerEvent{
		Type: models.ServerEventSystem,
		Room: roomName,
		Message: &models.Message{
			ID:        "sys-" + uuid.NewString(),
			Room:      roomName,
			Text:      text,
			Timestamp: time.Now().UnixMilli(),
			System:    true,
		},
	}
}

// ackLocked delivers an acknowledgement to the origin connection. Acks are
// point-to-point and must not be sacrificed to backpressure the way
// broadcasts are: when the buffer is full, delivery finishes on a goroutine
// that waits until there is room or the connection goes away.
func (h *Hub) ackLocked(connID string, ack models.Ack) {
	out, ok := h.conns[connID]
	if !ok {
		return
	}
	ev := models.ServerEvent{
		Type: models.ServerEventAck,
		Ack:  &ack,
	}
	select {
	case out.acks <- ev:
	default:
		go func() {
			select {
			case out.acks <- ev:
			case <-out.done:
			}
		}()
	}
}

func (h *Hub) sendLocked(connID string, ev models.ServerEvent) {
	out, ok := h.conns[connID]
	if !ok {
		return
	}
	select {
	case out.events <- ev:
	default:
		log.Warn().Str("conn", connID).Str("type", string(ev.Type)).Msg("dropping event for slow connection")
	}
}

func (h *Hub) broadcastLocked(roomName string, ev models.ServerEvent) {
	for connID := range h.subs[roomName] {
		h.sendLocked(connID, ev)
	}
}

// Rooms returns the names of all known rooms, sorted. Rooms are never
// destroyed, so this includes rooms that are currently empty.
func (h *Hub) Rooms() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.rooms))
	for name := range h.rooms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
