package room

import (
	"strings"
	"sync"
	"time"

	"palaver/internal/models"

	"github.com/google/uuid"
)

type Seq int64

const DefaultMaxRecords = 100

// Room owns all mutable state of a single chat room: the presence table
// (identity -> active connection count, in first-seen order), the typing
// set and the bounded message log. All mutations serialize on its mutex.
type Room struct {
	Name string

	// Message log ring buffer.
	records    []models.Message
	firstSeq   Seq
	lastSeq    Seq
	lastIndex  int
	maxRecords int

	// Presence: connection count per identity plus first-seen order.
	counts map[string]int
	order  []string

	// Typing set in insertion order.
	typing []string

	mux sync.RWMutex
}

type Config struct {
	Name       string
	MaxRecords int
}

func New(config Config) *Room {
	maxRecords := config.MaxRecords
	if maxRecords <= 0 {
		maxRecords = DefaultMaxRecords
	}
	return &Room{
		Name:       config.Name,
		maxRecords: maxRecords,
		lastIndex:  -1,
		firstSeq:   -1,
		lastSeq:    -1,
		counts:     make(map[string]int),
	}
}

// Join increments the identity's connection count (0 -> 1 appends it to the
// member order) and returns the current member list.
func (r *Room) Join(identity string) []string {
	r.mux.Lock()
	defer r.mux.Unlock()

	if r.counts[identity] == 0 {
		r.order = append(r.order, identity)
	}
	r.counts[identity]++

	return r.membersLocked()
}

// Leave decrements the identity's connection count. When the count reaches
// zero the identity is removed from the member list and its typing flag is
// cleared. Calling Leave for an absent identity is a no-op.
// gone reports whether the identity fully left the room.
func (r *Room) Leave(identity string) (gone bool, members []string) {
	r.mux.Lock()
	defer r.mux.Unlock()

	n, ok := r.counts[identity]
	if !ok {
		return false, r.membersLocked()
	}

	n--
	if n > 0 {
		r.counts[identity] = n
		return false, r.membersLocked()
	}

	delete(r.counts, identity)
	r.order = removeString(r.order, identity)
	r.typing = removeString(r.typing, identity)

	return true, r.membersLocked()
}

// Members returns the unique identities currently present,
// in first-seen join order.
func (r *Room) Members() []string {
	r.mux.RLock()
	defer r.mux.RUnlock()
	return r.membersLocked()
}

func (r *Room) membersLocked() []string {
	members := make([]string, len(r.order))
	copy(members, r.order)
	return members
}

// SetTyping flags the identity as typing (idempotent) and returns the
// current typing list.
func (r *Room) SetTyping(identity string) []string {
	r.mux.Lock()
	defer r.mux.Unlock()

	if !containsString(r.typing, identity) {
		r.typing = append(r.typing, identity)
	}
	return r.typingLocked()
}

// ClearTyping removes the identity's typing flag. Safe to call for
// identities that never signalled typing or already left the room.
func (r *Room) ClearTyping(identity string) []string {
	r.mux.Lock()
	defer r.mux.Unlock()

	r.typing = removeString(r.typing, identity)
	return r.typingLocked()
}

// Typing returns the identities currently flagged as typing.
func (r *Room) Typing() []string {
	r.mux.RLock()
	defer r.mux.RUnlock()
	return r.typingLocked()
}

func (r *Room) typingLocked() []string {
	typing := make([]string, len(r.typing))
	copy(typing, r.typing)
	return typing
}

// Append validates and appends a message to the room log:
// - assigns id, seq and timestamp (a caller-supplied timestamp wins)
// - adds it to the ring buffer, evicting the oldest record when full
// Text must be non-empty after trimming.
func (r *Room) Append(msg models.Message) (models.Message, error) {
	msg.Text = strings.TrimSpace(msg.Text)
	if msg.Text == "" {
		return models.Message{}, models.ErrEmptyText
	}

	r.mux.Lock()
	defer r.mux.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}
	msg.Room = r.Name

	r.lastSeq++
	msg.Seq = int64(r.lastSeq)
	r.insertLocked(msg)

	return msg, nil
}

func (r *Room) insertLocked(msg models.Message) {
	switch {
	case len(r.records) < r.maxRecords:
		if r.firstSeq == -1 {
			r.firstSeq = r.lastSeq
		}
		r.records = append(r.records, msg)
		r.lastIndex++
	default:
		r.firstSeq++
		i := (r.lastIndex + 1) % r.maxRecords
		r.records[i] = msg
		r.lastIndex = i
	}
}

// Seed preloads the log with previously persisted messages. It is meant to
// run at startup before the room receives traffic; messages must already be
// in chronological order. Durable seqs are kept and the seq counter resumes
// past the highest of them, so a later Append can never reuse a seq that is
// still present in the persisted window.
func (r *Room) Seed(msgs []models.Message) {
	r.mux.Lock()
	defer r.mux.Unlock()

	for _, msg := range msgs {
		msg.Text = strings.TrimSpace(msg.Text)
		if msg.Text == "" {
			continue
		}
		if msg.ID == "" {
			msg.ID = uuid.NewString()
		}
		msg.Room = r.Name

		seq := Seq(msg.Seq)
		if seq <= r.lastSeq {
			seq = r.lastSeq + 1
		}
		r.lastSeq = seq
		msg.Seq = int64(seq)
		r.insertLocked(msg)
	}
}

// Snapshot returns the full log contents oldest first. The ring buffer
// never reorders records, so the result is in ascending timestamp order.
func (r *Room) Snapshot() []models.Message {
	r.mux.RLock()
	defer r.mux.RUnlock()

	if r.lastSeq == -1 {
		return []models.Message{}
	}

	count := int(r.lastSeq - r.firstSeq + 1)
	result := make([]models.Message, count)

	head := 0
	if len(r.records) == r.maxRecords {
		head = (r.lastIndex + 1) % r.maxRecords
	}

	if head+count <= len(r.records) {
		copy(result, r.records[head:head+count])
	} else {
		n1 := len(r.records) - head
		copy(result, r.records[head:])
		copy(result[n1:], r.records[:count-n1])
	}

	return result
}

// Len returns the number of messages currently held in the log.
func (r *Room) Len() int {
	r.mux.RLock()
	defer r.mux.RUnlock()
	return len(r.records)
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func removeString(list []string, s string) []string {
	for i, v := range list {
		if v == s {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
