package client

import (
	"fmt"
	"sort"
	"sync"

	"palaver/internal/models"

	"github.com/google/uuid"
)

// Store is the client-side reconciliation store: an ordered message list
// with two dedup indexes, one by id and one by structural signature
// (author, text, timestamp). The signature index is what collapses an
// optimistic entry with its later server echo. Display order is insertion
// order; only history merges re-sort.
type Store struct {
	mu       sync.Mutex
	messages []models.Message
	byID     map[string]int    // id -> position in messages
	bySig    map[string]string // signature -> id
	users    []string
	typing   []string
}

func NewStore() *Store {
	return &Store{
		byID:  make(map[string]int),
		bySig: make(map[string]string),
	}
}

func signature(msg models.Message) string {
	return fmt.Sprintf("%s\x00%s\x00%d", msg.Author, msg.Text, msg.Timestamp)
}

// ApplyOptimistic inserts a locally-authored message before server
// confirmation. A temporary id is assigned when the message has none.
// Returns the stored id.
func (s *Store) ApplyOptimistic(msg models.Message) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.ID == "" {
		msg.ID = "local-" + uuid.NewString()
	}
	s.insertLocked(msg)
	return msg.ID
}

// ApplyIncoming merges one server-pushed message. Applying the same message
// twice is a no-op; a message whose signature matches an existing entry
// (the echo of an optimistic send) upgrades that entry's id in place
// instead of inserting a duplicate.
func (s *Store) ApplyIncoming(msg models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.insertLocked(msg)
}

func (s *Store) insertLocked(msg models.Message) {
	if _, ok := s.byID[msg.ID]; ok {
		return
	}

	sig := signature(msg)
	if prevID, ok := s.bySig[sig]; ok {
		// Same logical event already stored under another id: keep its
		// position, adopt the new (server) id and payload.
		pos := s.byID[prevID]
		delete(s.byID, prevID)
		s.messages[pos] = msg
		s.byID[msg.ID] = pos
		s.bySig[sig] = msg.ID
		return
	}

	s.messages = append(s.messages, msg)
	s.byID[msg.ID] = len(s.messages) - 1
	s.bySig[sig] = msg.ID
}

// ApplyHistory merges a history snapshot and re-sorts the whole list
// ascending by timestamp (seq breaks ties). This is the only operation
// that reorders established entries.
func (s *Store) ApplyHistory(msgs []models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, msg := range msgs {
		s.insertLocked(msg)
	}

	sort.SliceStable(s.messages, func(i, j int) bool {
		if s.messages[i].Timestamp != s.messages[j].Timestamp {
			return s.messages[i].Timestamp < s.messages[j].Timestamp
		}
		return s.messages[i].Seq < s.messages[j].Seq
	})

	for i, msg := range s.messages {
		s.byID[msg.ID] = i
	}
}

// Messages returns a copy of the stored messages in display order.
func (s *Store) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := make([]models.Message, len(s.messages))
	copy(msgs, s.messages)
	return msgs
}

// SetUsers replaces the room member list.
func (s *Store) SetUsers(users []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = append([]string(nil), users...)
}

func (s *Store) Users() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.users...)
}

// SetTyping replaces the typing list.
func (s *Store) SetTyping(typing []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.typing = append([]string(nil), typing...)
}

func (s *Store) Typing() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.typing...)
}

// Reset drops all stored state. Used on leave.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = nil
	s.byID = make(map[string]int)
	s.bySig = make(map[string]string)
	s.users = nil
	s.typing = nil
}
