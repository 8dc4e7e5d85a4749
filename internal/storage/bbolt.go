package storage

import (
	"fmt"
	"time"

	"palaver/internal/models"

	"go.etcd.io/bbolt"
)

var bucketHistory = []byte("history")

// BboltStorage persists each room's bounded message window in a nested
// bucket keyed by big-endian seq. Writes prune the oldest records past the
// cap, so the database never holds more than the in-memory window.
type BboltStorage struct {
	db  *bbolt.DB
	cap int
}

func NewBboltStorage(path string, cap int) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketHistory)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStorage{db: db, cap: cap}, nil
}

func (s *BboltStorage) Close() error {
	return s.db.Close()
}

// SaveMessage appends a message to the room's history bucket and evicts the
// oldest entries beyond the cap.
func (s *BboltStorage) SaveMessage(room string, msg models.Message) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.Bucket(bucketHistory).CreateBucketIfNotExists([]byte(room))
		if err != nil {
			return err
		}

		dbMsg := toDBMessage(msg)
		data, err := dbMsg.MarshalBinary()
		if err != nil {
			return err
		}
		if err := b.Put(dbMsg.Key(), data); err != nil {
			return err
		}

		if s.cap <= 0 {
			return nil
		}
		c := b.Cursor()
		count := 0
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			count++
		}
		// Trim oldest-first down to the cap.
		for k, _ := c.First(); k != nil && count > s.cap; k, _ = c.First() {
			if err := b.Delete(k); err != nil {
				return err
			}
			count--
		}
		return nil
	})
}

// RecentMessages returns up to n most recent messages of a room in
// chronological order.
func (s *BboltStorage) RecentMessages(room string, n int) ([]models.Message, error) {
	var msgs []models.Message
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketHistory).Bucket([]byte(room))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Last(); k != nil && len(msgs) < n; k, v = c.Prev() {
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(v); err != nil {
				return err
			}
			msgs = append(msgs, dbMsg.toModel())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Cursor walked newest first, reverse into chronological order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// Rooms lists all room names that have persisted history.
func (s *BboltStorage) Rooms() ([]string, error) {
	var names []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketHistory).ForEachBucket(func(k []byte) error {
			names = append(names, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}
