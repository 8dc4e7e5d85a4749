package storage

import (
	"fmt"
	"path/filepath"
	"testing"

	"palaver/internal/models"

	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T, cap int) *BboltStorage {
	t.Helper()

	path := filepath.Join(t.TempDir(), "palaver_test.db")
	s, err := NewBboltStorage(path, cap)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func TestBboltStorage_RoundTrip(t *testing.T) {
	s := newTestStorage(t, 100)

	msg := models.Message{
		ID:        "m1",
		Seq:       1,
		Room:      "general",
		Author:    "alice",
		Text:      "hi",
		HTML:      "<p>hi</p>",
		Timestamp: 100,
	}
	require.NoError(t, s.SaveMessage("general", msg))

	msgs, err := s.RecentMessages("general", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, msg, msgs[0])
}

func TestBboltStorage_RecentOrderAndLimit(t *testing.T) {
	s := newTestStorage(t, 100)

	for i := 1; i <= 5; i++ {
		require.NoError(t, s.SaveMessage("general", models.Message{
			ID:        fmt.Sprintf("m%d", i),
			Seq:       int64(i),
			Room:      "general",
			Author:    "alice",
			Text:      fmt.Sprintf("msg %d", i),
			Timestamp: int64(i * 100),
		}))
	}

	// Limit returns the most recent n in chronological order.
	msgs, err := s.RecentMessages("general", 3)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	require.Equal(t, "msg 3", msgs[0].Text)
	require.Equal(t, "msg 5", msgs[2].Text)
}

func TestBboltStorage_CapPrunesOldest(t *testing.T) {
	s := newTestStorage(t, 3)

	for i := 1; i <= 5; i++ {
		require.NoError(t, s.SaveMessage("general", models.Message{
			ID:   fmt.Sprintf("m%d", i),
			Seq:  int64(i),
			Text: fmt.Sprintf("msg %d", i),
		}))
	}

	msgs, err := s.RecentMessages("general", 100)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	require.Equal(t, "msg 3", msgs[0].Text)
	require.Equal(t, "msg 5", msgs[2].Text)
}

func TestBboltStorage_Rooms(t *testing.T) {
	s := newTestStorage(t, 100)

	rooms, err := s.Rooms()
	require.NoError(t, err)
	require.Empty(t, rooms)

	require.NoError(t, s.SaveMessage("general", models.Message{ID: "m1", Seq: 1, Text: "a"}))
	require.NoError(t, s.SaveMessage("random", models.Message{ID: "m2", Seq: 1, Text: "b"}))

	rooms, err = s.Rooms()
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"general", "random"}, rooms)
}

func TestBboltStorage_UnknownRoom(t *testing.T) {
	s := newTestStorage(t, 100)

	msgs, err := s.RecentMessages("nope", 10)
	require.NoError(t, err)
	require.Empty(t, msgs)
}
