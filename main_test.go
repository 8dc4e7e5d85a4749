package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"palaver/internal/client"

	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T, addr string, env map[string]string) {
	t.Helper()

	_ = os.Setenv("PALAVER_ADDR", addr)
	_ = os.Setenv("PALAVER_LOG_LEVEL", "error")
	for k, v := range env {
		_ = os.Setenv(k, v)
	}
	t.Cleanup(func() {
		_ = os.Unsetenv("PALAVER_ADDR")
		_ = os.Unsetenv("PALAVER_LOG_LEVEL")
		for k := range env {
			_ = os.Unsetenv(k)
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Error("server did not shut down")
		}
	})

	waitForServer(t, "http://"+addr+"/healthz")
}

func waitForServer(t *testing.T, url string) {
	t.Helper()
	for i := 0; i < 100; i++ {
		resp, err := http.Get(url)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("server at %s never became ready", url)
}

func waitCond(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestIntegration(t *testing.T) {
	addr := "127.0.0.1:8807"
	startServer(t, addr, nil)
	wsURL := "ws://" + addr + "/ws"

	// alice joins an empty room.
	alice, err := client.New(client.Config{URL: wsURL, Identity: "alice", Room: "general"})
	require.NoError(t, err)
	require.NoError(t, alice.Connect(context.Background()))

	waitCond(t, time.Second, func() bool {
		users := alice.Store().Users()
		return len(users) == 1 && users[0] == "alice"
	}, "alice never saw the member list")

	waitCond(t, time.Second, func() bool {
		for _, m := range alice.Store().Messages() {
			if m.System && m.Text == "alice joined general" {
				return true
			}
		}
		return false
	}, "alice never saw her join notice")

	// alice sends a message and it reconciles against the echo.
	require.NoError(t, alice.Send("hi"))
	waitCond(t, time.Second, func() bool {
		for _, m := range alice.Store().Messages() {
			if m.Text == "hi" && m.ID != "" && m.Author == "alice" {
				return true
			}
		}
		return false
	}, "alice never saw her own message")

	hiCount := 0
	for _, m := range alice.Store().Messages() {
		if m.Text == "hi" {
			hiCount++
		}
	}
	require.Equal(t, 1, hiCount, "optimistic entry and echo did not collapse")

	// bob joins later and receives the history snapshot.
	bob, err := client.New(client.Config{URL: wsURL, Identity: "bob", Room: "general"})
	require.NoError(t, err)
	require.NoError(t, bob.Connect(context.Background()))
	defer bob.Close()

	waitCond(t, time.Second, func() bool {
		for _, m := range bob.Store().Messages() {
			if m.Text == "hi" && m.Author == "alice" {
				return true
			}
		}
		return false
	}, "bob never received history")

	waitCond(t, time.Second, func() bool {
		users := bob.Store().Users()
		return len(users) == 2 && users[0] == "alice" && users[1] == "bob"
	}, "bob never saw the full member list")

	// Typing indicator propagates to bob.
	alice.Typing()
	waitCond(t, time.Second, func() bool {
		typing := bob.Store().Typing()
		return len(typing) == 1 && typing[0] == "alice"
	}, "bob never saw alice typing")

	// The room shows up in the read-only listing.
	resp, err := http.Get("http://" + addr + "/rooms")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	var roomsResp struct {
		Rooms []string `json:"rooms"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&roomsResp))
	require.Equal(t, []string{"general"}, roomsResp.Rooms)

	// alice's transport drops abruptly: no leave event, cleanup must
	// still run, including her typing flag.
	alice.Close()

	waitCond(t, 2*time.Second, func() bool {
		users := bob.Store().Users()
		return len(users) == 1 && users[0] == "bob"
	}, "alice was never evicted after abrupt disconnect")

	waitCond(t, time.Second, func() bool {
		return len(bob.Store().Typing()) == 0
	}, "alice's typing flag survived her disconnect")
}

func TestIntegration_HistoryPersistence(t *testing.T) {
	addr := "127.0.0.1:8808"
	dbFile := filepath.Join(t.TempDir(), "palaver.db")
	wsURL := "ws://" + addr + "/ws"

	// First server lifetime: write two messages.
	func() {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)

		_ = os.Setenv("PALAVER_ADDR", addr)
		_ = os.Setenv("PALAVER_HISTORY_DB", dbFile)
		_ = os.Setenv("PALAVER_LOG_LEVEL", "error")
		go func() { done <- run(ctx) }()
		waitForServer(t, "http://"+addr+"/healthz")

		alice, err := client.New(client.Config{URL: wsURL, Identity: "alice", Room: "general"})
		require.NoError(t, err)
		require.NoError(t, alice.Connect(context.Background()))
		require.NoError(t, alice.Send("first"))
		require.NoError(t, alice.Send("second"))
		alice.Close()

		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Fatal("server did not shut down")
		}
	}()

	// Second lifetime: the bounded window survives the restart.
	startServer(t, addr, map[string]string{"PALAVER_HISTORY_DB": dbFile})

	bob, err := client.New(client.Config{URL: wsURL, Identity: "bob", Room: "general"})
	require.NoError(t, err)
	require.NoError(t, bob.Connect(context.Background()))
	defer bob.Close()

	waitCond(t, time.Second, func() bool {
		var texts []string
		for _, m := range bob.Store().Messages() {
			if !m.System {
				texts = append(texts, m.Text)
			}
		}
		return len(texts) == 2 && texts[0] == "first" && texts[1] == "second"
	}, "restored history missing or out of order")
}
