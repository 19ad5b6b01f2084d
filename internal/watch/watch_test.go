package watch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Seednode/teamshuffle/internal/broadcast"
	"github.com/Seednode/teamshuffle/internal/dependencies/mocks"
	"github.com/Seednode/teamshuffle/internal/retry"
	"github.com/Seednode/teamshuffle/internal/roster"
	"github.com/Seednode/teamshuffle/internal/testutil"
)

var upgrader = websocket.Upgrader{}

// fakeServer accepts websocket connections and hands them to the test.
type fakeServer struct {
	*httptest.Server

	reject atomic.Bool
	conns  chan *websocket.Conn
	dials  atomic.Int32
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()

	s := &fakeServer{conns: make(chan *websocket.Conn, 8)}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.dials.Add(1)
		if r.URL.Path != "/ws" || s.reject.Load() {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.conns <- conn
	}))
	t.Cleanup(s.Close)

	return s
}

func (s *fakeServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()

	select {
	case c := <-s.conns:
		t.Cleanup(func() { _ = c.Close() })
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for connection")
		return nil
	}
}

func sendState(t *testing.T, c *websocket.Conn, version uint64, names ...string) {
	t.Helper()

	state := roster.State{Version: version, Players: []roster.Player{}, Teams: []roster.Team{}}
	for _, n := range names {
		state.Players = append(state.Players, roster.Player{ID: roster.PlayerID(n), Name: n})
	}
	require.NoError(t, c.WriteJSON(broadcast.Event{Type: broadcast.KindStateChanged, State: &state}))
}

func startWatcher(t *testing.T, server string, policy retry.Policy) (*Watcher, *mocks.MockClock) {
	t.Helper()

	clk := mocks.NewMockClock(time.Date(2025, 6, 1, 18, 0, 0, 0, time.UTC))
	w, err := New(server, Options{Retry: policy, Clock: clk, Logger: testutil.NopLogger()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = w.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		// Drain so Run never blocks on a full queue.
		go func() {
			for range w.Events() {
			}
		}()
		wg.Wait()
	})

	return w, clk
}

func nextEvent(t *testing.T, w *Watcher, kind Kind) Event {
	t.Helper()

	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-w.Events():
			require.True(t, ok, "events closed")
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s event", kind)
			return Event{}
		}
	}
}

func TestSocketURL(t *testing.T) {
	cases := map[string]string{
		"http://localhost:8080":      "ws://localhost:8080/ws",
		"https://example.com/teams/": "wss://example.com/teams/ws",
		"ws://localhost:8080":        "ws://localhost:8080/ws",
	}
	for in, want := range cases {
		got, err := SocketURL(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	for _, in := range []string{"ftp://example.com", "localhost:8080", "http://"} {
		_, err := SocketURL(in)
		assert.Error(t, err, in)
	}
}

func TestReceivesSnapshotAndUpdates(t *testing.T) {
	srv := newFakeServer(t)
	w, _ := startWatcher(t, srv.URL, retry.DefaultPolicy())

	conn := srv.accept(t)
	sendState(t, conn, 4, "Alice")

	ev := nextEvent(t, w, KindState)
	assert.Equal(t, uint64(4), ev.State.Version)
	assert.Equal(t, StatusLive, w.Status())

	// Older states on the same connection are ignored.
	sendState(t, conn, 3)
	sendState(t, conn, 5, "Alice", "Bob")

	ev = nextEvent(t, w, KindState)
	assert.Equal(t, uint64(5), ev.State.Version)
	assert.Len(t, ev.State.Players, 2)

	require.NoError(t, conn.WriteJSON(broadcast.Event{
		Type:   broadcast.KindPlayerJoined,
		Player: &roster.Player{ID: "p3", Name: "Carl"},
	}))
	ev = nextEvent(t, w, KindJoined)
	assert.Equal(t, "Carl", ev.Player.Name)

	require.NoError(t, conn.WriteJSON(broadcast.Event{Type: broadcast.KindStatus, Status: "degraded"}))
	ev = nextEvent(t, w, KindServerStatus)
	assert.Equal(t, "degraded", ev.Status)
}

func TestReconnectStartsFromFreshSnapshot(t *testing.T) {
	srv := newFakeServer(t)
	w, clk := startWatcher(t, srv.URL, retry.DefaultPolicy())

	conn := srv.accept(t)
	sendState(t, conn, 9, "Alice")
	nextEvent(t, w, KindState)

	_ = conn.Close()

	ev := nextEvent(t, w, KindConnection)
	assert.Equal(t, StatusConnecting, ev.Status)

	conn = srv.accept(t)
	sendState(t, conn, 2, "Bob")

	ev = nextEvent(t, w, KindState)
	assert.Equal(t, uint64(2), ev.State.Version)
	assert.Equal(t, "Bob", ev.State.Players[0].Name)
	assert.Equal(t, []time.Duration{2 * time.Second}, clk.Delays())
}

func TestResyncReplacesNewerState(t *testing.T) {
	srv := newFakeServer(t)
	w, _ := startWatcher(t, srv.URL, retry.DefaultPolicy())

	conn := srv.accept(t)
	sendState(t, conn, 5, "Alice", "Bob")
	nextEvent(t, w, KindState)

	state := roster.State{Version: 1, Players: []roster.Player{{ID: "zed", Name: "Zed"}}, Teams: []roster.Team{}}
	require.NoError(t, conn.WriteJSON(broadcast.Event{Type: broadcast.KindStateChanged, State: &state, Resync: true}))

	ev := nextEvent(t, w, KindState)
	assert.Equal(t, uint64(1), ev.State.Version)
	assert.Equal(t, "Zed", ev.State.Players[0].Name)

	// Ordering resumes from the resynced version.
	sendState(t, conn, 1, "Stale")
	sendState(t, conn, 2, "Zed", "Amy")

	ev = nextEvent(t, w, KindState)
	assert.Equal(t, uint64(2), ev.State.Version)
}

func TestDegradedUntilReconnect(t *testing.T) {
	srv := newFakeServer(t)
	srv.reject.Store(true)

	policy := retry.DefaultPolicy()
	policy.MaxAttempts = 2
	w, clk := startWatcher(t, srv.URL, policy)

	ev := nextEvent(t, w, KindConnection)
	assert.Equal(t, StatusDegraded, ev.Status)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, clk.Delays())
	assert.Equal(t, int32(3), srv.dials.Load())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(3), srv.dials.Load())

	srv.reject.Store(false)
	w.Reconnect()

	conn := srv.accept(t)
	sendState(t, conn, 1, "Alice")

	nextEvent(t, w, KindState)
	assert.Equal(t, StatusLive, w.Status())
}

func TestReconnectWhileLiveRequestsSync(t *testing.T) {
	srv := newFakeServer(t)
	w, _ := startWatcher(t, srv.URL, retry.DefaultPolicy())

	conn := srv.accept(t)
	sendState(t, conn, 1)
	nextEvent(t, w, KindState)

	w.Reconnect()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg map[string]string
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "sync", msg["type"])
}
