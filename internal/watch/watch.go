// Package watch follows a server's push channel over a websocket and
// reconnects with exponential backoff when the connection drops.
package watch

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/gorilla/websocket"

	"github.com/Seednode/teamshuffle/internal/broadcast"
	"github.com/Seednode/teamshuffle/internal/dependencies/clock"
	"github.com/Seednode/teamshuffle/internal/retry"
	"github.com/Seednode/teamshuffle/internal/roster"
)

// Connection status of the watcher itself.
const (
	StatusConnecting = "connecting"
	StatusLive       = "live"
	StatusDegraded   = "degraded"
)

type Kind string

const (
	// KindState carries a full roster snapshot.
	KindState Kind = "state"
	// KindJoined carries a newly joined player.
	KindJoined Kind = "joined"
	// KindServerStatus carries the server's own change feed status.
	KindServerStatus Kind = "server-status"
	// KindConnection carries a change of the watcher's status.
	KindConnection Kind = "connection"
)

type Event struct {
	Kind   Kind
	State  roster.State
	Player roster.Player
	Status string
}

type Options struct {
	Retry  retry.Policy
	Clock  clock.Clock
	Dialer *websocket.Dialer
	Logger log.Interface
}

type Watcher struct {
	url    string
	dialer *websocket.Dialer
	policy retry.Policy
	clock  clock.Clock
	log    log.Interface

	mu     sync.RWMutex
	status string

	reconnect chan struct{}
	events    chan Event
}

// SocketURL maps a server base URL to its websocket endpoint.
func SocketURL(server string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(server))
	if err != nil {
		return "", err
	}

	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", errors.New("server URL must use http or https")
	}
	if u.Host == "" {
		return "", errors.New("server URL has no host")
	}

	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	u.RawQuery = ""
	u.Fragment = ""

	return u.String(), nil
}

func New(server string, opts Options) (*Watcher, error) {
	target, err := SocketURL(server)
	if err != nil {
		return nil, err
	}

	if opts.Retry == (retry.Policy{}) {
		opts.Retry = retry.DefaultPolicy()
	}
	if err := opts.Retry.Validate(); err != nil {
		return nil, err
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = log.Log
	}

	return &Watcher{
		url:       target,
		dialer:    opts.Dialer,
		policy:    opts.Retry,
		clock:     opts.Clock,
		log:       opts.Logger.WithField("url", target),
		status:    StatusConnecting,
		reconnect: make(chan struct{}, 1),
		events:    make(chan Event, 16),
	}, nil
}

// Events is closed when Run returns.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

func (w *Watcher) Status() string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.status
}

// Reconnect retries at once when waiting or degraded. While live it asks
// the server to resend the current state.
func (w *Watcher) Reconnect() {
	select {
	case w.reconnect <- struct{}{}:
	default:
	}
}

func (w *Watcher) emit(ctx context.Context, ev Event) {
	select {
	case w.events <- ev:
	case <-ctx.Done():
	}
}

func (w *Watcher) setStatus(ctx context.Context, status string) {
	w.mu.Lock()
	changed := w.status != status
	w.status = status
	w.mu.Unlock()

	if changed {
		w.emit(ctx, Event{Kind: KindConnection, Status: status})
	}
}

// Run follows the push channel until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.events)

	b := w.policy.Start()
	for {
		err := w.session(ctx, b)
		if ctx.Err() != nil {
			return nil
		}

		delay, ok := b.Next()
		if !ok {
			w.log.WithError(err).Error("reconnect attempts exhausted")
			w.setStatus(ctx, StatusDegraded)

			select {
			case <-ctx.Done():
				return nil
			case <-w.reconnect:
			}

			b.Reset()
			w.setStatus(ctx, StatusConnecting)
			continue
		}

		w.log.WithError(err).WithFields(log.Fields{
			"attempt": b.Attempts(),
			"delay":   delay,
		}).Warn("connection lost, retrying")
		w.setStatus(ctx, StatusConnecting)

		select {
		case <-ctx.Done():
			return nil
		case <-w.clock.After(delay):
		case <-w.reconnect:
			b.Reset()
		}
	}
}

// session runs one connection. The first state of every connection is
// accepted as is; later ones only when newer.
func (w *Watcher) session(ctx context.Context, b *retry.Backoff) error {
	conn, _, err := w.dialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)

	go func() {
		for {
			select {
			case <-ctx.Done():
				_ = conn.Close()
				return
			case <-done:
				return
			case <-w.reconnect:
				if err := conn.WriteJSON(map[string]string{"type": "sync"}); err != nil {
					return
				}
			}
		}
	}()

	var (
		last  uint64
		fresh = true
	)

	for {
		var ev broadcast.Event
		if err := conn.ReadJSON(&ev); err != nil {
			return err
		}

		switch ev.Type {
		case broadcast.KindStateChanged:
			if ev.State == nil || (!fresh && !ev.Resync && ev.Version <= last) {
				continue
			}
			if fresh {
				b.Reset()
				w.setStatus(ctx, StatusLive)
			}
			fresh = false
			last = ev.Version

			w.emit(ctx, Event{Kind: KindState, State: *ev.State})

		case broadcast.KindPlayerJoined:
			if ev.Player != nil {
				w.emit(ctx, Event{Kind: KindJoined, Player: *ev.Player})
			}

		case broadcast.KindStatus:
			w.emit(ctx, Event{Kind: KindServerStatus, Status: ev.Status})
		}
	}
}
