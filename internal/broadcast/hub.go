// Package broadcast pushes roster state to every subscriber.
//
// A single run loop owns the subscriber set, so registration, the initial
// snapshot and every later publication are totally ordered: a subscriber
// always starts from the current state and never receives an older state
// after a newer one.
package broadcast

import (
	"sync"

	"github.com/apex/log"

	"github.com/Seednode/teamshuffle/internal/roster"
)

// Kind names an event on the push channel.
type Kind string

const (
	KindStateChanged Kind = "state-changed"
	KindPlayerJoined Kind = "player-joined"
	KindStatus       Kind = "status"
)

// Event is a single push message. State events embed the full snapshot;
// player-joined carries only the new player and is never a source of truth.
type Event struct {
	Type Kind `json:"type"`
	*roster.State
	Player *roster.Player `json:"player,omitempty"`
	Status string         `json:"status,omitempty"`
	// Resync marks a state that replaces whatever the receiver holds, even
	// when its version is lower.
	Resync bool `json:"resync,omitempty"`
}

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 16

type publication struct {
	event Event
	force bool
}

// Subscription is a cancellation handle for one subscriber.
type Subscription struct {
	hub  *Hub
	send chan Event
	once sync.Once
}

// C delivers events in order. It is closed when the subscription is
// cancelled, the subscriber falls too far behind or the hub stops.
func (s *Subscription) C() <-chan Event {
	return s.send
}

// Cancel detaches the subscriber. It is safe to call more than once.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		select {
		case s.hub.unreg <- s:
		case <-s.hub.done:
		}
	})
}

type Hub struct {
	mu      sync.RWMutex
	clients map[*Subscription]bool
	current roster.State
	status  string

	register chan *Subscription
	unreg    chan *Subscription
	resync   chan *Subscription
	publish  chan publication
	done     chan struct{}
	stopOnce sync.Once

	buffer int
	log    log.Interface
}

func NewHub(buffer int, logger log.Interface) *Hub {
	if buffer < 4 {
		buffer = DefaultBuffer
	}

	return &Hub{
		clients:  make(map[*Subscription]bool),
		current:  roster.State{Players: []roster.Player{}, Teams: []roster.Team{}},
		register: make(chan *Subscription),
		unreg:    make(chan *Subscription),
		resync:   make(chan *Subscription),
		publish:  make(chan publication),
		done:     make(chan struct{}),
		buffer:   buffer,
		log:      logger.WithField("component", "hub"),
	}
}

// Run delivers events until Stop is called.
func (h *Hub) Run() {
	defer h.closeAll()

	for {
		select {
		case s := <-h.register:
			h.mu.Lock()
			h.clients[s] = true
			state := h.current
			s.send <- Event{Type: KindStateChanged, State: &state}
			if h.status != "" {
				s.send <- Event{Type: KindStatus, Status: h.status}
			}
			count := len(h.clients)
			h.mu.Unlock()

			h.log.WithField("subscribers", count).Debug("subscriber attached")

		case s := <-h.unreg:
			h.mu.Lock()
			if _, ok := h.clients[s]; ok {
				delete(h.clients, s)
				close(s.send)
			}
			count := len(h.clients)
			h.mu.Unlock()

			h.log.WithField("subscribers", count).Debug("subscriber detached")

		case s := <-h.resync:
			h.mu.Lock()
			if _, ok := h.clients[s]; ok {
				state := h.current
				h.deliverLocked(s, Event{Type: KindStateChanged, State: &state, Resync: true})
			}
			h.mu.Unlock()

		case p := <-h.publish:
			h.mu.Lock()
			h.handleLocked(p)
			h.mu.Unlock()

		case <-h.done:
			return
		}
	}
}

func (h *Hub) handleLocked(p publication) {
	ev := p.event

	switch ev.Type {
	case KindStateChanged:
		if !p.force && ev.Version <= h.current.Version {
			h.log.WithFields(log.Fields{
				"version": ev.Version,
				"current": h.current.Version,
			}).Debug("stale state dropped")
			return
		}
		h.current = *ev.State
	case KindStatus:
		if ev.Status == h.status {
			return
		}
		h.status = ev.Status
	}

	for s := range h.clients {
		h.deliverLocked(s, ev)
	}
}

// deliverLocked queues ev for s, disconnecting s when its queue is full.
// A disconnected subscriber resubscribes and starts from a fresh snapshot.
func (h *Hub) deliverLocked(s *Subscription, ev Event) {
	select {
	case s.send <- ev:
	default:
		delete(h.clients, s)
		close(s.send)
		h.log.WithField("event", ev.Type).Warn("subscriber dropped, queue full")
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for s := range h.clients {
		close(s.send)
		delete(h.clients, s)
	}
}

// Stop ends Run and closes every subscription.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
	})
}

// Subscribe attaches a subscriber whose first event is the current state.
func (h *Hub) Subscribe() *Subscription {
	s := &Subscription{hub: h, send: make(chan Event, h.buffer)}

	select {
	case h.register <- s:
	case <-h.done:
		close(s.send)
	}

	return s
}

// Resync re-sends the current state to s.
func (h *Hub) Resync(s *Subscription) {
	select {
	case h.resync <- s:
	case <-h.done:
	}
}

func (h *Hub) send(p publication) {
	select {
	case h.publish <- p:
	case <-h.done:
	}
}

// Publish broadcasts state unless a state with the same or a newer version
// was already published.
func (h *Hub) Publish(state roster.State) {
	h.send(publication{event: Event{Type: KindStateChanged, State: &state}})
}

// Force broadcasts state regardless of its version, marked as a resync.
func (h *Hub) Force(state roster.State) {
	h.send(publication{event: Event{Type: KindStateChanged, State: &state, Resync: true}, force: true})
}

// Joined broadcasts a player-joined notification.
func (h *Hub) Joined(p roster.Player) {
	h.send(publication{event: Event{Type: KindPlayerJoined, Player: &p}})
}

// SetStatus broadcasts a connectivity status when it changes.
func (h *Hub) SetStatus(status string) {
	h.send(publication{event: Event{Type: KindStatus, Status: status}})
}

// Current returns the last published state.
func (h *Hub) Current() roster.State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// SubscriberCount returns the number of attached subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
