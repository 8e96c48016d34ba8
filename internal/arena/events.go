package arena

import (
	"sync"

	"github.com/Masterora/agent-arena/internal/domain"
	"github.com/Masterora/agent-arena/internal/engine"
)

// Event types.
const (
	EventStep   = "step"
	EventStatus = "status"
)

// Event is the wire format for match stream messages.
type Event struct {
	Type    string               `json:"type"` // "step", "status"
	MatchID string               `json:"match_id"`
	Status  domain.MatchStatus   `json:"status,omitempty"`  // status only
	Error   string               `json:"error,omitempty"`   // failed status only
	Step    *engine.StepEvent    `json:"step,omitempty"`    // step only
	Results []domain.MatchResult `json:"results,omitempty"` // completed status only
}

// Terminal reports whether e closes the match stream.
func (e Event) Terminal() bool {
	return e.Type == EventStatus && e.Status.Terminal()
}

type subscriber struct {
	matchID string
	ch      chan Event
}

// Hub fans match events out to subscribers.
type Hub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]subscriber
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]subscriber)}
}

// Subscribe returns a channel that receives events for matchID, or for
// every match when matchID is empty. bufSize controls the channel buffer;
// slow consumers will have events dropped.
func (h *Hub) Subscribe(matchID string, bufSize int) (int, <-chan Event) {
	ch := make(chan Event, bufSize)
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = subscriber{matchID: matchID, ch: ch}
	h.mu.Unlock()
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(id int) {
	h.mu.Lock()
	if sub, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(sub.ch)
	}
	h.mu.Unlock()
}

// Publish sends an event to matching subscribers non-blocking (drop on full).
func (h *Hub) Publish(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		if sub.matchID != "" && sub.matchID != e.MatchID {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			// Slow consumer, drop event.
		}
	}
}
