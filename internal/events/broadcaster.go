package events

import (
	"strings"
	"sync"
	"sync/atomic"
)

// Subscriber receives live events. Unsubscribe closes it.
type Subscriber chan Event

const subscriberBuffer = 64

// hub fans emitted events out to subscribers. A subscriber registered with
// prefixes only sees events whose name starts with one of them.
type hub struct {
	mu      sync.RWMutex
	subs    map[Subscriber][]string
	dropped atomic.Uint64
}

var subscribers = &hub{subs: make(map[Subscriber][]string)}

// Subscribe registers a subscriber for events matching any of prefixes, or
// for every event when none are given.
func Subscribe(prefixes ...string) Subscriber {
	ch := make(Subscriber, subscriberBuffer)
	subscribers.mu.Lock()
	subscribers.subs[ch] = prefixes
	subscribers.mu.Unlock()
	return ch
}

// Unsubscribe closes sub. It is safe to call more than once and after
// CloseAllSubscribers.
func Unsubscribe(sub Subscriber) {
	subscribers.mu.Lock()
	defer subscribers.mu.Unlock()
	if _, ok := subscribers.subs[sub]; ok {
		delete(subscribers.subs, sub)
		close(sub)
	}
}

// CloseAllSubscribers closes every subscriber so websocket writers exit on
// shutdown.
func CloseAllSubscribers() {
	subscribers.mu.Lock()
	defer subscribers.mu.Unlock()
	for sub := range subscribers.subs {
		close(sub)
	}
	subscribers.subs = make(map[Subscriber][]string)
}

func SubscriberCount() int {
	subscribers.mu.RLock()
	defer subscribers.mu.RUnlock()
	return len(subscribers.subs)
}

// Dropped returns how many deliveries were skipped because a subscriber's
// buffer was full.
func Dropped() uint64 {
	return subscribers.dropped.Load()
}

// MatchPrefix reports whether name starts with any of prefixes. An empty
// prefix list matches everything.
func MatchPrefix(name string, prefixes []string) bool {
	if len(prefixes) == 0 {
		return true
	}
	for _, p := range prefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// publish never blocks the emitter: a slow subscriber loses the event.
func (h *hub) publish(e Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub, prefixes := range h.subs {
		if !MatchPrefix(e.Name, prefixes) {
			continue
		}
		select {
		case sub <- e:
		default:
			h.dropped.Add(1)
		}
	}
}

// RecentEvents returns up to the last n buffered events, oldest first.
// n <= 0 returns everything buffered.
func RecentEvents(n int) []Event {
	return history.Last(n)
}
