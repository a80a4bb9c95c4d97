package main

import (
	"encoding/json"
	"sync"
	"time"
)

// ---------------------------------------------------------------------------
// Channel state — per-channel message history and subscriber fanout.
//
// Every channel keeps a bounded ring of recent messages so subscribes can
// resume from a position or request the last N messages. Positions advance
// monotonically per channel within the server's generation.
// ---------------------------------------------------------------------------

type historyEntry struct {
	position position
	message  json.RawMessage
	received time.Time
}

type channelState struct {
	name    string
	offset  uint64
	history []historyEntry
}

// subscriber is one active subscription routed to one connection.
type subscriber struct {
	conn    *connection
	subID   string
	channel string
}

type hub struct {
	mu           sync.Mutex
	generation   uint32
	historyDepth int
	channels     map[string]*channelState
	subscribers  map[*connection]map[string]*subscriber
}

func newHub(generation uint32, historyDepth int) *hub {
	return &hub{
		generation:   generation,
		historyDepth: historyDepth,
		channels:     make(map[string]*channelState),
		subscribers:  make(map[*connection]map[string]*subscriber),
	}
}

func (h *hub) channel(name string) *channelState {
	state, ok := h.channels[name]
	if !ok {
		state = &channelState{name: name}
		h.channels[name] = state
	}
	return state
}

// publish records the message, advances the channel position and returns the
// new position together with the subscribers it must be fanned out to.
func (h *hub) publish(channel string, message json.RawMessage) (position, []*subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	state := h.channel(channel)
	state.offset++
	pos := position{generation: h.generation, offset: state.offset}
	state.history = append(state.history, historyEntry{
		position: pos,
		message:  message,
		received: time.Now(),
	})
	if h.historyDepth > 0 && len(state.history) > h.historyDepth {
		state.history = state.history[len(state.history)-h.historyDepth:]
	}

	var targets []*subscriber
	for _, subs := range h.subscribers {
		for _, sub := range subs {
			if sub.channel == channel {
				targets = append(targets, sub)
			}
		}
	}
	return pos, targets
}

// subscribe registers the subscription and returns the backlog of history
// entries the subscriber should receive first, along with the position the
// subscription starts at.
func (h *hub) subscribe(conn *connection, request subscribeBody) (position, []historyEntry, string) {
	channel := request.Channel
	if channel == "" {
		channel = channelFromFilter(request.Filter)
	}
	if channel == "" {
		return position{}, nil, "no channel or filter source"
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.subscribers[conn]
	if !ok {
		subs = make(map[string]*subscriber)
		h.subscribers[conn] = subs
	}
	if _, exists := subs[request.SubscriptionID]; exists && !request.Force {
		return position{}, nil, "subscription_id already in use"
	}
	subs[request.SubscriptionID] = &subscriber{
		conn:    conn,
		subID:   request.SubscriptionID,
		channel: channel,
	}

	state := h.channel(channel)
	head := position{generation: h.generation, offset: state.offset}
	if request.FastForward {
		return head, nil, ""
	}

	var backlog []historyEntry
	switch {
	case request.Position != "":
		resume := parsePosition(request.Position)
		for _, entry := range state.history {
			if entry.position.generation == resume.generation && entry.position.offset <= resume.offset {
				continue
			}
			backlog = append(backlog, entry)
		}
	case request.History != nil && request.History.Count != nil:
		count := int(*request.History.Count)
		if count > len(state.history) {
			count = len(state.history)
		}
		backlog = append(backlog, state.history[len(state.history)-count:]...)
	case request.History != nil && request.History.Age != nil:
		cutoff := time.Now().Add(-time.Duration(*request.History.Age) * time.Second)
		for _, entry := range state.history {
			if entry.received.After(cutoff) {
				backlog = append(backlog, entry)
			}
		}
	}
	return head, backlog, ""
}

// unsubscribe removes the subscription; unknown ids are reported back so the
// server can reply with an error.
func (h *hub) unsubscribe(conn *connection, subID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.subscribers[conn]
	if !ok {
		return false
	}
	if _, exists := subs[subID]; !exists {
		return false
	}
	delete(subs, subID)
	return true
}

// drop removes every subscription owned by a disconnecting connection.
func (h *hub) drop(conn *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subscribers, conn)
}
