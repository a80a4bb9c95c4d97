package main

import (
	"encoding/json"
	"fmt"
	"testing"
)

func publishN(h *hub, channel string, count int) position {
	var last position
	for index := 0; index < count; index++ {
		payload := json.RawMessage(fmt.Sprintf(`{"n":%d}`, index))
		last, _ = h.publish(channel, payload)
	}
	return last
}

func TestPublishAdvancesPositionPerChannel(t *testing.T) {
	h := newHub(5, 0)
	first, _ := h.publish("orders", json.RawMessage(`1`))
	second, _ := h.publish("orders", json.RawMessage(`2`))
	other, _ := h.publish("trades", json.RawMessage(`3`))

	if first != (position{generation: 5, offset: 1}) {
		t.Fatalf("unexpected first position %v", first)
	}
	if second != (position{generation: 5, offset: 2}) {
		t.Fatalf("unexpected second position %v", second)
	}
	if other != (position{generation: 5, offset: 1}) {
		t.Fatalf("channels must advance independently, got %v", other)
	}
}

func TestHistoryRingIsBounded(t *testing.T) {
	h := newHub(1, 3)
	publishN(h, "orders", 10)

	state := h.channels["orders"]
	if len(state.history) != 3 {
		t.Fatalf("expected 3 retained entries, got %d", len(state.history))
	}
	if state.history[0].position.offset != 8 {
		t.Fatalf("expected oldest retained offset 8, got %d", state.history[0].position.offset)
	}
}

func TestSubscribeResumesFromPosition(t *testing.T) {
	h := newHub(1, 0)
	publishN(h, "orders", 5)

	conn := &connection{}
	head, backlog, rejection := h.subscribe(conn, subscribeBody{
		Channel:        "orders",
		SubscriptionID: "sub-1",
		Position:       "1:3",
	})
	if rejection != "" {
		t.Fatalf("unexpected rejection %q", rejection)
	}
	if head.offset != 5 {
		t.Fatalf("expected head offset 5, got %d", head.offset)
	}
	if len(backlog) != 2 {
		t.Fatalf("expected 2 backlog entries after offset 3, got %d", len(backlog))
	}
	if backlog[0].position.offset != 4 || backlog[1].position.offset != 5 {
		t.Fatalf("unexpected backlog positions %v %v", backlog[0].position, backlog[1].position)
	}
}

func TestSubscribeWithHistoryCount(t *testing.T) {
	h := newHub(1, 0)
	publishN(h, "orders", 5)

	count := uint64(2)
	conn := &connection{}
	_, backlog, rejection := h.subscribe(conn, subscribeBody{
		Channel:        "orders",
		SubscriptionID: "sub-1",
		History:        &historyBody{Count: &count},
	})
	if rejection != "" {
		t.Fatalf("unexpected rejection %q", rejection)
	}
	if len(backlog) != 2 {
		t.Fatalf("expected 2 backlog entries, got %d", len(backlog))
	}
	if backlog[0].position.offset != 4 {
		t.Fatalf("expected backlog to start at offset 4, got %d", backlog[0].position.offset)
	}

	oversized := uint64(50)
	_, backlog, _ = h.subscribe(conn, subscribeBody{
		Channel:        "orders",
		SubscriptionID: "sub-2",
		History:        &historyBody{Count: &oversized},
	})
	if len(backlog) != 5 {
		t.Fatalf("history count must clamp to available entries, got %d", len(backlog))
	}
}

func TestFastForwardSkipsBacklog(t *testing.T) {
	h := newHub(1, 0)
	publishN(h, "orders", 5)

	count := uint64(3)
	conn := &connection{}
	_, backlog, rejection := h.subscribe(conn, subscribeBody{
		Channel:        "orders",
		SubscriptionID: "sub-1",
		FastForward:    true,
		History:        &historyBody{Count: &count},
	})
	if rejection != "" {
		t.Fatalf("unexpected rejection %q", rejection)
	}
	if len(backlog) != 0 {
		t.Fatalf("fast forward must skip backlog, got %d entries", len(backlog))
	}
}

func TestDuplicateSubscriptionNeedsForce(t *testing.T) {
	h := newHub(1, 0)
	conn := &connection{}

	_, _, rejection := h.subscribe(conn, subscribeBody{Channel: "orders", SubscriptionID: "sub-1"})
	if rejection != "" {
		t.Fatalf("unexpected rejection %q", rejection)
	}
	_, _, rejection = h.subscribe(conn, subscribeBody{Channel: "trades", SubscriptionID: "sub-1"})
	if rejection == "" {
		t.Fatalf("expected duplicate subscription_id to be rejected")
	}
	_, _, rejection = h.subscribe(conn, subscribeBody{Channel: "trades", SubscriptionID: "sub-1", Force: true})
	if rejection != "" {
		t.Fatalf("force must replace the subscription, got %q", rejection)
	}
	if h.subscribers[conn]["sub-1"].channel != "trades" {
		t.Fatalf("force did not rebind the subscription")
	}
}

func TestSubscribeWithoutSourceIsRejected(t *testing.T) {
	h := newHub(1, 0)
	_, _, rejection := h.subscribe(&connection{}, subscribeBody{SubscriptionID: "sub-1"})
	if rejection == "" {
		t.Fatalf("expected rejection for empty channel and filter")
	}
}

func TestFilterSubscriptionStreamsSourceChannel(t *testing.T) {
	h := newHub(1, 0)
	conn := &connection{}
	_, _, rejection := h.subscribe(conn, subscribeBody{
		Filter:         "SELECT * FROM orders WHERE qty > 1",
		SubscriptionID: "sub-1",
	})
	if rejection != "" {
		t.Fatalf("unexpected rejection %q", rejection)
	}
	_, targets := h.publish("orders", json.RawMessage(`{"qty":2}`))
	if len(targets) != 1 || targets[0].subID != "sub-1" {
		t.Fatalf("expected filter subscriber to receive fanout, got %v", targets)
	}
}

func TestUnsubscribeAndDrop(t *testing.T) {
	h := newHub(1, 0)
	conn := &connection{}
	h.subscribe(conn, subscribeBody{Channel: "orders", SubscriptionID: "sub-1"})

	if h.unsubscribe(conn, "missing") {
		t.Fatalf("unknown subscription_id must report failure")
	}
	if !h.unsubscribe(conn, "sub-1") {
		t.Fatalf("expected unsubscribe to succeed")
	}
	if _, targets := h.publish("orders", json.RawMessage(`1`)); len(targets) != 0 {
		t.Fatalf("unsubscribed connection still receives fanout")
	}

	h.subscribe(conn, subscribeBody{Channel: "orders", SubscriptionID: "sub-2"})
	h.drop(conn)
	if _, targets := h.publish("orders", json.RawMessage(`2`)); len(targets) != 0 {
		t.Fatalf("dropped connection still receives fanout")
	}
}
