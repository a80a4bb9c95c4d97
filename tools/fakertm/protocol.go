package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Wire protocol — JSON PDUs over WebSocket.
//
// Requests carry an action, an optional request id and an action body.
// Replies echo the id under "<action>/ok" or "<action>/error". Server-pushed
// frames (subscription data, subscription errors) carry no id.
// ---------------------------------------------------------------------------

const (
	actionPublish           = "rtm/publish"
	actionSubscribe         = "rtm/subscribe"
	actionUnsubscribe       = "rtm/unsubscribe"
	actionSubscriptionData  = "rtm/subscription/data"
	actionSubscriptionError = "rtm/subscription/error"
)

type pdu struct {
	Action string          `json:"action"`
	ID     uint64          `json:"id,omitempty"`
	Body   json.RawMessage `json:"body,omitempty"`
}

type publishBody struct {
	Channel string          `json:"channel"`
	Message json.RawMessage `json:"message"`
}

type subscribeBody struct {
	Channel        string       `json:"channel,omitempty"`
	Filter         string       `json:"filter,omitempty"`
	SubscriptionID string       `json:"subscription_id"`
	Force          bool         `json:"force,omitempty"`
	FastForward    bool         `json:"fast_forward,omitempty"`
	Position       string       `json:"position,omitempty"`
	History        *historyBody `json:"history,omitempty"`
}

type historyBody struct {
	Count *uint64 `json:"count,omitempty"`
	Age   *uint64 `json:"age,omitempty"`
}

type unsubscribeBody struct {
	SubscriptionID string `json:"subscription_id"`
}

type replyBody struct {
	Position       string `json:"position,omitempty"`
	SubscriptionID string `json:"subscription_id,omitempty"`
	Error          string `json:"error,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

type dataBody struct {
	SubscriptionID string            `json:"subscription_id"`
	Position       string            `json:"position"`
	Messages       []json.RawMessage `json:"messages"`
}

// position is a channel stream coordinate: a generation minted at server
// start plus a per-channel message offset.
type position struct {
	generation uint32
	offset     uint64
}

func (p position) String() string {
	return fmt.Sprintf("%d:%d", p.generation, p.offset)
}

// parsePosition returns the zero position for anything malformed, matching
// the lenient client-side treatment of unparseable positions.
func parsePosition(text string) position {
	generationText, offsetText, ok := strings.Cut(text, ":")
	if !ok {
		return position{}
	}
	generation, err := strconv.ParseUint(generationText, 10, 32)
	if err != nil {
		return position{}
	}
	offset, err := strconv.ParseUint(offsetText, 10, 64)
	if err != nil {
		return position{}
	}
	return position{generation: uint32(generation), offset: offset}
}

func marshalBody(body interface{}) json.RawMessage {
	payload, err := json.Marshal(body)
	if err != nil {
		panic(fmt.Sprintf("fakertm: marshal body: %v", err))
	}
	return payload
}

// channelFromFilter extracts the source channel of a streaming view, e.g.
// "SELECT * FROM orders WHERE qty > 1" yields "orders". The fake applies no
// row filtering; it streams the source channel verbatim.
func channelFromFilter(filter string) string {
	fields := strings.Fields(filter)
	for index, field := range fields {
		if strings.EqualFold(field, "from") && index+1 < len(fields) {
			return strings.Trim(fields[index+1], "`\"")
		}
	}
	return ""
}
