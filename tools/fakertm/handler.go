package main

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
)

// ---------------------------------------------------------------------------
// Connection handling — one read goroutine per WebSocket connection.
//
// Writes are serialized through a per-connection mutex because fanout from
// other connections' publishes races with this connection's own replies.
// ---------------------------------------------------------------------------

type connection struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	frames  atomic.Uint64
}

func (c *connection) writeFrame(frame pdu) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(frame)
}

func (c *connection) reply(action string, id uint64, body replyBody) {
	if err := c.writeFrame(pdu{Action: action, ID: id, Body: marshalBody(body)}); err != nil {
		log.Printf("fakertm: write reply: %v", err)
	}
}

func (c *connection) pushData(subID string, pos position, messages []json.RawMessage) {
	body := dataBody{
		SubscriptionID: subID,
		Position:       pos.String(),
		Messages:       messages,
	}
	if err := c.writeFrame(pdu{Action: actionSubscriptionData, Body: marshalBody(body)}); err != nil {
		log.Printf("fakertm: write data: %v", err)
	}
}

type server struct {
	hub       *hub
	upgrader  websocket.Upgrader
	appKey    string
	dropAfter uint64
	logConn   bool
}

func newServer(generation uint32, historyDepth int) *server {
	return &server{
		hub: newHub(generation, historyDepth),
	}
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.appKey != "" && r.URL.Query().Get("appkey") != s.appKey {
		http.Error(w, "unknown appkey", http.StatusForbidden)
		return
	}
	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("fakertm: upgrade: %v", err)
		return
	}
	if s.logConn {
		log.Printf("fakertm: connection from %s", wsConn.RemoteAddr())
	}
	conn := &connection{conn: wsConn}
	defer func() {
		s.hub.drop(conn)
		_ = wsConn.Close()
		if s.logConn {
			log.Printf("fakertm: connection from %s closed", wsConn.RemoteAddr())
		}
	}()

	for {
		var frame pdu
		if err := wsConn.ReadJSON(&frame); err != nil {
			return
		}
		s.handleFrame(conn, frame)
		if s.dropAfter > 0 && conn.frames.Add(1) >= s.dropAfter {
			// Fault injection: sever the connection so clients exercise
			// their reconnect path.
			log.Printf("fakertm: dropping connection from %s after %d frames",
				wsConn.RemoteAddr(), s.dropAfter)
			return
		}
	}
}

func (s *server) handleFrame(conn *connection, frame pdu) {
	switch frame.Action {
	case actionPublish:
		s.handlePublish(conn, frame)
	case actionSubscribe:
		s.handleSubscribe(conn, frame)
	case actionUnsubscribe:
		s.handleUnsubscribe(conn, frame)
	default:
		if frame.ID != 0 {
			conn.reply(frame.Action+"/error", frame.ID, replyBody{
				Error:  "unknown_action",
				Reason: "unsupported action " + frame.Action,
			})
		}
	}
}

func (s *server) handlePublish(conn *connection, frame pdu) {
	var body publishBody
	if err := json.Unmarshal(frame.Body, &body); err != nil || body.Channel == "" {
		if frame.ID != 0 {
			conn.reply(actionPublish+"/error", frame.ID, replyBody{
				Error:  "invalid_format",
				Reason: "publish body requires a channel",
			})
		}
		return
	}
	pos, targets := s.hub.publish(body.Channel, body.Message)
	if frame.ID != 0 {
		conn.reply(actionPublish+"/ok", frame.ID, replyBody{Position: pos.String()})
	}
	for _, target := range targets {
		target.conn.pushData(target.subID, pos, []json.RawMessage{body.Message})
	}
}

func (s *server) handleSubscribe(conn *connection, frame pdu) {
	var body subscribeBody
	if err := json.Unmarshal(frame.Body, &body); err != nil || body.SubscriptionID == "" {
		if frame.ID != 0 {
			conn.reply(actionSubscribe+"/error", frame.ID, replyBody{
				Error:  "invalid_format",
				Reason: "subscribe body requires a subscription_id",
			})
		}
		return
	}
	head, backlog, rejection := s.hub.subscribe(conn, body)
	if rejection != "" {
		conn.reply(actionSubscribe+"/error", frame.ID, replyBody{
			SubscriptionID: body.SubscriptionID,
			Error:          "invalid_subscription",
			Reason:         rejection,
		})
		return
	}
	conn.reply(actionSubscribe+"/ok", frame.ID, replyBody{
		SubscriptionID: body.SubscriptionID,
		Position:       head.String(),
	})
	// Backlog entries carry their original positions one frame each so the
	// subscriber's position tracking advances exactly as it would live.
	for _, entry := range backlog {
		conn.pushData(body.SubscriptionID, entry.position, []json.RawMessage{entry.message})
	}
}

func (s *server) handleUnsubscribe(conn *connection, frame pdu) {
	var body unsubscribeBody
	if err := json.Unmarshal(frame.Body, &body); err != nil {
		conn.reply(actionUnsubscribe+"/error", frame.ID, replyBody{
			Error:  "invalid_format",
			Reason: "malformed unsubscribe body",
		})
		return
	}
	if !s.hub.unsubscribe(conn, body.SubscriptionID) {
		conn.reply(actionUnsubscribe+"/error", frame.ID, replyBody{
			SubscriptionID: body.SubscriptionID,
			Error:          "invalid_subscription",
			Reason:         "unknown subscription_id",
		})
		return
	}
	conn.reply(actionUnsubscribe+"/ok", frame.ID, replyBody{SubscriptionID: body.SubscriptionID})
}
