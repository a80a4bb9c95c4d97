package rtm

import (
	"crypto/tls"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Wire actions of the channel protocol.
const (
	actionPublish           = "rtm/publish"
	actionSubscribe         = "rtm/subscribe"
	actionUnsubscribe       = "rtm/unsubscribe"
	actionSubscriptionData  = "rtm/subscription/data"
	actionSubscriptionError = "rtm/subscription/error"
)

const wsHandshakeTimeout = 10 * time.Second

// pdu is one protocol data unit: a JSON frame with an action, an optional
// request id and an action-specific body.
type pdu struct {
	Action string          `json:"action"`
	ID     uint64          `json:"id,omitempty"`
	Body   json.RawMessage `json:"body,omitempty"`
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

type publishBody struct {
	Channel string  `json:"channel"`
	Message Message `json:"message"`
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
	SubscriptionID string    `json:"subscription_id"`
	Position       string    `json:"position"`
	Messages       []Message `json:"messages"`
}

func (body replyBody) text() string {
	if body.Reason != "" {
		return body.Reason
	}
	return body.Error
}

// pendingRequest tracks one in-flight request awaiting its ok/error reply.
type pendingRequest struct {
	action  string
	handle  SubscriptionHandle
	acks    RequestCallbacks
	publish PublishCallbacks
}

// wsClient speaks the JSON-over-WebSocket channel protocol on one connection.
// Start dials and spawns a read goroutine; every other method, and all
// callback dispatch, runs on the owning event loop. Pending acknowledgments
// are dropped silently on teardown since the resilient layer replays
// subscriptions on the replacement connection.
type wsClient struct {
	config Config
	loop   *EventLoop
	logger *zap.Logger
	errors ErrorCallback

	conn   *websocket.Conn
	nextID uint64

	pending map[uint64]*pendingRequest
	subs    map[SubscriptionHandle]DataCallbacks

	stopped atomic.Bool
}

func newWSClient(config Config, loop *EventLoop, logger *zap.Logger, errors ErrorCallback) *wsClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &wsClient{
		config:  config,
		loop:    loop,
		logger:  logger,
		errors:  errors,
		pending: make(map[uint64]*pendingRequest),
		subs:    make(map[SubscriptionHandle]DataCallbacks),
	}
}

// NewClientFactory returns a factory producing WebSocket clients bound to
// config and dispatching on loop.
func NewClientFactory(config Config, loop *EventLoop, logger *zap.Logger) ClientFactory {
	return func(callback ErrorCallback) LowLevelClient {
		return newWSClient(config, loop, logger, callback)
	}
}

// Start dials the endpoint and begins reading.
func (client *wsClient) Start() *ErrorCondition {
	endpoint, err := client.config.URL()
	if err != nil {
		return conditionPointer(TransportError, err.Error())
	}
	dialer := websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout}
	if client.config.TLSInsecure {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	conn, _, err := dialer.Dial(endpoint, nil)
	if err != nil {
		return conditionPointer(TransportError, "dial failed: ", err.Error())
	}
	client.conn = conn
	client.logger.Debug("transport connected", zap.String("endpoint", client.config.Endpoint))
	go client.readLoop(conn)
	return nil
}

// Stop closes the connection. No callbacks are delivered afterwards.
func (client *wsClient) Stop() *ErrorCondition {
	if !client.stopped.CompareAndSwap(false, true) {
		return nil
	}
	if client.conn != nil {
		deadline := time.Now().Add(time.Second)
		_ = client.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = client.conn.Close()
	}
	return nil
}

func (client *wsClient) readLoop(conn *websocket.Conn) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if client.stopped.Load() {
				return
			}
			client.fail(NewErrorCondition(TransportError, "read failed: ", err.Error()))
			return
		}
		var frame pdu
		if err := json.Unmarshal(payload, &frame); err != nil {
			// Not connection-fatal: drop the frame and keep reading.
			client.logger.Warn("dropping unparseable frame", zap.Error(err))
			continue
		}
		client.loop.Post(func() {
			client.dispatch(frame)
		})
	}
}

func (client *wsClient) fail(condition ErrorCondition) {
	if client.stopped.Load() {
		return
	}
	if client.errors != nil {
		client.errors.OnError(condition)
	}
}

// Publish sends one message. Without callbacks the publish carries no request
// id and no acknowledgment is requested.
func (client *wsClient) Publish(channel string, message Message, callbacks PublishCallbacks) {
	if client.conn == nil || client.stopped.Load() {
		if callbacks != nil {
			callbacks.OnError(NewErrorCondition(TransportError, "connection is down"))
		}
		return
	}
	body := publishBody{Channel: channel, Message: message}
	if callbacks == nil {
		client.send(actionPublish, body, nil)
		return
	}
	client.send(actionPublish, body, &pendingRequest{publish: callbacks})
}

// Subscribe registers the data route under the request handle and sends the
// subscribe request.
func (client *wsClient) Subscribe(request SubscribeRequest, data DataCallbacks, acks RequestCallbacks) {
	if client.conn == nil || client.stopped.Load() {
		if acks != nil {
			acks.OnError(NewErrorCondition(NotConnectedError, "connection is down"))
		}
		return
	}
	options := request.Options
	body := subscribeBody{
		SubscriptionID: string(request.Handle),
		Force:          options.Force,
		FastForward:    options.FastForward,
	}
	if request.Filter {
		body.Filter = request.Target
	} else {
		body.Channel = request.Target
	}
	if options.Position != nil {
		body.Position = options.Position.String()
	}
	if !options.History.IsZero() {
		body.History = &historyBody{Count: options.History.Count, Age: options.History.Age}
	}
	client.subs[request.Handle] = data
	client.send(actionSubscribe, body, &pendingRequest{handle: request.Handle, acks: acks})
}

// Unsubscribe drops the data route and tells the server.
func (client *wsClient) Unsubscribe(handle SubscriptionHandle, acks RequestCallbacks) {
	delete(client.subs, handle)
	if client.conn == nil || client.stopped.Load() {
		if acks != nil {
			acks.OnError(NewErrorCondition(NotConnectedError, "connection is down"))
		}
		return
	}
	client.send(actionUnsubscribe, unsubscribeBody{SubscriptionID: string(handle)},
		&pendingRequest{handle: handle, acks: acks})
}

func (client *wsClient) send(action string, body interface{}, request *pendingRequest) {
	payload, err := json.Marshal(body)
	if err != nil {
		client.deliverError(request, NewErrorCondition(InvalidMessageError, err.Error()))
		return
	}
	frame := pdu{Action: action, Body: payload}
	if request != nil {
		client.nextID++
		frame.ID = client.nextID
		request.action = action
		client.pending[frame.ID] = request
	}
	if err := client.conn.WriteJSON(frame); err != nil {
		if request != nil {
			delete(client.pending, frame.ID)
		}
		condition := NewErrorCondition(TransportError, "write failed: ", err.Error())
		client.deliverError(request, condition)
		client.fail(condition)
	}
}

// dispatch routes one inbound frame on the loop.
func (client *wsClient) dispatch(frame pdu) {
	if client.stopped.Load() {
		return
	}
	switch frame.Action {
	case actionSubscriptionData:
		client.dispatchData(frame)
	case actionSubscriptionError:
		client.dispatchSubscriptionError(frame)
	default:
		client.dispatchReply(frame)
	}
}

func (client *wsClient) dispatchData(frame pdu) {
	var body dataBody
	if err := json.Unmarshal(frame.Body, &body); err != nil {
		client.logger.Warn("dropping malformed data frame", zap.Error(err))
		return
	}
	handle := SubscriptionHandle(body.SubscriptionID)
	sink, ok := client.subs[handle]
	if !ok {
		return
	}
	position := ParseChannelPosition(body.Position)
	arrival := time.Now()
	for _, message := range body.Messages {
		sink.OnChannelData(handle, ChannelData{
			Message:     message,
			Position:    position,
			ArrivalTime: arrival,
		})
	}
}

func (client *wsClient) dispatchSubscriptionError(frame pdu) {
	var body replyBody
	if err := json.Unmarshal(frame.Body, &body); err != nil {
		client.logger.Warn("dropping malformed subscription error", zap.Error(err))
		return
	}
	handle := SubscriptionHandle(body.SubscriptionID)
	sink, ok := client.subs[handle]
	if !ok {
		return
	}
	// The server has dropped the subscription; stop routing data to it.
	delete(client.subs, handle)
	sink.OnError(NewErrorCondition(SubscriptionError, body.text()))
}

func (client *wsClient) dispatchReply(frame pdu) {
	if frame.ID == 0 {
		client.logger.Warn("dropping unsolicited frame", zap.String("action", frame.Action))
		return
	}
	request, ok := client.pending[frame.ID]
	if !ok {
		client.logger.Debug("dropping reply for unknown request", zap.Uint64("id", frame.ID))
		return
	}
	delete(client.pending, frame.ID)

	switch frame.Action {
	case request.action + "/ok":
		client.deliverOK(request, frame.Body)
	case request.action + "/error":
		var body replyBody
		_ = json.Unmarshal(frame.Body, &body)
		client.deliverError(request, NewErrorCondition(replyErrorTag(request.action), body.text()))
	default:
		client.deliverError(request, NewErrorCondition(InvalidResponseError,
			"unexpected reply ", frame.Action, " to ", request.action))
	}
}

func replyErrorTag(action string) int {
	switch action {
	case actionPublish:
		return PublishError
	case actionSubscribe:
		return SubscribeError
	case actionUnsubscribe:
		return UnsubscribeError
	default:
		return UnknownError
	}
}

func (client *wsClient) deliverOK(request *pendingRequest, body json.RawMessage) {
	if request.publish != nil {
		var reply replyBody
		if err := json.Unmarshal(body, &reply); err != nil {
			request.publish.OnError(NewErrorCondition(ResponseParsingError, err.Error()))
			return
		}
		request.publish.OnOK(ParseChannelPosition(reply.Position))
		return
	}
	if request.acks != nil {
		request.acks.OnOK()
	}
}

func (client *wsClient) deliverError(request *pendingRequest, condition ErrorCondition) {
	if request == nil {
		return
	}
	if request.action == actionSubscribe {
		delete(client.subs, request.handle)
	}
	switch {
	case request.publish != nil:
		request.publish.OnError(condition)
	case request.acks != nil:
		request.acks.OnError(condition)
	}
}
