package rtm

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Message is an opaque channel payload. It is produced and consumed by the
// message codec on each side of the wire; this layer never interprets it.
type Message = json.RawMessage

// SubscriptionHandle identifies one logical subscription. It is a pure lookup
// key into the registry and never owns resources.
type SubscriptionHandle string

// NewSubscriptionHandle mints a fresh handle.
func NewSubscriptionHandle() SubscriptionHandle {
	return SubscriptionHandle(uuid.NewString())
}

// HistoryOptions bounds replayed history at subscribe time. Nil fields leave
// the corresponding bound unset.
type HistoryOptions struct {
	Count *uint64
	Age   *uint64
}

// IsZero reports whether no history bound is set.
func (options HistoryOptions) IsZero() bool {
	return options.Count == nil && options.Age == nil
}

// SubscriptionOptions configures one subscription. Force replaces an existing
// subscription on the same handle; FastForward skips to the live tail after
// history replay; Position resumes from an explicit point in the channel.
type SubscriptionOptions struct {
	Force       bool
	FastForward bool
	History     HistoryOptions
	Position    *ChannelPosition
}

// ChannelData is one delivered payload together with the position that
// produced it and its local arrival time.
type ChannelData struct {
	Message     Message
	Position    ChannelPosition
	ArrivalTime time.Time
}

// ErrorCallback receives asynchronous failure notifications.
type ErrorCallback interface {
	OnError(condition ErrorCondition)
}

// RequestCallbacks adds a success notification to ErrorCallback for requests
// that yield no value.
type RequestCallbacks interface {
	ErrorCallback
	OnOK()
}

// PublishCallbacks reports the outcome of one publish; success carries the
// resulting channel position.
type PublishCallbacks interface {
	ErrorCallback
	OnOK(position ChannelPosition)
}

// SubscriptionCallbacks receives data and errors for one subscription.
type SubscriptionCallbacks interface {
	ErrorCallback
	OnData(handle SubscriptionHandle, message Message)
}

// DataCallbacks is the transport-facing delivery contract: like
// SubscriptionCallbacks but carrying the full ChannelData so decorators can
// track positions.
type DataCallbacks interface {
	ErrorCallback
	OnChannelData(handle SubscriptionHandle, data ChannelData)
}

// ErrorCallbackFunc adapts a function to ErrorCallback.
type ErrorCallbackFunc func(condition ErrorCondition)

// OnError invokes the function when non-nil.
func (callback ErrorCallbackFunc) OnError(condition ErrorCondition) {
	if callback != nil {
		callback(condition)
	}
}

// RequestCallbackFuncs adapts functions to RequestCallbacks. Nil fields are
// no-ops.
type RequestCallbackFuncs struct {
	Error func(condition ErrorCondition)
	OK    func()
}

// OnError invokes the Error function when non-nil.
func (callbacks RequestCallbackFuncs) OnError(condition ErrorCondition) {
	if callbacks.Error != nil {
		callbacks.Error(condition)
	}
}

// OnOK invokes the OK function when non-nil.
func (callbacks RequestCallbackFuncs) OnOK() {
	if callbacks.OK != nil {
		callbacks.OK()
	}
}

// PublishCallbackFuncs adapts functions to PublishCallbacks. Nil fields are
// no-ops.
type PublishCallbackFuncs struct {
	Error func(condition ErrorCondition)
	OK    func(position ChannelPosition)
}

// OnError invokes the Error function when non-nil.
func (callbacks PublishCallbackFuncs) OnError(condition ErrorCondition) {
	if callbacks.Error != nil {
		callbacks.Error(condition)
	}
}

// OnOK invokes the OK function when non-nil.
func (callbacks PublishCallbackFuncs) OnOK(position ChannelPosition) {
	if callbacks.OK != nil {
		callbacks.OK(position)
	}
}

// SubscriptionCallbackFuncs adapts functions to SubscriptionCallbacks. Nil
// fields are no-ops.
type SubscriptionCallbackFuncs struct {
	Error func(condition ErrorCondition)
	Data  func(handle SubscriptionHandle, message Message)
}

// OnError invokes the Error function when non-nil.
func (callbacks SubscriptionCallbackFuncs) OnError(condition ErrorCondition) {
	if callbacks.Error != nil {
		callbacks.Error(condition)
	}
}

// OnData invokes the Data function when non-nil.
func (callbacks SubscriptionCallbackFuncs) OnData(handle SubscriptionHandle, message Message) {
	if callbacks.Data != nil {
		callbacks.Data(handle, message)
	}
}

// Publisher publishes messages to named channels.
type Publisher interface {
	// Publish is fire-and-forget when callbacks is nil. Success yields the
	// resulting channel position; failure yields PublishError, or
	// TransportError when no live connection exists.
	Publish(channel string, message Message, callbacks PublishCallbacks)
}

// Subscriber manages subscriptions to channels and filters.
type Subscriber interface {
	// SubscribeChannel subscribes to one named channel. The handle is
	// returned synchronously; data and errors deliver asynchronously.
	SubscribeChannel(channel string, options SubscriptionOptions, callbacks SubscriptionCallbacks) SubscriptionHandle

	// SubscribeFilter subscribes to every channel matching a pattern
	// expression.
	SubscribeFilter(pattern string, options SubscriptionOptions, callbacks SubscriptionCallbacks) SubscriptionHandle

	// Unsubscribe is idempotent; an unknown handle is a logged no-op.
	Unsubscribe(handle SubscriptionHandle)

	// Position returns the last delivered position for the handle, or the
	// zero sentinel for an unknown handle.
	Position(handle SubscriptionHandle) ChannelPosition

	// IsUp reports whether the subscription is currently acknowledged on a
	// live connection. It is false from a connection loss until that
	// subscription's replay completes.
	IsUp(handle SubscriptionHandle) bool
}

// Client is the full publish/subscribe capability set with lifecycle.
type Client interface {
	Publisher
	Subscriber

	// Start establishes the connection. A nil result means started.
	Start() *ErrorCondition

	// Stop tears the client down; no callbacks are delivered afterwards.
	Stop() *ErrorCondition
}

// SubscribeRequest carries one handle-preserving subscription to a low-level
// client, so a decorator can replay subscriptions under their original
// handles.
type SubscribeRequest struct {
	Handle  SubscriptionHandle
	Target  string
	Filter  bool
	Options SubscriptionOptions
}

// LowLevelClient is the transport-facing contract produced by a
// ClientFactory. Unlike Client, its subscribe operation accepts the handle so
// replay preserves handle identity.
type LowLevelClient interface {
	Publish(channel string, message Message, callbacks PublishCallbacks)
	Subscribe(request SubscribeRequest, data DataCallbacks, acks RequestCallbacks)
	Unsubscribe(handle SubscriptionHandle, acks RequestCallbacks)
	Start() *ErrorCondition
	Stop() *ErrorCondition
}

// ClientFactory produces a fresh, unstarted low-level client bound to one
// transport configuration. The supplied callback receives transport failures;
// Start is invoked exactly once per returned client. Backoff policy composes
// here, not inside the resilient layer.
type ClientFactory func(callback ErrorCallback) LowLevelClient
