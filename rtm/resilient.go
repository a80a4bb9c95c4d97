package rtm

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"
)

// ClientState names one resilient-client lifecycle state.
type ClientState int32

// Resilient client lifecycle states.
const (
	StateStopped ClientState = iota
	StateStarting
	StateConnected
	StateReconnecting
)

// String returns the state name.
func (state ClientState) String() string {
	switch state {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// ResilientClient decorates a low-level client with reconnect-and-replay
// behavior. On any transport error it discards the broken connection,
// requests a replacement from the factory, and replays every registered
// subscription against it, in insertion order, under the original handles.
//
// All methods must execute on the owning event loop; wrap the client in a
// ThreadBoundClient to call it from other goroutines. The subscription
// registry is owned by that loop, so no locking is needed around it.
type ResilientClient struct {
	loop    *EventLoop
	factory ClientFactory
	errors  ErrorCallback
	logger  *zap.Logger

	registry *subscriptionRegistry

	state atomic.Int32 // ClientState; written on the loop, read anywhere

	// Everything below is touched only from the loop. The epoch counter
	// identifies each built low-level client so a stale error racing with an
	// already-started teardown is discarded.
	client          LowLevelClient
	currentEpoch    uint64
	lastFailedEpoch uint64
	epoch           atomic.Uint64

	reconnectActive bool
	reconnectCancel context.CancelFunc
}

// NewResilientClient returns a stopped client bound to loop. The factory
// produces replacement connections; callbacks, which may be nil, is notified
// only when recovery is impossible (the loop has stopped).
func NewResilientClient(loop *EventLoop, factory ClientFactory, callbacks ErrorCallback) *ResilientClient {
	return &ResilientClient{
		loop:     loop,
		factory:  factory,
		errors:   callbacks,
		logger:   zap.NewNop(),
		registry: newSubscriptionRegistry(),
	}
}

// SetLogger sets the structured logger on the receiver.
func (client *ResilientClient) SetLogger(logger *zap.Logger) *ResilientClient {
	if logger != nil {
		client.logger = logger
	}
	return client
}

// State returns the current lifecycle state.
func (client *ResilientClient) State() ClientState {
	return ClientState(client.state.Load())
}

func (client *ResilientClient) setState(state ClientState) {
	client.state.Store(int32(state))
}

// Start builds the first low-level client and starts it. On failure the
// condition is returned and the state remains stopped; the first start is not
// retried.
func (client *ResilientClient) Start() *ErrorCondition {
	if client.State() != StateStopped {
		return conditionPointer(UnknownError, "client is already started")
	}
	client.setState(StateStarting)
	epoch := client.epoch.Add(1)
	lowLevel := client.factory(client.errorCallbackFor(epoch))
	if condition := lowLevel.Start(); condition != nil {
		client.setState(StateStopped)
		return condition
	}
	client.client = lowLevel
	client.currentEpoch = epoch
	client.setState(StateConnected)
	client.logger.Info("rtm client started")
	return nil
}

// Stop tears down the current connection, cancels an in-flight reconnect and
// clears the registry. No callbacks of any kind are delivered once stop has
// been observed.
func (client *ResilientClient) Stop() *ErrorCondition {
	if client.State() == StateStopped {
		return nil
	}
	if client.reconnectCancel != nil {
		client.reconnectCancel()
		client.reconnectCancel = nil
	}
	client.reconnectActive = false
	client.setState(StateStopped)

	var condition *ErrorCondition
	if client.client != nil {
		condition = client.client.Stop()
		client.client = nil
	}
	client.registry.clear()
	client.logger.Info("rtm client stopped")
	return condition
}

// Publish forwards to the live connection, or fails fast with TransportError
// when there is none.
func (client *ResilientClient) Publish(channel string, message Message, callbacks PublishCallbacks) {
	if client.State() != StateConnected || client.client == nil {
		if callbacks != nil {
			callbacks.OnError(NewErrorCondition(TransportError, "no live connection"))
		}
		return
	}
	client.client.Publish(channel, message, callbacks)
}

// SubscribeChannel registers a subscription to one named channel under a
// fresh handle.
func (client *ResilientClient) SubscribeChannel(channel string, options SubscriptionOptions, callbacks SubscriptionCallbacks) SubscriptionHandle {
	handle := NewSubscriptionHandle()
	client.subscribeHandle(handle, channel, false, options, callbacks)
	return handle
}

// SubscribeFilter registers a subscription to every channel matching pattern
// under a fresh handle.
func (client *ResilientClient) SubscribeFilter(pattern string, options SubscriptionOptions, callbacks SubscriptionCallbacks) SubscriptionHandle {
	handle := NewSubscriptionHandle()
	client.subscribeHandle(handle, pattern, true, options, callbacks)
	return handle
}

// subscribeHandle registers a subscription under a caller-minted handle. The
// thread-affinity wrapper uses it to return handles synchronously while the
// registration itself runs later on the loop.
func (client *ResilientClient) subscribeHandle(handle SubscriptionHandle, target string, filter bool, options SubscriptionOptions, callbacks SubscriptionCallbacks) {
	if client.State() != StateConnected || client.client == nil {
		if callbacks != nil {
			callbacks.OnError(NewErrorCondition(NotConnectedError, "client is not connected"))
		}
		return
	}
	if _, exists := client.registry.get(handle); exists {
		if !options.Force {
			if callbacks != nil {
				callbacks.OnError(NewErrorCondition(SubscriptionError, "subscription already exists for handle ", string(handle)))
			}
			return
		}
		client.registry.remove(handle)
	}
	record := newSubscriptionRecord(handle, target, filter, options, callbacks)
	client.registry.add(record)
	client.issueSubscribe(record)
}

// Unsubscribe removes the registry record and tells the transport. Unknown
// handles are a logged no-op; in-flight data for the handle is dropped once
// the record is gone.
func (client *ResilientClient) Unsubscribe(handle SubscriptionHandle) {
	record, ok := client.registry.remove(handle)
	if !ok {
		client.logger.Debug("unsubscribe for unknown handle", zap.String("handle", string(handle)))
		return
	}
	record.setUp(false)
	if client.State() == StateConnected && client.client != nil {
		client.client.Unsubscribe(handle, RequestCallbackFuncs{
			Error: func(condition ErrorCondition) {
				client.logger.Warn("unsubscribe failed",
					zap.String("handle", string(handle)),
					zap.String("error", condition.Error()))
			},
		})
	}
}

// Position returns the last delivered position for handle.
func (client *ResilientClient) Position(handle SubscriptionHandle) ChannelPosition {
	if record, ok := client.registry.get(handle); ok {
		return record.Position()
	}
	return ChannelPosition{}
}

// IsUp reports whether the subscription is acknowledged on a live connection.
// It is false for every handle while reconnecting, until that subscription's
// replay completes.
func (client *ResilientClient) IsUp(handle SubscriptionHandle) bool {
	if client.State() != StateConnected {
		return false
	}
	record, ok := client.registry.get(handle)
	return ok && record.Up()
}

func (client *ResilientClient) errorCallbackFor(epoch uint64) ErrorCallback {
	return ErrorCallbackFunc(func(condition ErrorCondition) {
		posted := client.loop.Post(func() {
			client.handleTransportError(epoch, condition)
		})
		if !posted && client.errors != nil {
			client.errors.OnError(condition)
		}
	})
}

// handleTransportError runs on the loop for every error reported by a
// low-level client. Errors from an instance that is no longer current are
// discarded.
func (client *ResilientClient) handleTransportError(epoch uint64, condition ErrorCondition) {
	if client.State() == StateStopped {
		return
	}
	if epoch > client.lastFailedEpoch {
		client.lastFailedEpoch = epoch
	}
	if epoch != client.currentEpoch || client.client == nil {
		client.logger.Debug("discarding stale transport error",
			zap.Uint64("epoch", epoch),
			zap.String("error", condition.Error()))
		return
	}

	client.logger.Warn("transport error, reconnecting", zap.String("error", condition.Error()))
	broken := client.client
	client.client = nil
	client.setState(StateReconnecting)
	client.registry.markAllDown()
	_ = broken.Stop()
	client.scheduleReconnect()
}

func (client *ResilientClient) scheduleReconnect() {
	if client.reconnectActive {
		return
	}
	client.reconnectActive = true
	ctx, cancel := context.WithCancel(context.Background())
	client.reconnectCancel = cancel
	go client.rebuild(ctx)
}

// rebuild runs off the loop: it asks the factory for replacements until one
// starts, then hands the survivor back to the loop for adoption. Retries are
// unbounded; backoff belongs to the factory.
func (client *ResilientClient) rebuild(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		epoch := client.epoch.Add(1)
		candidate := client.factory(client.errorCallbackFor(epoch))
		condition := candidate.Start()
		if ctx.Err() != nil {
			if condition == nil {
				_ = candidate.Stop()
			}
			return
		}
		if condition != nil {
			client.logger.Warn("reconnect attempt failed", zap.String("error", condition.Error()))
			continue
		}
		posted := client.loop.Post(func() {
			client.adopt(ctx, candidate, epoch)
		})
		if !posted {
			_ = candidate.Stop()
		}
		return
	}
}

// adopt runs on the loop once a replacement has started: it installs the new
// connection and replays the registry against it.
func (client *ResilientClient) adopt(ctx context.Context, candidate LowLevelClient, epoch uint64) {
	if ctx.Err() != nil || client.State() == StateStopped {
		_ = candidate.Stop()
		return
	}
	if epoch <= client.lastFailedEpoch {
		// The candidate died between start and adoption; build another.
		_ = candidate.Stop()
		go client.rebuild(ctx)
		return
	}
	client.client = candidate
	client.currentEpoch = epoch
	client.reconnectActive = false
	client.reconnectCancel = nil
	for _, record := range client.registry.inOrder() {
		client.issueSubscribe(record)
	}
	client.setState(StateConnected)
	client.logger.Info("reconnected and replayed subscriptions",
		zap.Int("subscriptions", client.registry.size()))
}

// issueSubscribe sends one subscribe for record on the current connection.
// The acknowledgment marks the record up; an explicit rejection removes the
// record and surfaces SubscribeError without being connection-fatal.
func (client *ResilientClient) issueSubscribe(record *SubscriptionRecord) {
	record.setUp(false)
	handle := record.Handle
	client.client.Subscribe(record.replayRequest(), &recordSink{client: client, record: record}, RequestCallbackFuncs{
		OK: func() {
			if current, ok := client.registry.get(handle); ok && current == record {
				record.setUp(true)
			}
		},
		Error: func(condition ErrorCondition) {
			if current, ok := client.registry.get(handle); ok && current == record {
				client.registry.remove(handle)
			}
			if record.Callbacks != nil {
				record.Callbacks.OnError(NewErrorCondition(SubscribeError, condition.Message()))
			}
		},
	})
}

// recordSink bridges transport deliveries to one record: it advances the
// stored position before handing the payload to the application callback, and
// drops deliveries for records that have been removed or replaced.
type recordSink struct {
	client *ResilientClient
	record *SubscriptionRecord
}

func (sink *recordSink) OnChannelData(handle SubscriptionHandle, data ChannelData) {
	current, ok := sink.client.registry.get(handle)
	if !ok || current != sink.record {
		return
	}
	sink.record.advance(data.Position)
	if sink.record.Callbacks != nil {
		sink.record.Callbacks.OnData(handle, data.Message)
	}
}

func (sink *recordSink) OnError(condition ErrorCondition) {
	current, ok := sink.client.registry.get(sink.record.Handle)
	if !ok || current != sink.record {
		return
	}
	sink.record.setUp(false)
	if sink.record.Callbacks != nil {
		sink.record.Callbacks.OnError(condition)
	}
}
