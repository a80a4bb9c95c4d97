package rtm

import "go.uber.org/zap"

// ThreadBoundClient marshals every client operation onto one owning event
// loop so the resilient client underneath needs no internal locking. Calls
// from any goroutine are queued in submission order relative to other calls
// from the same goroutine; callers never block and results arrive later
// through the supplied callbacks, themselves invoked on the loop. The wrapper
// changes only execution context, never subscription semantics.
type ThreadBoundClient struct {
	loop   *EventLoop
	inner  *ResilientClient
	logger *zap.Logger
}

// NewThreadBoundClient wraps inner so it may be driven from any goroutine.
// The loop must be the one inner was built on.
func NewThreadBoundClient(loop *EventLoop, inner *ResilientClient) *ThreadBoundClient {
	return &ThreadBoundClient{
		loop:   loop,
		inner:  inner,
		logger: zap.NewNop(),
	}
}

// SetLogger sets the structured logger on the receiver.
func (client *ThreadBoundClient) SetLogger(logger *zap.Logger) *ThreadBoundClient {
	if logger != nil {
		client.logger = logger
	}
	return client
}

// Publish queues the publish onto the owning loop without blocking.
func (client *ThreadBoundClient) Publish(channel string, message Message, callbacks PublishCallbacks) {
	posted := client.loop.Post(func() {
		client.inner.Publish(channel, message, callbacks)
	})
	if !posted {
		client.logger.Debug("publish dropped, loop stopped", zap.String("channel", channel))
		if callbacks != nil {
			callbacks.OnError(NewErrorCondition(NotConnectedError, "event loop is stopped"))
		}
	}
}

// SubscribeChannel mints the handle synchronously and queues the registration
// onto the owning loop.
func (client *ThreadBoundClient) SubscribeChannel(channel string, options SubscriptionOptions, callbacks SubscriptionCallbacks) SubscriptionHandle {
	return client.subscribe(channel, false, options, callbacks)
}

// SubscribeFilter mints the handle synchronously and queues the registration
// onto the owning loop.
func (client *ThreadBoundClient) SubscribeFilter(pattern string, options SubscriptionOptions, callbacks SubscriptionCallbacks) SubscriptionHandle {
	return client.subscribe(pattern, true, options, callbacks)
}

func (client *ThreadBoundClient) subscribe(target string, filter bool, options SubscriptionOptions, callbacks SubscriptionCallbacks) SubscriptionHandle {
	handle := NewSubscriptionHandle()
	posted := client.loop.Post(func() {
		client.inner.subscribeHandle(handle, target, filter, options, callbacks)
	})
	if !posted {
		client.logger.Debug("subscribe dropped, loop stopped", zap.String("target", target))
		if callbacks != nil {
			callbacks.OnError(NewErrorCondition(NotConnectedError, "event loop is stopped"))
		}
	}
	return handle
}

// Unsubscribe queues the removal onto the owning loop.
func (client *ThreadBoundClient) Unsubscribe(handle SubscriptionHandle) {
	client.loop.Post(func() {
		client.inner.Unsubscribe(handle)
	})
}

// Position reads the last-known position directly; the registry publishes it
// atomically so no marshalling is needed.
func (client *ThreadBoundClient) Position(handle SubscriptionHandle) ChannelPosition {
	return client.inner.Position(handle)
}

// IsUp reads the last-known subscription state directly.
func (client *ThreadBoundClient) IsUp(handle SubscriptionHandle) bool {
	return client.inner.IsUp(handle)
}

// Start runs the lifecycle transition on the loop and waits for its result.
// It must not be called from a callback executing on the loop.
func (client *ThreadBoundClient) Start() *ErrorCondition {
	return client.lifecycle(client.inner.Start)
}

// Stop runs the lifecycle transition on the loop and waits for its result.
// It must not be called from a callback executing on the loop.
func (client *ThreadBoundClient) Stop() *ErrorCondition {
	return client.lifecycle(client.inner.Stop)
}

func (client *ThreadBoundClient) lifecycle(operation func() *ErrorCondition) *ErrorCondition {
	result := make(chan *ErrorCondition, 1)
	posted := client.loop.Post(func() {
		result <- operation()
	})
	if !posted {
		return conditionPointer(NotConnectedError, "event loop is stopped")
	}
	select {
	case condition := <-result:
		return condition
	case <-client.loop.Done():
		return conditionPointer(NotConnectedError, "event loop stopped before completion")
	}
}
