package rtm

import (
	"sync"
	"testing"
	"time"
)

func startLoop(t *testing.T) *EventLoop {
	t.Helper()
	loop := NewEventLoop()
	go loop.Run()
	t.Cleanup(loop.Stop)
	return loop
}

func runOnLoop(t *testing.T, loop *EventLoop, task func()) {
	t.Helper()
	done := make(chan struct{})
	if !loop.Post(func() {
		task()
		close(done)
	}) {
		t.Fatalf("loop is stopped")
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("loop task timed out")
	}
}

func waitFor(t *testing.T, what string, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type fakePublish struct {
	channel   string
	message   Message
	callbacks PublishCallbacks
}

// fakeClient is a controllable LowLevelClient. With autoAck set, subscribes
// are acknowledged synchronously, as if the server replied instantly.
type fakeClient struct {
	lock      sync.Mutex
	errors    ErrorCallback
	startErr  *ErrorCondition
	startGate chan struct{}
	autoAck   bool

	started      bool
	stopped      bool
	publishes    []fakePublish
	subscribes   []SubscribeRequest
	unsubscribed []SubscriptionHandle
	sinks        map[SubscriptionHandle]DataCallbacks
	acks         map[SubscriptionHandle]RequestCallbacks
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		autoAck: true,
		sinks:   make(map[SubscriptionHandle]DataCallbacks),
		acks:    make(map[SubscriptionHandle]RequestCallbacks),
	}
}

func (client *fakeClient) Start() *ErrorCondition {
	if client.startGate != nil {
		<-client.startGate
	}
	client.lock.Lock()
	defer client.lock.Unlock()
	if client.startErr != nil {
		return client.startErr
	}
	client.started = true
	return nil
}

func (client *fakeClient) Stop() *ErrorCondition {
	client.lock.Lock()
	client.stopped = true
	client.lock.Unlock()
	return nil
}

func (client *fakeClient) Publish(channel string, message Message, callbacks PublishCallbacks) {
	client.lock.Lock()
	client.publishes = append(client.publishes, fakePublish{channel: channel, message: message, callbacks: callbacks})
	client.lock.Unlock()
}

func (client *fakeClient) Subscribe(request SubscribeRequest, data DataCallbacks, acks RequestCallbacks) {
	client.lock.Lock()
	client.subscribes = append(client.subscribes, request)
	client.sinks[request.Handle] = data
	client.acks[request.Handle] = acks
	autoAck := client.autoAck
	client.lock.Unlock()
	if autoAck && acks != nil {
		acks.OnOK()
	}
}

func (client *fakeClient) Unsubscribe(handle SubscriptionHandle, acks RequestCallbacks) {
	client.lock.Lock()
	client.unsubscribed = append(client.unsubscribed, handle)
	delete(client.sinks, handle)
	delete(client.acks, handle)
	client.lock.Unlock()
	if acks != nil {
		acks.OnOK()
	}
}

func (client *fakeClient) failTransport(message string) {
	client.lock.Lock()
	errors := client.errors
	client.lock.Unlock()
	if errors != nil {
		errors.OnError(NewErrorCondition(TransportError, message))
	}
}

// deliver pushes one payload to the data sink for handle. Call it on the
// owning loop.
func (client *fakeClient) deliver(handle SubscriptionHandle, message Message, position ChannelPosition) {
	client.lock.Lock()
	sink := client.sinks[handle]
	client.lock.Unlock()
	if sink != nil {
		sink.OnChannelData(handle, ChannelData{Message: message, Position: position, ArrivalTime: time.Now()})
	}
}

// ack acknowledges one pending subscribe. Call it on the owning loop.
func (client *fakeClient) ack(handle SubscriptionHandle) {
	client.lock.Lock()
	acks := client.acks[handle]
	client.lock.Unlock()
	if acks != nil {
		acks.OnOK()
	}
}

func (client *fakeClient) rejectSubscribe(handle SubscriptionHandle, reason string) {
	client.lock.Lock()
	acks := client.acks[handle]
	delete(client.acks, handle)
	delete(client.sinks, handle)
	client.lock.Unlock()
	if acks != nil {
		acks.OnError(NewErrorCondition(SubscribeError, reason))
	}
}

func (client *fakeClient) subscribeCount() int {
	client.lock.Lock()
	defer client.lock.Unlock()
	return len(client.subscribes)
}

func (client *fakeClient) publishCount() int {
	client.lock.Lock()
	defer client.lock.Unlock()
	return len(client.publishes)
}

func (client *fakeClient) isStopped() bool {
	client.lock.Lock()
	defer client.lock.Unlock()
	return client.stopped
}

func (client *fakeClient) subscribeAt(index int) SubscribeRequest {
	client.lock.Lock()
	defer client.lock.Unlock()
	return client.subscribes[index]
}

// fakeFactory builds fakeClients and remembers every one of them. prepare,
// when set, configures each client before it is handed out.
type fakeFactory struct {
	lock    sync.Mutex
	clients []*fakeClient
	prepare func(client *fakeClient, build int)
}

func (factory *fakeFactory) new(callback ErrorCallback) LowLevelClient {
	factory.lock.Lock()
	client := newFakeClient()
	client.errors = callback
	build := len(factory.clients)
	factory.clients = append(factory.clients, client)
	prepare := factory.prepare
	factory.lock.Unlock()
	if prepare != nil {
		prepare(client, build)
	}
	return client
}

func (factory *fakeFactory) builds() int {
	factory.lock.Lock()
	defer factory.lock.Unlock()
	return len(factory.clients)
}

func (factory *fakeFactory) client(index int) *fakeClient {
	factory.lock.Lock()
	defer factory.lock.Unlock()
	if index >= len(factory.clients) {
		return nil
	}
	return factory.clients[index]
}

// collectingCallbacks records everything delivered to one subscription.
type collectingCallbacks struct {
	lock     sync.Mutex
	messages []Message
	handles  []SubscriptionHandle
	errors   []ErrorCondition
}

func (callbacks *collectingCallbacks) OnData(handle SubscriptionHandle, message Message) {
	callbacks.lock.Lock()
	callbacks.handles = append(callbacks.handles, handle)
	callbacks.messages = append(callbacks.messages, message)
	callbacks.lock.Unlock()
}

func (callbacks *collectingCallbacks) OnError(condition ErrorCondition) {
	callbacks.lock.Lock()
	callbacks.errors = append(callbacks.errors, condition)
	callbacks.lock.Unlock()
}

func (callbacks *collectingCallbacks) messageCount() int {
	callbacks.lock.Lock()
	defer callbacks.lock.Unlock()
	return len(callbacks.messages)
}

func (callbacks *collectingCallbacks) errorCount() int {
	callbacks.lock.Lock()
	defer callbacks.lock.Unlock()
	return len(callbacks.errors)
}

func (callbacks *collectingCallbacks) lastError() ErrorCondition {
	callbacks.lock.Lock()
	defer callbacks.lock.Unlock()
	if len(callbacks.errors) == 0 {
		return ErrorCondition{}
	}
	return callbacks.errors[len(callbacks.errors)-1]
}
