package main

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rtmvideo/rtm-client-go/rtm"
)

// stubSubscriber records subscription requests and lets tests feed data back
// through the registered callbacks.
type stubSubscriber struct {
	channels  map[rtm.SubscriptionHandle]string
	filters   map[rtm.SubscriptionHandle]string
	callbacks map[rtm.SubscriptionHandle]rtm.SubscriptionCallbacks
	options   map[rtm.SubscriptionHandle]rtm.SubscriptionOptions
	positions map[rtm.SubscriptionHandle]rtm.ChannelPosition
}

func newStubSubscriber() *stubSubscriber {
	return &stubSubscriber{
		channels:  make(map[rtm.SubscriptionHandle]string),
		filters:   make(map[rtm.SubscriptionHandle]string),
		callbacks: make(map[rtm.SubscriptionHandle]rtm.SubscriptionCallbacks),
		options:   make(map[rtm.SubscriptionHandle]rtm.SubscriptionOptions),
		positions: make(map[rtm.SubscriptionHandle]rtm.ChannelPosition),
	}
}

func (stub *stubSubscriber) SubscribeChannel(channel string, options rtm.SubscriptionOptions, callbacks rtm.SubscriptionCallbacks) rtm.SubscriptionHandle {
	handle := rtm.NewSubscriptionHandle()
	stub.channels[handle] = channel
	stub.callbacks[handle] = callbacks
	stub.options[handle] = options
	return handle
}

func (stub *stubSubscriber) SubscribeFilter(pattern string, options rtm.SubscriptionOptions, callbacks rtm.SubscriptionCallbacks) rtm.SubscriptionHandle {
	handle := rtm.NewSubscriptionHandle()
	stub.filters[handle] = pattern
	stub.callbacks[handle] = callbacks
	stub.options[handle] = options
	return handle
}

func (stub *stubSubscriber) Unsubscribe(handle rtm.SubscriptionHandle) {
	delete(stub.callbacks, handle)
}

func (stub *stubSubscriber) Position(handle rtm.SubscriptionHandle) rtm.ChannelPosition {
	return stub.positions[handle]
}

func (stub *stubSubscriber) IsUp(handle rtm.SubscriptionHandle) bool {
	_, ok := stub.callbacks[handle]
	return ok
}

func (stub *stubSubscriber) deliver(t *testing.T, handle rtm.SubscriptionHandle, position rtm.ChannelPosition, message string) {
	t.Helper()
	callbacks, ok := stub.callbacks[handle]
	require.True(t, ok, "no callbacks registered for handle")
	stub.positions[handle] = position
	callbacks.OnData(handle, rtm.Message(message))
}

func handleFor(t *testing.T, sources map[rtm.SubscriptionHandle]string, source string) rtm.SubscriptionHandle {
	t.Helper()
	for handle, name := range sources {
		if name == source {
			return handle
		}
	}
	t.Fatalf("no subscription for %q", source)
	return ""
}

func readRecords(t *testing.T, path string) []record {
	t.Helper()
	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	var records []record
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var line record
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))
		records = append(records, line)
	}
	require.NoError(t, scanner.Err())
	return records
}

func TestRecorderWritesOneLinePerMessage(t *testing.T) {
	stub := newStubSubscriber()
	path := filepath.Join(t.TempDir(), "out.ndjson")
	rec, err := newRecorder(stub, path, zap.NewNop())
	require.NoError(t, err)

	config := &recorderConfig{
		Channels: []string{"orders"},
		Filters:  []string{"SELECT * FROM trades"},
	}
	rec.subscribeAll(config)
	require.Len(t, stub.channels, 1)
	require.Len(t, stub.filters, 1)

	orders := handleFor(t, stub.channels, "orders")
	trades := handleFor(t, stub.filters, "SELECT * FROM trades")
	stub.deliver(t, orders, rtm.ChannelPosition{Generation: 1, Offset: 1}, `{"qty":3}`)
	stub.deliver(t, orders, rtm.ChannelPosition{Generation: 1, Offset: 2}, `{"qty":4}`)
	stub.deliver(t, trades, rtm.ChannelPosition{Generation: 1, Offset: 9}, `"tick"`)

	assert.Equal(t, uint64(3), rec.recorded())
	require.NoError(t, rec.Close())

	records := readRecords(t, path)
	require.Len(t, records, 3)
	assert.Equal(t, "orders", records[0].Source)
	assert.Equal(t, "1:1", records[0].Position)
	assert.JSONEq(t, `{"qty":3}`, string(records[0].Message))
	assert.Equal(t, "1:2", records[1].Position)
	assert.Equal(t, "SELECT * FROM trades", records[2].Source)
	assert.Equal(t, "1:9", records[2].Position)
	assert.False(t, records[0].Received.IsZero())
}

func TestRecorderPassesSubscriptionOptions(t *testing.T) {
	stub := newStubSubscriber()
	path := filepath.Join(t.TempDir(), "out.ndjson")
	rec, err := newRecorder(stub, path, zap.NewNop())
	require.NoError(t, err)
	defer rec.Close()

	rec.subscribeAll(&recorderConfig{
		Channels:     []string{"orders"},
		HistoryCount: 10,
	})
	options := stub.options[handleFor(t, stub.channels, "orders")]
	require.NotNil(t, options.History.Count)
	assert.Equal(t, uint64(10), *options.History.Count)
	assert.False(t, options.FastForward)

	fastForward := newStubSubscriber()
	rec2, err := newRecorder(fastForward, filepath.Join(t.TempDir(), "ff.ndjson"), zap.NewNop())
	require.NoError(t, err)
	defer rec2.Close()
	rec2.subscribeAll(&recorderConfig{Channels: []string{"orders"}, FastForward: true})
	assert.True(t, fastForward.options[handleFor(t, fastForward.channels, "orders")].FastForward)
}

func TestRecorderAppendAfterCloseIsDropped(t *testing.T) {
	stub := newStubSubscriber()
	path := filepath.Join(t.TempDir(), "out.ndjson")
	rec, err := newRecorder(stub, path, zap.NewNop())
	require.NoError(t, err)

	rec.subscribeAll(&recorderConfig{Channels: []string{"orders"}})
	require.NoError(t, rec.Close())

	orders := handleFor(t, stub.channels, "orders")
	stub.deliver(t, orders, rtm.ChannelPosition{Generation: 1, Offset: 1}, `1`)
	assert.Empty(t, readRecords(t, path))
	require.NoError(t, rec.Close())
}

func TestRecorderAppendsToExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.ndjson")
	require.NoError(t, os.WriteFile(path, []byte(`{"source":"old","position":"1:0","received":"2026-01-01T00:00:00Z","message":1}`+"\n"), 0o644))

	stub := newStubSubscriber()
	rec, err := newRecorder(stub, path, zap.NewNop())
	require.NoError(t, err)
	rec.subscribeAll(&recorderConfig{Channels: []string{"orders"}})
	stub.deliver(t, handleFor(t, stub.channels, "orders"), rtm.ChannelPosition{Generation: 2, Offset: 1}, `2`)
	require.NoError(t, rec.Close())

	records := readRecords(t, path)
	require.Len(t, records, 2)
	assert.Equal(t, "old", records[0].Source)
	assert.Equal(t, "2:1", records[1].Position)
}
