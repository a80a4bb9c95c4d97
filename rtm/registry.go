package rtm

import (
	"sync"
	"sync/atomic"
)

// SubscriptionRecord is the registry's view of one active subscription. The
// resilient client owns every record exclusively; only position and up-state
// are published for lock-free reads from other goroutines.
type SubscriptionRecord struct {
	Handle    SubscriptionHandle
	Target    string
	Filter    bool
	Options   SubscriptionOptions
	Callbacks SubscriptionCallbacks

	position atomic.Pointer[ChannelPosition]
	up       atomic.Bool
}

func newSubscriptionRecord(handle SubscriptionHandle, target string, filter bool, options SubscriptionOptions, callbacks SubscriptionCallbacks) *SubscriptionRecord {
	return &SubscriptionRecord{
		Handle:    handle,
		Target:    target,
		Filter:    filter,
		Options:   options,
		Callbacks: callbacks,
	}
}

// Position returns the last delivered position, or the zero sentinel when
// nothing has been delivered yet.
func (record *SubscriptionRecord) Position() ChannelPosition {
	if position := record.position.Load(); position != nil {
		return *position
	}
	return ChannelPosition{}
}

// Up reports whether the subscription is acknowledged on the current
// connection.
func (record *SubscriptionRecord) Up() bool {
	return record.up.Load()
}

func (record *SubscriptionRecord) advance(position ChannelPosition) {
	record.position.Store(&position)
}

func (record *SubscriptionRecord) setUp(up bool) {
	record.up.Store(up)
}

// replayRequest builds the subscribe request for this record. On replay the
// position is advanced to the last delivered one so already-delivered data is
// not requested again, unless the subscription fast-forwards anyway.
func (record *SubscriptionRecord) replayRequest() SubscribeRequest {
	options := record.Options
	if !options.FastForward {
		if position := record.Position(); !position.IsZero() {
			options.Position = &position
			options.History = HistoryOptions{}
		}
	}
	return SubscribeRequest{
		Handle:  record.Handle,
		Target:  record.Target,
		Filter:  record.Filter,
		Options: options,
	}
}

// subscriptionRegistry is the single source of truth for replay. The order
// slice and all mutations belong to the owning loop; the map is a sync.Map so
// Position/IsUp reads stay safe from any goroutine.
type subscriptionRegistry struct {
	records sync.Map // SubscriptionHandle -> *SubscriptionRecord
	order   []SubscriptionHandle
}

func newSubscriptionRegistry() *subscriptionRegistry {
	return &subscriptionRegistry{}
}

func (registry *subscriptionRegistry) get(handle SubscriptionHandle) (*SubscriptionRecord, bool) {
	value, ok := registry.records.Load(handle)
	if !ok {
		return nil, false
	}
	return value.(*SubscriptionRecord), true
}

// add registers a record under its handle. It reports false when a live
// record already holds the handle.
func (registry *subscriptionRegistry) add(record *SubscriptionRecord) bool {
	if _, exists := registry.records.Load(record.Handle); exists {
		return false
	}
	registry.records.Store(record.Handle, record)
	registry.order = append(registry.order, record.Handle)
	return true
}

func (registry *subscriptionRegistry) remove(handle SubscriptionHandle) (*SubscriptionRecord, bool) {
	value, ok := registry.records.LoadAndDelete(handle)
	if !ok {
		return nil, false
	}
	for index, existing := range registry.order {
		if existing == handle {
			registry.order = append(registry.order[:index], registry.order[index+1:]...)
			break
		}
	}
	return value.(*SubscriptionRecord), true
}

// inOrder returns the live records in insertion order for replay.
func (registry *subscriptionRegistry) inOrder() []*SubscriptionRecord {
	records := make([]*SubscriptionRecord, 0, len(registry.order))
	for _, handle := range registry.order {
		if record, ok := registry.get(handle); ok {
			records = append(records, record)
		}
	}
	return records
}

func (registry *subscriptionRegistry) markAllDown() {
	for _, record := range registry.inOrder() {
		record.setUp(false)
	}
}

func (registry *subscriptionRegistry) clear() {
	for _, handle := range registry.order {
		registry.records.Delete(handle)
	}
	registry.order = nil
}

func (registry *subscriptionRegistry) size() int {
	return len(registry.order)
}
