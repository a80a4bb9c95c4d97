package rtm

import (
	"sync"
	"testing"
)

func BenchmarkParseChannelPosition(b *testing.B) {
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if ParseChannelPosition("1433:9182736455").IsZero() {
			b.Fatal("expected parseable position")
		}
	}
}

func BenchmarkChannelPositionString(b *testing.B) {
	position := ChannelPosition{Generation: 1433, Offset: 9182736455}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if position.String() == "" {
			b.Fatal("expected non-empty position text")
		}
	}
}

// BenchmarkEventLoopPost measures single-producer task throughput through the
// loop, including wakeups.
func BenchmarkEventLoopPost(b *testing.B) {
	loop := NewEventLoop()
	go loop.Run()
	defer loop.Stop()

	var wg sync.WaitGroup
	wg.Add(b.N)
	task := func() { wg.Done() }

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if !loop.Post(task) {
			b.Fatal("loop rejected task")
		}
	}
	wg.Wait()
}

func BenchmarkRegistryPositionRead(b *testing.B) {
	registry := newSubscriptionRegistry()
	handle := NewSubscriptionHandle()
	record := newSubscriptionRecord(handle, "orders", false, SubscriptionOptions{}, nil)
	if !registry.add(record) {
		b.Fatal("add failed")
	}
	record.advance(ChannelPosition{Generation: 1, Offset: 42})

	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			found, ok := registry.get(handle)
			if !ok || found.Position().Offset != 42 {
				b.Fatal("unexpected registry read")
			}
		}
	})
}
