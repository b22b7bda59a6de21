package bus

import (
	"context"
	"testing"
)

func benchmarkMemoryPublish(b *testing.B, subscribers int) {
	bus := NewMemory()
	defer bus.Close()

	subs := make([]Subscription, 0, subscribers)
	for i := 0; i < subscribers; i++ {
		sub, err := bus.Subscribe("bench")
		if err != nil {
			b.Fatalf("subscribe: %v", err)
		}
		subs = append(subs, sub)

		// Drain to avoid measuring drop behaviour.
		go func(s Subscription) {
			for range s.C() {
			}
		}(sub)
	}

	payload := []byte(`{"type":"global_message","message":{"content":"payload"}}`)

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if err := bus.Publish(context.Background(), "bench", payload); err != nil {
			b.Fatalf("publish: %v", err)
		}
	}
}

func BenchmarkMemoryPublish_10(b *testing.B)  { benchmarkMemoryPublish(b, 10) }
func BenchmarkMemoryPublish_100(b *testing.B) { benchmarkMemoryPublish(b, 100) }
func BenchmarkMemoryPublish_500(b *testing.B) { benchmarkMemoryPublish(b, 500) }
