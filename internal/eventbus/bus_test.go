package eventbus

import (
	"sync"
	"testing"
)

func TestPublishFiltersByType(t *testing.T) {
	b := New()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()
	drains, unsubDrains := b.Subscribe(4, "notifier.drained")
	defer unsubDrains()

	b.Publish(Event{Type: "digest.finished"})
	b.Publish(Event{Type: "notifier.drained", Data: 3})

	if got := len(all); got != 2 {
		t.Fatalf("expected 2 events for unfiltered subscriber, got %d", got)
	}
	if got := len(drains); got != 1 {
		t.Fatalf("expected 1 filtered event, got %d", got)
	}
	ev := <-drains
	if ev.Type != "notifier.drained" || ev.Data != 3 || ev.Time.IsZero() {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestSlowSubscriberDrops(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	for i := 0; i < 3; i++ {
		b.Publish(Event{Type: "x"})
	}
	if got := b.(Counter).Dropped(); got != 2 {
		t.Fatalf("expected 2 dropped, got %d", got)
	}
}

func TestUnsubscribeDuringPublish(t *testing.T) {
	b := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		ch, unsub := b.Subscribe(1)
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				b.Publish(Event{Type: "x"})
			}
		}()
		go func() {
			defer wg.Done()
			unsub()
			unsub()
		}()
		_ = ch
	}
	wg.Wait()
}
