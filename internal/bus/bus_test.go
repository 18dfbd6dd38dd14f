package bus

import (
	"testing"
)

func TestPublishDeliversInOrderWithinChannel(t *testing.T) {
	b := New()
	var order []int
	for i := 0; i < 2; i++ {
		i := i
		if _, err := b.Subscribe("engagement:x:state", func(message any) {
			order = append(order, i)
		}); err != nil {
			t.Fatalf("Subscribe: %v", err)
		}
	}
	if err := b.Publish("engagement:x:state", "event-1"); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(order) != 2 || order[0] != 0 || order[1] != 1 {
		t.Fatalf("expected subscription-order delivery, got %v", order)
	}
}

func TestPublishEvictsPanickingCallback(t *testing.T) {
	b := New()
	calls := 0
	if _, err := b.Subscribe("c", func(message any) { panic("boom") }); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if _, err := b.Subscribe("c", func(message any) { calls++ }); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := b.Publish("c", nil); err != nil {
		t.Fatalf("first publish: %v", err)
	}
	if err := b.Publish("c", nil); err != nil {
		t.Fatalf("second publish: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected surviving callback invoked twice, got %d", calls)
	}
}

func TestCloseRejectsFurtherUse(t *testing.T) {
	b := New()
	b.Close()
	if _, err := b.Subscribe("c", func(any) {}); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := b.Publish("c", nil); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
