package event

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Iron-Ham/sketchround/internal/classify"
)

func TestBus_Subscribe(t *testing.T) {
	bus := NewBus()

	called := false
	id := bus.Subscribe("test.event", func(e Event) {
		called = true
	})

	if id == "" {
		t.Error("Subscribe should return a non-empty ID")
	}
	if bus.SubscriptionCount() != 1 {
		t.Errorf("Expected 1 subscription, got %d", bus.SubscriptionCount())
	}
	if called {
		t.Error("Handler should not be called until an event is published")
	}
}

func TestBus_Publish(t *testing.T) {
	bus := NewBus()

	var received Event
	bus.Subscribe(TypeRoundStarted, func(e Event) {
		received = e
	})

	bus.Publish(NewRoundStartedEvent("sess-1", 1, "cat"))

	if received == nil {
		t.Fatal("Handler should have received the event")
	}
	started, ok := received.(RoundStartedEvent)
	if !ok {
		t.Fatalf("Expected RoundStartedEvent, got %T", received)
	}
	if started.Target != "cat" || started.Generation != 1 {
		t.Errorf("unexpected payload: %+v", started)
	}
}

func TestBus_PublishNoMatchingHandlers(t *testing.T) {
	bus := NewBus()

	bus.Subscribe("other.event", func(e Event) {
		t.Error("Handler should not be called for non-matching event type")
	})

	bus.Publish(newBaseEvent("test.event"))
}

func TestBus_SubscribeAllRunsAfterSpecific(t *testing.T) {
	bus := NewBus()

	var order []string
	bus.SubscribeAll(func(e Event) {
		order = append(order, "all:"+e.EventType())
	})
	bus.Subscribe("event.one", func(e Event) {
		order = append(order, "specific")
	})

	bus.Publish(newBaseEvent("event.one"))
	bus.Publish(newBaseEvent("event.two"))

	want := []string{"specific", "all:event.one", "all:event.two"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want[i])
		}
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus()

	calls := make(map[string]int)
	id1 := bus.Subscribe("test.event", func(e Event) {
		calls["handler1"]++
	})
	bus.Subscribe("test.event", func(e Event) {
		calls["handler2"]++
	})

	if !bus.Unsubscribe(id1) {
		t.Error("Unsubscribe should return true when subscription exists")
	}
	if bus.Unsubscribe(id1) {
		t.Error("Unsubscribe should return false the second time")
	}
	if bus.Unsubscribe("non-existent-id") {
		t.Error("Unsubscribe should return false for non-existent ID")
	}

	bus.Publish(newBaseEvent("test.event"))

	if calls["handler1"] != 0 {
		t.Error("handler1 should not be called after unsubscribing")
	}
	if calls["handler2"] != 1 {
		t.Error("handler2 should still be called")
	}
}

func TestBus_Clear(t *testing.T) {
	bus := NewBus()

	bus.Subscribe("event.one", func(e Event) {})
	bus.Subscribe("event.two", func(e Event) {})
	bus.SubscribeAll(func(e Event) {})

	if bus.SubscriptionCount() != 3 {
		t.Errorf("Expected 3 subscriptions before clear, got %d", bus.SubscriptionCount())
	}

	bus.Clear()

	if bus.SubscriptionCount() != 0 {
		t.Errorf("Expected 0 subscriptions after clear, got %d", bus.SubscriptionCount())
	}
}

func TestBus_HandlerPanicRecovery(t *testing.T) {
	bus := NewBus()

	calls := 0
	bus.Subscribe("test.event", func(e Event) {
		calls++
		panic("handler panic")
	})
	bus.Subscribe("test.event", func(e Event) {
		calls++
	})

	bus.Publish(newBaseEvent("test.event"))

	if calls != 2 {
		t.Errorf("Expected both handlers to be called despite panic, got %d calls", calls)
	}
}

func TestBus_ConcurrentPublish(t *testing.T) {
	bus := NewBus()

	var count atomic.Int64
	bus.SubscribeAll(func(e Event) {
		count.Add(1)
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				bus.Publish(NewAttemptDispatchedEvent(uint64(n), uint64(j)))
			}
		}(i)
	}
	wg.Wait()

	if got := count.Load(); got != 1000 {
		t.Errorf("Expected 1000 deliveries, got %d", got)
	}
}

func TestBus_SubscribeDuringPublish(t *testing.T) {
	bus := NewBus()

	bus.Subscribe("test.event", func(e Event) {
		bus.Subscribe("test.event", func(Event) {})
	})

	// Must not deadlock.
	bus.Publish(newBaseEvent("test.event"))

	if bus.SubscriptionCount() != 2 {
		t.Errorf("Expected 2 subscriptions, got %d", bus.SubscriptionCount())
	}
}

func TestEventConstructors(t *testing.T) {
	winner := classify.Candidate{Label: "cat", Confidence: 0.8}
	set := &classify.PredictionSet{Candidates: []classify.Candidate{winner}}
	failure := errors.New("boom")

	tests := []struct {
		name  string
		event Event
		want  string
	}{
		{"round started", NewRoundStartedEvent("s", 1, "cat"), TypeRoundStarted},
		{"state changed", NewRoundStateChangedEvent(1, "active", "predicting", time.Second), TypeRoundStateChanged},
		{"input started", NewRoundInputStartedEvent(1, 0), TypeRoundInputStarted},
		{"round won", NewRoundWonEvent("s", 1, "cat", winner, 1, 3, time.Second), TypeRoundWon},
		{"round reset", NewRoundResetEvent("s", 1, "cat", "predicting", 2, time.Second), TypeRoundReset},
		{"attempt dispatched", NewAttemptDispatchedEvent(1, 1), TypeAttemptDispatched},
		{"attempt completed", NewAttemptCompletedEvent("s", 1, 1, set, nil, time.Millisecond), TypeAttemptCompleted},
		{"candidate displayed", NewCandidateDisplayedEvent(1, 1, 0, 1, winner), TypeCandidateDisplayed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.event.EventType(); got != tt.want {
				t.Errorf("EventType() = %q, want %q", got, tt.want)
			}
			if tt.event.Timestamp().IsZero() {
				t.Error("Timestamp() should be set")
			}
		})
	}

	if !NewAttemptCompletedEvent("s", 1, 1, set, nil, 0).Success() {
		t.Error("completed event with a set should report success")
	}
	if NewAttemptCompletedEvent("s", 1, 1, nil, failure, 0).Success() {
		t.Error("completed event with an error should not report success")
	}
}
