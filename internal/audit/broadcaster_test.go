package audit

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/mesutfelat/cowork-oss-sub009/internal/models"
)

func receive(t *testing.T, ch <-chan Message) Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for event")
		return Message{}
	}
}

func TestBroadcaster_TaskAndGlobalSubscribers(t *testing.T) {
	b := NewBroadcaster(nil)

	taskCh, unsubTask := b.Subscribe("t1")
	defer unsubTask()
	allCh, unsubAll := b.Subscribe(AllTasks)
	defer unsubAll()

	b.Emit("t1", models.EventTaskCreated, json.RawMessage(`{"title":"x"}`), time.Now())
	b.Emit("t2", models.EventTaskCompleted, nil, time.Now())

	msg := receive(t, taskCh)
	if msg.Event.TaskID != "t1" || msg.Event.Type != models.EventTaskCreated {
		t.Errorf("Unexpected event %+v", msg.Event)
	}

	first := receive(t, allCh)
	second := receive(t, allCh)
	if first.Event.TaskID != "t1" || second.Event.TaskID != "t2" {
		t.Errorf("Expected t1 then t2, got %s then %s", first.Event.TaskID, second.Event.TaskID)
	}
	if second.ID <= first.ID {
		t.Errorf("Expected increasing ids, got %d then %d", first.ID, second.ID)
	}

	select {
	case msg := <-taskCh:
		t.Errorf("Task subscriber received foreign event %+v", msg.Event)
	default:
	}
}

func TestBroadcaster_Unsubscribe(t *testing.T) {
	b := NewBroadcaster(nil)
	ch, unsub := b.Subscribe("t1")
	if b.SubscriberCount("t1") != 1 {
		t.Fatalf("Expected 1 subscriber, got %d", b.SubscriberCount("t1"))
	}

	unsub()
	unsub() // idempotent

	if b.SubscriberCount("t1") != 0 {
		t.Errorf("Expected 0 subscribers, got %d", b.SubscriberCount("t1"))
	}
	if _, ok := <-ch; ok {
		t.Error("Expected closed channel after unsubscribe")
	}

	// Emitting with no listeners must not panic.
	b.Emit("t1", models.EventError, nil, time.Now())
}

func TestBroadcaster_SlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewBroadcaster(nil)
	_, unsub := b.Subscribe("t1")
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer+10; i++ {
			b.Emit("t1", models.EventToolCall, nil, time.Now())
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked on a full subscriber")
	}
	if b.Dropped() != 10 {
		t.Errorf("Expected 10 dropped deliveries, got %d", b.Dropped())
	}
}
