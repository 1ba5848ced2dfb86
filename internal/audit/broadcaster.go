// Package audit fans task events out to live listeners such as the SSE
// stream and the TUI. Delivery is best-effort: a slow listener loses events
// instead of blocking the orchestrator.
package audit

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mesutfelat/cowork-oss-sub009/internal/logger"
	"github.com/mesutfelat/cowork-oss-sub009/internal/models"
	"go.uber.org/zap"
)

// AllTasks subscribes to events of every task.
const AllTasks = ""

const subscriberBuffer = 64

// Message is a broadcast event with a broadcaster-local sequence number.
type Message struct {
	ID    int64        `json:"id"`
	Event models.Event `json:"event"`
}

// Broadcaster is an in-memory pub/sub hub for task events.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Message]struct{} // task id (or AllTasks) -> channels
	nextID      atomic.Int64
	dropped     atomic.Int64
	log         *logger.Logger
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster(log *logger.Logger) *Broadcaster {
	if log == nil {
		log = logger.NewNop()
	}
	return &Broadcaster{
		subscribers: make(map[string]map[chan Message]struct{}),
		log:         log.Component("broadcaster"),
	}
}

// Subscribe registers a listener for taskID, or for all tasks with AllTasks.
// It returns the event channel and an unsubscribe function.
func (b *Broadcaster) Subscribe(taskID string) (<-chan Message, func()) {
	ch := make(chan Message, subscriberBuffer)
	b.mu.Lock()
	if b.subscribers[taskID] == nil {
		b.subscribers[taskID] = make(map[chan Message]struct{})
	}
	b.subscribers[taskID][ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if subs, ok := b.subscribers[taskID]; ok {
				delete(subs, ch)
				if len(subs) == 0 {
					delete(b.subscribers, taskID)
				}
			}
			close(ch)
		})
	}
	return ch, unsubscribe
}

// Emit broadcasts an event to listeners of its task and to AllTasks listeners.
func (b *Broadcaster) Emit(taskID string, eventType models.EventType, payload json.RawMessage, ts time.Time) {
	b.Publish(models.Event{TaskID: taskID, Type: eventType, Payload: payload, Timestamp: ts})
}

// Publish broadcasts a fully formed event.
func (b *Broadcaster) Publish(ev models.Event) {
	msg := Message{ID: b.nextID.Add(1), Event: ev}

	// Sends happen under the read lock so unsubscribe cannot close a channel mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, key := range []string{ev.TaskID, AllTasks} {
		for ch := range b.subscribers[key] {
			select {
			case ch <- msg:
			default:
				b.dropped.Add(1)
				b.log.Debug("dropping event for slow subscriber",
					zap.String("task_id", ev.TaskID),
					zap.String("type", string(ev.Type)))
			}
		}
		if ev.TaskID == AllTasks {
			break
		}
	}
}

// SubscriberCount returns the number of listeners for taskID.
func (b *Broadcaster) SubscriberCount(taskID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[taskID])
}

// Dropped returns how many deliveries were skipped because a listener was full.
func (b *Broadcaster) Dropped() int64 {
	return b.dropped.Load()
}
