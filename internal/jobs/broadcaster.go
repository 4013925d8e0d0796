package jobs

import (
	"sync"

	"github.com/feichai0017/blueprint-dashboard/internal/models"
	"github.com/feichai0017/blueprint-dashboard/pkg/logger"
)

// subscriberBuffer is the per-subscriber channel depth. A subscriber that
// falls this far behind is evicted rather than allowed to block the producer.
const subscriberBuffer = 16

type subscriber struct {
	ch chan models.JobEvent
}

// topic holds the subscriber set for one job id. Each topic has its own
// lock so publishes for unrelated jobs never contend.
type topic struct {
	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

// Broadcaster fans out job events to any number of live subscribers,
// keyed by job id. It carries no job state of its own; the registry
// publishes into it and stream connections subscribe out of it.
type Broadcaster struct {
	mu     sync.RWMutex
	topics map[string]*topic
	logger logger.Logger
}

func NewBroadcaster(log logger.Logger) *Broadcaster {
	return &Broadcaster{
		topics: make(map[string]*topic),
		logger: log,
	}
}

// Subscribe registers a listener for every subsequent event published for
// jobID. It returns the event channel and an unsubscribe function that is
// safe to call more than once. The channel is closed on unsubscribe or
// eviction.
func (b *Broadcaster) Subscribe(jobID string) (<-chan models.JobEvent, func()) {
	sub := &subscriber{ch: make(chan models.JobEvent, subscriberBuffer)}

	// Register while still holding b.mu. The empty-topic prune in remove
	// re-checks the subscriber count under b.mu, so a topic fetched here
	// cannot be deleted out from under the new subscriber.
	b.mu.Lock()
	t, ok := b.topics[jobID]
	if !ok {
		t = &topic{subs: make(map[*subscriber]struct{})}
		b.topics[jobID] = t
	}
	t.mu.Lock()
	t.subs[sub] = struct{}{}
	total := len(t.subs)
	t.mu.Unlock()
	b.mu.Unlock()

	b.logger.Debug("subscriber attached",
		logger.String("jobId", jobID),
		logger.Int("subscribers", total),
	)

	unsubscribe := func() {
		b.remove(jobID, t, sub)
	}
	return sub.ch, unsubscribe
}

// Publish delivers event to every current subscriber of jobID. Each
// subscriber receives events in publish order; a publish with zero
// subscribers is a no-op. Slow subscribers with a full buffer are dropped.
func (b *Broadcaster) Publish(jobID string, event models.JobEvent) {
	b.mu.RLock()
	t, ok := b.topics[jobID]
	b.mu.RUnlock()
	if !ok {
		return
	}

	t.mu.Lock()
	for sub := range t.subs {
		select {
		case sub.ch <- event:
		default:
			// Buffer full: the consumer stopped draining. Evict it so the
			// producer never blocks on one stuck connection.
			delete(t.subs, sub)
			close(sub.ch)
			b.logger.Warn("evicted slow subscriber",
				logger.String("jobId", jobID),
				logger.String("eventType", string(event.Type)),
			)
		}
	}
	t.mu.Unlock()
}

// SubscriberCount returns the number of live subscribers for jobID.
func (b *Broadcaster) SubscriberCount(jobID string) int {
	b.mu.RLock()
	t, ok := b.topics[jobID]
	b.mu.RUnlock()
	if !ok {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

func (b *Broadcaster) remove(jobID string, t *topic, sub *subscriber) {
	t.mu.Lock()
	_, present := t.subs[sub]
	if present {
		delete(t.subs, sub)
		close(sub.ch)
	}
	empty := len(t.subs) == 0
	t.mu.Unlock()

	if !present {
		return
	}

	if empty {
		// Drop the topic once the last subscriber leaves, but only if no
		// new subscriber raced in behind us.
		b.mu.Lock()
		if cur, ok := b.topics[jobID]; ok && cur == t {
			cur.mu.Lock()
			if len(cur.subs) == 0 {
				delete(b.topics, jobID)
			}
			cur.mu.Unlock()
		}
		b.mu.Unlock()
	}

	b.logger.Debug("subscriber detached", logger.String("jobId", jobID))
}
