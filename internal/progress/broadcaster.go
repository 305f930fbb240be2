package progress

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"dubline/internal/logging"
)

const defaultBufferSize = 64

// Sink receives a copy of every published event.
type Sink interface {
	Deliver(ctx context.Context, evt Event) error
}

// Option customizes a Broadcaster.
type Option func(*Broadcaster)

// WithSink adds a sink.
func WithSink(sink Sink) Option {
	return func(b *Broadcaster) {
		if sink != nil {
			b.sinks = append(b.sinks, sink)
		}
	}
}

// WithLogger sets the broadcaster logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Broadcaster) {
		if logger != nil {
			b.logger = logging.NewComponentLogger(logger, "progress")
		}
	}
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) Option {
	return func(b *Broadcaster) {
		if now != nil {
			b.now = now
		}
	}
}

// Broadcaster delivers events to per-job subscribers.
type Broadcaster struct {
	bufferSize int
	sinks      []Sink
	logger     *slog.Logger
	now        func() time.Time

	mu     sync.Mutex
	topics map[string]*topic
	nextID uint64
}

type topic struct {
	last   *Event
	seq    uint64
	closed bool
	subs   map[uint64]chan Event
}

// NewBroadcaster constructs a broadcaster whose subscriber channels hold
// bufferSize events. A full channel drops its oldest pending event.
func NewBroadcaster(bufferSize int, opts ...Option) *Broadcaster {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	b := &Broadcaster{
		bufferSize: bufferSize,
		logger:     logging.NewNop(),
		now:        time.Now,
		topics:     make(map[string]*topic),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish records evt as the job's latest state and delivers it. The stored
// event (with sequence, timestamp, and clamped percentage) is returned.
func (b *Broadcaster) Publish(ctx context.Context, evt Event) Event {
	b.mu.Lock()
	t := b.topicLocked(evt.JobID)
	if t.closed && evt.Run > t.last.Run {
		// A new run reopens a finished topic.
		t.closed = false
	}
	if t.closed {
		last := *t.last
		b.mu.Unlock()
		return last
	}
	if t.last != nil && t.last.Run == evt.Run && evt.Percent < t.last.Percent {
		evt.Percent = t.last.Percent
	}
	evt.Percent = min(max(evt.Percent, 0), 100)
	t.seq++
	evt.Sequence = t.seq
	if evt.Time.IsZero() {
		evt.Time = b.now().UTC()
	}
	stored := evt
	t.last = &stored

	for id, ch := range t.subs {
		deliver(ch, evt)
		if evt.Final {
			close(ch)
			delete(t.subs, id)
		}
	}
	if evt.Final {
		t.closed = true
	}
	b.mu.Unlock()

	for _, sink := range b.sinks {
		if err := sink.Deliver(ctx, evt); err != nil {
			b.logger.Debug("progress sink delivery failed",
				logging.String("job_id", evt.JobID),
				logging.Error(err),
			)
		}
	}
	return evt
}

// Subscribe returns a channel of events for jobID and a function that
// unsubscribes. The last-known event, if any, is delivered first. For a
// finished job the channel yields the final event and closes.
func (b *Broadcaster) Subscribe(jobID string) (<-chan Event, func()) {
	ch := make(chan Event, b.bufferSize)

	b.mu.Lock()
	t := b.topicLocked(jobID)
	if t.last != nil {
		ch <- *t.last
	}
	if t.closed {
		close(ch)
		b.mu.Unlock()
		return ch, func() {}
	}
	b.nextID++
	id := b.nextID
	t.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if t, ok := b.topics[jobID]; ok {
				if sub, ok := t.subs[id]; ok {
					delete(t.subs, id)
					close(sub)
				}
			}
		})
	}
}

// Last returns the most recent event for jobID.
func (b *Broadcaster) Last(jobID string) (Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[jobID]
	if !ok || t.last == nil {
		return Event{}, false
	}
	return *t.last, true
}

// Subscribers reports the number of open subscriptions for jobID.
func (b *Broadcaster) Subscribers(jobID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.topics[jobID]; ok {
		return len(t.subs)
	}
	return 0
}

// Forget drops all state for jobID and closes its subscribers.
func (b *Broadcaster) Forget(jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[jobID]
	if !ok {
		return
	}
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
	delete(b.topics, jobID)
}

func (b *Broadcaster) topicLocked(jobID string) *topic {
	t, ok := b.topics[jobID]
	if !ok {
		t = &topic{subs: make(map[uint64]chan Event)}
		b.topics[jobID] = t
	}
	return t
}

// deliver never blocks: when the buffer is full the oldest pending event is
// discarded. Callers hold the broadcaster lock, so this is the only sender.
func deliver(ch chan Event, evt Event) {
	for {
		select {
		case ch <- evt:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
