package engine

import (
	"sync"
	"time"
)

const (
	// subscriberBufferSize is the channel buffer for each log subscriber.
	// Lines are dropped if a subscriber falls this far behind.
	subscriberBufferSize = 64

	// backlogSize is how many recent lines a running job keeps so that a
	// subscriber joining mid-stage sees some context first.
	backlogSize = 32

	// closedRetention is how long a finished job's topic is remembered.
	closedRetention = time.Minute
)

// LogBroker fans out stage output lines per job. It is safe for concurrent use.
//
// A closed topic stays as a marker for a while, so a subscriber racing the
// end of the job gets a closed channel instead of blocking forever. Callers
// that may arrive later must check the job status before subscribing.
type LogBroker struct {
	mu        sync.Mutex
	topics    map[uint64]*logTopic
	retention time.Duration
}

type logTopic struct {
	subs    map[int]chan string
	nextID  int
	backlog []string
	closed  bool
}

// NewLogBroker creates a new log broker.
func NewLogBroker() *LogBroker {
	return &LogBroker{
		topics:    make(map[uint64]*logTopic),
		retention: closedRetention,
	}
}

func (b *LogBroker) topic(jobID uint64) *logTopic {
	t, ok := b.topics[jobID]
	if !ok {
		t = &logTopic{subs: make(map[int]chan string)}
		b.topics[jobID] = t
	}
	return t
}

// Subscribe returns a channel of log lines for the job and an unsubscribe
// function. Recent lines are replayed first. If the job has already finished
// the channel is closed immediately.
func (b *LogBroker) Subscribe(jobID uint64) (<-chan string, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.topic(jobID)
	ch := make(chan string, subscriberBufferSize)
	if t.closed {
		close(ch)
		return ch, func() {}
	}

	for _, line := range t.backlog {
		ch <- line
	}

	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(t.subs, id)
	}
}

// Publish sends a line to every subscriber of the job, dropping it for
// subscribers whose buffers are full.
func (b *LogBroker) Publish(jobID uint64, line string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.topic(jobID)
	if t.closed {
		return
	}

	t.backlog = append(t.backlog, line)
	if len(t.backlog) > backlogSize {
		t.backlog = t.backlog[len(t.backlog)-backlogSize:]
	}

	for _, ch := range t.subs {
		select {
		case ch <- line:
		default:
		}
	}
}

// Close marks the job's stream as finished, closing every subscriber channel.
// The topic is forgotten once the retention period has passed.
func (b *LogBroker) Close(jobID uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.topic(jobID)
	if t.closed {
		return
	}
	t.closed = true
	t.backlog = nil
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}

	time.AfterFunc(b.retention, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.topics[jobID] == t {
			delete(b.topics, jobID)
		}
	})
}
