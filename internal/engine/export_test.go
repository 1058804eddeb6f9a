package engine

import "time"

// NewLogBrokerWithRetention returns a broker that forgets closed topics after d.
func NewLogBrokerWithRetention(d time.Duration) *LogBroker {
	b := NewLogBroker()
	b.retention = d
	return b
}

// TopicCount reports how many topics the broker is tracking.
func (b *LogBroker) TopicCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics)
}
