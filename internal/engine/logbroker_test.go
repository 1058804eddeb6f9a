package engine_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/seantiz/cairoprove/internal/engine"
)

func drain(ch <-chan string) []string {
	var got []string
	for l := range ch {
		got = append(got, l)
	}
	return got
}

func TestLogBrokerSingleSubscriber(t *testing.T) {
	b := engine.NewLogBroker()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	lines := []string{"line 1", "line 2", "line 3"}
	for _, l := range lines {
		b.Publish(1, l)
	}
	b.Close(1)

	got := drain(ch)
	if len(got) != len(lines) {
		t.Fatalf("got %d lines, want %d", len(got), len(lines))
	}
	for i, l := range got {
		if l != lines[i] {
			t.Errorf("line[%d] = %q, want %q", i, l, lines[i])
		}
	}
}

func TestLogBrokerMultipleSubscribers(t *testing.T) {
	b := engine.NewLogBroker()
	ch1, unsub1 := b.Subscribe(1)
	defer unsub1()
	ch2, unsub2 := b.Subscribe(1)
	defer unsub2()

	b.Publish(1, "hello")
	b.Close(1)

	if got := drain(ch1); len(got) != 1 || got[0] != "hello" {
		t.Errorf("subscriber 1 got %v, want [hello]", got)
	}
	if got := drain(ch2); len(got) != 1 || got[0] != "hello" {
		t.Errorf("subscriber 2 got %v, want [hello]", got)
	}
}

func TestLogBrokerJobsAreIsolated(t *testing.T) {
	b := engine.NewLogBroker()
	ch1, unsub1 := b.Subscribe(1)
	defer unsub1()
	ch2, unsub2 := b.Subscribe(2)
	defer unsub2()

	b.Publish(1, "for job 1")
	b.Publish(2, "for job 2")
	b.Close(1)
	b.Close(2)

	if got := drain(ch1); len(got) != 1 || got[0] != "for job 1" {
		t.Errorf("job 1 got %v", got)
	}
	if got := drain(ch2); len(got) != 1 || got[0] != "for job 2" {
		t.Errorf("job 2 got %v", got)
	}
}

func TestLogBrokerLateSubscriberGetsClosed(t *testing.T) {
	b := engine.NewLogBroker()
	b.Publish(1, "early")
	b.Close(1)

	ch, unsub := b.Subscribe(1)
	defer unsub()

	if _, ok := <-ch; ok {
		t.Error("late subscriber should get a closed channel")
	}
}

func TestLogBrokerUnsubscribeStopsDelivery(t *testing.T) {
	b := engine.NewLogBroker()
	ch, unsub := b.Subscribe(1)
	unsub()

	b.Publish(1, "after unsub")
	b.Close(1)

	select {
	case l, ok := <-ch:
		if ok {
			t.Errorf("got unexpected line %q after unsubscribe", l)
		}
	default:
	}
}

func TestLogBrokerMidStreamSubscriberGetsBacklog(t *testing.T) {
	b := engine.NewLogBroker()
	b.Publish(1, "line 1")

	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(1, "line 2")
	b.Close(1)

	got := drain(ch)
	if len(got) != 2 || got[0] != "line 1" || got[1] != "line 2" {
		t.Errorf("mid-stream subscriber got %v, want [line 1 line 2]", got)
	}
}

func TestLogBrokerBacklogIsBounded(t *testing.T) {
	b := engine.NewLogBroker()
	for i := range 100 {
		b.Publish(1, fmt.Sprintf("line %d", i))
	}

	ch, unsub := b.Subscribe(1)
	defer unsub()
	b.Close(1)

	got := drain(ch)
	if len(got) != 32 {
		t.Fatalf("replayed %d lines, want 32", len(got))
	}
	if got[len(got)-1] != "line 99" {
		t.Errorf("last replayed line = %q, want line 99", got[len(got)-1])
	}
}

func TestLogBrokerForgetsClosedTopics(t *testing.T) {
	b := engine.NewLogBrokerWithRetention(10 * time.Millisecond)
	for id := range uint64(50) {
		b.Publish(id, "line")
		b.Close(id)
	}

	waitForTopics(t, b, 0)
}

func waitForTopics(t *testing.T, b *engine.LogBroker, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for b.TopicCount() != want && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := b.TopicCount(); n != want {
		t.Fatalf("broker tracks %d topics, want %d", n, want)
	}
}

func TestLogBrokerReplacedTopicSurvivesPrune(t *testing.T) {
	b := engine.NewLogBrokerWithRetention(20 * time.Millisecond)
	b.Close(1)
	waitForTopics(t, b, 0)

	// A topic created after the prune is a different topic and stays open.
	ch, unsub := b.Subscribe(1)
	defer unsub()
	b.Publish(1, "fresh")

	select {
	case l, ok := <-ch:
		if !ok || l != "fresh" {
			t.Errorf("got %q, want fresh", l)
		}
	case <-time.After(time.Second):
		t.Fatal("no line delivered on recreated topic")
	}
}
