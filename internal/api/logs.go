package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/seantiz/cairoprove/internal/model"
)

// jobState is the payload of the status and done events.
type jobState struct {
	Status  model.Status `json:"status"`
	Message string       `json:"message,omitempty"`
}

// handleStreamLogs follows a job's stage output as server-sent events.
//
// The stream opens with a status event. A queued job emits no lines until it
// gets a proving slot. Stage output follows as unnamed data events, and a done
// event carrying the final status ends the stream. A job that already
// finished gets the done event alone.
func (s *Server) handleStreamLogs(w http.ResponseWriter, r *http.Request) {
	j, ok := s.loadJob(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	sse := newSSEStream(w)

	if j.Status.Terminal() {
		sse.sendState("done", j)
		return
	}

	// A queued job may wait for a slot far longer than the write timeout.
	if err := sse.rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Warn("clear write deadline", "job_id", j.ID, "error", err)
	}

	// Subscribing after the status read is safe: a job that finished in
	// between has a closed topic, so the loop ends at once.
	ch, unsub := s.engine.Broker().Subscribe(j.ID)
	defer unsub()

	if err := sse.sendState("status", j); err != nil {
		return
	}

	for {
		select {
		case line, ok := <-ch:
			if !ok {
				sse.sendState("done", s.finalState(r.Context(), j))
				return
			}
			if err := sse.send("", line); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

// finalState re-reads the job once its topic closes. The engine records the
// outcome before closing the topic.
func (s *Server) finalState(ctx context.Context, j *model.Job) *model.Job {
	latest, err := s.store.Get(ctx, j.ID)
	if err != nil {
		s.logger.Warn("reload job for log stream", "job_id", j.ID, "error", err)
		return j
	}
	return latest
}

type sseStream struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

func newSSEStream(w http.ResponseWriter) *sseStream {
	return &sseStream{w: w, rc: http.NewResponseController(w)}
}

// send writes one event and flushes it. An empty name sends a plain data
// event; embedded newlines become extra data lines.
func (s *sseStream) send(name, data string) error {
	var b strings.Builder
	if name != "" {
		fmt.Fprintf(&b, "event: %s\n", name)
	}
	for seg := range strings.SplitSeq(data, "\n") {
		fmt.Fprintf(&b, "data: %s\n", seg)
	}
	b.WriteByte('\n')

	if _, err := fmt.Fprint(s.w, b.String()); err != nil {
		return err
	}
	if err := s.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}

func (s *sseStream) sendState(name string, j *model.Job) error {
	data, err := json.Marshal(jobState{Status: j.Status, Message: j.Message})
	if err != nil {
		return err
	}
	return s.send(name, string(data))
}
