package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/askql/lake/agent/pkg/events"
	"github.com/malbeclabs/askql/lake/api/metrics"
)

var errStreamingUnsupported = errors.New("streaming not supported")

// stream writes turn events as server-sent events. Sends are serialized so
// heartbeats never interleave with turn events.
type stream struct {
	log     *slog.Logger
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
}

var _ events.Sink = (*stream)(nil)

func openStream(log *slog.Logger, w http.ResponseWriter) (*stream, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errStreamingUnsupported
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &stream{log: log, w: w, flusher: flusher}, nil
}

// Send writes one event. A write failure means the client is gone.
func (s *stream) Send(ctx context.Context, ev events.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", ev.Type, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.log.Debug("sse: sending event", "type", ev.Type, "bytes", len(data))
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
		return fmt.Errorf("%w: %v", events.ErrDisconnected, err)
	}
	s.flusher.Flush()
	return nil
}

// heartbeat keeps the connection alive through proxies until the returned
// stop function is called or ctx ends. stop waits for the sender to exit.
func (s *stream) heartbeat(ctx context.Context, clock clockwork.Clock, every time.Duration) (stop func()) {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := clock.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.Chan():
				if err := s.Send(ctx, events.Event{Type: events.TypeHeartbeat}); err != nil {
					return
				}
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

// serve opens the event stream and runs fn with it as the sink.
func (h *Handlers) serve(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, sink events.Sink) error) {
	s, err := openStream(h.log, w)
	if err != nil {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}
	metrics.StreamsActive.Inc()
	defer metrics.StreamsActive.Dec()

	ctx := r.Context()
	stop := s.heartbeat(ctx, h.cfg.Clock, h.cfg.Heartbeat)
	defer stop()

	if err := fn(ctx, s); err != nil {
		// The turn already reported the failure on the stream.
		h.log.Debug("sse: turn ended with error", "path", r.URL.Path, "error", err)
	}
}
