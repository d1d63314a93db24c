package paging

import (
	"context"
	"sync"

	"github.com/vietddude/relay/internal/core/domain"
	"github.com/vietddude/relay/internal/diag"
	"github.com/vietddude/relay/internal/metrics"
	"github.com/vietddude/relay/internal/retry"
)

// PageStream is the event-driven surface: a response event per raw page, a
// data event per non-nil resource, and a single end or error. Nothing is
// dispatched until the first Resume; while paused, the next page request
// is held, not issued.
type PageStream struct {
	events chan domain.Event

	mu       sync.Mutex
	paused   bool
	resumeCh chan struct{}

	cancelOnce sync.Once
	cancelCh   chan struct{}
}

// Stream starts the paginating stream. AutoPaginate is forced off for the
// underlying pages; a caller setting it draws a one-time warning.
func (d *Descriptor) Stream(ctx context.Context, call UnaryCall, req map[string]any, s retry.CallSettings) *PageStream {
	if s.AutoPaginate {
		diag.Warn(KindAutopaginateTrue,
			"autoPaginate is ignored on iterator and stream surfaces")
		s.AutoPaginate = false
	}

	ps := &PageStream{
		events:   make(chan domain.Event, 16),
		paused:   true,
		resumeCh: make(chan struct{}, 1),
		cancelCh: make(chan struct{}),
	}
	go ps.run(ctx, d, call, d.initialRequest(req, s), s.MaxResults)
	return ps
}

// Events returns the consumer stream. Closed after end or error.
func (ps *PageStream) Events() <-chan domain.Event {
	return ps.events
}

// Resume starts or continues pagination.
func (ps *PageStream) Resume() {
	ps.mu.Lock()
	ps.paused = false
	ps.mu.Unlock()
	select {
	case ps.resumeCh <- struct{}{}:
	default:
	}
}

// Pause holds the next page request until Resume.
func (ps *PageStream) Pause() {
	ps.mu.Lock()
	ps.paused = true
	ps.mu.Unlock()
}

// Cancel stops the stream. No error event is emitted for the cancellation;
// the events channel is closed once the stream observes it.
func (ps *PageStream) Cancel() {
	ps.cancelOnce.Do(func() { close(ps.cancelCh) })
}

func (ps *PageStream) isPaused() bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.paused
}

// waitResumed blocks while the stream is paused. Returns false when the
// stream is canceled or the context ends.
func (ps *PageStream) waitResumed(ctx context.Context) bool {
	for ps.isPaused() {
		select {
		case <-ps.resumeCh:
		case <-ps.cancelCh:
			return false
		case <-ctx.Done():
			return false
		}
	}
	return true
}

func (ps *PageStream) run(ctx context.Context, d *Descriptor, call UnaryCall, req map[string]any, maxResults int) {
	defer close(ps.events)

	delivered := 0
	empties := 0

	for {
		if !ps.waitResumed(ctx) {
			return
		}
		if req == nil {
			ps.events <- domain.EndEvent()
			return
		}

		resp, err := call(ctx, req)
		if err != nil {
			ps.events <- domain.ErrorEvent(err)
			return
		}
		metrics.PagesFetchedTotal.WithLabelValues(d.ResourceField).Inc()
		ps.events <- domain.Event{Kind: domain.EventResponse, Message: resp}

		resources, next := d.parse(req, resp)
		if len(resources) == 0 {
			empties++
			if empties > maxEmptyPages {
				ps.events <- domain.EndEvent()
				return
			}
		} else {
			empties = 0
		}

		for _, r := range resources {
			if r == nil {
				continue
			}
			select {
			case ps.events <- domain.DataEvent(r):
			case <-ps.cancelCh:
				return
			case <-ctx.Done():
				return
			}
			metrics.PageResourcesTotal.WithLabelValues(d.ResourceField).Inc()
			delivered++
			if maxResults > 0 && delivered >= maxResults {
				ps.events <- domain.EndEvent()
				return
			}
		}

		req = next
	}
}
