package streaming

import (
	"context"
	"strings"

	"google.golang.org/grpc/codes"

	"github.com/vietddude/relay/internal/core/domain"
	"github.com/vietddude/relay/internal/core/rpcerror"
	"github.com/vietddude/relay/internal/metrics"
)

// defaultNoResponseRetries bounds the legacy helper when no explicit cap
// is configured.
const defaultNoResponseRetries = 2

// legacyLoop is the pre-state-machine retry helper for server streaming.
// It restarts the call only on transport-level failures that arrive before
// any response activity, and makes no attempt to preserve delivered data
// across restarts.
func (p *Proxy) legacyLoop(ctx context.Context) {
	defer close(p.out)

	max := defaultNoResponseRetries
	if p.policy != nil && p.policy.Backoff.MaxRetries != nil {
		max = *p.policy.Backoff.MaxRetries
	}

	retries := 0
	for {
		attempt := p.cfg.Call(ctx, p.cfg.Request)
		metrics.StreamAttemptsTotal.WithLabelValues(p.name).Inc()

		state := &relayState{p: p}
		sawActivity := false

	attemptLoop:
		for {
			select {
			case <-p.cancelCh:
				p.drainCanceled(attempt)
				return
			case <-ctx.Done():
				attempt.Cancel()
				p.emit(domain.ErrorEvent(rpcerror.FromError(ctx.Err())))
				return
			case ev, ok := <-attempt.Events():
				if !ok {
					ev = domain.ErrorEvent(errClosedWithoutStatus())
				}
				if ev.Kind != domain.EventError {
					sawActivity = true
					if state.consume(ev) {
						return
					}
					continue
				}

				e := rpcerror.FromError(ev.Err)
				if sawActivity || !isNoResponseError(e) || retries >= max {
					p.emit(domain.ErrorEvent(e))
					return
				}
				retries++
				metrics.StreamRetriesTotal.WithLabelValues(p.name).Inc()
				attempt.Cancel()
				break attemptLoop
			}
		}
	}
}

// isNoResponseError recognizes transport failures where the server never
// produced a response.
func isNoResponseError(e *rpcerror.Error) bool {
	if e.Code == codes.Unavailable {
		return true
	}
	msg := strings.ToLower(e.Message)
	return strings.Contains(msg, "no response") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "transport is closing")
}
