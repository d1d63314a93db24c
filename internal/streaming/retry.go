package streaming

import (
	"context"
	"time"

	"google.golang.org/grpc/codes"

	"github.com/vietddude/relay/internal/core/backoff"
	"github.com/vietddude/relay/internal/core/domain"
	"github.com/vietddude/relay/internal/core/rpcerror"
	"github.com/vietddude/relay/internal/metrics"
	"github.com/vietddude/relay/internal/retry"
)

// noteNotTransient is attached to terminal errors observed by the retry
// engine. The wording is shared by the no-budget and the non-retryable
// paths on purpose; it is part of the public contract.
const noteNotTransient = "Exception occurred in retry method that was not classified as transient"

// retryLoop is the server-streaming retry state machine. It issues
// successive upstream attempts, forwards their events, and on each failure
// decides between terminal teardown and a backed-off restart with a
// possibly-rebuilt request.
func (p *Proxy) retryLoop(ctx context.Context) {
	defer close(p.out)

	policy := p.policy
	if policy == nil {
		policy = &retry.Policy{}
	}
	bo := policy.Backoff

	clock := backoff.NewClock(bo)
	start := time.Now()
	var deadline time.Time
	if bo.TotalTimeout > 0 {
		deadline = start.Add(bo.TotalTimeout)
	}

	state := &relayState{p: p}
	req := p.cfg.Request
	retryCount := 0

	for {
		// Per-attempt timeout, capped by the remaining total budget.
		attemptCtx := ctx
		attemptCancel := context.CancelFunc(func() {})
		if t := clock.Timeout(time.Now(), deadline); t > 0 {
			attemptCtx, attemptCancel = context.WithTimeout(ctx, t)
		}

		attempt := p.cfg.Call(attemptCtx, req)
		metrics.StreamAttemptsTotal.WithLabelValues(p.name).Inc()

		var attemptErr *rpcerror.Error

	attemptLoop:
		for {
			select {
			case <-p.cancelCh:
				attemptCancel()
				p.drainCanceled(attempt)
				return
			case <-ctx.Done():
				attemptCancel()
				attempt.Cancel()
				p.emit(domain.ErrorEvent(rpcerror.FromError(ctx.Err())))
				return
			case ev, ok := <-attempt.Events():
				if !ok {
					attemptErr = errClosedWithoutStatus()
					break attemptLoop
				}
				switch ev.Kind {
				case domain.EventData:
					// Progress resets the consecutive-failure budget. This
					// is the same counter the exceeded-check reads, which
					// yields unbounded retries while the stream advances.
					retryCount = 0
					state.consume(ev)
				case domain.EventError:
					attemptErr = rpcerror.FromError(ev.Err)
					break attemptLoop
				default:
					if state.consume(ev) {
						attemptCancel()
						return
					}
				}
			}
		}

		attemptCancel()
		attempt.Cancel()
		e := rpcerror.ParseStatusDetails(attemptErr)

		// No retry budget at all means no retry regime; the failure is
		// terminal regardless of its code.
		if bo.MaxRetries == nil && bo.TotalTimeout == 0 {
			e.Note = noteNotTransient
			p.emit(domain.ErrorEvent(e))
			return
		}

		if bo.MaxRetries != nil && bo.TotalTimeout > 0 {
			p.emit(domain.ErrorEvent(rpcerror.New(codes.InvalidArgument,
				"Cannot set both totalTimeoutMillis and maxRetries in backoffSettings.")))
			return
		}

		if !policy.Retryable(e) {
			e.Note = noteNotTransient
			p.emit(domain.ErrorEvent(e))
			return
		}

		if bo.MaxRetries != nil && *bo.MaxRetries == 0 {
			e.Note = "Max retries is set to zero."
			p.emit(domain.ErrorEvent(e))
			return
		}

		switch backoff.Exceeded(bo, retryCount, time.Now(), deadline) {
		case backoff.ReasonMaxRetries:
			p.emit(domain.ErrorEvent(rpcerror.Newf(codes.DeadlineExceeded,
				"Exceeded maximum number of retries retrying error %v before any response was received", e)))
			return
		case backoff.ReasonDeadline:
			p.emit(domain.ErrorEvent(rpcerror.Newf(codes.DeadlineExceeded,
				"Total timeout of API exceeded %d milliseconds retrying error %v  before any response was received.",
				bo.TotalTimeout.Milliseconds(), e)))
			return
		}

		sleep := clock.Pause()
		metrics.RetryBackoffSeconds.WithLabelValues(p.name).Observe(sleep.Seconds())

		timer := time.NewTimer(sleep)
		select {
		case <-p.cancelCh:
			timer.Stop()
			p.emit(domain.ErrorEvent(rpcerror.New(codes.Canceled, "stream canceled")))
			return
		case <-ctx.Done():
			timer.Stop()
			p.emit(domain.ErrorEvent(rpcerror.FromError(ctx.Err())))
			return
		case <-timer.C:
		}

		retryCount++
		metrics.StreamRetriesTotal.WithLabelValues(p.name).Inc()
		req = policy.NextRequest(p.cfg.Request)
	}
}
