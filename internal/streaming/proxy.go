package streaming

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"google.golang.org/grpc/codes"

	"github.com/vietddude/relay/internal/core/domain"
	"github.com/vietddude/relay/internal/core/rpcerror"
	"github.com/vietddude/relay/internal/infra/transport"
	"github.com/vietddude/relay/internal/metrics"
	"github.com/vietddude/relay/internal/retry"
)

// ErrResumeRequiresRetries rejects a resumption function on the legacy
// streaming path; rewriting requests only makes sense under the retry
// state machine.
var ErrResumeRequiresRetries = errors.New(
	"a resumption function requires the streaming retry engine to be enabled")

// Config parameterizes one proxied call.
type Config struct {
	Kind    domain.StreamKind
	Name    string // label for logs and metrics
	Call    transport.StubCall
	Request any

	Settings retry.CallSettings

	// RESTTransport marks REST-based server streaming: the transport's own
	// parser produces the stream and this engine never retries it.
	RESTTransport bool

	// StreamingRetries selects the retry state machine over the legacy
	// no-response retry helper for server-streaming calls.
	StreamingRetries bool
}

// Proxy is the consumer-facing half of a proxied call. The consumer must
// drain Events() until it closes; the terminal event is always last.
type Proxy struct {
	cfg    Config
	name   string
	policy *retry.Policy

	out      chan domain.Event
	cancelCh chan struct{}
	once     sync.Once

	sendMu sync.Mutex
	sender transport.SendStream
}

// New validates the call configuration and starts the proxy. Configuration
// conflicts surface here, before any upstream dispatch.
func New(ctx context.Context, cfg Config) (*Proxy, error) {
	policy, err := cfg.Settings.ResolveRetry()
	if err != nil {
		return nil, err
	}
	if policy != nil && policy.ResumeRequest != nil && !cfg.StreamingRetries {
		return nil, ErrResumeRequiresRetries
	}

	name := cfg.Name
	if name == "" {
		name = "stream"
	}

	p := &Proxy{
		cfg:      cfg,
		name:     name,
		policy:   policy,
		out:      make(chan domain.Event, 32),
		cancelCh: make(chan struct{}),
	}
	go p.run(ctx)
	return p, nil
}

// Events returns the consumer stream. Closed after the terminal event.
func (p *Proxy) Events() <-chan domain.Event {
	return p.out
}

// Cancel cancels the live upstream stream and disarms any pending retry.
// The consumer still observes one terminal event. A Cancel after terminal
// completion is a no-op.
func (p *Proxy) Cancel() {
	p.once.Do(func() { close(p.cancelCh) })
}

// Send forwards a message into the upstream for client and bidi streams.
func (p *Proxy) Send(msg any) error {
	if p.cfg.Kind == domain.ServerStreaming {
		return fmt.Errorf("send on a server-streaming call")
	}
	p.sendMu.Lock()
	s := p.sender
	p.sendMu.Unlock()
	if s == nil {
		return fmt.Errorf("upstream not ready")
	}
	return s.Send(msg)
}

// CloseSend half-closes the upstream for client and bidi streams.
func (p *Proxy) CloseSend() error {
	p.sendMu.Lock()
	s := p.sender
	p.sendMu.Unlock()
	if s == nil {
		return fmt.Errorf("upstream not ready")
	}
	return s.CloseSend()
}

func (p *Proxy) setSender(s transport.SendStream) {
	p.sendMu.Lock()
	p.sender = s
	p.sendMu.Unlock()
}

func (p *Proxy) run(ctx context.Context) {
	switch {
	case p.cfg.Kind != domain.ServerStreaming:
		p.passthrough(ctx)
	case p.cfg.RESTTransport:
		p.passthrough(ctx)
	case p.cfg.StreamingRetries:
		p.retryLoop(ctx)
	default:
		p.legacyLoop(ctx)
	}
}

func (p *Proxy) emit(ev domain.Event) {
	metrics.StreamEventsTotal.WithLabelValues(p.name, ev.Kind.String()).Inc()
	p.out <- ev
}

// relayState applies the forwarding rules shared by all modes: response
// synthesis from metadata, first data or status, and buffering end until status has
// also arrived so end cannot race past consumers.
type relayState struct {
	p               *Proxy
	responseEmitted bool
	statusSeen      bool
	endSeen         bool
}

// consume forwards one upstream event. It returns true once the consumer
// stream has terminated normally. Error events are not handled here; the
// owning mode decides teardown versus retry.
func (r *relayState) consume(ev domain.Event) (done bool) {
	switch ev.Kind {
	case domain.EventMetadata:
		if r.responseEmitted {
			return false
		}
		r.p.emit(ev)
		r.responseEmitted = true
		r.p.emit(domain.ResponseEvent(&domain.ResponseEnvelope{
			Code:     200,
			Message:  "OK",
			Metadata: ev.Metadata,
		}))
	case domain.EventResponse:
		if !r.responseEmitted {
			r.responseEmitted = true
			r.p.emit(ev)
		}
	case domain.EventData:
		if !r.responseEmitted {
			r.responseEmitted = true
			r.p.emit(domain.ResponseEvent(&domain.ResponseEnvelope{
				Code:    200,
				Message: "OK",
			}))
		}
		r.p.emit(ev)
	case domain.EventStatus:
		r.statusSeen = true
		if !r.responseEmitted {
			r.responseEmitted = true
			r.p.emit(domain.ResponseEvent(&domain.ResponseEnvelope{
				Code:    200,
				Message: "OK",
			}))
		}
		r.p.emit(ev)
		if r.endSeen {
			r.p.emit(domain.EndEvent())
			return true
		}
	case domain.EventEnd:
		r.endSeen = true
		if r.statusSeen {
			r.p.emit(domain.EndEvent())
			return true
		}
	}
	return false
}

// passthrough pipes a single upstream attempt to the consumer: client and
// bidi streams, and REST server streaming, are never retried here.
func (p *Proxy) passthrough(ctx context.Context) {
	defer close(p.out)

	attempt := p.cfg.Call(ctx, p.cfg.Request)
	metrics.StreamAttemptsTotal.WithLabelValues(p.name).Inc()
	if ss, ok := attempt.(transport.SendStream); ok {
		p.setSender(ss)
	}

	state := &relayState{p: p}
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
				p.emit(domain.ErrorEvent(errClosedWithoutStatus()))
				return
			}
			if ev.Kind == domain.EventError {
				p.emit(ev)
				return
			}
			if state.consume(ev) {
				return
			}
		}
	}
}

// drainCanceled cancels the upstream and forwards its cancellation error
// unchanged; it is the user's cancellation, not a transient failure.
func (p *Proxy) drainCanceled(attempt transport.Stream) {
	attempt.Cancel()
	for ev := range attempt.Events() {
		if ev.Kind == domain.EventError {
			p.emit(ev)
			return
		}
	}
	p.emit(domain.ErrorEvent(rpcerror.New(codes.Canceled, "stream canceled")))
}

func errClosedWithoutStatus() *rpcerror.Error {
	return rpcerror.New(codes.Unavailable, "upstream closed without a status")
}
