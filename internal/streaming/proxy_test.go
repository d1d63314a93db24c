package streaming

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"

	"github.com/vietddude/relay/internal/core/backoff"
	"github.com/vietddude/relay/internal/core/domain"
	"github.com/vietddude/relay/internal/core/rpcerror"
	"github.com/vietddude/relay/internal/infra/transport"
	"github.com/vietddude/relay/internal/retry"
)

// fakeStream is a scripted upstream attempt.
type fakeStream struct {
	events   chan domain.Event
	mu       sync.Mutex
	canceled bool
	onCancel func(*fakeStream)
}

func (f *fakeStream) Events() <-chan domain.Event { return f.events }

func (f *fakeStream) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.canceled {
		return
	}
	f.canceled = true
	if f.onCancel != nil {
		f.onCancel(f)
	}
}

// fakeCall replays one scripted attempt per upstream call, repeating the
// last script when the call count exceeds the script count.
type fakeCall struct {
	mu       sync.Mutex
	requests []any
	scripts  [][]domain.Event
}

func (c *fakeCall) call(ctx context.Context, req any) transport.Stream {
	c.mu.Lock()
	i := len(c.requests)
	c.requests = append(c.requests, req)
	script := c.scripts[len(c.scripts)-1]
	if i < len(c.scripts) {
		script = c.scripts[i]
	}
	c.mu.Unlock()

	f := &fakeStream{events: make(chan domain.Event, len(script)+1)}
	for _, ev := range script {
		f.events <- ev
	}
	close(f.events)
	return f
}

func (c *fakeCall) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

func fastBackoff() backoff.Settings {
	return backoff.Settings{
		InitialRetryDelay:    time.Millisecond,
		RetryDelayMultiplier: 1,
		MaxRetryDelay:        time.Millisecond,
		InitialRPCTimeout:    time.Second,
		RPCTimeoutMultiplier: 1,
		MaxRPCTimeout:        time.Second,
	}
}

func errEvent(code codes.Code) domain.Event {
	return domain.ErrorEvent(rpcerror.New(code, "upstream failure"))
}

func okStatus() domain.Event {
	return domain.StatusEvent(&domain.Status{Code: codes.OK})
}

func collectEvents(t *testing.T, p *Proxy) []domain.Event {
	t.Helper()
	var out []domain.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-p.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("timed out waiting for events, got %d so far", len(out))
		}
	}
}

func kinds(events []domain.Event) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Kind.String())
	}
	return out
}

func newServerProxy(t *testing.T, call *fakeCall, policy *retry.Policy, req any) *Proxy {
	t.Helper()
	p, err := New(context.Background(), Config{
		Kind:             domain.ServerStreaming,
		Call:             call.call,
		Request:          req,
		Settings:         retry.CallSettings{Retry: policy},
		StreamingRetries: true,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestEventOrdering(t *testing.T) {
	call := &fakeCall{scripts: [][]domain.Event{{
		domain.MetadataEvent(metadata.MD{"foo": []string{"true"}}),
		domain.DataEvent("a"),
		domain.DataEvent("b"),
		okStatus(),
		domain.EndEvent(),
	}}}

	p := newServerProxy(t, call, &retry.Policy{Backoff: fastBackoff()}, nil)
	events := collectEvents(t, p)

	want := []string{"metadata", "response", "data", "data", "status", "end"}
	got := kinds(events)
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("event order = %v, want %v", got, want)
	}
}

func TestSynthesizedResponseFromMetadata(t *testing.T) {
	md := metadata.MD{"foo": []string{"true"}}
	call := &fakeCall{scripts: [][]domain.Event{{
		domain.MetadataEvent(md),
		domain.EndEvent(),
		domain.StatusEvent(&domain.Status{Code: codes.OK, Metadata: md}),
	}}}

	p := newServerProxy(t, call, &retry.Policy{Backoff: fastBackoff()}, nil)
	events := collectEvents(t, p)

	want := []string{"metadata", "response", "status", "end"}
	if strings.Join(kinds(events), ",") != strings.Join(want, ",") {
		t.Fatalf("event order = %v, want %v", kinds(events), want)
	}

	resp := events[1].Response
	if resp.Code != 200 || resp.Message != "OK" || resp.Details != "" {
		t.Errorf("envelope = %+v", resp)
	}
	if got := resp.Metadata.Get("foo"); len(got) != 1 || got[0] != "true" {
		t.Errorf("envelope metadata = %v", resp.Metadata)
	}
}

func TestSynthesizedResponseWithoutMetadata(t *testing.T) {
	call := &fakeCall{scripts: [][]domain.Event{{
		domain.EndEvent(),
		domain.StatusEvent(&domain.Status{Code: codes.OK, Metadata: metadata.MD{"m": []string{"true"}}}),
	}}}

	p := newServerProxy(t, call, &retry.Policy{Backoff: fastBackoff()}, nil)
	events := collectEvents(t, p)

	want := []string{"response", "status", "end"}
	if strings.Join(kinds(events), ",") != strings.Join(want, ",") {
		t.Fatalf("event order = %v, want %v", kinds(events), want)
	}

	resp := events[0].Response
	if resp.Code != 200 || resp.Message != "OK" || resp.Details != "" {
		t.Errorf("envelope = %+v", resp)
	}
	if resp.Metadata != nil {
		t.Errorf("envelope carries metadata %v, want none", resp.Metadata)
	}
}

func TestRetryThenSucceed(t *testing.T) {
	bo := fastBackoff()
	bo.MaxRetries = backoff.Retries(1)
	call := &fakeCall{scripts: [][]domain.Event{
		{domain.DataEvent("Hello"), domain.DataEvent("World"), errEvent(codes.Unavailable)},
		{domain.DataEvent("testing"), domain.DataEvent("retries"), okStatus(), domain.EndEvent()},
	}}

	p := newServerProxy(t, call, retry.OnCodes([]codes.Code{codes.Unavailable}, bo), nil)
	events := collectEvents(t, p)

	var data []string
	for _, ev := range events {
		if ev.Kind == domain.EventData {
			data = append(data, ev.Message.(string))
		}
	}
	want := "Hello,World,testing,retries"
	if strings.Join(data, ",") != want {
		t.Errorf("data = %v, want %v", data, want)
	}
	if events[len(events)-1].Kind != domain.EventEnd {
		t.Errorf("terminal event = %v, want end", events[len(events)-1].Kind)
	}
	if call.calls() != 2 {
		t.Errorf("upstream calls = %d, want 2", call.calls())
	}
}

func TestResumptionRequest(t *testing.T) {
	bo := fastBackoff()
	bo.MaxRetries = backoff.Retries(2)
	policy := retry.OnCodes([]codes.Code{codes.Unavailable}, bo)
	policy.ResumeRequest = func(orig any) any {
		m := orig.(map[string]any)
		return map[string]any{"arg": m["arg"].(int) + 2}
	}

	call := &fakeCall{scripts: [][]domain.Event{
		{errEvent(codes.Unavailable)},
		{okStatus(), domain.EndEvent()},
	}}

	p := newServerProxy(t, call, policy, map[string]any{"arg": 0})
	collectEvents(t, p)

	if call.calls() != 2 {
		t.Fatalf("upstream calls = %d, want 2", call.calls())
	}
	second := call.requests[1].(map[string]any)
	if second["arg"] != 2 {
		t.Errorf("second request arg = %v, want 2", second["arg"])
	}
}

func TestBothBudgetsRejected(t *testing.T) {
	bo := fastBackoff()
	bo.MaxRetries = backoff.Retries(1)
	bo.TotalTimeout = time.Second

	call := &fakeCall{scripts: [][]domain.Event{{errEvent(codes.Unavailable)}}}
	p := newServerProxy(t, call, retry.OnCodes([]codes.Code{codes.Unavailable}, bo), nil)
	events := collectEvents(t, p)

	last := events[len(events)-1]
	if last.Kind != domain.EventError {
		t.Fatalf("terminal event = %v, want error", last.Kind)
	}
	e := rpcerror.FromError(last.Err)
	if e.Code != codes.InvalidArgument {
		t.Errorf("code = %v, want InvalidArgument", e.Code)
	}
	if e.Message != "Cannot set both totalTimeoutMillis and maxRetries in backoffSettings." {
		t.Errorf("message = %q", e.Message)
	}
}

func TestMaxRetriesExceeded(t *testing.T) {
	bo := fastBackoff()
	bo.MaxRetries = backoff.Retries(2)

	call := &fakeCall{scripts: [][]domain.Event{{errEvent(codes.Unavailable)}}}
	p := newServerProxy(t, call, retry.OnCodes([]codes.Code{codes.Unavailable}, bo), nil)
	events := collectEvents(t, p)

	last := events[len(events)-1]
	e := rpcerror.FromError(last.Err)
	if e.Code != codes.DeadlineExceeded {
		t.Errorf("code = %v, want DeadlineExceeded", e.Code)
	}
	if !strings.HasPrefix(e.Message, "Exceeded maximum number of retries") {
		t.Errorf("message = %q", e.Message)
	}
	if call.calls() != 3 {
		t.Errorf("upstream calls = %d, want 3", call.calls())
	}
}

func TestTotalTimeoutExceeded(t *testing.T) {
	bo := fastBackoff()
	bo.TotalTimeout = 10 * time.Millisecond

	call := &fakeCall{scripts: [][]domain.Event{{errEvent(codes.Unavailable)}}}
	p := newServerProxy(t, call, retry.OnCodes([]codes.Code{codes.Unavailable}, bo), nil)
	events := collectEvents(t, p)

	last := events[len(events)-1]
	e := rpcerror.FromError(last.Err)
	if e.Code != codes.DeadlineExceeded {
		t.Errorf("code = %v, want DeadlineExceeded", e.Code)
	}
	if !strings.Contains(e.Message, "Total timeout of API exceeded 10 milliseconds") {
		t.Errorf("message = %q", e.Message)
	}
}

func TestNonRetryableError(t *testing.T) {
	bo := fastBackoff()
	bo.MaxRetries = backoff.Retries(5)

	call := &fakeCall{scripts: [][]domain.Event{{errEvent(codes.InvalidArgument)}}}
	p := newServerProxy(t, call, retry.OnCodes([]codes.Code{codes.NotFound}, bo), nil)
	events := collectEvents(t, p)

	last := events[len(events)-1]
	e := rpcerror.FromError(last.Err)
	if e.Code != codes.InvalidArgument {
		t.Errorf("code = %v, want original InvalidArgument", e.Code)
	}
	if e.Note != "Exception occurred in retry method that was not classified as transient" {
		t.Errorf("note = %q", e.Note)
	}
	if call.calls() != 1 {
		t.Errorf("upstream calls = %d, want 1 (no retries)", call.calls())
	}
}

func TestNoBudgetIsTerminal(t *testing.T) {
	// Without maxRetries or totalTimeout there is no retry regime at all,
	// even for codes in the retry set.
	call := &fakeCall{scripts: [][]domain.Event{{errEvent(codes.Unavailable)}}}
	p := newServerProxy(t, call, retry.OnCodes([]codes.Code{codes.Unavailable}, fastBackoff()), nil)
	events := collectEvents(t, p)

	e := rpcerror.FromError(events[len(events)-1].Err)
	if e.Note != "Exception occurred in retry method that was not classified as transient" {
		t.Errorf("note = %q", e.Note)
	}
	if call.calls() != 1 {
		t.Errorf("upstream calls = %d, want 1", call.calls())
	}
}

func TestMaxRetriesZeroNote(t *testing.T) {
	bo := fastBackoff()
	bo.MaxRetries = backoff.Retries(0)

	call := &fakeCall{scripts: [][]domain.Event{{errEvent(codes.Unavailable)}}}
	p := newServerProxy(t, call, retry.OnCodes([]codes.Code{codes.Unavailable}, bo), nil)
	events := collectEvents(t, p)

	e := rpcerror.FromError(events[len(events)-1].Err)
	if e.Code != codes.Unavailable {
		t.Errorf("code = %v, want original Unavailable", e.Code)
	}
	if e.Note != "Max retries is set to zero." {
		t.Errorf("note = %q", e.Note)
	}
}

func TestCancelMidStream(t *testing.T) {
	upstream := &fakeStream{events: make(chan domain.Event, 8)}
	for i := 0; i < 5; i++ {
		upstream.events <- domain.DataEvent(i)
	}
	upstream.onCancel = func(f *fakeStream) {
		f.events <- domain.ErrorEvent(rpcerror.New(codes.Canceled, "call canceled by the client"))
		close(f.events)
	}

	bo := fastBackoff()
	bo.MaxRetries = backoff.Retries(5)
	p, err := New(context.Background(), Config{
		Kind:             domain.ServerStreaming,
		Call:             func(context.Context, any) transport.Stream { return upstream },
		Settings:         retry.CallSettings{Retry: retry.OnCodes([]codes.Code{codes.Unavailable}, bo)},
		StreamingRetries: true,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var events []domain.Event
	received := 0
	for ev := range p.Events() {
		events = append(events, ev)
		if ev.Kind == domain.EventData {
			received++
			if received == 5 {
				p.Cancel()
			}
		}
	}

	upstream.mu.Lock()
	canceled := upstream.canceled
	upstream.mu.Unlock()
	if !canceled {
		t.Error("upstream Cancel was not invoked")
	}

	var dataAfterCancel, errCount, dataSeen int
	for _, ev := range events {
		if ev.Kind == domain.EventError {
			errCount++
		}
		if ev.Kind == domain.EventData {
			dataSeen++
			if dataSeen > 5 {
				dataAfterCancel++
			}
		}
	}
	if errCount != 1 {
		t.Errorf("error events = %d, want exactly 1", errCount)
	}
	if dataAfterCancel != 0 {
		t.Errorf("data after cancel = %d, want 0", dataAfterCancel)
	}
	if e := rpcerror.FromError(events[len(events)-1].Err); e.Code != codes.Canceled || e.Note != "" {
		t.Errorf("cancellation error not forwarded unchanged: %+v", e)
	}
}

func TestProgressResetsRetryBudget(t *testing.T) {
	// data, error, data, error... must retry indefinitely while the stream
	// advances, even with a small maxRetries.
	bo := fastBackoff()
	bo.MaxRetries = backoff.Retries(2)

	scripts := [][]domain.Event{}
	for i := 0; i < 6; i++ {
		scripts = append(scripts, []domain.Event{domain.DataEvent(i), errEvent(codes.Unavailable)})
	}
	scripts = append(scripts, []domain.Event{domain.DataEvent(6), okStatus(), domain.EndEvent()})

	call := &fakeCall{scripts: scripts}
	p := newServerProxy(t, call, retry.OnCodes([]codes.Code{codes.Unavailable}, bo), nil)
	events := collectEvents(t, p)

	var data int
	for _, ev := range events {
		if ev.Kind == domain.EventData {
			data++
		}
	}
	if data != 7 {
		t.Errorf("data events = %d, want 7", data)
	}
	if events[len(events)-1].Kind != domain.EventEnd {
		t.Errorf("terminal = %v, want end", events[len(events)-1].Kind)
	}
	if call.calls() != 7 {
		t.Errorf("upstream calls = %d, want 7", call.calls())
	}
}

func TestRESTStreamingNotRetried(t *testing.T) {
	bo := fastBackoff()
	bo.MaxRetries = backoff.Retries(5)

	call := &fakeCall{scripts: [][]domain.Event{{errEvent(codes.Unavailable)}}}
	p, err := New(context.Background(), Config{
		Kind:             domain.ServerStreaming,
		Call:             call.call,
		Settings:         retry.CallSettings{Retry: retry.OnCodes([]codes.Code{codes.Unavailable}, bo)},
		RESTTransport:    true,
		StreamingRetries: true,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	events := collectEvents(t, p)

	e := rpcerror.FromError(events[len(events)-1].Err)
	if e.Code != codes.Unavailable || e.Note != "" {
		t.Errorf("error not forwarded unchanged: %+v", e)
	}
	if call.calls() != 1 {
		t.Errorf("upstream calls = %d, want 1", call.calls())
	}
}

func TestResumeRequiresRetryEngine(t *testing.T) {
	policy := &retry.Policy{
		ResumeRequest: func(orig any) any { return orig },
		Backoff:       fastBackoff(),
	}
	call := &fakeCall{scripts: [][]domain.Event{{okStatus(), domain.EndEvent()}}}

	_, err := New(context.Background(), Config{
		Kind:     domain.ServerStreaming,
		Call:     call.call,
		Settings: retry.CallSettings{Retry: policy},
	})
	if !errors.Is(err, ErrResumeRequiresRetries) {
		t.Errorf("err = %v, want ErrResumeRequiresRetries", err)
	}
	if call.calls() != 0 {
		t.Errorf("upstream calls = %d, want 0", call.calls())
	}
}

func TestRetryConflictBeforeDispatch(t *testing.T) {
	call := &fakeCall{scripts: [][]domain.Event{{okStatus(), domain.EndEvent()}}}
	_, err := New(context.Background(), Config{
		Kind: domain.ServerStreaming,
		Call: call.call,
		Settings: retry.CallSettings{
			Retry:          &retry.Policy{},
			RequestOptions: &retry.RequestOptions{},
		},
		StreamingRetries: true,
	})
	if err == nil || err.Error() != "Only one of retry or retryRequestOptions may be set" {
		t.Errorf("err = %v", err)
	}
	if call.calls() != 0 {
		t.Errorf("upstream calls = %d, want 0", call.calls())
	}
}

func TestLegacyNoResponseRetry(t *testing.T) {
	call := &fakeCall{scripts: [][]domain.Event{
		{domain.ErrorEvent(rpcerror.New(codes.Unavailable, "connection refused"))},
		{okStatus(), domain.EndEvent()},
	}}

	p, err := New(context.Background(), Config{
		Kind: domain.ServerStreaming,
		Call: call.call,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	events := collectEvents(t, p)

	if events[len(events)-1].Kind != domain.EventEnd {
		t.Errorf("terminal = %v, want end", events[len(events)-1].Kind)
	}
	if call.calls() != 2 {
		t.Errorf("upstream calls = %d, want 2", call.calls())
	}
}

func TestLegacyDoesNotRetryAfterActivity(t *testing.T) {
	call := &fakeCall{scripts: [][]domain.Event{
		{domain.DataEvent("x"), domain.ErrorEvent(rpcerror.New(codes.Unavailable, "connection reset"))},
		{okStatus(), domain.EndEvent()},
	}}

	p, err := New(context.Background(), Config{
		Kind: domain.ServerStreaming,
		Call: call.call,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	events := collectEvents(t, p)

	if events[len(events)-1].Kind != domain.EventError {
		t.Errorf("terminal = %v, want error", events[len(events)-1].Kind)
	}
	if call.calls() != 1 {
		t.Errorf("upstream calls = %d, want 1", call.calls())
	}
}
