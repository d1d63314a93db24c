// Package retry resolves whether a failed attempt is retried, how the next
// request is built, and how legacy retry options map onto the current
// policy shape.
package retry

import (
	"google.golang.org/grpc/codes"

	"github.com/vietddude/relay/internal/core/backoff"
	"github.com/vietddude/relay/internal/core/rpcerror"
)

// Policy is the effective retry configuration for one call.
//
// An error is retryable iff ShouldRetry is present and returns true, or
// ShouldRetry is absent, Codes is non-empty and the error's code is a
// member. An empty code set with no predicate means never retry.
// ResumeRequest, when set, rebuilds the next attempt's request from the
// original one; it is the only mechanism for skipping already-delivered
// data across retries.
type Policy struct {
	Codes         []codes.Code
	ShouldRetry   func(*rpcerror.Error) bool
	ResumeRequest func(any) any
	Backoff       backoff.Settings
}

// OnCodes builds a policy retrying on the given status codes.
func OnCodes(cc []codes.Code, bo backoff.Settings) *Policy {
	return &Policy{Codes: append([]codes.Code(nil), cc...), Backoff: bo}
}

// Retryable classifies an error under the policy.
func (p *Policy) Retryable(e *rpcerror.Error) bool {
	if p.ShouldRetry != nil {
		return p.ShouldRetry(e)
	}
	for _, c := range p.Codes {
		if c == e.Code {
			return true
		}
	}
	return false
}

// NextRequest derives the request for the next attempt from the original
// one. Identity unless a resumption function is configured.
func (p *Policy) NextRequest(original any) any {
	if p.ResumeRequest != nil {
		return p.ResumeRequest(original)
	}
	return original
}
