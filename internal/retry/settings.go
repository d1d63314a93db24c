package retry

import "errors"

// ErrRetryConflict is returned when a call sets both the current and the
// legacy retry shapes. Surfaced before any upstream dispatch.
var ErrRetryConflict = errors.New("Only one of retry or retryRequestOptions may be set")

// CallSettings is the merged per-call configuration the engines consume.
type CallSettings struct {
	Retry          *Policy
	RequestOptions *RequestOptions

	AutoPaginate bool
	MaxResults   int
	PageToken    string
}

// ResolveRetry returns the effective policy, converting legacy options when
// present. Setting both shapes is a conflict.
func (s CallSettings) ResolveRetry() (*Policy, error) {
	if s.Retry != nil && s.RequestOptions != nil {
		return nil, ErrRetryConflict
	}
	if s.RequestOptions != nil {
		p := FromRequestOptions(*s.RequestOptions)
		return &p, nil
	}
	return s.Retry, nil
}
