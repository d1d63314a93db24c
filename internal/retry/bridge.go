package retry

import (
	"time"

	"google.golang.org/grpc/codes"

	"github.com/vietddude/relay/internal/core/backoff"
	"github.com/vietddude/relay/internal/core/rpcerror"
	"github.com/vietddude/relay/internal/diag"
)

// Diagnostic kinds emitted by the legacy bridge. Each is warned once per
// process.
const (
	KindRetryRequestOptionsDeprecation = "RetryRequestOptionsDeprecationWarning"
	KindNoResponseRetriesUnsupported   = "NoResponseRetriesUnsupportedWarning"
	KindCurrentRetryAttemptUnsupported = "CurrentRetryAttemptUnsupportedWarning"
	KindObjectModeUnsupported          = "ObjectModeUnsupportedWarning"
)

// RequestOptions is the deprecated retry-options shape, accepted for
// backward compatibility and converted by FromRequestOptions. Durations
// are expressed in seconds as the legacy surface did.
type RequestOptions struct {
	Retries              *int
	MaxRetryDelay        float64
	RetryDelayMultiplier float64
	TotalTimeout         float64
	NoResponseRetries    int
	CurrentRetryAttempt  int
	ObjectMode           bool
	ShouldRetryFn        func(*rpcerror.Error) bool
}

// FromRequestOptions converts the legacy shape into a Policy. The result
// carries an empty code set (the legacy surface classified retryability
// through its predicate only). Retries, when present, wins over
// TotalTimeout; the two are never both set on the output.
func FromRequestOptions(o RequestOptions) Policy {
	diag.Warn(KindRetryRequestOptionsDeprecation,
		"retryRequestOptions is deprecated; use retry instead")
	diag.Warn(KindNoResponseRetriesUnsupported,
		"retryRequestOptions.noResponseRetries is not supported and will be ignored")
	diag.Warn(KindCurrentRetryAttemptUnsupported,
		"retryRequestOptions.currentRetryAttempt is not supported and will be ignored")
	diag.Warn(KindObjectModeUnsupported,
		"retryRequestOptions.objectMode is not supported and will be ignored")

	bo := backoff.Settings{
		MaxRetryDelay:        seconds(o.MaxRetryDelay),
		RetryDelayMultiplier: o.RetryDelayMultiplier,
	}
	if o.Retries != nil {
		bo.MaxRetries = o.Retries
	} else {
		bo.TotalTimeout = seconds(o.TotalTimeout)
	}

	return Policy{
		Codes:       []codes.Code{},
		ShouldRetry: o.ShouldRetryFn,
		Backoff:     bo,
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
