package rpcerror

import (
	"strings"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	spb "google.golang.org/genproto/googleapis/rpc/status"
	"google.golang.org/protobuf/proto"
)

// statusDetailsKey is the well-known metadata key carrying a binary-encoded
// google.rpc.Status in gRPC trailers.
const statusDetailsKey = "grpc-status-details-bin"

// ParseStatusDetails decodes the status blob from e.Metadata, if present,
// and copies any embedded ErrorInfo onto the error. It is idempotent (a
// second call is a no-op) and tolerant: absent metadata, unknown detail
// types and malformed payloads leave the decoded fields unset.
func ParseStatusDetails(e *Error) *Error {
	if e == nil || e.decoded {
		return e
	}
	e.decoded = true

	vals := e.Metadata.Get(statusDetailsKey)
	if len(vals) == 0 {
		return e
	}

	var st spb.Status
	if err := proto.Unmarshal([]byte(vals[0]), &st); err != nil {
		return e
	}

	for _, detail := range st.GetDetails() {
		if !strings.HasSuffix(detail.GetTypeUrl(), "ErrorInfo") {
			continue
		}
		var info errdetails.ErrorInfo
		if err := proto.Unmarshal(detail.GetValue(), &info); err != nil {
			continue
		}
		e.Reason = info.GetReason()
		e.Domain = info.GetDomain()
		if md := info.GetMetadata(); len(md) > 0 {
			e.ErrorInfoMetadata = make(map[string]string, len(md))
			for k, v := range md {
				e.ErrorInfoMetadata[k] = v
			}
		}
	}
	return e
}
