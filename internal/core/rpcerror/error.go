// Package rpcerror defines the tagged error surfaced by the retry engine
// and the decoder for the binary status blob carried in trailer metadata.
package rpcerror

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// Error is a failed call outcome with a gRPC-style status code. The decoded
// fields (Domain, Reason, ErrorInfoMetadata) are populated by
// ParseStatusDetails when the metadata carries a status blob. Note carries
// engine context attached at classification time.
type Error struct {
	Code     codes.Code
	Message  string
	Details  string
	Metadata metadata.MD

	Domain            string
	Reason            string
	ErrorInfoMetadata map[string]string

	Note string

	decoded bool
}

// New creates an Error with the given code and message.
func New(code codes.Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(code codes.Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("code %s: %s", e.Code, e.Message)
	if e.Note != "" {
		msg += ": " + e.Note
	}
	return msg
}

// FromError converts an arbitrary error into an *Error. Existing *Error
// values pass through unchanged so decoded fields and notes survive.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var re *Error
	if errors.As(err, &re) {
		return re
	}
	if st, ok := status.FromError(err); ok {
		return &Error{Code: st.Code(), Message: st.Message()}
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Code: codes.DeadlineExceeded, Message: err.Error()}
	case errors.Is(err, context.Canceled):
		return &Error{Code: codes.Canceled, Message: err.Error()}
	}
	return &Error{Code: codes.Unknown, Message: err.Error()}
}
