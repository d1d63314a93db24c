package domain

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
)

// StreamKind identifies the call shape of a proxied RPC.
type StreamKind int

const (
	ServerStreaming StreamKind = iota
	ClientStreaming
	BidiStreaming
)

func (k StreamKind) String() string {
	switch k {
	case ServerStreaming:
		return "server_streaming"
	case ClientStreaming:
		return "client_streaming"
	case BidiStreaming:
		return "bidi_streaming"
	default:
		return "unknown"
	}
}

// EventKind identifies one lifecycle emission on a stream.
type EventKind int

const (
	EventMetadata EventKind = iota
	EventResponse
	EventData
	EventStatus
	EventEnd
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventMetadata:
		return "metadata"
	case EventResponse:
		return "response"
	case EventData:
		return "data"
	case EventStatus:
		return "status"
	case EventEnd:
		return "end"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// ResponseEnvelope is delivered exactly once per successful logical stream,
// before any data. It is synthesized from the first metadata event; when no
// metadata came first, it is synthesized without metadata just ahead of the
// first data event, or at the terminal status when there is no data.
type ResponseEnvelope struct {
	Code     int
	Message  string
	Details  string
	Metadata metadata.MD
}

// Status is the terminal protocol event. A conformant upstream always emits
// it last, even on normal completion.
type Status struct {
	Code     codes.Code
	Details  string
	Metadata metadata.MD
}

// Event is one emission on a stream. At most one of the payload fields is
// populated, selected by Kind (end events carry none). Message carries the data payload; the page
// stream also uses it to carry the raw page document on response events.
type Event struct {
	Kind     EventKind
	Metadata metadata.MD
	Response *ResponseEnvelope
	Message  any
	Status   *Status
	Err      error
}

func MetadataEvent(md metadata.MD) Event {
	return Event{Kind: EventMetadata, Metadata: md}
}

func ResponseEvent(r *ResponseEnvelope) Event {
	return Event{Kind: EventResponse, Response: r}
}

func DataEvent(msg any) Event {
	return Event{Kind: EventData, Message: msg}
}

func StatusEvent(s *Status) Event {
	return Event{Kind: EventStatus, Status: s}
}

func EndEvent() Event {
	return Event{Kind: EventEnd}
}

func ErrorEvent(err error) Event {
	return Event{Kind: EventError, Err: err}
}
