package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/vietddude/relay/internal/core/domain"
	"github.com/vietddude/relay/internal/core/rpcerror"
)

// GRPCProvider dials a gRPC endpoint and issues streaming attempts on it.
// Requests and data messages are raw protobuf frames; the provider does
// not interpret payloads.
type GRPCProvider struct {
	name     string
	endpoint string
	conn     *grpc.ClientConn
}

// NewGRPCProvider creates a new gRPC provider.
func NewGRPCProvider(ctx context.Context, name, endpoint string) (*GRPCProvider, error) {
	target := endpoint
	var opts []grpc.DialOption

	// An https:// scheme or a :443 port selects TLS
	if strings.HasPrefix(endpoint, "https://") || strings.HasSuffix(endpoint, ":443") {
		creds := credentials.NewTLS(&tls.Config{})
		opts = append(opts, grpc.WithTransportCredentials(creds))
		target = strings.TrimPrefix(target, "https://")
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
		target = strings.TrimPrefix(target, "http://")
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, err := grpc.DialContext(dialCtx, target, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial grpc endpoint %s: %w", target, err)
	}

	return &GRPCProvider{name: name, endpoint: endpoint, conn: conn}, nil
}

// Name returns the provider's name.
func (p *GRPCProvider) Name() string {
	return p.name
}

// Conn returns the underlying gRPC connection for generated clients.
func (p *GRPCProvider) Conn() *grpc.ClientConn {
	return p.conn
}

// Close cleans up resources.
func (p *GRPCProvider) Close() error {
	return p.conn.Close()
}

// ServerStream returns a StubCall issuing method as a server-streaming RPC.
// The request is the raw frame to send ([]byte; nil sends an empty frame).
func (p *GRPCProvider) ServerStream(method string) StubCall {
	return func(ctx context.Context, req any) Stream {
		return newGRPCStream(ctx, p.conn, method, req)
	}
}

// rawCodec passes frames through unchanged so the provider can carry
// messages it has no descriptors for.
type rawCodec struct{}

func (rawCodec) Marshal(v any) ([]byte, error) {
	b, ok := v.([]byte)
	if !ok {
		return nil, fmt.Errorf("raw codec: expected []byte, got %T", v)
	}
	return b, nil
}

func (rawCodec) Unmarshal(data []byte, v any) error {
	p, ok := v.(*[]byte)
	if !ok {
		return fmt.Errorf("raw codec: expected *[]byte, got %T", v)
	}
	*p = data
	return nil
}

func (rawCodec) Name() string { return "proto" }

type grpcStream struct {
	events chan domain.Event
	cancel context.CancelFunc
}

func newGRPCStream(ctx context.Context, conn *grpc.ClientConn, method string, req any) *grpcStream {
	ctx, cancel := context.WithCancel(ctx)
	s := &grpcStream{
		events: make(chan domain.Event, 16),
		cancel: cancel,
	}
	go s.run(ctx, conn, method, req)
	return s
}

func (s *grpcStream) Events() <-chan domain.Event {
	return s.events
}

func (s *grpcStream) Cancel() {
	s.cancel()
}

func (s *grpcStream) run(ctx context.Context, conn *grpc.ClientConn, method string, req any) {
	defer close(s.events)

	desc := &grpc.StreamDesc{
		StreamName:    path.Base(method),
		ServerStreams: true,
	}
	cs, err := conn.NewStream(ctx, desc, method, grpc.ForceCodec(rawCodec{}))
	if err != nil {
		s.emit(ctx, domain.ErrorEvent(rpcerror.FromError(err)))
		return
	}

	payload, _ := req.([]byte)
	if err := cs.SendMsg(payload); err != nil {
		s.emit(ctx, domain.ErrorEvent(s.attemptError(cs, err)))
		return
	}
	if err := cs.CloseSend(); err != nil {
		s.emit(ctx, domain.ErrorEvent(s.attemptError(cs, err)))
		return
	}

	if md, err := cs.Header(); err == nil && len(md) > 0 {
		s.emit(ctx, domain.MetadataEvent(md))
	}

	for {
		var msg []byte
		err := cs.RecvMsg(&msg)
		if err == io.EOF {
			s.emit(ctx, domain.StatusEvent(&domain.Status{
				Code:     codes.OK,
				Metadata: cs.Trailer(),
			}))
			s.emit(ctx, domain.EndEvent())
			return
		}
		if err != nil {
			s.emit(ctx, domain.ErrorEvent(s.attemptError(cs, err)))
			return
		}
		s.emit(ctx, domain.DataEvent(msg))
	}
}

// attemptError maps a stream failure to an *rpcerror.Error carrying the
// trailer metadata, so the status blob is available to the decoder.
func (s *grpcStream) attemptError(cs grpc.ClientStream, err error) *rpcerror.Error {
	e := rpcerror.FromError(err)
	if st, ok := status.FromError(err); ok {
		e.Code = st.Code()
	}
	if e.Metadata == nil {
		e.Metadata = cs.Trailer()
	}
	return e
}

func (s *grpcStream) emit(ctx context.Context, ev domain.Event) {
	select {
	case s.events <- ev:
	case <-ctx.Done():
	}
}
