package control

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	"google.golang.org/grpc/codes"

	"github.com/vietddude/relay/internal/core/config"
	"github.com/vietddude/relay/internal/core/domain"
	"github.com/vietddude/relay/internal/core/rpcerror"
	"github.com/vietddude/relay/internal/health"
	redisclient "github.com/vietddude/relay/internal/infra/redis"
	"github.com/vietddude/relay/internal/infra/storage"
	"github.com/vietddude/relay/internal/infra/storage/memory"
	"github.com/vietddude/relay/internal/infra/storage/postgres"
	"github.com/vietddude/relay/internal/infra/transport"
	"github.com/vietddude/relay/internal/metrics"
	"github.com/vietddude/relay/internal/retry"
	"github.com/vietddude/relay/internal/streaming"
)

// Relay is the main application struct: it tails each configured stream
// through the retry engine, checkpoints delivery positions and journals
// finished sessions.
type Relay struct {
	cfg Config

	providers   map[string]*transport.GRPCProvider
	proxies     map[string]*streaming.Proxy
	checkpoints *redisclient.CheckpointStore
	journal     storage.SessionJournal
	db          *postgres.DB
	redisClient *redisclient.Client
	healthSrv   *health.Server
	log         *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config holds the application configuration.
type Config struct {
	Port     int
	Streams  []config.StreamConfig
	Redis    redisclient.Config
	Database postgres.Config
}

// NewRelay creates a new Relay instance with all dependencies initialized.
func NewRelay(cfg Config) (*Relay, error) {
	r := &Relay{
		cfg:       cfg,
		providers: make(map[string]*transport.GRPCProvider),
		proxies:   make(map[string]*streaming.Proxy),
		log:       slog.Default(),
	}

	// 1. Storage
	if cfg.Database.URL != "" {
		db, err := postgres.NewDB(cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := goose.SetDialect("postgres"); err != nil {
			return nil, err
		}
		if err := goose.Up(db.DB.DB, "migrations"); err != nil {
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}
		r.db = db
		r.journal = postgres.NewSessionRepo(db)
		slog.Info("Using PostgreSQL session journal")
	} else {
		r.journal = memory.NewSessionJournal()
		slog.Info("Using in-memory session journal")
	}

	// 2. Redis checkpoints (optional)
	if cfg.Redis.URL != "" {
		rc, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to init redis: %w", err)
		}
		r.redisClient = rc
		r.checkpoints = redisclient.NewCheckpointStore(rc)
	}

	// 3. Health server
	checks := map[string]health.Check{}
	if r.db != nil {
		checks["database"] = func(ctx context.Context) error { return r.db.PingContext(ctx) }
	}
	if r.redisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return r.redisClient.Ping(ctx) }
	}
	r.healthSrv = health.NewServer(cfg.Port, checks)

	return r, nil
}

// Start dials the upstream endpoints and starts one tail loop per stream.
func (r *Relay) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	go func() {
		if err := r.healthSrv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("Health server failed", "error", err)
		}
	}()

	for _, sc := range r.cfg.Streams {
		provider, ok := r.providers[sc.Endpoint]
		if !ok {
			var err error
			provider, err = transport.NewGRPCProvider(ctx, sc.Name, sc.Endpoint)
			if err != nil {
				return fmt.Errorf("failed to dial %s: %w", sc.Endpoint, err)
			}
			r.providers[sc.Endpoint] = provider
		}

		proxy, err := r.startStream(ctx, provider, sc)
		if err != nil {
			return fmt.Errorf("failed to start stream %s: %w", sc.Name, err)
		}
		r.proxies[sc.Name] = proxy
	}

	slog.Info("Relay started", "streams", len(r.cfg.Streams))
	return nil
}

func (r *Relay) startStream(ctx context.Context, provider *transport.GRPCProvider, sc config.StreamConfig) (*streaming.Proxy, error) {
	payload, err := base64.StdEncoding.DecodeString(sc.Request)
	if err != nil {
		return nil, fmt.Errorf("invalid request payload: %w", err)
	}

	cc := make([]codes.Code, 0, len(sc.RetryCodes))
	for _, c := range sc.RetryCodes {
		cc = append(cc, codes.Code(c))
	}

	proxy, err := streaming.New(ctx, streaming.Config{
		Kind:    domain.ServerStreaming,
		Name:    sc.Name,
		Call:    provider.ServerStream(sc.Method),
		Request: payload,
		Settings: retry.CallSettings{
			Retry: retry.OnCodes(cc, sc.Backoff),
		},
		StreamingRetries: true,
	})
	if err != nil {
		return nil, err
	}

	r.wg.Add(1)
	go r.consume(ctx, proxy, sc)
	return proxy, nil
}

// consume drains one proxy, checkpointing each delivered message and
// journaling the finished session.
func (r *Relay) consume(ctx context.Context, proxy *streaming.Proxy, sc config.StreamConfig) {
	defer r.wg.Done()

	session := &domain.Session{
		ID:        uuid.NewString(),
		Stream:    sc.Name,
		Method:    sc.Method,
		StartedAt: time.Now(),
	}
	log := r.log.With("stream", sc.Name, "session", session.ID)

	for ev := range proxy.Events() {
		switch ev.Kind {
		case domain.EventResponse:
			log.Debug("Stream established")
		case domain.EventData:
			session.Delivered++
			r.saveCheckpoint(ctx, sc.Name, session.Delivered)
		case domain.EventEnd:
			session.Code = 0
			log.Info("Stream ended", "delivered", session.Delivered)
		case domain.EventError:
			e := rpcErrorInfo(ev.Err)
			session.Code = e.code
			session.Note = e.note
			log.Error("Stream failed", "code", e.code, "error", ev.Err)
		}
	}

	session.FinishedAt = time.Now()
	outcome := "ok"
	if session.Code != 0 {
		outcome = "error"
	}
	metrics.SessionsTotal.WithLabelValues(sc.Name, outcome).Inc()

	if err := r.journal.Record(ctx, session); err != nil {
		log.Warn("Failed to journal session", "error", err)
	}
}

type errorInfo struct {
	code int
	note string
}

func rpcErrorInfo(err error) errorInfo {
	e := rpcerror.FromError(err)
	return errorInfo{code: int(e.Code), note: e.Note}
}

func (r *Relay) saveCheckpoint(ctx context.Context, stream string, seq uint64) {
	if r.checkpoints == nil {
		return
	}
	cp := &domain.Checkpoint{
		StreamID:  stream,
		Sequence:  seq,
		UpdatedAt: time.Now(),
	}
	if err := r.checkpoints.Save(ctx, cp); err != nil {
		r.log.Warn("Failed to save checkpoint", "stream", stream, "error", err)
	}
}

// Stop cancels every proxy and shuts down cleanly.
func (r *Relay) Stop(ctx context.Context) error {
	for _, proxy := range r.proxies {
		proxy.Cancel()
	}
	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := r.healthSrv.Stop(ctx); err != nil {
		return err
	}
	for _, p := range r.providers {
		if err := p.Close(); err != nil {
			slog.Warn("Failed to close provider", "error", err)
		}
	}
	if r.redisClient != nil {
		if err := r.redisClient.Close(); err != nil {
			slog.Warn("Failed to close redis", "error", err)
		}
	}
	if r.db != nil {
		if err := r.db.Close(); err != nil {
			return err
		}
	}
	return nil
}
