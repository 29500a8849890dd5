package app

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"coordinator/internal/auth"
	"coordinator/internal/breaker"
	"coordinator/internal/config"
	"coordinator/internal/controlplane"
	"coordinator/internal/dispatch"
	"coordinator/internal/health"
	"coordinator/internal/httpapi"
	"coordinator/internal/ingest"
	"coordinator/internal/logpipeline"
	"coordinator/internal/query"
	"coordinator/internal/registry"
	"coordinator/internal/routing"
	"coordinator/pkg/clock"
	"coordinator/pkg/logging"
)

// Services holds every constructed subsystem plus the HTTP surface that
// dispatches into them, and the background loops Run starts over them.
type Services struct {
	Config *config.Config

	Clock clock.Clock
	IDs   clock.IDGenerator

	Registry       *registry.Store
	SnapshotWriter *registry.SnapshotWriter
	Health         *health.Monitor
	Breakers       *breaker.Manager
	Routing        *routing.Engine

	Transport  *dispatch.HTTPTransport
	Dispatcher *dispatch.Dispatcher

	Validator *auth.Validator

	IngestQueue *ingest.Queue
	Ingest      *ingest.API

	Store            *logpipeline.Store
	RedisCache       *logpipeline.RedisCache
	Processor        *logpipeline.Processor
	RetentionSweeper *logpipeline.RetentionSweeper

	Query        *query.API
	ControlPlane *controlplane.API

	Server *httpapi.Server
}

// InitializeServices constructs every subsystem from cfg and wires their
// cross-dependencies: the breaker manager's OnStateChange mirrors into the
// registry's denormalized breaker field, the log processor feeds perf
// window/breaker outcomes back into the registry, and the HTTP server's
// Deps bundle every facade the transport dispatches into.
func InitializeServices(cfg *config.Config) (*Services, error) {
	s := &Services{Config: cfg}

	s.Clock = clock.Real{}
	s.IDs = clock.UUIDGenerator{}

	s.Registry = registry.New(s.Clock, s.IDs)

	snapshotPath := cfg.SnapshotPath
	if snapshotPath == "" {
		snapshotPath = "./data/snapshot.json"
	}
	s.SnapshotWriter = registry.NewSnapshotWriter(s.Registry, snapshotPath, 30*time.Second)
	if err := s.SnapshotWriter.LoadOnStart(); err != nil {
		return nil, fmt.Errorf("loading registry snapshot: %w", err)
	}

	s.Health = health.New(s.Registry, s.Clock, health.Config{
		SweepInterval: 5 * time.Second,
		SoftTTL:       time.Duration(cfg.HeartbeatSoftS) * time.Second,
		HardTTL:       time.Duration(cfg.HeartbeatHardS) * time.Second,
	})

	s.Breakers = breaker.NewManager(breaker.DefaultConfig(), func(mcpID string, state gobreaker.State, openUntil time.Time) {
		mirrored := registry.BreakerClosed
		switch state {
		case gobreaker.StateOpen:
			mirrored = registry.BreakerOpen
		case gobreaker.StateHalfOpen:
			mirrored = registry.BreakerHalfOpen
		}
		_ = s.Registry.Mutate(mcpID, func(d *registry.Descriptor) {
			d.Breaker.State = mirrored
			d.Breaker.OpenUntil = openUntil
		})
	})

	s.Routing = routing.New(s.Registry)

	s.Transport = dispatch.NewHTTPTransport()
	s.Dispatcher = dispatch.New(s.Transport)

	s.Validator = auth.New(s.Clock, cfg.MasterSecret, 5*time.Minute, auth.NewLimiter())
	if err := auth.LoadStaticTokensFile(s.Validator, cfg.StaticTokensPath); err != nil {
		return nil, fmt.Errorf("loading static tokens: %w", err)
	}

	queueCap := cfg.IngestQueueCap
	if queueCap <= 0 {
		queueCap = ingest.DefaultCapacity
	}
	s.IngestQueue = ingest.NewQueue(queueCap)
	s.Ingest = ingest.New(s.Clock, s.IngestQueue)

	storePath := cfg.StorePath
	if storePath == "" {
		storePath = "./data/interactions"
	}
	store, err := logpipeline.Open(storePath)
	if err != nil {
		return nil, fmt.Errorf("opening interaction log store: %w", err)
	}
	s.Store = store

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, &ConfigError{Err: fmt.Errorf("parsing COORD_REDIS_URL: %w", err)}
		}
		rdb := redis.NewClient(opts)
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			return nil, &UpstreamError{Err: fmt.Errorf("connecting to redis: %w", err)}
		}
		s.RedisCache = logpipeline.NewRedisCache(rdb)
		s.Store.UseRedisCache(s.RedisCache)
		logging.Info("Bootstrap", "Interaction log fronted by Redis read-through cache")
	}

	s.Processor = logpipeline.New(s.Clock, s.IngestQueue, s.Store, logpipeline.DefaultCacheCapacity, s.Registry, s.Breakers)

	retentionDays := cfg.RetentionDays
	if retentionDays <= 0 {
		retentionDays = 30
	}
	s.RetentionSweeper = logpipeline.NewRetentionSweeper(s.Store, time.Duration(retentionDays)*24*time.Hour, 6*time.Hour)

	s.Query = query.New(s.Store)
	s.ControlPlane = controlplane.New(s.Registry, s.Health, s.Routing)

	s.Server = httpapi.NewServer(httpapi.Deps{
		ControlPlane: s.ControlPlane,
		Dispatcher:   s.Dispatcher,
		Breakers:     s.Breakers,
		Ingest:       s.Ingest,
		IngestQueue:  s.IngestQueue,
		Query:        s.Query,
		Validator:    s.Validator,
		CORSOrigins:  cfg.CORSAllowedOrigins,
	})

	return s, nil
}
