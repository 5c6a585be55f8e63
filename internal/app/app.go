// Package app builds the crawler fleet and its long-lived services from
// configuration and runs them until shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobhearted-crawler/internal/api"
	"github.com/JakeFAU/jobhearted-crawler/internal/blacklist"
	"github.com/JakeFAU/jobhearted-crawler/internal/clock/system"
	"github.com/JakeFAU/jobhearted-crawler/internal/config"
	"github.com/JakeFAU/jobhearted-crawler/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/jobhearted-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/jobhearted-crawler/internal/fleet"
	"github.com/JakeFAU/jobhearted-crawler/internal/hash/md5"
	"github.com/JakeFAU/jobhearted-crawler/internal/id/uuid"
	"github.com/JakeFAU/jobhearted-crawler/internal/metrics"
	"github.com/JakeFAU/jobhearted-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/jobhearted-crawler/internal/progress"
	progresssinks "github.com/JakeFAU/jobhearted-crawler/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/jobhearted-crawler/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/jobhearted-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/jobhearted-crawler/internal/record"
	badgerstore "github.com/JakeFAU/jobhearted-crawler/internal/storage/badger"
	memorystore "github.com/JakeFAU/jobhearted-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/jobhearted-crawler/internal/storage/postgres"
	"github.com/JakeFAU/jobhearted-crawler/internal/store"
	"github.com/JakeFAU/jobhearted-crawler/internal/vacancy"
	"github.com/JakeFAU/jobhearted-crawler/internal/worker"
)

const (
	sinkTimeout            = 5 * time.Second
	defaultShutdownTimeout = 15 * time.Second
)

// Option adjusts how Build wires the application.
type Option func(*options)

type options struct {
	registerer prometheus.Registerer
}

// WithRegisterer registers the progress collectors on reg instead of the
// default Prometheus registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	records    record.Store
	status     store.StatusRepository
	pool       *pgxpool.Pool
	badger     *badgerstore.RecordStore
	tracker    *fleet.Tracker
	hub        *progress.Hub
	stream     *progresssinks.BroadcastSink
	unsubHub   func()
	engine     *vacancy.Engine
	dispatch   *dispatcher.Dispatcher
	apiServer  *api.Server
	pubsub     *pubsub.Client
	publisher  *gcppublisher.Publisher
	skipped    []string
	checks     []api.ReadinessCheck
	registerer prometheus.Registerer
}

// Build creates the application's dependencies. Workers whose blacklist
// cannot be loaded are logged and left out of the fleet.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}
	metrics.Init()

	a := &App{cfg: cfg, logger: logger, registerer: o.registerer}
	logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("store_backend", cfg.Store.Backend),
		zap.Int("workers", len(cfg.Workers)),
	)

	if err := a.setupStore(ctx); err != nil {
		a.Close(ctx)
		return nil, err
	}
	if err := a.setupProgress(ctx); err != nil {
		a.Close(ctx)
		return nil, err
	}
	pub, err := a.setupPublisher(ctx)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	a.engine = vacancy.NewEngine(a.records, md5.New(), uuid.New(), system.New(), logger,
		vacancy.WithPublisher(pub, cfg.PubSub.TopicName))
	if err := a.setupFleet(ctx); err != nil {
		a.Close(ctx)
		return nil, err
	}

	a.apiServer = api.NewServer(api.Dependencies{
		Fleet:   a.dispatch,
		Tracker: a.tracker,
		Status:  a.status,
		Checks:  a.checks,
		Stream:  a.stream,
	}, cfg, logger)
	return a, nil
}

// Handler returns the HTTP handler of the operator API.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Tracker exposes the fleet tracker.
func (a *App) Tracker() *fleet.Tracker {
	return a.tracker
}

// Dispatcher exposes the fleet dispatcher.
func (a *App) Dispatcher() *dispatcher.Dispatcher {
	return a.dispatch
}

// Records exposes the record store.
func (a *App) Records() record.Store {
	return a.records
}

// Status exposes the status history repository.
func (a *App) Status() store.StatusRepository {
	return a.status
}

// Skipped lists the configured workers that did not join the fleet.
func (a *App) Skipped() []string {
	return append([]string(nil), a.skipped...)
}

// Run starts the fleet and the HTTP server and blocks until ctx is canceled
// or the server fails. It then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	fleetDone := make(chan error, 1)
	go func() {
		a.logger.Info("dispatcher started")
		fleetDone <- a.dispatch.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	timeout := a.cfg.Server.ShutdownTimeout()
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.dispatch.Stop()
	var runErr error
	select {
	case err := <-fleetDone:
		if err != nil {
			runErr = fmt.Errorf("run fleet: %w", err)
		}
	case <-shutdownCtx.Done():
		runErr = fmt.Errorf("wait for fleet: %w", shutdownCtx.Err())
	}
	a.Close(shutdownCtx)

	select {
	case err := <-serveErr:
		return errors.Join(fmt.Errorf("http server: %w", err), runErr)
	default:
		return runErr
	}
}

// Close releases every resource Build acquired. It is safe on a partially
// built App.
func (a *App) Close(ctx context.Context) {
	if a.unsubHub != nil {
		a.unsubHub()
	}
	if a.tracker != nil {
		a.tracker.Close()
	}
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.publisher != nil {
		a.publisher.Close()
	}
	if a.pubsub != nil {
		if err := a.pubsub.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.badger != nil {
		if err := a.badger.Close(); err != nil {
			a.logger.Warn("badger store close failed", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	a.logger.Info("shutdown complete")
}

func (a *App) setupStore(ctx context.Context) error {
	switch a.cfg.Store.Backend {
	case config.BackendPostgres:
		pg := a.cfg.Store.Postgres
		pool, err := pgstore.NewPool(ctx, pgstore.PoolConfig{
			DSN:             pg.DSN,
			MaxConns:        pg.MaxConns,
			MinConns:        pg.MinConns,
			MaxConnLifetime: time.Duration(pg.MaxConnLifetimeMinutes) * time.Minute,
		})
		if err != nil {
			return fmt.Errorf("postgres pool init failed: %w", err)
		}
		a.pool = pool
		if err := pgstore.EnsureSchema(ctx, pool); err != nil {
			return fmt.Errorf("postgres schema init failed: %w", err)
		}
		records, err := pgstore.NewRecordStoreWithPool(pool)
		if err != nil {
			return fmt.Errorf("postgres record store init failed: %w", err)
		}
		status, err := pgstore.NewStatusStoreWithPool(pool)
		if err != nil {
			return fmt.Errorf("postgres status store init failed: %w", err)
		}
		a.records, a.status = records, status
		a.checks = append(a.checks, api.ReadinessCheck{Name: "postgres", Check: pool.Ping})
		a.logger.Info("using postgres store backend")
	case config.BackendBadger:
		bs, err := badgerstore.Open(badgerstore.Config{
			Dir:      a.cfg.Store.Badger.Dir,
			InMemory: a.cfg.Store.Badger.InMemory,
		})
		if err != nil {
			return fmt.Errorf("badger store init failed: %w", err)
		}
		a.badger = bs
		a.records = bs
		a.status = memorystore.NewStatusStore()
		a.logger.Info("using badger store backend",
			zap.String("dir", a.cfg.Store.Badger.Dir),
			zap.Bool("in_memory", a.cfg.Store.Badger.InMemory))
	default:
		a.records = memorystore.NewRecordStore()
		a.status = memorystore.NewStatusStore()
		a.logger.Info("using in-memory store backend")
	}
	return nil
}

func (a *App) setupProgress(ctx context.Context) error {
	a.tracker = fleet.NewTracker(a.logger)

	promSink, err := progresssinks.NewPrometheusSink(a.registerer)
	if err != nil {
		return fmt.Errorf("prometheus sink init failed: %w", err)
	}
	a.stream = progresssinks.NewBroadcastSink(a.logger.Named("progress_stream"))
	sinkList := []progress.Sink{
		progresssinks.NewLogSink(a.logger.Named("progress_log")),
		promSink,
		a.stream,
	}
	if a.cfg.Progress.PersistHistory {
		sinkList = append(sinkList, progresssinks.NewStoreSink(a.status, a.logger.Named("progress_store")))
	}
	hubCfg := progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   a.cfg.Progress.MaxBatchWait(),
		SinkTimeout:    sinkTimeout,
		Now:            system.New().Now,
		BaseContext:    context.WithoutCancel(ctx),
		Logger:         a.logger.Named("progress_hub"),
	}
	a.hub = progress.NewHub(hubCfg, sinkList...)
	a.unsubHub = a.tracker.Subscribe(a.hub)
	a.logger.Info("progress hub initialized",
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
		zap.Bool("persist_history", a.cfg.Progress.PersistHistory),
	)
	return nil
}

func (a *App) setupPublisher(ctx context.Context) (vacancy.Publisher, error) {
	if !a.cfg.PubSub.Enabled {
		a.logger.Info("pubsub disabled, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsub = client
	a.publisher = gcppublisher.New(client)
	a.logger.Info("pubsub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return a.publisher, nil
}

func (a *App) setupFleet(ctx context.Context) error {
	crawlCfg := a.cfg.Crawler
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:     crawlCfg.UserAgent,
		RespectRobots: crawlCfg.RespectRobots,
		Timeout:       crawlCfg.FetchTimeout(),
		MaxBodySize:   crawlCfg.MaxBodyBytes,
		Selectors:     selectorsFrom(crawlCfg.Selectors),
	})
	limiter := ratelimit.New(ratelimit.Config{Delay: crawlCfg.Delay(), Burst: 1})
	a.dispatch = dispatcher.New(a.tracker, a.logger)

	ids := uuid.New()
	for _, wc := range a.cfg.Workers {
		filter, err := BuildFilter(ctx, a.records, ids, wc)
		if err != nil {
			a.logger.Error("worker not started: blacklist unavailable",
				zap.String("worker_id", wc.ID), zap.Error(err))
			a.skipped = append(a.skipped, wc.ID)
			continue
		}
		seeds := wc.Seeds
		if len(seeds) == 0 {
			seeds = []string{wc.BaseURL}
		}
		w, err := worker.New(worker.Config{
			ID:              fleet.WorkerID(wc.ID),
			Seeds:           seeds,
			QueueDepth:      crawlCfg.QueueDepth,
			MaxRetries:      crawlCfg.MaxRetries,
			RecrawlInterval: crawlCfg.RecrawlInterval(),
		}, worker.Dependencies{
			Admission: filter,
			Fetcher:   fetcher,
			Vacancies: a.engine,
			Limiter:   limiter,
			Reporter:  a.tracker,
		}, a.logger)
		if err != nil {
			return fmt.Errorf("worker %s init failed: %w", wc.ID, err)
		}
		if err := a.dispatch.Add(w); err != nil {
			return fmt.Errorf("add worker %s: %w", wc.ID, err)
		}
		a.logger.Info("worker configured",
			zap.String("worker_id", wc.ID),
			zap.String("base_url", wc.BaseURL),
			zap.Int("seeds", len(seeds)),
			zap.Int("blacklist_words", len(filter.Words())),
		)
	}
	return nil
}

// BuildFilter seeds the configured blacklist words for the worker and loads
// its filter from store.
func BuildFilter(ctx context.Context, records record.Store, ids blacklist.IDGenerator, wc config.WorkerConfig) (*blacklist.Filter, error) {
	if len(wc.Blacklist) > 0 {
		if _, err := blacklist.Seed(ctx, records, ids, wc.ID, wc.Blacklist); err != nil {
			return nil, fmt.Errorf("seed blacklist: %w", err)
		}
	}
	filter, err := blacklist.New(ctx, records, wc.ID, wc.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("load blacklist: %w", err)
	}
	return filter, nil
}

func selectorsFrom(s config.SelectorConfig) collyfetcher.Selectors {
	return collyfetcher.Selectors{
		Vacancy:        s.Vacancy,
		Title:          s.Title,
		Employer:       s.Employer,
		EmploymentType: s.EmploymentType,
		Location:       s.Location,
		Description:    s.Description,
		Skills:         s.Skills,
		Educations:     s.Educations,
		Locations:      s.Locations,
	}
}
