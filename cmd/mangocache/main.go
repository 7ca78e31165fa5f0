package main

import (
	"MangoCache/internal/config"
	"MangoCache/internal/core"
	"MangoCache/internal/event"
	"MangoCache/internal/ingestion"
	"MangoCache/internal/observability"
	"MangoCache/internal/persistence"
	"MangoCache/internal/query"
	"MangoCache/internal/server"
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const replayBatchSize = 1000

func main() {
	configPath := flag.String("config", os.Getenv("CACHE_CONFIG"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	if cfg.Logging.File.Path != "" {
		closer := observability.ConfigureLogFile(cfg.Logging.File)
		defer closer.Close()
	}
	observability.SetDefaultLevel(observability.ParseLogLevel(cfg.Logging.Level))
	logger := observability.NewLogger("mangocache")

	if err := run(cfg, logger); err != nil {
		logger.Error().Err(err).Msg("mangocache exited")
		os.Exit(1)
	}
}

func run(cfg config.Config, logger zerolog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, pingCancel := context.WithTimeout(ctx, 10*time.Second)
	err = db.PingContext(pingCtx)
	pingCancel()
	if err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	logger.Info().Msg("postgres connected")

	migrator := persistence.NewMigrator(db, cfg.MigrationsDir, observability.NewLogger("migrator"))
	if err := migrator.Up(ctx); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	// --- Observability ---
	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)

	// --- Channels ---
	persistCoreChan := make(chan core.CoreOutput, cfg.Channels.PersistSize)
	publishCoreChan := make(chan core.CoreOutput, cfg.Channels.PublishSize)
	persistWorkerChan := make(chan persistence.EventRow, cfg.Channels.PersistSize)
	publishChan := make(chan ingestion.PublishableEvent, cfg.Channels.PublishSize)

	// --- Cache engine ---
	engine := core.NewCacheEngine(core.EngineConfig{
		DedupCapacity: cfg.Dedup.Capacity,
		DBChecker:     persistence.NewPostgresIdempotencyChecker(db),
		Metrics:       metrics,
		Logger:        observability.NewLogger("core"),
		PersistChan:   persistCoreChan,
		PublishChan:   publishCoreChan,
	})

	snapMgr := persistence.NewSnapshotManager(db)
	if err := warmStart(ctx, engine, snapMgr, cfg.Dedup.WarmKeys, metrics, logger); err != nil {
		return fmt.Errorf("warm start: %w", err)
	}

	healthChecker := observability.NewHealthChecker(engine.GetSequence)

	// --- NATS ---
	nc, js, err := ingestion.ConnectNATS(cfg.NATS.URL, observability.NewLogger("nats"))
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}
	defer nc.Close()

	if err := ingestion.EnsureStreams(ctx, js, logger); err != nil {
		return fmt.Errorf("ensure streams: %w", err)
	}
	if err := ingestion.EnsureOutboundStream(ctx, js, logger); err != nil {
		return fmt.Errorf("ensure outbound stream: %w", err)
	}

	subjects := ingestion.DefaultSubjects()
	rawEventChan := make(chan ingestion.RawEvent, cfg.Channels.IngestSize)
	subscriber := ingestion.NewNATSSubscriber(js, rawEventChan, observability.NewLogger("nats-subscriber"))
	if err := subscriber.Subscribe(ctx, subjects); err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}
	natsEventChan := make(chan event.Event, cfg.Channels.IngestSize)
	router := ingestion.NewRouter(subjects, observability.NewLogger("router"))

	// --- Services ---
	grpcEventChan := make(chan event.Event, cfg.Channels.IngestSize)
	ingestService := ingestion.NewGRPCIngestService(grpcEventChan)

	snapshotter := &snapshotter{
		engine:  engine,
		snapMgr: snapMgr,
		metrics: metrics,
		logger:  observability.NewLogger("snapshot"),
	}

	queryService := query.NewQueryService(engine, persistence.NewNodeBankStore(db), cfg.Freshness.DefaultMaxAge,
		query.WithMetrics(metrics))

	grpcServer := server.NewGRPCServer(cfg.Server.GRPCAddr, cfg.Server.HTTPAddr, &server.ServerDeps{
		QueryService:  queryService,
		IngestService: ingestService,
		Status:        engine,
		TakeSnapshot:  snapshotter.take,
		HealthChecker: healthChecker,
		Logger:        observability.NewLogger("server"),
	})

	// --- Goroutines ---
	errChan := make(chan error, 8)
	var wg sync.WaitGroup
	goWorker := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil && !errors.Is(err, context.Canceled) {
				errChan <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}

	// The persistence worker and publisher drain until their input closes,
	// so they run on a context that outlives the shutdown signal.
	drainCtx, drainCancel := context.WithCancel(context.Background())
	defer drainCancel()

	persistWorker := persistence.NewPersistenceWorker(persistence.NewEventLogWriter(db), persistWorkerChan, persistence.WorkerConfig{
		BatchSize:    cfg.Persist.BatchSize,
		FlushTimeout: cfg.Persist.FlushTimeout,
		Metrics:      metrics,
		Logger:       observability.NewLogger("persistence"),
	})
	var drainWG sync.WaitGroup
	drainWG.Add(2)
	go func() {
		defer drainWG.Done()
		if err := persistWorker.Run(drainCtx); err != nil {
			logger.Error().Err(err).Msg("persistence worker stopped")
		}
	}()

	publisher := ingestion.NewOutboundPublisher(js, publishChan, observability.NewLogger("publisher"))
	go func() {
		defer drainWG.Done()
		if err := publisher.Run(drainCtx); err != nil {
			logger.Error().Err(err).Msg("publisher stopped")
		}
	}()

	var bridgeWG sync.WaitGroup
	bridgeWG.Add(2)
	go func() {
		defer bridgeWG.Done()
		bridgePersist(persistCoreChan, persistWorkerChan)
	}()
	go func() {
		defer bridgeWG.Done()
		bridgePublish(publishCoreChan, publishChan)
	}()

	var ingestWG sync.WaitGroup
	ingestWG.Add(2)
	go func() {
		defer ingestWG.Done()
		router.Run(ctx, rawEventChan, natsEventChan)
	}()
	go func() {
		defer ingestWG.Done()
		runIngestionLoop(ctx, engine, natsEventChan, grpcEventChan, observability.NewLogger("ingest"))
	}()

	goWorker("grpc", func() error { return grpcServer.StartGRPC(ctx) })
	goWorker("http gateway", func() error { return grpcServer.StartHTTPGateway(ctx) })
	goWorker("metrics", func() error { return serveMetrics(ctx, cfg.Server.MetricsAddr, logger) })

	wg.Add(2)
	go func() {
		defer wg.Done()
		snapshotter.run(ctx, cfg.Snapshot.EveryEvents, cfg.Snapshot.Period)
	}()
	go func() {
		defer wg.Done()
		sampleChannels(ctx, metrics, map[string]func() (int, int){
			"ingest_nats": func() (int, int) { return len(rawEventChan), cap(rawEventChan) },
			"ingest_grpc": func() (int, int) { return len(grpcEventChan), cap(grpcEventChan) },
			"persist":     func() (int, int) { return len(persistWorkerChan), cap(persistWorkerChan) },
			"publish":     func() (int, int) { return len(publishChan), cap(publishChan) },
		})
	}()

	healthChecker.SetReady(true)
	grpcServer.SetServing(true)

	logger.Info().
		Int64("sequence", engine.GetSequence()).
		Str("grpc", cfg.Server.GRPCAddr).
		Str("http", cfg.Server.HTTPAddr).
		Str("metrics", cfg.Server.MetricsAddr).
		Msg("mangocache ready")

	// --- Wait for shutdown ---
	var runErr error
	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case runErr = <-errChan:
		logger.Error().Err(runErr).Msg("goroutine failed, shutting down")
	}

	// Stop intake first, then let the engine outputs drain to Postgres and NATS.
	healthChecker.SetReady(false)
	grpcServer.SetServing(false)
	subscriber.Stop()
	cancel()

	ingestWG.Wait()
	close(persistCoreChan)
	close(publishCoreChan)
	bridgeWG.Wait()
	close(persistWorkerChan)
	close(publishChan)

	drained := make(chan struct{})
	go func() {
		drainWG.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(30 * time.Second):
		logger.Warn().Msg("drain timed out")
		drainCancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if seq, err := snapshotter.take(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("final snapshot failed")
	} else {
		logger.Info().Int64("sequence", seq).Msg("final snapshot saved")
	}

	wg.Wait()
	logger.Info().Msg("mangocache shutdown complete")
	return runErr
}

// warmStart restores the latest verified snapshot, replays the log tail and
// warms the dedup LRU.
func warmStart(
	ctx context.Context,
	engine *core.CacheEngine,
	snapMgr *persistence.SnapshotManager,
	warmKeys int,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) error {
	start := time.Now()

	snap, err := snapMgr.LoadLatestSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	if snap != nil {
		if err := engine.RestoreFromSnapshot(&core.SnapshotState{
			Sequence:  snap.Sequence,
			StateHash: snap.StateHash,
			Image:     snap.Image,
		}); err != nil {
			return err
		}
		logger.Info().
			Int64("sequence", snap.Sequence).
			Str("snapshot_id", snap.SnapshotID.String()).
			Msg("restored snapshot")
	} else {
		logger.Info().Msg("no snapshot found, replaying from genesis")
	}

	replayed, err := replayEventsFromLog(ctx, engine, snapMgr, engine.GetSequence()+1)
	if err != nil {
		return err
	}

	if warmKeys > 0 {
		rows, err := snapMgr.LoadRecentKeys(ctx, warmKeys)
		if err != nil {
			return fmt.Errorf("load recent keys: %w", err)
		}
		keys := make([]core.LoggedKey, len(rows))
		for i, r := range rows {
			keys[i] = core.LoggedKey{EventType: r.EventType, IdempotencyKey: r.IdempotencyKey}
		}
		engine.WarmLRU(keys)
	}

	metrics.ReplayDuration.Set(time.Since(start).Seconds())
	metrics.CoreSequence.Set(float64(engine.GetSequence()))
	logger.Info().
		Int64("replayed", replayed).
		Int64("sequence", engine.GetSequence()).
		Hex("state_hash", hashSlice(engine.GetStateHash())).
		Dur("duration", time.Since(start)).
		Msg("warm start complete")
	return nil
}

func replayEventsFromLog(
	ctx context.Context,
	engine *core.CacheEngine,
	snapMgr *persistence.SnapshotManager,
	fromSequence int64,
) (int64, error) {
	var total int64
	for {
		envelopes, err := snapMgr.LoadEventsFrom(ctx, fromSequence, replayBatchSize)
		if err != nil {
			return total, fmt.Errorf("load events from seq %d: %w", fromSequence, err)
		}
		if len(envelopes) == 0 {
			return total, nil
		}

		for _, env := range envelopes {
			if err := engine.ReplayEvent(env); err != nil {
				return total, err
			}
			total++
		}
		fromSequence = envelopes[len(envelopes)-1].Sequence + 1
	}
}

// runIngestionLoop is the single writer into the engine. NATS and gRPC
// updates share it so sequence assignment stays ordered.
func runIngestionLoop(
	ctx context.Context,
	engine *core.CacheEngine,
	natsEvents <-chan event.Event,
	grpcEvents <-chan event.Event,
	logger zerolog.Logger,
) {
	for {
		var evt event.Event
		select {
		case <-ctx.Done():
			return
		case e, ok := <-natsEvents:
			if !ok {
				natsEvents = nil
				continue
			}
			evt = e
		case e := <-grpcEvents:
			evt = e
		}

		if err := engine.ProcessEvent(evt); err != nil {
			logger.Warn().
				Err(err).
				Str("event_type", evt.EventType().String()).
				Str("idempotency_key", evt.IdempotencyKey()).
				Msg("event rejected")
		}
	}
}

func bridgePersist(in <-chan core.CoreOutput, out chan<- persistence.EventRow) {
	for output := range in {
		out <- persistence.NewEventRow(output.Envelope, time.Now())
	}
}

func bridgePublish(in <-chan core.CoreOutput, out chan<- ingestion.PublishableEvent) {
	for output := range in {
		out <- ingestion.NewPublishableEvent(output.Envelope)
	}
}

func serveMetrics(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
		defer c()
		srv.Shutdown(shutCtx)
	}()

	logger.Info().Str("addr", addr).Msg("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func sampleChannels(ctx context.Context, metrics *observability.Metrics, channels map[string]func() (int, int)) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for name, sample := range channels {
				size, capacity := sample()
				metrics.SetChannelMetrics(name, size, capacity)
			}
		}
	}
}

// snapshotter saves engine snapshots on an event count, on a timer, on
// demand and at shutdown.
type snapshotter struct {
	mu      sync.Mutex
	engine  *core.CacheEngine
	snapMgr *persistence.SnapshotManager
	metrics *observability.Metrics
	logger  zerolog.Logger
	lastSeq int64
}

func (s *snapshotter) run(ctx context.Context, everyEvents int64, period time.Duration) {
	if everyEvents <= 0 {
		everyEvents = 100_000
	}
	if period <= 0 {
		period = 5 * time.Minute
	}

	s.mu.Lock()
	s.lastSeq = s.engine.GetSequence()
	s.mu.Unlock()

	check := time.NewTicker(10 * time.Second)
	defer check.Stop()
	periodic := time.NewTicker(period)
	defer periodic.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-check.C:
			if s.pending() >= everyEvents {
				s.takeLogged(ctx, "event_count")
			}
		case <-periodic.C:
			if s.pending() > 0 {
				s.takeLogged(ctx, "period")
			}
		}
	}
}

func (s *snapshotter) pending() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.GetSequence() - s.lastSeq
}

func (s *snapshotter) takeLogged(ctx context.Context, trigger string) {
	seq, err := s.take(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Str("trigger", trigger).Msg("snapshot failed")
		return
	}
	s.logger.Info().Int64("sequence", seq).Str("trigger", trigger).Msg("snapshot saved")
}

// take saves a snapshot of the current cache and returns its sequence.
func (s *snapshotter) take(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	snap, err := s.engine.CreateSnapshotState()
	if err != nil {
		return 0, fmt.Errorf("create snapshot: %w", err)
	}
	if snap.Sequence < 0 {
		return snap.Sequence, errors.New("nothing applied yet")
	}

	if err := s.snapMgr.SaveSnapshot(ctx, &persistence.SnapshotRecord{
		SnapshotID: uuid.New(),
		Sequence:   snap.Sequence,
		StateHash:  snap.StateHash,
		Image:      snap.Image,
		CreatedAt:  time.Now().UTC(),
	}); err != nil {
		return 0, fmt.Errorf("save snapshot seq %d: %w", snap.Sequence, err)
	}

	s.lastSeq = snap.Sequence
	s.metrics.SnapshotTaken.Inc()
	s.metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
	s.metrics.SnapshotSizeBytes.Set(float64(len(snap.Image)))
	s.metrics.SnapshotLastSeq.Set(float64(snap.Sequence))
	return snap.Sequence, nil
}

func hashSlice(h [32]byte) []byte {
	return h[:]
}
