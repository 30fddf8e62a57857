package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/davicafu/fulfillment/internal/config"
	orderDomain "github.com/davicafu/fulfillment/internal/order/domain"
	sagaApp "github.com/davicafu/fulfillment/internal/saga/application"
	sagaDomain "github.com/davicafu/fulfillment/internal/saga/domain"
	sagaEvents "github.com/davicafu/fulfillment/internal/saga/infra/inbound/events"
	sagaHttp "github.com/davicafu/fulfillment/internal/saga/infra/inbound/http"
	"github.com/davicafu/fulfillment/internal/saga/infra/outbound/analytics/clickhouse"
	"github.com/davicafu/fulfillment/internal/saga/infra/outbound/collaborators"
	"github.com/davicafu/fulfillment/internal/saga/infra/outbound/db/sqlstore"
	"github.com/davicafu/fulfillment/internal/saga/infra/outbound/deadletter"
	deadletterMongo "github.com/davicafu/fulfillment/internal/saga/infra/outbound/deadletter/mongodb"
	sharedDomain "github.com/davicafu/fulfillment/internal/shared/domain"
	sharedEvents "github.com/davicafu/fulfillment/internal/shared/events"
	infraEvents "github.com/davicafu/fulfillment/internal/shared/infra/events"
	sharedBus "github.com/davicafu/fulfillment/internal/shared/infra/platform/bus"
	sharedCache "github.com/davicafu/fulfillment/internal/shared/infra/platform/cache"
	"github.com/davicafu/fulfillment/internal/shared/infra/platform/db/postgres"
	"github.com/davicafu/fulfillment/internal/shared/infra/platform/db/sqlite"
	"github.com/davicafu/fulfillment/internal/shared/infra/relayer"
	"github.com/davicafu/fulfillment/internal/shared/infra/resilience"
	"github.com/davicafu/fulfillment/pkg/logger"
)

// runnable es cualquier bucle que bloquea hasta que se cancela ctx.
type runnable func(ctx context.Context) error

// ---------------- Main ----------------
func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	logger.Init(cfg.LogLevel)
	log := logger.Logger()
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	topics := sharedEvents.Topics{
		Orders:    cfg.TopicOrders,
		Replies:   cfg.TopicReplies,
		Inventory: cfg.TopicInventory,
		Payment:   cfg.TopicPayment,
		Shipping:  cfg.TopicShipping,
	}

	// ---------------- DB ----------------
	db, dialect := openDB(ctx, cfg, log)
	defer db.Close()

	store := sqlstore.New(db, dialect)
	if err := store.InitSchema(ctx); err != nil {
		log.Fatal("failed to initialize schema", zap.Error(err))
	}

	// ---------------- Cache ----------------
	cache := openCache(ctx, cfg, log)

	// ---------------- Analytics / Dead letters ----------------
	var recorder sagaDomain.TransitionRecorder
	var stats sagaDomain.FailureStats
	if cfg.ClickHouseAddr != "" {
		analytics, err := clickhouse.NewTransitionLogRepo(cfg.ClickHouseAddr, cfg.ClickHouseDB)
		if err != nil {
			log.Warn("⚠️ ClickHouse no disponible, sin histórico de transiciones", zap.Error(err))
		} else {
			defer analytics.Close()
			if err := analytics.InitSchema(ctx); err != nil {
				log.Fatal("failed to initialize ClickHouse schema", zap.Error(err))
			}
			recorder, stats = analytics, analytics
			log.Info("✅ ClickHouse conectado, histórico de transiciones habilitado")
		}
	}

	sink, reader := openDeadLetters(ctx, cfg, log)

	// --------------- Servicio --------------
	orchestrator := sagaApp.NewOrchestrator(store, recorder, cache, sagaApp.OrchestratorConfig{
		SagaTimeout:   cfg.SagaTimeout,
		MinOrderTotal: cfg.MinOrderTotal,
	}, logger.Component("orchestrator"))
	queries := sagaApp.NewQueryService(store, cache, int(cfg.CacheTTL.Seconds()), log)
	pool := sagaApp.NewWorkerPool(orchestrator, cfg.WorkerCount, cfg.WorkerQueueSize, logger.Component("worker_pool"))

	pipelines := resilience.NewRegistry(resilience.Settings{
		MaxAttempts:    cfg.Resilience.MaxAttempts,
		BaseDelay:      cfg.Resilience.BaseDelay,
		MaxDelay:       cfg.Resilience.MaxDelay,
		AttemptTimeout: cfg.Resilience.AttemptTimeout,
		FailureRatio:   cfg.Resilience.BreakerFailureRatio,
		MinRequests:    cfg.Resilience.BreakerMinRequests,
		Window:         cfg.Resilience.BreakerWindow,
		Cooldown:       cfg.Resilience.BreakerCooldown,
	}, logger.Component("resilience"),
		sagaDomain.CollaboratorInventory, sagaDomain.CollaboratorPayment, sagaDomain.CollaboratorShipping)

	replyConsumer := sagaEvents.NewReplyConsumer(pool, sink, resilience.RetryPolicy{
		MaxAttempts: cfg.Resilience.MaxAttempts,
		BaseDelay:   cfg.Resilience.BaseDelay,
		MaxDelay:    cfg.Resilience.MaxDelay,
	}, logger.Component("reply_consumer"))

	runners := []runnable{pool.Run}

	// ---------------- Events ---------------
	var transport sharedBus.EventBus
	if cfg.UseKafka {
		log.Info("🚀 Usando Kafka como bus de eventos", zap.Strings("brokers", cfg.KafkaBrokers))

		writer := infraEvents.NewKafkaWriter(cfg.KafkaBrokers, log)
		defer writer.Close()
		transport = infraEvents.NewKafkaPublisher(writer, log)

		kafkaReader := infraEvents.NewKafkaReader(cfg.KafkaBrokers, topics.Replies, cfg.KafkaGroupID, log)
		defer kafkaReader.Close()
		runners = append(runners, infraEvents.NewConsumerAdapter(kafkaReader, replyConsumer, log).Run)
	} else {
		log.Info("⚡️ Usando bus de eventos en memoria con colaboradores simulados")

		bus := infraEvents.NewInMemoryEventBus()
		defer bus.Close()
		transport = bus

		replies := bus.Subscribe(topics.Replies, cfg.WorkerQueueSize)
		runners = append(runners, infraEvents.NewChannelConsumer(topics.Replies, replies, replyConsumer, log).Run)

		sim := collaborators.NewSimulator(bus, bus, topics, collaborators.Behavior{
			OutOfStock:    cfg.SimOutOfStock,
			PaymentLimit:  cfg.SimPaymentLimit,
			FailShipments: cfg.SimFailShipments,
			Latency:       cfg.SimLatency,
		}, logger.Component("simulator"))
		runners = append(runners, sim.Run)
	}

	// ------------ Outbox Relay ------------
	registry := make(map[string]sharedEvents.EventMetadata)
	for k, v := range orderDomain.NewEventRegistry(topics.Orders) {
		registry[k] = v
	}
	for k, v := range sagaDomain.NewCommandRegistry(topics) {
		registry[k] = v
	}

	dispatcher := sagaApp.NewCommandDispatcher(transport, pipelines, sagaDomain.CollaboratorTopics(topics), pool, logger.Component("dispatcher"))
	relay := relayer.NewOutboxWorker(store, dispatcher, registry, cfg.OutboxPeriod, cfg.OutboxLimit, logger.Component("relay"),
		relayer.WithConcurrency(cfg.OutboxConcurrency),
		relayer.WithRetention(cfg.OutboxRetention),
		relayer.WithMaxBackoff(cfg.OutboxMaxBackoff),
	)
	sweeper := sagaApp.NewTimeoutSweeper(store, pool, cfg.SagaSweepPeriod, cfg.OutboxLimit, logger.Component("sweeper"))

	runners = append(runners,
		func(ctx context.Context) error { relay.Start(ctx); return nil },
		sweeper.Run,
	)

	// ---------------- HTTP ----------------
	router := gin.New()
	router.Use(gin.Recovery())
	sagaHttp.RegisterRoutes(router, sagaHttp.NewSagaHandler(orchestrator, queries, pipelines, log))
	sagaHttp.RegisterOpsRoutes(router, sagaHttp.NewOpsHandler(reader, stats, log))

	server := &http.Server{Addr: ":" + cfg.HTTPPort, Handler: router, ReadHeaderTimeout: 5 * time.Second}
	runners = append(runners, func(ctx context.Context) error {
		return serveHTTP(ctx, server, log)
	})

	g, gctx := errgroup.WithContext(ctx)
	for _, run := range runners {
		g.Go(func() error { return run(gctx) })
	}
	if err := g.Wait(); err != nil {
		log.Error("❌ Servicio detenido con error", zap.Error(err))
		return
	}
	log.Info("👋 Servicio detenido")
}

func openDB(ctx context.Context, cfg *config.Config, log *zap.Logger) (*sql.DB, sqlstore.Dialect) {
	if cfg.DBDriver == "postgres" {
		db, err := postgres.Open(ctx, cfg.PostgresDSN, postgres.DefaultPoolSettings())
		if err != nil {
			log.Fatal("failed to open Postgres", zap.Error(err))
		}
		log.Info("✅ Postgres conectado")
		return db, sqlstore.DialectPostgres
	}

	db, err := sqlite.Open(ctx, cfg.SQLitePath)
	if err != nil {
		log.Fatal("failed to open SQLite", zap.Error(err))
	}
	log.Info("✅ SQLite abierto", zap.String("path", cfg.SQLitePath))
	return db, sqlstore.DialectSQLite
}

func openCache(ctx context.Context, cfg *config.Config, log *zap.Logger) sharedCache.Cache {
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	redisCache := sharedCache.NewRedisCache(rdb, cfg.CacheTTL)
	if err := redisCache.Ping(ctx); err != nil {
		log.Warn("⚠️ Redis no disponible, cache en memoria", zap.Error(err))
		_ = rdb.Close()
		return sharedCache.NewInMemoryCache(cfg.CacheTTL, 3*cfg.CacheTTL)
	}
	log.Info("✅ Redis conectado, cache habilitado")
	return redisCache
}

// openDeadLetters usa MongoDB si está configurado; si no, el log con los últimos en memoria.
func openDeadLetters(ctx context.Context, cfg *config.Config, log *zap.Logger) (sharedDomain.DeadLetterSink, sagaHttp.DeadLetterReader) {
	if cfg.MongoURI != "" {
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.MongoURI))
		if err == nil {
			if err = client.Ping(connectCtx, nil); err != nil {
				_ = client.Disconnect(context.Background())
			}
		}
		if err == nil {
			log.Info("✅ MongoDB conectado, dead letters persistentes")
			repo := deadletterMongo.NewDeadLetterRepoMongoDB(client, cfg.MongoDB)
			return repo, repo
		}
		log.Warn("⚠️ MongoDB no disponible, dead letters sólo en log", zap.Error(err))
	}
	sink := deadletter.NewLogSink(0, logger.Component("dead_letter"))
	return sink, sink
}

func serveHTTP(ctx context.Context, server *http.Server, log *zap.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info("🚀 Server running", zap.String("url", "http://localhost"+server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
