package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	"loghold/internal/activity"
	"loghold/internal/api"
	"loghold/internal/config"
	"loghold/internal/dedup"
	"loghold/internal/indexer"
	"loghold/internal/indexer/elastic"
	"loghold/internal/ingest"
	"loghold/internal/journal"
	"loghold/internal/logger"
	"loghold/internal/sysjobs"
	"loghold/internal/users"
	"loghold/pkg/bootstrap"
	"loghold/pkg/health"
	"loghold/pkg/metrics"
	"loghold/pkg/middleware"
)

const shutdownTimeout = 15 * time.Second

type App struct {
	cfg         *config.Config
	logger      logger.Logger
	dbConnector *bootstrap.DatabaseConnector

	nodeID      string
	redis       *redis.Client
	mongoClient *mongo.Client
	elastic     *elastic.Client
	jobManager  *sysjobs.Manager
	deflector   *indexer.Deflector
	journal     *journal.KafkaJournal
	ingest      *ingest.Service
	server      *http.Server
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName("loghold-service")
	}

	nodeID := cfg.NodeID
	if nodeID == "" {
		if hostname, err := os.Hostname(); err == nil {
			nodeID = hostname
		} else {
			nodeID = "loghold"
		}
	}

	return &App{
		cfg:         cfg,
		logger:      log,
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
		nodeID:      nodeID,
	}
}

func (a *App) Initialize(ctx context.Context) error {
	metrics.Register()

	if err := a.initDatabases(ctx); err != nil {
		return err
	}

	if err := a.initIndexer(ctx); err != nil {
		return err
	}

	a.initIngest()

	if err := a.initHTTPServer(); err != nil {
		return fmt.Errorf("failed to initialize HTTP server: %w", err)
	}

	return nil
}

func (a *App) initDatabases(ctx context.Context) error {
	rdb, err := a.dbConnector.InitRedis(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize Redis: %w", err)
	}
	a.redis = rdb

	mongoClient, err := a.dbConnector.InitMongoDB(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize MongoDB: %w", err)
	}
	a.mongoClient = mongoClient
	return nil
}

func (a *App) initIndexer(ctx context.Context) error {
	a.elastic = elastic.NewClient(a.cfg.Elasticsearch, a.logger)

	db := a.mongoClient.Database(a.cfg.Database.MongoDB.Database)
	activityWriter := activity.NewMongoWriter(db, a.nodeID, a.logger)
	rangeRepo := indexer.NewMongoRangeRepository(db)

	a.jobManager = sysjobs.NewManager(a.cfg.Indexer.MaxConcurrentJobs, a.logger)
	jobFactory := sysjobs.NewFactory(a.elastic, a.elastic, rangeRepo, a.logger)

	a.deflector = indexer.NewDeflector(
		a.elastic,
		a.jobManager,
		jobFactory,
		activityWriter,
		a.cfg.Indexer,
		a.logger,
	)

	if err := a.deflector.SetUp(ctx); err != nil {
		return fmt.Errorf("failed to set up deflector: %w", err)
	}
	return nil
}

func (a *App) initIngest() {
	codec := journal.NewCodec(a.logger)
	a.journal = journal.NewKafkaJournal(a.cfg.Journal.Kafka, codec, a.logger)

	dedupRepo := dedup.NewRedisRepository(a.redis)
	dedupSvc := dedup.NewService(dedupRepo, a.cfg.Ingest, a.cfg.Database.Redis, a.logger)

	a.ingest = ingest.NewService(a.journal, dedupSvc, a.cfg.Ingest, a.nodeID, a.logger)
}

func (a *App) initHTTPServer() error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(middleware.RecoveryMiddleware(a.logger))
	router.Use(middleware.LoggerMiddleware(a.logger))
	router.Use(middleware.RequestIDMiddleware())

	db := a.mongoClient.Database(a.cfg.Database.MongoDB.Database)
	userRepo := users.NewMongoRepository(db, a.cfg.Root, a.logger)

	handler := api.NewHandler(a.deflector, a.ingest, userRepo, a.logger)
	handler.RegisterRoutes(router)

	healthRegistry := health.NewCheckerRegistry()
	healthRegistry.Register(health.NewRedisChecker(a.redis))
	healthRegistry.Register(health.NewMongoDBChecker(a.mongoClient))
	healthRegistry.Register(&health.FuncChecker{
		CheckerName: "elasticsearch",
		Fn:          a.elastic.Ping,
	})
	healthRegistry.Register(health.NonCritical(&health.FuncChecker{
		CheckerName: "deflector",
		Fn: func(ctx context.Context) error {
			if !a.deflector.IsUp(ctx) {
				return fmt.Errorf("deflector alias %s is not set up", a.deflector.Name())
			}
			return nil
		},
	}))

	router.GET("/health", func(c *gin.Context) {
		h := healthRegistry.Check(c.Request.Context())
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		c.JSON(statusCode, h)
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(a.cfg.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(a.cfg.Server.WriteTimeoutSeconds) * time.Second,
	}
	return nil
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.InfowCtx(ctx, "HTTP server starting", "port", a.cfg.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	if err := a.journal.Replay(gCtx, a.handleJournalMessage()); err != nil {
		return fmt.Errorf("starting journal replay: %w", err)
	}

	g.Go(func() error {
		<-gCtx.Done()
		return a.Shutdown(context.Background())
	})

	return g.Wait()
}

// handleJournalMessage indexes one replayed message into whatever index the
// deflector alias points at. Indexing failures are returned so the journal
// redelivers the record instead of losing it.
func (a *App) handleJournalMessage() journal.HandlerFunc {
	return func(ctx context.Context, m *journal.RawMessage) error {
		doc := map[string]interface{}{
			"message":   string(m.Payload()),
			"timestamp": m.Timestamp().UTC().UnixMilli(),
			"codec":     m.CodecName(),
		}

		if nodes := m.SourceNodes(); len(nodes) > 0 {
			doc["source_node"] = nodes[0].NodeID
			doc["source_input"] = nodes[0].InputID
		}
		if remote := m.RemoteAddress(); remote != nil {
			doc["remote_address"] = remote.IP.String()
		}

		if err := a.elastic.IndexDocument(ctx, a.deflector.Name(), m.ID().String(), doc); err != nil {
			return fmt.Errorf("indexing message %s: %w", m.ID().String(), err)
		}
		return nil
	}
}

func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Infow("Shutting down loghold node")

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	var errs []error

	if a.server != nil {
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("HTTP server shutdown error: %w", err))
		}
	}

	if a.jobManager != nil {
		if err := a.jobManager.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
	}

	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			errs = append(errs, fmt.Errorf("journal close error: %w", err))
		}
	}

	errs = append(errs, a.dbConnector.ShutdownDatabases(shutdownCtx, a.redis, a.mongoClient)...)

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}

	a.logger.Infow("Application exited successfully")
	return nil
}
