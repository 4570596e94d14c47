// Package main is the entry point for the fern entity resolution service.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Gobusters/ectoenv"
	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/stem/pkg/database"
	"github.com/Ramsey-B/stem/pkg/middleware"
	"github.com/Ramsey-B/stem/pkg/tracing"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/Ramsey-B/fern/config"
	clusterrepo "github.com/Ramsey-B/fern/internal/repositories/cluster"
	decisionrepo "github.com/Ramsey-B/fern/internal/repositories/decision"
	recordrepo "github.com/Ramsey-B/fern/internal/repositories/record"
	"github.com/Ramsey-B/fern/pkg/blocking"
	"github.com/Ramsey-B/fern/pkg/decision"
	"github.com/Ramsey-B/fern/pkg/evaluation"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/features"
	fernkafka "github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/matching"
	"github.com/Ramsey-B/fern/pkg/pipeline"
	"github.com/Ramsey-B/fern/pkg/resolver"
	"github.com/Ramsey-B/fern/pkg/routes/candidates"
	"github.com/Ramsey-B/fern/pkg/routes/clusters"
	"github.com/Ramsey-B/fern/pkg/routes/health"
	"github.com/Ramsey-B/fern/pkg/routes/pairs"
	"github.com/Ramsey-B/fern/pkg/routes/review"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "fern",
	Short: "Entity resolution and deduplication resolver",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the resolution API server and ingestion consumer",
	RunE:  runServe,
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Replay a labeled golden dataset and gate on the metrics",
	RunE:  runEvaluate,
}

func init() {
	evaluateCmd.Flags().String("dataset", "", "path to the JSON-lines golden dataset")
	evaluateCmd.Flags().String("tenant", "golden", "tenant id used for the run")
	evaluateCmd.Flags().Float64("min-roc-auc", 0.8, "minimum ROC-AUC")
	evaluateCmd.Flags().Float64("min-average-precision", 0.8, "minimum average precision")
	evaluateCmd.Flags().Float64("min-precision", 0, "minimum precision (0 disables)")
	evaluateCmd.Flags().Float64("min-recall", 0, "minimum recall (0 disables)")
	_ = evaluateCmd.MarkFlagRequired("dataset")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(evaluateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	_ = godotenv.Load()

	var cfg config.Config
	if err := ectoenv.BindEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return &cfg, nil
}

func newLogger() ectologger.Logger {
	zl, _ := zap.NewProduction()
	sugar := zl.Sugar()
	return ectologger.NewEctoLogger(func(msg ectologger.EctoLogMessage) {
		data, _ := json.Marshal(msg)
		sugar.Info(string(data))
	})
}

// buildScoringStack constructs the pure scoring components shared by the
// server and the evaluation harness. Configuration errors are fatal.
func buildScoringStack(logger ectologger.Logger, cfg *config.Config) (*features.Extractor, *matching.Matcher, *decision.Engine, error) {
	extractor := features.NewExtractor(nil)

	matcher, err := matching.NewMatcher(logger, cfg.MatchRules(), cfg.ScorerConfig())
	if err != nil {
		return nil, nil, nil, err
	}

	engine, err := decision.NewEngine(logger, cfg.Thresholds())
	if err != nil {
		return nil, nil, nil, err
	}

	return extractor, matcher, engine, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()
	tracing.SetTracer(tp.Tracer(cfg.AppName))

	extractor, matcher, engine, err := buildScoringStack(logger, cfg)
	if err != nil {
		return err
	}

	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.DatabaseHost, cfg.DatabasePort, cfg.DatabaseUserName, cfg.DatabasePassword, cfg.DatabaseName, cfg.DatabaseSSLMode)
	sqlxDB, err := sqlx.Connect(cfg.DatabaseDriver, dsn)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer sqlxDB.Close()
	sqlxDB.SetMaxOpenConns(cfg.DatabaseMaxOpenConns)
	sqlxDB.SetMaxIdleConns(cfg.DatabaseMaxIdleConns)
	sqlxDB.SetConnMaxLifetime(cfg.DatabaseConnMaxLifetime)

	driver, err := postgres.WithInstance(sqlxDB.DB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to prepare migration driver: %w", err)
	}
	migrations := database.NewMigrationService(logger, &database.MigrationConfig{
		MigrationFolderPath: cfg.DatabaseMigrationFolderPath,
		Version:             uint(cfg.DatabaseMigrationVersion),
		Force:               cfg.DatabaseMigrationForce,
		AutoRollback:        cfg.DatabaseMigrationAutoRollback,
	})
	if err := migrations.Migrate(cfg.DatabaseName, driver); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	db := database.NewDatabaseInstance(sqlxDB, logger)
	clusterStore := clusterrepo.NewRepository(db, logger)
	decisionStore := decisionrepo.NewRepository(db, logger)
	recordStore := recordrepo.NewRepository(db, logger)

	res := resolver.NewResolver(logger, clusterStore, cfg.MergePolicy())
	generator := blocking.NewGenerator(logger, cfg.BlockingConfig())

	producer := fernkafka.NewProducer(fernkafka.ProducerConfig{
		Brokers:      cfg.KafkaBrokers,
		Topic:        cfg.KafkaOutputTopic,
		BatchSize:    cfg.KafkaBatchSize,
		BatchTimeout: time.Duration(cfg.KafkaBatchTimeout) * time.Millisecond,
		RequiredAcks: cfg.KafkaRequiredAcks,
		Compression:  cfg.KafkaCompression,
	}, logger)
	defer producer.Close()
	emitter := events.NewEmitter(producer, logger)

	pipe := pipeline.NewPipeline(logger, generator, extractor, matcher, engine, res, decisionStore, emitter, cfg.ResolveWorkerCount)

	var consumer *fernkafka.Consumer
	if cfg.KafkaConsumerEnabled {
		consumer = fernkafka.NewConsumer(fernkafka.ConsumerConfig{
			Brokers:       cfg.KafkaBrokers,
			Topic:         cfg.KafkaInputTopic,
			ConsumerGroup: cfg.KafkaConsumerGroup,
		}, logger, func(ctx context.Context, msg *fernkafka.IncomingMessage) error {
			tenantID := msg.GetTenantID()
			if err := recordStore.UpsertBatch(ctx, msg.Batch.Records); err != nil {
				return err
			}
			summary, err := pipe.Run(ctx, tenantID, msg.Batch.Records)
			if err != nil {
				return err
			}
			if summary.Failed {
				return fmt.Errorf("batch failed: %s", summary.FailureReason)
			}
			return nil
		})
		if err := consumer.Start(ctx); err != nil {
			return err
		}
		defer func() { _ = consumer.Stop() }()
	}

	container, err := ectoinject.NewDIDefaultContainer()
	if err != nil {
		return fmt.Errorf("failed to create DI container: %w", err)
	}
	if err := ectoinject.RegisterInstance[ectologger.Logger](container, logger); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*features.Extractor](container, extractor); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*matching.Matcher](container, matcher); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*decision.Engine](container, engine); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*resolver.Resolver](container, res); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*blocking.Generator](container, generator); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*events.Emitter](container, emitter); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*clusterrepo.Repository](container, clusterStore); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*decisionrepo.Repository](container, decisionStore); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*recordrepo.Repository](container, recordStore); err != nil {
		return err
	}

	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = middleware.Error(logger)
	e.Use(otelecho.Middleware(cfg.AppName))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(logger))

	// Pass a nil interface, not the typed-nil pointer, when the consumer is
	// disabled so the checker skips the consumer probe entirely.
	var consumerCheck interface{ Health() bool }
	if consumer != nil {
		consumerCheck = consumer
	}
	checker := health.NewChecker(sqlxDB, consumerCheck, version)
	checker.RegisterRoutes(e)

	api := e.Group("/api/v1")
	pairs.Register(api.Group("/pairs"))
	candidates.Register(api.Group("/candidates"))
	review.Register(api.Group("/review"))
	clusters.Register(api.Group("/clusters"))

	e.Server.ReadTimeout = time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second
	e.Server.WriteTimeout = time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second
	e.Server.IdleTimeout = time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second
	e.Server.MaxHeaderBytes = cfg.MaxHeaderBytes

	go func() {
		addr := fmt.Sprintf(":%d", cfg.Port)
		logger.WithFields(map[string]any{"addr": addr}).Info("Starting HTTP server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("HTTP server failed")
			stop()
		}
	}()
	checker.SetReady(true)

	<-ctx.Done()
	checker.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

func runEvaluate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger()

	dataset, _ := cmd.Flags().GetString("dataset")
	tenant, _ := cmd.Flags().GetString("tenant")
	minROCAUC, _ := cmd.Flags().GetFloat64("min-roc-auc")
	minAP, _ := cmd.Flags().GetFloat64("min-average-precision")
	minPrecision, _ := cmd.Flags().GetFloat64("min-precision")
	minRecall, _ := cmd.Flags().GetFloat64("min-recall")

	extractor, matcher, engine, err := buildScoringStack(logger, cfg)
	if err != nil {
		return err
	}

	pairs, err := evaluation.LoadDataset(dataset)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	harness := evaluation.NewHarness(logger, extractor, matcher, engine)
	metrics, err := harness.Run(ctx, tenant, pairs)
	if err != nil {
		return err
	}

	out, _ := json.MarshalIndent(metrics, "", "  ")
	fmt.Fprintln(cmd.OutOrStdout(), string(out))

	gate := evaluation.Gate{
		MinROCAUC:           minROCAUC,
		MinAveragePrecision: minAP,
		MinPrecision:        minPrecision,
		MinRecall:           minRecall,
	}
	if err := gate.Check(*metrics); err != nil {
		return err
	}
	return nil
}
