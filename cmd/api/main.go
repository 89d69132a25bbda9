package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/agentpay/agentpay/internal/api"
	"github.com/agentpay/agentpay/internal/config"
	"github.com/agentpay/agentpay/internal/domain"
	"github.com/agentpay/agentpay/internal/engine"
	"github.com/agentpay/agentpay/internal/events"
	"github.com/agentpay/agentpay/internal/ledger"
	"github.com/agentpay/agentpay/internal/token"
	"github.com/agentpay/agentpay/migrations"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := zerolog.New(os.Stderr)
		bootLogger.Fatal().Err(err).Msg("config load failed")
	}

	logger := newLogger(cfg)

	if err := runMigrations(cfg.DBSource); err != nil {
		logger.Fatal().Err(err).Msg("migrations failed")
	}

	dbPool, err := pgxpool.New(context.Background(), cfg.DBSource)
	if err != nil {
		logger.Fatal().Err(err).Msg("unable to connect to database")
	}
	defer dbPool.Close()

	if err := dbPool.Ping(context.Background()); err != nil {
		logger.Fatal().Err(err).Msg("database ping failed")
	}

	// Audit trail: Kafka when brokers are configured, an in-process
	// recorder otherwise.
	var publisher domain.EventPublisher
	if len(cfg.KafkaBrokers) > 0 {
		kafkaPublisher, err := events.NewKafkaPublisher(cfg.KafkaBrokers, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("kafka publisher init failed")
		}
		defer kafkaPublisher.Close()
		publisher = kafkaPublisher
	} else {
		logger.Warn().Msg("KAFKA_BROKERS not set, audit events stay in process")
		publisher = events.NewRecorder()
	}

	// Initialize Layers
	repo := ledger.NewPostgresRepository(dbPool)
	tokenLedger := token.NewPostgresLedger(dbPool, cfg.EngineAddress)
	eng := engine.New(repo, tokenLedger, publisher, logger, engine.WithMaxBatch(cfg.BatchMax))
	handler := api.NewHandler(eng, tokenLedger, logger)

	router := api.NewRouter(handler, cfg.JWTSecret)

	logger.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("server starting")
	if err := http.ListenAndServe(":"+cfg.Port, router); err != nil {
		logger.Fatal().Err(err).Msg("server stopped")
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Str("service", "agentpay").Logger()
	if cfg.Env == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}
	return logger
}

// runMigrations applies the embedded SQL migrations.
func runMigrations(dbSource string) error {
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return err
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, migrateURL(dbSource))
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// migrateURL rewrites the pool DSN scheme to the one golang-migrate's pgx
// driver registers.
func migrateURL(dbSource string) string {
	for _, scheme := range []string{"postgresql://", "postgres://"} {
		if strings.HasPrefix(dbSource, scheme) {
			return "pgx5://" + strings.TrimPrefix(dbSource, scheme)
		}
	}
	return dbSource
}
