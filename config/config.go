package config

import (
	"time"

	"github.com/Ramsey-B/fern/pkg/blocking"
	"github.com/Ramsey-B/fern/pkg/models"
)

type Config struct {
	AppName                       string   `env:"APP_NAME" env-default:"fern-api"`
	Port                          int      `env:"PORT" env-default:"3004"`
	LogLevel                      string   `env:"LOG_LEVEL" env-default:"info"`
	PrettyLogs                    bool     `env:"PRETTY_LOGS" env-default:"false"`
	HttpServerWriteTimeoutSeconds int      `env:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerReadTimeoutSeconds  int      `env:"HTTP_SERVER_READ_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerIdleTimeoutSeconds  int      `env:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS" env-default:"10"`
	MaxHeaderBytes                int      `env:"HTTP_SERVER_MAX_HEADER_BYTES" env-default:"64000"` // 64KB
	ReadHeaderTimeoutSeconds      int      `env:"HTTP_SERVER_READ_HEADER_TIMEOUT_SECONDS" env-default:"10"`
	TLSMinVersion                 string   `env:"HTTP_SERVER_TLS_MIN_VERSION" env-default:"TLS_1_2"`
	TLSMaxVersion                 string   `env:"HTTP_SERVER_TLS_MAX_VERSION" env-default:"TLS_1_2"`
	AllowOrigins                  []string `env:"HTTP_SERVER_ALLOW_ORIGINS" env-default:"*"`
	AllowMethods                  []string `env:"HTTP_SERVER_ALLOW_METHODS" env-default:"GET,POST,PUT,DELETE"`
	StartupMaxAttempts            int      `env:"STARTUP_MAX_ATTEMPTS" env-default:"5"`

	// PostgreSQL
	DatabaseDriver                string        `env:"DB_DRIVER" env-default:"postgres"`
	DatabaseHost                  string        `env:"DB_HOST" env-default:""`
	DatabasePort                  string        `env:"DB_PORT" env-default:"5432"`
	DatabaseUserName              string        `env:"DB_USER_NAME" env-default:""`
	DatabasePassword              string        `env:"DB_PASSWORD" env-default:""`
	DatabaseName                  string        `env:"DB_NAME" env-default:"fern"`
	DatabaseSSLMode               string        `env:"DB_SQL_MODE" env-default:"disable"`
	DatabaseReconnectRetryCount   int           `env:"DB_RECONNECT_RETRY_COUNT" env-default:"3"`
	DatabaseMaxOpenConns          int           `env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	DatabaseMaxIdleConns          int           `env:"DB_MAX_IDLE_CONNS" env-default:"10"`
	DatabaseConnMaxLifetime       time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"10s"`
	DatabaseMigrationFolderPath   string        `env:"DB_MIGRATION_FOLDER_PATH" env-default:"db/pg"`
	DatabaseMigrationVersion      int           `env:"DB_MIGRATION_VERSION" env-default:"0"`
	DatabaseMigrationForce        int           `env:"DB_MIGRATION_FORCE" env-default:"0"`
	DatabaseMigrationAutoRollback bool          `env:"DB_MIGRATION_AUTO_ROLLBACK" env-default:"true"`

	// Kafka Consumer (record ingestion)
	KafkaBrokers         []string `env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	KafkaInputTopic      string   `env:"KAFKA_INPUT_TOPIC" env-default:"ingested-records"`
	KafkaConsumerGroup   string   `env:"KAFKA_CONSUMER_GROUP" env-default:"fern-consumer"`
	KafkaConsumerEnabled bool     `env:"KAFKA_CONSUMER_ENABLED" env-default:"true"`

	// Kafka Producer settings
	KafkaOutputTopic  string `env:"KAFKA_OUTPUT_TOPIC" env-default:"resolution-events"`
	KafkaBatchSize    int    `env:"KAFKA_BATCH_SIZE" env-default:"100"`
	KafkaBatchTimeout int    `env:"KAFKA_BATCH_TIMEOUT_MS" env-default:"100"`
	KafkaRequiredAcks int    `env:"KAFKA_REQUIRED_ACKS" env-default:"1"`
	KafkaCompression  string `env:"KAFKA_COMPRESSION" env-default:"snappy"`

	// Blocking
	BlockingShingleSize    int `env:"BLOCKING_SHINGLE_SIZE" env-default:"3"`
	BlockingBands          int `env:"BLOCKING_BANDS" env-default:"20"`
	BlockingRows           int `env:"BLOCKING_ROWS" env-default:"4"`
	BlockingMaxCandidates  int `env:"BLOCKING_MAX_CANDIDATES" env-default:"0"`
	BlockingMinPhoneDigits int `env:"BLOCKING_MIN_PHONE_DIGITS" env-default:"7"`

	// Scoring
	ScorerModelID              string  `env:"SCORER_MODEL_ID" env-default:"weighted-logistic-v1"`
	ScorerImputedValue         float64 `env:"SCORER_IMPUTED_VALUE" env-default:"0.3"`
	ScorerGeoScaleKM           float64 `env:"SCORER_GEO_SCALE_KM" env-default:"25"`
	ScorerTimeScaleHours       float64 `env:"SCORER_TIME_SCALE_HOURS" env-default:"72"`
	ScorerCalibrationMidpoint  float64 `env:"SCORER_CALIBRATION_MIDPOINT" env-default:"0.5"`
	ScorerCalibrationSteepness float64 `env:"SCORER_CALIBRATION_STEEPNESS" env-default:"8"`

	// Decisioning
	ThresholdReviewLow float64 `env:"THRESHOLD_REVIEW_LOW" env-default:"0.6"`
	ThresholdMergeHigh float64 `env:"THRESHOLD_MERGE_HIGH" env-default:"0.85"`
	DecisionTopFactors int     `env:"DECISION_TOP_FACTORS" env-default:"3"`
	ReviewQueueEnabled bool    `env:"REVIEW_QUEUE_ENABLED" env-default:"true"`
	ResolveWorkerCount int     `env:"RESOLVE_WORKER_COUNT" env-default:"4"`
	ResolveBatchSize   int     `env:"RESOLVE_BATCH_SIZE" env-default:"500"`
	RecordRedundant    bool    `env:"RECORD_REDUNDANT_MERGES" env-default:"false"`
	DefaultMergePolicy string  `env:"DEFAULT_MERGE_STRATEGY" env-default:"most_recent"`
}

// BlockingConfig builds the candidate generator configuration.
func (c Config) BlockingConfig() blocking.Config {
	return blocking.Config{
		ShingleSize:    c.BlockingShingleSize,
		Bands:          c.BlockingBands,
		Rows:           c.BlockingRows,
		MaxCandidates:  c.BlockingMaxCandidates,
		MinPhoneDigits: c.BlockingMinPhoneDigits,
	}
}

// ScorerConfig builds the probabilistic scorer configuration with the
// default feature weights.
func (c Config) ScorerConfig() models.ScorerConfig {
	return models.ScorerConfig{
		ModelID: c.ScorerModelID,
		Weights: []models.FeatureWeight{
			{Feature: models.FeatureEmailExact, Weight: 3},
			{Feature: models.FeaturePhoneExact, Weight: 2.5},
			{Feature: models.FeatureGovIDExact, Weight: 3},
			{Feature: models.FeatureNameSim, Weight: 2},
			{Feature: models.FeatureAddressSim, Weight: 1.5},
			{Feature: models.FeatureGeoDistance, Weight: 1},
			{Feature: models.FeatureTimeDelta, Weight: 0.5},
		},
		ImputedValue:         c.ScorerImputedValue,
		GeoScaleKM:           c.ScorerGeoScaleKM,
		TimeScaleHours:       c.ScorerTimeScaleHours,
		CalibrationMidpoint:  c.ScorerCalibrationMidpoint,
		CalibrationSteepness: c.ScorerCalibrationSteepness,
	}
}

// MatchRules returns the default deterministic rules.
func (c Config) MatchRules() []models.MatchRule {
	return []models.MatchRule{
		{Name: "exact-email", RequiredFeatures: []string{models.FeatureEmailExact}},
		{Name: "exact-gov-id", RequiredFeatures: []string{models.FeatureGovIDExact}},
		{Name: "exact-phone-and-name", RequiredFeatures: []string{models.FeaturePhoneExact, models.FeatureNameSim}},
	}
}

// Thresholds returns the decision thresholds.
func (c Config) Thresholds() models.Thresholds {
	return models.Thresholds{
		ReviewLow:  c.ThresholdReviewLow,
		MergeHigh:  c.ThresholdMergeHigh,
		TopFactors: c.DecisionTopFactors,
	}
}

// MergePolicy returns the merge policy applied by the resolver.
func (c Config) MergePolicy() models.MergePolicy {
	return models.MergePolicy{
		DefaultStrategy:       models.MergeStrategyType(c.DefaultMergePolicy),
		RecordRedundantMerges: c.RecordRedundant,
		FieldStrategies: []models.FieldMergeStrategy{
			{Field: "name", Strategy: models.MergeStrategyLongestValue},
			{Field: "email", Strategy: models.MergeStrategyCollectAll},
			{Field: "phone", Strategy: models.MergeStrategyCollectAll},
			{Field: "gov_id", Strategy: models.MergeStrategyPreferNonEmpty},
		},
	}
}
