// Package config loads evaluation settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds every setting the evaluation binaries read from the
// environment. CLI flags override individual fields.
type Config struct {
	Seed    int64
	DataDir string
	LogDir  string

	Classifier ClassifierConfig
	LowShot    LowShotConfig
	Loader     LoaderConfig
	Results    ResultsConfig
}

// ClassifierConfig holds the probe head hyperparameters.
type ClassifierConfig struct {
	HiddenSize int
	MaxEpochs  int
	Patience   int
	BatchSize  int
	LearnRate  float64
}

// LowShotConfig holds the low-shot evaluation settings.
type LowShotConfig struct {
	Shots       int
	Repetitions int
}

// LoaderConfig holds the dataset loader settings.
type LoaderConfig struct {
	BatchSize int
	Workers   int
}

// ResultsConfig selects and configures the results store.
type ResultsConfig struct {
	Store    string // "memory", "csv", "postgres", "redis"
	Postgres PostgresConfig
	Redis    RedisConfig
}

// PostgresConfig holds the PostgreSQL results backend settings.
type PostgresConfig struct {
	DSN   string
	Table string
}

// RedisConfig holds the Redis results backend settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

// Load reads settings from the environment, optionally loading a .env file
// first. A missing .env file is not an error; the environment alone suffices.
func Load(envFilePath string) (*Config, error) {
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: load env file: %w", err)
			}
		}
	}

	cfg := &Config{
		Seed:    getEnvAsInt64("PROBE_SEED", 42),
		DataDir: getEnv("PROBE_DATA_DIR", "data"),
		LogDir:  getEnv("PROBE_LOG_DIR", "."),
		Classifier: ClassifierConfig{
			HiddenSize: getEnvAsInt("PROBE_HIDDEN_SIZE", 1024),
			MaxEpochs:  getEnvAsInt("PROBE_MAX_EPOCHS", 500),
			Patience:   getEnvAsInt("PROBE_PATIENCE", 20),
			BatchSize:  getEnvAsInt("PROBE_CLF_BATCH_SIZE", 128),
			LearnRate:  getEnvAsFloat("PROBE_LEARN_RATE", 1e-3),
		},
		LowShot: LowShotConfig{
			Shots:       getEnvAsInt("PROBE_SHOTS", 5),
			Repetitions: getEnvAsInt("PROBE_REPETITIONS", 5),
		},
		Loader: LoaderConfig{
			BatchSize: getEnvAsInt("PROBE_BATCH_SIZE", 64),
			Workers:   getEnvAsInt("PROBE_WORKERS", 1),
		},
		Results: ResultsConfig{
			Store: getEnv("PROBE_RESULTS_STORE", "csv"),
			Postgres: PostgresConfig{
				DSN:   getEnv("PROBE_POSTGRES_DSN", ""),
				Table: getEnv("PROBE_POSTGRES_TABLE", "eval_runs"),
			},
			Redis: RedisConfig{
				Addr:     getEnv("PROBE_REDIS_ADDR", "localhost:6379"),
				Password: getEnv("PROBE_REDIS_PASSWORD", ""),
				DB:       getEnvAsInt("PROBE_REDIS_DB", 0),
				Key:      getEnv("PROBE_REDIS_KEY", ""),
			},
		},
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}
