package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	DBSource      string
	Port          string
	Env           string
	JWTSecret     string
	EngineAddress string
	KafkaBrokers  []string
	LogLevel      string
	BatchMax      int
}

// Load reads configuration from the environment, with a .env file as a
// fallback for local development. KAFKA_BROKERS may be empty; the api
// then keeps the audit trail in process instead of publishing it.
func Load() (*Config, error) {
	_ = godotenv.Load()

	dbSource := os.Getenv("DB_SOURCE")
	if dbSource == "" {
		return nil, fmt.Errorf("DB_SOURCE environment variable is required")
	}

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required")
	}

	batchMax := 52
	if v := os.Getenv("BATCH_MAX_COUNT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("BATCH_MAX_COUNT must be a positive integer")
		}
		batchMax = n
	}

	var brokers []string
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		brokers = strings.Split(v, ",")
	}

	return &Config{
		DBSource:      dbSource,
		Port:          getEnv("SERVER_PORT", "8080"),
		Env:           getEnv("ENVIRONMENT", "development"),
		JWTSecret:     secret,
		EngineAddress: getEnv("ENGINE_ADDRESS", "agentpay-engine"),
		KafkaBrokers:  brokers,
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		BatchMax:      batchMax,
	}, nil
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}
