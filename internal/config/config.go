package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// SnapshotBackend selects which SnapshotStore implementation the hub wires
// up at startup.
type SnapshotBackend string

const (
	SnapshotBackendFile     SnapshotBackend = "file"
	SnapshotBackendBolt     SnapshotBackend = "bbolt"
	SnapshotBackendPostgres SnapshotBackend = "postgres"
	SnapshotBackendMongo    SnapshotBackend = "mongo"
)

// Config holds every hub setting sourced from the environment, following
// a flat getEnv/getEnvInt config struct rather than a viper/flag based one.
type Config struct {
	ListenAddr string

	SnapshotBackend  SnapshotBackend
	SnapshotDir      string // file backend
	SnapshotDSN      string // postgres/mongo backend connection string
	SnapshotInterval time.Duration

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration // connections silent longer than this are dropped

	BackpressureHighWaterMark int

	JaegerEndpoint string
}

// Load reads a .env file if present, then the process environment, filling
// in defaults suitable for local development.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ListenAddr: getEnv("LISTEN_ADDR", ":8080"),

		SnapshotBackend:  SnapshotBackend(getEnv("SNAPSHOT_BACKEND", string(SnapshotBackendFile))),
		SnapshotDir:      getEnv("SNAPSHOT_DIR", "./data/snapshots"),
		SnapshotDSN:      getEnv("SNAPSHOT_DSN", ""),
		SnapshotInterval: getEnvDuration("SNAPSHOT_INTERVAL", 5*time.Minute),

		HeartbeatInterval: getEnvDuration("HEARTBEAT_INTERVAL", 30*time.Second),
		HeartbeatTimeout:  getEnvDuration("HEARTBEAT_TIMEOUT", 90*time.Second),

		BackpressureHighWaterMark: getEnvInt("BACKPRESSURE_HWM", 256),

		JaegerEndpoint: getEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
	}

	switch cfg.SnapshotBackend {
	case SnapshotBackendFile, SnapshotBackendBolt, SnapshotBackendPostgres, SnapshotBackendMongo:
	default:
		return nil, fmt.Errorf("config: unknown SNAPSHOT_BACKEND %q", cfg.SnapshotBackend)
	}
	if (cfg.SnapshotBackend == SnapshotBackendPostgres || cfg.SnapshotBackend == SnapshotBackendMongo) && cfg.SnapshotDSN == "" {
		return nil, fmt.Errorf("config: SNAPSHOT_DSN is required for backend %q", cfg.SnapshotBackend)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
