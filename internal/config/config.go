package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Couch     CouchConfig
	Cloud     CloudConfig
	Collab    CollabConfig
	Replica   ReplicaConfig
	Snapshot  SnapshotConfig
	WebSocket WebSocketConfig
	CORS      CORSConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Port      string
	Host      string
	Env       string
	EngineKey string
}

type StorageConfig struct {
	Driver     string
	Path       string
	InMemory   bool
	SyncWrites bool
	GCInterval time.Duration
}

type CouchConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
}

type CloudConfig struct {
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
}

type CollabConfig struct {
	URL string
}

type ReplicaConfig struct {
	SweepInterval    time.Duration
	EvictAfter       time.Duration
	HydrationTimeout time.Duration
}

type SnapshotConfig struct {
	Debounce time.Duration
}

type WebSocketConfig struct {
	ReadBufferSize  int
	WriteBufferSize int
	MaxMessageSize  int64
	WriteWait       time.Duration
	PongWait        time.Duration
	PingPeriod      time.Duration
	MaxClients      int
}

type CORSConfig struct {
	AllowedOrigins string
	AllowedMethods string
	AllowedHeaders string
}

type LoggingConfig struct {
	Level string
}

func Load() (*Config, error) {
	godotenv.Load()

	gcInterval, err := getEnvAsDuration("STORAGE_GC_INTERVAL", "5m")
	if err != nil {
		return nil, err
	}
	cloudTimeout, err := getEnvAsDuration("CLOUD_TIMEOUT", "30s")
	if err != nil {
		return nil, err
	}
	sweepInterval, err := getEnvAsDuration("REPLICA_SWEEP_INTERVAL", "60s")
	if err != nil {
		return nil, err
	}
	evictAfter, err := getEnvAsDuration("REPLICA_EVICT_AFTER", "5m")
	if err != nil {
		return nil, err
	}
	hydrationTimeout, err := getEnvAsDuration("HYDRATION_TIMEOUT", "400ms")
	if err != nil {
		return nil, err
	}
	snapshotDebounce, err := getEnvAsDuration("SNAPSHOT_DEBOUNCE", "30s")
	if err != nil {
		return nil, err
	}

	driver := getEnv("STORAGE_DRIVER", "badger")
	if driver != "badger" && driver != "couch" {
		return nil, fmt.Errorf("invalid STORAGE_DRIVER: %s", driver)
	}

	return &Config{
		Server: ServerConfig{
			Port:      getEnv("PORT", "7420"),
			Host:      getEnv("HOST", "127.0.0.1"),
			Env:       getEnv("ENV", "development"),
			EngineKey: getEnv("ENGINE_KEY", ""),
		},
		Storage: StorageConfig{
			Driver:     driver,
			Path:       getEnv("STORAGE_PATH", "./data"),
			InMemory:   getEnvAsBool("STORAGE_IN_MEMORY", false),
			SyncWrites: getEnvAsBool("STORAGE_SYNC_WRITES", false),
			GCInterval: gcInterval,
		},
		Couch: CouchConfig{
			Host:     getEnv("COUCH_HOST", "localhost"),
			Port:     getEnv("COUCH_PORT", "5984"),
			User:     getEnv("COUCH_USER", "admin"),
			Password: getEnv("COUCH_PASSWORD", "password"),
			Name:     getEnv("COUCH_DB_NAME", "quillmark"),
		},
		Cloud: CloudConfig{
			BaseURL:    getEnv("CLOUD_BASE_URL", "https://api.quillmark.app"),
			Timeout:    cloudTimeout,
			MaxRetries: getEnvAsInt("CLOUD_MAX_RETRIES", 3),
		},
		Collab: CollabConfig{
			URL: getEnv("COLLAB_URL", "wss://collab.quillmark.app"),
		},
		Replica: ReplicaConfig{
			SweepInterval:    sweepInterval,
			EvictAfter:       evictAfter,
			HydrationTimeout: hydrationTimeout,
		},
		Snapshot: SnapshotConfig{
			Debounce: snapshotDebounce,
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  getEnvAsInt("WS_READ_BUFFER_SIZE", 4096),
			WriteBufferSize: getEnvAsInt("WS_WRITE_BUFFER_SIZE", 4096),
			MaxMessageSize:  int64(getEnvAsInt("WS_MAX_MESSAGE_SIZE", 10485760)),
			WriteWait:       10 * time.Second,
			PongWait:        60 * time.Second,
			PingPeriod:      54 * time.Second,
			MaxClients:      getEnvAsInt("WS_MAX_CLIENTS", 16),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
			AllowedMethods: getEnv("CORS_ALLOWED_METHODS", "GET,POST,PUT,PATCH,DELETE,OPTIONS"),
			AllowedHeaders: getEnv("CORS_ALLOWED_HEADERS", "Content-Type,Authorization"),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key, defaultValue string) (time.Duration, error) {
	d, err := time.ParseDuration(getEnv(key, defaultValue))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
