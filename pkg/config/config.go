// Package config loads chatcore settings from the environment, reading a
// .env file first when one is present.
package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mahaj/chatcore/pkg/db"
)

// Checkpoint backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendScylla = "scylla"
)

// Realtime sources.
const (
	RealtimeWebSocket = "websocket"
	RealtimeKafka     = "kafka"
	RealtimeNone      = "none"
)

type Config struct {
	// APIURL is the base URL of the chat service request/response API.
	APIURL string

	// Realtime selects the push source; RealtimeURL is the WebSocket endpoint.
	Realtime    string
	RealtimeURL string

	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroup   string

	RedisAddr string

	ScyllaHosts       []string
	ScyllaKeyspace    string
	ScyllaConsistency string
	ScyllaTimeout     time.Duration
	ScyllaRetries     int

	CheckpointBackend string

	SyncInterval time.Duration
	HTTPTimeout  time.Duration

	// InspectAddr enables the local read-model inspector when set.
	InspectAddr string
	CORSOrigins []string

	// IdentitySecret signs identity tokens when logging in with one.
	IdentitySecret string

	SnowflakeNode int64
}

// Load reads a .env file if present and then the environment, falling back
// to defaults for anything unset or unparsable.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}
	return FromEnv()
}

// FromEnv builds a Config from the current environment only.
func FromEnv() *Config {
	cfg := &Config{
		APIURL:            getEnv("CHAT_API_URL", "http://localhost:8081"),
		Realtime:          strings.ToLower(getEnv("REALTIME_SOURCE", RealtimeWebSocket)),
		RealtimeURL:       getEnv("CHAT_REALTIME_URL", "ws://localhost:8080/ws"),
		KafkaBrokers:      getList("KAFKA_BROKERS", "localhost:19092"),
		KafkaTopic:        getEnv("KAFKA_TOPIC", "chat-events"),
		KafkaGroup:        getEnv("KAFKA_GROUP", "chatcore"),
		RedisAddr:         getEnv("REDIS_ADDR", "localhost:6379"),
		ScyllaHosts:       getList("SCYLLA_HOSTS", "localhost:9042"),
		ScyllaKeyspace:    getEnv("SCYLLA_KEYSPACE", "chat"),
		ScyllaConsistency: getEnv("SCYLLA_CONSISTENCY", db.DefaultConsistency),
		ScyllaTimeout:     getDuration("SCYLLA_TIMEOUT", db.DefaultTimeout),
		ScyllaRetries:     int(getInt("SCYLLA_RETRIES", db.DefaultRetries)),
		CheckpointBackend: strings.ToLower(getEnv("CHECKPOINT_BACKEND", BackendMemory)),
		SyncInterval:      getDuration("SYNC_INTERVAL", 5*time.Second),
		HTTPTimeout:       getDuration("HTTP_TIMEOUT", 15*time.Second),
		InspectAddr:       getEnv("INSPECT_ADDR", ""),
		CORSOrigins:       getList("CORS_ORIGINS", "http://localhost:5173,http://localhost:3000"),
		IdentitySecret:    getEnv("IDENTITY_SECRET", ""),
		SnowflakeNode:     getInt("SNOWFLAKE_NODE", 1),
	}

	switch cfg.CheckpointBackend {
	case BackendMemory, BackendRedis, BackendScylla:
	default:
		log.Printf("WARNING: unknown CHECKPOINT_BACKEND %q, using %s", cfg.CheckpointBackend, BackendMemory)
		cfg.CheckpointBackend = BackendMemory
	}
	switch cfg.Realtime {
	case RealtimeWebSocket, RealtimeKafka, RealtimeNone:
	default:
		log.Printf("WARNING: unknown REALTIME_SOURCE %q, using %s", cfg.Realtime, RealtimeWebSocket)
		cfg.Realtime = RealtimeWebSocket
	}
	return cfg
}

// Scylla returns the cluster connection settings.
func (c *Config) Scylla() db.Options {
	return db.Options{
		Hosts:       c.ScyllaHosts,
		Keyspace:    c.ScyllaKeyspace,
		Consistency: c.ScyllaConsistency,
		Timeout:     c.ScyllaTimeout,
		Retries:     c.ScyllaRetries,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getList splits a comma-separated variable, trimming blanks.
func getList(key, defaultValue string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, defaultValue), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		log.Printf("WARNING: invalid %s %q, using %v", key, raw, defaultValue)
		return defaultValue
	}
	return d
}

func getInt(key string, defaultValue int64) int64 {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		log.Printf("WARNING: invalid %s %q, using %d", key, raw, defaultValue)
		return defaultValue
	}
	return n
}
