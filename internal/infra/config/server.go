package config

import (
	"fmt"
	"strings"
	"time"
)

const (
	BackendMemory = "memory"
	BackendMongo  = "mongo"
	BackendScylla = "scylla"
)

// Server configures the chat server of record.
type Server struct {
	Env                string
	HTTPAddr           string
	APIBasePath        string
	StoreBackend       string
	MongoURI           string
	MongoDB            string
	ScyllaHosts        []string
	ScyllaKeyspace     string
	ScyllaUsername     string
	ScyllaPassword     string
	ScyllaConsistency  string
	ScyllaTimeout      time.Duration
	ScyllaReplication  int
	S3Endpoint         string
	S3PublicEndpoint   string
	S3AccessKey        string
	S3SecretKey        string
	S3Bucket           string
	S3UseSSL           bool
	RedisAddr          string
	RedisPassword      string
	RedisDB            int
	PresenceTTL        time.Duration
	KafkaBrokers       []string
	KafkaTopicPrefix   string
	OutboxPollInterval time.Duration
	RetryBackoff       []time.Duration
	SessionTTL         time.Duration
	FixturesPath       string
}

// LoadServer parses server settings from the environment. Optional
// integrations stay disabled while their address variables are empty.
func LoadServer() (Server, error) {
	cfg := Server{
		Env:               getEnv("APP_ENV", "dev"),
		HTTPAddr:          getEnv("HTTP_ADDR", ":8080"),
		APIBasePath:       "/" + strings.Trim(getEnv("API_BASE_PATH", "/api"), "/"),
		StoreBackend:      strings.ToLower(getEnv("STORE_BACKEND", BackendMemory)),
		MongoURI:          getEnv("MONGO_URI", ""),
		MongoDB:           getEnv("MONGO_DB", "chat"),
		ScyllaHosts:       splitList(getEnv("SCYLLA_HOSTS", "localhost")),
		ScyllaKeyspace:    getEnv("SCYLLA_KEYSPACE", "chat"),
		ScyllaUsername:    getEnv("SCYLLA_USERNAME", ""),
		ScyllaPassword:    getEnv("SCYLLA_PASSWORD", ""),
		ScyllaConsistency: getEnv("SCYLLA_CONSISTENCY", "quorum"),
		S3Endpoint:        getEnv("S3_ENDPOINT", ""),
		S3PublicEndpoint:  getEnv("S3_PUBLIC_ENDPOINT", ""),
		S3AccessKey:       getEnv("S3_ACCESS_KEY", "minioadmin"),
		S3SecretKey:       getEnv("S3_SECRET_KEY", "minioadmin"),
		S3Bucket:          getEnv("S3_BUCKET", "chat-attachments"),
		RedisAddr:         getEnv("REDIS_ADDR", ""),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
		KafkaBrokers:      splitList(getEnv("KAFKA_BROKERS", "")),
		KafkaTopicPrefix:  getEnv("KAFKA_TOPIC_PREFIX", ""),
		FixturesPath:      getEnv("CHAT_FIXTURES", ""),
	}
	if cfg.APIBasePath == "/" {
		cfg.APIBasePath = ""
	}
	var err error
	if cfg.ScyllaTimeout, err = parseDurationEnv("SCYLLA_TIMEOUT", 5*time.Second); err != nil {
		return Server{}, err
	}
	if cfg.ScyllaReplication, err = parseIntEnv("SCYLLA_REPLICATION_FACTOR", 1); err != nil {
		return Server{}, err
	}
	if cfg.S3UseSSL, err = parseBoolEnv("S3_USE_SSL", false); err != nil {
		return Server{}, err
	}
	if cfg.RedisDB, err = parseIntEnv("REDIS_DB", 0); err != nil {
		return Server{}, err
	}
	if cfg.PresenceTTL, err = parseDurationEnv("PRESENCE_TTL", time.Minute); err != nil {
		return Server{}, err
	}
	if cfg.OutboxPollInterval, err = parseDurationEnv("OUTBOX_POLL_INTERVAL", 500*time.Millisecond); err != nil {
		return Server{}, err
	}
	if cfg.RetryBackoff, err = parseDurationList("RETRY_BACKOFF", "1s,5s,30s"); err != nil {
		return Server{}, err
	}
	if cfg.SessionTTL, err = parseDurationEnv("SESSION_TTL", 0); err != nil {
		return Server{}, err
	}
	if cfg.S3PublicEndpoint == "" {
		cfg.S3PublicEndpoint = cfg.S3Endpoint
	}

	switch cfg.StoreBackend {
	case BackendMemory:
	case BackendMongo:
		if cfg.MongoURI == "" {
			return Server{}, fmt.Errorf("MONGO_URI is required for STORE_BACKEND=mongo")
		}
	case BackendScylla:
		if len(cfg.ScyllaHosts) == 0 {
			return Server{}, fmt.Errorf("SCYLLA_HOSTS is required for STORE_BACKEND=scylla")
		}
	default:
		return Server{}, fmt.Errorf("unsupported STORE_BACKEND: %s", cfg.StoreBackend)
	}
	return cfg, nil
}
