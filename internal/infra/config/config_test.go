package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

var clientKeys = []string{
	"APP_ENV", "CHAT_API_URL", "CHAT_API_TOKEN", "CHAT_USER_ID", "CHAT_PROJECT_ID", "CHAT_CONVERSATION_ID",
	"METRICS_ADDR", "CONVERSATION_POLL_INTERVAL", "TIMELINE_POLL_INTERVAL", "HTTP_TIMEOUT", "BREAKER_FAILURES",
	"BREAKER_OPEN_TIMEOUT", "MARK_READ_RPS", "MARK_READ_CONCURRENCY", "ATTACHMENT_SEND_RETRY",
}

var serverKeys = []string{
	"APP_ENV", "HTTP_ADDR", "API_BASE_PATH", "STORE_BACKEND", "MONGO_URI", "MONGO_DB", "SCYLLA_HOSTS",
	"SCYLLA_KEYSPACE", "SCYLLA_USERNAME", "SCYLLA_PASSWORD", "SCYLLA_CONSISTENCY", "SCYLLA_TIMEOUT",
	"SCYLLA_REPLICATION_FACTOR", "S3_ENDPOINT", "S3_PUBLIC_ENDPOINT", "S3_ACCESS_KEY", "S3_SECRET_KEY",
	"S3_BUCKET", "S3_USE_SSL", "REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB", "PRESENCE_TTL", "KAFKA_BROKERS",
	"KAFKA_TOPIC_PREFIX", "OUTBOX_POLL_INTERVAL", "RETRY_BACKOFF", "SESSION_TTL", "CHAT_FIXTURES",
}

func clearEnv(t *testing.T, keys []string) {
	t.Helper()
	for _, key := range keys {
		t.Setenv(key, "")
	}
}

func TestLoadClientDefaults(t *testing.T) {
	clearEnv(t, clientKeys)
	t.Setenv("CHAT_API_TOKEN", "tok")
	t.Setenv("CHAT_USER_ID", "alice")

	cfg, err := LoadClient()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.APIURL != "http://localhost:8080/api" || cfg.ConversationInterval != 30*time.Second || cfg.TimelineInterval != 10*time.Second {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.MarkReadRPS != 10 || cfg.MarkReadConcurrency != 4 || cfg.SendRetryMaxElapsed != 0 {
		t.Fatalf("unexpected reconciler defaults %+v", cfg)
	}
}

func TestLoadClientValidation(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{"missing token", map[string]string{"CHAT_USER_ID": "alice"}},
		{"missing user", map[string]string{"CHAT_API_TOKEN": "tok"}},
		{"bad interval", map[string]string{"CHAT_API_TOKEN": "tok", "CHAT_USER_ID": "alice", "TIMELINE_POLL_INTERVAL": "soon"}},
		{"negative interval", map[string]string{"CHAT_API_TOKEN": "tok", "CHAT_USER_ID": "alice", "TIMELINE_POLL_INTERVAL": "-1s"}},
		{"bad url", map[string]string{"CHAT_API_TOKEN": "tok", "CHAT_USER_ID": "alice", "CHAT_API_URL": "not a url"}},
		{"zero breaker", map[string]string{"CHAT_API_TOKEN": "tok", "CHAT_USER_ID": "alice", "BREAKER_FAILURES": "0"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t, clientKeys)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := LoadClient(); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestLoadServerBackends(t *testing.T) {
	clearEnv(t, serverKeys)
	cfg, err := LoadServer()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StoreBackend != BackendMemory || cfg.APIBasePath != "/api" || len(cfg.RetryBackoff) != 3 || cfg.RetryBackoff[2] != 30*time.Second {
		t.Fatalf("unexpected defaults %+v", cfg)
	}

	t.Setenv("STORE_BACKEND", "mongo")
	if _, err := LoadServer(); err == nil {
		t.Fatal("mongo backend needs MONGO_URI")
	}
	t.Setenv("MONGO_URI", "mongodb://localhost:27017")
	if _, err := LoadServer(); err != nil {
		t.Fatalf("mongo backend: %v", err)
	}

	t.Setenv("STORE_BACKEND", "postgres")
	if _, err := LoadServer(); err == nil {
		t.Fatal("expected unsupported backend error")
	}
}

func TestLoadServerParsesLists(t *testing.T) {
	clearEnv(t, serverKeys)
	t.Setenv("KAFKA_BROKERS", " k1:9092, ,k2:9092")
	t.Setenv("S3_ENDPOINT", "http://minio:9000")
	t.Setenv("API_BASE_PATH", "/")
	cfg, err := LoadServer()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Fatalf("unexpected brokers %v", cfg.KafkaBrokers)
	}
	if cfg.S3PublicEndpoint != "http://minio:9000" || cfg.APIBasePath != "" {
		t.Fatalf("unexpected config %+v", cfg)
	}

	t.Setenv("RETRY_BACKOFF", "1s,later")
	if _, err := LoadServer(); err == nil {
		t.Fatal("expected invalid backoff error")
	}
}

func TestLoadDotEnvKeepsExistingValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	if err := os.WriteFile(path, []byte("CHAT_USER_ID=from-file\nCHAT_PROJECT_ID=p9\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("CHAT_USER_ID", "from-env")
	t.Setenv("CHAT_PROJECT_ID", "")
	os.Unsetenv("CHAT_PROJECT_ID")

	if err := LoadDotEnv(path, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("load dotenv: %v", err)
	}
	if got := os.Getenv("CHAT_USER_ID"); got != "from-env" {
		t.Fatalf("existing variable overridden: %q", got)
	}
	if got := os.Getenv("CHAT_PROJECT_ID"); got != "p9" {
		t.Fatalf("expected value from file, got %q", got)
	}
}
