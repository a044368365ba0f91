package config

import (
	"fmt"
	"net/url"
	"time"
)

// Client configures the headless chat client.
type Client struct {
	Env                  string
	APIURL               string
	Token                string
	UserID               string
	ProjectID            string
	ConversationID       string
	ConversationInterval time.Duration
	TimelineInterval     time.Duration
	HTTPTimeout          time.Duration
	BreakerFailures      int
	BreakerOpenTimeout   time.Duration
	MarkReadRPS          float64
	MarkReadConcurrency  int
	SendRetryMaxElapsed  time.Duration
	MetricsAddr          string
}

// LoadClient parses client settings from the environment.
func LoadClient() (Client, error) {
	cfg := Client{
		Env:            getEnv("APP_ENV", "dev"),
		APIURL:         getEnv("CHAT_API_URL", "http://localhost:8080/api"),
		Token:          getEnv("CHAT_API_TOKEN", ""),
		UserID:         getEnv("CHAT_USER_ID", ""),
		ProjectID:      getEnv("CHAT_PROJECT_ID", ""),
		ConversationID: getEnv("CHAT_CONVERSATION_ID", ""),
		MetricsAddr:    getEnv("METRICS_ADDR", ""),
	}
	var err error
	if cfg.ConversationInterval, err = parseDurationEnv("CONVERSATION_POLL_INTERVAL", 30*time.Second); err != nil {
		return Client{}, err
	}
	if cfg.TimelineInterval, err = parseDurationEnv("TIMELINE_POLL_INTERVAL", 10*time.Second); err != nil {
		return Client{}, err
	}
	if cfg.HTTPTimeout, err = parseDurationEnv("HTTP_TIMEOUT", 15*time.Second); err != nil {
		return Client{}, err
	}
	if cfg.BreakerFailures, err = parseIntEnv("BREAKER_FAILURES", 5); err != nil {
		return Client{}, err
	}
	if cfg.BreakerOpenTimeout, err = parseDurationEnv("BREAKER_OPEN_TIMEOUT", 30*time.Second); err != nil {
		return Client{}, err
	}
	if cfg.MarkReadRPS, err = parseFloatEnv("MARK_READ_RPS", 10); err != nil {
		return Client{}, err
	}
	if cfg.MarkReadConcurrency, err = parseIntEnv("MARK_READ_CONCURRENCY", 4); err != nil {
		return Client{}, err
	}
	if cfg.SendRetryMaxElapsed, err = parseDurationEnv("ATTACHMENT_SEND_RETRY", 0); err != nil {
		return Client{}, err
	}

	if _, err := url.ParseRequestURI(cfg.APIURL); err != nil {
		return Client{}, fmt.Errorf("invalid CHAT_API_URL: %w", err)
	}
	if cfg.Token == "" {
		return Client{}, fmt.Errorf("CHAT_API_TOKEN is required")
	}
	if cfg.UserID == "" {
		return Client{}, fmt.Errorf("CHAT_USER_ID is required")
	}
	if cfg.BreakerFailures < 1 {
		return Client{}, fmt.Errorf("BREAKER_FAILURES must be positive")
	}
	return cfg, nil
}
