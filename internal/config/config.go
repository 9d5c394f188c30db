package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	LogLevel string
	Env      string

	// REST backend
	APIBaseURL string
	APITimeout time.Duration

	// Push channel. StreamURLs is the prioritized candidate list; the
	// first endpoint to complete the handshake wins.
	StreamURLs []string

	// Reconnect policy
	MaxConnectAttempts int
	BackoffBase        time.Duration
	BackoffCap         time.Duration

	// Session token. A static token is used directly; when a Redis
	// session store is configured it takes precedence so renewed
	// credentials are picked up without a restart.
	AuthToken       string
	SessionKey      string
	RedisHost       string
	RedisPort       int
	RedisPassword   string
	RedisDB         int
	SessionRedis    bool

	// Chat
	AutoCreateThreads bool
	AckDelay          time.Duration
	ReplyDelay        time.Duration
}

// Load reads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		LogLevel: "info",
		Env:      "development",

		APIBaseURL: "http://localhost:8080",
		APITimeout: 15 * time.Second,

		StreamURLs: []string{"ws://localhost:8080/v1/stream"},

		MaxConnectAttempts: 6,
		BackoffBase:        1 * time.Second,
		BackoffCap:         30 * time.Second,

		SessionKey: "livesync:session:token",
		RedisHost:  "localhost",
		RedisPort:  6379,

		AckDelay:   1 * time.Second,
		ReplyDelay: 3 * time.Second,
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}

	if url := os.Getenv("API_BASE_URL"); url != "" {
		cfg.APIBaseURL = strings.TrimRight(url, "/")
	}

	if timeout := os.Getenv("API_TIMEOUT"); timeout != "" {
		d, err := time.ParseDuration(timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid API_TIMEOUT: %w", err)
		}
		cfg.APITimeout = d
	}

	if urls := os.Getenv("STREAM_URLS"); urls != "" {
		cfg.StreamURLs = nil
		for _, u := range strings.Split(urls, ",") {
			if u = strings.TrimSpace(u); u != "" {
				cfg.StreamURLs = append(cfg.StreamURLs, u)
			}
		}
		if len(cfg.StreamURLs) == 0 {
			return nil, fmt.Errorf("STREAM_URLS contains no endpoints")
		}
	}

	if attempts := os.Getenv("MAX_CONNECT_ATTEMPTS"); attempts != "" {
		n, err := strconv.Atoi(attempts)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid MAX_CONNECT_ATTEMPTS: %q", attempts)
		}
		cfg.MaxConnectAttempts = n
	}

	if base := os.Getenv("BACKOFF_BASE"); base != "" {
		d, err := time.ParseDuration(base)
		if err != nil {
			return nil, fmt.Errorf("invalid BACKOFF_BASE: %w", err)
		}
		cfg.BackoffBase = d
	}

	if cap := os.Getenv("BACKOFF_CAP"); cap != "" {
		d, err := time.ParseDuration(cap)
		if err != nil {
			return nil, fmt.Errorf("invalid BACKOFF_CAP: %w", err)
		}
		cfg.BackoffCap = d
	}

	if token := os.Getenv("AUTH_TOKEN"); token != "" {
		cfg.AuthToken = token
	}

	if key := os.Getenv("SESSION_KEY"); key != "" {
		cfg.SessionKey = key
	}

	// Redis session store config
	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.RedisHost = host
		cfg.SessionRedis = true
	}

	if port := os.Getenv("REDIS_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_PORT: %w", err)
		}
		cfg.RedisPort = p
	}

	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.RedisPassword = password
	}

	if db := os.Getenv("REDIS_DB"); db != "" {
		d, err := strconv.Atoi(db)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
		cfg.RedisDB = d
	}

	if auto := os.Getenv("AUTO_CREATE_THREADS"); auto != "" {
		b, err := strconv.ParseBool(auto)
		if err != nil {
			return nil, fmt.Errorf("invalid AUTO_CREATE_THREADS: %w", err)
		}
		cfg.AutoCreateThreads = b
	}

	if delay := os.Getenv("ACK_DELAY"); delay != "" {
		d, err := time.ParseDuration(delay)
		if err != nil {
			return nil, fmt.Errorf("invalid ACK_DELAY: %w", err)
		}
		cfg.AckDelay = d
	}

	if delay := os.Getenv("REPLY_DELAY"); delay != "" {
		d, err := time.ParseDuration(delay)
		if err != nil {
			return nil, fmt.Errorf("invalid REPLY_DELAY: %w", err)
		}
		cfg.ReplyDelay = d
	}

	return cfg, nil
}
