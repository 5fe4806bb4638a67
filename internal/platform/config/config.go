package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures process level configuration. Values come from the
// environment so main stays lean.
type Config struct {
	Addr        string
	DatabaseURL string

	Redis  RedisConfig
	Auth0  Auth0Config
	Scorer ScorerConfig
	Kafka  KafkaConfig

	JWTSigningKey string
	SessionTTL    time.Duration
}

// RedisConfig controls the optional Redis-backed session store.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Auth0Config describes the external identity collaborator.
type Auth0Config struct {
	Domain       string
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

// ScorerConfig describes the external scoring collaborator.
type ScorerConfig struct {
	URL     string
	Timeout time.Duration
}

// KafkaConfig controls the audit outbox relay. Empty brokers disable it.
type KafkaConfig struct {
	Brokers    []string
	AuditTopic string
}

// FromEnv builds a Config from environment variables.
func FromEnv() Config {
	return Config{
		Addr:        envOr("FAIRFIN_ADDR", ":8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Auth0: Auth0Config{
			Domain:       os.Getenv("AUTH0_DOMAIN"),
			ClientID:     os.Getenv("AUTH0_CLIENT_ID"),
			ClientSecret: os.Getenv("AUTH0_CLIENT_SECRET"),
			RedirectURI:  envOr("REDIRECT_URI", "http://localhost:8080/auth/callback"),
		},
		Scorer: ScorerConfig{
			URL:     os.Getenv("SCORER_URL"),
			Timeout: envDuration("SCORER_TIMEOUT", 5*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:    splitNonEmpty(os.Getenv("KAFKA_BROKERS")),
			AuditTopic: envOr("KAFKA_AUDIT_TOPIC", "fairfin.audit"),
		},
		JWTSigningKey: envOr("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		SessionTTL:    envDuration("SESSION_TTL", 12*time.Hour),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func splitNonEmpty(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
