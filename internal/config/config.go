// Package config loads and validates the process configuration from a TOML file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultConfigPath = "config.toml"
	DefaultHTTPAddr   = ":8080"
	DefaultPGHost     = "127.0.0.1"
	DefaultPGPort     = 5432
	DefaultPGUser     = "postgres"
	DefaultPGDatabase = "botler"
	DefaultPGSSLMode  = "disable"
	DefaultRedisAddr  = "127.0.0.1:6379"
)

type Config struct {
	Log          LogConfig          `toml:"log"`
	Server       ServerConfig       `toml:"server"`
	Postgres     PostgresConfig     `toml:"postgres"`
	Redis        RedisConfig        `toml:"redis"`
	Engine       EngineConfig       `toml:"engine"`
	Idempotency  IdempotencyConfig  `toml:"idempotency"`
	RateLimit    RateLimitConfig    `toml:"ratelimit"`
	Dispatch     DispatchConfig     `toml:"dispatch"`
	Conversation ConversationConfig `toml:"conversation"`
	Outbound     OutboundConfig     `toml:"outbound"`
	WhatsApp     WhatsAppConfig     `toml:"whatsapp"`
	Shopify      ShopifyConfig      `toml:"shopify"`
	WooCommerce  WooCommerceConfig  `toml:"woocommerce"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type PostgresConfig struct {
	Host     string `toml:"host" validate:"required"`
	Port     int    `toml:"port" validate:"min=1,max=65535"`
	User     string `toml:"user" validate:"required"`
	Password string `toml:"password"`
	Database string `toml:"database" validate:"required"`
	SSLMode  string `toml:"sslmode"`
}

type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	// Enabled selects the redis-backed idempotency store; when false the
	// process-local store is used (single-node deployments, tests).
	Enabled bool `toml:"enabled"`
}

// EngineConfig points at the external AI engine.
type EngineConfig struct {
	BaseURL        string `toml:"base_url" validate:"required,url"`
	APIKey         string `toml:"api_key"`
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds" validate:"min=0"`
}

func (c EngineConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type IdempotencyConfig struct {
	// RetentionHours is how long completed/failed records are kept before the
	// GC sweep removes them. Must cover the platform's maximum redelivery window.
	RetentionHours int `toml:"retention_hours" validate:"min=1"`
	// ProcessingTimeoutSeconds is the liveness timeout after which an
	// unfinished processing record is treated as abandoned and re-admitted.
	ProcessingTimeoutSeconds int `toml:"processing_timeout_seconds" validate:"min=1"`
}

func (c IdempotencyConfig) Retention() time.Duration {
	return time.Duration(c.RetentionHours) * time.Hour
}

func (c IdempotencyConfig) ProcessingTimeout() time.Duration {
	return time.Duration(c.ProcessingTimeoutSeconds) * time.Second
}

type RateLimitConfig struct {
	MessageCapacity  int     `toml:"message_capacity" validate:"min=1"`
	MessageRefillPer float64 `toml:"message_refill_per_second" validate:"gt=0"`
	OrderCapacity    int     `toml:"order_capacity" validate:"min=1"`
	OrderRefillPer   float64 `toml:"order_refill_per_second" validate:"gt=0"`
}

type DispatchConfig struct {
	// MaxToolRounds bounds the AI tool-call loop per conversation turn.
	MaxToolRounds      int `toml:"max_tool_rounds" validate:"min=1"`
	CallTimeoutSeconds int `toml:"call_timeout_seconds" validate:"min=1"`
}

func (c DispatchConfig) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutSeconds) * time.Second
}

type ConversationConfig struct {
	// IdleCloseDays: conversations with no inbound for this long are closed
	// by the sweep job.
	IdleCloseDays int `toml:"idle_close_days" validate:"min=1"`
	// HistoryLimit caps how many stored messages are replayed to the engine.
	HistoryLimit int `toml:"history_limit" validate:"min=1"`
}

type OutboundConfig struct {
	RetryMax         int     `toml:"retry_max" validate:"min=1"`
	RetryBackoffMs   int     `toml:"retry_backoff_ms" validate:"min=1"`
	SendRatePerSec   float64 `toml:"send_rate_per_second" validate:"gt=0"`
	SendBurst        int     `toml:"send_burst" validate:"min=1"`
	RequestTimeoutMs int     `toml:"request_timeout_ms" validate:"min=1"`
}

func (c OutboundConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}

// WhatsAppConfig holds process-wide Cloud API settings. Per-tenant credentials
// (verify token, app secret, phone number id, access token) live in the tenant
// store; these are fallbacks for single-tenant deployments.
type WhatsAppConfig struct {
	GraphBaseURL string `toml:"graph_base_url"`
	VerifyToken  string `toml:"verify_token"`
	AppSecret    string `toml:"app_secret"`
	AccessToken  string `toml:"access_token"`
}

type ShopifyConfig struct {
	WebhookSecret string `toml:"webhook_secret"`
}

type WooCommerceConfig struct {
	WebhookSecret string `toml:"webhook_secret"`
}

// Load reads the TOML config at path, fills defaults, and validates it.
// A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		Redis: RedisConfig{
			Addr: DefaultRedisAddr,
		},
		Engine: EngineConfig{
			BaseURL:        "http://127.0.0.1:8081",
			Model:          "gpt-4o",
			TimeoutSeconds: 30,
		},
		Idempotency: IdempotencyConfig{
			RetentionHours:           72,
			ProcessingTimeoutSeconds: 120,
		},
		RateLimit: RateLimitConfig{
			MessageCapacity:  5,
			MessageRefillPer: 1,
			OrderCapacity:    20,
			OrderRefillPer:   5,
		},
		Dispatch: DispatchConfig{
			MaxToolRounds:      5,
			CallTimeoutSeconds: 15,
		},
		Conversation: ConversationConfig{
			IdleCloseDays: 30,
			HistoryLimit:  10,
		},
		Outbound: OutboundConfig{
			RetryMax:         3,
			RetryBackoffMs:   500,
			SendRatePerSec:   10,
			SendBurst:        5,
			RequestTimeoutMs: 10000,
		},
		WhatsApp: WhatsAppConfig{
			GraphBaseURL: "https://graph.facebook.com/v19.0",
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return cfg, err
		}
	} else if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	if err := validator.New().Struct(cfg); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
