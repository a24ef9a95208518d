package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration in a structured way.
type Config struct {
	App        AppConfig
	Database   DatabaseConfig
	Gateway    GatewayConfig
	AI         AIConfig
	Speech     SpeechConfig
	WorkerPool WorkerPoolConfig
}

type AppConfig struct {
	Version        string
	Port           string
	Debug          bool
	Environment    string
	BasicAuth      []string
	BasePath       string
	TrustedProxies []string
	ServerID       string
	StoragePath    string
	SecretKey      string
	CorsOrigins    []string
}

type DatabaseConfig struct {
	Driver          string
	Host            string
	Port            int
	User            string
	Password        string
	Name            string // File path for SQLite, DB Name for Postgres
	ValkeyEnabled   bool
	ValkeyAddress   string
	ValkeyPassword  string
	ValkeyDB        int
	ValkeyKeyPrefix string
	SeenTTL         time.Duration
}

type GatewayConfig struct {
	BaseURL         string
	APIKey          string
	WebhookSecret   string
	Timeout         time.Duration
	RecipientServer string
	SendAttempts    int
	SendRatePerSec  float64
	SendBurst       int
}

type AIConfig struct {
	DebounceWindow         time.Duration
	SweepInterval          time.Duration
	ClaimTTL               time.Duration
	LLMTimeout             time.Duration
	MaxAttempts            int
	BackoffInitial         time.Duration
	BackoffMax             time.Duration
	MaxSystemPromptChars   int
	MaxHistoryMessages     int
	MaxHistoryMessageChars int
	MaxUserTurnChars       int
	DefaultFallback        string
}

type SpeechConfig struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

type WorkerPoolConfig struct {
	Size      int
	QueueSize int
}

// Global provides access to the loaded configuration for the command layer.
var Global *Config

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_version", "v1.0.0")
	v.SetDefault("app_port", "3000")
	v.SetDefault("app_debug", false)
	v.SetDefault("app_env", "development")
	v.SetDefault("app_basic_auth", "")
	v.SetDefault("app_base_path", "")
	v.SetDefault("app_trusted_proxies", "")
	v.SetDefault("server_id", "")
	v.SetDefault("app_storage_path", "storages")
	v.SetDefault("app_secret_key", "")
	v.SetDefault("app_cors_allowed_origins", "*")

	v.SetDefault("db_driver", "sqlite")
	v.SetDefault("db_host", "localhost")
	v.SetDefault("db_port", 5432)
	v.SetDefault("db_user", "postgres")
	v.SetDefault("db_password", "")
	v.SetDefault("db_name", "")
	v.SetDefault("valkey_enabled", false)
	v.SetDefault("valkey_address", "localhost:6379")
	v.SetDefault("valkey_password", "")
	v.SetDefault("valkey_db", 0)
	v.SetDefault("valkey_key_prefix", "azinbox:")
	v.SetDefault("valkey_seen_ttl", "24h")

	v.SetDefault("gateway_base_url", "http://localhost:8083")
	v.SetDefault("gateway_api_key", "")
	v.SetDefault("gateway_webhook_secret", "")
	v.SetDefault("gateway_timeout", "15s")
	v.SetDefault("gateway_recipient_server", "s.whatsapp.net")
	v.SetDefault("gateway_send_attempts", 3)
	v.SetDefault("gateway_send_rate", 5.0)
	v.SetDefault("gateway_send_burst", 10)

	v.SetDefault("ai_debounce_ms", 10000)
	v.SetDefault("ai_sweep_interval", "5s")
	v.SetDefault("ai_claim_ttl", "2m")
	v.SetDefault("ai_llm_timeout", "25s")
	v.SetDefault("ai_max_attempts", 3)
	v.SetDefault("ai_backoff_initial", "500ms")
	v.SetDefault("ai_backoff_max", "8s")
	v.SetDefault("ai_max_system_prompt_chars", 4000)
	v.SetDefault("ai_max_history_messages", 10)
	v.SetDefault("ai_max_history_message_chars", 500)
	v.SetDefault("ai_max_user_turn_chars", 2000)
	v.SetDefault("ai_default_fallback", "Desculpe, não consegui processar sua mensagem agora. Um atendente vai te responder em breve.")

	v.SetDefault("speech_url", "")
	v.SetDefault("speech_api_key", "")
	v.SetDefault("speech_timeout", "30s")

	v.SetDefault("message_worker_pool_size", 20)
	v.SetDefault("message_worker_queue_size", 1000)
}

// NewViper returns a viper instance reading the environment with defaults applied.
// An optional .env file in the working directory is loaded first.
func NewViper() *viper.Viper {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// LoadConfig builds the configuration from the given viper instance.
func LoadConfig(v *viper.Viper) (*Config, error) {
	if v == nil {
		v = NewViper()
	}

	storage := v.GetString("app_storage_path")
	dbName := v.GetString("db_name")
	if dbName == "" {
		if v.GetString("db_driver") == "postgres" {
			dbName = "azinbox"
		} else {
			dbName = storage + "/inbox.db"
		}
	}

	cfg := &Config{
		App: AppConfig{
			Version:        v.GetString("app_version"),
			Port:           v.GetString("app_port"),
			Debug:          v.GetBool("app_debug"),
			Environment:    v.GetString("app_env"),
			BasicAuth:      splitList(v.GetString("app_basic_auth")),
			BasePath:       v.GetString("app_base_path"),
			TrustedProxies: splitList(v.GetString("app_trusted_proxies")),
			ServerID:       v.GetString("server_id"),
			StoragePath:    storage,
			SecretKey:      v.GetString("app_secret_key"),
			CorsOrigins:    splitList(v.GetString("app_cors_allowed_origins")),
		},
		Database: DatabaseConfig{
			Driver:          v.GetString("db_driver"),
			Host:            v.GetString("db_host"),
			Port:            v.GetInt("db_port"),
			User:            v.GetString("db_user"),
			Password:        v.GetString("db_password"),
			Name:            dbName,
			ValkeyEnabled:   v.GetBool("valkey_enabled"),
			ValkeyAddress:   v.GetString("valkey_address"),
			ValkeyPassword:  v.GetString("valkey_password"),
			ValkeyDB:        v.GetInt("valkey_db"),
			ValkeyKeyPrefix: v.GetString("valkey_key_prefix"),
			SeenTTL:         v.GetDuration("valkey_seen_ttl"),
		},
		Gateway: GatewayConfig{
			BaseURL:         strings.TrimRight(v.GetString("gateway_base_url"), "/"),
			APIKey:          v.GetString("gateway_api_key"),
			WebhookSecret:   v.GetString("gateway_webhook_secret"),
			Timeout:         v.GetDuration("gateway_timeout"),
			RecipientServer: v.GetString("gateway_recipient_server"),
			SendAttempts:    v.GetInt("gateway_send_attempts"),
			SendRatePerSec:  v.GetFloat64("gateway_send_rate"),
			SendBurst:       v.GetInt("gateway_send_burst"),
		},
		AI: AIConfig{
			DebounceWindow:         time.Duration(v.GetInt("ai_debounce_ms")) * time.Millisecond,
			SweepInterval:          v.GetDuration("ai_sweep_interval"),
			ClaimTTL:               v.GetDuration("ai_claim_ttl"),
			LLMTimeout:             v.GetDuration("ai_llm_timeout"),
			MaxAttempts:            v.GetInt("ai_max_attempts"),
			BackoffInitial:         v.GetDuration("ai_backoff_initial"),
			BackoffMax:             v.GetDuration("ai_backoff_max"),
			MaxSystemPromptChars:   v.GetInt("ai_max_system_prompt_chars"),
			MaxHistoryMessages:     v.GetInt("ai_max_history_messages"),
			MaxHistoryMessageChars: v.GetInt("ai_max_history_message_chars"),
			MaxUserTurnChars:       v.GetInt("ai_max_user_turn_chars"),
			DefaultFallback:        v.GetString("ai_default_fallback"),
		},
		Speech: SpeechConfig{
			URL:     v.GetString("speech_url"),
			APIKey:  v.GetString("speech_api_key"),
			Timeout: v.GetDuration("speech_timeout"),
		},
		WorkerPool: WorkerPoolConfig{
			Size:      v.GetInt("message_worker_pool_size"),
			QueueSize: v.GetInt("message_worker_queue_size"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	Global = cfg
	return cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}
	if c.AI.DebounceWindow < 0 {
		return fmt.Errorf("ai_debounce_ms must not be negative")
	}
	if c.AI.LLMTimeout <= 0 {
		return fmt.Errorf("ai_llm_timeout must be positive")
	}
	if c.AI.MaxAttempts < 1 {
		return fmt.Errorf("ai_max_attempts must be at least 1")
	}
	if c.Gateway.SendAttempts < 1 {
		return fmt.Errorf("gateway_send_attempts must be at least 1")
	}
	return nil
}

func splitList(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
