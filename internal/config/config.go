package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config carries every tunable the api and worker processes need. Values
// come from the environment; secrets never live in code.
type Config struct {
	DBPath  string `env:"HOOKQ_DB_PATH" envDefault:"hookq.db"`
	APIAddr string `env:"HOOKQ_API_ADDR" envDefault:":8080"`

	// Webhook gate
	WebhookSecrets map[string]string `env:"HOOKQ_WEBHOOK_SECRETS"`
	VerifyToken    string            `env:"HOOKQ_VERIFY_TOKEN"`

	// Worker pool
	WorkerCount    int           `env:"HOOKQ_WORKER_COUNT" envDefault:"4"`
	LeaseDuration  time.Duration `env:"HOOKQ_LEASE_DURATION" envDefault:"30s"`
	MaxAttempts    int           `env:"HOOKQ_MAX_ATTEMPTS" envDefault:"3"`
	BackoffBase    time.Duration `env:"HOOKQ_BACKOFF_BASE" envDefault:"1s"`
	BackoffCap     time.Duration `env:"HOOKQ_BACKOFF_CAP" envDefault:"30s"`
	HandlerTimeout time.Duration `env:"HOOKQ_HANDLER_TIMEOUT" envDefault:"30s"`

	// Circuit breaker
	BreakerThreshold    int           `env:"HOOKQ_BREAKER_THRESHOLD" envDefault:"5"`
	BreakerResetTimeout time.Duration `env:"HOOKQ_BREAKER_RESET_TIMEOUT" envDefault:"60s"`

	// Outbound providers
	GraphAPIBaseURL string        `env:"HOOKQ_GRAPH_API_BASE_URL" envDefault:"https://graph.facebook.com/v19.0"`
	GraphAPIToken   string        `env:"HOOKQ_GRAPH_API_TOKEN"`
	AIServiceURL    string        `env:"HOOKQ_AI_SERVICE_URL"`
	NotifyURL       string        `env:"HOOKQ_NOTIFY_URL"`
	UsageCooldown   time.Duration `env:"HOOKQ_USAGE_COOLDOWN" envDefault:"5s"`

	// Health
	StallGraceWindow time.Duration `env:"HOOKQ_STALL_GRACE_WINDOW" envDefault:"2m"`
}

// Load parses configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	return cfg, nil
}
