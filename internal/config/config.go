package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Account is one destination credential set. The first entry of the parsed
// list is the primary account: only its outcome drives local pushed flags.
type Account struct {
	Name       string
	LocationID string
	APIToken   string
}

type Config struct {
	AppEnv      string `env:"APP_ENV" envDefault:"development"`
	APIAddr     string `env:"API_ADDR" envDefault:":8080"`
	PostgresDSN string `env:"POSTGRES_DSN,notEmpty"`

	// RedisAddr empty selects the DB polling fallback instead of the broker.
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	QueueName     string `env:"QUEUE_NAME" envDefault:"deliver_leads"`

	WebhookSecret string `env:"WEBHOOK_SECRET,notEmpty"`

	Workers         int `env:"WORKER_COUNT" envDefault:"10"`
	MaxAttempts     int `env:"JOB_MAX_ATTEMPTS" envDefault:"3"`
	BackoffBaseSec  int `env:"JOB_BACKOFF_BASE_SEC" envDefault:"60"`
	JobExpirySec    int `env:"JOB_EXPIRY_SEC" envDefault:"3600"`
	ShutdownWaitSec int `env:"SHUTDOWN_WAIT_SEC" envDefault:"30"`
	BatchSize       int `env:"PRODUCER_BATCH_SIZE" envDefault:"200"`

	GHLBaseURL    string `env:"GHL_BASE_URL" envDefault:"https://services.leadconnectorhq.com"`
	GHLAPIVersion string `env:"GHL_API_VERSION" envDefault:"2021-07-28"`
	// GHL_ACCOUNTS holds ordered name:locationID:token triples, comma
	// separated. First triple is the primary account.
	GHLAccounts string `env:"GHL_ACCOUNTS,notEmpty"`

	RateMaxConcurrent int `env:"RATE_MAX_CONCURRENT" envDefault:"5"`
	RatePerSecond     int `env:"RATE_PER_SECOND" envDefault:"10"`
	RateReservoir     int `env:"RATE_RESERVOIR" envDefault:"100"`
	RateRefillSec     int `env:"RATE_REFILL_SEC" envDefault:"60"`
	RateCooldownSec   int `env:"RATE_COOLDOWN_SEC" envDefault:"60"`
}

func Load() (Config, error) {
	_ = godotenv.Load()

	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, err
	}
	if _, err := c.Accounts(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Accounts parses GHLAccounts into the ordered destination list.
func (c Config) Accounts() ([]Account, error) {
	var out []Account
	for _, triple := range strings.Split(c.GHLAccounts, ",") {
		triple = strings.TrimSpace(triple)
		if triple == "" {
			continue
		}
		parts := strings.SplitN(triple, ":", 3)
		if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
			return nil, fmt.Errorf("config: malformed GHL_ACCOUNTS entry %q (want name:locationID:token)", triple)
		}
		out = append(out, Account{Name: parts[0], LocationID: parts[1], APIToken: parts[2]})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("config: GHL_ACCOUNTS is empty")
	}
	return out, nil
}
