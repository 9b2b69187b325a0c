package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	EnvLocal = "local"
	EnvDev   = "dev"
	EnvProd  = "prod"

	LedgerRedis    = "redis"
	LedgerOperator = "operator"
	LedgerMemory   = "memory"
)

type Config struct {
	Env     string `toml:"env"`
	Port    string `toml:"port"`
	LogFile string `toml:"log_file"`

	RedisURL      string `toml:"redis_url"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`

	// DatabaseURL selects the Postgres store; empty keeps games in memory.
	DatabaseURL string `toml:"database_url"`
	JWTSecret   string `toml:"jwt_secret"`

	LedgerMode       string `toml:"ledger_mode"`
	OperatorEndpoint string `toml:"operator_endpoint"`
	OperatorSecret   string `toml:"operator_secret"`

	Pusher Pusher `toml:"pusher"`
	Game   Game   `toml:"game"`
}

type Pusher struct {
	AppID   string `toml:"app_id"`
	Key     string `toml:"key"`
	Secret  string `toml:"secret"`
	Cluster string `toml:"cluster"`
}

func (p Pusher) Enabled() bool {
	return p.AppID != "" && p.Key != "" && p.Secret != ""
}

type Game struct {
	EntryTimeout      Duration `toml:"entry_timeout"`
	CountdownSeconds  int      `toml:"countdown_seconds"`
	TicketPrice       int64    `toml:"ticket_price"`
	FeeBps            int      `toml:"fee_bps"`
	PayoutMaxAttempts int      `toml:"payout_max_attempts"`
	SweepInterval     Duration `toml:"sweep_interval"`
	EntryRateLimit    int      `toml:"entry_rate_limit"`
}

func (g Game) Countdown() time.Duration {
	return time.Duration(g.CountdownSeconds) * time.Second
}

// Duration decodes TOML strings such as "5m" or "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func Default() *Config {
	return &Config{
		Env:        EnvLocal,
		Port:       "8080",
		RedisURL:   "localhost:6379",
		LedgerMode: LedgerRedis,
		Game: Game{
			EntryTimeout:      Duration{5 * time.Minute},
			CountdownSeconds:  45,
			TicketPrice:       100,
			FeeBps:            0,
			PayoutMaxAttempts: 3,
			SweepInterval:     Duration{10 * time.Second},
			EntryRateLimit:    30,
		},
	}
}

// Load builds the configuration from defaults, an optional TOML file named by
// CONFIG_FILE, and finally environment variables.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

func (c *Config) applyEnv() error {
	setString(&c.Env, "ENV")
	setString(&c.Port, "PORT")
	setString(&c.LogFile, "LOG_FILE")
	setString(&c.RedisURL, "REDIS_URL")
	setString(&c.RedisPassword, "REDIS_PASSWORD")
	setString(&c.DatabaseURL, "DATABASE_URL")
	setString(&c.JWTSecret, "JWT_SECRET")
	setString(&c.LedgerMode, "LEDGER_MODE")
	setString(&c.OperatorEndpoint, "OPERATOR_ENDPOINT")
	setString(&c.OperatorSecret, "OPERATOR_SECRET")
	setString(&c.Pusher.AppID, "PUSHER_APP_ID")
	setString(&c.Pusher.Key, "PUSHER_KEY")
	setString(&c.Pusher.Secret, "PUSHER_SECRET")
	setString(&c.Pusher.Cluster, "PUSHER_CLUSTER")

	return errors.Join(
		setInt(&c.RedisDB, "REDIS_DB"),
		setDuration(&c.Game.EntryTimeout.Duration, "ENTRY_TIMEOUT"),
		setInt(&c.Game.CountdownSeconds, "COUNTDOWN_SECONDS"),
		setInt64(&c.Game.TicketPrice, "TICKET_PRICE"),
		setInt(&c.Game.FeeBps, "FEE_BPS"),
		setInt(&c.Game.PayoutMaxAttempts, "PAYOUT_MAX_ATTEMPTS"),
		setDuration(&c.Game.SweepInterval.Duration, "SWEEP_INTERVAL"),
		setInt(&c.Game.EntryRateLimit, "ENTRY_RATE_LIMIT"),
	)
}

func (c *Config) Validate() error {
	var errs []error

	switch c.Env {
	case EnvLocal, EnvDev, EnvProd:
	default:
		errs = append(errs, fmt.Errorf("ENV must be one of local, dev, prod; got %q", c.Env))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	switch c.LedgerMode {
	case LedgerRedis, LedgerMemory:
	case LedgerOperator:
		if c.OperatorEndpoint == "" {
			errs = append(errs, errors.New("OPERATOR_ENDPOINT is required when LEDGER_MODE=operator"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown LEDGER_MODE %q", c.LedgerMode))
	}
	if c.LedgerMode == LedgerMemory && c.Env == EnvProd {
		errs = append(errs, errors.New("LEDGER_MODE=memory is not allowed in prod"))
	}
	if c.Game.EntryTimeout.Duration <= 0 {
		errs = append(errs, errors.New("ENTRY_TIMEOUT must be positive"))
	}
	if c.Game.CountdownSeconds <= 0 {
		errs = append(errs, errors.New("COUNTDOWN_SECONDS must be positive"))
	}
	if c.Game.TicketPrice < 0 {
		errs = append(errs, errors.New("TICKET_PRICE must not be negative"))
	}
	if c.Game.FeeBps < 0 || c.Game.FeeBps > 10_000 {
		errs = append(errs, errors.New("FEE_BPS must be within [0, 10000]"))
	}
	if c.Game.PayoutMaxAttempts < 1 {
		errs = append(errs, errors.New("PAYOUT_MAX_ATTEMPTS must be at least 1"))
	}
	if c.Game.SweepInterval.Duration < time.Second {
		errs = append(errs, errors.New("SWEEP_INTERVAL must be at least 1s"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = n
	return nil
}

func setInt64(dst *int64, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = d
	return nil
}
