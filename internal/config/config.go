// Package config
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

/*
YAML config example:
broker: "sim"
postgres_dsn: "host=localhost port=5432 user=postgres password=postgres dbname=omspy sslmode=disable"
sqlite_path: "orders.db"
feed_url: "wss://example.com/stream"
symbols: ["btc-usdt", "eth-usdt"]
telegram_token: "..."
telegram_chat: "..."
lock_duration: "2s"
max_modifications: 10
peg_interval: "10s"
price_low: 100
price_high: 110
*/

// Duration decodes YAML scalars like "2s" or "1m30s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

type Config struct {
	Broker       string   `yaml:"broker"`
	WallexAPIKey string   `yaml:"wallex_api_key"`
	PostgresDSN  string   `yaml:"postgres_dsn"`
	SQLitePath   string   `yaml:"sqlite_path"`
	FeedURL      string   `yaml:"feed_url"`
	Symbols      []string `yaml:"symbols"`

	TelegramToken       string   `yaml:"telegram_token"`
	TelegramChatID      string   `yaml:"telegram_chat"`
	ProxyURL            string   `yaml:"proxy_url"`
	NotificationRetries int      `yaml:"notification_retries"`
	NotificationDelay   Duration `yaml:"notification_delay"`

	LockDuration     Duration `yaml:"lock_duration"`
	MaxModifications int      `yaml:"max_modifications"`
	PegInterval      Duration `yaml:"peg_interval"`

	// Price band of the sim broker's virtual exchange.
	PriceLow  float64 `yaml:"price_low"`
	PriceHigh float64 `yaml:"price_high"`
}

// Defaults returns the configuration used when neither a flag nor a file
// overrides it.
func Defaults() Config {
	return Config{
		Broker:              "sim",
		Symbols:             []string{"btc-usdt"},
		NotificationRetries: 3,
		NotificationDelay:   Duration(5 * time.Second),
		LockDuration:        Duration(2 * time.Second),
		MaxModifications:    10,
		PegInterval:         Duration(10 * time.Second),
		PriceLow:            100,
		PriceHigh:           110,
	}
}

// Load builds the configuration from args: defaults, then the YAML file
// given with -config, then explicitly set flags on top. The Wallex API key
// falls back to the WALLEX_API_KEY environment variable.
func Load(args []string) (Config, error) {
	cfg := Defaults()

	fs := flag.NewFlagSet("omspy", flag.ContinueOnError)
	broker := fs.String("broker", cfg.Broker, "Broker: paper, sim or wallex")
	postgresDSN := fs.String("postgres-dsn", "", "Postgres connection string for the order store")
	sqlitePath := fs.String("sqlite-path", "", "SQLite file for the order store")
	feedURL := fs.String("feed-url", "", "Websocket URL of the price feed")
	symbolsFlag := fs.String("symbols", strings.Join(cfg.Symbols, ","), "Comma-separated list of symbols")
	telegramToken := fs.String("telegram-token", "", "Telegram bot token for notifications")
	telegramChat := fs.String("telegram-chat", "", "Telegram chat ID for notifications")
	proxyURL := fs.String("proxy-url", "", "Proxy URL for notification delivery")
	notificationRetries := fs.Int("notification-retries", cfg.NotificationRetries, "Number of notification send attempts")
	notificationDelay := fs.Duration("notification-delay", time.Duration(cfg.NotificationDelay), "Delay between notification retries (e.g., 5s)")
	lockDuration := fs.Duration("lock-duration", time.Duration(cfg.LockDuration), "Modify lock armed after every accepted peg re-price")
	maxModifications := fs.Int("max-modifications", cfg.MaxModifications, "Modification cap per order")
	pegInterval := fs.Duration("peg-interval", time.Duration(cfg.PegInterval), "Pause between peg ticks")
	priceLow := fs.Float64("price-low", cfg.PriceLow, "Lower bound of the sim broker price band")
	priceHigh := fs.Float64("price-high", cfg.PriceHigh, "Upper bound of the sim broker price band")
	configFile := fs.String("config", "", "Path to YAML config file")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if *configFile != "" {
		data, err := os.ReadFile(*configFile)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Explicitly set flags win over file values.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "broker":
			cfg.Broker = *broker
		case "postgres-dsn":
			cfg.PostgresDSN = *postgresDSN
		case "sqlite-path":
			cfg.SQLitePath = *sqlitePath
		case "feed-url":
			cfg.FeedURL = *feedURL
		case "symbols":
			cfg.Symbols = splitList(*symbolsFlag)
		case "telegram-token":
			cfg.TelegramToken = *telegramToken
		case "telegram-chat":
			cfg.TelegramChatID = *telegramChat
		case "proxy-url":
			cfg.ProxyURL = *proxyURL
		case "notification-retries":
			cfg.NotificationRetries = *notificationRetries
		case "notification-delay":
			cfg.NotificationDelay = Duration(*notificationDelay)
		case "lock-duration":
			cfg.LockDuration = Duration(*lockDuration)
		case "max-modifications":
			cfg.MaxModifications = *maxModifications
		case "peg-interval":
			cfg.PegInterval = Duration(*pegInterval)
		case "price-low":
			cfg.PriceLow = *priceLow
		case "price-high":
			cfg.PriceHigh = *priceHigh
		}
	})

	if cfg.WallexAPIKey == "" {
		cfg.WallexAPIKey = os.Getenv("WALLEX_API_KEY")
	}

	return cfg, cfg.Validate()
}

// Validate reports configuration that cannot drive a run.
func (c Config) Validate() error {
	switch c.Broker {
	case "paper", "sim", "wallex":
	default:
		return fmt.Errorf("unknown broker %q", c.Broker)
	}
	if c.Broker == "wallex" && c.WallexAPIKey == "" {
		return errors.New("wallex broker requires an api key")
	}
	if c.MaxModifications < 0 {
		return errors.New("max modifications cannot be negative")
	}
	if c.LockDuration < 0 || c.PegInterval < 0 || c.NotificationDelay < 0 {
		return errors.New("durations cannot be negative")
	}
	if c.PriceHigh < c.PriceLow {
		return fmt.Errorf("price band %v..%v is inverted", c.PriceLow, c.PriceHigh)
	}
	return nil
}

// String renders the configuration with secrets masked.
func (c Config) String() string {
	return fmt.Sprintf(
		"broker=%s symbols=%v wallex_key=%s postgres_dsn=%s sqlite_path=%s feed_url=%s telegram_token=%s lock_duration=%s max_modifications=%d peg_interval=%s",
		c.Broker, c.Symbols, mask(c.WallexAPIKey), mask(c.PostgresDSN), c.SQLitePath, c.FeedURL,
		mask(c.TelegramToken), time.Duration(c.LockDuration), c.MaxModifications, time.Duration(c.PegInterval))
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + "****" + s[len(s)-2:]
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
