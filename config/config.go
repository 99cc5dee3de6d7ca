package config

import (
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Side      string           `mapstructure:"side"` // "server" exports live listings, "client" only consumes
	Verbose   bool             `mapstructure:"verbose"`
	Debug     bool             `mapstructure:"debug"`
	Relay     RelayConfig      `mapstructure:"relay"`
	Checker   CheckerConfig    `mapstructure:"checker"`
	Exporter  ExporterConfig   `mapstructure:"exporter"`
	Whitelist []WhitelistEntry `mapstructure:"whitelist"`
	Log       LogConfig        `mapstructure:"log"`
	Postgres  PostgresConfig   `mapstructure:"postgres"`
}

type RelayConfig struct {
	URL              string        `mapstructure:"url"`
	Schema           string        `mapstructure:"schema"`
	MinBatchTime     time.Duration `mapstructure:"min_batch_time"`    // allow at least this long for a batch
	MaxBatchTime     time.Duration `mapstructure:"max_batch_time"`    // never let a batch run longer than this
	ReconnectTimeout time.Duration `mapstructure:"reconnect_timeout"` // reconnect after this long with no data
	BurstLimit       int           `mapstructure:"burst_limit"`       // max messages read between timer checks
}

type CheckerConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	ListingsURL   string        `mapstructure:"listings_url"` // mirror, tried first in client mode
	FallbackURL   string        `mapstructure:"fallback_url"` // canonical source
	DictionaryURL string        `mapstructure:"dictionary_url"`
	DataPath      string        `mapstructure:"data_path"` // where imported snapshots are kept
}

type ExporterConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Path     string        `mapstructure:"path"` // directory receiving listings-live.csv
}

// WhitelistEntry authorizes one uploader software, optionally requiring
// a minimum version.
type WhitelistEntry struct {
	Software   string `mapstructure:"software"`
	MinVersion string `mapstructure:"minversion"`
}

// LogConfig defines the logger configuration options.
type LogConfig struct {
	Level       string `mapstructure:"level"`       // log level: "debug", "info", "warn", "error"
	Format      string `mapstructure:"format"`      // log format: "json" or "console"
	OutputFile  string `mapstructure:"output_file"` // file path to store logs (optional)
	Environment string `mapstructure:"environment"` // environment: "dev" or "prod"
}

// Load loads application configuration using Viper.
// It reads from config.yaml and overrides with environment variables.
// Missing settings fall back to defaults; a missing file is created with
// the defaults so operators have something to edit.
func Load() *Config {
	v := viper.New()

	v.SetConfigName("config") // config.yaml
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	setDefaults(v)

	// Support environment variables with dot notation (e.g., RELAY_URL)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			log.Fatalf("failed to read config: %v", err)
		}
		// First start: persist the defaults for later editing.
		if werr := v.SafeWriteConfigAs("config.yaml"); werr != nil {
			log.Printf("could not write default config: %v", werr)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		log.Fatalf("failed to unmarshal config: %v", err)
	}

	validate(&cfg)

	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("side", "client")
	v.SetDefault("verbose", true)
	v.SetDefault("debug", false)

	v.SetDefault("relay.url", "wss://eddn.edcd.io:9500/")
	v.SetDefault("relay.schema", "https://eddn.edcd.io/schemas/commodity/3")
	v.SetDefault("relay.min_batch_time", 36*time.Second)
	v.SetDefault("relay.max_batch_time", 60*time.Second)
	v.SetDefault("relay.reconnect_timeout", 30*time.Second)
	v.SetDefault("relay.burst_limit", 500)

	v.SetDefault("checker.interval", time.Hour)
	v.SetDefault("checker.listings_url", "http://elite.tromador.com/files/listings.csv")
	v.SetDefault("checker.fallback_url", "https://eddb.io/archive/v6/listings.csv")
	v.SetDefault("checker.dictionary_url", "https://raw.githubusercontent.com/Marginal/EDMarketConnector/master/commodity.csv")
	v.SetDefault("checker.data_path", "./data/eddb")

	v.SetDefault("exporter.interval", 5*time.Minute)
	v.SetDefault("exporter.path", "./data/eddb")

	v.SetDefault("whitelist", []map[string]string{
		{"software": "E:D Market Connector [Windows]"},
		{"software": "E:D Market Connector [Mac OS]"},
		{"software": "E:D Market Connector [Linux]"},
		{"software": "EDDiscovery"},
		{"software": "eddi", "minversion": "2.2"},
	})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.environment", "dev")

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "postgres")
	v.SetDefault("postgres.dbname", "eddnlistener")
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("postgres.timezone", "UTC")
}

// validate rejects values the workers cannot run with. Invalid settings
// are fatal at startup rather than surfacing later as stuck workers.
func validate(cfg *Config) {
	cfg.Side = strings.ToLower(cfg.Side)
	if cfg.Side != "server" && cfg.Side != "client" {
		log.Fatalf("config: side must be \"server\" or \"client\", got %q", cfg.Side)
	}
	if cfg.Relay.BurstLimit < 1 {
		log.Fatalf("config: relay.burst_limit must be positive, got %d", cfg.Relay.BurstLimit)
	}
	if cfg.Relay.MinBatchTime <= 0 || cfg.Relay.MaxBatchTime <= 0 {
		log.Fatalf("config: relay batch times must be positive")
	}
	if cfg.Checker.Interval < time.Second {
		log.Fatalf("config: checker.interval must be at least one second")
	}
	if cfg.Exporter.Interval < time.Second {
		log.Fatalf("config: exporter.interval must be at least one second")
	}
}
