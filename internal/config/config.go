package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Crawl      CrawlConfig      `yaml:"crawl" mapstructure:"crawl"`
	RefData    RefDataConfig    `yaml:"refdata" mapstructure:"refdata"`
	Integrity  IntegrityConfig  `yaml:"integrity" mapstructure:"integrity"`
	Report     ReportConfig     `yaml:"report" mapstructure:"report"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// CrawlConfig configures compliance, pacing, and retry behavior.
type CrawlConfig struct {
	RateLimitRPS        float64 `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
	ConcurrencyPerSite  int     `yaml:"concurrency_per_site" mapstructure:"concurrency_per_site"`
	DefaultDelaySeconds float64 `yaml:"default_delay_seconds" mapstructure:"default_delay_seconds"`
	MaxRetries          int     `yaml:"max_retries" mapstructure:"max_retries"`
	TimeoutSeconds      int     `yaml:"timeout_seconds" mapstructure:"timeout_seconds"`
	MaxPages            int     `yaml:"max_pages" mapstructure:"max_pages"`

	// StrictCompliance hard-stops on robots denial. Turning it off
	// downgrades denials to warnings and is discouraged.
	StrictCompliance bool `yaml:"strict_compliance" mapstructure:"strict_compliance"`

	UserAgent      string `yaml:"user_agent" mapstructure:"user_agent"`
	AcceptLanguage string `yaml:"accept_language" mapstructure:"accept_language"`

	// RefillableOnly seeds discovery from refillable facet listings.
	RefillableOnly bool `yaml:"refillable_only" mapstructure:"refillable_only"`
}

// RefDataConfig points at the versioned reference data files.
type RefDataConfig struct {
	BrandTiersPath string `yaml:"brand_tiers_path" mapstructure:"brand_tiers_path"`
	TaxonomyPath   string `yaml:"taxonomy_path" mapstructure:"taxonomy_path"`
}

// IntegrityConfig configures the validation gate.
type IntegrityConfig struct {
	AllowFixtures   bool `yaml:"allow_fixtures" mapstructure:"allow_fixtures"`
	AuditSampleSize int  `yaml:"audit_sample_size" mapstructure:"audit_sample_size"`
}

// ReportConfig configures the kept/dropped report export.
type ReportConfig struct {
	OutputPath string `yaml:"output_path" mapstructure:"output_path"`
}

// ServerConfig configures the read-only status API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// MonitoringConfig configures health checks and webhook alerting.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailRateThreshold    float64 `yaml:"fail_rate_threshold" mapstructure:"fail_rate_threshold"`
	BlockedDomainsAlert  bool    `yaml:"blocked_domains_alert" mapstructure:"blocked_domains_alert"`
	IntegrityFailAlert   bool    `yaml:"integrity_fail_alert" mapstructure:"integrity_fail_alert"`
	SelectorMissWarnRate float64 `yaml:"selector_miss_warn_rate" mapstructure:"selector_miss_warn_rate"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("REFILLERY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "refillery.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("crawl.rate_limit_rps", 0.5)
	v.SetDefault("crawl.concurrency_per_site", 2)
	v.SetDefault("crawl.default_delay_seconds", 2.0)
	v.SetDefault("crawl.max_retries", 3)
	v.SetDefault("crawl.timeout_seconds", 30)
	v.SetDefault("crawl.max_pages", 50)
	v.SetDefault("crawl.strict_compliance", true)
	v.SetDefault("crawl.user_agent", "RefilleryBot/1.0 (+https://verte-labs.eu/refillery)")
	v.SetDefault("crawl.accept_language", "fr-FR,fr;q=0.9,en;q=0.5")
	v.SetDefault("refdata.brand_tiers_path", "refdata/brand_tiers.json")
	v.SetDefault("refdata.taxonomy_path", "refdata/taxonomy.yaml")
	v.SetDefault("integrity.audit_sample_size", 20)
	v.SetDefault("report.output_path", "reports/price_backstop.xlsx")
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.fail_rate_threshold", 0.25)
	v.SetDefault("monitoring.selector_miss_warn_rate", 0.10)
	v.SetDefault("monitoring.blocked_domains_alert", true)
	v.SetDefault("monitoring.integrity_fail_alert", true)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
