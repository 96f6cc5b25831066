// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/news-listing-crawler/internal/article"
	"github.com/JakeFAU/news-listing-crawler/internal/pagination"
)

// Storage backends accepted by storage.backend.
const (
	StorageNone   = "none"
	StorageMemory = "memory"
	StorageLocal  = "local"
	StorageGCS    = "gcs"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Site       SiteConfig        `mapstructure:"site"`
	Selectors  article.Selectors `mapstructure:"selectors"`
	Crawler    CrawlerConfig     `mapstructure:"crawler"`
	Pagination PaginationConfig  `mapstructure:"pagination"`
	HTTP       HTTPConfig        `mapstructure:"http"`
	Output     OutputConfig      `mapstructure:"output"`
	Storage    StorageConfig     `mapstructure:"storage"`
	DB         DBConfig          `mapstructure:"db"`
	PubSub     PubSubConfig      `mapstructure:"pubsub"`
	Metrics    MetricsConfig     `mapstructure:"metrics"`
	Logging    LoggingConfig     `mapstructure:"logging"`
	Tracing    TracingConfig     `mapstructure:"tracing"`
}

// SiteConfig identifies the listing being crawled.
type SiteConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	ShortName string `mapstructure:"short_name"`
	PageParam string `mapstructure:"page_param"`
}

// CrawlerConfig governs the crawl pipeline.
type CrawlerConfig struct {
	UserAgent       string `mapstructure:"user_agent"`
	RespectRobots   bool   `mapstructure:"respect_robots"`
	IncludeLastPage bool   `mapstructure:"include_last_page"`
	OrderedOutput   bool   `mapstructure:"ordered_output"`
}

// PaginationConfig controls page count detection.
type PaginationConfig struct {
	Selector     string `mapstructure:"selector"`
	OnParseError string `mapstructure:"on_parse_error"`
}

// HTTPConfig configures the HTTP client.
type HTTPConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	// MaxBodyBytes caps response bodies; 0 disables the cap.
	MaxBodyBytes int `mapstructure:"max_body_bytes"`
}

// OutputConfig controls where the digest file is written.
type OutputConfig struct {
	Dir        string `mapstructure:"dir"`
	DateLayout string `mapstructure:"date_layout"`
	// Timezone is an IANA name (or "Local") used to date the output file.
	Timezone string `mapstructure:"timezone"`
}

// StorageConfig sets the archive backend for finished digests.
type StorageConfig struct {
	Backend     string `mapstructure:"backend"`
	BaseDir     string `mapstructure:"base_dir"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// DBConfig controls access to the run ledger database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// MetricsConfig toggles the admin HTTP endpoint.
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// LoggingConfig toggles zap development features and the minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TracingConfig names the service on emitted spans.
type TracingConfig struct {
	ServiceName string `mapstructure:"service_name"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("NEWSCRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	sel := article.DefaultSelectors()
	v.SetDefault("site.base_url", "https://taifaleo.nation.co.ke/")
	v.SetDefault("site.short_name", "taifa-leo")
	v.SetDefault("site.page_param", "paged")
	v.SetDefault("selectors.post", sel.Post)
	v.SetDefault("selectors.title", sel.Title)
	v.SetDefault("selectors.content", sel.Content)
	v.SetDefault("selectors.paragraph", sel.Paragraph)
	v.SetDefault("crawler.user_agent", "news-listing-crawler/0.1")
	v.SetDefault("crawler.respect_robots", false)
	v.SetDefault("crawler.include_last_page", false)
	v.SetDefault("crawler.ordered_output", false)
	v.SetDefault("pagination.selector", pagination.DefaultSelector)
	v.SetDefault("pagination.on_parse_error", string(pagination.PolicyFail))
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.max_body_bytes", 0)
	v.SetDefault("output.dir", ".")
	v.SetDefault("output.date_layout", "02-01-2006")
	v.SetDefault("output.timezone", "Local")
	v.SetDefault("storage.backend", StorageNone)
	v.SetDefault("storage.base_dir", "data/digests")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.prefix", "digests")
	v.SetDefault("storage.content_type", "text/plain; charset=utf-8")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "crawl_runs")
	v.SetDefault("db.max_conns", 2)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("metrics.listen_addr", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("tracing.service_name", "news-listing-crawler")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	u, err := url.Parse(c.Site.BaseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("site.base_url must be an absolute http(s) URL")
	}
	if strings.TrimSpace(c.Site.ShortName) == "" {
		return fmt.Errorf("site.short_name must be set")
	}
	if strings.TrimSpace(c.Site.PageParam) == "" {
		return fmt.Errorf("site.page_param must be set")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxBodyBytes < 0 {
		return fmt.Errorf("http.max_body_bytes must be >= 0")
	}
	if _, err := pagination.ParsePolicyFromString(c.Pagination.OnParseError); err != nil {
		return fmt.Errorf("pagination.on_parse_error: %w", err)
	}
	if _, err := time.LoadLocation(c.Output.Timezone); err != nil {
		return fmt.Errorf("output.timezone: %w", err)
	}
	switch c.Storage.Backend {
	case "", StorageNone, StorageMemory:
	case StorageLocal:
		if c.Storage.BaseDir == "" {
			return fmt.Errorf("storage.base_dir must be set when storage.backend is local")
		}
	case StorageGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set when storage.backend is gcs")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	return nil
}

// Timeout converts the HTTP timeout into a duration.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// Location resolves output.timezone, falling back to UTC.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Output.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ParsePolicy returns the validated pagination parse policy.
func (c Config) ParsePolicy() pagination.ParsePolicy {
	p, err := pagination.ParsePolicyFromString(c.Pagination.OnParseError)
	if err != nil {
		return pagination.PolicyFail
	}
	return p
}
