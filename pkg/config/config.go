package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the application configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Log         LogConfig         `mapstructure:"log"`
	Postgres    PostgresConfig    `mapstructure:"postgres"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Browser     BrowserConfig     `mapstructure:"browser"`
	Crawl       CrawlConfig       `mapstructure:"crawl"`
	Retry       RetryConfig       `mapstructure:"retry"`
	Challenge   ChallengeConfig   `mapstructure:"challenge"`
	Pagination  PaginationConfig  `mapstructure:"pagination"`
	Extraction  ExtractionConfig  `mapstructure:"extraction"`
	Diagnostics DiagnosticsConfig `mapstructure:"diagnostics"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DB       string `mapstructure:"db"`
}

// ConnString builds the pgx connection string.
func (p PostgresConfig) ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", p.User, p.Password, p.Host, p.Port, p.DB)
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type BrowserConfig struct {
	Headless             bool          `mapstructure:"headless"`
	UserAgent            string        `mapstructure:"user_agent"`
	NavigationTimeout    time.Duration `mapstructure:"navigation_timeout"`
	NavigationsPerSecond float64       `mapstructure:"navigations_per_second"` // 0 disables pacing
}

// FacetConfig is one search parameter and the values to combine.
type FacetConfig struct {
	Name   string   `mapstructure:"name"`
	Values []string `mapstructure:"values"`
}

type CrawlConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	DetailURLTemplate string        `mapstructure:"detail_url_template"`
	Facets            []FacetConfig `mapstructure:"facets"`
	PageParam         string        `mapstructure:"page_param"`
	TokenKey          string        `mapstructure:"token_key"`
	MaxPagesCap       int           `mapstructure:"max_pages_cap"`
	CrawlConcurrency  int           `mapstructure:"crawl_concurrency"`
	ScrapeConcurrency int           `mapstructure:"scrape_concurrency"`
	JobMaxAttempts    int           `mapstructure:"job_max_attempts"`
	JobTimeout        time.Duration `mapstructure:"job_timeout"`
	PollTimeout       time.Duration `mapstructure:"poll_timeout"`
	RescrapeAfter     time.Duration `mapstructure:"rescrape_after"`
}

type RetryConfig struct {
	NavigationAttempts  int           `mapstructure:"navigation_attempts"`
	NavigationDelay     time.Duration `mapstructure:"navigation_delay"`
	ExtractionAttempts  int           `mapstructure:"extraction_attempts"`
	ExtractionDelay     time.Duration `mapstructure:"extraction_delay"`
	PersistenceAttempts int           `mapstructure:"persistence_attempts"`
	PersistenceDelay    time.Duration `mapstructure:"persistence_delay"`
}

type ChallengeConfig struct {
	ConsentSelector             string            `mapstructure:"consent_selector"`
	OverlaySelectors            []string          `mapstructure:"overlay_selectors"`
	VerificationHeadingSelector string            `mapstructure:"verification_heading_selector"`
	VerificationPhrases         []string          `mapstructure:"verification_phrases"`
	VerificationControlSelector string            `mapstructure:"verification_control_selector"`
	ContentSignatures           map[string]string `mapstructure:"content_signatures"`
	ProbeTimeout                time.Duration     `mapstructure:"probe_timeout"`
	VerificationDelay           time.Duration     `mapstructure:"verification_delay"`
	VerificationAttempts        int               `mapstructure:"verification_attempts"`
}

type PaginationConfig struct {
	NextLinkSelector  string        `mapstructure:"next_link_selector"`
	NextLinkAttribute string        `mapstructure:"next_link_attribute"`
	ProbeTimeout      time.Duration `mapstructure:"probe_timeout"`
}

type FieldRule struct {
	Name      string `mapstructure:"name"`
	Selector  string `mapstructure:"selector"`
	Attr      string `mapstructure:"attr"`
	Transform string `mapstructure:"transform"`
	Multiple  bool   `mapstructure:"multiple"`
}

type ExtractionConfig struct {
	ResultsContainer   string      `mapstructure:"results_container"`
	ItemSelector       string      `mapstructure:"item_selector"`
	ItemIDAttribute    string      `mapstructure:"item_id_attribute"`
	ItemIDPrefix       string      `mapstructure:"item_id_prefix"`
	MaxResultsSelector string      `mapstructure:"max_results_selector"`
	MaxPagesSelector   string      `mapstructure:"max_pages_selector"`
	DetailFields       []FieldRule `mapstructure:"detail_fields"`
}

type DiagnosticsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
}

// Load reads configuration from an optional file and environment variables.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// The config file is optional so production can run purely on env vars.
	v.SetConfigFile(getEnv("CONFIG_FILE", "config.yaml"))
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the crawler cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Crawl.BaseURL) == "" {
		errs = append(errs, errors.New("crawl.base_url is required"))
	}
	if len(c.Crawl.Facets) == 0 {
		errs = append(errs, errors.New("crawl.facets must not be empty"))
	}
	for _, f := range c.Crawl.Facets {
		if f.Name == "" || len(f.Values) == 0 {
			errs = append(errs, fmt.Errorf("facet %q needs a name and at least one value", f.Name))
		}
	}
	if c.Crawl.CrawlConcurrency <= 0 || c.Crawl.ScrapeConcurrency <= 0 {
		errs = append(errs, errors.New("crawl concurrency must be positive"))
	}
	if c.Crawl.TokenKey == "" {
		errs = append(errs, errors.New("crawl.token_key is required"))
	}
	if len(c.Challenge.ContentSignatures) == 0 {
		errs = append(errs, errors.New("challenge.content_signatures must not be empty"))
	}
	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("log.level", "info")

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", "5432")
	v.SetDefault("postgres.user", "user")
	v.SetDefault("postgres.password", "password")
	v.SetDefault("postgres.db", "crawler")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "crawler:")

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/114.0.0.0 Safari/537.36")
	v.SetDefault("browser.navigation_timeout", 60*time.Second)
	v.SetDefault("browser.navigations_per_second", 2.0)

	v.SetDefault("crawl.base_url", "https://www.pagesjaunes.fr/annuaire/chercherlespros")
	v.SetDefault("crawl.detail_url_template", "https://www.pagesjaunes.fr/pros/{id}")
	v.SetDefault("crawl.facets", []map[string]any{
		{"name": "quoiqui", "values": []string{"plombier", "electricien", "jardinier"}},
		{"name": "ou", "values": []string{"normandie", "paris", "lyon", "marseille"}},
	})
	v.SetDefault("crawl.page_param", "page")
	v.SetDefault("crawl.token_key", "contexte")
	v.SetDefault("crawl.max_pages_cap", 0)
	v.SetDefault("crawl.crawl_concurrency", 4)
	v.SetDefault("crawl.scrape_concurrency", 16)
	v.SetDefault("crawl.job_max_attempts", 3)
	v.SetDefault("crawl.job_timeout", 5*time.Minute)
	v.SetDefault("crawl.poll_timeout", 2*time.Second)
	v.SetDefault("crawl.rescrape_after", 48*time.Hour)

	v.SetDefault("retry.navigation_attempts", 3)
	v.SetDefault("retry.navigation_delay", 2*time.Second)
	v.SetDefault("retry.extraction_attempts", 3)
	v.SetDefault("retry.extraction_delay", time.Second)
	v.SetDefault("retry.persistence_attempts", 2)
	v.SetDefault("retry.persistence_delay", 500*time.Millisecond)

	v.SetDefault("challenge.consent_selector", "#didomi-notice-agree-button")
	v.SetDefault("challenge.overlay_selectors", []string{"#popin-en-savoir-plus", "#popin-donnee-perso"})
	v.SetDefault("challenge.verification_heading_selector", "p.h2")
	v.SetDefault("challenge.verification_phrases", []string{"Verifying you are human", "Verify you are human"})
	v.SetDefault("challenge.verification_control_selector", "input[type=checkbox]")
	v.SetDefault("challenge.content_signatures", map[string]string{
		"search": "#listResults",
		"detail": "#teaser-header",
	})
	v.SetDefault("challenge.probe_timeout", 3*time.Second)
	v.SetDefault("challenge.verification_delay", 5*time.Second)
	v.SetDefault("challenge.verification_attempts", 3)

	v.SetDefault("pagination.next_link_selector", "a.link_pagination.next")
	v.SetDefault("pagination.next_link_attribute", "data-pjlb")
	v.SetDefault("pagination.probe_timeout", 3*time.Second)

	v.SetDefault("extraction.results_container", "#listResults")
	v.SetDefault("extraction.item_selector", "#listResults ul li")
	v.SetDefault("extraction.item_id_attribute", "id")
	v.SetDefault("extraction.item_id_prefix", "bi-")
	v.SetDefault("extraction.max_results_selector", "#SEL-nbresultat")
	v.SetDefault("extraction.max_pages_selector", "#SEL-compteur.pagination-compteur")
	v.SetDefault("extraction.detail_fields", []map[string]any{
		{"name": "name", "selector": ".header-main-infos h1", "transform": "collapse"},
		{"name": "activity", "selector": ".header-main-infos .activite", "transform": "collapse"},
		{"name": "address", "selector": ".address-container .address", "transform": "collapse"},
		{"name": "phones", "selector": ".coord-numero", "transform": "collapse", "multiple": true},
		{"name": "website", "selector": ".lvs-container a.pj-link", "attr": "href", "transform": "trim"},
		{"name": "siret", "selector": ".siret span", "transform": "digits"},
	})

	v.SetDefault("diagnostics.enabled", true)
	v.SetDefault("diagnostics.dir", "./screenshots")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
