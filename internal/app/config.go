package app

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/corey/kwatch/internal/domain/automaton"
	"github.com/mitchellh/go-homedir"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"
)

// EnvPrefix prefixes every environment override (KWATCH_SCAN_MODE, ...).
const EnvPrefix = "KWATCH"

// Config holds initialization parameters for the App.
type Config struct {
	ProjectRoot string `mapstructure:"project_root" yaml:"project_root"`

	// Dictionary is the keyword file (.json, .yaml, .txt). Empty uses the
	// embedded asset listing.
	Dictionary    string   `mapstructure:"dictionary" yaml:"dictionary"`
	ExtraKeywords []string `mapstructure:"extra_keywords" yaml:"extra_keywords"`
	ScanMode      string   `mapstructure:"scan_mode" yaml:"scan_mode"` // "first" or "all"

	// MaxAge drops documents published more than MaxAge ago or in the
	// future. Documents without a publish time always pass. 0 disables.
	MaxAge time.Duration `mapstructure:"max_age" yaml:"max_age"`

	DBPath     string `mapstructure:"db_path" yaml:"db_path"`         // default: .kwatch/kwatch.db
	ArchiveDir string `mapstructure:"archive_dir" yaml:"archive_dir"` // default: .kwatch/archive, "-" disables

	FeedDir    string        `mapstructure:"feed_dir" yaml:"feed_dir"` // default: .kwatch/feed, "-" disables
	FeedPoll   time.Duration `mapstructure:"feed_poll" yaml:"feed_poll"`
	ReplayFeed bool          `mapstructure:"replay_feed" yaml:"replay_feed"`

	// Pages are timeline URLs fetched every PageInterval.
	Pages        []string      `mapstructure:"pages" yaml:"pages"`
	PageInterval time.Duration `mapstructure:"page_interval" yaml:"page_interval"`

	WebhookURL     string        `mapstructure:"webhook_url" yaml:"webhook_url"`
	WebhookRetries int           `mapstructure:"webhook_retries" yaml:"webhook_retries"`
	WebhookBackoff time.Duration `mapstructure:"webhook_backoff" yaml:"webhook_backoff"`

	HTTPPort int `mapstructure:"http_port" yaml:"http_port"` // 0 = computed from project root, <0 disables
}

// disabled marks an optional directory setting as turned off.
const disabled = "-"

// setDefaults registers every key so environment overrides are seen by
// Unmarshal.
func setDefaults(v *viper.Viper, projectRoot string) {
	p := NewPaths(projectRoot)
	v.SetDefault("project_root", projectRoot)
	v.SetDefault("dictionary", "")
	v.SetDefault("extra_keywords", []string{})
	v.SetDefault("scan_mode", "first")
	v.SetDefault("max_age", "24h")
	v.SetDefault("db_path", p.DB)
	v.SetDefault("archive_dir", p.ArchiveDir)
	v.SetDefault("feed_dir", p.FeedDir)
	v.SetDefault("feed_poll", "500ms")
	v.SetDefault("replay_feed", false)
	v.SetDefault("pages", []string{})
	v.SetDefault("page_interval", "5m")
	v.SetDefault("webhook_url", "")
	v.SetDefault("webhook_retries", 5)
	v.SetDefault("webhook_backoff", "100ms")
	v.SetDefault("http_port", 0)
}

// LoadConfig resolves the configuration for projectRoot: defaults, then the
// YAML file, then KWATCH_* environment variables. An empty file means the
// project's .kwatch/kwatch.yaml, which may be absent. An explicit file must
// exist.
func LoadConfig(projectRoot, file string) (Config, error) {
	if projectRoot == "" {
		return Config{}, errors.New("project root required")
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v, projectRoot)

	explicit := file != ""
	if !explicit {
		file = NewPaths(projectRoot).Config
	}
	file, err := homedir.Expand(file)
	if err != nil {
		return Config{}, errors.Wrap(err, "expand config path")
	}
	if _, err := os.Stat(file); err == nil {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.Wrapf(err, "read config %s", file)
		}
	} else if explicit {
		return Config{}, errors.Wrap(err, "config file")
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return Config{}, errors.Wrap(err, "decode config")
	}
	cfg.ProjectRoot = projectRoot
	if err := cfg.normalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// normalize expands ~ and makes paths absolute relative to the project root.
func (c *Config) normalize() error {
	for _, p := range []*string{&c.Dictionary, &c.DBPath, &c.ArchiveDir, &c.FeedDir} {
		if *p == "" || *p == disabled {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return errors.Wrapf(err, "expand %q", *p)
		}
		if !filepath.IsAbs(expanded) {
			expanded = filepath.Join(c.ProjectRoot, expanded)
		}
		*p = expanded
	}

	c.ScanMode = strings.ToLower(strings.TrimSpace(c.ScanMode))
	if c.ScanMode == "" {
		c.ScanMode = "first"
	}
	if _, err := automaton.ParseScanMode(c.ScanMode); err != nil {
		return errors.Wrap(err, "scan_mode")
	}
	if c.WebhookBackoff < 0 || c.FeedPoll < 0 || c.PageInterval < 0 || c.MaxAge < 0 {
		return errors.New("durations must not be negative")
	}
	return nil
}

// withDefaults fills zero values for configs built in code rather than by
// LoadConfig.
func (c Config) withDefaults() Config {
	p := NewPaths(c.ProjectRoot)
	if c.DBPath == "" {
		c.DBPath = p.DB
	}
	if c.ArchiveDir == "" {
		c.ArchiveDir = p.ArchiveDir
	}
	if c.FeedDir == "" {
		c.FeedDir = p.FeedDir
	}
	if c.ScanMode == "" {
		c.ScanMode = "first"
	}
	if c.PageInterval == 0 {
		c.PageInterval = 5 * time.Minute
	}
	return c
}

// YAML renders the effective configuration, as printed by `kwatch config`.
func (c Config) YAML() (string, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return "", errors.Wrap(err, "encode config")
	}
	return string(out), nil
}
