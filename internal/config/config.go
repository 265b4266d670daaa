package config

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/pelletier/go-toml/v2"

	"vibe-apps-miner/internal/common"
)

//go:embed defaults.toml
var defaultsTOML []byte

// Source kinds.
const (
	KindHTTP         = "http"
	KindGitHubCode   = "github_code"
	KindGitHubIssues = "github_issues"
	KindGitHubRepos  = "github_repos"
)

// Pagination styles.
const (
	StyleOffset = "offset"
	StyleCursor = "cursor"
	StylePage   = "page"
)

// Duration is a time.Duration written as "1s", "500ms" in config files.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	Database        DatabaseConfig    `toml:"database"`
	SnapshotDir     string            `toml:"snapshot_dir"`
	Concurrency     int               `toml:"concurrency"`
	PlatformAliases map[string]string `toml:"platform_aliases"`
	Sources         []SourceConfig    `toml:"sources"`

	GitHubToken   string `toml:"-"`
	GeminiAPIKey  string `toml:"-"`
	FeishuWebhook string `toml:"-"`
}

type DatabaseConfig struct {
	Driver string `toml:"driver"`
	DSN    string `toml:"dsn"`
}

// SourceConfig declares one data source: where to fetch, how to page, and how
// to map its records onto the common shape.
type SourceConfig struct {
	Name            string            `toml:"name"`
	Kind            string            `toml:"kind"`
	Enabled         *bool             `toml:"enabled"`
	Platform        PlatformConfig    `toml:"platform"`
	DiscoveryMethod string            `toml:"discovery_method"`
	Endpoint        string            `toml:"endpoint"`
	Query           string            `toml:"query"`
	Sort            string            `toml:"sort"`
	Order           string            `toml:"order"`
	Params          map[string]string `toml:"params"`
	Headers         map[string]string `toml:"headers"`
	RequiredEnv     []string          `toml:"required_env"`
	Pagination      PaginationConfig  `toml:"pagination"`
	Fields          FieldsConfig      `toml:"fields"`
	RateLimit       RateLimitConfig   `toml:"rate_limit"`
	AITool          *AIToolConfig     `toml:"ai_tool"`
}

type PlatformConfig struct {
	Name        string `toml:"name"`
	BaseURL     string `toml:"base_url"`
	Description string `toml:"description"`
}

type PaginationConfig struct {
	Style          string `toml:"style"`
	PageSize       int    `toml:"page_size"`
	LimitParam     string `toml:"limit_param"`
	OffsetParam    string `toml:"offset_param"`
	CursorParam    string `toml:"cursor_param"`
	PageParam      string `toml:"page_param"`
	StartPage      int    `toml:"start_page"`
	ItemsPath      string `toml:"items_path"`
	NextCursorPath string `toml:"next_cursor_path"`
	HasMorePath    string `toml:"has_more_path"`
	MaxResults     int    `toml:"max_results"`
}

// FieldsConfig lists, per attribute, the record paths to try in order.
type FieldsConfig struct {
	ExternalID   []string `toml:"external_id"`
	Title        []string `toml:"title"`
	URL          []string `toml:"url"`
	Description  []string `toml:"description"`
	CreatedAt    []string `toml:"created_at"`
	UpdatedAt    []string `toml:"updated_at"`
	Featured     []string `toml:"featured"`
	URLTemplate  string   `toml:"url_template"`
	DefaultTitle string   `toml:"default_title"`
}

type RateLimitConfig struct {
	Timeout           Duration `toml:"timeout"`
	PageDelay         Duration `toml:"page_delay"`
	Cooldown          Duration `toml:"cooldown"`
	MaxCooldown       Duration `toml:"max_cooldown"`
	MaxRetries        *int     `toml:"max_retries"`
	RateLimitStatuses []int    `toml:"rate_limit_statuses"`
}

type AIToolConfig struct {
	Name       string  `toml:"name"`
	Provider   string  `toml:"provider"`
	Category   string  `toml:"category"`
	Confidence float64 `toml:"confidence"`
	Method     string  `toml:"method"`
}

// IsEnabled reports whether the source should run. Sources are on unless
// explicitly disabled.
func (s SourceConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// Policy turns the source's rate-limit settings into a retry policy.
func (s SourceConfig) Policy() common.Policy {
	p := common.DefaultPolicy()
	if s.RateLimit.Cooldown > 0 {
		p.Cooldown = s.RateLimit.Cooldown.Std()
	}
	if s.RateLimit.MaxCooldown > 0 {
		p.MaxCooldown = s.RateLimit.MaxCooldown.Std()
	}
	if s.RateLimit.MaxRetries != nil && *s.RateLimit.MaxRetries >= 0 {
		p.MaxRetries = *s.RateLimit.MaxRetries
	}
	return p
}

// RateLimitStatuses returns the HTTP statuses treated as throttling.
func (s SourceConfig) RateLimitStatuses() []int {
	if len(s.RateLimit.RateLimitStatuses) > 0 {
		return s.RateLimit.RateLimitStatuses
	}
	return []int{403, 429}
}

// ExpandedHeaders returns the headers with ${VAR} references resolved from
// the environment.
func (s SourceConfig) ExpandedHeaders() map[string]string {
	out := make(map[string]string, len(s.Headers))
	for k, v := range s.Headers {
		out[k] = os.ExpandEnv(v)
	}
	return out
}

// MissingEnv lists required environment variables that are unset.
func (s SourceConfig) MissingEnv() []string {
	var missing []string
	for _, name := range s.RequiredEnv {
		if os.Getenv(name) == "" {
			missing = append(missing, name)
		}
	}
	return missing
}

// Source returns the named source.
func (c *Config) Source(name string) (SourceConfig, bool) {
	for _, s := range c.Sources {
		if s.Name == name {
			return s, true
		}
	}
	return SourceConfig{}, false
}

// Load builds the configuration from the embedded defaults, the optional file
// at path, its "<name>.local.toml" sibling, and the environment, in that order.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := toml.Unmarshal(defaultsTOML, &cfg); err != nil {
		return nil, common.WrapError(common.ErrCodeConfig, "invalid built-in defaults", err)
	}

	if path != "" {
		if err := mergeFile(&cfg, path, true); err != nil {
			return nil, err
		}
		if err := mergeFile(&cfg, localPath(path), false); err != nil {
			return nil, err
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func localPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + ".local" + ext
}

func mergeFile(cfg *Config, path string, required bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !required {
			return nil
		}
		return common.WrapError(common.ErrCodeConfig, "read config "+path, err)
	}

	var override Config
	if err := toml.Unmarshal(data, &override); err != nil {
		return common.WrapError(common.ErrCodeConfig, "parse config "+path, err)
	}
	if err := Merge(cfg, override); err != nil {
		return common.WrapError(common.ErrCodeConfig, "merge config "+path, err)
	}
	slog.Debug("merged config overrides", "path", path)
	return nil
}

// Merge overlays override onto cfg. Sources are matched by name and merged
// field by field; unknown names are appended.
func Merge(cfg *Config, override Config) error {
	sources := override.Sources
	override.Sources = nil
	if err := mergo.Merge(cfg, override, mergo.WithOverride); err != nil {
		return err
	}

	for _, src := range sources {
		i := slices.IndexFunc(cfg.Sources, func(s SourceConfig) bool { return s.Name == src.Name })
		if i < 0 {
			cfg.Sources = append(cfg.Sources, src)
			continue
		}
		if err := mergo.Merge(&cfg.Sources[i], src, mergo.WithOverride); err != nil {
			return fmt.Errorf("source %s: %w", src.Name, err)
		}
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.GitHubToken = os.Getenv("GITHUB_TOKEN")
	cfg.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	cfg.FeishuWebhook = os.Getenv("FEISHU_WEBHOOK")
	if v := os.Getenv("VIBE_DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("VIBE_DB_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("VIBE_SNAPSHOT_DIR"); v != "" {
		cfg.SnapshotDir = v
	}
}

// Validate rejects configurations no source could run with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres", "mysql":
	default:
		return common.NewError(common.ErrCodeConfig, fmt.Sprintf("unsupported database driver %q", c.Database.Driver))
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}

	seen := make(map[string]bool, len(c.Sources))
	for _, s := range c.Sources {
		if s.Name == "" {
			return common.NewError(common.ErrCodeConfig, "source without name")
		}
		if seen[s.Name] {
			return common.NewError(common.ErrCodeConfig, "duplicate source "+s.Name)
		}
		seen[s.Name] = true
		if err := s.validate(); err != nil {
			return common.WrapError(common.ErrCodeConfig, "source "+s.Name, err)
		}
	}
	return nil
}

func (s SourceConfig) validate() error {
	if s.Platform.Name == "" {
		return fmt.Errorf("platform name is required")
	}
	if s.Pagination.PageSize <= 0 {
		return fmt.Errorf("page_size must be positive")
	}
	switch s.Kind {
	case KindHTTP:
		if s.Endpoint == "" {
			return fmt.Errorf("endpoint is required")
		}
		switch s.Pagination.Style {
		case StyleOffset, StyleCursor, StylePage:
		default:
			return fmt.Errorf("unknown pagination style %q", s.Pagination.Style)
		}
	case KindGitHubCode, KindGitHubIssues, KindGitHubRepos:
		if s.Query == "" {
			return fmt.Errorf("query is required")
		}
	default:
		return fmt.Errorf("unknown kind %q", s.Kind)
	}
	if t := s.AITool; t != nil {
		if t.Name == "" {
			return fmt.Errorf("ai_tool name is required")
		}
		if t.Confidence < 0 || t.Confidence > 1 {
			return fmt.Errorf("ai_tool confidence %.2f outside [0,1]", t.Confidence)
		}
	}
	return nil
}
