package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"dnswatch/internal/fsutil"
)

// EnvPrefix namespaces every setting in the environment, e.g.
// DNSWATCH_AGENT_MAX_TURNS for agent.max_turns.
const EnvPrefix = "DNSWATCH"

// Config is the root configuration for dnswatch. It is built once at
// startup and handed to constructors; nothing else reads the environment.
type Config struct {
	Target    TargetConfig    `mapstructure:"target" yaml:"target" json:"target"`
	Stabilize StabilizeConfig `mapstructure:"stabilize" yaml:"stabilize" json:"stabilize"`
	State     StateConfig     `mapstructure:"state" yaml:"state" json:"state"`
	Publish   PublishConfig   `mapstructure:"publish" yaml:"publish" json:"publish"`
	Notify    NotifyConfig    `mapstructure:"notify" yaml:"notify" json:"notify"`
	Provider  ProviderConfig  `mapstructure:"provider" yaml:"provider" json:"provider"`
	Retry     RetryConfig     `mapstructure:"retry" yaml:"retry" json:"retry"`
	Agent     AgentConfig     `mapstructure:"agent" yaml:"agent" json:"agent"`
	Journal   JournalConfig   `mapstructure:"journal" yaml:"journal" json:"journal"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics" json:"metrics"`
	Log       LogConfig       `mapstructure:"log" yaml:"log" json:"log"`
}

// TargetConfig names what is watched and what gets rewritten.
type TargetConfig struct {
	Hostname   string `mapstructure:"hostname" yaml:"hostname" json:"hostname"`
	ValuesFile string `mapstructure:"values_file" yaml:"values_file" json:"values_file"`
	YAMLKey    string `mapstructure:"yaml_key" yaml:"yaml_key" json:"yaml_key"`
	Branch     string `mapstructure:"branch" yaml:"branch" json:"branch"`
	Workspace  string `mapstructure:"workspace" yaml:"workspace" json:"workspace"`
}

type StabilizeConfig struct {
	Queries       int           `mapstructure:"queries" yaml:"queries" json:"queries"`
	DelaySec      float64       `mapstructure:"delay_sec" yaml:"delay_sec" json:"delay_sec"`
	LookupTimeout time.Duration `mapstructure:"lookup_timeout" yaml:"lookup_timeout" json:"lookup_timeout"`
	Nameserver    string        `mapstructure:"nameserver" yaml:"nameserver" json:"nameserver"`
	NslookupPath  string        `mapstructure:"nslookup_path" yaml:"nslookup_path" json:"nslookup_path"`
}

// Delay is the pause between stabilization attempts.
func (s StabilizeConfig) Delay() time.Duration {
	return time.Duration(s.DelaySec * float64(time.Second))
}

type StateConfig struct {
	File string `mapstructure:"file" yaml:"file" json:"file"`
}

type PublishConfig struct {
	Backend     string        `mapstructure:"backend" yaml:"backend" json:"backend"` // exec | gogit
	Remote      string        `mapstructure:"remote" yaml:"remote" json:"remote"`
	GitBinary   string        `mapstructure:"git_binary" yaml:"git_binary" json:"git_binary"`
	AuthorName  string        `mapstructure:"author_name" yaml:"author_name" json:"author_name"`
	AuthorEmail string        `mapstructure:"author_email" yaml:"author_email" json:"author_email"`
	Token       string        `mapstructure:"token" yaml:"token" json:"token"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
}

type NotifyConfig struct {
	WebhookURL string        `mapstructure:"webhook_url" yaml:"webhook_url" json:"webhook_url"`
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
	ThemeColor string        `mapstructure:"theme_color" yaml:"theme_color" json:"theme_color"`
	Policy     string        `mapstructure:"policy" yaml:"policy" json:"policy"` // always | on_change
}

// ProviderConfig selects the decision service. Default names the first
// endpoint tried; Failover lists the ones tried after it.
type ProviderConfig struct {
	Default        string         `mapstructure:"default" yaml:"default" json:"default"`
	Failover       []string       `mapstructure:"failover" yaml:"failover" json:"failover"`
	Temperature    float64        `mapstructure:"temperature" yaml:"temperature" json:"temperature"`
	MaxTokens      int            `mapstructure:"max_tokens" yaml:"max_tokens" json:"max_tokens"`
	RequestTimeout time.Duration  `mapstructure:"request_timeout" yaml:"request_timeout" json:"request_timeout"`
	OpenAI         EndpointConfig `mapstructure:"openai" yaml:"openai" json:"openai"`
	Ollama         EndpointConfig `mapstructure:"ollama" yaml:"ollama" json:"ollama"`
}

// EndpointConfig describes one OpenAI-compatible chat completions endpoint.
type EndpointConfig struct {
	APIKey  string `mapstructure:"api_key" yaml:"api_key" json:"api_key"`
	BaseURL string `mapstructure:"base_url" yaml:"base_url" json:"base_url"`
	Model   string `mapstructure:"model" yaml:"model" json:"model"`
}

type RetryConfig struct {
	MaxAttempts  int           `mapstructure:"max_attempts" yaml:"max_attempts" json:"max_attempts"`
	InitialDelay time.Duration `mapstructure:"initial_delay" yaml:"initial_delay" json:"initial_delay"`
	Factor       float64       `mapstructure:"factor" yaml:"factor" json:"factor"`
	MaxDelay     time.Duration `mapstructure:"max_delay" yaml:"max_delay" json:"max_delay"`
}

type AgentConfig struct {
	MaxTurns      int           `mapstructure:"max_turns" yaml:"max_turns" json:"max_turns"`
	RatePerMinute float64       `mapstructure:"rate_per_minute" yaml:"rate_per_minute" json:"rate_per_minute"`
	Burst         int           `mapstructure:"burst" yaml:"burst" json:"burst"`
	RunTimeout    time.Duration `mapstructure:"run_timeout" yaml:"run_timeout" json:"run_timeout"`
}

type JournalConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	DBPath  string `mapstructure:"db_path" yaml:"db_path" json:"db_path"`
}

type MetricsConfig struct {
	Textfile string `mapstructure:"textfile" yaml:"textfile" json:"textfile"`
}

type LogConfig struct {
	Level      string `mapstructure:"level" yaml:"level" json:"level"`
	Format     string `mapstructure:"format" yaml:"format" json:"format"` // console | json
	File       string `mapstructure:"file" yaml:"file" json:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups" json:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days" json:"max_age_days"`
	Compress   bool   `mapstructure:"compress" yaml:"compress" json:"compress"`
}

// DefaultConfigDir returns the directory searched for dnswatch.yaml when no
// explicit path is given.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".dnswatch")
}

// Load builds the configuration from defaults, an optional YAML file and
// the environment, in increasing order of precedence, and validates it.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read is Load without validation, for commands that only need part of
// the configuration.
func Read(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	bindEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("dnswatch")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(DefaultConfigDir())
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Target.Workspace = expandHome(cfg.Target.Workspace)
	cfg.Journal.DBPath = expandHome(cfg.Journal.DBPath)
	return &cfg, nil
}

// Save writes cfg as YAML. The file may carry secrets, so a new file is
// only readable by its owner.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := fsutil.WriteFileAtomic(path, data, 0o600); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

// legacyEnv maps the plain variable names used by existing deployments
// onto config keys. Prefixed names always win over these.
var legacyEnv = map[string]string{
	"target.hostname":          "TARGET_HOSTNAME",
	"target.values_file":       "VALUES_FILE",
	"target.yaml_key":          "YAML_KEY",
	"target.branch":            "GIT_BRANCH",
	"state.file":               "STATE_FILE",
	"stabilize.queries":        "STABILIZE_QUERIES",
	"stabilize.delay_sec":      "STABILIZE_DELAY_SEC",
	"notify.webhook_url":       "TEAMS_WEBHOOK_URL",
	"provider.openai.api_key":  "OPENAI_API_KEY",
	"provider.openai.model":    "OPENAI_MODEL",
	"provider.openai.base_url": "OPENAI_BASE_URL",
	"provider.ollama.base_url": "OLLAMA_BASE_URL",
	"provider.ollama.model":    "OLLAMA_MODEL",
	"publish.token":            "GIT_TOKEN",
}

func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, name := range legacyEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		_ = v.BindEnv(key, prefixed, name)
	}
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

// Validate checks that the config has usable values and reports every
// problem at once.
func Validate(cfg *Config) error {
	var errs []string

	if strings.TrimSpace(cfg.Target.Hostname) == "" {
		errs = append(errs, "target.hostname is required")
	}
	if cfg.Target.ValuesFile == "" {
		errs = append(errs, "target.values_file is required")
	}
	if cfg.Target.Branch == "" {
		errs = append(errs, "target.branch is required")
	}
	if cfg.Stabilize.Queries < 1 || cfg.Stabilize.Queries > 50 {
		errs = append(errs, "stabilize.queries must be between 1 and 50")
	}
	if cfg.Stabilize.DelaySec < 0 {
		errs = append(errs, "stabilize.delay_sec must be >= 0")
	}
	if cfg.State.File == "" {
		errs = append(errs, "state.file is required")
	}

	switch cfg.Publish.Backend {
	case "exec", "gogit":
	default:
		errs = append(errs, "publish.backend must be one of: exec, gogit")
	}
	switch cfg.Notify.Policy {
	case "always", "on_change":
	default:
		errs = append(errs, "notify.policy must be one of: always, on_change")
	}

	known := map[string]bool{"openai": true, "ollama": true}
	if !known[cfg.Provider.Default] {
		errs = append(errs, fmt.Sprintf("provider.default references unknown provider: %s", cfg.Provider.Default))
	}
	for _, name := range cfg.Provider.Failover {
		if !known[name] {
			errs = append(errs, fmt.Sprintf("provider.failover references unknown provider: %s", name))
		}
	}
	if cfg.Provider.Temperature < 0 || cfg.Provider.Temperature > 2 {
		errs = append(errs, "provider.temperature must be between 0 and 2")
	}

	if cfg.Retry.MaxAttempts < 1 {
		errs = append(errs, "retry.max_attempts must be >= 1")
	}
	if cfg.Retry.InitialDelay <= 0 {
		errs = append(errs, "retry.initial_delay must be > 0")
	}
	if cfg.Retry.Factor <= 1 {
		errs = append(errs, "retry.factor must be > 1")
	}
	if cfg.Retry.MaxDelay < cfg.Retry.InitialDelay {
		errs = append(errs, "retry.max_delay must be >= retry.initial_delay")
	}

	if cfg.Agent.MaxTurns < 1 || cfg.Agent.MaxTurns > 200 {
		errs = append(errs, "agent.max_turns must be between 1 and 200")
	}
	if cfg.Agent.RatePerMinute <= 0 {
		errs = append(errs, "agent.rate_per_minute must be > 0")
	}

	if cfg.Journal.Enabled && cfg.Journal.DBPath == "" {
		errs = append(errs, "journal.db_path is required when the journal is enabled")
	}

	switch cfg.Log.Format {
	case "console", "json":
	default:
		errs = append(errs, "log.format must be one of: console, json")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
