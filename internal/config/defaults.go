package config

import (
	"time"

	"github.com/spf13/viper"
)

// SetDefaults registers every default value on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("target.hostname", "app-fomdev1-biabkafka02.biab.au.ing.net")
	v.SetDefault("target.values_file", "deploy/helm/values.yaml")
	v.SetDefault("target.yaml_key", "kafka.brokerIP")
	v.SetDefault("target.branch", "main")
	v.SetDefault("target.workspace", ".")

	v.SetDefault("stabilize.queries", 3)
	v.SetDefault("stabilize.delay_sec", 5)
	v.SetDefault("stabilize.lookup_timeout", 5*time.Second)
	v.SetDefault("stabilize.nameserver", "")
	v.SetDefault("stabilize.nslookup_path", "nslookup")

	v.SetDefault("state.file", ".last_ip.txt")

	v.SetDefault("publish.backend", "exec")
	v.SetDefault("publish.remote", "origin")
	v.SetDefault("publish.git_binary", "git")
	v.SetDefault("publish.author_name", "dnswatch")
	v.SetDefault("publish.author_email", "dnswatch@localhost")
	v.SetDefault("publish.token", "")
	v.SetDefault("publish.timeout", 2*time.Minute)

	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("notify.timeout", 10*time.Second)
	v.SetDefault("notify.theme_color", "0076D7")
	v.SetDefault("notify.policy", "always")

	v.SetDefault("provider.default", "openai")
	v.SetDefault("provider.failover", []string{})
	v.SetDefault("provider.temperature", 0.0)
	v.SetDefault("provider.max_tokens", 1024)
	v.SetDefault("provider.request_timeout", 60*time.Second)
	v.SetDefault("provider.openai.api_key", "")
	v.SetDefault("provider.openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("provider.openai.model", "gpt-4o")
	v.SetDefault("provider.ollama.api_key", "ollama")
	v.SetDefault("provider.ollama.base_url", "http://localhost:11434/v1")
	v.SetDefault("provider.ollama.model", "llama3.2")

	v.SetDefault("retry.max_attempts", 5)
	v.SetDefault("retry.initial_delay", time.Second)
	v.SetDefault("retry.factor", 2.0)
	v.SetDefault("retry.max_delay", 30*time.Second)

	v.SetDefault("agent.max_turns", 12)
	v.SetDefault("agent.rate_per_minute", 30.0)
	v.SetDefault("agent.burst", 5)
	v.SetDefault("agent.run_timeout", 15*time.Minute)

	v.SetDefault("journal.enabled", false)
	v.SetDefault("journal.db_path", "~/.dnswatch/journal.db")

	v.SetDefault("metrics.textfile", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("log.compress", false)
}

// Defaults returns the configuration used when nothing is overridden.
func Defaults() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic("config: defaults do not decode: " + err.Error())
	}
	return &cfg
}
