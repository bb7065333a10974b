// Package config provides runtime configuration for the oxy demo
// binary: defaults, then a TOML file, then environment variables (env
// wins).
package config

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
)

// Duration is a time.Duration that reads "30s"/"1m" text, both from
// TOML values and from environment variables.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds the wiring for one oxy process. The envconfig tags
// carry no defaults on purpose: an unset variable leaves the TOML or
// built-in value alone.
type Config struct {
	Name string `toml:"name" envconfig:"OXY_NAME"`

	LLM       LLMConfig       `toml:"llm"`
	Store     StoreConfig     `toml:"store"`
	Transport TransportConfig `toml:"transport"`
	MCP       MCPConfig       `toml:"mcp"`
	Observer  ObserverConfig  `toml:"observer"`

	LogLevel string `toml:"log_level" envconfig:"OXY_LOG_LEVEL"`
}

// LLMConfig selects the chat backend. Permits bounds concurrent
// in-flight LLM calls; zero means unbounded.
type LLMConfig struct {
	Model     string   `toml:"model" envconfig:"OXY_LLM_MODEL"`
	BaseURL   string   `toml:"base_url" envconfig:"OXY_LLM_BASE_URL"`
	APIKey    string   `toml:"api_key" envconfig:"OXY_LLM_API_KEY"`
	Timeout   Duration `toml:"timeout" envconfig:"OXY_LLM_TIMEOUT"`
	Retries   int      `toml:"retries" envconfig:"OXY_LLM_RETRIES"`
	Permits   int      `toml:"permits" envconfig:"OXY_LLM_PERMITS"`
	Streaming bool     `toml:"streaming" envconfig:"OXY_LLM_STREAMING"`
}

// StoreConfig selects the trace/history/message store backend.
type StoreConfig struct {
	// Driver is "memory", "sqlite", or "postgres".
	Driver string `toml:"driver" envconfig:"OXY_STORE_DRIVER"`
	Path   string `toml:"path" envconfig:"OXY_STORE_PATH"`
	DSN    string `toml:"dsn" envconfig:"OXY_STORE_DSN"`
}

// TransportConfig tunes remote-agent connections. When Endpoint is
// set the binary registers a remote agent reachable at that URL.
type TransportConfig struct {
	Endpoint    string   `toml:"endpoint" envconfig:"OXY_TRANSPORT_ENDPOINT"`
	TopologyURL string   `toml:"topology_url" envconfig:"OXY_TRANSPORT_TOPOLOGY_URL"`
	MaxRetries  int      `toml:"max_retries" envconfig:"OXY_TRANSPORT_MAX_RETRIES"`
	RetryDelay  Duration `toml:"retry_delay" envconfig:"OXY_TRANSPORT_RETRY_DELAY"`
	StreamWait  Duration `toml:"stream_wait" envconfig:"OXY_TRANSPORT_STREAM_WAIT"`
}

// MCPConfig points the binary at one stdio tool server. When Command
// is set the process is spawned at startup and every tool it declares
// is registered.
type MCPConfig struct {
	Command string   `toml:"command" envconfig:"OXY_MCP_COMMAND"`
	Args    []string `toml:"args" envconfig:"OXY_MCP_ARGS"`
}

// ObserverConfig enables OTEL export.
type ObserverConfig struct {
	Enabled bool   `toml:"enabled" envconfig:"OXY_OBSERVER_ENABLED"`
	Service string `toml:"service" envconfig:"OXY_OBSERVER_SERVICE"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		Name: "oxy",
		LLM: LLMConfig{
			Model:   "gpt-4o-mini",
			BaseURL: "https://api.openai.com/v1",
			Timeout: Duration(300 * time.Second),
			Retries: 2,
		},
		Store: StoreConfig{
			Driver: "memory",
			Path:   "oxy.db",
		},
		Transport: TransportConfig{
			MaxRetries: 1,
			RetryDelay: Duration(time.Second),
			StreamWait: Duration(300 * time.Second),
		},
		LogLevel: "info",
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
// A missing file is not an error; defaults and env still apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = "oxy.toml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	}

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
