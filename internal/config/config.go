// Package config handles gitbot configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order used when no
// explicit path is given: ./config.yaml, ~/.config/gitbot/config.yaml,
// /etc/gitbot/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "gitbot", "config.yaml"))
	}

	paths = append(paths, "/etc/gitbot/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise the first existing entry of DefaultSearchPaths is returned.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all gitbot configuration.
type Config struct {
	Listen       ListenConfig       `yaml:"listen"`
	Slack        SlackConfig        `yaml:"slack"`
	OpenAI       OpenAIConfig       `yaml:"openai"`
	Assistant    AssistantConfig    `yaml:"assistant"`
	GitHub       GitHubConfig       `yaml:"github"`
	Registry     RegistryConfig     `yaml:"registry"`
	Parameters   ParametersConfig   `yaml:"parameters"`
	Conversation ConversationConfig `yaml:"conversation"`
	Tools        ToolsConfig        `yaml:"tools"`
	MQTT         MQTTConfig         `yaml:"mqtt"`
	DataDir      string             `yaml:"data_dir"`
	LogLevel     string             `yaml:"log_level"`
	LogFormat    string             `yaml:"log_format"` // text or json
}

// ListenConfig defines the HTTP server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// SlackConfig defines how gitbot talks to Slack. The bot token itself
// is resolved through the parameter sources under the name "botToken".
type SlackConfig struct {
	// APIURL overrides https://slack.com/api/ (tests, proxies).
	APIURL string `yaml:"api_url"`

	// EventsPath is where the Events API posts callbacks.
	EventsPath string `yaml:"events_path"`

	// AppToken (xapp-...) enables the Socket Mode listener.
	AppToken string `yaml:"app_token"`
}

// OpenAIConfig defines the Assistants API connection. The API key is
// resolved through the parameter sources under "openai/apiKey".
type OpenAIConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// AssistantConfig controls how the assistant persona is resolved and,
// when it has to be created, what it is created with.
type AssistantConfig struct {
	// Name, Instructions and Model seed the static parameter source
	// under "name", "instruction" and "model". Values from the
	// parameter extension take precedence.
	Name         string `yaml:"name"`
	Instructions string `yaml:"instructions"`
	Model        string `yaml:"model"`

	// FallbackPolicy is "not_found" (create only when the stored id is
	// missing or unknown to the backend) or "any_error" (create on any
	// lookup failure).
	FallbackPolicy string `yaml:"fallback_policy"`

	// CodeInterpreter adds the code_interpreter tool on creation.
	CodeInterpreter bool `yaml:"code_interpreter"`
}

// GitHubConfig selects the GitHub endpoint and credential mode.
type GitHubConfig struct {
	// BaseURL is the API root. Empty means https://api.github.com/.
	// GitHub Enterprise installs use https://host/api/v3/.
	BaseURL string `yaml:"base_url"`

	// Auth is "app" (githubApp/appId + githubApp/privateKey parameters,
	// installation resolved per repository) or "token" (github/token).
	Auth string `yaml:"auth"`
}

// RegistryConfig selects the thread registry backend.
type RegistryConfig struct {
	// Driver is "sqlite", "postgres" or "bolt".
	Driver string `yaml:"driver"`

	// DSN is the PostgreSQL connection string.
	DSN string `yaml:"dsn"`

	// Path is the SQLite or bbolt file. Relative paths live under DataDir.
	Path string `yaml:"path"`

	// TTL is how long a chat thread stays bound to its AI thread.
	TTL time.Duration `yaml:"ttl"`
}

// ParametersConfig configures named parameter resolution.
type ParametersConfig struct {
	// Prefix is prepended to every parameter name, e.g. "/gitbot".
	Prefix string `yaml:"prefix"`

	// Values are static parameters keyed by unprefixed name
	// ("botToken", "openai/apiKey", ...). ${ENV} expansion applies.
	Values map[string]string `yaml:"values"`

	// Extension, when URL is set, reads parameters over HTTP from a
	// parameters-and-secrets extension endpoint.
	Extension ExtensionConfig `yaml:"extension"`

	// StatePath is the SQLite file holding writable parameters such as
	// the created assistant id. Relative paths live under DataDir.
	StatePath string `yaml:"state_path"`
}

// ExtensionConfig describes the HTTP parameter extension.
type ExtensionConfig struct {
	URL         string `yaml:"url"`
	Token       string `yaml:"token"`
	TokenHeader string `yaml:"token_header"`
}

// ConversationConfig tunes a single conversation turn.
type ConversationConfig struct {
	PollInterval        time.Duration `yaml:"poll_interval"`
	ThreadReplyLimit    int           `yaml:"thread_reply_limit"`
	ChannelHistoryLimit int           `yaml:"channel_history_limit"`
	HandleTimeout       time.Duration `yaml:"handle_timeout"`
	Apology             string        `yaml:"apology"`
}

// ToolsConfig tunes tool execution.
type ToolsConfig struct {
	MaxConcurrency int `yaml:"max_concurrency"`
}

// MQTTConfig enables forwarding of turn events to an MQTT broker.
type MQTTConfig struct {
	Broker    string `yaml:"broker"` // e.g. mqtt://localhost:1883
	ClientID  string `yaml:"client_id"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	BaseTopic string `yaml:"base_topic"`
	KeepAlive int    `yaml:"keep_alive"` // seconds
}

// Configured reports whether MQTT forwarding is enabled.
func (m MQTTConfig) Configured() bool {
	return m.Broker != ""
}

// Load reads configuration from a YAML file, expanding ${VAR}
// references from the environment, then applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()

	return cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills in unset fields.
func (c *Config) ApplyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8080
	}
	if c.Slack.EventsPath == "" {
		c.Slack.EventsPath = "/slack/events"
	}
	if c.OpenAI.Timeout == 0 {
		c.OpenAI.Timeout = 60 * time.Second
	}
	if c.Assistant.FallbackPolicy == "" {
		c.Assistant.FallbackPolicy = "not_found"
	}
	if c.GitHub.Auth == "" {
		c.GitHub.Auth = "app"
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.Registry.Driver == "" {
		c.Registry.Driver = "sqlite"
	}
	if c.Registry.Path == "" {
		switch c.Registry.Driver {
		case "bolt":
			c.Registry.Path = "registry.bolt"
		default:
			c.Registry.Path = "registry.db"
		}
	}
	if c.Registry.TTL == 0 {
		c.Registry.TTL = 3 * time.Hour
	}
	if c.Parameters.StatePath == "" {
		c.Parameters.StatePath = "state.db"
	}
	if c.Parameters.Extension.TokenHeader == "" {
		c.Parameters.Extension.TokenHeader = "X-Aws-Parameters-Secrets-Token"
	}
	if c.Conversation.PollInterval == 0 {
		c.Conversation.PollInterval = time.Second
	}
	if c.Conversation.ThreadReplyLimit == 0 {
		c.Conversation.ThreadReplyLimit = 10
	}
	if c.Conversation.ChannelHistoryLimit == 0 {
		c.Conversation.ChannelHistoryLimit = 3
	}
	if c.Conversation.HandleTimeout == 0 {
		c.Conversation.HandleTimeout = 5 * time.Minute
	}
	if c.Conversation.Apology == "" {
		c.Conversation.Apology = "Sorry, something went wrong while handling your request. Please try again."
	}
	if c.Tools.MaxConcurrency == 0 {
		c.Tools.MaxConcurrency = 8
	}
	if c.MQTT.BaseTopic == "" {
		c.MQTT.BaseTopic = "gitbot"
	}
	if c.MQTT.KeepAlive == 0 {
		c.MQTT.KeepAlive = 60
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log_format %q: must be text or json", c.LogFormat)
	}

	switch c.Assistant.FallbackPolicy {
	case "not_found", "any_error":
	default:
		return fmt.Errorf("assistant.fallback_policy %q: must be not_found or any_error", c.Assistant.FallbackPolicy)
	}

	switch c.GitHub.Auth {
	case "app", "token":
	default:
		return fmt.Errorf("github.auth %q: must be app or token", c.GitHub.Auth)
	}

	switch c.Registry.Driver {
	case "sqlite", "bolt":
	case "postgres":
		if c.Registry.DSN == "" {
			return fmt.Errorf("registry.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("registry.driver %q: must be sqlite, postgres or bolt", c.Registry.Driver)
	}
	if c.Registry.TTL < 0 {
		return fmt.Errorf("registry.ttl must not be negative")
	}

	if c.Conversation.PollInterval < 0 {
		return fmt.Errorf("conversation.poll_interval must not be negative")
	}
	if c.Conversation.ThreadReplyLimit < 0 || c.Conversation.ChannelHistoryLimit < 0 {
		return fmt.Errorf("conversation history limits must not be negative")
	}
	if c.Tools.MaxConcurrency < 0 {
		return fmt.Errorf("tools.max_concurrency must not be negative")
	}

	if c.Slack.AppToken != "" && !strings.HasPrefix(c.Slack.AppToken, "xapp-") {
		return fmt.Errorf("slack.app_token must be an app-level token (xapp-...)")
	}
	if !strings.HasPrefix(c.Slack.EventsPath, "/") {
		return fmt.Errorf("slack.events_path %q must start with /", c.Slack.EventsPath)
	}

	return nil
}

// DataPath resolves p against DataDir unless it is absolute.
func (c *Config) DataPath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.DataDir, p)
}
