package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/eqho10/eqho-aios/internal/agent"
	"gopkg.in/yaml.v3"
)

// DefaultPath is where the CLI looks for the project configuration.
const DefaultPath = ".eqho-aios/config.yaml"

// Backend providers.
const (
	ProviderAnthropic = "anthropic"
	ProviderClaudeCLI = "claude-cli"
)

var (
	// ErrInvalid wraps every validation failure.
	ErrInvalid = errors.New("invalid config")
	// ErrMissingCredential is returned when a required secret is not set.
	ErrMissingCredential = errors.New("missing credential")
)

// Config is the top-level configuration structure.
type Config struct {
	Project       ProjectConfig              `yaml:"project"`
	LLM           LLMConfig                  `yaml:"llm"`
	Agents        map[agent.Role]AgentConfig `yaml:"agents"`
	Orchestration OrchestrationConfig        `yaml:"orchestration"`
	Integrations  IntegrationsConfig         `yaml:"integrations"`
	History       HistoryConfig              `yaml:"history"`
	Server        ServerConfig               `yaml:"server"`
	Log           LogConfig                  `yaml:"log"`
	Paths         PathsConfig                `yaml:"paths"`

	// Root is the directory relative paths resolve against. Empty means
	// the working directory.
	Root string `yaml:"-"`
	// Env resolves credential environment variables. Nil means os.Getenv.
	Env func(string) string `yaml:"-"`
}

type ProjectConfig struct {
	Name        string `yaml:"name"`
	Language    string `yaml:"language"`
	Framework   string `yaml:"framework,omitempty"`
	Description string `yaml:"description,omitempty"`
}

type LLMConfig struct {
	Provider    string        `yaml:"provider"`
	Model       string        `yaml:"model"`
	APIKeyEnv   string        `yaml:"api_key_env"`
	Endpoint    string        `yaml:"endpoint,omitempty"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
	CLI         CLIConfig     `yaml:"cli"`
}

type CLIConfig struct {
	Command   string   `yaml:"command"`
	Args      []string `yaml:"args"`
	ModelFlag string   `yaml:"model_flag"`
}

type AgentConfig struct {
	Enabled bool   `yaml:"enabled"`
	Model   string `yaml:"model,omitempty"`
}

// UnmarshalYAML treats an agent entry without an explicit enabled flag
// as enabled.
func (a *AgentConfig) UnmarshalYAML(node *yaml.Node) error {
	type plain AgentConfig
	p := plain{Enabled: true}
	if err := node.Decode(&p); err != nil {
		return err
	}
	*a = AgentConfig(p)
	return nil
}

type OrchestrationConfig struct {
	PlanningAgents    []agent.Role `yaml:"planning_agents"`
	DevelopmentAgents []agent.Role `yaml:"development_agents"`
	AutoApprove       bool         `yaml:"auto_approve"`
	ContextWindow     int          `yaml:"context_window"`
	MaxQARetries      int          `yaml:"max_qa_retries"`
}

type IntegrationsConfig struct {
	Timeout    time.Duration    `yaml:"timeout"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Slack      SlackConfig      `yaml:"slack"`
	Discord    DiscordConfig    `yaml:"discord"`
	N8n        N8nConfig        `yaml:"n8n"`
	Redis      RedisConfig      `yaml:"redis"`
	EqhoMemory EqhoMemoryConfig `yaml:"eqhomemory"`
}

type TelegramConfig struct {
	Enabled     bool   `yaml:"enabled"`
	BotTokenEnv string `yaml:"bot_token_env"`
	ChatID      string `yaml:"chat_id"`
	ThreadID    int    `yaml:"thread_id,omitempty"`
}

type SlackConfig struct {
	Enabled     bool   `yaml:"enabled"`
	BotTokenEnv string `yaml:"bot_token_env"`
	Channel     string `yaml:"channel"`
}

type DiscordConfig struct {
	Enabled     bool   `yaml:"enabled"`
	BotTokenEnv string `yaml:"bot_token_env"`
	ChannelID   string `yaml:"channel_id"`
}

type N8nConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

type RedisConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Stream  string `yaml:"stream"`
}

type EqhoMemoryConfig struct {
	Enabled   bool   `yaml:"enabled"`
	ServerURL string `yaml:"server_url"`
	Limit     int    `yaml:"limit"`
}

type HistoryConfig struct {
	Driver string `yaml:"driver"` // sqlite|postgres|none
	DSN    string `yaml:"dsn,omitempty"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console|json
	File   string `yaml:"file,omitempty"`
}

type PathsConfig struct {
	Stories string `yaml:"stories"`
	Context string `yaml:"context"`
	History string `yaml:"history"`
	Agents  string `yaml:"agents"`
}

// Default returns a configuration with every field set to its default.
func Default() *Config {
	agents := make(map[agent.Role]AgentConfig)
	for _, r := range agent.Roles() {
		agents[r] = AgentConfig{Enabled: true}
	}
	return &Config{
		Project: ProjectConfig{Name: "project", Language: "en"},
		LLM: LLMConfig{
			Provider:    ProviderClaudeCLI,
			Model:       "sonnet",
			APIKeyEnv:   "ANTHROPIC_API_KEY",
			MaxTokens:   8192,
			Temperature: 0.3,
			Timeout:     5 * time.Minute,
			CLI: CLIConfig{
				Command:   "claude",
				Args:      []string{"-p", "--output-format", "text"},
				ModelFlag: "--model",
			},
		},
		Agents: agents,
		Orchestration: OrchestrationConfig{
			PlanningAgents:    []agent.Role{agent.Analyst, agent.Architect, agent.ScrumMaster},
			DevelopmentAgents: []agent.Role{agent.ScrumMaster, agent.Developer, agent.QA},
			ContextWindow:     3,
			MaxQARetries:      2,
		},
		Integrations: IntegrationsConfig{
			Timeout:    10 * time.Second,
			Telegram:   TelegramConfig{BotTokenEnv: "TELEGRAM_BOT_TOKEN"},
			Slack:      SlackConfig{BotTokenEnv: "SLACK_BOT_TOKEN"},
			Discord:    DiscordConfig{BotTokenEnv: "DISCORD_BOT_TOKEN"},
			Redis:      RedisConfig{URL: "redis://localhost:6379/0", Stream: "eqho:pipeline:events"},
			EqhoMemory: EqhoMemoryConfig{Limit: 5},
		},
		History: HistoryConfig{Driver: "sqlite"},
		Server:  ServerConfig{Addr: ":8787"},
		Log:     LogConfig{Level: "warn", Format: "console"},
		Paths: PathsConfig{
			Stories: "docs/stories",
			Context: ".eqho-aios/context",
			History: ".eqho-aios/history",
			Agents:  ".eqho-aios/agents",
		},
	}
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a YAML config file, substitutes environment variable
// references and applies defaults for everything the file leaves out.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data, os.Getenv)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML config data. env is used both for ${VAR}
// substitution and later credential lookups.
func Parse(data []byte, env func(string) string) (*Config, error) {
	if env == nil {
		env = os.Getenv
	}
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		if v := env(parts[1]); v != "" {
			return v
		}
		return parts[2]
	})

	cfg := Default()
	if err := yaml.Unmarshal([]byte(resolved), cfg); err != nil {
		return nil, err
	}
	cfg.Env = env
	return cfg, nil
}

// Validate checks the values the pipeline relies on.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	switch c.LLM.Provider {
	case ProviderAnthropic, ProviderClaudeCLI:
	default:
		bad("llm.provider %q must be %q or %q", c.LLM.Provider, ProviderAnthropic, ProviderClaudeCLI)
	}
	if strings.TrimSpace(c.LLM.Model) == "" {
		bad("llm.model is required")
	}
	if c.LLM.MaxTokens <= 0 {
		bad("llm.max_tokens must be positive")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 1 {
		bad("llm.temperature must be between 0 and 1")
	}
	if c.LLM.Provider == ProviderClaudeCLI && strings.TrimSpace(c.LLM.CLI.Command) == "" {
		bad("llm.cli.command is required for %s", ProviderClaudeCLI)
	}
	for r := range c.Agents {
		if !r.Valid() {
			bad("agents: unknown agent %q", r)
		}
	}
	for _, r := range c.Orchestration.PlanningAgents {
		if !r.Valid() {
			bad("orchestration.planning_agents: unknown agent %q", r)
		}
	}
	for _, r := range c.Orchestration.DevelopmentAgents {
		if !r.Valid() {
			bad("orchestration.development_agents: unknown agent %q", r)
		}
	}
	if c.Orchestration.ContextWindow < 0 {
		bad("orchestration.context_window must not be negative")
	}
	if c.Orchestration.MaxQARetries < 0 {
		bad("orchestration.max_qa_retries must not be negative")
	}
	switch c.History.Driver {
	case "sqlite", "none", "":
	case "postgres":
		if c.History.DSN == "" {
			bad("history.dsn is required for the postgres driver")
		}
	default:
		bad("history.driver %q must be sqlite, postgres or none", c.History.Driver)
	}
	if c.Integrations.N8n.Enabled && c.Integrations.N8n.WebhookURL == "" {
		bad("integrations.n8n.webhook_url is required when n8n is enabled")
	}
	if c.Integrations.EqhoMemory.Enabled && c.Integrations.EqhoMemory.ServerURL == "" {
		bad("integrations.eqhomemory.server_url is required when eqhomemory is enabled")
	}
	return errors.Join(errs...)
}

// Getenv looks up an environment variable through the configured Env.
func (c *Config) Getenv(name string) string {
	if c.Env == nil {
		return os.Getenv(name)
	}
	return c.Env(name)
}

// Secret returns the value of the environment variable named envName, or
// ErrMissingCredential if it is unset.
func (c *Config) Secret(envName string) (string, error) {
	if envName == "" {
		return "", fmt.Errorf("%w: no environment variable configured", ErrMissingCredential)
	}
	v := strings.TrimSpace(c.Getenv(envName))
	if v == "" {
		return "", fmt.Errorf("%w: environment variable %s is not set (export %s=...)", ErrMissingCredential, envName, envName)
	}
	return v, nil
}

// AgentEnabled reports whether role may run. Roles missing from the
// agents map are enabled.
func (c *Config) AgentEnabled(role agent.Role) bool {
	ac, ok := c.Agents[role]
	return !ok || ac.Enabled
}

// AgentModel returns the per-agent model override or the global model.
func (c *Config) AgentModel(role agent.Role) string {
	if ac, ok := c.Agents[role]; ok && ac.Model != "" {
		return ac.Model
	}
	return c.LLM.Model
}

// Path resolves a configured path against Root.
func (c *Config) Path(p string, elem ...string) string {
	full := filepath.Join(append([]string{p}, elem...)...)
	if filepath.IsAbs(full) || c.Root == "" {
		return full
	}
	return filepath.Join(c.Root, full)
}

// Marshal renders the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
