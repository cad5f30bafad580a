// Package config loads service configuration from a YAML file with
// environment-variable overrides for secrets.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	AI        AIConfig        `yaml:"ai"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	Hosting   HostingConfig   `yaml:"hosting"`
	Notify    NotifyConfig    `yaml:"notify"`
}

// ServerConfig configures the intake HTTP server.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// StoreConfig configures the issue record store.
type StoreConfig struct {
	// Path is the sqlite database file. Empty selects the in-memory store.
	Path string `yaml:"path"`
}

// AIConfig configures the reasoning collaborator client.
type AIConfig struct {
	// APIKey is the Anthropic API key. If empty, ANTHROPIC_API_KEY is used.
	APIKey string `yaml:"api_key"`
	// Model overrides the default model for all calls.
	Model string `yaml:"model"`
	// Timeout bounds each individual API call.
	Timeout time.Duration `yaml:"timeout"`
	// MaxConcurrentCalls caps in-flight API calls across all issues.
	MaxConcurrentCalls int `yaml:"max_concurrent_calls"`
	// RequestsPerMinute paces outbound API calls. 0 disables pacing.
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

// WorkspaceConfig configures ephemeral per-issue workspaces.
type WorkspaceConfig struct {
	// Root is the directory under which workspace directories are created.
	Root string `yaml:"root"`
	// CloneTimeout bounds the shallow clone of the target repository.
	CloneTimeout time.Duration `yaml:"clone_timeout"`
	// InstallTimeout bounds the dependency install command.
	InstallTimeout time.Duration `yaml:"install_timeout"`
	// ValidateTimeout bounds the advisory test/build command.
	ValidateTimeout time.Duration `yaml:"validate_timeout"`
}

// HostingConfig configures the change-request collaborator.
type HostingConfig struct {
	// BaseBranch is the branch change requests are opened against.
	BaseBranch string `yaml:"base_branch"`
	// AutoMerge requests automatic merge for automated fixes.
	AutoMerge bool `yaml:"auto_merge"`
	// CommandTimeout bounds each git/gh invocation.
	CommandTimeout time.Duration `yaml:"command_timeout"`
}

// NotifyConfig configures the manual-review notification collaborator.
type NotifyConfig struct {
	// Mode selects the notifier: "log" or "smtp".
	Mode string `yaml:"mode"`
	// Recipient is the fixed escalation recipient.
	Recipient string `yaml:"recipient"`
	// SMTPAddr is host:port of the SMTP relay (smtp mode only).
	SMTPAddr string `yaml:"smtp_addr"`
	// From is the sender address (smtp mode only).
	From string `yaml:"from"`
}

// Default returns the built-in configuration used when no file is given.
func Default() Config {
	return Config{
		Server: ServerConfig{Addr: ":8080"},
		Store:  StoreConfig{Path: "patchlane.db"},
		AI: AIConfig{
			Timeout:            120 * time.Second,
			MaxConcurrentCalls: 3,
			RequestsPerMinute:  30,
		},
		Workspace: WorkspaceConfig{
			Root:            os.TempDir(),
			CloneTimeout:    2 * time.Minute,
			InstallTimeout:  5 * time.Minute,
			ValidateTimeout: 5 * time.Minute,
		},
		Hosting: HostingConfig{
			BaseBranch:     "main",
			AutoMerge:      true,
			CommandTimeout: 60 * time.Second,
		},
		Notify: NotifyConfig{Mode: "log", Recipient: "oncall@patchlane.dev"},
	}
}

// Load reads configuration from path, layered over Default. An empty
// path returns the defaults. ANTHROPIC_API_KEY always overrides the
// file so keys never have to live on disk.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		cfg.AI.APIKey = key
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Workspace.Root == "" {
		return fmt.Errorf("workspace.root is required")
	}
	if c.AI.Timeout <= 0 {
		return fmt.Errorf("ai.timeout must be positive")
	}
	switch c.Notify.Mode {
	case "log", "smtp":
	default:
		return fmt.Errorf("notify.mode must be \"log\" or \"smtp\" (got %q)", c.Notify.Mode)
	}
	if c.Notify.Mode == "smtp" && c.Notify.SMTPAddr == "" {
		return fmt.Errorf("notify.smtp_addr is required in smtp mode")
	}
	return nil
}
