// Package config handles toolhost configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/armatrix/toolhost/llm"
	"github.com/armatrix/toolhost/mcp"
	"github.com/armatrix/toolhost/risk"
)

// DefaultSearchPaths returns the config file search order. An explicit
// path (from the -config flag) is checked first. Then: ./toolhost.yaml,
// ~/.config/toolhost/config.yaml, /etc/toolhost/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"toolhost.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "toolhost", "config.yaml"))
	}
	paths = append(paths, "/etc/toolhost/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must
// exist. Otherwise the search paths are tried in order.
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

// Config holds all toolhost configuration.
type Config struct {
	Listen   ListenConfig                `yaml:"listen"`
	LogLevel string                      `yaml:"log_level"`
	Servers  map[string]mcp.ServerConfig `yaml:"servers"`
	LLM      LLMConfig                   `yaml:"llm"`
	Risk     RiskConfig                  `yaml:"risk"`
	Audit    AuditConfig                 `yaml:"audit"`
	// SessionsDir is where session transcripts are persisted as JSON;
	// empty keeps sessions in memory only.
	SessionsDir string `yaml:"sessions_dir"`
	// MaxIterations bounds the reasoning-action loop per run.
	MaxIterations int `yaml:"max_iterations"`
	// MaxBudgetUSD is the cost ceiling across runs; 0 means unlimited.
	MaxBudgetUSD float64 `yaml:"max_budget_usd"`
}

// ListenConfig defines the HTTP API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// Addr returns the address:port to bind.
func (l ListenConfig) Addr() string {
	return fmt.Sprintf("%s:%d", l.Address, l.Port)
}

// LLMConfig selects the completion provider and model.
type LLMConfig struct {
	// Provider is "anthropic" or "openai".
	Provider string `yaml:"provider"`
	APIKey   string `yaml:"api_key"`
	// BaseURL overrides the provider endpoint, for compatible servers.
	BaseURL string     `yaml:"base_url"`
	Model   llm.Config `yaml:",inline"`
}

// RiskConfig is the confirmation policy, with the timeout in seconds for
// readable config files.
type RiskConfig struct {
	ConfirmLevels          []string `yaml:"confirm_levels"`
	AutoApprove            []string `yaml:"auto_approve"`
	ForceConfirm           []string `yaml:"force_confirm"`
	MaxAutoApproveArgBytes int      `yaml:"max_auto_approve_arg_bytes"`
	TimeoutSec             int      `yaml:"timeout_sec"`
	AllowArgumentEdit      *bool    `yaml:"allow_argument_edit"`
}

// Policy converts the config to a risk.Policy, filling defaults.
func (r RiskConfig) Policy() risk.Policy {
	p := risk.DefaultPolicy()
	if len(r.ConfirmLevels) > 0 {
		p.ConfirmLevels = nil
		for _, name := range r.ConfirmLevels {
			p.ConfirmLevels = append(p.ConfirmLevels, risk.ParseLevel(name))
		}
	}
	p.AutoApprove = r.AutoApprove
	p.ForceConfirm = r.ForceConfirm
	p.MaxAutoApproveArgBytes = r.MaxAutoApproveArgBytes
	if r.TimeoutSec > 0 {
		p.Timeout = time.Duration(r.TimeoutSec) * time.Second
	}
	if r.AllowArgumentEdit != nil {
		p.AllowArgumentEdit = *r.AllowArgumentEdit
	}
	return p
}

// AuditConfig selects where the audit trail goes.
type AuditConfig struct {
	// Path is the SQLite database file; empty keeps the trail in memory.
	Path string `yaml:"path"`
}

// Load reads configuration from a YAML file. ${VAR} references are
// expanded from the environment before parsing, so API keys can stay out
// of the file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Default returns a configuration with sensible defaults and no servers.
func Default() *Config {
	return &Config{
		Listen:   ListenConfig{Port: 8710},
		LogLevel: "info",
		LLM: LLMConfig{
			Provider: "anthropic",
			Model:    llm.Config{Model: "claude-sonnet-4-5", MaxTokens: 4096},
		},
	}
}
