// Package config handles configuration loading and management for rfd.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ShayCichocki/rfd/pkg/models"
)

// Config holds all configuration for rfd.
type Config struct {
	Anthropic    AnthropicConfig    `mapstructure:"anthropic"`
	Models       ModelsConfig       `mapstructure:"models"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Workspace    WorkspaceConfig    `mapstructure:"workspace"`
	Skills       SkillsConfig       `mapstructure:"skills"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	State        StateConfig        `mapstructure:"state"`
	Pricing      PricingConfig      `mapstructure:"pricing"`
}

// AnthropicConfig holds model provider settings.
type AnthropicConfig struct {
	APIKey     string `mapstructure:"api_key"`
	UseBedrock bool   `mapstructure:"use_bedrock"`
	AWSRegion  string `mapstructure:"aws_region"`
	AWSProfile string `mapstructure:"aws_profile"`
	// RequestsPerSecond caps gateway calls; zero disables the limiter.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

// ModelsConfig names the model behind each tier.
type ModelsConfig struct {
	Pro   string `mapstructure:"pro"`
	Flash string `mapstructure:"flash"`
}

// OrchestratorConfig holds run tuning.
type OrchestratorConfig struct {
	MaxConcurrent           int           `mapstructure:"max_concurrent"`
	MaxPlanningSteps        int           `mapstructure:"max_planning_steps"`
	MaxToolTurns            int           `mapstructure:"max_tool_turns"`
	PlanningThinkingBudget  int           `mapstructure:"planning_thinking_budget"`
	SynthesisThinkingBudget int           `mapstructure:"synthesis_thinking_budget"`
	WorkerThinkingBudget    int           `mapstructure:"worker_thinking_budget"`
	RunTimeout              time.Duration `mapstructure:"run_timeout"`
}

// WorkspaceConfig sets the tool sandbox.
type WorkspaceConfig struct {
	Root string `mapstructure:"root"`
}

// SkillsConfig locates skill bundles.
type SkillsConfig struct {
	Dir   string `mapstructure:"dir"`
	Watch bool   `mapstructure:"watch"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// StateConfig locates the run-history database.
type StateConfig struct {
	Path string `mapstructure:"path"`
}

// PricingConfig holds per-million-token rates in USD.
type PricingConfig struct {
	InputPerMillion    float64 `mapstructure:"input_per_million"`
	OutputPerMillion   float64 `mapstructure:"output_per_million"`
	ThinkingPerMillion float64 `mapstructure:"thinking_per_million"`
}

// ToModels converts the pricing section for metrics.
func (p PricingConfig) ToModels() models.Pricing {
	return models.Pricing{
		InputPerMillion:    p.InputPerMillion,
		OutputPerMillion:   p.OutputPerMillion,
		ThinkingPerMillion: p.ThinkingPerMillion,
	}
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (ANTHROPIC_API_KEY, RFD_*)
// 2. Project config (.rfd.yaml in current directory or parent)
// 3. User config (~/.config/rfd/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	bindEnv(v)
	return unmarshal(v)
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return unmarshal(v)
}

// envKeyReplacer maps orchestrator.max_concurrent to RFD_ORCHESTRATOR_MAX_CONCURRENT.
var envKeyReplacer = strings.NewReplacer(".", "_")

func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix("RFD")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(envKeyReplacer)
	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")
	v.BindEnv("anthropic.aws_region", "RFD_ANTHROPIC_AWS_REGION", "AWS_REGION")
	v.BindEnv("anthropic.aws_profile", "RFD_ANTHROPIC_AWS_PROFILE", "AWS_PROFILE")
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)
	cfg.Workspace.Root = expandPath(cfg.Workspace.Root)
	cfg.Skills.Dir = expandPath(cfg.Skills.Dir)
	cfg.Logging.File = expandPath(cfg.Logging.File)
	cfg.State.Path = expandPath(cfg.State.Path)
	return cfg, nil
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("anthropic.api_key", d.Anthropic.APIKey)
	v.SetDefault("anthropic.use_bedrock", d.Anthropic.UseBedrock)
	v.SetDefault("anthropic.aws_region", d.Anthropic.AWSRegion)
	v.SetDefault("anthropic.aws_profile", d.Anthropic.AWSProfile)
	v.SetDefault("anthropic.requests_per_second", d.Anthropic.RequestsPerSecond)

	v.SetDefault("models.pro", d.Models.Pro)
	v.SetDefault("models.flash", d.Models.Flash)

	v.SetDefault("orchestrator.max_concurrent", d.Orchestrator.MaxConcurrent)
	v.SetDefault("orchestrator.max_planning_steps", d.Orchestrator.MaxPlanningSteps)
	v.SetDefault("orchestrator.max_tool_turns", d.Orchestrator.MaxToolTurns)
	v.SetDefault("orchestrator.planning_thinking_budget", d.Orchestrator.PlanningThinkingBudget)
	v.SetDefault("orchestrator.synthesis_thinking_budget", d.Orchestrator.SynthesisThinkingBudget)
	v.SetDefault("orchestrator.worker_thinking_budget", d.Orchestrator.WorkerThinkingBudget)
	v.SetDefault("orchestrator.run_timeout", d.Orchestrator.RunTimeout.String())

	v.SetDefault("workspace.root", d.Workspace.Root)
	v.SetDefault("skills.dir", d.Skills.Dir)
	v.SetDefault("skills.watch", d.Skills.Watch)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("state.path", d.State.Path)

	v.SetDefault("pricing.input_per_million", d.Pricing.InputPerMillion)
	v.SetDefault("pricing.output_per_million", d.Pricing.OutputPerMillion)
	v.SetDefault("pricing.thinking_per_million", d.Pricing.ThinkingPerMillion)
}

// getUserConfigDir returns the XDG config directory for rfd.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "rfd")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "rfd")
	}
	return filepath.Join(home, ".config", "rfd")
}

// findProjectConfig searches for .rfd.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".rfd.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// expandPath expands environment references and a leading ~/.
func expandPath(p string) string {
	p = os.ExpandEnv(p)
	if strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, p[2:])
		}
	}
	return p
}

// Default returns a Config with default values.
func Default() *Config {
	pricing := models.DefaultPricing()
	return &Config{
		Anthropic: AnthropicConfig{
			AWSRegion: "us-west-2",
		},
		Models: ModelsConfig{
			Pro:   "claude-sonnet-4-20250514",
			Flash: "claude-3-5-haiku-20241022",
		},
		Orchestrator: OrchestratorConfig{
			MaxConcurrent:           5,
			MaxPlanningSteps:        10,
			MaxToolTurns:            10,
			PlanningThinkingBudget:  2048,
			SynthesisThinkingBudget: 1024,
		},
		Workspace: WorkspaceConfig{
			Root: ".",
		},
		Skills: SkillsConfig{
			Dir: "skills",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Pricing: PricingConfig{
			InputPerMillion:    pricing.InputPerMillion,
			OutputPerMillion:   pricing.OutputPerMillion,
			ThinkingPerMillion: pricing.ThinkingPerMillion,
		},
	}
}
