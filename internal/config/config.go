package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// LMConfig configures the language-model client used as the candidate generator.
type LMConfig struct {
	Provider    string  `json:"provider"`    // anthropic, openai, gemini, openrouter, bedrock
	APIKey      string  `json:"apiKey"`
	BaseURL     string  `json:"baseUrl,omitempty"`
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"maxTokens"`
	TimeoutSecs int     `json:"timeoutSeconds"`
}

// ExecutorConfig configures the outbound coverage-executor client.
type ExecutorConfig struct {
	BaseURL     string `json:"baseUrl"`
	TimeoutSecs int    `json:"timeoutSeconds"`
}

// MCTSDefaults carries the search engine's default tuning knobs; a request
// may override only the coverage target and the iteration cap, within the
// bounds accepted by the gateway.
type MCTSDefaults struct {
	MaxIterations      int     `json:"maxIterations"`
	ExplorationCoef    float64 `json:"explorationCoef"`
	MaxDepth           int     `json:"maxDepth"`
	ExpansionK         int     `json:"expansionK"`
	MinK               int     `json:"minK"`
	MaxK               int     `json:"maxK"`
	AdaptiveK          bool    `json:"adaptiveK"`
	EnablePruning      bool    `json:"enablePruning"`
	PruneThreshold     float64 `json:"pruneThreshold"`
	BeamWidth          int     `json:"beamWidth"`
	CoverageTarget     float64 `json:"coverageTarget"`
	MaxNoProgressIters int     `json:"maxNoProgressIters"`
	Verbose            bool    `json:"verbose"`
}

// Config is the top-level configuration for the search service.
type Config struct {
	Host              string         `json:"host"`
	Port              int            `json:"port"`
	LogLevel          string         `json:"logLevel"`
	Debug             bool           `json:"debug"`
	LM                LMConfig       `json:"lm"`
	Executor          ExecutorConfig `json:"executor"`
	MCTS              MCTSDefaults   `json:"mcts"`
	SessionTTLMinutes int            `json:"sessionTtlMinutes"`
	TokenBudget       int            `json:"tokenBudgetDefault"`
}

const appName = "latsforge"

var cfg *Config

// Load reads configuration from environment variables and an optional config
// file, applying defaults for anything left unset. Config files are
// discovered the way viper-based CLIs in this ecosystem do: by name, in the
// home directory and the XDG config directory, with LATSFORGE_-prefixed
// environment variables automatically bound on top.
func Load(configPath string, debug bool) (*Config, error) {
	if cfg != nil {
		return cfg, nil
	}

	configureViper(configPath)
	setDefaults(debug)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	c := &Config{}
	c.Host = viper.GetString("host")
	c.Port = viper.GetInt("port")
	c.LogLevel = viper.GetString("log.level")
	c.Debug = viper.GetBool("debug")

	c.LM = LMConfig{
		Provider:    viper.GetString("lm.provider"),
		APIKey:      viper.GetString("lm.apiKey"),
		BaseURL:     viper.GetString("lm.baseUrl"),
		Model:       viper.GetString("lm.model"),
		Temperature: viper.GetFloat64("lm.temperature"),
		MaxTokens:   viper.GetInt("lm.maxTokens"),
		TimeoutSecs: viper.GetInt("lm.timeoutSeconds"),
	}

	c.Executor = ExecutorConfig{
		BaseURL:     viper.GetString("executor.baseUrl"),
		TimeoutSecs: viper.GetInt("executor.timeoutSeconds"),
	}

	c.MCTS = MCTSDefaults{
		MaxIterations:      viper.GetInt("mcts.maxIterations"),
		ExplorationCoef:    viper.GetFloat64("mcts.explorationCoef"),
		MaxDepth:           viper.GetInt("mcts.maxDepth"),
		ExpansionK:         viper.GetInt("mcts.expansionK"),
		MinK:               viper.GetInt("mcts.minK"),
		MaxK:               viper.GetInt("mcts.maxK"),
		AdaptiveK:          viper.GetBool("mcts.adaptiveK"),
		EnablePruning:      viper.GetBool("mcts.enablePruning"),
		PruneThreshold:     viper.GetFloat64("mcts.pruneThreshold"),
		BeamWidth:          viper.GetInt("mcts.beamWidth"),
		CoverageTarget:     viper.GetFloat64("mcts.coverageTarget"),
		MaxNoProgressIters: viper.GetInt("mcts.maxNoProgressIters"),
		Verbose:            viper.GetBool("mcts.verbose") || debug,
	}

	c.SessionTTLMinutes = viper.GetInt("session.ttlMinutes")
	c.TokenBudget = viper.GetInt("session.tokenBudgetDefault")

	cfg = c
	return cfg, nil
}

func configureViper(configPath string) {
	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName(fmt.Sprintf(".%s", appName))
		viper.SetConfigType("json")
		viper.AddConfigPath("$HOME")
		viper.AddConfigPath(fmt.Sprintf("$XDG_CONFIG_HOME/%s", appName))
		viper.AddConfigPath(fmt.Sprintf("$HOME/.config/%s", appName))
		viper.AddConfigPath(".")
	}
	viper.SetEnvPrefix(strings.ToUpper(appName))
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

func setDefaults(debug bool) {
	viper.SetDefault("host", "0.0.0.0")
	viper.SetDefault("port", 8080)

	if debug {
		viper.SetDefault("debug", true)
		viper.SetDefault("log.level", "debug")
	} else {
		viper.SetDefault("debug", false)
		viper.SetDefault("log.level", "info")
	}

	viper.SetDefault("lm.provider", envOr("LM_PROVIDER", "anthropic"))
	viper.SetDefault("lm.apiKey", envOr("LM_API_KEY", ""))
	viper.SetDefault("lm.baseUrl", envOr("LM_BASE_URL", ""))
	viper.SetDefault("lm.model", envOr("LM_MODEL", "claude-3-5-sonnet-20241022"))
	viper.SetDefault("lm.temperature", 0.7)
	viper.SetDefault("lm.maxTokens", 2048)
	viper.SetDefault("lm.timeoutSeconds", 60)

	viper.SetDefault("executor.baseUrl", envOr("JAVA_BACKEND_URL", "http://localhost:8081"))
	viper.SetDefault("executor.timeoutSeconds", 30)

	viper.SetDefault("mcts.maxIterations", 100)
	viper.SetDefault("mcts.explorationCoef", 1.414213562)
	viper.SetDefault("mcts.maxDepth", 50)
	viper.SetDefault("mcts.expansionK", 3)
	viper.SetDefault("mcts.minK", 1)
	viper.SetDefault("mcts.maxK", 5)
	viper.SetDefault("mcts.adaptiveK", true)
	viper.SetDefault("mcts.enablePruning", true)
	viper.SetDefault("mcts.pruneThreshold", -2.0)
	viper.SetDefault("mcts.beamWidth", 5)
	viper.SetDefault("mcts.coverageTarget", 0.95)
	viper.SetDefault("mcts.maxNoProgressIters", 10)
	viper.SetDefault("mcts.verbose", false)

	viper.SetDefault("session.ttlMinutes", 60)
	viper.SetDefault("session.tokenBudgetDefault", 100_000)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Get returns the process-wide configuration, or nil if Load has not run.
func Get() *Config {
	return cfg
}

// Reset clears the cached configuration so that the next Load reads it afresh.
func Reset() {
	cfg = nil
}

// SessionTTL returns the session cache's time-to-live as a duration.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLMinutes) * time.Minute
}
