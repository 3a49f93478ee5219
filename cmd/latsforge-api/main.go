package main

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/latsforge/latsforge/internal/api"
	"github.com/latsforge/latsforge/internal/config"
	"github.com/latsforge/latsforge/internal/lats"
)

var (
	debug      bool
	configPath string
	port       int
)

var rootCmd = &cobra.Command{
	Use:   "latsforge-api",
	Short: "Test-suite synthesis service driving LATS/MCTS search",
	Long: `latsforge-api serves the LATS search endpoints under /api/v1/lats,
running a tree search over generated test candidates against a coverage
executor until a target MC/DC coverage is reached or the search gives up.`,
	DisableAutoGenTag: true,
	SilenceUsage:      true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file")
	rootCmd.PersistentFlags().IntVar(&port, "port", 0, "Port to listen on (overrides config)")
}

func runServer() error {
	cfg, err := config.Load(configPath, debug)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if port != 0 {
		cfg.Port = port
	}

	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}

	executor := lats.NewExecutorClient(cfg.Executor.BaseURL, time.Duration(cfg.Executor.TimeoutSecs)*time.Second)
	defer executor.Close()

	lmClient := lats.NewLMClient(cfg.LM.Provider, cfg.LM.APIKey, cfg.LM.BaseURL, cfg.LM.Model)
	prompts := lats.NewPromptManager(promptTemplateDir())
	sessions := lats.NewContextManager(cfg.SessionTTL())

	controllerCfg := lats.DefaultControllerConfig()
	controllerCfg.MaxIterations = cfg.MCTS.MaxIterations
	controllerCfg.ExplorationCoef = cfg.MCTS.ExplorationCoef
	controllerCfg.MaxDepth = cfg.MCTS.MaxDepth
	controllerCfg.ExpansionK = cfg.MCTS.ExpansionK
	controllerCfg.MinK = cfg.MCTS.MinK
	controllerCfg.MaxK = cfg.MCTS.MaxK
	controllerCfg.AdaptiveK = cfg.MCTS.AdaptiveK
	controllerCfg.EnablePruning = cfg.MCTS.EnablePruning
	controllerCfg.PruneThreshold = cfg.MCTS.PruneThreshold
	controllerCfg.BeamWidth = cfg.MCTS.BeamWidth
	controllerCfg.CoverageTarget = cfg.MCTS.CoverageTarget
	controllerCfg.MaxNoProgressIters = cfg.MCTS.MaxNoProgressIters
	controllerCfg.Verbose = cfg.MCTS.Verbose
	controllerCfg.TokenBudget = cfg.TokenBudget

	controller := lats.NewController(executor, lmClient, prompts, sessions, controllerCfg)

	server := api.NewServer(cfg, controller, sessions)
	return server.Start(cfg.Port)
}

func promptTemplateDir() string {
	if dir := os.Getenv("LATSFORGE_PROMPT_DIR"); dir != "" {
		return dir
	}
	return "./templates/prompts"
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
