package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/bsrdtoms/fdi-pln2609/internal/config"
	"github.com/bsrdtoms/fdi-pln2609/internal/ledger"
	"github.com/bsrdtoms/fdi-pln2609/internal/llm"
	"github.com/bsrdtoms/fdi-pln2609/internal/negotiation"
	"github.com/bsrdtoms/fdi-pln2609/internal/runtime"
	"github.com/bsrdtoms/fdi-pln2609/internal/store"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// cli carries what every subcommand shares.
type cli struct {
	configPath string
	getenv     func(string) string
	logOut     io.Writer
}

func newRootCmd() *cobra.Command {
	return newRootCmdWith(&cli{getenv: os.Getenv, logOut: os.Stderr})
}

func newRootCmdWith(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:           "agentd",
		Short:         "Autonomous trading agent for the resource exchange",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "config file (default ~/.fdi-agent/config.yaml)")

	root.AddCommand(
		newInitCmd(c),
		newRunCmd(c),
		newStatusCmd(c),
		newBroadcastCmd(c),
	)
	return root
}

func (c *cli) resolvePath() (string, error) {
	if strings.TrimSpace(c.configPath) != "" {
		return c.configPath, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return config.DefaultPath(home), nil
}

// loadConfig falls back to defaults when the file does not exist.
func (c *cli) loadConfig() (config.Config, error) {
	path, err := c.resolvePath()
	if err != nil {
		return config.Config{}, err
	}
	cfg, err := config.Load(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		cfg = config.Default()
	case err != nil:
		return config.Config{}, err
	}
	config.ApplyEnv(&cfg, c.getenv)
	return cfg, nil
}

func newLogger(cfg config.Config, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(cfg.Log.Level))); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Log.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func newLedger(cfg config.Config, logger *slog.Logger) *ledger.Client {
	client := ledger.New(cfg.Ledger.URL, config.Seconds(cfg.Ledger.TimeoutSeconds, 10*time.Second), logger.With("component", "ledger"))
	client.Slot = cfg.Ledger.Slot
	if cfg.Ledger.GetAttempts > 0 {
		client.GetAttempts = cfg.Ledger.GetAttempts
	}
	return client
}

func newRunner(cfg config.Config, logger *slog.Logger) (*runtime.Runner, error) {
	llmClient, err := llm.New(llm.Config{
		Provider:        cfg.LLM.Provider,
		Model:           cfg.LLM.Model,
		BaseURL:         cfg.LLM.BaseURL,
		APIKey:          cfg.LLM.APIKey,
		Temperature:     cfg.LLM.Temperature,
		MaxOutputTokens: cfg.LLM.MaxOutputTokens,
		TimeoutSeconds:  cfg.LLM.TimeoutSeconds,
		JSONMode:        cfg.LLM.JSONMode,
	})
	if err != nil {
		return nil, fmt.Errorf("llm: %w", err)
	}
	if llmClient == nil {
		logger.Warn("no llm provider configured, every letter resolves to wait")
	} else {
		logger.Info("llm configured", "provider", llmClient.Provider(), "model", llmClient.Model())
	}

	oracle := negotiation.NewOracle(llmClient, logger.With("component", "oracle"))
	r := runtime.NewRunner(newLedger(cfg, logger), oracle, store.New(store.DefaultLimit), logger)
	r.Poll = config.Seconds(cfg.Schedule.PollIntervalSeconds, r.Poll)
	r.BroadcastEvery = config.Seconds(cfg.Schedule.BroadcastIntervalSeconds, r.BroadcastEvery)
	r.Cooldown = config.Seconds(cfg.Schedule.CooldownSeconds, r.Cooldown)
	r.StartupBackoff = config.Seconds(cfg.Schedule.StartupBackoffSeconds, r.StartupBackoff)
	r.Currency = negotiation.Currency{Name: cfg.Agent.Currency, Price: cfg.Agent.CurrencyPrice}
	if s := strings.TrimSpace(cfg.Agent.SystemSender); s != "" {
		r.SystemSender = s
	}
	return r, nil
}
