package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bsrdtoms/fdi-pln2609/internal/config"
	"github.com/bsrdtoms/fdi-pln2609/internal/control"
	"github.com/bsrdtoms/fdi-pln2609/internal/ledger"
	"github.com/bsrdtoms/fdi-pln2609/internal/negotiation"
)

func newInitCmd(c *cli) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default config file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := c.resolvePath()
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := config.Write(path, config.Default()); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "initialized %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func newRunCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the negotiation loop and the control surface",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg, c.logOut)
			runner, err := newRunner(cfg, logger)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			ctrlDone := make(chan struct{})
			if listen := strings.TrimSpace(cfg.Control.Listen); listen != "" {
				srv := control.NewServer(runner, runner.Session, runner.Journal, logger.With("component", "control"))
				go func() {
					defer close(ctrlDone)
					if err := srv.Serve(ctx, listen); err != nil {
						logger.Error("control surface failed", "err", err)
					}
				}()
			} else {
				close(ctrlDone)
			}

			logger.Info("agentd running", "ledger", cfg.Ledger.URL, "slot", cfg.Ledger.Slot)
			err = runner.Run(ctx)
			cancel()
			<-ctrlDone
			if errors.Is(err, context.Canceled) {
				logger.Info("agentd stopped", "outcomes", runner.Journal.Len())
				return nil
			}
			return err
		},
	}
}

func newStatusCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show holdings, target and gap from the ledger",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			state, err := newLedger(cfg, newLogger(cfg, c.logOut)).FetchState(cmd.Context())
			if err != nil {
				return err
			}
			gap := negotiation.GapOf(state)

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintln(out, "agent status")
			_, _ = fmt.Fprintf(out, "  alias: %s\n", state.DisplayAlias())
			_, _ = fmt.Fprintf(out, "  resources: %s\n", formatResources(state.Resources))
			_, _ = fmt.Fprintf(out, "  target: %s\n", formatResources(state.Target))
			_, _ = fmt.Fprintf(out, "  shortage: %s\n", formatResources(gap.Shortage))
			_, _ = fmt.Fprintf(out, "  surplus: %s\n", formatResources(gap.Surplus))
			_, _ = fmt.Fprintf(out, "  inbox: %d\n", len(state.Inbox))
			return nil
		},
	}
}

func newBroadcastCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "broadcast",
		Short: "Run one broadcast cycle and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			runner, err := newRunner(cfg, newLogger(cfg, c.logOut))
			if err != nil {
				return err
			}
			sum, err := runner.BroadcastCycle(cmd.Context())
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "broadcast sent to %d peers: general=%d pairwise=%d currency=%d\n",
				sum.Peers, sum.General, sum.Pairwise, sum.Currency)
			return nil
		},
	}
}

func formatResources(res ledger.Resources) string {
	if len(res) == 0 {
		return "none"
	}
	parts := make([]string, 0, len(res))
	for _, name := range res.Names() {
		parts = append(parts, fmt.Sprintf("%s=%d", name, res[name]))
	}
	return strings.Join(parts, " ")
}
