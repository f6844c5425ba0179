package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"signal_bot/internal/cooldown"
	"signal_bot/internal/lifecycle"
	"signal_bot/internal/positions"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "bot",
	Short: "Crypto signal bot: multi-timeframe signals and TP/SL tracking",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if configFile != "" {
			_ = os.Setenv("CONFIG_FILE", configFile)
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCmd.RunE(cmd, args)
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the evaluators, notifier and admin server",
	RunE: func(cmd *cobra.Command, args []string) error {
		app := fx.New(service())
		if err := app.Err(); err != nil {
			return err
		}
		app.Run()
		return nil
	},
}

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Remove stored positions that fail validation",
	RunE: func(cmd *cobra.Command, args []string) error {
		return once(cmd.Context(), func(ctx context.Context, ctrl *lifecycle.Controller) error {
			purged, err := ctrl.PurgeInvalid(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("purged %d positions %v\n", len(purged), purged)
			return nil
		})
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print signal counters and live positions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return once(cmd.Context(), func(ctx context.Context, ps *positions.Store) error {
			st, err := ps.Stats(ctx)
			if err != nil {
				return err
			}
			b, err := sonic.ConfigStd.MarshalIndent(st, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(b))
			return nil
		})
	},
}

var unblockCmd = &cobra.Command{
	Use:   "unblock INSTRUMENT",
	Short: "Clear the post-close and signal-burst cooldowns of an instrument",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := strings.ToUpper(args[0])
		return once(cmd.Context(), func(ctx context.Context, cd *cooldown.Manager) error {
			if err := cd.Clear(ctx, id); err != nil {
				return err
			}
			fmt.Printf("cooldowns cleared for %s\n", id)
			return nil
		})
	},
}

// once builds the core graph, runs fn with its dependencies and shuts down.
// T is any type provided by the core graph.
func once[T any](ctx context.Context, fn func(context.Context, T) error) error {
	var dep T
	app := fx.New(core(), fx.NopLogger, fx.Populate(&dep))
	if err := app.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = app.Stop(context.Background()) }()
	return fn(ctx, dep)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file name under configs/ (overrides CONFIG_FILE)")
	rootCmd.AddCommand(runCmd, purgeCmd, statsCmd, unblockCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
