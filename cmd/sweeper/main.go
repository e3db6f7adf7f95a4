package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	Version   = "v0.0.1"
	GitCommit = ""
	GitDate   = ""
)

const (
	FlagConfigFile = "config"
	FlagAutoRetry  = "auto-retry"
	FlagLimit      = "limit"
)

var (
	configPath string
	autoRetry  bool
	limit      int
)

func main() {
	// a missing .env is normal, SWEEPER_* variables may come from the shell
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Printf("Failed to load .env: %v\n", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := &cobra.Command{
		Use:     "sweeper",
		Short:   "Move native tokens from many wallets to their paired recipients",
		Long:    `Sweep the native balance of every wallet in the key file to the recipient on the same line of the address file, leaving a random remainder behind. Without a subcommand an interactive menu is shown.`,
		Version: fmt.Sprintf("%s-%s-%s", Version, GitCommit, GitDate),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), true, func(a *app) error {
				return newMenu(a, os.Stdin, os.Stdout).run(cmd.Context())
			})
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, FlagConfigFile, "c", "config.yaml", "Path to the YAML configuration file")

	rootCmd.AddCommand(
		sendCmd(),
		gasCmd(),
		historyCmd(),
	)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// withApp builds the app for one command and tears it down afterwards.
func withApp(ctx context.Context, connect bool, fn func(a *app) error) error {
	a, err := newApp(configPath)
	if err != nil {
		return err
	}
	defer a.close()
	if connect {
		if err := a.connect(ctx); err != nil {
			return err
		}
	}
	if err := a.openHistory(); err != nil {
		return err
	}
	return fn(a)
}

func sendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Run a batch without the interactive menu",
		Long: `Run one batch over the configured key and recipient files.

With --auto-retry the failed and skipped accounts are retried once without asking.

Example:
  sweeper send -c ./config.yaml --auto-retry`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), true, func(a *app) error {
				return a.session(cmd.Context(), func(int) bool { return autoRetry })
			})
		},
	}
	cmd.Flags().BoolVar(&autoRetry, FlagAutoRetry, false, "Retry failed and skipped accounts once")
	return cmd
}

func gasCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gas",
		Short: "Show the current gas price and the cost of one transfer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), true, func(a *app) error {
				return a.showGas(cmd.Context())
			})
		},
	}
}

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List the most recent batches stored in results.history_db",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), false, func(a *app) error {
				if a.history == nil {
					return errors.New("results.history_db is not configured")
				}
				entries, err := a.history.Recent(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if len(entries) == 0 {
					fmt.Println("No batches recorded yet")
					return nil
				}
				fmt.Printf("%-36s  %-7s  %-19s  %5s  %5s  %5s  %5s  %s\n",
					"RUN", "PASS", "STARTED", "TOTAL", "OK", "FAIL", "SKIP", "SENT")
				for _, e := range entries {
					fmt.Printf("%-36s  %-7s  %-19s  %5d  %5d  %5d  %5d  %s\n",
						e.RunID, e.Label, e.StartedAt.Local().Format(time.DateTime),
						e.Total, e.Succeeded, e.Failed, e.Skipped, e.TotalSent)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, FlagLimit, 10, "Number of batches to show")
	return cmd
}
