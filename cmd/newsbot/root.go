package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"newsbot/internal/app"
	"newsbot/internal/config"
	"newsbot/internal/scheduler"
)

var (
	version = "dev"

	flagConfig  string
	flagPreview int
)

const stopTimeout = 30 * time.Second

var rootCmd = &cobra.Command{
	Use:           "newsbot",
	Short:         "Post fresh news headlines to Telegram chats",
	Long:          "newsbot fetches headlines on a schedule, drops the ones it already posted and sends the rest to the configured chats.",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler and answer bot commands (default)",
	RunE:  runServe,
}

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run the pipeline one time and exit",
	RunE:  runOnce,
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the config and print upcoming trigger times",
	RunE:  runCheck,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", defaultConfigPath(), "path to config file (json or yaml)")
	checkCmd.Flags().IntVarP(&flagPreview, "next", "n", 3, "number of upcoming trigger times per rule")

	rootCmd.AddCommand(serveCmd, onceCmd, checkCmd)
}

func defaultConfigPath() string {
	for _, p := range []string{"./config.yaml", "./config.yml"} {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return "./config.json"
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, flagConfig)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		return err
	}
	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		stopCtx, stop := context.WithTimeout(context.Background(), stopTimeout)
		defer stop()
		_ = a.Stop(stopCtx, app.StopFatalError)
		return err
	}

	reason := app.StopSignal
	select {
	case <-ctx.Done():
	case <-a.Done():
		reason = app.StopFatalError
	}

	stopCtx, stop := context.WithTimeout(context.Background(), stopTimeout)
	defer stop()
	_ = a.Stop(stopCtx, reason)
	if reason == app.StopFatalError {
		if err := a.Err(); err != nil {
			fmt.Fprintln(os.Stderr, "fatal:", err)
			return err
		}
	}
	return nil
}

func runOnce(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, flagConfig)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		return err
	}
	defer func() {
		stopCtx, stop := context.WithTimeout(context.Background(), stopTimeout)
		defer stop()
		_ = a.Stop(stopCtx, app.StopOnce)
	}()

	rep, err := a.RunOnce(ctx)
	fmt.Fprintf(cmd.OutOrStdout(), "run %s: fetched=%d fresh=%d delivered=%d recorded=%d took=%s\n",
		rep.RunID, rep.Fetched, rep.Fresh, rep.Delivered, rep.Recorded, rep.Took.Round(time.Millisecond))
	if err != nil {
		fmt.Fprintln(os.Stderr, "run failed:", err)
	}
	return err
}

func runCheck(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	cfg, err := config.NewManager(flagConfig).Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid config:", err)
		return err
	}
	rules, err := scheduler.ParseRules(cfg.Scheduler.Rules)
	if err != nil {
		return err
	}
	loc, err := scheduler.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "config ok: %s\n", flagConfig)
	fmt.Fprintf(out, "provider: %s, targets: %d, dedup: %s\n", cfg.Provider.Kind, len(cfg.Dispatch.Targets), cfg.Dedup.Driver)
	fmt.Fprintf(out, "timezone: %s\n", loc)
	now := time.Now()
	for _, r := range rules {
		fmt.Fprintf(out, "- %s (%s)\n", r, r.Kind)
		next := scheduler.Preview(r, loc, now, flagPreview)
		if len(next) == 0 {
			return errors.New("rule " + r.String() + " never fires")
		}
		for _, t := range next {
			fmt.Fprintf(out, "    %s\n", t.Format(time.RFC3339))
		}
	}
	return nil
}
