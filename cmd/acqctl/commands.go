package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/regardsoss/dataprovider/internal/app"
	types "github.com/regardsoss/dataprovider/internal/domain/acquisition"
	"github.com/regardsoss/dataprovider/internal/modules/acquisition/chains"
	"github.com/regardsoss/dataprovider/internal/pkg/dbctx"
)

var (
	sessionFlag string

	rootCmd = &cobra.Command{
		Use:           "acqctl",
		Short:         "Administer acquisition chains",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	loadCmd = &cobra.Command{
		Use:   "load [file or directory]",
		Short: "Create or update chains from YAML definitions",
		Args:  cobra.ExactArgs(1),
		RunE:  withApp(runLoad),
	}
	startCmd = &cobra.Command{
		Use:   "start [label]",
		Short: "Start a MANUAL chain",
		Args:  cobra.ExactArgs(1),
		RunE:  withApp(runStart),
	}
	stopCmd = &cobra.Command{
		Use:   "stop [label]",
		Short: "Stop a running chain",
		Args:  cobra.ExactArgs(1),
		RunE:  withApp(runStop),
	}
	relaunchCmd = &cobra.Command{
		Use:   "relaunch [label]",
		Short: "Reschedule SIP generation and submission errors",
		Args:  cobra.ExactArgs(1),
		RunE:  withApp(runRelaunch),
	}
	retryFilesCmd = &cobra.Command{
		Use:   "retry-files [label]",
		Short: "Move ERROR files of a chain back to IN_PROGRESS",
		Args:  cobra.ExactArgs(1),
		RunE:  withApp(runRetryFiles),
	}
	monitorCmd = &cobra.Command{
		Use:   "monitor [label]",
		Short: "Print chain summaries, or the session summaries of one chain",
		Args:  cobra.MaximumNArgs(1),
		RunE:  withApp(runMonitor),
	}
	deleteSessionCmd = &cobra.Command{
		Use:   "delete-session [label] [session]",
		Short: "Delete the products and files of one session",
		Args:  cobra.ExactArgs(2),
		RunE:  withApp(runDeleteSession),
	}
)

func init() {
	startCmd.Flags().StringVar(&sessionFlag, "session", "", "session name (defaults to <label>-<timestamp>)")
	relaunchCmd.Flags().StringVar(&sessionFlag, "session", "", "limit to one session")
	rootCmd.AddCommand(loadCmd, startCmd, stopCmd, relaunchCmd, retryFilesCmd, monitorCmd, deleteSessionCmd)
}

// withApp wires the services without the server, worker or scheduler roles.
func withApp(fn func(ctx context.Context, a *app.App, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg := app.LoadConfig()
		cfg.LogMode = "production"
		cfg.RunServer = false
		cfg.RunWorker = false
		cfg.RunScheduler = false
		cfg.ChainsDir = ""
		if cfg.IngestSink == "http" && os.Getenv("INGEST_URL") == "" {
			cfg.IngestSink = "memory"
		}
		a, err := app.NewWithConfig(cfg)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(cmd.Context(), a, args)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func chainByLabel(ctx context.Context, a *app.App, label string) (*types.Chain, error) {
	return a.Services.Chains.GetByLabel(dbctx.Context{Ctx: ctx}, label)
}

func runLoad(ctx context.Context, a *app.App, args []string) error {
	path := args[0]
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	var defs []chains.Definition
	if info.IsDir() {
		defs, err = chains.LoadDefinitions(path)
		if err != nil {
			return err
		}
	} else {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		def, err := chains.ParseDefinition(data)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		def.Source = path
		defs = append(defs, def)
	}
	report, err := a.Services.Chains.Sync(dbctx.Context{Ctx: ctx}, defs)
	if perr := printJSON(report); perr != nil {
		return perr
	}
	return err
}

func runStart(ctx context.Context, a *app.App, args []string) error {
	chain, err := chainByLabel(ctx, a, args[0])
	if err != nil {
		return err
	}
	started, err := a.Services.Runner.StartManualChain(dbctx.Context{Ctx: ctx}, chain.ID, sessionFlag)
	if err != nil {
		return err
	}
	return printJSON(map[string]any{"chain": chain.Label, "session": started.Session, "job_id": started.Job.ID})
}

func runStop(ctx context.Context, a *app.App, args []string) error {
	chain, err := chainByLabel(ctx, a, args[0])
	if err != nil {
		return err
	}
	stopped, err := a.Services.Runner.StopChain(dbctx.Context{Ctx: ctx}, chain.ID)
	if err != nil {
		return err
	}
	return printJSON(map[string]any{"chain": chain.Label, "stopped": stopped})
}

func runRelaunch(ctx context.Context, a *app.App, args []string) error {
	chain, err := chainByLabel(ctx, a, args[0])
	if err != nil {
		return err
	}
	report, err := a.Services.SIP.RelaunchErrors(dbctx.Context{Ctx: ctx}, chain, sessionFlag)
	if err != nil {
		return err
	}
	return printJSON(report)
}

func runRetryFiles(ctx context.Context, a *app.App, args []string) error {
	chain, err := chainByLabel(ctx, a, args[0])
	if err != nil {
		return err
	}
	n, err := a.Services.Files.Retry(dbctx.Context{Ctx: ctx}, chain.ID)
	if err != nil {
		return err
	}
	return printJSON(map[string]any{"chain": chain.Label, "retried": n})
}

func runMonitor(ctx context.Context, a *app.App, args []string) error {
	dbc := dbctx.Context{Ctx: ctx}
	if len(args) == 0 {
		summaries, err := a.Services.Chains.MonitorAll(dbc)
		if err != nil {
			return err
		}
		return printJSON(summaries)
	}
	chain, err := chainByLabel(ctx, a, args[0])
	if err != nil {
		return err
	}
	summary, err := a.Services.Chains.Monitor(dbc, chain.ID)
	if err != nil {
		return err
	}
	sessions, err := a.Services.Chains.SessionSummaries(dbc, chain.ID)
	if err != nil {
		return err
	}
	return printJSON(map[string]any{"summary": summary, "sessions": sessions})
}

func runDeleteSession(ctx context.Context, a *app.App, args []string) error {
	chain, err := chainByLabel(ctx, a, args[0])
	if err != nil {
		return err
	}
	n, err := a.Services.Chains.DeleteSessionProducts(dbctx.Context{Ctx: ctx}, chain.ID, args[1])
	if err != nil {
		return err
	}
	return printJSON(map[string]any{"chain": chain.Label, "session": args[1], "deleted": n})
}
