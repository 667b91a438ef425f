package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/mpataki/xnmt/internal/config"
	"github.com/mpataki/xnmt/internal/ctxlog"
	"github.com/mpataki/xnmt/internal/orchestrator"
	"github.com/mpataki/xnmt/internal/params"
	"github.com/mpataki/xnmt/internal/spec"
	"github.com/mpataki/xnmt/internal/storage"
	"github.com/mpataki/xnmt/internal/tui"
)

// ExitError carries the process exit code for an error.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	return e.Message
}

func usageError(format string, args ...any) error {
	return &ExitError{Code: 2, Message: fmt.Sprintf(format, args...)}
}

func main() {
	// Minimal logger until flags are parsed.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := newRootCommand(os.Stdout, os.Stderr).ExecuteContext(ctx)
	stop()
	if err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, exitErr.Message)
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type rootFlags struct {
	env         *config.Config
	backend     params.BackendSettings
	generateDoc bool
	logLevel    string
	logFormat   string
	dbPath      string
	noHistory   bool
}

func newRootCommand(outW, errW io.Writer) *cobra.Command {
	env, err := config.New()
	if err != nil {
		slog.Warn("Failed to resolve the home directory; history is unavailable.", "error", err)
		env = &config.Config{LogLevel: "info", LogFormat: "text"}
	}
	f := &rootFlags{env: env}
	cmd := &cobra.Command{
		Use:   "xnmt [flags] <config> [experiment...]",
		Short: "Run neural machine translation experiments",
		Long: "xnmt loads a YAML experiment configuration and runs each experiment\n" +
			"through preprocessing, training, decoding and evaluation.",
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExperiments(cmd.Context(), f, args, outW, errW)
		},
	}
	cmd.SetOut(outW)
	cmd.SetErr(errW)
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError("%v", err)
	})

	flags := cmd.Flags()
	flags.IntVar(&f.backend.Mem, "dynet-mem", 0, "Memory to reserve for the numeric backend, in MB")
	flags.IntVar(&f.backend.Seed, "dynet-seed", 0, "Random seed; 0 picks one at random")
	flags.IntVar(&f.backend.Autobatch, "dynet-autobatch", 0, "Automatic batching strategy")
	flags.StringVar(&f.backend.Devices, "dynet-devices", "", "Devices to run on")
	flags.BoolVar(&f.backend.Viz, "dynet-viz", false, "Visualize computation graphs")
	flags.BoolVar(&f.backend.GPU, "dynet-gpu", false, "Run on GPU")
	flags.IntVar(&f.backend.GPUIDs, "dynet-gpu-ids", 0, "GPU id to use")
	flags.IntVar(&f.backend.GPUs, "dynet-gpus", 0, "Number of GPUs to use")
	flags.Float64Var(&f.backend.WeightDecay, "dynet-weight-decay", 0, "Weight decay")
	flags.BoolVar(&f.generateDoc, "generate-doc", false, "Print the option documentation and exit")

	pflags := cmd.PersistentFlags()
	pflags.StringVar(&f.logLevel, "log-level", env.LogLevel, "Logging level: debug, info, warn or error ($XNMT_LOG_LEVEL)")
	pflags.StringVar(&f.logFormat, "log-format", env.LogFormat, "Log output format: text or json ($XNMT_LOG_FORMAT)")
	pflags.StringVar(&f.dbPath, "db", "", "History database path (default $XNMT_DB or <data dir>/xnmt.db)")
	pflags.BoolVar(&f.noHistory, "no-history", false, "Do not record the run in the history database")

	cmd.AddCommand(newHistoryCommand(f, outW))
	cmd.AddCommand(newShowCommand(f, outW))
	cmd.AddCommand(newBrowseCommand(f))
	return cmd
}

func runExperiments(ctx context.Context, f *rootFlags, args []string, outW, errW io.Writer) error {
	opts := orchestrator.NewOptionRegistry()
	if f.generateDoc {
		fmt.Fprintln(outW, opts.GenerateDocumentation())
		return nil
	}
	if len(args) == 0 {
		return usageError("a configuration file is required\nUsage: xnmt [flags] <config> [experiment...]")
	}

	logger, level, err := f.logger(errW)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	ctx = ctxlog.WithLogger(ctx, logger)

	seed := uint64(f.backend.Seed)
	if seed == 0 {
		seed = rand.Uint64()
	}
	logger.Debug("Random generator seeded.", "seed", seed)

	types := orchestrator.NewTypeRegistry()
	loader := &spec.Loader{
		Tasks:   opts.TaskNames(),
		Schemas: types,
		Rand:    rand.New(rand.NewPCG(seed, seed)),
		Token:   spec.PlaceholderToken,
	}
	doc, err := loader.Load(args[0])
	if err != nil {
		return err
	}

	var store *storage.Storage
	if !f.noHistory {
		if store, err = f.openStorage(); err != nil {
			return err
		}
		defer store.Close()
	}

	orch := orchestrator.New(orchestrator.Config{
		Storage:   store,
		Options:   opts,
		Types:     types,
		Backend:   f.backend,
		ScriptDir: f.env.ScriptDir,
		Stdout:    outW,
		Stderr:    errW,
		Logger:    logger,
		LogLevel:  level,
		LogFormat: strings.ToLower(f.logFormat),
	})
	results, err := orch.Run(ctx, doc, args[1:])
	if err != nil {
		return err
	}
	orchestrator.WriteReport(outW, results)
	return nil
}

func (f *rootFlags) logger(errW io.Writer) (*slog.Logger, slog.Level, error) {
	level, ok := parseLevel(f.logLevel)
	if !ok {
		return nil, 0, usageError("invalid log-level: must be 'debug', 'info', 'warn', or 'error'")
	}
	format := strings.ToLower(f.logFormat)
	if format != "text" && format != "json" {
		return nil, 0, usageError("invalid log-format: must be 'text' or 'json'")
	}
	return newLogger(level, format, errW), level, nil
}

func (f *rootFlags) openStorage() (*storage.Storage, error) {
	cfg := *f.env
	if f.dbPath != "" {
		cfg.DBPath = f.dbPath
		cfg.DataDir = filepath.Dir(f.dbPath)
	}
	if cfg.DBPath == "" {
		return nil, errors.New("no history database path; pass --db or set XNMT_DB")
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, errors.Wrap(err, "failed to create data directory")
	}
	store, err := storage.New(cfg.DBPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	return store, nil
}

func newHistoryCommand(f *rootFlags, outW io.Writer) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := f.openStorage()
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.ListRuns(limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(outW, "No runs found.")
				return nil
			}
			for _, run := range runs {
				requested := "all"
				if len(run.Requested) > 0 {
					requested = strings.Join(run.Requested, ",")
				}
				fmt.Fprintf(outW, "#%d %s [%s] %s (%s)\n",
					run.ID, run.ConfigPath, run.Status, requested,
					storage.FormatTimeAgo(run.CreatedAt))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to list")
	return cmd
}

func newShowCommand(f *rootFlags, outW io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show the experiments and scores of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return usageError("invalid run ID: %v", err)
			}

			store, err := f.openStorage()
			if err != nil {
				return err
			}
			defer store.Close()

			run, err := store.GetRun(runID)
			if err != nil {
				return errors.Wrap(err, "failed to get run")
			}
			fmt.Fprintf(outW, "Run #%d: %s\n", run.ID, run.ConfigPath)
			fmt.Fprintf(outW, "Status: %s\n", run.Status)
			if run.Error != "" {
				fmt.Fprintf(outW, "Error: %s\n", run.Error)
			}

			exps, err := store.GetExperimentsForRun(runID)
			if err != nil {
				return err
			}
			results := make([]orchestrator.Result, 0, len(exps))
			for _, exp := range exps {
				fmt.Fprintf(outW, "  %d. %s [%s, %s]\n", exp.SequenceNum, exp.Name, exp.Status, exp.Stage)
				if exp.RandomSearchReport != "" {
					fmt.Fprintf(outW, "     random search: %s\n", exp.RandomSearchReport)
				}
				results = append(results, orchestrator.RecordedResult(exp))
			}
			orchestrator.WriteReport(outW, results)
			return nil
		},
	}
}

func newBrowseCommand(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "browse",
		Short: "Browse the run history interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := f.openStorage()
			if err != nil {
				return err
			}
			defer store.Close()

			p := tea.NewProgram(tui.NewApp(store), tea.WithAltScreen())
			_, err = p.Run()
			return err
		},
	}
}
