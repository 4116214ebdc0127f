package main

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/hpungsan/wsdump/internal/archive"
	"github.com/hpungsan/wsdump/internal/capture"
	"github.com/hpungsan/wsdump/internal/config"
	"github.com/hpungsan/wsdump/internal/errors"
	"github.com/hpungsan/wsdump/internal/exchange/bitfinex"
	"github.com/hpungsan/wsdump/internal/exchange/bitflyer"
	"github.com/hpungsan/wsdump/internal/exchange/bitmex"
	"github.com/hpungsan/wsdump/internal/logging"
	"github.com/hpungsan/wsdump/internal/ops"
	"github.com/hpungsan/wsdump/internal/replay"
	"github.com/hpungsan/wsdump/internal/sink/sqlite"
)

// allExchanges is what --exchange=all expands to.
var allExchanges = []string{bitflyer.Name, bitfinex.Name, bitmex.Name}

// appState is filled in by the Before hook and shared by every command.
type appState struct {
	cfg    *config.Config
	logger zerolog.Logger
}

// newCLIApp creates the CLI application with all commands. JSON results go
// to stdout; logs go to stderr.
func newCLIApp(stdout, stderr io.Writer) *cli.App {
	st := &appState{logger: zerolog.Nop()}
	app := &cli.App{
		Name:      "wsdump",
		Usage:     "Capture exchange websocket streams and replay them into sqlite",
		Version:   Version,
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Value: defaultConfigDir(), Usage: "Directory holding config.json"},
			&cli.StringFlag{Name: "log-level", Usage: "Override the configured log level"},
			&cli.BoolFlag{Name: "log-pretty", Usage: "Human-readable logs"},
		},
		Before: func(c *cli.Context) error {
			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return outputError(err)
			}
			if lvl := c.String("log-level"); lvl != "" {
				cfg.LogLevel = lvl
			}
			if c.Bool("log-pretty") {
				cfg.LogPretty = true
			}
			logger, err := logging.New(stderr, cfg.LogLevel, cfg.LogPretty)
			if err != nil {
				return outputError(errors.NewInvalidRequest(err.Error()))
			}
			st.cfg = cfg
			st.logger = logger
			return nil
		},
		Commands: []*cli.Command{
			captureCmd(st),
			replayCmd(st),
			runsCmd(st),
			inventoryCmd(st),
			concatCmd(st),
			archivedCmd(st),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// captureCmd creates the capture command.
func captureCmd(st *appState) *cli.Command {
	return &cli.Command{
		Name:  "capture",
		Usage: "Record exchange streams until interrupted",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "exchange", Aliases: []string{"e"}, Usage: "bitflyer|bitfinex|bitmex|all (repeatable; default from config)"},
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Capture root directory (default from config)"},
		},
		Action: func(c *cli.Context) error {
			cfg := st.cfg
			if out := c.String("out"); out != "" {
				cfg.OutputDir = out
			}
			if err := ops.ValidatePath(cfg.OutputDir, ops.PathCheckDir); err != nil {
				return outputError(err)
			}

			names := expandExchanges(c.StringSlice("exchange"), cfg.Exchanges)
			client := &http.Client{Timeout: cfg.HTTPTimeout.Std()}
			sessions, err := capture.Sessions(names, cfg, client, st.logger)
			if err != nil {
				return outputError(err)
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			opts := capture.NewOptions(cfg)
			reg, err := replay.NewRegistry()
			if err != nil {
				return outputError(err)
			}
			opts.Registry = reg

			archiver, err := archive.New(cfg.Archive, st.logger)
			if err != nil {
				return outputError(err)
			}
			if archiver != nil {
				if err := archiver.EnsureBucket(ctx); err != nil {
					return outputError(err)
				}
				// Uploads of the files closed at shutdown must outlive the signal.
				opts.OnClose = archiver.Hook(context.WithoutCancel(ctx))
				defer archiver.Wait()
			}

			st.logger.Info().Strs("exchanges", names).Str("dir", cfg.OutputDir).Msg("starting capture")
			if err := capture.RunAll(ctx, sessions, opts, st.logger); err != nil {
				return outputError(err)
			}
			return nil
		},
	}
}

// expandExchanges resolves the --exchange values, falling back to the
// configured list. "all" selects every exchange.
func expandExchanges(flag, configured []string) []string {
	if len(flag) == 0 {
		return configured
	}
	for _, name := range flag {
		if name == "all" {
			return allExchanges
		}
	}
	return flag
}

// replayResult is printed by the replay command.
type replayResult struct {
	*replay.Summary
	RunID string `json:"run_id"`
	Rows  int    `json:"rows"`
	DB    string `json:"db"`
}

// replayCmd creates the replay command.
func replayCmd(st *appState) *cli.Command {
	return &cli.Command{
		Name:  "replay",
		Usage: "Replay one capture file into a sqlite database",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "in", Aliases: []string{"i"}, Required: true, Usage: "Capture file (.json.lines or .json.lines.gz)"},
			&cli.StringFlag{Name: "db", Required: true, Usage: "Output database (.db, .sqlite or .sqlite3)"},
		},
		Action: func(c *cli.Context) error {
			in, dbPath := c.String("in"), c.String("db")
			if err := ops.ValidatePath(in, ops.PathCheckLog); err != nil {
				return outputError(err)
			}
			if err := ops.ValidatePath(dbPath, ops.PathCheckDatabase); err != nil {
				return outputError(err)
			}

			reg, err := replay.NewRegistry()
			if err != nil {
				return outputError(err)
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			out, err := sqlite.Open(ctx, dbPath, filepath.Base(in), st.logger)
			if err != nil {
				return outputError(err)
			}
			defer out.Close()

			summary, err := replay.ReplayFile(ctx, in, reg, out, st.logger)
			if err != nil {
				out.Fail(err)
				return outputError(err)
			}
			return outputJSON(c.App.Writer, replayResult{
				Summary: summary,
				RunID:   out.RunID(),
				Rows:    out.Rows(),
				DB:      dbPath,
			})
		},
	}
}

// runsCmd creates the runs command.
func runsCmd(st *appState) *cli.Command {
	return &cli.Command{
		Name:  "runs",
		Usage: "List replay runs recorded in a database",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "db", Required: true, Usage: "Database written by replay"},
			&cli.StringFlag{Name: "source", Usage: "Only runs of this capture file (base name)"},
		},
		Action: func(c *cli.Context) error {
			dbPath := c.String("db")
			if err := ops.ValidatePath(dbPath, ops.PathCheckDatabase); err != nil {
				return outputError(err)
			}
			if _, err := os.Stat(dbPath); os.IsNotExist(err) {
				return outputError(errors.NewFileNotFound(dbPath))
			}

			database, err := sqlite.Init(dbPath)
			if err != nil {
				return outputError(errors.NewInternal(err))
			}
			defer database.Close()

			runs, err := sqlite.ListRuns(c.Context, database, c.String("source"))
			if err != nil {
				return outputError(err)
			}
			if runs == nil {
				runs = []sqlite.Run{}
			}
			return outputJSON(c.App.Writer, map[string]any{"runs": runs, "total": len(runs)})
		},
	}
}

// inventoryCmd creates the inventory command.
func inventoryCmd(st *appState) *cli.Command {
	return &cli.Command{
		Name:  "inventory",
		Usage: "List capture files in a directory with their headers",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "dir", Aliases: []string{"d"}, Required: true, Usage: "Directory of one exchange's capture files"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.Inventory(c.String("dir"))
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

// concatCmd creates the concat command.
func concatCmd(st *appState) *cli.Command {
	return &cli.Command{
		Name:  "concat",
		Usage: "Write every line of every capture file in a directory to stdout, oldest first",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "dir", Aliases: []string{"d"}, Required: true, Usage: "Directory of one exchange's capture files"},
		},
		Action: func(c *cli.Context) error {
			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			output, err := ops.Concat(ctx, c.String("dir"), c.App.Writer, st.logger)
			if err != nil {
				return outputError(err)
			}
			st.logger.Info().
				Int("files", output.Files).
				Int("lines", output.Lines).
				Int("truncated", len(output.Truncated)).
				Msg("concat finished")
			return nil
		},
	}
}

// archivedCmd creates the archived command.
func archivedCmd(st *appState) *cli.Command {
	return &cli.Command{
		Name:  "archived",
		Usage: "List capture files uploaded to the archive bucket",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "exchange", Aliases: []string{"e"}, Usage: "Only this exchange"},
		},
		Action: func(c *cli.Context) error {
			archiver, err := archive.New(st.cfg.Archive, st.logger)
			if err != nil {
				return outputError(err)
			}
			if archiver == nil {
				return outputError(errors.NewInvalidRequest("archive is not enabled"))
			}
			objects, err := archiver.List(c.Context, c.String("exchange"))
			if err != nil {
				return outputError(err)
			}
			if objects == nil {
				objects = []archive.Object{}
			}
			return outputJSON(c.App.Writer, map[string]any{"objects": objects, "total": len(objects)})
		},
	}
}

// Helper functions

// outputJSON writes result to w as indented JSON.
func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	var dumpErr *errors.DumpError
	if stderrors.As(err, &dumpErr) {
		if err == error(dumpErr) {
			return cli.Exit(fmt.Sprintf("[%s] %s", dumpErr.Code, dumpErr.Message), 1)
		}
		return cli.Exit(fmt.Sprintf("[%s] %v", dumpErr.Code, err), 1)
	}
	return cli.Exit(err.Error(), 1)
}
