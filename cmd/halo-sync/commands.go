package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"halo-tracker/internal/config"
	"halo-tracker/internal/constants"
	fxmodules "halo-tracker/internal/fx"
	"halo-tracker/internal/service"
	"halo-tracker/internal/syncer"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func init() {
	rootCmd.AddCommand(playerCmd)
	rootCmd.AddCommand(allCmd)
}

var playerCmd = &cobra.Command{
	Use:   "player <xuid-or-gamertag>",
	Short: "Sync one player's match history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, engine service.Syncer, opts syncer.Options) error {
			res, err := engine.SyncPlayer(ctx, args[0], opts)
			if printErr := printJSON(resultView(res)); printErr != nil {
				return printErr
			}
			return err
		})
	},
}

var allCmd = &cobra.Command{
	Use:   "all",
	Short: "Sync every stored player",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, engine service.Syncer, opts syncer.Options) error {
			results, err := engine.SyncAllPlayers(ctx, opts)
			views := make(map[string]view, len(results))
			failed := 0
			for xuid, res := range results {
				if !res.OK() {
					failed++
				}
				views[xuid] = resultView(res)
			}
			if printErr := printJSON(views); printErr != nil {
				return printErr
			}
			if err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d players failed to sync", failed, len(results))
			}
			return nil
		})
	},
}

type view struct {
	syncer.Result
	Error string `json:"error,omitempty"`
}

func resultView(res syncer.Result) view {
	return view{Result: res, Error: res.Failure()}
}

// withEngine starts the sync dependencies, runs fn under a context that
// ends on SIGINT or SIGTERM, then stops them again.
func withEngine(cmd *cobra.Command, fn func(ctx context.Context, engine service.Syncer, opts syncer.Options) error) error {
	start, err := parseSince()
	if err != nil {
		return err
	}

	var (
		engine service.Syncer
		cfg    *config.Config
	)
	app := fx.New(
		fxmodules.Core,
		fx.Populate(&engine, &cfg),
		fx.NopLogger,
	)
	if err := app.Err(); err != nil {
		return fmt.Errorf("failed to build app: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Start(ctx); err != nil {
		return fmt.Errorf("failed to start app: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
		defer cancel()
		_ = app.Stop(stopCtx)
	}()

	opts := syncer.Options{MaxMatches: cfg.Sync.MaxMatches, ForceFull: forceFull, Since: start}
	if cmd.Flags().Changed("max-matches") {
		opts.MaxMatches = maxMatches
	}
	return fn(ctx, engine, opts)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	return nil
}
