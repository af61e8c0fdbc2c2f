// Command tokenwatch runs the alert evaluation and delivery engine.
//
// The run subcommand reads usage events as JSON lines from stdin, feeds
// them to the engine in micro-batches, and prints nothing on success;
// outcomes are persisted to the alert event store. The test-channel
// subcommand exercises a single notification channel directly.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/tokenwatch/tokenwatch/internal/alerting"
	"github.com/tokenwatch/tokenwatch/internal/api"
	"github.com/tokenwatch/tokenwatch/internal/conf"
	"github.com/tokenwatch/tokenwatch/internal/datastore"
	"github.com/tokenwatch/tokenwatch/internal/datastore/repository"
	"github.com/tokenwatch/tokenwatch/internal/logging"
	"github.com/tokenwatch/tokenwatch/internal/notify"
	"github.com/tokenwatch/tokenwatch/internal/version"
)

// batchSize is the maximum number of stdin events per ProcessBatch call.
const batchSize = 256

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "tokenwatch",
		Short:         "LLM usage alert evaluation and delivery engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	root.AddCommand(runCmd(&configPath))
	root.AddCommand(testChannelCmd(&configPath))
	root.AddCommand(versionCmd())
	return root
}

func runCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Process usage events from stdin against active alert configs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := conf.Load(*configPath)
			if err != nil {
				return err
			}
			log := logging.New(cfg.Logging)

			app, err := buildApp(cfg, log)
			if err != nil {
				return err
			}
			defer app.cleanup()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := app.engine.Start(ctx); err != nil {
				return err
			}
			defer app.engine.Stop()

			if cfg.API.Listen != "" {
				server := api.New(app.configRepo, app.store, app.engine, log).NewServer()
				go func() {
					log.Info().Str("listen", cfg.API.Listen).Msg("management api listening")
					if err := server.Start(cfg.API.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
						log.Error().Err(err).Msg("management api server failed")
					}
				}()
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					if err := server.Shutdown(shutdownCtx); err != nil {
						log.Error().Err(err).Msg("management api shutdown failed")
					}
				}()
			}

			return pumpEvents(ctx, app.engine, log)
		},
	}
}

func testChannelCmd(configPath *string) *cobra.Command {
	var message string

	cmd := &cobra.Command{
		Use:   "test-channel <type> <destination-json>",
		Short: "Send a test notification through one channel",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := conf.Load(*configPath)
			if err != nil {
				return err
			}
			log := logging.New(cfg.Logging)
			registry := notify.NewRegistry(cfg.Notify, log)

			if err := registry.TestChannel(cmd.Context(), args[0], args[1], message); err != nil {
				return fmt.Errorf("test send failed: %w", err)
			}
			fmt.Println("test notification sent")
			return nil
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "This is a test notification from tokenwatch.", "sample message body")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("tokenwatch %s (commit %s, built %s)\n", version.Version, version.Commit, version.BuildDate)
		},
	}
}

// app holds the wired runtime components of the run command.
type app struct {
	engine     *alerting.Engine
	configRepo repository.AlertConfigRepository
	store      repository.AlertEventStore
	cleanup    func()
}

// buildApp wires the datastore, senders, and engine from config.
func buildApp(cfg *conf.Config, log zerolog.Logger) (*app, error) {
	db, err := datastore.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	cleanup := func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	}

	configRepo := repository.NewAlertConfigRepository(db)
	store := repository.NewAlertEventStore(db)

	seedCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := alerting.SeedDefaultConfigs(seedCtx, configRepo, log); err != nil {
		cleanup()
		return nil, fmt.Errorf("seed default configs: %w", err)
	}

	registry := notify.NewRegistry(cfg.Notify, log)
	return &app{
		engine:     alerting.NewEngine(configRepo, store, registry, cfg.Engine, log),
		configRepo: configRepo,
		store:      store,
		cleanup:    cleanup,
	}, nil
}

// pumpEvents reads JSON-line events from stdin and processes them in
// micro-batches until EOF or cancellation.
func pumpEvents(ctx context.Context, engine *alerting.Engine, log zerolog.Logger) error {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	batch := make([]alerting.Event, 0, batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		result, err := engine.ProcessBatch(ctx, batch)
		if err != nil {
			return err
		}
		for _, ev := range result.Events {
			for _, fire := range ev.Fires {
				log.Info().
					Str("event_id", ev.EventID).
					Str("config", fire.ConfigName).
					Bool("suppressed", fire.Suppressed).
					Msg("alert evaluated")
			}
		}
		batch = batch[:0]
		return nil
	}

	for scanner.Scan() {
		if ctx.Err() != nil {
			break
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var event alerting.Event
		if err := json.Unmarshal(line, &event); err != nil {
			log.Warn().Err(err).Msg("skipping malformed event line")
			continue
		}
		if event.Timestamp.IsZero() {
			event.Timestamp = time.Now()
		}
		batch = append(batch, event)
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}
	return scanner.Err()
}
