package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/bouncer/pkg/comm"
	"github.com/go-go-golems/bouncer/pkg/config"
	"github.com/go-go-golems/bouncer/pkg/controller"
	"github.com/go-go-golems/bouncer/pkg/events"
	"github.com/go-go-golems/bouncer/pkg/history"
	"github.com/go-go-golems/bouncer/pkg/irc"
	"github.com/go-go-golems/bouncer/pkg/persist"
	"github.com/go-go-golems/bouncer/pkg/redisstream"
)

func newServeCmd() *cobra.Command {
	var configPath string
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bouncer: restore persisted networks and serve the HTTP bus",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Addr = addr
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML config")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	return cmd
}

func runServe(ctx context.Context, cfg config.Config) error {
	router, err := redisstream.BuildRouter(cfg.Redis, false)
	if err != nil {
		return errors.Wrap(err, "build event router")
	}
	if cfg.Redis.Enabled {
		if err := redisstream.EnsureGroupAtTail(ctx, cfg.Redis.Addr, events.Topic, cfg.Redis.Group); err != nil {
			return errors.Wrap(err, "prepare redis consumer group")
		}
	}

	hist, err := history.Open(cfg.HistoryPath())
	if err != nil {
		return err
	}
	defer func() { _ = hist.Close() }()

	uploads := persist.NewUploadStore(cfg.UploadsDir())
	snapshots := persist.NewSnapshotStore(cfg.SnapshotPath())

	ctrl := controller.New(irc.NewDialer(),
		controller.WithPublisher(router),
		controller.WithDefaultOptions(irc.Options(cfg.Opts)),
		controller.WithHistory(hist),
	)

	bus := comm.NewComm(cfg.Pass,
		comm.WithCommandHandler(ctrl),
		comm.WithGetHandler(historyGetHandler(hist)),
		comm.WithUploadHandler(func(meta string, body []byte) error {
			id, err := uploads.Put(meta, body)
			if err != nil {
				return err
			}
			log.Info().Str("id", id).Int("bytes", len(body)).Msg("upload stored")
			return nil
		}),
	)
	bus.AttachRouter(router, events.Topic)

	// an unreadable snapshot is fatal: the process must not run with an
	// unknown network set
	snaps, err := snapshots.Load()
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           bus,
		ReadHeaderTimeout: 5 * time.Second,
		// no write timeout: /event long-polls stay open indefinitely
	}

	eg := errgroup.Group{}
	srvCtx, srvCancel := context.WithCancel(ctx)
	defer srvCancel()

	eg.Go(func() error { return router.Run(srvCtx) })

	eg.Go(func() error {
		<-router.Running()
		if len(snaps) > 0 {
			log.Info().Int("networks", len(snaps)).Msg("restoring persisted networks")
			ctrl.Deserialize(srvCtx, snaps)
		}
		return nil
	})

	eg.Go(func() error {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		select {
		case <-sigChan:
			log.Info().Msg("received interrupt signal, shutting down gracefully...")
		case <-srvCtx.Done():
		}

		// write the snapshot while the registry is still populated; a
		// failed write only logs, the process is exiting regardless
		if err := snapshots.Save(ctrl.Serialize()); err != nil {
			log.Error().Err(err).Msg("writing shutdown snapshot failed")
		}

		srvCancel()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
			return err
		}
		if err := router.Close(); err != nil {
			log.Error().Err(err).Msg("router close error")
		}
		log.Info().Msg("shutdown complete")
		return nil
	})

	eg.Go(func() error {
		log.Info().Str("addr", cfg.Addr).Msg("starting bouncer HTTP bus")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server listen error")
			return err
		}
		return nil
	})

	return eg.Wait()
}

// historyGetHandler serves the get/ escape hatch:
// GET /get/history?key=K&host=H&chan=C&limit=N
func historyGetHandler(hist *history.Store) comm.GetHandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, args []string) {
		if len(args) == 0 || args[0] != "history" {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"error":"Method doesn't exist"}` + "\n"))
			return
		}
		q := r.URL.Query()
		limit, _ := strconv.Atoi(q.Get("limit"))

		msgs, err := hist.Recent(r.Context(), q.Get("host"), q.Get("chan"), limit)
		w.Header().Set("Content-Type", "application/json")
		if err != nil {
			log.Error().Err(err).Msg("history query failed")
			_ = json.NewEncoder(w).Encode(map[string]any{"error": "history unavailable"})
			return
		}
		if msgs == nil {
			msgs = []history.Message{}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"messages": msgs})
	}
}
