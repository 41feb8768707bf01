package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"simplemes/config"
	"simplemes/engine"
	"simplemes/messaging"
	"simplemes/protocol"
	"simplemes/workstate"
	"simplemes/www"
)

func serveCmd(g *globalFlags) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, event stream and background workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(g)
			if err != nil {
				return err
			}
			defer log.Sync()
			if port > 0 {
				cfg.Web.Port = port
			}
			return serve(cmd.Context(), g, cfg, log)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "HTTP port (overrides config)")
	return cmd
}

func serve(parent context.Context, g *globalFlags, cfg *config.Config, log *zap.Logger) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openDB(cfg, log)
	if err != nil {
		return err
	}
	defer db.Close()

	var cache *workstate.RedisStore
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Warn("redis unavailable, work state served from SQL only", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		} else {
			cache = workstate.NewRedisStore(rdb)
			log.Info("redis work-state cache enabled", zap.String("addr", cfg.Redis.Addr))
		}
	}

	eng := engine.New(engine.Config{
		AppConfig:  cfg,
		ConfigPath: g.configPath,
		DB:         db,
		Cache:      cache,
		Logger:     log,
		Debug:      g.debug,
	})
	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	defer eng.Stop()

	if cfg.Messaging.Enabled {
		client := messaging.NewClient(cfg.Messaging, log.Named("messaging"))
		defer client.Close()
		if err := client.Connect(); err != nil {
			log.Warn("messaging connect failed, events stay in the outbox", zap.Error(err))
		} else {
			ing := protocol.NewIngestor(eng.InboundHandler(), protocol.ForMES(cfg.Plant), log.Named("protocol"))
			if err := messaging.SubscribeInbound(client, cfg.Messaging.InboundTopic, ing, log); err != nil {
				log.Warn("inbound subscribe failed", zap.Error(err))
			}
		}
		// The drainer skips cycles while disconnected.
		drainer := messaging.NewOutboxDrainer(db, client, cfg.Messaging, log.Named("outbox"))
		drainer.Start()
		defer drainer.Stop()
	}

	router, stopWeb := www.NewRouter(eng)
	defer stopWeb()

	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port)
	server := &http.Server{Addr: addr, Handler: router, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		log.Info("simplemes listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	// SSE connections are long-lived; close the hub before draining HTTP.
	stopWeb()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("http server shutdown", zap.Error(err))
	}
	return nil
}
