package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"wbgate-go/internal/authtoken"
	"wbgate-go/internal/config"
	"wbgate-go/internal/endpoint"
	"wbgate-go/internal/events"
	"wbgate-go/internal/executor"
	"wbgate-go/internal/genai"
	"wbgate-go/internal/logging"
	"wbgate-go/internal/middleware"
	"wbgate-go/internal/monitoring/tracing"
	"wbgate-go/internal/server"
	"wbgate-go/internal/storage"
	"wbgate-go/internal/transport"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the config file")
	hashKey := flag.String("hash-key", "", "print the bcrypt hash for a management key and exit")
	flag.Parse()

	if *hashKey != "" {
		hash, err := middleware.HashManagementKey(*hashKey)
		if err != nil {
			fmt.Fprintf(os.Stderr, "hash key: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(hash)
		return
	}

	if err := run(*configPath); err != nil {
		log.Fatalf("wbgate: %v", err)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := logging.Setup(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx)
	if err != nil {
		log.Warnf("tracing disabled: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	durable, err := newDurableKV(ctx, cfg)
	if err != nil {
		return err
	}
	defer durable.Close()
	session := storage.NewMemoryKV()

	hub := events.NewHub()
	broadcaster := events.NewBroadcaster(hub,
		events.TopicAuthChanged,
		events.TopicEndpointFailover,
		events.TopicModelFallback,
		events.TopicConfigUpdated,
	)
	defer broadcaster.Stop()

	tokens := authtoken.NewStore(durable, session, hub)
	tokens.Load(ctx)

	resolver, err := endpoint.NewResolver(cfg.Endpoints)
	if err != nil {
		return err
	}

	coordinator := authtoken.NewCoordinator(tokens, newRefresher(cfg, resolver))

	execCfg := executor.Config{
		RequestTimeout: cfg.RequestTimeout(),
		MaxAttempts:    cfg.MaxAttempts,
	}
	if cfg.RateLimit.Enabled {
		execCfg.RateLimit = rate.NewLimiter(rate.Limit(cfg.RateLimit.RPS), cfg.RateLimit.Burst)
	}
	exec := executor.New(transport.NewHTTPTransport(), tokens, coordinator, resolver, hub,
		executor.Pipeline{}, execCfg)
	client := executor.NewClient(exec, tokens)
	gen := genai.New(client, cfg.Gen, hub)

	gw := server.New(server.Deps{
		Cfg:         cfg,
		Client:      client,
		Gen:         gen,
		Tokens:      tokens,
		Broadcaster: broadcaster,
	})

	// Hot-reload: endpoint list and model chain follow the config file.
	middleware.SafeGo("config-watcher", func() {
		err := config.Watch(ctx, configPath, func(next *config.Config) {
			if err := resolver.Update(next.Endpoints); err != nil {
				log.Warnf("config reload: endpoints rejected: %v", err)
				return
			}
			gen.UpdateConfig(next.Gen)
			hub.Publish(ctx, events.TopicConfigUpdated, nil)
			log.Infof("config reloaded: %d endpoints, %d models",
				len(next.Endpoints), len(next.Gen.Models))
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Warnf("config watcher stopped: %v", err)
		}
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", cfg.Port),
		Handler:           gw.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("wbgate listening on %s (primary endpoint %s)", srv.Addr, resolver.Primary())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newDurableKV(ctx context.Context, cfg *config.Config) (storage.KV, error) {
	switch cfg.Storage.Backend {
	case "redis":
		return storage.NewRedisKV(ctx, cfg.Storage.RedisAddr, cfg.Storage.RedisPassword,
			cfg.Storage.RedisDB, cfg.Storage.RedisPrefix)
	default:
		return storage.NewFileKV(cfg.Storage.BaseDir)
	}
}

func newRefresher(cfg *config.Config, resolver *endpoint.Resolver) authtoken.Refresher {
	if cfg.Refresh.Mode == "oauth2" {
		return authtoken.NewOAuth2Refresher(cfg.Refresh.TokenURL,
			cfg.Refresh.ClientID, cfg.Refresh.ClientSecret)
	}
	// Candidates are read per refresh, so the refresher tracks failover and
	// config hot-reload instead of pinning the startup primary.
	return authtoken.NewFailoverAPIRefresher(nil, resolver.Candidates, cfg.Refresh.Path)
}
