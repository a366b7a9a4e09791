package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/hove-io/kirin-go/catalog"
	"github.com/hove-io/kirin-go/config"
	"github.com/hove-io/kirin-go/httpapi"
	"github.com/hove-io/kirin-go/lock"
	"github.com/hove-io/kirin-go/merge"
	"github.com/hove-io/kirin-go/model"
	"github.com/hove-io/kirin-go/publish"
	"github.com/hove-io/kirin-go/retention"
	"github.com/hove-io/kirin-go/storage"
	"github.com/hove-io/kirin-go/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the intake HTTP server, republishing merged disruptions",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.FromEnv()

	contributors, contributorConfigs, err := loadContributors(configPath)
	if err != nil {
		return err
	}

	store, err := storage.NewPSQLStorage(cfg.PostgresDSN, false)
	if err != nil {
		return err
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	locker := lock.NewRedisLocker(redisClient)

	publisher := publish.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange, telemetry.Default)
	defer publisher.Close()

	mergeHandler := &merge.Handler{
		Storage:   store,
		Locker:    locker,
		Publisher: publisher,
		Log:       telemetry.Default,
		LockTTL:   cfg.LockTTL,
	}

	root := mux.NewRouter()
	var connectors []model.ConnectorType
	for i, contributor := range contributors {
		contributorConfig := contributorConfigs[i]
		connectors = append(connectors, contributor.ConnectorType)

		navitia := catalog.NewHTTPClient(cfg.NavitiaURL, contributorConfig.NavitiaCoverage, contributorConfig.NavitiaToken)
		cached := catalog.NewCachedClient(navitia, redisClient, 5*time.Minute)

		h := &httpapi.Handler{
			Contributor: contributor,
			Config:      contributorConfig,
			Catalog:     cached,
			Merge:       mergeHandler,
			Storage:     store,
			Log:         telemetry.Default.With("contributor", contributor.ID),
		}
		root.PathPrefix("/" + contributor.ID).Handler(http.StripPrefix("/"+contributor.ID, h.Router()))
	}

	retentionRunner := &retention.Runner{
		Storage:               store,
		Contributors:          contributorConfigs,
		Connectors:            connectors,
		UnassociatedRetention: cfg.UnassociatedRetention,
		Log:                   telemetry.Default,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go retentionRunner.Run(ctx)

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: root}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	telemetry.Default.Info("serving", "addr", cfg.HTTPAddr, "contributors", len(contributors))
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
