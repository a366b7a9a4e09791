package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	gtfsproto "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"google.golang.org/protobuf/proto"

	"github.com/hove-io/kirin-go/catalog"
	"github.com/hove-io/kirin-go/config"
	"github.com/hove-io/kirin-go/gtfsrt"
	"github.com/hove-io/kirin-go/lock"
	"github.com/hove-io/kirin-go/merge"
	"github.com/hove-io/kirin-go/model"
	"github.com/hove-io/kirin-go/publish"
	"github.com/hove-io/kirin-go/storage"
	"github.com/hove-io/kirin-go/telemetry"
)

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Pull each configured GTFS-RT contributor's feed URL once and merge it",
	RunE:  runPoll,
}

func runPoll(cmd *cobra.Command, args []string) error {
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

	ctx := context.Background()

	for i, contributor := range contributors {
		if contributor.ConnectorType != model.ConnectorGTFSRT || contributor.FeedURL == "" {
			continue
		}
		contributorConfig := contributorConfigs[i]

		navitia := catalog.NewHTTPClient(cfg.NavitiaURL, contributorConfig.NavitiaCoverage, contributorConfig.NavitiaToken)
		cached := catalog.NewCachedClient(navitia, redisClient, 5*time.Minute)

		if err := pollOne(ctx, contributor, contributorConfig, cached, mergeHandler, store); err != nil {
			telemetry.Default.Error("polling contributor failed", err, "contributor", contributor.ID)
		}
	}

	return nil
}

func pollOne(ctx context.Context, contributor model.Contributor, cfg config.ContributorConfig, cat catalog.Client, mergeHandler *merge.Handler, store storage.Storage) error {
	raw, err := fetch(ctx, contributor.FeedURL)
	if err != nil {
		return fmt.Errorf("fetching feed: %w", err)
	}

	feed := &gtfsproto.FeedMessage{}
	if err := proto.Unmarshal(raw, feed); err != nil {
		return fmt.Errorf("decoding feed: %w", err)
	}

	ru := model.NewRealTimeUpdate(raw, model.ConnectorGTFSRT, contributor.ID)
	if err := store.SaveRealTimeUpdate(ctx, ru); err != nil {
		return fmt.Errorf("persisting real time update: %w", err)
	}

	candidates, err := gtfsrt.Build(ctx, feed, contributor, cfg, cat, telemetry.Default)
	if err != nil {
		ru.Status = model.RTStatusKO
		ru.Error = err.Error()
		telemetry.RecordCall(telemetry.Default, "failure", contributor.ID, "error", ru.Error)
		return store.UpdateRealTimeUpdate(ctx, ru)
	}

	if len(candidates) == 0 {
		ru.Status = model.RTStatusKO
		ru.Error = gtfsrt.NoInformationError(feed.GetHeader().GetTimestamp())
		telemetry.RecordCall(telemetry.Default, "failure", contributor.ID, "error", ru.Error)
		return store.UpdateRealTimeUpdate(ctx, ru)
	}

	if err := mergeHandler.Handle(ctx, ru, contributor, candidates); err != nil {
		return err
	}

	telemetry.RecordCall(telemetry.Default, string(ru.Status), contributor.ID, "connector", string(ru.Connector))
	return nil
}

func fetch(ctx context.Context, rawURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}
