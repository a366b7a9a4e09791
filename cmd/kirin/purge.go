package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/hove-io/kirin-go/config"
	"github.com/hove-io/kirin-go/model"
	"github.com/hove-io/kirin-go/retention"
	"github.com/hove-io/kirin-go/storage"
	"github.com/hove-io/kirin-go/telemetry"
)

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Run one retention pass: purge aged TripUpdates and unassociated RealTimeUpdates",
	RunE:  runPurge,
}

func runPurge(cmd *cobra.Command, args []string) error {
	cfg := config.FromEnv()

	_, contributorConfigs, err := loadContributors(configPath)
	if err != nil {
		return err
	}

	store, err := storage.NewPSQLStorage(cfg.PostgresDSN, false)
	if err != nil {
		return err
	}

	runner := &retention.Runner{
		Storage:               store,
		Contributors:          contributorConfigs,
		Connectors:            []model.ConnectorType{model.ConnectorGTFSRT, model.ConnectorCOTS},
		UnassociatedRetention: cfg.UnassociatedRetention,
		Log:                   telemetry.Default,
	}

	runner.RunOnce(context.Background())
	return nil
}
