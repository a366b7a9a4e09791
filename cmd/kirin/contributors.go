package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/hove-io/kirin-go/config"
	"github.com/hove-io/kirin-go/model"
)

// contributorSpec is the on-disk shape of one entry in the contributors
// config file: identity fields plus per-contributor tuning, flattened
// into one JSON object per contributor.
type contributorSpec struct {
	ID              string `json:"id"`
	NavitiaCoverage string `json:"navitia_coverage"`
	NavitiaToken    string `json:"navitia_token"`
	FeedURL         string `json:"feed_url"`
	ConnectorType   string `json:"connector_type"`
	StopCodeKey     string `json:"stop_code_key"`
	LookBehindSecs  int    `json:"look_behind_secs"`
	LookAheadSecs   int    `json:"look_ahead_secs"`
	RetentionDays   int    `json:"retention_days"`
}

// loadContributors reads the JSON array at path and builds both the
// immutable model.Contributor and the tunable config.ContributorConfig
// for each entry.
func loadContributors(path string) ([]model.Contributor, []config.ContributorConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening contributors file: %w", err)
	}
	defer f.Close()

	var specs []contributorSpec
	if err := json.NewDecoder(f).Decode(&specs); err != nil {
		return nil, nil, fmt.Errorf("decoding contributors file: %w", err)
	}

	contributors := make([]model.Contributor, 0, len(specs))
	configs := make([]config.ContributorConfig, 0, len(specs))

	for _, s := range specs {
		contributors = append(contributors, model.Contributor{
			ID:              s.ID,
			NavitiaCoverage: s.NavitiaCoverage,
			NavitiaToken:    s.NavitiaToken,
			FeedURL:         s.FeedURL,
			ConnectorType:   model.ConnectorType(s.ConnectorType),
			StopCodeKey:     s.StopCodeKey,
		})

		cfg := config.NewContributorConfig(s.ID, s.ConnectorType)
		cfg.NavitiaCoverage = s.NavitiaCoverage
		cfg.NavitiaToken = s.NavitiaToken
		cfg.FeedURL = s.FeedURL
		if s.StopCodeKey != "" {
			cfg.StopCodeKey = s.StopCodeKey
		}
		if s.LookBehindSecs > 0 {
			cfg.LookBehind = time.Duration(s.LookBehindSecs) * time.Second
		}
		if s.LookAheadSecs > 0 {
			cfg.LookAhead = time.Duration(s.LookAheadSecs) * time.Second
		}
		if s.RetentionDays > 0 {
			cfg.RetentionPeriod = time.Duration(s.RetentionDays) * 24 * time.Hour
		}
		configs = append(configs, cfg)
	}

	return contributors, configs, nil
}
