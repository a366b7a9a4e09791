// Package probe reports per-contributor feed health: when a contributor
// last sent anything, when it last sent something that merged cleanly,
// and its last error.
package probe

import (
	"context"

	"github.com/hove-io/kirin-go/storage"
)

// Report is the JSON-serialisable shape returned by the probe endpoint.
type Report struct {
	Contributor     string `json:"contributor"`
	LastUpdate      string `json:"last_update,omitempty"`
	LastValidUpdate string `json:"last_valid_update,omitempty"`
	LastUpdateError string `json:"last_update_error,omitempty"`
}

const rfc3339 = "2006-01-02T15:04:05Z07:00"

// Check reports contributor's current health as stored, formatting
// timestamps RFC3339 and omitting any that were never set.
func Check(ctx context.Context, store storage.Storage, contributor string) (Report, error) {
	pr, err := store.ContributorProbe(ctx, contributor)
	if err != nil {
		return Report{}, err
	}

	report := Report{Contributor: pr.Contributor}
	if !pr.LastUpdate.IsZero() {
		report.LastUpdate = pr.LastUpdate.Format(rfc3339)
	}
	if !pr.LastValidUpdate.IsZero() {
		report.LastValidUpdate = pr.LastValidUpdate.Format(rfc3339)
	}
	report.LastUpdateError = pr.LastUpdateError

	return report, nil
}
