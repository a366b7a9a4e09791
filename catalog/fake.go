package catalog

import (
	"context"
	"sync"
	"time"
)

// FakeEntry associates a trip code, keyed under a code type, with the
// baseline VehicleJourneys the fake returns for it.
type FakeEntry struct {
	CodeType string
	Code     string
	VJs      []VehicleJourney
}

// FakeClient is an in-memory Client for tests, returning whatever VJs
// were registered for a code. Window filtering is left to the caller's
// fixtures: tests register only journeys that belong in the window
// under test.
type FakeClient struct {
	mu      sync.Mutex
	entries []FakeEntry
	pubDate string
}

// NewFakeClient builds an empty FakeClient.
func NewFakeClient() *FakeClient {
	return &FakeClient{pubDate: "20260101T000000"}
}

// Add registers vjs as the baseline journeys returned for (codeType, code).
func (f *FakeClient) Add(codeType, code string, vjs ...VehicleJourney) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, FakeEntry{CodeType: codeType, Code: code, VJs: vjs})
}

// SetPublicationDate overrides the opaque cache key PublicationDate returns.
func (f *FakeClient) SetPublicationDate(pubDate string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pubDate = pubDate
}

// FindVehicleJourneys implements Client.
func (f *FakeClient) FindVehicleJourneys(ctx context.Context, codeType, code string, sinceUTC, untilUTC time.Time) ([]VehicleJourney, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []VehicleJourney
	for _, e := range f.entries {
		if e.CodeType != codeType || e.Code != code {
			continue
		}
		out = append(out, e.VJs...)
	}
	return out, nil
}

// PublicationDate implements Client.
func (f *FakeClient) PublicationDate(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pubDate, nil
}
