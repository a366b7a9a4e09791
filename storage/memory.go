package storage

import (
	"context"
	"sync"
	"time"

	"github.com/hove-io/kirin-go/model"
)

type tripUpdateKey struct {
	navitiaTripID  string
	startTimestamp int64
}

// MemoryStorage is an in-process Storage for tests and single-instance
// local development.
type MemoryStorage struct {
	mu sync.Mutex

	tripUpdates map[tripUpdateKey]*model.TripUpdate
	realTimeUpdates map[string]*model.RealTimeUpdate
	associations    map[string]map[string]bool // vjID -> set of RealTimeUpdate IDs
}

// NewMemoryStorage builds an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		tripUpdates:     map[tripUpdateKey]*model.TripUpdate{},
		realTimeUpdates: map[string]*model.RealTimeUpdate{},
		associations:    map[string]map[string]bool{},
	}
}

func keyFor(navitiaTripID string, startTimestamp time.Time) tripUpdateKey {
	return tripUpdateKey{navitiaTripID: navitiaTripID, startTimestamp: startTimestamp.Unix()}
}

// GetTripUpdate implements Storage.
func (s *MemoryStorage) GetTripUpdate(ctx context.Context, navitiaTripID string, startTimestamp time.Time) (*model.TripUpdate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tu, ok := s.tripUpdates[keyFor(navitiaTripID, startTimestamp)]
	if !ok {
		return nil, ErrNotFound
	}
	return tu, nil
}

// SaveTripUpdate implements Storage.
func (s *MemoryStorage) SaveTripUpdate(ctx context.Context, tu *model.TripUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tripUpdates[keyFor(tu.VJ.NavitiaTripID, tu.VJ.StartTimestamp)] = tu
	return nil
}

// ListTripUpdates implements Storage.
func (s *MemoryStorage) ListTripUpdates(ctx context.Context) ([]*model.TripUpdate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*model.TripUpdate, 0, len(s.tripUpdates))
	for _, tu := range s.tripUpdates {
		out = append(out, tu)
	}
	return out, nil
}

// DeleteTripUpdatesOlderThan implements Storage.
func (s *MemoryStorage) DeleteTripUpdatesOlderThan(ctx context.Context, contributor string, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for k, tu := range s.tripUpdates {
		if tu.Contributor != contributor {
			continue
		}
		if tu.VJ.StartTimestamp.Before(before) {
			delete(s.tripUpdates, k)
			delete(s.associations, tu.VJID)
			n++
		}
	}
	return n, nil
}

// SaveRealTimeUpdate implements Storage.
func (s *MemoryStorage) SaveRealTimeUpdate(ctx context.Context, ru *model.RealTimeUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *ru
	s.realTimeUpdates[ru.ID] = &cp
	return nil
}

// UpdateRealTimeUpdate implements Storage.
func (s *MemoryStorage) UpdateRealTimeUpdate(ctx context.Context, ru *model.RealTimeUpdate) error {
	return s.SaveRealTimeUpdate(ctx, ru)
}

// FindRecentErrorReceipt implements Storage.
func (s *MemoryStorage) FindRecentErrorReceipt(ctx context.Context, contributor, errMessage string, now time.Time, window time.Duration) (*model.RealTimeUpdate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *model.RealTimeUpdate
	for _, ru := range s.realTimeUpdates {
		if ru.Contributor != contributor || ru.Status != model.RTStatusKO || ru.Error != errMessage {
			continue
		}
		if now.Sub(ru.ReceivedAt) > window {
			continue
		}
		if best == nil || ru.ReceivedAt.After(best.ReceivedAt) {
			best = ru
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return best, nil
}

// CountRealTimeUpdates reports how many receipts are stored. Tests use
// it to assert receipt-count behavior; the SQL backends answer the same
// question with a COUNT query instead.
func (s *MemoryStorage) CountRealTimeUpdates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.realTimeUpdates)
}

// AssociateRealTimeUpdate implements Storage.
func (s *MemoryStorage) AssociateRealTimeUpdate(ctx context.Context, realTimeUpdateID, vjID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.associations[vjID] == nil {
		s.associations[vjID] = map[string]bool{}
	}
	s.associations[vjID][realTimeUpdateID] = true
	return nil
}

// DeleteUnassociatedRealTimeUpdatesOlderThan implements Storage.
func (s *MemoryStorage) DeleteUnassociatedRealTimeUpdatesOlderThan(ctx context.Context, connector model.ConnectorType, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	associated := map[string]bool{}
	for _, ids := range s.associations {
		for id := range ids {
			associated[id] = true
		}
	}

	n := 0
	for id, ru := range s.realTimeUpdates {
		if ru.Connector != connector || associated[id] {
			continue
		}
		if ru.ReceivedAt.Before(before) {
			delete(s.realTimeUpdates, id)
			n++
		}
	}
	return n, nil
}

// ContributorProbe implements Storage.
func (s *MemoryStorage) ContributorProbe(ctx context.Context, contributor string) (ProbeReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := ProbeReport{Contributor: contributor}
	var lastErrorAt time.Time
	haveError := false
	for _, ru := range s.realTimeUpdates {
		if ru.Contributor != contributor {
			continue
		}
		if ru.ReceivedAt.After(report.LastUpdate) {
			report.LastUpdate = ru.ReceivedAt
		}
		if ru.Status == model.RTStatusOK && ru.ReceivedAt.After(report.LastValidUpdate) {
			report.LastValidUpdate = ru.ReceivedAt
		}
		if ru.Status == model.RTStatusKO && (!haveError || ru.ReceivedAt.After(lastErrorAt)) {
			report.LastUpdateError = ru.Error
			lastErrorAt, haveError = ru.ReceivedAt, true
		}
	}
	return report, nil
}
