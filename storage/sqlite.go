package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/hove-io/kirin-go/model"
)

// SQLiteConfig selects an on-disk or in-memory SQLite database.
type SQLiteConfig struct {
	OnDisk    bool
	Directory string
}

// SQLiteStorage is a lightweight backend for tests and local development
// (in-memory by default, on-disk on request), implementing the same
// Storage contract as PSQLStorage. The CLI commands use PSQLStorage.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens a SQLite-backed Storage, defaulting to an
// in-memory database unless cfg requests OnDisk.
func NewSQLiteStorage(cfg ...SQLiteConfig) (*SQLiteStorage, error) {
	onDisk, directory := false, "."
	if len(cfg) > 0 {
		onDisk, directory = cfg[0].OnDisk, cfg[0].Directory
	}

	sourceName := ":memory:"
	if onDisk {
		sourceName = directory + "/kirin.db"
	}

	db, err := sql.Open("sqlite3", sourceName)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec(sqliteSchemaSQL); err != nil {
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

const sqliteSchemaSQL = `
CREATE TABLE IF NOT EXISTS contributor (
	id TEXT PRIMARY KEY,
	navitia_coverage TEXT,
	navitia_token TEXT,
	feed_url TEXT,
	connector_type TEXT,
	stop_code_key TEXT
);

CREATE TABLE IF NOT EXISTS vehicle_journey (
	id TEXT PRIMARY KEY,
	navitia_trip_id TEXT NOT NULL,
	start_timestamp TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS vehicle_journey_start_timestamp_idx ON vehicle_journey(start_timestamp);

CREATE TABLE IF NOT EXISTS trip_update (
	vj_id TEXT PRIMARY KEY REFERENCES vehicle_journey(id) ON DELETE CASCADE,
	status TEXT NOT NULL,
	effect TEXT NOT NULL,
	contributor_id TEXT NOT NULL,
	message TEXT,
	company_id TEXT,
	physical_mode_id TEXT,
	headsign TEXT,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS trip_update_contributor_id_idx ON trip_update(contributor_id);

CREATE TABLE IF NOT EXISTS stop_time_update (
	id TEXT PRIMARY KEY,
	trip_update_id TEXT NOT NULL REFERENCES trip_update(vj_id) ON DELETE CASCADE,
	"order" INTEGER NOT NULL,
	stop_id TEXT NOT NULL,
	message TEXT,
	arrival_time TIMESTAMP,
	arrival_delay INTEGER,
	arrival_status TEXT NOT NULL,
	departure_time TIMESTAMP,
	departure_delay INTEGER,
	departure_status TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS real_time_update (
	id TEXT PRIMARY KEY,
	received_at TIMESTAMP NOT NULL,
	connector TEXT NOT NULL,
	status TEXT NOT NULL,
	error TEXT,
	raw_data BLOB,
	contributor_id TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS real_time_update_created_at_idx ON real_time_update(received_at);

CREATE TABLE IF NOT EXISTS associate_realtimeupdate_tripupdate (
	real_time_update_id TEXT NOT NULL,
	vj_id TEXT NOT NULL,
	PRIMARY KEY (real_time_update_id, vj_id)
);
`

// GetTripUpdate implements Storage.
func (s *SQLiteStorage) GetTripUpdate(ctx context.Context, navitiaTripID string, startTimestamp time.Time) (*model.TripUpdate, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT tu.vj_id, vj.id, vj.navitia_trip_id, vj.start_timestamp,
       tu.status, tu.effect, tu.contributor_id, tu.message, tu.company_id, tu.physical_mode_id, tu.headsign
FROM trip_update tu
JOIN vehicle_journey vj ON vj.id = tu.vj_id
WHERE vj.navitia_trip_id = ? AND vj.start_timestamp = ?`, navitiaTripID, startTimestamp)

	tu := &model.TripUpdate{VJ: &model.VehicleJourney{}}
	err := row.Scan(&tu.VJID, &tu.VJ.ID, &tu.VJ.NavitiaTripID, &tu.VJ.StartTimestamp,
		&tu.Status, &tu.Effect, &tu.Contributor, &tu.Message, &tu.CompanyID, &tu.PhysicalModeID, &tu.Headsign)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying trip update: %w", err)
	}

	stops, err := s.loadStopTimeUpdates(ctx, tu.VJID)
	if err != nil {
		return nil, err
	}
	tu.StopTimeUpdates = stops

	return tu, nil
}

func (s *SQLiteStorage) loadStopTimeUpdates(ctx context.Context, vjID string) ([]*model.StopTimeUpdate, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, "order", stop_id, message,
       arrival_time, arrival_delay, arrival_status,
       departure_time, departure_delay, departure_status
FROM stop_time_update WHERE trip_update_id = ? ORDER BY "order" ASC`, vjID)
	if err != nil {
		return nil, fmt.Errorf("querying stop time updates: %w", err)
	}
	defer rows.Close()

	var out []*model.StopTimeUpdate
	for rows.Next() {
		st := &model.StopTimeUpdate{}
		var arrivalTime, departureTime sql.NullTime
		var arrivalDelay, departureDelay sql.NullInt64

		if err := rows.Scan(&st.ID, &st.Order, &st.StopID, &st.Message,
			&arrivalTime, &arrivalDelay, &st.Arrival.Status,
			&departureTime, &departureDelay, &st.Departure.Status); err != nil {
			return nil, fmt.Errorf("scanning stop time update: %w", err)
		}
		st.Arrival.Time = arrivalTime.Time
		st.Arrival.Delay = time.Duration(arrivalDelay.Int64)
		st.Departure.Time = departureTime.Time
		st.Departure.Delay = time.Duration(departureDelay.Int64)

		out = append(out, st)
	}
	return out, rows.Err()
}

// SaveTripUpdate implements Storage.
func (s *SQLiteStorage) SaveTripUpdate(ctx context.Context, tu *model.TripUpdate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO vehicle_journey (id, navitia_trip_id, start_timestamp) VALUES (?, ?, ?)
ON CONFLICT (id) DO NOTHING`, tu.VJ.ID, tu.VJ.NavitiaTripID, tu.VJ.StartTimestamp); err != nil {
		return fmt.Errorf("upserting vehicle_journey: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO trip_update (vj_id, status, effect, contributor_id, message, company_id, physical_mode_id, headsign, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
ON CONFLICT (vj_id) DO UPDATE SET
	status = excluded.status, effect = excluded.effect, message = excluded.message,
	company_id = excluded.company_id, physical_mode_id = excluded.physical_mode_id,
	headsign = excluded.headsign, updated_at = CURRENT_TIMESTAMP`,
		tu.VJID, tu.Status, tu.Effect, tu.Contributor, tu.Message, tu.CompanyID, tu.PhysicalModeID, tu.Headsign); err != nil {
		return fmt.Errorf("upserting trip_update: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM stop_time_update WHERE trip_update_id = ?`, tu.VJID); err != nil {
		return fmt.Errorf("clearing stop_time_update: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO stop_time_update
	(id, trip_update_id, "order", stop_id, message, arrival_time, arrival_delay, arrival_status, departure_time, departure_delay, departure_status)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing stop_time_update insert: %w", err)
	}
	defer stmt.Close()

	for _, st := range tu.StopTimeUpdates {
		if st.ID == "" {
			st.ID = uuid.NewString()
		}

		var arrivalTime, departureTime interface{}
		if !st.Arrival.Time.IsZero() {
			arrivalTime = st.Arrival.Time
		}
		if !st.Departure.Time.IsZero() {
			departureTime = st.Departure.Time
		}

		if _, err := stmt.ExecContext(ctx,
			st.ID, tu.VJID, st.Order, st.StopID, st.Message,
			arrivalTime, int64(st.Arrival.Delay), st.Arrival.Status,
			departureTime, int64(st.Departure.Delay), st.Departure.Status); err != nil {
			return fmt.Errorf("inserting stop_time_update: %w", err)
		}
	}

	return tx.Commit()
}

// ListTripUpdates implements Storage.
func (s *SQLiteStorage) ListTripUpdates(ctx context.Context) ([]*model.TripUpdate, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT tu.vj_id, vj.id, vj.navitia_trip_id, vj.start_timestamp,
       tu.status, tu.effect, tu.contributor_id, tu.message, tu.company_id, tu.physical_mode_id, tu.headsign
FROM trip_update tu JOIN vehicle_journey vj ON vj.id = tu.vj_id`)
	if err != nil {
		return nil, fmt.Errorf("listing trip updates: %w", err)
	}
	defer rows.Close()

	var out []*model.TripUpdate
	for rows.Next() {
		tu := &model.TripUpdate{VJ: &model.VehicleJourney{}}
		if err := rows.Scan(&tu.VJID, &tu.VJ.ID, &tu.VJ.NavitiaTripID, &tu.VJ.StartTimestamp,
			&tu.Status, &tu.Effect, &tu.Contributor, &tu.Message, &tu.CompanyID, &tu.PhysicalModeID, &tu.Headsign); err != nil {
			return nil, fmt.Errorf("scanning trip update: %w", err)
		}
		out = append(out, tu)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, tu := range out {
		stops, err := s.loadStopTimeUpdates(ctx, tu.VJID)
		if err != nil {
			return nil, err
		}
		tu.StopTimeUpdates = stops
	}

	return out, nil
}

// DeleteTripUpdatesOlderThan implements Storage.
func (s *SQLiteStorage) DeleteTripUpdatesOlderThan(ctx context.Context, contributor string, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
DELETE FROM vehicle_journey WHERE id IN (
	SELECT vj.id FROM vehicle_journey vj
	JOIN trip_update tu ON tu.vj_id = vj.id
	WHERE tu.contributor_id = ? AND vj.start_timestamp < ?
)`, contributor, before)
	if err != nil {
		return 0, fmt.Errorf("deleting trip updates: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// SaveRealTimeUpdate implements Storage.
func (s *SQLiteStorage) SaveRealTimeUpdate(ctx context.Context, ru *model.RealTimeUpdate) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO real_time_update (id, received_at, connector, status, error, raw_data, contributor_id)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ru.ID, ru.ReceivedAt, ru.Connector, ru.Status, ru.Error, ru.RawData, ru.Contributor)
	if err != nil {
		return fmt.Errorf("inserting real_time_update: %w", err)
	}
	return nil
}

// UpdateRealTimeUpdate implements Storage.
func (s *SQLiteStorage) UpdateRealTimeUpdate(ctx context.Context, ru *model.RealTimeUpdate) error {
	_, err := s.db.ExecContext(ctx, `UPDATE real_time_update SET status = ?, error = ? WHERE id = ?`, ru.Status, ru.Error, ru.ID)
	if err != nil {
		return fmt.Errorf("updating real_time_update: %w", err)
	}
	return nil
}

// FindRecentErrorReceipt implements Storage.
func (s *SQLiteStorage) FindRecentErrorReceipt(ctx context.Context, contributor, errMessage string, now time.Time, window time.Duration) (*model.RealTimeUpdate, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, received_at, connector, status, error, contributor_id
FROM real_time_update
WHERE contributor_id = ? AND status = 'KO' AND error = ? AND received_at >= ?
ORDER BY received_at DESC LIMIT 1`, contributor, errMessage, now.Add(-window))

	ru := &model.RealTimeUpdate{}
	err := row.Scan(&ru.ID, &ru.ReceivedAt, &ru.Connector, &ru.Status, &ru.Error, &ru.Contributor)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying recent error receipt: %w", err)
	}
	return ru, nil
}

// AssociateRealTimeUpdate implements Storage.
func (s *SQLiteStorage) AssociateRealTimeUpdate(ctx context.Context, realTimeUpdateID, vjID string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO associate_realtimeupdate_tripupdate (real_time_update_id, vj_id)
VALUES (?, ?) ON CONFLICT DO NOTHING`, realTimeUpdateID, vjID)
	if err != nil {
		return fmt.Errorf("associating real_time_update: %w", err)
	}
	return nil
}

// DeleteUnassociatedRealTimeUpdatesOlderThan implements Storage.
func (s *SQLiteStorage) DeleteUnassociatedRealTimeUpdatesOlderThan(ctx context.Context, connector model.ConnectorType, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
DELETE FROM real_time_update
WHERE connector = ? AND received_at < ?
  AND id NOT IN (SELECT real_time_update_id FROM associate_realtimeupdate_tripupdate)`, connector, before)
	if err != nil {
		return 0, fmt.Errorf("deleting unassociated real_time_updates: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// ContributorProbe implements Storage.
func (s *SQLiteStorage) ContributorProbe(ctx context.Context, contributor string) (ProbeReport, error) {
	report := ProbeReport{Contributor: contributor}

	row := s.db.QueryRowContext(ctx, `SELECT max(received_at) FROM real_time_update WHERE contributor_id = ?`, contributor)
	var lastUpdate sql.NullTime
	if err := row.Scan(&lastUpdate); err != nil {
		return report, fmt.Errorf("querying last_update: %w", err)
	}
	report.LastUpdate = lastUpdate.Time

	row = s.db.QueryRowContext(ctx, `SELECT max(received_at) FROM real_time_update WHERE contributor_id = ? AND status = 'OK'`, contributor)
	var lastValid sql.NullTime
	if err := row.Scan(&lastValid); err != nil {
		return report, fmt.Errorf("querying last_valid_update: %w", err)
	}
	report.LastValidUpdate = lastValid.Time

	row = s.db.QueryRowContext(ctx, `
SELECT error FROM real_time_update
WHERE contributor_id = ? AND status = 'KO'
ORDER BY received_at DESC LIMIT 1`, contributor)
	var lastError sql.NullString
	if err := row.Scan(&lastError); err != nil && err != sql.ErrNoRows {
		return report, fmt.Errorf("querying last_update_error: %w", err)
	}
	report.LastUpdateError = lastError.String

	return report, nil
}
