package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hove-io/kirin-go/model"
)

// StopTimeUpdateBatchSize bounds how many stop_time_update rows
// PSQLStorage.SaveTripUpdate batches into a single pq.CopyIn.
const StopTimeUpdateBatchSize = 5000

// PSQLStorage is the Postgres-backed Storage implementation, using
// pq.CopyIn to bulk-load stop_time_update rows.
type PSQLStorage struct {
	db *sql.DB
}

// NewPSQLStorage opens a Postgres Storage using connStr. If clearDB is
// true, the kirin tables are dropped and recreated, intended for tests
// only.
func NewPSQLStorage(connStr string, clearDB bool) (*PSQLStorage, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening db: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("pinging db: %w", err)
	}

	if clearDB {
		if _, err := db.Exec(`
DROP TABLE IF EXISTS associate_realtimeupdate_tripupdate;
DROP TABLE IF EXISTS stop_time_update;
DROP TABLE IF EXISTS trip_update;
DROP TABLE IF EXISTS vehicle_journey;
DROP TABLE IF EXISTS real_time_update;
DROP TABLE IF EXISTS contributor;
`); err != nil {
			return nil, fmt.Errorf("clearing db: %w", err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &PSQLStorage{db: db}, nil
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS contributor (
	id text PRIMARY KEY,
	navitia_coverage text,
	navitia_token text,
	feed_url text,
	connector_type text,
	stop_code_key text
);

CREATE TABLE IF NOT EXISTS vehicle_journey (
	id text PRIMARY KEY,
	navitia_trip_id text NOT NULL,
	start_timestamp timestamp NOT NULL
);
CREATE INDEX IF NOT EXISTS vehicle_journey_start_timestamp_idx ON vehicle_journey(start_timestamp);

CREATE TABLE IF NOT EXISTS trip_update (
	vj_id text PRIMARY KEY REFERENCES vehicle_journey(id) ON DELETE CASCADE,
	status text NOT NULL,
	effect text NOT NULL,
	contributor_id text NOT NULL,
	message text,
	company_id text,
	physical_mode_id text,
	headsign text,
	created_at timestamp NOT NULL DEFAULT now(),
	updated_at timestamp NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS trip_update_contributor_id_idx ON trip_update(contributor_id);

CREATE TABLE IF NOT EXISTS stop_time_update (
	id text PRIMARY KEY,
	trip_update_id text NOT NULL REFERENCES trip_update(vj_id) ON DELETE CASCADE,
	"order" integer NOT NULL,
	stop_id text NOT NULL,
	message text,
	arrival_time timestamp,
	arrival_delay bigint,
	arrival_status text NOT NULL,
	departure_time timestamp,
	departure_delay bigint,
	departure_status text NOT NULL
);

CREATE TABLE IF NOT EXISTS real_time_update (
	id text PRIMARY KEY,
	received_at timestamp NOT NULL,
	connector text NOT NULL,
	status text NOT NULL,
	error text,
	raw_data bytea,
	contributor_id text NOT NULL
);
CREATE INDEX IF NOT EXISTS real_time_update_created_at_idx ON real_time_update(received_at);
CREATE INDEX IF NOT EXISTS real_time_update_created_at_contributor_idx ON real_time_update(received_at, contributor_id);

CREATE TABLE IF NOT EXISTS associate_realtimeupdate_tripupdate (
	real_time_update_id text NOT NULL REFERENCES real_time_update(id) ON DELETE CASCADE,
	vj_id text NOT NULL,
	PRIMARY KEY (real_time_update_id, vj_id)
);
`

// GetTripUpdate implements Storage.
func (s *PSQLStorage) GetTripUpdate(ctx context.Context, navitiaTripID string, startTimestamp time.Time) (*model.TripUpdate, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT tu.vj_id, vj.id, vj.navitia_trip_id, vj.start_timestamp,
       tu.status, tu.effect, tu.contributor_id, tu.message, tu.company_id, tu.physical_mode_id, tu.headsign
FROM trip_update tu
JOIN vehicle_journey vj ON vj.id = tu.vj_id
WHERE vj.navitia_trip_id = $1 AND vj.start_timestamp = $2`, navitiaTripID, startTimestamp)

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

func (s *PSQLStorage) loadStopTimeUpdates(ctx context.Context, vjID string) ([]*model.StopTimeUpdate, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, "order", stop_id, message,
       arrival_time, arrival_delay, arrival_status,
       departure_time, departure_delay, departure_status
FROM stop_time_update WHERE trip_update_id = $1 ORDER BY "order" ASC`, vjID)
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

// SaveTripUpdate implements Storage, replacing the vehicle_journey,
// trip_update and stop_time_update rows for tu's dated trip in one
// transaction, bulk-loading stop_time_update via pq.CopyIn.
func (s *PSQLStorage) SaveTripUpdate(ctx context.Context, tu *model.TripUpdate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO vehicle_journey (id, navitia_trip_id, start_timestamp)
VALUES ($1, $2, $3)
ON CONFLICT (id) DO NOTHING`, tu.VJ.ID, tu.VJ.NavitiaTripID, tu.VJ.StartTimestamp); err != nil {
		return fmt.Errorf("upserting vehicle_journey: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO trip_update (vj_id, status, effect, contributor_id, message, company_id, physical_mode_id, headsign, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
ON CONFLICT (vj_id) DO UPDATE SET
	status = EXCLUDED.status, effect = EXCLUDED.effect, message = EXCLUDED.message,
	company_id = EXCLUDED.company_id, physical_mode_id = EXCLUDED.physical_mode_id,
	headsign = EXCLUDED.headsign, updated_at = now()`,
		tu.VJID, tu.Status, tu.Effect, tu.Contributor, tu.Message, tu.CompanyID, tu.PhysicalModeID, tu.Headsign); err != nil {
		return fmt.Errorf("upserting trip_update: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM stop_time_update WHERE trip_update_id = $1`, tu.VJID); err != nil {
		return fmt.Errorf("clearing stop_time_update: %w", err)
	}

	for start := 0; start < len(tu.StopTimeUpdates); start += StopTimeUpdateBatchSize {
		end := start + StopTimeUpdateBatchSize
		if end > len(tu.StopTimeUpdates) {
			end = len(tu.StopTimeUpdates)
		}
		if err := copyInStopTimeUpdates(tx, tu.VJID, tu.StopTimeUpdates[start:end]); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func copyInStopTimeUpdates(tx *sql.Tx, tripUpdateID string, batch []*model.StopTimeUpdate) error {
	stmt, err := tx.Prepare(pq.CopyIn("stop_time_update",
		"id", "trip_update_id", "order", "stop_id", "message",
		"arrival_time", "arrival_delay", "arrival_status",
		"departure_time", "departure_delay", "departure_status"))
	if err != nil {
		return fmt.Errorf("preparing copy statement: %w", err)
	}
	defer stmt.Close()

	for _, st := range batch {
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

		if _, err := stmt.Exec(
			st.ID, tripUpdateID, st.Order, st.StopID, st.Message,
			arrivalTime, int64(st.Arrival.Delay), st.Arrival.Status,
			departureTime, int64(st.Departure.Delay), st.Departure.Status,
		); err != nil {
			return fmt.Errorf("COPY stop_time_update: %w", err)
		}
	}

	if _, err := stmt.Exec(); err != nil {
		return fmt.Errorf("executing copy statement: %w", err)
	}
	return nil
}

// ListTripUpdates implements Storage.
func (s *PSQLStorage) ListTripUpdates(ctx context.Context) ([]*model.TripUpdate, error) {
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
func (s *PSQLStorage) DeleteTripUpdatesOlderThan(ctx context.Context, contributor string, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
DELETE FROM vehicle_journey WHERE id IN (
	SELECT vj.id FROM vehicle_journey vj
	JOIN trip_update tu ON tu.vj_id = vj.id
	WHERE tu.contributor_id = $1 AND vj.start_timestamp < $2
)`, contributor, before)
	if err != nil {
		return 0, fmt.Errorf("deleting trip updates: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// SaveRealTimeUpdate implements Storage.
func (s *PSQLStorage) SaveRealTimeUpdate(ctx context.Context, ru *model.RealTimeUpdate) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO real_time_update (id, received_at, connector, status, error, raw_data, contributor_id)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ru.ID, ru.ReceivedAt, ru.Connector, ru.Status, ru.Error, ru.RawData, ru.Contributor)
	if err != nil {
		return fmt.Errorf("inserting real_time_update: %w", err)
	}
	return nil
}

// UpdateRealTimeUpdate implements Storage.
func (s *PSQLStorage) UpdateRealTimeUpdate(ctx context.Context, ru *model.RealTimeUpdate) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE real_time_update SET status = $2, error = $3 WHERE id = $1`, ru.ID, ru.Status, ru.Error)
	if err != nil {
		return fmt.Errorf("updating real_time_update: %w", err)
	}
	return nil
}

// FindRecentErrorReceipt implements Storage.
func (s *PSQLStorage) FindRecentErrorReceipt(ctx context.Context, contributor, errMessage string, now time.Time, window time.Duration) (*model.RealTimeUpdate, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, received_at, connector, status, error, contributor_id
FROM real_time_update
WHERE contributor_id = $1 AND status = 'KO' AND error = $2 AND received_at >= $3
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
func (s *PSQLStorage) AssociateRealTimeUpdate(ctx context.Context, realTimeUpdateID, vjID string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO associate_realtimeupdate_tripupdate (real_time_update_id, vj_id)
VALUES ($1, $2) ON CONFLICT DO NOTHING`, realTimeUpdateID, vjID)
	if err != nil {
		return fmt.Errorf("associating real_time_update: %w", err)
	}
	return nil
}

// DeleteUnassociatedRealTimeUpdatesOlderThan implements Storage.
func (s *PSQLStorage) DeleteUnassociatedRealTimeUpdatesOlderThan(ctx context.Context, connector model.ConnectorType, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
DELETE FROM real_time_update
WHERE connector = $1 AND received_at < $2
  AND id NOT IN (SELECT real_time_update_id FROM associate_realtimeupdate_tripupdate)`, connector, before)
	if err != nil {
		return 0, fmt.Errorf("deleting unassociated real_time_updates: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// ContributorProbe implements Storage.
func (s *PSQLStorage) ContributorProbe(ctx context.Context, contributor string) (ProbeReport, error) {
	report := ProbeReport{Contributor: contributor}

	row := s.db.QueryRowContext(ctx, `SELECT max(received_at) FROM real_time_update WHERE contributor_id = $1`, contributor)
	var lastUpdate sql.NullTime
	if err := row.Scan(&lastUpdate); err != nil {
		return report, fmt.Errorf("querying last_update: %w", err)
	}
	report.LastUpdate = lastUpdate.Time

	row = s.db.QueryRowContext(ctx, `SELECT max(received_at) FROM real_time_update WHERE contributor_id = $1 AND status = 'OK'`, contributor)
	var lastValid sql.NullTime
	if err := row.Scan(&lastValid); err != nil {
		return report, fmt.Errorf("querying last_valid_update: %w", err)
	}
	report.LastValidUpdate = lastValid.Time

	row = s.db.QueryRowContext(ctx, `
SELECT error FROM real_time_update
WHERE contributor_id = $1 AND status = 'KO'
ORDER BY received_at DESC LIMIT 1`, contributor)
	var lastError sql.NullString
	if err := row.Scan(&lastError); err != nil && err != sql.ErrNoRows {
		return report, fmt.Errorf("querying last_update_error: %w", err)
	}
	report.LastUpdateError = lastError.String

	return report, nil
}
