// Package lastfix persists the Engine's last-known-location fix across
// process restarts: a SQLite-backed store that only ever holds one row. A
// fix cache, not a location history.
package lastfix

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ubports/locationd/pkg/units"
)

const schema = `
CREATE TABLE IF NOT EXISTS last_fix (
	id INTEGER PRIMARY KEY CHECK (id = 0),
	latitude REAL NOT NULL,
	longitude REAL NOT NULL,
	altitude_m REAL,
	horizontal_accuracy_m REAL,
	vertical_accuracy_m REAL,
	timestamp_ns INTEGER NOT NULL
);`

// Store is a single-row SQLite cache of the last-known Position.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) a SQLite database at path and ensures its
// schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("lastfix: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("lastfix: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Save upserts the single cached row with u, replacing whatever was there.
func (s *Store) Save(ctx context.Context, u units.Update[units.Position]) error {
	var altitude, hAcc, vAcc sql.NullFloat64
	if u.Value.Altitude != nil {
		altitude = sql.NullFloat64{Float64: u.Value.Altitude.Meters(), Valid: true}
	}
	if u.Value.Accuracy.Horizontal != nil {
		hAcc = sql.NullFloat64{Float64: u.Value.Accuracy.Horizontal.Meters(), Valid: true}
	}
	if u.Value.Accuracy.Vertical != nil {
		vAcc = sql.NullFloat64{Float64: u.Value.Accuracy.Vertical.Meters(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO last_fix (id, latitude, longitude, altitude_m, horizontal_accuracy_m, vertical_accuracy_m, timestamp_ns)
		VALUES (0, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			altitude_m = excluded.altitude_m,
			horizontal_accuracy_m = excluded.horizontal_accuracy_m,
			vertical_accuracy_m = excluded.vertical_accuracy_m,
			timestamp_ns = excluded.timestamp_ns
	`, u.Value.Latitude.Degrees(), u.Value.Longitude.Degrees(), altitude, hAcc, vAcc, u.Timestamp)
	if err != nil {
		return fmt.Errorf("lastfix: save: %w", err)
	}
	return nil
}

// Load returns the cached fix, or ok=false if nothing has been saved yet.
func (s *Store) Load(ctx context.Context) (u units.Update[units.Position], ok bool, err error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT latitude, longitude, altitude_m, horizontal_accuracy_m, vertical_accuracy_m, timestamp_ns
		FROM last_fix WHERE id = 0
	`)

	var lat, lon float64
	var altitude, hAcc, vAcc sql.NullFloat64
	var ts int64
	if scanErr := row.Scan(&lat, &lon, &altitude, &hAcc, &vAcc, &ts); scanErr != nil {
		if scanErr == sql.ErrNoRows {
			return units.Update[units.Position]{}, false, nil
		}
		return units.Update[units.Position]{}, false, fmt.Errorf("lastfix: load: %w", scanErr)
	}

	var alt *units.Length
	if altitude.Valid {
		v := units.Length(altitude.Float64)
		alt = &v
	}
	var acc units.Accuracy
	if hAcc.Valid {
		v := units.Length(hAcc.Float64)
		acc.Horizontal = &v
	}
	if vAcc.Valid {
		v := units.Length(vAcc.Float64)
		acc.Vertical = &v
	}

	pos, posErr := units.NewPosition(units.Angle(lat), units.Angle(lon), alt, acc)
	if posErr != nil {
		return units.Update[units.Position]{}, false, fmt.Errorf("lastfix: stored position invalid: %w", posErr)
	}
	return units.Update[units.Position]{Value: pos, Timestamp: ts}, true, nil
}
