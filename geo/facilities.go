package geo

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/amp-labs/denguebot/sqlitedb"
)

// Migrations creates the facility index.
var Migrations = []sqlitedb.Migration{
	{
		Name: "geo_001_facilities",
		SQL: `CREATE TABLE IF NOT EXISTS facilities (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			name          TEXT NOT NULL,
			address       TEXT NOT NULL UNIQUE,
			phone         TEXT NOT NULL DEFAULT '',
			opening_hours TEXT NOT NULL DEFAULT '',
			lat           REAL NOT NULL,
			lng           REAL NOT NULL
		);
		CREATE INDEX IF NOT EXISTS facilities_lat_lng ON facilities (lat, lng);`,
	},
}

// FacilityStore is a Searcher backed by SQLite. Candidates are narrowed with
// a bounding box in SQL and ranked by great-circle distance in Go.
type FacilityStore struct {
	db *sql.DB
}

// NewFacilityStore creates a store over db. Migrations must be applied.
func NewFacilityStore(db *sql.DB) *FacilityStore {
	return &FacilityStore{db: db}
}

const facilityColumns = `id, name, address, phone, opening_hours, lat, lng`

// Nearby implements Searcher.
func (s *FacilityStore) Nearby(ctx context.Context, p Point, radiusKM float64, limit int) ([]Facility, error) {
	minLat, maxLat, minLng, maxLng := boundingBox(p, radiusKM)

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+facilityColumns+` FROM facilities
		 WHERE lat BETWEEN ? AND ? AND lng BETWEEN ? AND ?`,
		minLat, maxLat, minLng, maxLng)
	if err != nil {
		return nil, fmt.Errorf("nearby facilities: %w", err)
	}
	defer rows.Close()

	var found []Facility

	for rows.Next() {
		f, err := scanFacility(rows)
		if err != nil {
			return nil, fmt.Errorf("nearby facilities: %w", err)
		}

		f.DistanceKM = DistanceKM(p, f.Point())
		if f.DistanceKM <= radiusKM {
			found = append(found, f)
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("nearby facilities: %w", err)
	}

	slices.SortStableFunc(found, func(a, b Facility) int {
		switch {
		case a.DistanceKM < b.DistanceKM:
			return -1
		case a.DistanceKM > b.DistanceKM:
			return 1
		default:
			return int(a.ID - b.ID)
		}
	})

	if limit > 0 && len(found) > limit {
		found = found[:limit]
	}

	return found, nil
}

// ByAddress implements Searcher.
func (s *FacilityStore) ByAddress(ctx context.Context, address string) (Facility, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+facilityColumns+` FROM facilities WHERE address = ?`, address)

	f, err := scanFacility(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Facility{}, fmt.Errorf("%w: %s", ErrFacilityNotFound, address)
	}

	if err != nil {
		return Facility{}, fmt.Errorf("facility by address: %w", err)
	}

	return f, nil
}

// Upsert inserts facilities, replacing any registered at the same address.
// It returns the number of rows written.
func (s *FacilityStore) Upsert(ctx context.Context, facilities []Facility) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO facilities (name, address, phone, opening_hours, lat, lng)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (address) DO UPDATE SET
			name = excluded.name,
			phone = excluded.phone,
			opening_hours = excluded.opening_hours,
			lat = excluded.lat,
			lng = excluded.lng`)
	if err != nil {
		_ = tx.Rollback()

		return 0, err
	}
	defer stmt.Close()

	for _, f := range facilities {
		if _, err := stmt.ExecContext(ctx, f.Name, f.Address, f.Phone, f.OpeningHours, f.Lat, f.Lng); err != nil {
			_ = tx.Rollback()

			return 0, fmt.Errorf("upsert facility %q: %w", f.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}

	return len(facilities), nil
}

// Count returns the number of indexed facilities.
func (s *FacilityStore) Count(ctx context.Context) (int, error) {
	var count int

	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM facilities`).Scan(&count)

	return count, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFacility(row scanner) (Facility, error) {
	var f Facility

	err := row.Scan(&f.ID, &f.Name, &f.Address, &f.Phone, &f.OpeningHours, &f.Lat, &f.Lng)

	return f, err
}

// ErrInvalidCSV is returned for a facility CSV that cannot be imported.
var ErrInvalidCSV = errors.New("geo: invalid facility csv")

var requiredColumns = []string{"name", "address", "lat", "lng"}

// ReadCSV parses a facility list. The header row names the columns; name,
// address, lat and lng are required, phone and opening_hours are optional.
func ReadCSV(r io.Reader) ([]Facility, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: header: %w", ErrInvalidCSV, err)
	}

	columns := make(map[string]int, len(header))
	for idx, name := range header {
		columns[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))] = idx
	}

	for _, name := range requiredColumns {
		if _, ok := columns[name]; !ok {
			return nil, fmt.Errorf("%w: missing column %q", ErrInvalidCSV, name)
		}
	}

	field := func(record []string, name string) string {
		idx, ok := columns[name]
		if !ok || idx >= len(record) {
			return ""
		}

		return strings.TrimSpace(record[idx])
	}

	var facilities []Facility

	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %w", ErrInvalidCSV, line, err)
		}

		lat, err := strconv.ParseFloat(field(record, "lat"), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: lat: %w", ErrInvalidCSV, line, err)
		}

		lng, err := strconv.ParseFloat(field(record, "lng"), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: lng: %w", ErrInvalidCSV, line, err)
		}

		facility := Facility{
			Name:         field(record, "name"),
			Address:      field(record, "address"),
			Phone:        field(record, "phone"),
			OpeningHours: field(record, "opening_hours"),
			Lat:          lat,
			Lng:          lng,
		}

		if facility.Name == "" || facility.Address == "" {
			return nil, fmt.Errorf("%w: line %d: name and address are required", ErrInvalidCSV, line)
		}

		facilities = append(facilities, facility)
	}

	return facilities, nil
}
