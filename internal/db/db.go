// Package db persists decoded sensor readings to SQLite so that raw
// telemetry survives restarts and can be inspected after the fact.
package db

import (
	"compress/gzip"
	"database/sql"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"

	"github.com/banshee-data/presence.report/internal/monitoring"
	"github.com/banshee-data/presence.report/internal/telemetry"
)

type DB struct {
	*sql.DB
}

// NewDB opens (or creates) the SQLite database at path and applies all
// pending migrations.
func NewDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}

	// SQLite allows a single writer; the ingest loop and the API share this
	// handle, so wait out transient lock contention instead of failing.
	if _, err := sqlDB.Exec("PRAGMA busy_timeout = 5000; PRAGMA journal_mode = WAL;"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to set pragmas: %w", err)
	}

	db := &DB{sqlDB}
	if err := db.MigrateUp(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// RecordReading appends one decoded telemetry reading to the log.
func (db *DB) RecordReading(r telemetry.RawReading) error {
	presence := 0
	if r.PresenceRaw {
		presence = 1
	}
	_, err := db.Exec(
		`INSERT INTO readings (co2_ppm, presence, distance_m, status, arrival_time)
		 VALUES (?, ?, ?, ?, ?)`,
		r.CO2PPM, presence, r.DistanceRaw, r.Status, r.ArrivalTime.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record reading: %w", err)
	}
	return nil
}

// Reading is one row of the observation log.
type Reading struct {
	ID          int64     `json:"id"`
	CO2PPM      int       `json:"co2_ppm"`
	Presence    bool      `json:"presence"`
	DistanceM   float64   `json:"distance_m"`
	Status      string    `json:"status"`
	ArrivalTime time.Time `json:"arrival_time"`
}

func (r *Reading) String() string {
	return fmt.Sprintf("CO2: %d, Presence: %t, Distance: %f, Status: %s, ArrivalTime: %s",
		r.CO2PPM, r.Presence, r.DistanceM, r.Status, r.ArrivalTime)
}

// RecentReadings returns up to limit readings, newest first.
func (db *DB) RecentReadings(limit int) ([]Reading, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(
		`SELECT id, co2_ppm, presence, distance_m, status, arrival_time
		 FROM readings ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var readings []Reading
	for rows.Next() {
		var r Reading
		var presence int
		if err := rows.Scan(&r.ID, &r.CO2PPM, &presence, &r.DistanceM, &r.Status, &r.ArrivalTime); err != nil {
			return nil, err
		}
		r.Presence = presence != 0
		readings = append(readings, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return readings, nil
}

// ReadingCount returns the total number of logged readings.
func (db *DB) ReadingCount() (int64, error) {
	var n int64
	err := db.QueryRow("SELECT COUNT(*) FROM readings").Scan(&n)
	return n, err
}

// AttachAdminRoutes registers database admin handlers under /debug/.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		backupPath := fmt.Sprintf("backup-%d.db", time.Now().Unix())
		if _, err := db.DB.Exec("VACUUM INTO ?", backupPath); err != nil {
			http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
			return
		}

		backupFile, err := os.Open(backupPath)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
			return
		}
		defer func() {
			backupFile.Close()
			if err := os.Remove(backupPath); err != nil {
				monitoring.Logf("failed to remove backup file: %v", err)
			}
		}()

		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.gz", backupPath))
		w.Header().Set("Content-Type", "application/octet-stream")

		gzipWriter := gzip.NewWriter(w)
		defer gzipWriter.Close()
		if _, err := io.Copy(gzipWriter, backupFile); err != nil {
			monitoring.Logf("failed to stream backup file: %v", err)
		}
	}))
}
