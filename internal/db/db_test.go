package db

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/banshee-data/presence.report/internal/telemetry"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "presence_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNewDBAppliesMigrations(t *testing.T) {
	db := newTestDB(t)

	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	require.False(t, dirty)
	require.Equal(t, uint(1), version)

	// readings table exists and is empty
	count, err := db.ReadingCount()
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestRecordAndQueryReadings(t *testing.T) {
	db := newTestDB(t)

	base := time.Date(2026, 2, 10, 9, 30, 0, 0, time.UTC)
	readings := []telemetry.RawReading{
		{CO2PPM: 420, PresenceRaw: false, DistanceRaw: 0, Status: "NONE", ArrivalTime: base},
		{CO2PPM: 480, PresenceRaw: true, DistanceRaw: 1.52, Status: "OK", ArrivalTime: base.Add(time.Second)},
		{CO2PPM: 510, PresenceRaw: true, DistanceRaw: 1.48, Status: "OK", ArrivalTime: base.Add(2 * time.Second)},
	}
	for _, r := range readings {
		require.NoError(t, db.RecordReading(r))
	}

	count, err := db.ReadingCount()
	require.NoError(t, err)
	require.EqualValues(t, 3, count)

	got, err := db.RecentReadings(10)
	require.NoError(t, err)
	require.Len(t, got, 3)

	// newest first
	require.Equal(t, 510, got[0].CO2PPM)
	require.True(t, got[0].Presence)
	require.InDelta(t, 1.48, got[0].DistanceM, 1e-9)
	require.Equal(t, "OK", got[0].Status)

	require.Equal(t, 420, got[2].CO2PPM)
	require.False(t, got[2].Presence)
	require.Equal(t, "NONE", got[2].Status)
}

func TestRecentReadingsLimit(t *testing.T) {
	db := newTestDB(t)

	at := time.Now().UTC()
	for i := 0; i < 5; i++ {
		require.NoError(t, db.RecordReading(telemetry.RawReading{
			CO2PPM:      400 + i,
			ArrivalTime: at.Add(time.Duration(i) * time.Second),
		}))
	}

	got, err := db.RecentReadings(2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, 404, got[0].CO2PPM)

	// non-positive limit falls back to a sane default
	got, err = db.RecentReadings(0)
	require.NoError(t, err)
	require.Len(t, got, 5)
}

func TestMigrateDownDropsReadings(t *testing.T) {
	db := newTestDB(t)

	require.NoError(t, db.MigrateDown())

	var tableExists bool
	err := db.QueryRow(`
		SELECT COUNT(*) > 0 FROM sqlite_master
		WHERE type='table' AND name='readings'
	`).Scan(&tableExists)
	require.NoError(t, err)
	require.False(t, tableExists)

	// MigrateUp restores the schema
	require.NoError(t, db.MigrateUp())
	_, err = db.ReadingCount()
	require.NoError(t, err)
}

func TestBackupAdminRoute(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.RecordReading(telemetry.RawReading{CO2PPM: 450, ArrivalTime: time.Now().UTC()}))

	// the backup handler writes its scratch file to the working directory
	t.Chdir(t.TempDir())

	mux := http.NewServeMux()
	db.AttachAdminRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/backup", nil))

	// tsweb may reject the synthetic client address, but the route must exist
	require.NotEqual(t, http.StatusNotFound, rec.Code)
	if rec.Code == http.StatusOK {
		require.NotZero(t, rec.Body.Len())
		require.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")
	}
}
