package fusion

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/presence.report/internal/telemetry"
	"github.com/banshee-data/presence.report/internal/timeutil"
)

func newTestStore(params Params, clock timeutil.Clock) *Store {
	decoder := telemetry.NewDecoder(3, []string{"1", "HUMAN"})
	return NewStore(decoder, clock, params)
}

// ingestAll feeds lines one second apart, failing the test on any error.
func ingestAll(t *testing.T, s *Store, clock *timeutil.MockClock, lines ...string) {
	t.Helper()
	for _, line := range lines {
		clock.Advance(time.Second)
		if err := s.Ingest(line); err != nil {
			t.Fatalf("Ingest(%q) failed: %v", line, err)
		}
	}
}

func TestIngestRoundTrip(t *testing.T) {
	clock := timeutil.NewMockClock(t0)
	params := DefaultParams()
	params.DebounceWindow = 3 // presence settles within the three test lines
	s := newTestStore(params, clock)

	ingestAll(t, s, clock,
		"420,1,1.50,OK",
		"430,1,1.55,OK",
		"440,1,1.52,OK",
	)

	snap := s.Snapshot()
	if snap.CO2Current != 440 {
		t.Errorf("CO2Current = %d, want 440", snap.CO2Current)
	}
	if diff := cmp.Diff([]int{420, 430, 440}, snap.CO2History); diff != "" {
		t.Errorf("CO2History mismatch (-want +got):\n%s", diff)
	}
	if !snap.HumanPresent {
		t.Error("HumanPresent = false, want true after unanimous window")
	}
	if snap.DetectionCount != 3 {
		t.Errorf("DetectionCount = %d, want 3", snap.DetectionCount)
	}
	// recency-weighted toward the latest 1.52 sample
	require.InDelta(t, 1.53, snap.DistanceMeters, 0.001)
	require.InDelta(t, 153.0, snap.DistanceCM, 0.1)
	if !snap.HasDistanceData {
		t.Errorf("HasDistanceData = false with confidence %v", snap.Confidence)
	}
	if snap.DistanceCategory != CategoryClose {
		t.Errorf("DistanceCategory = %q, want %q", snap.DistanceCategory, CategoryClose)
	}
	if snap.Status != StatusHumanPresent {
		t.Errorf("Status = %q, want %q", snap.Status, StatusHumanPresent)
	}
	if !snap.LastUpdateTime.Equal(clock.Now()) {
		t.Errorf("LastUpdateTime = %v, want %v", snap.LastUpdateTime, clock.Now())
	}
}

func TestMalformedLineLeavesStateUnchanged(t *testing.T) {
	clock := timeutil.NewMockClock(t0)
	s := newTestStore(DefaultParams(), clock)

	ingestAll(t, s, clock, "420,1,1.50,OK")
	before := s.Snapshot()

	clock.Advance(time.Second)
	if err := s.Ingest("abc,1,1.5"); err == nil {
		t.Fatal("Ingest of malformed line succeeded, want error")
	}

	after := s.Snapshot()
	if diff := cmp.Diff(before, after); diff != "" {
		t.Errorf("snapshot changed across failed ingest (-before +after):\n%s", diff)
	}

	stats := s.StatsSnapshot()
	if stats.DecodeErrors != 1 {
		t.Errorf("DecodeErrors = %d, want 1", stats.DecodeErrors)
	}
	if stats.LinesIngested != 1 {
		t.Errorf("LinesIngested = %d, want 1", stats.LinesIngested)
	}
}

func TestDivergentDistanceDoesNotShiftEstimate(t *testing.T) {
	clock := timeutil.NewMockClock(t0)
	params := DefaultParams()
	params.DebounceWindow = 3
	s := newTestStore(params, clock)

	for i := 0; i < 5; i++ {
		ingestAll(t, s, clock, "420,1,1.50,OK")
	}
	ingestAll(t, s, clock, "420,1,50.0,OK")

	snap := s.Snapshot()
	require.InDelta(t, 1.50, snap.DistanceMeters, 0.001)
	if snap.DetectionCount != 5 {
		t.Errorf("DetectionCount = %d, want 5 (outlier not accepted)", snap.DetectionCount)
	}
}

func TestAbsenceGatesDistance(t *testing.T) {
	clock := timeutil.NewMockClock(t0)
	s := newTestStore(DefaultParams(), clock)

	// establish presence and a confident estimate
	for i := 0; i < 6; i++ {
		ingestAll(t, s, clock, "420,1,1.50,OK")
	}
	snap := s.Snapshot()
	if !snap.HumanPresent || !snap.HasDistanceData {
		t.Fatalf("setup: present=%v hasDistance=%v, want both true", snap.HumanPresent, snap.HasDistanceData)
	}

	// five consecutive absent signals flip the debouncer
	for i := 0; i < 5; i++ {
		ingestAll(t, s, clock, "420,0,0.0,NONE")
	}

	snap = s.Snapshot()
	if snap.HumanPresent {
		t.Error("HumanPresent = true after 5 consecutive absent signals")
	}
	if snap.HasDistanceData {
		t.Error("HasDistanceData = true while absent, despite cached estimate")
	}
	if snap.DistanceMeters != 0 {
		t.Errorf("DistanceMeters = %v, want 0 while absent", snap.DistanceMeters)
	}
	if snap.DistanceCategory != CategoryNone {
		t.Errorf("DistanceCategory = %q, want %q", snap.DistanceCategory, CategoryNone)
	}
	if snap.Confidence != 0 {
		t.Errorf("Confidence = %v, want 0 while absent", snap.Confidence)
	}
	if snap.Status != StatusNoHuman {
		t.Errorf("Status = %q, want %q", snap.Status, StatusNoHuman)
	}
	// the detection history itself is retained
	if snap.DetectionCount != 6 {
		t.Errorf("DetectionCount = %d, want 6", snap.DetectionCount)
	}
}

func TestLowConfidenceGatesDistance(t *testing.T) {
	clock := timeutil.NewMockClock(t0)
	params := DefaultParams()
	params.DebounceWindow = 3
	params.ConfidenceThreshold = 0.99 // nothing can pass the gate
	s := newTestStore(params, clock)

	for i := 0; i < 6; i++ {
		ingestAll(t, s, clock, "420,1,1.50,OK")
	}

	snap := s.Snapshot()
	if !snap.HumanPresent {
		t.Fatal("setup: expected presence")
	}
	if snap.HasDistanceData {
		t.Error("HasDistanceData = true below the confidence gate")
	}
	if snap.DistanceMeters != 0 {
		t.Errorf("DistanceMeters = %v, want 0 below the gate", snap.DistanceMeters)
	}
	if snap.DistanceCategory != CategoryNone {
		t.Errorf("DistanceCategory = %q, want %q", snap.DistanceCategory, CategoryNone)
	}
	// confidence itself is still reported
	if snap.Confidence == 0 {
		t.Error("Confidence = 0, want the raw score while present")
	}
}

func TestRunSweeperForcesAbsentOnSilence(t *testing.T) {
	clock := timeutil.NewMockClock(t0)
	params := DefaultParams()
	params.DebounceWindow = 3
	s := newTestStore(params, clock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()

	for i := 0; i < 3; i++ {
		ingestAll(t, s, clock, "420,1,1.50,OK")
	}
	if !s.Snapshot().HumanPresent {
		t.Fatal("setup: expected presence")
	}

	// no further lines arrive; advancing past the timeout must drop presence
	require.Eventually(t, func() bool {
		clock.Advance(time.Second)
		return !s.Snapshot().HumanPresent
	}, 2*time.Second, 10*time.Millisecond, "sweeper never forced absent")

	cancel()
	<-done
}

func TestCO2HistoryBounded(t *testing.T) {
	clock := timeutil.NewMockClock(t0)
	params := DefaultParams()
	params.CO2HistorySize = 10
	s := newTestStore(params, clock)

	for i := 0; i < 25; i++ {
		ingestAll(t, s, clock, fmt.Sprintf("%d,0,0.0", 400+i))
	}

	snap := s.Snapshot()
	if len(snap.CO2History) != 10 {
		t.Fatalf("CO2History length = %d, want 10", len(snap.CO2History))
	}
	if snap.CO2History[0] != 415 || snap.CO2History[9] != 424 {
		t.Errorf("CO2History = %v, want [415..424]", snap.CO2History)
	}
}

func TestSnapshotConcurrentWithWriter(t *testing.T) {
	clock := timeutil.NewMockClock(t0)
	params := DefaultParams()
	params.DebounceWindow = 3
	s := newTestStore(params, clock)

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			_ = s.Ingest("420,1,1.50,OK")
		}
		close(stop)
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var lastSeen time.Time
			for {
				snap := s.Snapshot()
				if snap.LastUpdateTime.Before(lastSeen) {
					t.Error("LastUpdateTime went backwards")
					return
				}
				lastSeen = snap.LastUpdateTime
				select {
				case <-stop:
					return
				default:
				}
			}
		}()
	}
	wg.Wait()
}

func TestRecorderCalledOutsideCriticalSection(t *testing.T) {
	clock := timeutil.NewMockClock(t0)
	s := newTestStore(DefaultParams(), clock)

	var recorded []telemetry.RawReading
	s.SetRecorder(recorderFunc(func(r telemetry.RawReading) error {
		// taking a snapshot from inside the recorder deadlocks if the
		// store still holds its lock here
		s.Snapshot()
		recorded = append(recorded, r)
		return nil
	}))

	ingestAll(t, s, clock, "420,1,1.50,OK", "430,0,0.0")
	if len(recorded) != 2 {
		t.Fatalf("recorder saw %d readings, want 2", len(recorded))
	}
	if recorded[0].CO2PPM != 420 || recorded[1].CO2PPM != 430 {
		t.Errorf("recorded CO2 = %d,%d, want 420,430", recorded[0].CO2PPM, recorded[1].CO2PPM)
	}
}

type recorderFunc func(telemetry.RawReading) error

func (f recorderFunc) RecordReading(r telemetry.RawReading) error { return f(r) }
