// Package fusion turns noisy sensor telemetry into a stable, confidence-scored
// presence and distance state.
//
// The Store is the only component holding mutable shared state: one ingest
// goroutine writes, any number of readers take snapshots. All other types in
// the package (History, OutlierFilter, Estimator, Debouncer) are owned by the
// Store and never shared.
package fusion

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/banshee-data/presence.report/internal/monitoring"
	"github.com/banshee-data/presence.report/internal/telemetry"
	"github.com/banshee-data/presence.report/internal/timeutil"
)

// Params carries the tuning knobs for a Store.
type Params struct {
	CO2HistorySize      int
	PresenceHistorySize int
	DistanceHistorySize int
	RawDistanceWindow   int

	DebounceWindow  int
	PresenceTimeout time.Duration

	ConfidenceThreshold float64
	MinValidDistance    float64
}

// DefaultParams returns the stock tuning used by the shipped sensor module.
func DefaultParams() Params {
	return Params{
		CO2HistorySize:      100,
		PresenceHistorySize: 100,
		DistanceHistorySize: 50,
		RawDistanceWindow:   20,
		DebounceWindow:      5,
		PresenceTimeout:     3 * time.Second,
		ConfidenceThreshold: 0.6,
		MinValidDistance:    0.1,
	}
}

// Recorder receives every successfully decoded reading, outside the store's
// critical section. Implementations must tolerate being called from the
// ingest goroutine only.
type Recorder interface {
	RecordReading(r telemetry.RawReading) error
}

// Store owns the history buffers and estimation state for one sensor module.
type Store struct {
	decoder  *telemetry.Decoder
	clock    timeutil.Clock
	params   Params
	recorder Recorder

	mu           sync.Mutex
	co2          *History[int]
	presenceHist *History[bool]
	filter       *OutlierFilter
	estimator    *Estimator
	debouncer    *Debouncer
	current      Estimate
	lastUpdate   time.Time

	linesIngested uint64
	decodeErrors  uint64
	transitions   uint64
}

// NewStore creates a Store around the given decoder and clock.
func NewStore(decoder *telemetry.Decoder, clock timeutil.Clock, params Params) *Store {
	return &Store{
		decoder:      decoder,
		clock:        clock,
		params:       params,
		co2:          NewHistory[int](params.CO2HistorySize),
		presenceHist: NewHistory[bool](params.PresenceHistorySize),
		filter:       NewOutlierFilter(params.RawDistanceWindow),
		estimator:    NewEstimator(params.DistanceHistorySize),
		debouncer:    NewDebouncer(params.DebounceWindow, params.PresenceTimeout),
	}
}

// SetRecorder attaches an optional reading recorder (observation log). Must
// be called before ingestion starts.
func (s *Store) SetRecorder(r Recorder) {
	s.recorder = r
}

// Ingest decodes one telemetry line and folds it into the store's state under
// a single critical section. Decode failures leave all prior state unchanged
// apart from the error counter and are returned for the caller to log; they
// are never fatal.
func (s *Store) Ingest(line string) error {
	now := s.clock.Now()

	// decode outside the lock; it is pure and may fail
	reading, err := s.decoder.Decode(line, now)
	if err != nil {
		s.mu.Lock()
		s.decodeErrors++
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	s.apply(reading, now)
	s.mu.Unlock()

	// observation log I/O stays outside the critical section
	if s.recorder != nil {
		if err := s.recorder.RecordReading(reading); err != nil {
			monitoring.Logf("failed to record reading: %v", err)
		}
	}
	return nil
}

// apply folds one decoded reading into the state. Callers hold s.mu.
func (s *Store) apply(r telemetry.RawReading, now time.Time) {
	s.co2.Push(r.CO2PPM)
	s.presenceHist.Push(r.PresenceRaw)

	if _, changed := s.debouncer.Observe(r.PresenceRaw, now); changed {
		s.transitions++
		monitoring.Debugf("presence transition: present=%v", s.debouncer.Present())
	}

	// only a presence-corroborated, in-range radar return feeds the
	// distance channel
	if r.PresenceRaw && r.DistanceRaw > s.params.MinValidDistance {
		accepted, filtered := s.filter.Offer(r.DistanceRaw)
		if est, ok := s.estimator.Update(r.DistanceRaw, accepted, filtered, now); ok {
			s.current = est
		}
	}

	s.linesIngested++
	s.lastUpdate = now
}

// Run drives the presence inactivity timeout so that a sensor that stops
// transmitting entirely still drops to ABSENT. It returns when ctx is
// cancelled. Buffered history is retained across shutdown of the sweeper.
func (s *Store) Run(ctx context.Context) {
	interval := s.params.PresenceTimeout / 4
	if interval < 100*time.Millisecond {
		interval = 100 * time.Millisecond
	}
	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			s.mu.Lock()
			if s.debouncer.Expire(s.clock.Now()) {
				s.transitions++
				monitoring.Debugf("presence timeout: forcing absent")
			}
			s.mu.Unlock()
		}
	}
}

// Snapshot returns a consistent copy of all exposed fields. The copy is
// complete before the lock is released, so callers never observe a partially
// updated state and may read the result without synchronization.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	present := s.debouncer.Present()
	est := s.current

	hasDistance := present &&
		est.ValueMeters > 0 &&
		est.Confidence > s.params.ConfidenceThreshold

	snap := Snapshot{
		CO2History:       s.co2.Values(),
		HumanPresent:     present,
		Status:           StatusNoHuman,
		DistanceCategory: CategoryNone,
		DetectionCount:   s.estimator.DetectionCount(),
		LastUpdateTime:   s.lastUpdate,
	}
	if co2, ok := s.co2.Last(); ok {
		snap.CO2Current = co2
	}
	if present {
		snap.Status = StatusHumanPresent
		snap.Confidence = math.Round(est.Confidence*100) / 100
	}
	if hasDistance {
		snap.DistanceMeters = est.ValueMeters
		snap.DistanceCM = est.ValueMeters * 100
		snap.DistanceCategory = Category(est.ValueMeters)
		snap.HasDistanceData = true
		snap.DistanceValues = s.estimator.AcceptedValues()
	}
	return snap
}

// StatsSnapshot returns the store's ingestion counters.
func (s *Store) StatsSnapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		LinesIngested:       s.linesIngested,
		DecodeErrors:        s.decodeErrors,
		PresenceTransitions: s.transitions,
	}
}
