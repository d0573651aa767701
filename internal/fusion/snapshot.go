package fusion

import "time"

// Status strings surfaced to operators.
const (
	StatusHumanPresent = "HUMAN PRESENT"
	StatusNoHuman      = "NO HUMAN"
)

// Snapshot is an immutable point-in-time copy of the store's exposed state.
// It is safe to read without synchronization after creation.
type Snapshot struct {
	CO2History []int `json:"co2_history"`
	CO2Current int   `json:"co2_current"`

	HumanPresent bool   `json:"human_present"`
	Status       string `json:"status"`

	DistanceMeters   float64   `json:"distance_meters"`
	DistanceCM       float64   `json:"distance_cm"`
	DistanceCategory string    `json:"distance_category"`
	Confidence       float64   `json:"confidence"`
	HasDistanceData  bool      `json:"has_distance_data"`
	DistanceValues   []float64 `json:"distance_values"`

	DetectionCount int       `json:"detection_count"`
	LastUpdateTime time.Time `json:"last_update_time"`
}

// Stats are the store's ingestion counters, exposed for observability.
type Stats struct {
	LinesIngested       uint64 `json:"lines_ingested"`
	DecodeErrors        uint64 `json:"decode_errors"`
	PresenceTransitions uint64 `json:"presence_transitions"`
}
