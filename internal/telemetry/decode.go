// Package telemetry decodes raw ASCII lines from the CO2/radar sensor module
// into typed readings.
//
// The wire format is comma-separated: `co2,presence,distance[,status]`.
// Firmware variants disagree on the presence token ("1" vs "HUMAN") and on
// whether the trailing status field is present, so both are configurable.
package telemetry

import (
	"strconv"
	"strings"
	"time"
)

// RawReading is one decoded telemetry sample.
type RawReading struct {
	CO2PPM      int
	PresenceRaw bool
	DistanceRaw float64 // meters; 0 means the radar reported no usable range
	Status      string  // trailing device status field, empty if absent
	ArrivalTime time.Time
}

// Decoder turns telemetry lines into RawReadings. It is stateless and safe
// for concurrent use.
type Decoder struct {
	minFields  int
	trueTokens map[string]struct{}
}

// NewDecoder creates a Decoder. minFields is the minimum number of CSV fields
// a line must carry (at least co2, presence, distance). trueTokens lists the
// presence-field values that map to "human present"; any other token maps to
// false.
func NewDecoder(minFields int, trueTokens []string) *Decoder {
	if minFields < 3 {
		minFields = 3
	}
	tokens := make(map[string]struct{}, len(trueTokens))
	for _, tok := range trueTokens {
		tokens[tok] = struct{}{}
	}
	return &Decoder{minFields: minFields, trueTokens: tokens}
}

// Decode parses one line into a RawReading stamped with the given arrival
// time. It has no side effects; decode failures are returned for the caller
// to count and skip.
//
// A non-numeric distance field degrades to 0 (invalid distance) rather than
// failing the line, so a glitched radar field cannot discard the CO2 and
// presence portion of the reading.
func (d *Decoder) Decode(line string, at time.Time) (RawReading, error) {
	fields := strings.Split(strings.TrimSpace(line), ",")
	if len(fields) < d.minFields {
		return RawReading{}, &MalformedLineError{Line: line, Fields: len(fields), Want: d.minFields}
	}

	co2Field := strings.TrimSpace(fields[0])
	co2, err := strconv.Atoi(co2Field)
	if err != nil {
		return RawReading{}, &FieldParseError{Field: "co2", Value: co2Field, Err: err}
	}

	_, present := d.trueTokens[strings.TrimSpace(fields[1])]

	distance := 0.0
	distField := strings.TrimSpace(fields[2])
	if v, err := strconv.ParseFloat(distField, 64); err == nil && v > 0 {
		distance = v
	}

	reading := RawReading{
		CO2PPM:      co2,
		PresenceRaw: present,
		DistanceRaw: distance,
		ArrivalTime: at,
	}
	if len(fields) > 3 {
		reading.Status = strings.TrimSpace(fields[3])
	}
	return reading, nil
}
