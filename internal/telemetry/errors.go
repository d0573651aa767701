package telemetry

import (
	"errors"
	"fmt"
)

// ErrTransportInterrupted indicates the telemetry source failed mid-stream
// (serial read error, port unplugged). It is distinct from per-line decode
// failures so the caller can decide on reconnect policy.
var ErrTransportInterrupted = errors.New("telemetry transport interrupted")

// MalformedLineError indicates a line with too few fields to decode. The
// whole line is dropped.
type MalformedLineError struct {
	Line   string
	Fields int
	Want   int
}

func (e *MalformedLineError) Error() string {
	return fmt.Sprintf("malformed telemetry line %q: got %d fields, want at least %d", e.Line, e.Fields, e.Want)
}

// FieldParseError indicates a specific field failed to parse. Field names the
// offending field.
type FieldParseError struct {
	Field string
	Value string
	Err   error
}

func (e *FieldParseError) Error() string {
	return fmt.Sprintf("failed to parse %s field %q: %v", e.Field, e.Value, e.Err)
}

func (e *FieldParseError) Unwrap() error { return e.Err }
