package provisioning

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrProgressNotFound means the progress key is unknown or its record expired.
	ErrProgressNotFound = errors.New("progress record not found")
	// ErrProgressKeyRequired is returned for an empty progress key.
	ErrProgressKeyRequired = errors.New("progress_key is required")
	// ErrProgressKeyInUse is returned when a run is started under a key that already has a record.
	ErrProgressKeyInUse = errors.New("progress_key already in use")
	// ErrProgressFinalized guards completed and failed records against further writes.
	ErrProgressFinalized = errors.New("progress record is final")
)

// ValidationError carries per-field messages for malformed input. Nothing was written.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + joinFields(e.Fields)
}

// Add records a message for field, keeping the first one.
func (e *ValidationError) Add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	if _, ok := e.Fields[field]; !ok {
		e.Fields[field] = msg
	}
}

func (e *ValidationError) empty() bool { return len(e.Fields) == 0 }

// ConflictError reports a subdomain or domain that another tenant already holds.
type ConflictError struct {
	Fields map[string]string
}

func (e *ConflictError) Error() string {
	return "conflict: " + joinFields(e.Fields)
}

// StepError is a failure of one provisioning step after compensation ran.
type StepError struct {
	Step        string
	ProgressKey string
	Err         error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("provisioning step %s failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

func joinFields(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+fields[k])
	}
	return strings.Join(parts, "; ")
}
