// Package ledger is the persisted record of every job: its status and the data
// accumulated by each stage. It is the only mutable state shared between
// coordinators and the API.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// Field names of a job record.
const (
	FieldStatus              = "status"
	FieldUpdatedAt           = "updatedAt"
	FieldCreatedAt           = "createdAt"
	FieldOriginalFilename    = "originalFilename"
	FieldFilePath            = "filePath"
	FieldSpeakers            = "speakers"
	FieldDiarizationSegments = "diarizationSegments"
	FieldTargets             = "targets"
	FieldOutputFilePath      = "outputFilePath"
	FieldError               = "error"
	FieldTranscriptID        = "asrTranscriptId"
)

var (
	ErrNotFound          = errors.New("job not found")
	ErrJobExists         = errors.New("job already exists")
	ErrInvalidJobID      = errors.New("invalid job id")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotRetryable      = errors.New("job cannot accept an adjustment")
)

var jobIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,127}$`)

// ValidateJobID job ids end up in file names and work directory paths.
func ValidateJobID(id string) error {
	if !jobIDPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidJobID, id)
	}
	return nil
}

// Fields is a flat record. Every value is a string; structured values are JSON.
type Fields map[string]string

// Clone returns an independent copy.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// apply merges patch into f. An empty value deletes the field.
func (f Fields) apply(patch Fields) {
	for k, v := range patch {
		if v == "" {
			delete(f, k)
			continue
		}
		f[k] = v
	}
}

// UpdateFunc receives a copy of the current record and returns the fields to
// change. Returning a nil patch leaves the record untouched; returning an error
// aborts without writing.
type UpdateFunc func(current Fields) (patch Fields, err error)

// Store is the key/value contract every backend satisfies. Writes to one job
// are serialized and applied atomically: readers observe either all or none
// of a patch. Different jobs never block each other beyond what the backend
// itself requires.
type Store interface {
	Create(ctx context.Context, id string, fields Fields) error
	Get(ctx context.Context, id string) (Fields, error)
	Set(ctx context.Context, id string, patch Fields) error
	Update(ctx context.Context, id string, fn UpdateFunc) error
	List(ctx context.Context) ([]string, error)
	Close() error
}
