// Package asr talks to the cloud speech-recognition service that produces
// diarized utterances. Transcription is asynchronous: the audio is uploaded,
// a transcript job is submitted, and the job is polled until it completes or
// reports an error.
package asr

import (
	"context"
	"errors"
	"fmt"

	"github.com/houzhh15/wpmnorm/pkg/jobs"
)

// Status of a remote transcript job.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Done reports whether polling can stop.
func (s Status) Done() bool {
	return s == StatusCompleted || s == StatusError
}

// Transcript is one poll result. Utterances are only set when Status is completed.
type Transcript struct {
	ID         string
	Status     Status
	Error      string
	Utterances []jobs.Utterance
}

// Transcriber is the service contract used by the analyze coordinator.
type Transcriber interface {
	// Upload sends the audio bytes and returns the service-side reference.
	Upload(ctx context.Context, audioPath string) (audioURL string, err error)

	// Submit starts a diarized transcription of an uploaded file.
	Submit(ctx context.Context, audioURL string) (transcriptID string, err error)

	// Fetch returns the current state of a transcript job.
	Fetch(ctx context.Context, transcriptID string) (*Transcript, error)

	// HealthCheck returns nil when the service accepts authenticated requests.
	HealthCheck(ctx context.Context) error
}

// ErrTimeout polling gave up after the configured number of attempts.
var ErrTimeout = errors.New("transcription did not complete in time")

// ProcessingError is an explicit error status reported by the service.
type ProcessingError struct {
	TranscriptID string
	Message      string
}

func (e *ProcessingError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("transcript %s failed", e.TranscriptID)
	}
	return e.Message
}

// HTTPError is a non-2xx response.
type HTTPError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s: ASR service returned HTTP %d: %s", e.Op, e.StatusCode, e.Body)
}
