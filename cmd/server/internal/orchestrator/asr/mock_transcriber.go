package asr

import (
	"context"
	"fmt"
	"sync"

	"github.com/houzhh15/wpmnorm/pkg/jobs"
)

// MockTranscriber is a scripted Transcriber for tests and offline runs.
// Each Fetch consumes the next entry of Statuses; once exhausted the last
// entry repeats. A completed fetch returns Utterances.
type MockTranscriber struct {
	mu sync.Mutex

	Utterances   []jobs.Utterance
	Statuses     []Status
	ErrorMessage string

	UploadErr error
	SubmitErr error
	FetchErr  error
	HealthErr error

	Uploads     []string
	Submissions []string
	Fetches     int
}

// NewMockTranscriber completes on the first poll with utterances.
func NewMockTranscriber(utterances []jobs.Utterance) *MockTranscriber {
	return &MockTranscriber{Utterances: utterances, Statuses: []Status{StatusCompleted}}
}

func (m *MockTranscriber) Upload(ctx context.Context, audioPath string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Uploads = append(m.Uploads, audioPath)
	if m.UploadErr != nil {
		return "", m.UploadErr
	}
	return "mock://upload/" + fmt.Sprint(len(m.Uploads)), nil
}

func (m *MockTranscriber) Submit(ctx context.Context, audioURL string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Submissions = append(m.Submissions, audioURL)
	if m.SubmitErr != nil {
		return "", m.SubmitErr
	}
	return fmt.Sprintf("tr_%d", len(m.Submissions)), nil
}

func (m *MockTranscriber) Fetch(ctx context.Context, transcriptID string) (*Transcript, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Fetches++
	if m.FetchErr != nil {
		return nil, m.FetchErr
	}

	status := StatusCompleted
	if len(m.Statuses) > 0 {
		i := m.Fetches - 1
		if i >= len(m.Statuses) {
			i = len(m.Statuses) - 1
		}
		status = m.Statuses[i]
	}

	t := &Transcript{ID: transcriptID, Status: status}
	switch status {
	case StatusCompleted:
		t.Utterances = append([]jobs.Utterance(nil), m.Utterances...)
	case StatusError:
		t.Error = m.ErrorMessage
	}
	return t, nil
}

func (m *MockTranscriber) HealthCheck(ctx context.Context) error {
	return m.HealthErr
}
