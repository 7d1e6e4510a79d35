package asr

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Poller waits for a transcript job at a fixed interval, up to a hard
// attempt limit.
type Poller struct {
	transcriber Transcriber
	interval    time.Duration
	maxAttempts int
	logger      *slog.Logger
}

// NewPoller interval defaults to 3s and maxAttempts to 200 when not positive.
func NewPoller(t Transcriber, interval time.Duration, maxAttempts int, log *slog.Logger) *Poller {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = 200
	}
	if log == nil {
		log = slog.Default()
	}
	return &Poller{transcriber: t, interval: interval, maxAttempts: maxAttempts, logger: log}
}

// Wait returns the completed transcript, a *ProcessingError when the service
// reports failure, or ErrTimeout after maxAttempts polls. Fetch errors are
// returned immediately.
func (p *Poller) Wait(ctx context.Context, transcriptID string) (*Transcript, error) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}

		t, err := p.transcriber.Fetch(ctx, transcriptID)
		if err != nil {
			return nil, err
		}
		if t.Status.Done() {
			if t.Status == StatusError {
				return nil, &ProcessingError{TranscriptID: transcriptID, Message: t.Error}
			}
			return t, nil
		}

		p.logger.Debug("transcript not ready", "transcript_id", transcriptID, "status", t.Status, "attempt", attempt)
		timer.Reset(p.interval)
	}
	return nil, fmt.Errorf("%w: %d polls at %v", ErrTimeout, p.maxAttempts, p.interval)
}
