package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/houzhh15/wpmnorm/cmd/server/internal/metrics"
	"github.com/houzhh15/wpmnorm/pkg/jobs"
)

// Ledger is the typed view over a Store. It owns the status protocol: every
// status write is checked against the transition table and carries its data
// fields in the same atomic patch.
type Ledger struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// New wraps store. logger may be nil.
func New(store Store, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{store: store, logger: logger, now: time.Now}
}

// Store exposes the underlying key/value store.
func (l *Ledger) Store() Store { return l.store }

func (l *Ledger) stamp() string {
	return strconv.FormatInt(l.now().UnixMilli(), 10)
}

// Job is a read-only snapshot of one record. Structured fields are decoded on
// demand so a corrupt blob never prevents reading the status.
type Job struct {
	ID               string
	Status           jobs.Status
	RawStatus        string
	UpdatedAt        time.Time
	CreatedAt        time.Time
	OriginalFilename string
	FilePath         string
	OutputFilePath   string
	Error            string
	TranscriptID     string

	fields Fields
}

// Has reports whether a field is present and non-empty.
func (j *Job) Has(field string) bool {
	return j.fields[field] != ""
}

// HasAnalysis reports whether both analysis artifacts are stored.
func (j *Job) HasAnalysis() bool {
	return j.Has(FieldSpeakers) && j.Has(FieldDiarizationSegments)
}

// Speakers decodes and validates the speakers field.
func (j *Job) Speakers() ([]jobs.SpeakerWPM, error) {
	if !j.Has(FieldSpeakers) {
		return nil, fmt.Errorf("job %s has no speakers", j.ID)
	}
	return jobs.DecodeSpeakers(j.fields[FieldSpeakers])
}

// Segments decodes and validates the diarizationSegments field.
func (j *Job) Segments() ([]jobs.Segment, error) {
	if !j.Has(FieldDiarizationSegments) {
		return nil, fmt.Errorf("job %s has no diarization segments", j.ID)
	}
	return jobs.DecodeSegments(j.fields[FieldDiarizationSegments])
}

// Targets decodes the targets field; absent means none.
func (j *Job) Targets() ([]jobs.Target, error) {
	if !j.Has(FieldTargets) {
		return nil, nil
	}
	return jobs.DecodeTargets(j.fields[FieldTargets])
}

func parseMillis(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func jobFromFields(id string, f Fields) *Job {
	j := &Job{
		ID:               id,
		RawStatus:        f[FieldStatus],
		UpdatedAt:        parseMillis(f[FieldUpdatedAt]),
		CreatedAt:        parseMillis(f[FieldCreatedAt]),
		OriginalFilename: f[FieldOriginalFilename],
		FilePath:         f[FieldFilePath],
		OutputFilePath:   f[FieldOutputFilePath],
		Error:            f[FieldError],
		TranscriptID:     f[FieldTranscriptID],
		fields:           f,
	}
	if st, err := jobs.ParseStatus(j.RawStatus); err == nil {
		j.Status = st
	}
	return j
}

// CreateJob records a new PENDING job.
func (l *Ledger) CreateJob(ctx context.Context, id, filePath, originalFilename string) error {
	now := l.stamp()
	err := l.store.Create(ctx, id, Fields{
		FieldStatus:           string(jobs.StatusPending),
		FieldCreatedAt:        now,
		FieldUpdatedAt:        now,
		FieldFilePath:         filePath,
		FieldOriginalFilename: originalFilename,
	})
	if err != nil {
		return err
	}
	metrics.RecordTransition(string(jobs.StatusPending))
	return nil
}

// Job reads a snapshot. Never fails on malformed data fields.
func (l *Ledger) Job(ctx context.Context, id string) (*Job, error) {
	f, err := l.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return jobFromFields(id, f), nil
}

// Advance moves the job to status `to` and writes extra in the same patch.
// Transitions outside the table are rejected with ErrInvalidTransition and
// leave the record unchanged.
func (l *Ledger) Advance(ctx context.Context, id string, to jobs.Status, extra Fields) error {
	var from jobs.Status
	err := l.store.Update(ctx, id, func(cur Fields) (Fields, error) {
		st, err := jobs.ParseStatus(cur[FieldStatus])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidTransition, err)
		}
		from = st
		if !jobs.CanTransition(from, to) {
			return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
		}
		patch := extra.Clone()
		patch[FieldStatus] = string(to)
		patch[FieldUpdatedAt] = l.stamp()
		return patch, nil
	})
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			l.logger.Warn("rejected status transition", "job_id", id, "from", from, "to", to, "error", err)
		}
		return err
	}
	if from != to {
		metrics.RecordTransition(string(to))
		l.logger.Debug("job status changed", "job_id", id, "from", from, "to", to)
	}
	return nil
}

// StartCloudAnalysis records the ASR job handle together with
// PROCESSING_CLOUD_ANALYSIS, so every job past upload can resume polling
// after a restart.
func (l *Ledger) StartCloudAnalysis(ctx context.Context, id, transcriptID string) error {
	return l.Advance(ctx, id, jobs.StatusProcessingCloudAnalysis, Fields{FieldTranscriptID: transcriptID})
}

// MarkReady stores the analysis results and READY_FOR_INPUT together, so no
// reader sees the status without the speakers.
func (l *Ledger) MarkReady(ctx context.Context, id string, speakers []jobs.SpeakerWPM, segments []jobs.Segment) error {
	sp, err := jobs.EncodeJSON(speakers)
	if err != nil {
		return fmt.Errorf("encode speakers: %w", err)
	}
	sg, err := jobs.EncodeJSON(segments)
	if err != nil {
		return fmt.Errorf("encode segments: %w", err)
	}
	return l.Advance(ctx, id, jobs.StatusReadyForInput, Fields{
		FieldSpeakers:            sp,
		FieldDiarizationSegments: sg,
	})
}

// SubmitAdjustment queues an adjust run. Allowed from READY_FOR_INPUT, and from
// FAILED when analysis artifacts exist. Clears any previous error and output.
func (l *Ledger) SubmitAdjustment(ctx context.Context, id string, targets []jobs.Target) (*Job, error) {
	if err := jobs.ValidateTargets(targets); err != nil {
		return nil, err
	}
	encoded, err := jobs.EncodeJSON(targets)
	if err != nil {
		return nil, fmt.Errorf("encode targets: %w", err)
	}

	var snapshot Fields
	err = l.store.Update(ctx, id, func(cur Fields) (Fields, error) {
		j := jobFromFields(id, cur)
		switch j.Status {
		case jobs.StatusReadyForInput:
		case jobs.StatusFailed:
			if !j.HasAnalysis() {
				return nil, fmt.Errorf("%w: analysis did not complete", ErrNotRetryable)
			}
		default:
			return nil, fmt.Errorf("%w: status is %s", ErrNotRetryable, j.RawStatus)
		}
		patch := Fields{
			FieldStatus:         string(jobs.StatusQueuedForAdjustment),
			FieldUpdatedAt:      l.stamp(),
			FieldTargets:        encoded,
			FieldError:          "",
			FieldOutputFilePath: "",
		}
		snapshot = cur.Clone()
		snapshot.apply(patch)
		return patch, nil
	})
	if err != nil {
		return nil, err
	}
	metrics.RecordTransition(string(jobs.StatusQueuedForAdjustment))
	return jobFromFields(id, snapshot), nil
}

// Complete records the output path and COMPLETE.
func (l *Ledger) Complete(ctx context.Context, id, outputPath string) error {
	return l.Advance(ctx, id, jobs.StatusComplete, Fields{FieldOutputFilePath: outputPath})
}

// Fail records FAILED with message. A COMPLETE job is left untouched.
func (l *Ledger) Fail(ctx context.Context, id, message string) error {
	if message == "" {
		message = "unknown error"
	}
	return l.Advance(ctx, id, jobs.StatusFailed, Fields{FieldError: message})
}

// Unfinished returns every job that is not COMPLETE or FAILED, for restart recovery.
func (l *Ledger) Unfinished(ctx context.Context) ([]*Job, error) {
	ids, err := l.store.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []*Job
	for _, id := range ids {
		j, err := l.Job(ctx, id)
		if err != nil {
			l.logger.Warn("skipping unreadable job record", "job_id", id, "error", err)
			continue
		}
		if j.Status == "" || j.Status.IsTerminal() {
			continue
		}
		out = append(out, j)
	}
	return out, nil
}
