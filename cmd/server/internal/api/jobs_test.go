package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/houzhh15/wpmnorm/cmd/server/internal/ledger"
	"github.com/houzhh15/wpmnorm/cmd/server/internal/orchestrator"
	"github.com/houzhh15/wpmnorm/cmd/server/internal/orchestrator/dependency"
	"github.com/houzhh15/wpmnorm/pkg/jobs"
)

type fakeQueue struct {
	analyze []jobs.AnalyzeTask
	adjust  []jobs.AdjustTask
	err     error
}

func (q *fakeQueue) EnqueueAnalyze(t jobs.AnalyzeTask) error {
	if q.err != nil {
		return q.err
	}
	q.analyze = append(q.analyze, t)
	return nil
}

func (q *fakeQueue) EnqueueAdjust(t jobs.AdjustTask) error {
	if q.err != nil {
		return q.err
	}
	q.adjust = append(q.adjust, t)
	return nil
}

type apiEnv struct {
	router *gin.Engine
	ledger *ledger.Ledger
	queue  *fakeQueue
	paths  *dependency.PathManager
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	paths := dependency.NewPathManager(t.TempDir())
	require.NoError(t, paths.EnsureLayout())
	l := ledger.New(ledger.NewMemoryStore(), nil)
	q := &fakeQueue{}
	r := NewRouter(RouterOptions{Jobs: NewJobHandlers(l, q, paths, 1<<20, nil)})
	return &apiEnv{router: r, ledger: l, queue: q, paths: paths}
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (e *apiEnv) do(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w, env
}

func uploadRequest(t *testing.T, filename string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func jsonRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// readyJob 创建一个已完成分析的作业
func (e *apiEnv) readyJob(t *testing.T, id string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.ledger.CreateJob(ctx, id, e.paths.UploadPath(id, ".wav"), "talk.wav"))
	for _, st := range []jobs.Status{jobs.StatusProcessingUploadCloud} {
		require.NoError(t, e.ledger.Advance(ctx, id, st, nil))
	}
	require.NoError(t, e.ledger.StartCloudAnalysis(ctx, id, "tr_1"))
	require.NoError(t, e.ledger.Advance(ctx, id, jobs.StatusProcessingWPMCalculation, nil))
	require.NoError(t, e.ledger.MarkReady(ctx, id,
		[]jobs.SpeakerWPM{{ID: "speaker_A", Label: "A", AvgWPM: 60, WordCount: 10, TotalDuration: 10}},
		[]jobs.Segment{{SpeakerID: jobs.StringPtr("speaker_A"), Start: 0, End: 10000}}))
}

func TestCreateJob(t *testing.T) {
	e := newAPIEnv(t)

	w, resp := e.do(t, uploadRequest(t, "Talk.MP3", []byte("ID3audio")))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.True(t, resp.Success)

	var data struct {
		JobID  string `json:"jobId"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	assert.Equal(t, "PENDING", data.Status)

	require.Len(t, e.queue.analyze, 1)
	task := e.queue.analyze[0]
	assert.Equal(t, data.JobID, task.JobID)
	assert.Equal(t, "Talk.MP3", task.OriginalFilename)
	assert.True(t, strings.HasSuffix(task.FilePath, ".mp3"))

	saved, err := os.ReadFile(task.FilePath)
	require.NoError(t, err)
	assert.Equal(t, "ID3audio", string(saved))
}

func TestCreateJob_ValidationNeverTouchesLedger(t *testing.T) {
	tests := []struct {
		name     string
		req      func(t *testing.T) *http.Request
		wantCode int
	}{
		{"bad extension", func(t *testing.T) *http.Request { return uploadRequest(t, "notes.txt", []byte("x")) }, http.StatusBadRequest},
		{"empty file", func(t *testing.T) *http.Request { return uploadRequest(t, "a.wav", nil) }, http.StatusBadRequest},
		{"missing field", func(t *testing.T) *http.Request {
			return httptest.NewRequest(http.MethodPost, "/api/v1/jobs", nil)
		}, http.StatusBadRequest},
		{"too large", func(t *testing.T) *http.Request {
			return uploadRequest(t, "a.wav", bytes.Repeat([]byte("x"), 1<<20+10))
		}, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newAPIEnv(t)
			w, resp := e.do(t, tt.req(t))
			assert.Equal(t, tt.wantCode, w.Code, w.Body.String())
			assert.False(t, resp.Success)

			ids, err := e.ledger.Store().List(context.Background())
			require.NoError(t, err)
			assert.Empty(t, ids)
			assert.Empty(t, e.queue.analyze)
		})
	}
}

func TestCreateJob_QueueFullFailsJob(t *testing.T) {
	e := newAPIEnv(t)
	e.queue.err = orchestrator.ErrQueueFull

	w, _ := e.do(t, uploadRequest(t, "a.wav", []byte("RIFF")))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	ids, err := e.ledger.Store().List(context.Background())
	require.NoError(t, err)
	require.Len(t, ids, 1)
	j, err := e.ledger.Job(context.Background(), ids[0])
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusFailed, j.Status)
}

func TestGetJob(t *testing.T) {
	e := newAPIEnv(t)
	e.readyJob(t, "job1")

	w, resp := e.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/job1", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var view JobView
	require.NoError(t, json.Unmarshal(resp.Data, &view))
	assert.Equal(t, "READY_FOR_INPUT", view.Status)
	require.Len(t, view.Speakers, 1)
	assert.Equal(t, 60, view.Speakers[0].AvgWPM)
	assert.False(t, view.OutputReady)

	w, _ = e.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetJob_FailedAndCorruptStillReadable(t *testing.T) {
	e := newAPIEnv(t)
	ctx := context.Background()
	e.readyJob(t, "job1")
	require.NoError(t, e.ledger.Store().Set(ctx, "job1", ledger.Fields{ledger.FieldSpeakers: "{not json"}))
	require.NoError(t, e.ledger.Fail(ctx, "job1", "transcription failed: audio too short"))

	w, resp := e.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/job1", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var view JobView
	require.NoError(t, json.Unmarshal(resp.Data, &view))
	assert.Equal(t, "FAILED", view.Status)
	assert.Equal(t, "transcription failed: audio too short", view.Error)
	assert.NotEmpty(t, view.DataError)
}

func TestAdjustJob(t *testing.T) {
	e := newAPIEnv(t)
	e.readyJob(t, "job1")

	w, _ := e.do(t, jsonRequest(http.MethodPost, "/api/v1/jobs/job1/adjust",
		`{"targets":[{"speakerId":"speaker_A","targetWpm":120}]}`))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	require.Len(t, e.queue.adjust, 1)
	assert.Equal(t, []jobs.Target{{SpeakerID: "speaker_A", TargetWPM: 120}}, e.queue.adjust[0].Targets)

	j, err := e.ledger.Job(context.Background(), "job1")
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusQueuedForAdjustment, j.Status)

	// 已排队的作业不能再次提交
	w, _ = e.do(t, jsonRequest(http.MethodPost, "/api/v1/jobs/job1/adjust",
		`{"targets":[{"speakerId":"speaker_A","targetWpm":100}]}`))
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestAdjustJob_Validation(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		body     string
		wantCode int
	}{
		{"malformed json", "/api/v1/jobs/job1/adjust", `{"targets":`, http.StatusBadRequest},
		{"empty targets", "/api/v1/jobs/job1/adjust", `{"targets":[]}`, http.StatusBadRequest},
		{"zero wpm", "/api/v1/jobs/job1/adjust", `{"targets":[{"speakerId":"speaker_A","targetWpm":0}]}`, http.StatusBadRequest},
		{"duplicate speaker", "/api/v1/jobs/job1/adjust",
			`{"targets":[{"speakerId":"speaker_A","targetWpm":90},{"speakerId":"speaker_A","targetWpm":100}]}`, http.StatusBadRequest},
		{"unknown job", "/api/v1/jobs/missing/adjust", `{"targets":[{"speakerId":"speaker_A","targetWpm":90}]}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newAPIEnv(t)
			e.readyJob(t, "job1")
			w, _ := e.do(t, jsonRequest(http.MethodPost, tt.path, tt.body))
			assert.Equal(t, tt.wantCode, w.Code, w.Body.String())
			assert.Empty(t, e.queue.adjust)
		})
	}
}

func TestDownload(t *testing.T) {
	e := newAPIEnv(t)
	ctx := context.Background()
	e.readyJob(t, "job1")

	w, _ := e.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/job1/download", nil))
	assert.Equal(t, http.StatusConflict, w.Code)

	_, err := e.ledger.SubmitAdjustment(ctx, "job1", []jobs.Target{{SpeakerID: "speaker_A", TargetWPM: 90}})
	require.NoError(t, err)
	require.NoError(t, e.ledger.Advance(ctx, "job1", jobs.StatusProcessingAdjustment, nil))
	require.NoError(t, e.ledger.Advance(ctx, "job1", jobs.StatusProcessingReconstruction, nil))
	out := e.paths.OutputPath("job1", "mp3")
	require.NoError(t, os.WriteFile(out, []byte("MP3DATA"), 0o644))
	require.NoError(t, e.ledger.Complete(ctx, "job1", out))

	w, _ = e.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/job1/download", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "MP3DATA", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), "talk_normalized.mp3")
}

func TestHealthzAndMetrics(t *testing.T) {
	e := newAPIEnv(t)

	w, resp := e.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)

	w = httptest.NewRecorder()
	e.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}
