package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/houzhh15/wpmnorm/pkg/jobs"
)

// runCLI 以隔离的 HOME 执行命令并返回标准输出
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestParseTargets(t *testing.T) {
	targets, err := parseTargets([]string{"speaker_A=120", "B = 150.5"})
	require.NoError(t, err)
	assert.Equal(t, []jobs.Target{
		{SpeakerID: "speaker_A", TargetWPM: 120},
		{SpeakerID: "speaker_B", TargetWPM: 150.5},
	}, targets)

	for _, bad := range [][]string{
		nil,
		{"speaker_A"},
		{"=120"},
		{"speaker_A=fast"},
		{"speaker_A=0"},
		{"speaker_A=120", "A=130"},
	} {
		_, err := parseTargets(bad)
		assert.Error(t, err, "%v", bad)
	}
}

func TestDecodeUtterances(t *testing.T) {
	bare := `[{"speaker":"A","start":0,"end":1000,"text":"hi"}]`
	utts, err := decodeUtterances([]byte(bare))
	require.NoError(t, err)
	require.Len(t, utts, 1)
	assert.Equal(t, "A", *utts[0].Speaker)

	wrapped := `{"id":"tr-1","status":"completed","utterances":[{"speaker":null,"start":0,"end":500,"text":"um"}]}`
	utts, err = decodeUtterances([]byte(wrapped))
	require.NoError(t, err)
	require.Len(t, utts, 1)
	assert.Nil(t, utts[0].Speaker)

	_, err = decodeUtterances([]byte("not json"))
	assert.Error(t, err)
}

func TestWPMCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transcript.json")
	doc := `{"utterances":[
		{"speaker":"A","start":0,"end":2000,"text":"one two three four"},
		{"speaker":"B","start":2000,"end":3000,"text":"hello!"},
		{"speaker":null,"start":3000,"end":4000,"text":"noise"}
	]}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	out, err := runCLI(t, "wpm", path, "-o", "json")
	require.NoError(t, err)

	var speakers []jobs.SpeakerWPM
	require.NoError(t, json.Unmarshal([]byte(out), &speakers))
	require.Len(t, speakers, 2)
	assert.Equal(t, "speaker_A", speakers[0].ID)
	assert.Equal(t, 120, speakers[0].AvgWPM)
	assert.Equal(t, "speaker_B", speakers[1].ID)
	assert.Equal(t, 60, speakers[1].AvgWPM)

	text, err := runCLI(t, "wpm", path)
	require.NoError(t, err)
	assert.Contains(t, text, "SPEAKER")
	assert.Contains(t, text, "speaker_A")
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server_url: http://wpm.internal:9000\ntimeout: 30s\n"), 0o644))

	cfg := &Config{}
	loadConfigFile(cfg, path)
	assert.Equal(t, "http://wpm.internal:9000", cfg.ServerURL)
	assert.Equal(t, "30s", cfg.Timeout.String())

	missing := &Config{ServerURL: "keep"}
	loadConfigFile(missing, filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Equal(t, "keep", missing.ServerURL)
}

// fakeServer 模拟 wpmnorm API 的最小子集
func fakeServer(t *testing.T) (*httptest.Server, *[]jobs.Target) {
	t.Helper()
	var submitted []jobs.Target
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/jobs", func(w http.ResponseWriter, r *http.Request) {
		f, hdr, err := r.FormFile("file")
		if err != nil {
			http.Error(w, `{"success":false,"message":"file is required"}`, http.StatusBadRequest)
			return
		}
		defer f.Close()
		body, _ := io.ReadAll(f)
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data":    map[string]any{"jobId": "job-1", "status": "PENDING", "originalFilename": hdr.Filename, "size": len(body)},
		})
	})
	mux.HandleFunc("GET /api/v1/jobs/job-1", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"data":{"jobId":"job-1","status":"READY_FOR_INPUT","outputReady":false}}`))
	})
	mux.HandleFunc("GET /api/v1/jobs/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"success":false,"message":"job not found"}`))
	})
	mux.HandleFunc("POST /api/v1/jobs/job-1/adjust", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Targets []jobs.Target `json:"targets"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		submitted = req.Targets
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"success":true,"data":{"jobId":"job-1","status":"QUEUED_FOR_ADJUSTMENT"}}`))
	})
	mux.HandleFunc("GET /api/v1/jobs/job-1/download", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Disposition", `attachment; filename="talk_normalized.mp3"`)
		_, _ = w.Write([]byte("ID3-audio-bytes"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &submitted
}

func TestUploadCommand(t *testing.T) {
	srv, _ := fakeServer(t)
	audio := filepath.Join(t.TempDir(), "talk.mp3")
	require.NoError(t, os.WriteFile(audio, []byte("fake-mp3"), 0o644))

	out, err := runCLI(t, "upload", audio, "--server-url", srv.URL, "-o", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"jobId": "job-1"`)
	assert.Contains(t, out, `"originalFilename": "talk.mp3"`)
	assert.Contains(t, out, `"size": 8`)
}

func TestStatusCommand(t *testing.T) {
	srv, _ := fakeServer(t)

	out, err := runCLI(t, "status", "job-1", "--server-url", srv.URL, "--wait", "--interval", "10ms")
	require.NoError(t, err)
	assert.Contains(t, out, "READY_FOR_INPUT")

	_, err = runCLI(t, "status", "missing", "--server-url", srv.URL)
	require.Error(t, err)
	assert.Equal(t, "HTTP 404: job not found", err.Error())
}

func TestAdjustCommand(t *testing.T) {
	srv, submitted := fakeServer(t)

	out, err := runCLI(t, "adjust", "job-1", "--server-url", srv.URL, "-t", "A=120", "-t", "speaker_B=150")
	require.NoError(t, err)
	assert.Contains(t, out, "QUEUED_FOR_ADJUSTMENT")
	assert.Equal(t, []jobs.Target{
		{SpeakerID: "speaker_A", TargetWPM: 120},
		{SpeakerID: "speaker_B", TargetWPM: 150},
	}, *submitted)

	_, err = runCLI(t, "adjust", "job-1", "--server-url", srv.URL)
	assert.Error(t, err)
}

func TestDownloadCommand(t *testing.T) {
	srv, _ := fakeServer(t)
	dest := filepath.Join(t.TempDir(), "out.mp3")

	out, err := runCLI(t, "download", "job-1", "--server-url", srv.URL, "-f", dest)
	require.NoError(t, err)
	assert.Contains(t, out, "saved "+dest)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "ID3-audio-bytes", string(data))

	entries, err := os.ReadDir(filepath.Dir(dest))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file must not be left behind")
}
