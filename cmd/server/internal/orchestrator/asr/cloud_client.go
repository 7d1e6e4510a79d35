package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/houzhh15/wpmnorm/pkg/jobs"
)

// CloudClient implements Transcriber over the service's REST API:
//
//	POST /v2/upload          raw audio bytes         -> {"upload_url"}
//	POST /v2/transcript      {"audio_url", "speaker_labels": true} -> {"id", "status"}
//	GET  /v2/transcript/{id}                         -> {"id", "status", "error", "utterances"}
type CloudClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewCloudClient creates a client. timeout bounds each HTTP call, uploads included.
func NewCloudClient(baseURL, apiKey string, timeout time.Duration) *CloudClient {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &CloudClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type uploadResponse struct {
	UploadURL string `json:"upload_url"`
}

type submitRequest struct {
	AudioURL      string `json:"audio_url"`
	SpeakerLabels bool   `json:"speaker_labels"`
}

type wireUtterance struct {
	Speaker *string `json:"speaker"`
	Start   int64   `json:"start"`
	End     int64   `json:"end"`
	Text    string  `json:"text"`
}

type transcriptResponse struct {
	ID         string          `json:"id"`
	Status     Status          `json:"status"`
	Error      string          `json:"error"`
	Utterances []wireUtterance `json:"utterances"`
}

func (c *CloudClient) Upload(ctx context.Context, audioPath string) (string, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return "", fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/upload", f)
	if err != nil {
		return "", fmt.Errorf("create upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	var out uploadResponse
	if err := c.do(req, "upload", &out); err != nil {
		return "", err
	}
	if out.UploadURL == "" {
		return "", fmt.Errorf("upload: response has no upload_url")
	}
	return out.UploadURL, nil
}

func (c *CloudClient) Submit(ctx context.Context, audioURL string) (string, error) {
	body, err := json.Marshal(submitRequest{AudioURL: audioURL, SpeakerLabels: true})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/transcript", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var out transcriptResponse
	if err := c.do(req, "submit", &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", fmt.Errorf("submit: response has no transcript id")
	}
	return out.ID, nil
}

func (c *CloudClient) Fetch(ctx context.Context, transcriptID string) (*Transcript, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v2/transcript/"+url.PathEscape(transcriptID), nil)
	if err != nil {
		return nil, fmt.Errorf("create poll request: %w", err)
	}

	var out transcriptResponse
	if err := c.do(req, "poll", &out); err != nil {
		return nil, err
	}

	t := &Transcript{ID: out.ID, Status: out.Status, Error: out.Error}
	if out.Status == StatusCompleted {
		t.Utterances = make([]jobs.Utterance, 0, len(out.Utterances))
		for _, u := range out.Utterances {
			t.Utterances = append(t.Utterances, jobs.Utterance{Speaker: u.Speaker, Start: u.Start, End: u.End, Text: u.Text})
		}
	}
	return t, nil
}

func (c *CloudClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v2/transcript?limit=1", nil)
	if err != nil {
		return err
	}
	return c.do(req, "health", nil)
}

func (c *CloudClient) do(req *http.Request, op string, out any) error {
	req.Header.Set("Authorization", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: ASR service unreachable: %w", op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return fmt.Errorf("%s: read response: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &HTTPError{Op: op, StatusCode: resp.StatusCode, Body: truncate(string(body), 300)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
