package dependency

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// ErrServiceUnreachable marks transport failures talking to the tool service.
// FallbackExecutor switches to local binaries only on this error; a command
// that ran remotely and failed is never retried locally.
var ErrServiceUnreachable = errors.New("audio tool service unreachable")

// maxServiceResponseBytes bounds the CommandResponse read back from the
// service. ffmpeg stderr on a long file can be large; the tail is what matters.
const maxServiceResponseBytes = 4 << 20

// RemoteExecutor forwards commands to the audio tool service
// (SERVER_ROLE=audio-tools). Paths inside the request must resolve to the
// same files on both hosts, which is why both mount DATA_DIR.
type RemoteExecutor struct {
	serviceURL string
	httpClient *http.Client
}

// NewRemoteExecutor creates a RemoteExecutor.
func NewRemoteExecutor(config ExecutorConfig) *RemoteExecutor {
	return &RemoteExecutor{
		serviceURL: config.ServiceURL,
		httpClient: &http.Client{
			// the service enforces the command timeout; give it time to report it
			Timeout: config.DefaultTimeout + 10*time.Second,
		},
	}
}

// ExecuteCommand calls POST {ServiceURL}/api/v1/execute. A non-2xx answer
// still carries a CommandResponse with the exit code and stderr.
func (e *RemoteExecutor) ExecuteCommand(ctx context.Context, req CommandRequest) (CommandResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return CommandResponse{}, fmt.Errorf("encode command request: %w", err)
	}

	url := e.serviceURL + "/api/v1/execute"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return CommandResponse{}, fmt.Errorf("build tool service request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	slog.Debug("remote tool call", "url", url, "command", req.Command, "args", req.Args)

	start := time.Now()
	httpResp, err := e.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return CommandResponse{}, ctx.Err()
		}
		return CommandResponse{}, fmt.Errorf("%w: %v", ErrServiceUnreachable, err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxServiceResponseBytes))
	if err != nil {
		return CommandResponse{}, fmt.Errorf("%w: reading response: %v", ErrServiceUnreachable, err)
	}

	var resp CommandResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		slog.Warn("tool service sent an unreadable response", "status", httpResp.StatusCode, "body", stderrTail(string(body)))
		return CommandResponse{}, fmt.Errorf("decode tool service response (HTTP %d): %w", httpResp.StatusCode, err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return resp, fmt.Errorf("tool service rejected %s (HTTP %d)%s", req.Command, httpResp.StatusCode, stderrTail(resp.Stderr))
	}
	if resp.Duration == 0 {
		resp.Duration = time.Since(start)
	}
	return resp, nil
}

// HealthCheck calls GET {ServiceURL}/api/v1/health.
func (e *RemoteExecutor) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.serviceURL+"/api/v1/health", nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrServiceUnreachable, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("audio tool service unhealthy (HTTP %d)", resp.StatusCode)
	}
	return nil
}
