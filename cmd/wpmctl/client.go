package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// APIClient 封装 wpmnorm HTTP API
type APIClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewAPIClient 创建新的 API 客户端
func NewAPIClient(cfg *Config) *APIClient {
	return &APIClient{
		BaseURL:    strings.TrimRight(cfg.ServerURL, "/"),
		HTTPClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// envelope 服务端统一响应
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

// JobSummary 客户端关心的作业字段
type JobSummary struct {
	JobID       string `json:"jobId"`
	Status      string `json:"status"`
	Error       string `json:"error"`
	OutputReady bool   `json:"outputReady"`
}

// Get 发送 GET 请求
func (c *APIClient) Get(ctx context.Context, path string) ([]byte, error) {
	return c.doRequest(ctx, http.MethodGet, path, "", nil)
}

// Request 发送带 JSON body 的请求
func (c *APIClient) Request(ctx context.Context, method, path string, body any) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request body: %w", err)
	}
	return c.doRequest(ctx, method, path, "application/json", bytes.NewReader(data))
}

// Upload 以 multipart 字段 file 上传本地音频，边读边写
func (c *APIClient) Upload(ctx context.Context, path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("file", filepath.Base(path))
		if err == nil {
			_, err = io.Copy(part, f)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	return c.doRequest(ctx, http.MethodPost, "/api/v1/jobs", mw.FormDataContentType(), pr)
}

// JobStatus 查询作业并解析状态字段
func (c *APIClient) JobStatus(ctx context.Context, jobID string) (*JobSummary, []byte, error) {
	raw, err := c.Get(ctx, "/api/v1/jobs/"+jobID)
	if err != nil {
		return nil, nil, err
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, raw, fmt.Errorf("parse response: %w", err)
	}
	var st JobSummary
	if err := json.Unmarshal(env.Data, &st); err != nil {
		return nil, raw, fmt.Errorf("parse job: %w", err)
	}
	return &st, raw, nil
}

// Download 把调速结果写入 w，返回服务端建议的文件名
func (c *APIClient) Download(ctx context.Context, jobID string, w io.Writer) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/api/v1/jobs/"+jobID+"/download", nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed (check WPMCTL_SERVER_URL=%s): %w", c.BaseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return "", httpError(resp.StatusCode, data)
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	name := ""
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil {
		name = params["filename"]
	}
	return name, nil
}

// doRequest 执行 HTTP 请求，非 2xx 响应转为错误
func (c *APIClient) doRequest(ctx context.Context, method, path, contentType string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed (check WPMCTL_SERVER_URL=%s): %w", c.BaseURL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, httpError(resp.StatusCode, data)
	}
	return data, nil
}

// httpError 优先使用响应中的 message 字段
func httpError(code int, data []byte) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err == nil && env.Message != "" {
		return fmt.Errorf("HTTP %d: %s", code, env.Message)
	}
	return fmt.Errorf("HTTP %d: %s", code, strings.TrimSpace(string(data)))
}
