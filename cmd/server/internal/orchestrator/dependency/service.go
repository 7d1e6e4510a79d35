package dependency

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
)

// ServiceVersion is reported by the tool service health endpoint.
const ServiceVersion = "1.0.0"

// maxServiceRequestBytes bounds one CommandRequest body.
const maxServiceRequestBytes = 1 << 20

// ServiceHandler serves the tool service protocol spoken by RemoteExecutor:
//
//	POST /api/v1/execute  CommandRequest -> CommandResponse
//	GET  /api/v1/health
//
// It runs on a host that has the audio tools installed and the same data
// volume mounted as the API server.
type ServiceHandler struct {
	executor DependencyExecutor
	config   ExecutorConfig
	audit    *AuditLogger
	logger   *slog.Logger
}

// NewServiceHandler executor is normally an InstrumentedExecutor around a
// LocalExecutor. audit may be nil.
func NewServiceHandler(executor DependencyExecutor, config ExecutorConfig, audit *AuditLogger, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &ServiceHandler{executor: executor, config: config, audit: audit, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/execute", h.HandleExecute)
	mux.HandleFunc("GET /api/v1/health", h.HandleHealth)
	return mux
}

// HandleExecute validates and runs one command. A non-zero exit is returned
// as 500 with the full CommandResponse so the caller can read stderr.
func (h *ServiceHandler) HandleExecute(w http.ResponseWriter, r *http.Request) {
	var req CommandRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxServiceRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, CommandResponse{ExitCode: -1, Stderr: "invalid request: " + err.Error()})
		return
	}

	if err := ValidateCommandRequest(req, h.config); err != nil {
		if h.audit != nil {
			h.audit.LogRejection(req, err.Error())
		}
		h.logger.Warn("command rejected", "command", req.Command, "remote", r.RemoteAddr, "error", err)
		respondJSON(w, http.StatusBadRequest, CommandResponse{ExitCode: -1, Stderr: err.Error()})
		return
	}

	resp, err := h.executor.ExecuteCommand(r.Context(), req)
	if err != nil || resp.ExitCode != 0 {
		resp.Success = false
		if resp.Stderr == "" && err != nil {
			resp.Stderr = err.Error()
		}
		h.logger.Warn("command failed", "command", req.Command, "exit_code", resp.ExitCode, "error", err)
		respondJSON(w, http.StatusInternalServerError, resp)
		return
	}
	resp.Success = true
	respondJSON(w, http.StatusOK, resp)
}

// HandleHealth reports unhealthy when the local binaries cannot be resolved.
func (h *ServiceHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":  "ok",
		"service": "audio-tools",
		"version": ServiceVersion,
	}
	if err := h.executor.HealthCheck(r.Context()); err != nil {
		body["status"] = "unhealthy"
		body["error"] = err.Error()
		respondJSON(w, http.StatusServiceUnavailable, body)
		return
	}
	respondJSON(w, http.StatusOK, body)
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}
