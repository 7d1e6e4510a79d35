package dependency

import (
	"encoding/json"
	"io"
	"log"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// AuditLogger appends one JSON line per tool invocation.
type AuditLogger struct {
	logger *log.Logger
	closer io.Closer
}

// NewAuditLogger writes to a size-rotated file at logPath.
func NewAuditLogger(logPath string) *AuditLogger {
	writer := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    50, // MB
		MaxBackups: 5,
		MaxAge:     14, // days
		Compress:   true,
	}
	return &AuditLogger{logger: log.New(writer, "", 0), closer: writer}
}

// newAuditLoggerTo is used by tests to capture records.
func newAuditLoggerTo(w io.Writer) *AuditLogger {
	return &AuditLogger{logger: log.New(w, "", 0)}
}

type auditRecord struct {
	Timestamp  string   `json:"timestamp"`
	Command    string   `json:"command"`
	Args       []string `json:"args"`
	Mode       string   `json:"mode"`
	Result     string   `json:"result"`
	ExitCode   int      `json:"exit_code"`
	DurationMs int64    `json:"duration_ms"`
	Error      string   `json:"error_message,omitempty"`
	Reason     string   `json:"rejection_reason,omitempty"`
}

// LogExecution records a finished invocation.
func (a *AuditLogger) LogExecution(req CommandRequest, resp CommandResponse, err error, mode ExecutionMode) {
	rec := auditRecord{
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Command:    req.Command,
		Args:       req.Args,
		Mode:       string(mode),
		Result:     "success",
		ExitCode:   resp.ExitCode,
		DurationMs: resp.Duration.Milliseconds(),
	}
	if err != nil || resp.ExitCode != 0 {
		rec.Result = "failed"
		if err != nil {
			rec.Error = err.Error()
		}
	}
	a.write(rec)
}

// LogRejection records a request refused by ValidateCommandRequest.
func (a *AuditLogger) LogRejection(req CommandRequest, reason string) {
	a.write(auditRecord{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Command:   req.Command,
		Args:      req.Args,
		Result:    "rejected",
		Reason:    reason,
	})
}

func (a *AuditLogger) write(rec auditRecord) {
	data, _ := json.Marshal(rec)
	a.logger.Println(string(data))
}

// Close closes the rotated file.
func (a *AuditLogger) Close() error {
	if a.closer == nil {
		return nil
	}
	return a.closer.Close()
}
