package logging

import (
	"context"
	"encoding/json"
	"log"
	"time"
)

type LogEntry struct {
	Timestamp string         `json:"timestamp"`
	TraceID   string         `json:"trace_id,omitempty"`
	Level     string         `json:"level"`
	Component string         `json:"component,omitempty"`
	Message   string         `json:"message"`
	Method    string         `json:"method,omitempty"`
	Path      string         `json:"path,omitempty"`
	Status    int            `json:"status,omitempty"`
	Duration  string         `json:"duration,omitempty"`
	Error     string         `json:"error,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Fields is shorthand for structured key/value pairs attached to an entry.
type Fields map[string]any

type traceKey struct{}

// WithTraceID returns a context carrying the given trace id.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	if traceID == "" {
		return ctx
	}
	return context.WithValue(ctx, traceKey{}, traceID)
}

// TraceID returns the trace id stored in ctx, or "".
func TraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(traceKey{}).(string); ok {
		return v
	}
	return ""
}

// Logger writes JSON log lines tagged with a component name.
type Logger struct {
	component string
}

func New(component string) *Logger {
	return &Logger{component: component}
}

func (l *Logger) Info(ctx context.Context, message string, fields Fields) {
	l.write(ctx, "INFO", message, nil, fields)
}

func (l *Logger) Warn(ctx context.Context, message string, err error, fields Fields) {
	l.write(ctx, "WARN", message, err, fields)
}

func (l *Logger) Error(ctx context.Context, message string, err error, fields Fields) {
	l.write(ctx, "ERROR", message, err, fields)
}

func (l *Logger) write(ctx context.Context, level, message string, err error, fields Fields) {
	entry := LogEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		TraceID:   TraceID(ctx),
		Level:     level,
		Component: l.component,
		Message:   message,
	}
	if err != nil {
		entry.Error = err.Error()
	}
	if len(fields) > 0 {
		entry.Fields = fields
	}
	Write(entry)
}

func LogRequest(traceID, method, path string, statusCode int, duration time.Duration) {
	Write(LogEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		TraceID:   traceID,
		Level:     "INFO",
		Message:   "HTTP Request",
		Method:    method,
		Path:      path,
		Status:    statusCode,
		Duration:  duration.String(),
	})
}

func Write(entry LogEntry) {
	jsonBytes, err := json.Marshal(entry)
	if err != nil {
		log.Printf("Error marshaling log entry: %v", err)
		return
	}
	log.Println(string(jsonBytes))
}
