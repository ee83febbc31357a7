package tracing

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// FileExporter appends spans to a JSONL file, one shim-shaped record per
// line. It implements the sdktrace.SpanExporter interface.
type FileExporter struct {
	file *os.File
	mu   sync.Mutex
}

// NewFileExporter creates a file exporter that appends to path, creating
// parent directories as needed.
func NewFileExporter(path string) (*FileExporter, error) {
	cleanPath := filepath.Clean(path)

	dir := filepath.Dir(cleanPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create trace directory: %w", err)
	}

	file, err := os.OpenFile(cleanPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600) // #nosec G304 -- path is cleaned above
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	return &FileExporter{file: file}, nil
}

// ExportSpans writes spans to the file in JSONL format.
func (e *FileExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	if len(spans) == 0 {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	encoder := json.NewEncoder(e.file)
	for _, span := range spans {
		if err := encoder.Encode(SpanToRecord(span)); err != nil {
			return fmt.Errorf("encode span: %w", err)
		}
	}
	return nil
}

// Shutdown closes the file and releases resources.
func (e *FileExporter) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.file != nil {
		err := e.file.Close()
		e.file = nil
		return err
	}
	return nil
}

// SpanRecord is one exported span, shaped for grepping shim traces: the
// attributes every shim span carries (session endpoints, dock action type
// and request ID) are hoisted into dedicated columns so
// `jq 'select(.request_id=="a1")'` works without digging through attrs.
type SpanRecord struct {
	TraceID      string  `json:"trace_id"`
	SpanID       string  `json:"span_id"`
	ParentSpanID string  `json:"parent_span_id,omitempty"`
	Name         string  `json:"name"`
	Kind         string  `json:"kind"`
	StartTime    string  `json:"start_time"`
	DurationMs   float64 `json:"duration_ms"`
	Status       string  `json:"status"`
	StatusMsg    string  `json:"status_message,omitempty"`

	CmdEndpoint string `json:"cmd_endpoint,omitempty"`
	EvtEndpoint string `json:"evt_endpoint,omitempty"`
	ActionType  string `json:"action_type,omitempty"`
	RequestID   string `json:"request_id,omitempty"`

	// Phases are the span's events (handshake, primed) as offsets from
	// the span start, which is how session progress reads naturally.
	Phases []PhaseRecord `json:"phases,omitempty"`

	// Attrs carries whatever was not hoisted above.
	Attrs map[string]any `json:"attrs,omitempty"`
}

// PhaseRecord is one span event rendered as a start-relative offset.
type PhaseRecord struct {
	Name string  `json:"name"`
	AtMs float64 `json:"at_ms"`
}

// SpanToRecord converts an OpenTelemetry span to the shim's JSONL shape.
func SpanToRecord(span sdktrace.ReadOnlySpan) SpanRecord {
	sc := span.SpanContext()

	record := SpanRecord{
		TraceID:    sc.TraceID().String(),
		SpanID:     sc.SpanID().String(),
		Name:       span.Name(),
		Kind:       span.SpanKind().String(),
		StartTime:  span.StartTime().Format("2006-01-02T15:04:05.000Z07:00"),
		DurationMs: float64(span.EndTime().Sub(span.StartTime()).Microseconds()) / 1000.0,
		Status:     "UNSET",
		StatusMsg:  span.Status().Description,
	}
	if span.Parent().IsValid() {
		record.ParentSpanID = span.Parent().SpanID().String()
	}
	switch span.Status().Code {
	case codes.Ok:
		record.Status = "OK"
	case codes.Error:
		record.Status = "ERROR"
	}

	for _, kv := range span.Attributes() {
		value := kv.Value.AsInterface()
		switch string(kv.Key) {
		case AttrCmdEndpoint:
			record.CmdEndpoint, _ = value.(string)
		case AttrEvtEndpoint:
			record.EvtEndpoint, _ = value.(string)
		case AttrActionType:
			record.ActionType, _ = value.(string)
		case AttrRequestID:
			record.RequestID, _ = value.(string)
		default:
			if record.Attrs == nil {
				record.Attrs = make(map[string]any)
			}
			record.Attrs[string(kv.Key)] = value
		}
	}

	for _, evt := range span.Events() {
		record.Phases = append(record.Phases, PhaseRecord{
			Name: evt.Name,
			AtMs: float64(evt.Time.Sub(span.StartTime()).Microseconds()) / 1000.0,
		})
	}

	return record
}
