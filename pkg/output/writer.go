package output

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Writer emits JSONL records. Implementations are safe for concurrent use;
// each call writes exactly one line.
type Writer interface {
	WriteProcess(ctx context.Context, p *ProcessRecord) error
	WritePreflight(ctx context.Context, p *PreflightRecord) error
	WritePlan(ctx context.Context, p *PlanRecord) error
	WriteKill(ctx context.Context, k *KillRecord) error
	WriteArchive(ctx context.Context, a *ArchiveRecord) error
	WriteError(ctx context.Context, e *ErrorRecord) error
	WriteSummary(ctx context.Context, s *SummaryRecord) error
	Close() error
}

// JSONLWriter writes records as newline-delimited JSON to an io.Writer.
// Writes are serialized so lines never interleave.
type JSONLWriter struct {
	w       io.Writer
	batchID string
	now     func() time.Time

	mu     sync.Mutex
	closed bool
}

// NewJSONLWriter creates a writer stamping every record with batchID.
func NewJSONLWriter(w io.Writer, batchID string) *JSONLWriter {
	return &JSONLWriter{w: w, batchID: batchID, now: time.Now}
}

// SetBatchID changes the batch stamped on subsequent records.
func (jw *JSONLWriter) SetBatchID(id string) {
	jw.mu.Lock()
	defer jw.mu.Unlock()
	jw.batchID = id
}

func (jw *JSONLWriter) WriteProcess(ctx context.Context, p *ProcessRecord) error {
	return jw.Write(ctx, TypeProcess, p)
}

func (jw *JSONLWriter) WritePreflight(ctx context.Context, p *PreflightRecord) error {
	return jw.Write(ctx, TypePreflight, p)
}

func (jw *JSONLWriter) WritePlan(ctx context.Context, p *PlanRecord) error {
	return jw.Write(ctx, TypePlan, p)
}

func (jw *JSONLWriter) WriteKill(ctx context.Context, k *KillRecord) error {
	return jw.Write(ctx, TypeKill, k)
}

func (jw *JSONLWriter) WriteArchive(ctx context.Context, a *ArchiveRecord) error {
	return jw.Write(ctx, TypeArchive, a)
}

func (jw *JSONLWriter) WriteError(ctx context.Context, e *ErrorRecord) error {
	return jw.Write(ctx, TypeError, e)
}

func (jw *JSONLWriter) WriteSummary(ctx context.Context, s *SummaryRecord) error {
	return jw.Write(ctx, TypeSummary, s)
}

// Close marks the writer closed. The underlying io.Writer is left open.
func (jw *JSONLWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()
	jw.closed = true
	return nil
}

// Write emits one record of recordType wrapping data.
func (jw *JSONLWriter) Write(ctx context.Context, recordType string, data any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return &WriteError{Op: "marshal_data", Err: err}
	}

	jw.mu.Lock()
	defer jw.mu.Unlock()

	if jw.closed {
		return ErrWriterClosed
	}

	line, err := json.Marshal(Record{
		Type:    recordType,
		TS:      jw.now().UTC(),
		BatchID: jw.batchID,
		Data:    payload,
	})
	if err != nil {
		return &WriteError{Op: "marshal_record", Err: err}
	}

	// io.Writer may return a short write with a nil error; a truncated line
	// would corrupt the stream.
	if err := writeAll(jw.w, append(line, '\n')); err != nil {
		return &WriteError{Op: "write", Err: err}
	}
	return nil
}

func writeAll(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}

var _ Writer = (*JSONLWriter)(nil)
