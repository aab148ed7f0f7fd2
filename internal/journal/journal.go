// Package journal captures the most recent component failures for the
// debug surface. Capturing never fails and never propagates; it exists so
// transport and storage errors can be logged with structured context and
// inspected later without ever reaching the chat.
package journal

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Record is one captured failure.
type Record struct {
	Timestamp time.Time `json:"ts"`
	Tag       string    `json:"tag"`
	Detail    string    `json:"detail"`
}

// Journal keeps a bounded ring of recent records. The zero limit keeps the
// last 32.
type Journal struct {
	logger *slog.Logger
	now    func() time.Time
	limit  int

	mu      sync.Mutex
	records []Record
}

func New(logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{logger: logger, now: time.Now, limit: 32}
}

// Capture records a failure under a component tag. Detail is stringified so
// errors, response bodies and plain strings all land in one shape.
func (j *Journal) Capture(ctx context.Context, tag string, detail any) {
	if j == nil {
		return
	}
	rec := Record{
		Timestamp: j.now().UTC(),
		Tag:       tag,
		Detail:    fmt.Sprintf("%v", detail),
	}
	j.logger.ErrorContext(ctx, "component failure", "tag", rec.Tag, "detail", rec.Detail)

	j.mu.Lock()
	defer j.mu.Unlock()
	j.records = append(j.records, rec)
	if len(j.records) > j.limit {
		j.records = j.records[len(j.records)-j.limit:]
	}
}

// Last returns the most recent record, or nil when nothing was captured.
func (j *Journal) Last() *Record {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.records) == 0 {
		return nil
	}
	rec := j.records[len(j.records)-1]
	return &rec
}

// Recent returns up to n newest records, newest first.
func (j *Journal) Recent(n int) []Record {
	if j == nil || n <= 0 {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if n > len(j.records) {
		n = len(j.records)
	}
	out := make([]Record, 0, n)
	for i := len(j.records) - 1; i >= len(j.records)-n; i-- {
		out = append(out, j.records[i])
	}
	return out
}
