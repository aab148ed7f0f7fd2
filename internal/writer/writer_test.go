package writer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/fleetworks/invoicebot/internal/intake"
)

type stubStrategy struct {
	name  string
	err   error
	calls int
}

func (s *stubStrategy) Name() string { return s.name }

func (s *stubStrategy) Write(ctx context.Context, e intake.Entry) error {
	s.calls++
	return s.err
}

type captureSink struct {
	mu      sync.Mutex
	records []string
}

func (c *captureSink) Capture(ctx context.Context, tag string, detail any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, tag+" "+fmt.Sprintf("%v", detail))
}

func TestWriteStopsAtFirstSuccess(t *testing.T) {
	primary := &stubStrategy{name: "supabase"}
	fallback := &stubStrategy{name: "postgres"}
	w, err := New(Options{Strategies: []Strategy{primary, fallback}, Journal: &captureSink{}})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := w.Write(context.Background(), intake.Entry{MsgKey: "1:1"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if primary.calls != 1 || fallback.calls != 0 {
		t.Fatalf("calls: primary=%d fallback=%d", primary.calls, fallback.calls)
	}
}

func TestWriteFallsBackAndJournalsFailures(t *testing.T) {
	primary := &stubStrategy{name: "supabase", err: fmt.Errorf("status=503")}
	fallback := &stubStrategy{name: "postgres"}
	sink := &captureSink{}
	w, err := New(Options{Strategies: []Strategy{primary, fallback}, Journal: sink})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := w.Write(context.Background(), intake.Entry{MsgKey: "9:4"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if fallback.calls != 1 {
		t.Fatalf("fallback calls = %d", fallback.calls)
	}
	if len(sink.records) != 1 {
		t.Fatalf("records = %v", sink.records)
	}
	if !strings.HasPrefix(sink.records[0], "writer/supabase ") || !strings.Contains(sink.records[0], "msg_key=9:4") {
		t.Fatalf("record = %q", sink.records[0])
	}
}

func TestWriteWrapsErrWriteFailedWhenAllFail(t *testing.T) {
	sink := &captureSink{}
	w, err := New(Options{
		Strategies: []Strategy{
			&stubStrategy{name: "supabase", err: fmt.Errorf("status=503")},
			&stubStrategy{name: "postgres", err: fmt.Errorf("connection refused")},
		},
		Journal: sink,
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	err = w.Write(context.Background(), intake.Entry{MsgKey: "2:2"})
	if !errors.Is(err, intake.ErrWriteFailed) {
		t.Fatalf("err = %v", err)
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("last cause missing: %v", err)
	}
	if len(sink.records) != 2 {
		t.Fatalf("records = %v", sink.records)
	}
}

func TestNewRequiresAtLeastOneStrategy(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestSupabaseStrategyDelegates(t *testing.T) {
	upserter := &stubUpserter{}
	s := SupabaseStrategy{Client: upserter}
	if s.Name() != "supabase" {
		t.Fatalf("name = %q", s.Name())
	}
	if err := s.Write(context.Background(), intake.Entry{MsgKey: "3:3"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if upserter.gotKey != "3:3" {
		t.Fatalf("upserted key = %q", upserter.gotKey)
	}
}

type stubUpserter struct {
	gotKey string
}

func (s *stubUpserter) UpsertEntry(ctx context.Context, e intake.Entry) error {
	s.gotKey = e.MsgKey
	return nil
}
