package intake

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type memSessions struct {
	mu             sync.Mutex
	drafts         map[int64]*Draft
	deleteFailures int
}

func newMemSessions() *memSessions {
	return &memSessions{drafts: map[int64]*Draft{}}
}

func (s *memSessions) GetDraft(_ context.Context, chatID int64) (*Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drafts[chatID]
	if !ok {
		return nil, nil
	}
	clone := *d
	return &clone, nil
}

func (s *memSessions) SetDraft(_ context.Context, chatID int64, d *Draft) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *d
	s.drafts[chatID] = &clone
	return nil
}

func (s *memSessions) DeleteDraft(_ context.Context, chatID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteFailures > 0 {
		s.deleteFailures--
		return errors.New("store down")
	}
	delete(s.drafts, chatID)
	return nil
}

type memLedger struct {
	mu   sync.Mutex
	keys map[string]bool
}

func newMemLedger() *memLedger { return &memLedger{keys: map[string]bool{}} }

func (l *memLedger) Seen(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.keys[key] {
		return true, nil
	}
	l.keys[key] = true
	return false, nil
}

func (l *memLedger) Committed(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.keys[key], nil
}

type fakeRelay struct {
	url   string
	calls int
}

func (r *fakeRelay) Relay(context.Context, RelayRequest) string {
	r.calls++
	return r.url
}

// fakeWriter mimics the merge-duplicates contract: rows keyed on MsgKey.
type fakeWriter struct {
	mu       sync.Mutex
	rows     map[string]Entry
	failures int
}

func newFakeWriter() *fakeWriter { return &fakeWriter{rows: map[string]Entry{}} }

func (w *fakeWriter) Write(_ context.Context, e Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failures > 0 {
		w.failures--
		return errors.New("backend down")
	}
	w.rows[e.MsgKey] = e
	return nil
}

type testRig struct {
	engine   *Engine
	sessions *memSessions
	ledger   *memLedger
	relay    *fakeRelay
	writer   *fakeWriter
}

func newTestRig() *testRig {
	rig := &testRig{
		sessions: newMemSessions(),
		ledger:   newMemLedger(),
		relay:    &fakeRelay{url: "https://files.example/invoice.jpg"},
		writer:   newFakeWriter(),
	}
	rig.engine = NewEngine(EngineOptions{
		Sessions: rig.sessions,
		Ledger:   rig.ledger,
		Relay:    rig.relay,
		Writer:   rig.writer,
		Now:      func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) },
	})
	return rig
}

func (rig *testRig) advance(t *testing.T, chatID int64, ev Event) Prompt {
	t.Helper()
	p, err := rig.engine.Advance(context.Background(), Inbound{
		ChatID:    chatID,
		MessageID: 100,
		Reporter:  "Jane @jane",
		Event:     ev,
	})
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	return p
}

// Walks a full truck entry up to the Confirm step.
func (rig *testRig) walkToConfirm(t *testing.T, chatID int64) {
	t.Helper()
	if _, err := rig.engine.Start(context.Background(), Inbound{ChatID: chatID, MessageID: 100, Reporter: "Jane @jane"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	rig.advance(t, chatID, ActionSelection{Token: "asset:Truck"})
	rig.advance(t, chatID, TextInput{Text: "abc-12"})
	rig.advance(t, chatID, ActionSelection{Token: "loc:Shop"})
	rig.advance(t, chatID, TextInput{Text: "replaced brake pads\nand more detail"})
	rig.advance(t, chatID, TextInput{Text: "$1,234.50"})
	rig.advance(t, chatID, ActionSelection{Token: "paid:company"})
	rig.advance(t, chatID, ActionSelection{Token: ActionSkipComments})
	rig.advance(t, chatID, PhotoAttachment{Variants: []PhotoVariant{
		{FileID: "small", Width: 90, Height: 90},
		{FileID: "large", Width: 1280, Height: 960},
	}})
}

func TestAdvanceWalksDeterministically(t *testing.T) {
	rig := newTestRig()
	rig.walkToConfirm(t, 7)

	d, err := rig.sessions.GetDraft(context.Background(), 7)
	if err != nil || d == nil {
		t.Fatalf("draft missing after walk: %v", err)
	}
	if d.Step != StepConfirm {
		t.Fatalf("step = %q, want %q", d.Step, StepConfirm)
	}
	if d.AssetType != AssetTruck || d.UnitNumber != "ABC-12" || d.Location != "Shop" {
		t.Fatalf("unexpected draft fields: %+v", d)
	}
	if d.RepairDesc != "replaced brake pads" {
		t.Fatalf("repair = %q", d.RepairDesc)
	}
	if d.TotalAmount != 1234.50 {
		t.Fatalf("total = %v", d.TotalAmount)
	}
	if d.PaidBy != PaidByCompany || d.Comments != "" {
		t.Fatalf("paidBy = %q comments = %q", d.PaidBy, d.Comments)
	}
	if d.Attachment.FileID != "large" || d.Attachment.Kind != AttachmentPhoto {
		t.Fatalf("attachment = %+v, want largest photo variant", d.Attachment)
	}
	if d.MsgKey != "7:100" {
		t.Fatalf("msgKey = %q", d.MsgKey)
	}
}

func TestTrailerAsksLinkedUnit(t *testing.T) {
	rig := newTestRig()
	ctx := context.Background()
	if _, err := rig.engine.Start(ctx, Inbound{ChatID: 3, MessageID: 1}); err != nil {
		t.Fatalf("start: %v", err)
	}
	rig.advance(t, 3, ActionSelection{Token: "asset:Trailer"})
	p := rig.advance(t, 3, TextInput{Text: "TRL-77"})
	if p.Text != linkedUnitPrompt().Text {
		t.Fatalf("expected linked-unit prompt, got %q", p.Text)
	}
	rig.advance(t, 3, TextInput{Text: "trk-5001"})
	d, _ := rig.sessions.GetDraft(ctx, 3)
	if d.LinkedUnitNumber != "TRK-5001" {
		t.Fatalf("linked unit = %q", d.LinkedUnitNumber)
	}
	if d.Step != StepLocation {
		t.Fatalf("step = %q", d.Step)
	}
}

func TestInvalidInputLeavesDraftUnchanged(t *testing.T) {
	rig := newTestRig()
	ctx := context.Background()
	if _, err := rig.engine.Start(ctx, Inbound{ChatID: 9, MessageID: 1}); err != nil {
		t.Fatalf("start: %v", err)
	}
	rig.advance(t, 9, ActionSelection{Token: "asset:Truck"})
	before, _ := rig.sessions.GetDraft(ctx, 9)

	p := rig.advance(t, 9, TextInput{Text: "x"})
	if p.Outcome != "" {
		t.Fatalf("re-prompt should not be terminal")
	}
	after, _ := rig.sessions.GetDraft(ctx, 9)
	if *after != *before {
		t.Fatalf("draft changed on invalid input: %+v -> %+v", before, after)
	}

	p = rig.advance(t, 9, TextInput{Text: "abc-12"})
	if p.Text == "Enter a valid unit number, e.g. 12345 or ABC-12." {
		t.Fatalf("valid input rejected")
	}
}

func TestConfirmPersistsEntry(t *testing.T) {
	rig := newTestRig()
	rig.walkToConfirm(t, 7)
	p := rig.advance(t, 7, ActionSelection{Token: ActionConfirmSave})
	if p.Outcome != OutcomeSaved {
		t.Fatalf("outcome = %q, want saved", p.Outcome)
	}
	e, ok := rig.writer.rows["7:100"]
	if !ok {
		t.Fatalf("entry not written")
	}
	if e.FileURL != "https://files.example/invoice.jpg" {
		t.Fatalf("fileUrl = %q", e.FileURL)
	}
	if e.Total != 1234.50 || e.AssetType != AssetTruck {
		t.Fatalf("entry = %+v", e)
	}
	if d, _ := rig.sessions.GetDraft(context.Background(), 7); d != nil {
		t.Fatalf("draft not cleared after save")
	}
}

func TestConfirmSurvivesRelayFailure(t *testing.T) {
	rig := newTestRig()
	rig.relay.url = ""
	rig.walkToConfirm(t, 7)
	p := rig.advance(t, 7, ActionSelection{Token: ActionConfirmSave})
	if p.Outcome != OutcomeSaved {
		t.Fatalf("outcome = %q, want saved despite relay failure", p.Outcome)
	}
	e := rig.writer.rows["7:100"]
	if e.FileURL != "" {
		t.Fatalf("fileUrl = %q, want empty", e.FileURL)
	}
	if e.MsgKey != "7:100" {
		t.Fatalf("entry missing after relay failure")
	}
}

func TestConfirmRetainsDraftWhenAllWritesFail(t *testing.T) {
	rig := newTestRig()
	rig.writer.failures = 1
	rig.walkToConfirm(t, 7)

	p := rig.advance(t, 7, ActionSelection{Token: ActionConfirmSave})
	if p.Outcome != OutcomeRetry {
		t.Fatalf("outcome = %q, want retry", p.Outcome)
	}
	d, _ := rig.sessions.GetDraft(context.Background(), 7)
	if d == nil || d.Step != StepConfirm {
		t.Fatalf("draft not retained in confirm state: %+v", d)
	}

	// Retry without re-entering any data.
	p = rig.advance(t, 7, ActionSelection{Token: ActionConfirmSave})
	if p.Outcome != OutcomeSaved {
		t.Fatalf("retry outcome = %q", p.Outcome)
	}
	if len(rig.writer.rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rig.writer.rows))
	}
}

func TestConfirmTwiceYieldsOneRow(t *testing.T) {
	rig := newTestRig()
	rig.walkToConfirm(t, 7)
	if _, err := rig.engine.Confirm(context.Background(), 7); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	// Second confirm after the draft is gone is a no-session condition,
	// not a second write.
	if _, err := rig.engine.Confirm(context.Background(), 7); !errors.Is(err, ErrNoSession) {
		t.Fatalf("second confirm err = %v, want ErrNoSession", err)
	}
	if len(rig.writer.rows) != 1 {
		t.Fatalf("rows = %d, want exactly 1", len(rig.writer.rows))
	}
}

func TestConfirmRetryAfterDeleteFailureSkipsRelay(t *testing.T) {
	rig := newTestRig()
	rig.walkToConfirm(t, 7)
	rig.sessions.deleteFailures = 1

	// The write and the ledger commit succeed; only the draft cleanup
	// fails, so the caller sees an error with the entry already stored.
	if _, err := rig.engine.Confirm(context.Background(), 7); err == nil {
		t.Fatalf("expected delete failure to surface")
	}
	if len(rig.writer.rows) != 1 || rig.relay.calls != 1 {
		t.Fatalf("rows = %d relay calls = %d after first confirm", len(rig.writer.rows), rig.relay.calls)
	}

	// The retry must finish the cleanup without relaying a second copy of
	// the invoice or writing again.
	p, err := rig.engine.Confirm(context.Background(), 7)
	if err != nil {
		t.Fatalf("retry confirm: %v", err)
	}
	if p.Outcome != OutcomeSaved {
		t.Fatalf("retry outcome = %q", p.Outcome)
	}
	if rig.relay.calls != 1 {
		t.Fatalf("relay calls = %d, want 1", rig.relay.calls)
	}
	if len(rig.writer.rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rig.writer.rows))
	}
	if d, _ := rig.sessions.GetDraft(context.Background(), 7); d != nil {
		t.Fatalf("draft survived retry")
	}
}

func TestSkipCommentsYieldsEmptyString(t *testing.T) {
	rig := newTestRig()
	rig.walkToConfirm(t, 7)
	rig.advance(t, 7, ActionSelection{Token: ActionConfirmSave})
	if e := rig.writer.rows["7:100"]; e.Comments != "" {
		t.Fatalf("comments = %q, want empty", e.Comments)
	}
}

func TestCancelClearsDraftFromAnyStep(t *testing.T) {
	rig := newTestRig()
	ctx := context.Background()
	for i, walk := range []func(chatID int64){
		func(chatID int64) {},
		func(chatID int64) {
			rig.advance(t, chatID, ActionSelection{Token: "asset:Truck"})
			rig.advance(t, chatID, TextInput{Text: "abc-12"})
		},
	} {
		chatID := int64(100 + i)
		if _, err := rig.engine.Start(ctx, Inbound{ChatID: chatID, MessageID: 1}); err != nil {
			t.Fatalf("start: %v", err)
		}
		walk(chatID)
		p, err := rig.engine.Cancel(ctx, chatID)
		if err != nil {
			t.Fatalf("cancel: %v", err)
		}
		if p.Outcome != OutcomeCancelled {
			t.Fatalf("outcome = %q", p.Outcome)
		}
		if d, _ := rig.sessions.GetDraft(ctx, chatID); d != nil {
			t.Fatalf("draft leaked after cancel")
		}
		// Fresh start carries nothing over.
		if _, err := rig.engine.Start(ctx, Inbound{ChatID: chatID, MessageID: 2}); err != nil {
			t.Fatalf("restart: %v", err)
		}
		d, _ := rig.sessions.GetDraft(ctx, chatID)
		if d.AssetType != "" || d.UnitNumber != "" || d.MsgKey != fmt.Sprintf("%d:2", chatID) {
			t.Fatalf("leaked fields in fresh draft: %+v", d)
		}
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	rig := newTestRig()
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := rig.engine.Cancel(ctx, 55); err != nil {
			t.Fatalf("cancel #%d: %v", i+1, err)
		}
	}
}

func TestDocumentAttachmentAccepted(t *testing.T) {
	rig := newTestRig()
	ctx := context.Background()
	if _, err := rig.engine.Start(ctx, Inbound{ChatID: 4, MessageID: 1}); err != nil {
		t.Fatalf("start: %v", err)
	}
	rig.advance(t, 4, ActionSelection{Token: "asset:Truck"})
	rig.advance(t, 4, TextInput{Text: "12345"})
	rig.advance(t, 4, ActionSelection{Token: "loc:Other"})
	rig.advance(t, 4, TextInput{Text: "alternator"})
	rig.advance(t, 4, TextInput{Text: "10"})
	rig.advance(t, 4, ActionSelection{Token: "paid:driver"})
	rig.advance(t, 4, TextInput{Text: "paid cash"})
	p := rig.advance(t, 4, DocumentAttachment{FileID: "doc-1", FileName: "invoice.pdf"})
	if len(p.Choices) == 0 {
		t.Fatalf("expected confirm prompt with choices")
	}
	d, _ := rig.sessions.GetDraft(ctx, 4)
	if d.Attachment.Kind != AttachmentDocument || d.Attachment.FileID != "doc-1" {
		t.Fatalf("attachment = %+v", d.Attachment)
	}
	if d.Attachment.Name != "invoice.pdf" {
		t.Fatalf("attachment name = %q, want the sender's filename", d.Attachment.Name)
	}
	if d.Comments != "paid cash" {
		t.Fatalf("comments = %q", d.Comments)
	}
}
