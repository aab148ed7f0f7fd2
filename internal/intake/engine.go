package intake

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ErrorSink receives structured failure records from the engine's commit
// path. The journal package provides the canonical implementation.
type ErrorSink interface {
	Capture(ctx context.Context, tag string, detail any)
}

// EngineOptions wires the engine's collaborators.
type EngineOptions struct {
	Sessions SessionStore
	Ledger   DedupLedger
	Relay    FileRelay
	Writer   EntryWriter
	Journal  ErrorSink
	Now      func() time.Time
}

// Engine walks one Draft per chat through the ordered field steps.
// Validation failures never escape: they come back as re-prompts with the
// Draft unchanged. Errors are reserved for session-store failures.
type Engine struct {
	sessions SessionStore
	ledger   DedupLedger
	relay    FileRelay
	writer   EntryWriter
	journal  ErrorSink
	now      func() time.Time
}

func NewEngine(opts EngineOptions) *Engine {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		sessions: opts.Sessions,
		ledger:   opts.Ledger,
		relay:    opts.Relay,
		writer:   opts.Writer,
		journal:  opts.Journal,
		now:      now,
	}
}

// Start discards any existing Draft and begins a fresh one.
func (e *Engine) Start(ctx context.Context, in Inbound) (Prompt, error) {
	d := &Draft{
		Step:     StepAssetType,
		Reporter: in.Reporter,
		MsgKey:   fmt.Sprintf("%d:%d", in.ChatID, in.MessageID),
	}
	if err := e.sessions.SetDraft(ctx, in.ChatID, d); err != nil {
		return Prompt{}, err
	}
	return assetPrompt(), nil
}

// Cancel unconditionally clears the Draft. Idempotent.
func (e *Engine) Cancel(ctx context.Context, chatID int64) (Prompt, error) {
	if err := e.sessions.DeleteDraft(ctx, chatID); err != nil {
		return Prompt{}, err
	}
	return cancelledPrompt(), nil
}

// Status reports the Draft's progress without mutating it.
func (e *Engine) Status(ctx context.Context, chatID int64) (Prompt, error) {
	d, err := e.sessions.GetDraft(ctx, chatID)
	if err != nil {
		return Prompt{}, err
	}
	if d == nil {
		return Prompt{Text: "No active entry. Send /new to start one."}, nil
	}
	attached := "missing"
	if d.Attachment.FileID != "" {
		attached = "attached"
	}
	lines := []string{
		"Current entry",
		"Step: " + string(d.Step),
		"Asset: " + d.AssetType,
		"Unit: " + d.UnitNumber,
		"Location: " + d.Location,
		"Repair: " + d.RepairDesc,
		fmt.Sprintf("Total: $%.2f", d.TotalAmount),
		"Paid by: " + d.PaidBy,
		"File: " + attached,
	}
	return Prompt{Text: strings.Join(lines, "\n")}, nil
}

// Advance validates the event against the current step's grammar. On
// success the Draft mutates and moves forward; on failure the Draft is
// untouched and the returned Prompt re-asks the same field.
func (e *Engine) Advance(ctx context.Context, in Inbound) (Prompt, error) {
	d, err := e.sessions.GetDraft(ctx, in.ChatID)
	if err != nil {
		return Prompt{}, err
	}
	if d == nil {
		return e.Start(ctx, in)
	}

	switch d.Step {
	case StepAssetType:
		asset, ok := matchChoice(in.Event, assetTokenPrefix, []string{AssetTruck, AssetTrailer})
		if !ok {
			return rePrompt("Tap Truck or Trailer.", assetPrompt()), nil
		}
		d.AssetType = asset
		d.Step = StepUnitNumber
		return e.save(ctx, in.ChatID, d, unitPrompt(asset))

	case StepUnitNumber:
		unit, ok := unitFromEvent(in.Event)
		if !ok {
			return rePrompt("Enter a valid unit number, e.g. 12345 or ABC-12.", unitPrompt(d.AssetType)), nil
		}
		d.UnitNumber = unit
		if d.AssetType == AssetTrailer {
			d.Step = StepLinkedUnit
			return e.save(ctx, in.ChatID, d, linkedUnitPrompt())
		}
		d.Step = StepLocation
		return e.save(ctx, in.ChatID, d, locationPrompt())

	case StepLinkedUnit:
		unit, ok := unitFromEvent(in.Event)
		if !ok {
			return rePrompt("Enter a valid truck unit number, e.g. 12345 or ABC-12.", linkedUnitPrompt()), nil
		}
		d.LinkedUnitNumber = unit
		d.Step = StepLocation
		return e.save(ctx, in.ChatID, d, locationPrompt())

	case StepLocation:
		loc, ok := matchChoice(in.Event, locTokenPrefix, Locations)
		if !ok {
			return rePrompt("Pick one of the listed locations.", locationPrompt()), nil
		}
		d.Location = loc
		d.Step = StepRepair
		return e.save(ctx, in.ChatID, d, repairPrompt())

	case StepRepair:
		text, ok := in.Event.(TextInput)
		if !ok {
			return rePrompt("Describe the repair in a short line of text.", repairPrompt()), nil
		}
		line := FirstLine(text.Text)
		if line == "" {
			return rePrompt("Please enter a short repair description.", repairPrompt()), nil
		}
		d.RepairDesc = line
		d.Step = StepTotal
		return e.save(ctx, in.ChatID, d, totalPrompt())

	case StepTotal:
		text, ok := in.Event.(TextInput)
		if !ok {
			return rePrompt("Enter a valid amount. Examples: 10 or $10 or 10,50", totalPrompt()), nil
		}
		amount, ok := ParseAmount(text.Text)
		if !ok {
			return rePrompt("Enter a valid amount. Examples: 10 or $10 or 10,50", totalPrompt()), nil
		}
		d.TotalAmount = amount
		d.Step = StepPaidBy
		return e.save(ctx, in.ChatID, d, paidPrompt())

	case StepPaidBy:
		paid, ok := matchChoice(in.Event, paidTokenPrefix, []string{PaidByCompany, PaidByDriver})
		if !ok {
			return rePrompt("Tap Company or Driver.", paidPrompt()), nil
		}
		d.PaidBy = paid
		d.Step = StepComments
		return e.save(ctx, in.ChatID, d, commentsPrompt())

	case StepComments:
		switch ev := in.Event.(type) {
		case ActionSelection:
			if ev.Token != ActionSkipComments {
				return rePrompt("Type a comment, or tap Skip.", commentsPrompt()), nil
			}
			d.Comments = ""
		case TextInput:
			d.Comments = strings.TrimSpace(ev.Text)
		default:
			return rePrompt("Type a comment, or tap Skip.", commentsPrompt()), nil
		}
		d.Step = StepFile
		return e.save(ctx, in.ChatID, d, filePrompt())

	case StepFile:
		ref, ok := attachmentFromEvent(in.Event)
		if !ok {
			return rePrompt("Attach the invoice as a photo or a file.", filePrompt()), nil
		}
		d.Attachment = ref
		d.Step = StepConfirm
		return e.save(ctx, in.ChatID, d, confirmPrompt(d))

	case StepConfirm:
		if ev, ok := in.Event.(ActionSelection); ok {
			switch ev.Token {
			case ActionConfirmSave:
				return e.Confirm(ctx, in.ChatID)
			case ActionConfirmCancel:
				return e.Cancel(ctx, in.ChatID)
			}
		}
		return rePrompt("Tap Save to store the entry, or Cancel.", confirmPrompt(d)), nil
	}
	return Prompt{}, fmt.Errorf("%w: draft step %q", ErrInvalidState, d.Step)
}

// Confirm commits the Draft: file relay, then the write strategies, then
// the dedup commit on the business key. On write failure the Draft stays in
// Confirm so a retry does not re-enter data.
func (e *Engine) Confirm(ctx context.Context, chatID int64) (Prompt, error) {
	d, err := e.sessions.GetDraft(ctx, chatID)
	if err != nil {
		return Prompt{}, err
	}
	if d == nil {
		return Prompt{}, ErrNoSession
	}
	if d.Step != StepConfirm {
		return Prompt{}, fmt.Errorf("%w: confirm from step %q", ErrInvalidState, d.Step)
	}

	// A live business key means a previous confirm already stored this
	// entry and only the draft cleanup is left over (for example when
	// DeleteDraft failed after the write). Re-running the relay here would
	// store a second copy of the invoice.
	if committed, err := e.ledger.Committed(ctx, "entry:"+d.MsgKey); err != nil {
		e.capture(ctx, "engine/dedup-check", fmt.Sprintf("msg_key=%s: %v", d.MsgKey, err))
	} else if committed {
		if err := e.sessions.DeleteDraft(ctx, chatID); err != nil {
			return Prompt{}, err
		}
		return savedPrompt(), nil
	}

	ts := e.now()
	fileURL := ""
	if d.Attachment.FileID != "" {
		fileURL = e.relay.Relay(ctx, RelayRequest{
			Ref:        d.Attachment,
			AssetType:  d.AssetType,
			UnitNumber: d.UnitNumber,
			Timestamp:  ts,
		})
	}

	entry := entryFromDraft(d, ts, fileURL)
	if err := e.writer.Write(ctx, entry); err != nil {
		e.capture(ctx, "engine/commit", fmt.Sprintf("msg_key=%s: %v", d.MsgKey, err))
		return confirmRetryPrompt(), nil
	}

	// Commit the business key after the idempotent write. A true result
	// means a duplicate delivery already committed this Draft; the merge
	// semantics of the strategies guarantee a single stored row either way.
	if seen, err := e.ledger.Seen(ctx, "entry:"+d.MsgKey); err != nil {
		e.capture(ctx, "engine/dedup-commit", fmt.Sprintf("msg_key=%s: %v", d.MsgKey, err))
	} else if seen {
		e.capture(ctx, "engine/duplicate-commit", "msg_key="+d.MsgKey)
	}

	if err := e.sessions.DeleteDraft(ctx, chatID); err != nil {
		return Prompt{}, err
	}
	return savedPrompt(), nil
}

func (e *Engine) save(ctx context.Context, chatID int64, d *Draft, next Prompt) (Prompt, error) {
	if err := e.sessions.SetDraft(ctx, chatID, d); err != nil {
		return Prompt{}, err
	}
	return next, nil
}

func (e *Engine) capture(ctx context.Context, tag string, detail any) {
	if e.journal != nil {
		e.journal.Capture(ctx, tag, detail)
	}
}

// matchChoice resolves a closed-choice step from either an action token
// ("prefix:Value") or free text equal to one of the choices.
func matchChoice(ev Event, prefix string, choices []string) (string, bool) {
	var candidate string
	switch ev := ev.(type) {
	case ActionSelection:
		if !strings.HasPrefix(ev.Token, prefix) {
			return "", false
		}
		candidate = strings.TrimPrefix(ev.Token, prefix)
	case TextInput:
		candidate = strings.TrimSpace(ev.Text)
	default:
		return "", false
	}
	for _, choice := range choices {
		if strings.EqualFold(candidate, choice) {
			return choice, true
		}
	}
	return "", false
}

func unitFromEvent(ev Event) (string, bool) {
	text, ok := ev.(TextInput)
	if !ok {
		return "", false
	}
	return NormalizeUnit(text.Text)
}

func attachmentFromEvent(ev Event) (AttachmentRef, bool) {
	switch ev := ev.(type) {
	case PhotoAttachment:
		if len(ev.Variants) == 0 {
			return AttachmentRef{}, false
		}
		// The platform orders variants by size; the last is the largest.
		return AttachmentRef{FileID: ev.Variants[len(ev.Variants)-1].FileID, Kind: AttachmentPhoto}, true
	case DocumentAttachment:
		if ev.FileID == "" {
			return AttachmentRef{}, false
		}
		return AttachmentRef{FileID: ev.FileID, Kind: AttachmentDocument, Name: ev.FileName}, true
	}
	return AttachmentRef{}, false
}
