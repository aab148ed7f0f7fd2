package intake

import (
	"context"
	"time"
)

// Step identifies the dialogue state a Draft is waiting in. Steps only
// advance forward; cancel resets the session to no Draft at all.
type Step string

const (
	StepAssetType  Step = "asset"
	StepUnitNumber Step = "unit"
	StepLinkedUnit Step = "linked_unit"
	StepLocation   Step = "location"
	StepRepair     Step = "repair"
	StepTotal      Step = "total"
	StepPaidBy     Step = "paid"
	StepComments   Step = "comments"
	StepFile       Step = "file"
	StepConfirm    Step = "confirm"
)

const (
	AssetTruck   = "Truck"
	AssetTrailer = "Trailer"

	PaidByCompany = "company"
	PaidByDriver  = "driver"
)

// Locations is the closed choice set for the repair location step.
var Locations = []string{"Shop", "Roadside", "Yard", "TA/Petro", "Loves", "Other"}

const (
	AttachmentPhoto    = "photo"
	AttachmentDocument = "document"
)

// AttachmentRef points at the invoice file on the chat platform. Name is
// the sender's original filename when the platform exposes one (documents
// do, photos don't).
type AttachmentRef struct {
	FileID string `json:"fileId"`
	Kind   string `json:"kind"`
	Name   string `json:"name,omitempty"`
}

// Draft is the in-progress, mutable record of one conversation's answers.
// Fields are populated strictly in step order.
type Draft struct {
	Step             Step          `json:"step"`
	AssetType        string        `json:"assetType"`
	UnitNumber       string        `json:"unitNumber"`
	LinkedUnitNumber string        `json:"linkedUnitNumber,omitempty"`
	Location         string        `json:"location"`
	RepairDesc       string        `json:"repairDescription"`
	TotalAmount      float64       `json:"totalAmount"`
	PaidBy           string        `json:"paidBy"`
	Comments         string        `json:"comments"`
	Attachment       AttachmentRef `json:"attachment"`
	Reporter         string        `json:"reporter"`
	MsgKey           string        `json:"msgKey"`
}

// Entry is the immutable snapshot of a completed Draft. Column names match
// the downstream row schema.
type Entry struct {
	Timestamp  string  `json:"ts"`
	AssetType  string  `json:"asset"`
	UnitNumber string  `json:"unit"`
	LinkedUnit string  `json:"linked_unit,omitempty"`
	Location   string  `json:"location"`
	Repair     string  `json:"repair"`
	Total      float64 `json:"total"`
	PaidBy     string  `json:"paid_by"`
	Comments   string  `json:"comments"`
	Reporter   string  `json:"reporter"`
	FileID     string  `json:"file_id"`
	FileURL    string  `json:"file_url"`
	MsgKey     string  `json:"msg_key"`
}

func entryFromDraft(d *Draft, ts time.Time, fileURL string) Entry {
	return Entry{
		Timestamp:  ts.UTC().Format(time.RFC3339),
		AssetType:  d.AssetType,
		UnitNumber: d.UnitNumber,
		LinkedUnit: d.LinkedUnitNumber,
		Location:   d.Location,
		Repair:     d.RepairDesc,
		Total:      d.TotalAmount,
		PaidBy:     d.PaidBy,
		Comments:   d.Comments,
		Reporter:   d.Reporter,
		FileID:     d.Attachment.FileID,
		FileURL:    fileURL,
		MsgKey:     d.MsgKey,
	}
}

// SessionStore holds at most one Draft per chat, TTL-bounded.
type SessionStore interface {
	GetDraft(ctx context.Context, chatID int64) (*Draft, error)
	SetDraft(ctx context.Context, chatID int64, d *Draft) error
	DeleteDraft(ctx context.Context, chatID int64) error
}

// DedupLedger is an atomic check-and-set over opaque keys. Seen records the
// key with a bounded TTL on first observation and reports whether a live
// record already existed. Committed is the read-only existence check; it
// never claims the key.
type DedupLedger interface {
	Seen(ctx context.Context, key string) (bool, error)
	Committed(ctx context.Context, key string) (bool, error)
}

// RelayRequest carries everything the File Relay needs to move one
// attachment to durable storage.
type RelayRequest struct {
	Ref        AttachmentRef
	AssetType  string
	UnitNumber string
	Timestamp  time.Time
}

// FileRelay resolves an attachment to durable storage and returns its public
// URL. Failures are absorbed by the relay; an empty URL means the invoice
// could not be stored.
type FileRelay interface {
	Relay(ctx context.Context, req RelayRequest) string
}

// EntryWriter commits a completed Entry to durable storage.
type EntryWriter interface {
	Write(ctx context.Context, e Entry) error
}
