// Package telegram is the chat-platform boundary: a thin Bot API client
// and the parser that turns raw update envelopes into the engine's closed
// event union. Unrecognized shapes never reach the engine.
package telegram

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/fleetworks/invoicebot/internal/intake"
)

// envelopeSchema is intentionally shallow: it pins the envelope shape
// (update_id plus at most one payload object); field-level validation is
// the typed decode's job.
const envelopeSchema = `{
	"type": "object",
	"required": ["update_id"],
	"properties": {
		"update_id": {"type": "integer"},
		"message": {"type": "object"},
		"callback_query": {"type": "object"}
	}
}`

var updateSchema = mustCompileEnvelopeSchema()

func mustCompileEnvelopeSchema() *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(envelopeSchema))
	if err != nil {
		panic(err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("telegram-update.json", doc); err != nil {
		panic(err)
	}
	schema, err := compiler.Compile("telegram-update.json")
	if err != nil {
		panic(err)
	}
	return schema
}

type Update struct {
	UpdateID      int64          `json:"update_id"`
	Message       *Message       `json:"message,omitempty"`
	CallbackQuery *CallbackQuery `json:"callback_query,omitempty"`
}

type Message struct {
	MessageID int64       `json:"message_id"`
	From      *User       `json:"from,omitempty"`
	Chat      Chat        `json:"chat"`
	Text      string      `json:"text,omitempty"`
	Photo     []PhotoSize `json:"photo,omitempty"`
	Document  *Document   `json:"document,omitempty"`
}

type CallbackQuery struct {
	ID      string   `json:"id"`
	From    *User    `json:"from,omitempty"`
	Message *Message `json:"message,omitempty"`
	Data    string   `json:"data,omitempty"`
}

type User struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Username  string `json:"username,omitempty"`
}

type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type,omitempty"`
}

// PhotoSize variants arrive ordered smallest to largest.
type PhotoSize struct {
	FileID string `json:"file_id"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type Document struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name,omitempty"`
}

// ParseUpdate validates the envelope against the schema and decodes it.
func ParseUpdate(body []byte) (*Update, error) {
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("malformed update body: %w", err)
	}
	if err := updateSchema.Validate(instance); err != nil {
		return nil, fmt.Errorf("unrecognized update envelope: %w", err)
	}
	var u Update
	if err := json.Unmarshal(body, &u); err != nil {
		return nil, fmt.Errorf("decode update: %w", err)
	}
	return &u, nil
}

// DisplayName is the reporter identity: name parts plus @username.
func (u *User) DisplayName() string {
	if u == nil {
		return "unknown"
	}
	parts := make([]string, 0, 3)
	if u.FirstName != "" {
		parts = append(parts, u.FirstName)
	}
	if u.LastName != "" {
		parts = append(parts, u.LastName)
	}
	if u.Username != "" {
		parts = append(parts, "@"+u.Username)
	}
	if len(parts) == 0 {
		return "unknown"
	}
	return strings.Join(parts, " ")
}

// Inbound converts the update into an engine event. ok is false for shapes
// the engine has no business seeing (stickers, edits, empty callbacks);
// those are dropped at the boundary.
func (u *Update) Inbound() (intake.Inbound, bool) {
	switch {
	case u.Message != nil:
		m := u.Message
		in := intake.Inbound{
			ChatID:    m.Chat.ID,
			MessageID: m.MessageID,
			Reporter:  m.From.DisplayName(),
		}
		switch {
		case len(m.Photo) > 0:
			variants := make([]intake.PhotoVariant, len(m.Photo))
			for i, p := range m.Photo {
				variants[i] = intake.PhotoVariant{FileID: p.FileID, Width: p.Width, Height: p.Height}
			}
			in.Event = intake.PhotoAttachment{Variants: variants}
		case m.Document != nil:
			in.Event = intake.DocumentAttachment{FileID: m.Document.FileID, FileName: m.Document.FileName}
		case m.Text != "":
			in.Event = intake.TextInput{Text: m.Text}
		default:
			return intake.Inbound{}, false
		}
		return in, true

	case u.CallbackQuery != nil:
		cb := u.CallbackQuery
		if cb.Message == nil || cb.Data == "" {
			return intake.Inbound{}, false
		}
		return intake.Inbound{
			ChatID:    cb.Message.Chat.ID,
			MessageID: cb.Message.MessageID,
			Reporter:  cb.From.DisplayName(),
			Event:     intake.ActionSelection{Token: cb.Data},
		}, true
	}
	return intake.Inbound{}, false
}
