package intake

// Event is the closed union of inbound shapes the engine understands.
// The transport boundary parses raw updates into one of these; anything
// else is logged and dropped before it reaches the engine.
type Event interface {
	isEvent()
}

// TextInput is a free-text message from the user.
type TextInput struct {
	Text string
}

// ActionSelection is a token selected from a UI control.
type ActionSelection struct {
	Token string
}

// PhotoVariant is one resolution of a platform photo. Variants arrive
// ordered smallest to largest.
type PhotoVariant struct {
	FileID string
	Width  int
	Height int
}

// PhotoAttachment is the size-ordered variant list of one photo.
type PhotoAttachment struct {
	Variants []PhotoVariant
}

// DocumentAttachment is a generic file reference.
type DocumentAttachment struct {
	FileID   string
	FileName string
}

func (TextInput) isEvent()          {}
func (ActionSelection) isEvent()    {}
func (PhotoAttachment) isEvent()    {}
func (DocumentAttachment) isEvent() {}

// Inbound is one parsed event addressed to a session.
type Inbound struct {
	ChatID    int64
	MessageID int64
	Reporter  string
	Event     Event
}
