package bot

import "github.com/ashureev/student-desk/internal/domain"

// EventKind discriminates inbound platform events.
type EventKind int

const (
	// EventText is free-form text.
	EventText EventKind = iota
	// EventCommand is a slash command; Command holds its name and Text its arguments.
	EventCommand
	// EventCallback is an inline button press.
	EventCallback
	// EventDocument is a document upload.
	EventDocument
	// EventPhoto is a photo upload.
	EventPhoto
)

// String returns the metric label for the kind.
func (k EventKind) String() string {
	switch k {
	case EventText:
		return "text"
	case EventCommand:
		return "command"
	case EventCallback:
		return "callback"
	case EventDocument:
		return "document"
	case EventPhoto:
		return "photo"
	default:
		return "unknown"
	}
}

// File describes an uploaded file before it is downloaded.
type File struct {
	ID      string
	Name    string
	Size    int64
	Caption string
}

// Event is a transport-neutral inbound user event.
type Event struct {
	Kind         EventKind
	UserID       domain.UserID
	ChatID       int64
	MessageID    int
	LanguageCode string

	Text    string
	Command string

	CallbackID   string
	CallbackData string

	File *File
}
