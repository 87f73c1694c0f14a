// Package bot implements the interaction orchestrator: menu navigation,
// request dispatch to the knowledge service and command routing. It talks to
// the messaging platform only through the Messenger port.
package bot

import (
	"context"
	"log/slog"
)

// Button is an inline keyboard button carrying opaque callback data.
type Button struct {
	Text string
	Data string
}

// Keyboard is a grid of inline buttons, one slice per row.
type Keyboard [][]Button

// Message is an outbound text message.
type Message struct {
	Text         string
	Keyboard     Keyboard
	Preformatted bool
}

// Messenger delivers replies through the messaging platform.
type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, msg Message) error
	EditMessage(ctx context.Context, chatID int64, messageID int, msg Message) error
	SendDocument(ctx context.Context, chatID int64, path, displayName string) error
	SendPhoto(ctx context.Context, chatID int64, image []byte, caption string) error
	AnswerCallback(ctx context.Context, callbackID string) error
	DownloadFile(ctx context.Context, fileID string, maxBytes int64) ([]byte, error)
}

// reply sends text and logs delivery failures.
func reply(ctx context.Context, m Messenger, chatID int64, msg Message) {
	if err := m.SendMessage(ctx, chatID, msg); err != nil {
		slog.Warn("Failed to send message", "chat_id", chatID, "error", err)
	}
}

// replyText is a shorthand for a plain text reply.
func replyText(ctx context.Context, m Messenger, chatID int64, text string) {
	reply(ctx, m, chatID, Message{Text: text})
}

// show replaces the menu message in place, falling back to a new message when
// the platform refuses the edit (e.g. the original is too old).
func show(ctx context.Context, m Messenger, chatID int64, messageID int, msg Message) {
	if messageID != 0 {
		err := m.EditMessage(ctx, chatID, messageID, msg)
		if err == nil {
			return
		}
		slog.Debug("Menu edit failed, sending new message", "chat_id", chatID, "error", err)
	}
	reply(ctx, m, chatID, msg)
}
