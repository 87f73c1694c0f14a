// Package telegram connects the bot to the Telegram Bot API: it polls
// updates, converts them to bot events and implements bot.Messenger.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/ashureev/student-desk/internal/bot"
	"github.com/ashureev/student-desk/internal/domain"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	// maxMessageLength is Telegram's limit for a single text message.
	maxMessageLength = 4096
	pollTimeout      = 60
	diagramFilename  = "diagram.png"
)

// ErrFileTooLarge is returned when a download exceeds the allowed size.
var ErrFileTooLarge = errors.New("file too large")

// API is the subset of the Bot API client used by the adapter.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Handler consumes converted events.
type Handler interface {
	Handle(ctx context.Context, ev bot.Event)
}

// Adapter implements bot.Messenger on top of the Bot API.
type Adapter struct {
	api        API
	httpClient *http.Client
}

// New connects to the Bot API with token.
func New(token string, httpClient *http.Client, debug bool) (*Adapter, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	api, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, httpClient)
	if err != nil {
		return nil, fmt.Errorf("connect to telegram: %w", err)
	}
	api.Debug = debug
	slog.Info("Telegram bot authorized", "username", api.Self.UserName)
	return NewWithAPI(api, httpClient), nil
}

// NewWithAPI wraps an existing API client.
func NewWithAPI(api API, httpClient *http.Client) *Adapter {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Adapter{api: api, httpClient: httpClient}
}

// Run polls updates until ctx is cancelled, handling at most maxConcurrent
// events at a time. In-flight handlers are allowed to finish before Run returns.
func (a *Adapter) Run(ctx context.Context, h Handler, maxConcurrent int) error {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}

	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = pollTimeout
	updates := a.api.GetUpdatesChan(cfg)

	sem := make(chan struct{}, maxConcurrent)
	var wg sync.WaitGroup
	defer wg.Wait()

	handlerCtx := context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			a.api.StopReceivingUpdates()
			slog.Info("Telegram polling stopped")
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			ev, ok := ToEvent(update)
			if !ok {
				continue
			}

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				a.api.StopReceivingUpdates()
				return nil
			}

			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				h.Handle(handlerCtx, ev)
			}()
		}
	}
}

// ToEvent converts an update into a bot event. Updates the bot does not
// act on (edited messages, stickers, group joins...) return false.
func ToEvent(u tgbotapi.Update) (bot.Event, bool) {
	if cb := u.CallbackQuery; cb != nil {
		if cb.From == nil {
			return bot.Event{}, false
		}
		ev := bot.Event{
			Kind:         bot.EventCallback,
			UserID:       domain.UserID(cb.From.ID),
			ChatID:       cb.From.ID,
			LanguageCode: cb.From.LanguageCode,
			CallbackID:   cb.ID,
			CallbackData: cb.Data,
		}
		if cb.Message != nil {
			ev.MessageID = cb.Message.MessageID
			if cb.Message.Chat != nil {
				ev.ChatID = cb.Message.Chat.ID
			}
		}
		return ev, true
	}

	msg := u.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return bot.Event{}, false
	}
	ev := bot.Event{
		UserID:       domain.UserID(msg.From.ID),
		ChatID:       msg.Chat.ID,
		MessageID:    msg.MessageID,
		LanguageCode: msg.From.LanguageCode,
	}

	switch {
	case msg.IsCommand():
		ev.Kind = bot.EventCommand
		ev.Command = msg.Command()
		ev.Text = msg.CommandArguments()
	case msg.Document != nil:
		ev.Kind = bot.EventDocument
		ev.File = &bot.File{
			ID:      msg.Document.FileID,
			Name:    msg.Document.FileName,
			Size:    int64(msg.Document.FileSize),
			Caption: msg.Caption,
		}
	case len(msg.Photo) > 0:
		// Sizes are ordered smallest first.
		largest := msg.Photo[len(msg.Photo)-1]
		ev.Kind = bot.EventPhoto
		ev.File = &bot.File{ID: largest.FileID, Size: int64(largest.FileSize), Caption: msg.Caption}
	case msg.Text != "":
		ev.Kind = bot.EventText
		ev.Text = msg.Text
	default:
		return bot.Event{}, false
	}
	return ev, true
}

// SendMessage sends text, splitting it when it exceeds the platform limit.
// The keyboard is attached to the last part.
func (a *Adapter) SendMessage(_ context.Context, chatID int64, msg bot.Message) error {
	parts := splitText(msg.Text, maxMessageLength)
	for i, part := range parts {
		cfg := tgbotapi.NewMessage(chatID, part)
		if msg.Preformatted {
			cfg.Text = "<pre>" + html.EscapeString(part) + "</pre>"
			cfg.ParseMode = tgbotapi.ModeHTML
		}
		if i == len(parts)-1 && len(msg.Keyboard) > 0 {
			cfg.ReplyMarkup = keyboard(msg.Keyboard)
		}
		if _, err := a.api.Send(cfg); err != nil {
			return fmt.Errorf("send message: %w", err)
		}
	}
	return nil
}

// EditMessage replaces the text and keyboard of an existing message.
func (a *Adapter) EditMessage(_ context.Context, chatID int64, messageID int, msg bot.Message) error {
	var cfg tgbotapi.EditMessageTextConfig
	if len(msg.Keyboard) > 0 {
		cfg = tgbotapi.NewEditMessageTextAndMarkup(chatID, messageID, msg.Text, keyboard(msg.Keyboard))
	} else {
		cfg = tgbotapi.NewEditMessageText(chatID, messageID, msg.Text)
	}
	if _, err := a.api.Request(cfg); err != nil {
		// Re-pressing the same button produces an identical edit.
		if strings.Contains(err.Error(), "message is not modified") {
			return nil
		}
		return fmt.Errorf("edit message: %w", err)
	}
	return nil
}

// SendDocument uploads the local file at path under displayName.
func (a *Adapter) SendDocument(_ context.Context, chatID int64, path, displayName string) error {
	doc := tgbotapi.NewDocument(chatID, namedFile{path: path, name: displayName})
	if _, err := a.api.Send(doc); err != nil {
		return fmt.Errorf("send document %s: %w", displayName, err)
	}
	return nil
}

// SendPhoto uploads an in-memory image.
func (a *Adapter) SendPhoto(_ context.Context, chatID int64, image []byte, caption string) error {
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{Name: diagramFilename, Bytes: image})
	photo.Caption = caption
	if _, err := a.api.Send(photo); err != nil {
		return fmt.Errorf("send photo: %w", err)
	}
	return nil
}

// AnswerCallback acknowledges a button press so the client stops its spinner.
func (a *Adapter) AnswerCallback(_ context.Context, callbackID string) error {
	if callbackID == "" {
		return nil
	}
	if _, err := a.api.Request(tgbotapi.NewCallback(callbackID, "")); err != nil {
		return fmt.Errorf("answer callback: %w", err)
	}
	return nil
}

// DownloadFile fetches an uploaded file through its direct link.
// A positive maxBytes caps the download.
func (a *Adapter) DownloadFile(ctx context.Context, fileID string, maxBytes int64) ([]byte, error) {
	url, err := a.api.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("resolve file link: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create download request: %w", err)
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Debug("Failed to close download body", "error", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download file: unexpected status %d", resp.StatusCode)
	}

	var body io.Reader = resp.Body
	if maxBytes > 0 {
		body = io.LimitReader(resp.Body, maxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("download file: %w", ErrFileTooLarge)
	}
	return data, nil
}

func keyboard(kb bot.Keyboard) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(kb))
	for _, row := range kb {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data))
		}
		rows = append(rows, buttons)
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// splitText cuts s into parts of at most limit runes, preferring line breaks.
func splitText(s string, limit int) []string {
	if utf8.RuneCountInString(s) <= limit {
		return []string{s}
	}

	var parts []string
	runes := []rune(s)
	for len(runes) > limit {
		cut := limit
		for i := limit; i > limit/2; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		parts = append(parts, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		parts = append(parts, string(runes))
	}
	return parts
}
