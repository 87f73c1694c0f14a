package bot

import (
	"context"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/ashureev/student-desk/internal/domain"
	"github.com/ashureev/student-desk/internal/i18n"
	"github.com/ashureev/student-desk/internal/metrics"
)

// Knowledge is the knowledge service contract.
type Knowledge interface {
	Chat(ctx context.Context, query, sessionHandle string) (*domain.Response, error)
	Flowchart(ctx context.Context, query, sessionHandle string) (*domain.Response, error)
	Analyze(ctx context.Context, filename string, content []byte, question string) (*domain.Response, error)
}

// Renderer turns a diagram definition into image bytes.
type Renderer interface {
	Render(ctx context.Context, definition string) ([]byte, error)
}

// Freshener resets the remote conversation context.
type Freshener interface {
	EnsureFresh(ctx context.Context, userID domain.UserID)
	ForceClear(ctx context.Context, userID domain.UserID) error
}

// photoFilename names uploads that arrive without a filename.
const photoFilename = "photo.jpg"

var (
	// sourcePrefix matches ordering prefixes such as "12-34-" on source files.
	sourcePrefix = regexp.MustCompile(`^(\d+-)+`)

	supportedUploads = map[string]struct{}{
		".docx": {}, ".txt": {}, ".pdf": {},
		".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {},
	}
)

// DisplaySourceName strips ordering prefixes from a source filename.
func DisplaySourceName(name string) string {
	return sourcePrefix.ReplaceAllString(filepath.Base(name), "")
}

// SupportedUpload reports whether the file extension can be analyzed.
func SupportedUpload(name string) bool {
	_, ok := supportedUploads[strings.ToLower(filepath.Ext(name))]
	return ok
}

// Dispatcher routes chat, flowchart and file requests to the backends and
// assembles the replies. Every backend failure degrades to localized text.
type Dispatcher struct {
	messenger      Messenger
	knowledge      Knowledge
	renderer       Renderer
	refresher      Freshener
	locales        *i18n.Resolver
	metrics        *metrics.Metrics
	sourcesDir     string
	maxUploadBytes int64
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(m Messenger, kn Knowledge, r Renderer, f Freshener, locales *i18n.Resolver, mtr *metrics.Metrics, sourcesDir string, maxUploadBytes int64) *Dispatcher {
	return &Dispatcher{
		messenger:      m,
		knowledge:      kn,
		renderer:       r,
		refresher:      f,
		locales:        locales,
		metrics:        mtr,
		sourcesDir:     sourcesDir,
		maxUploadBytes: maxUploadBytes,
	}
}

// Chat answers a free-form question.
func (d *Dispatcher) Chat(ctx context.Context, ev Event, lang, query string) {
	defer d.metrics.ObserveSince(domain.RequestChat.String(), time.Now())

	d.refresher.EnsureFresh(ctx, ev.UserID)

	resp, err := d.knowledge.Chat(ctx, query, ev.UserID.ExternalSessionHandle())
	d.metrics.APICall("chat", err)
	if err != nil || resp == nil || resp.AnswerText == "" {
		d.fallback(ctx, ev, lang, "chat", err)
		return
	}

	replyText(ctx, d.messenger, ev.ChatID, resp.AnswerText)
	d.sendSources(ctx, ev.ChatID, resp.Sources)
}

// Flowchart produces a rendered diagram for a description.
func (d *Dispatcher) Flowchart(ctx context.Context, ev Event, lang, query string) {
	defer d.metrics.ObserveSince(domain.RequestFlowchart.String(), time.Now())

	d.refresher.EnsureFresh(ctx, ev.UserID)

	resp, err := d.knowledge.Flowchart(ctx, query, ev.UserID.ExternalSessionHandle())
	d.metrics.APICall("flowchart", err)
	if err != nil || !resp.HasDiagram() {
		d.fallback(ctx, ev, lang, "flowchart", err)
		return
	}

	image, err := d.renderer.Render(ctx, resp.DiagramDefinition)
	if err != nil {
		slog.Warn("Diagram render failed, sending definition", "user_id", ev.UserID, "error", err)
		d.sendDefinition(ctx, ev.ChatID, resp)
		return
	}

	var caption string
	if len(resp.Sources) > 0 {
		caption = d.locales.T(lang, "sources_caption")
	}
	if err := d.messenger.SendPhoto(ctx, ev.ChatID, image, caption); err != nil {
		slog.Warn("Failed to send diagram, sending definition", "chat_id", ev.ChatID, "error", err)
		d.sendDefinition(ctx, ev.ChatID, resp)
		return
	}
	d.sendSources(ctx, ev.ChatID, resp.Sources)
}

// sendDefinition delivers the raw diagram text when no image can be shown.
func (d *Dispatcher) sendDefinition(ctx context.Context, chatID int64, resp *domain.Response) {
	reply(ctx, d.messenger, chatID, Message{Text: resp.DiagramDefinition, Preformatted: true})
	d.sendSources(ctx, chatID, resp.Sources)
}

// File analyzes an uploaded document or photo.
func (d *Dispatcher) File(ctx context.Context, ev Event, lang string) {
	defer d.metrics.ObserveSince(domain.RequestFileAnalysis.String(), time.Now())

	if ev.File == nil {
		return
	}
	name := ev.File.Name
	if name == "" {
		name = photoFilename
	}

	if !SupportedUpload(name) {
		slog.Info("Rejected upload", "user_id", ev.UserID, "file", name, "error", domain.ErrUnsupportedFile)
		replyText(ctx, d.messenger, ev.ChatID, d.locales.T(lang, "format_not_supported"))
		return
	}
	if d.maxUploadBytes > 0 && ev.File.Size > d.maxUploadBytes {
		slog.Info("Rejected oversized upload", "user_id", ev.UserID, "file", name, "size", ev.File.Size)
		replyText(ctx, d.messenger, ev.ChatID, d.locales.T(lang, "file_too_large"))
		return
	}

	prompt := strings.TrimSpace(ev.File.Caption)
	if prompt == "" {
		prompt = d.locales.T(lang, "default_file_prompt")
	}

	d.refresher.EnsureFresh(ctx, ev.UserID)

	content, err := d.messenger.DownloadFile(ctx, ev.File.ID, d.maxUploadBytes)
	if err != nil {
		d.fallback(ctx, ev, lang, "download", err)
		return
	}

	resp, err := d.knowledge.Analyze(ctx, name, content, prompt)
	d.metrics.APICall("analyze", err)
	if err != nil || resp == nil || resp.AnswerText == "" {
		d.fallback(ctx, ev, lang, "analyze", err)
		return
	}
	replyText(ctx, d.messenger, ev.ChatID, resp.AnswerText)
}

// sendSources attaches the referenced source files that exist locally.
func (d *Dispatcher) sendSources(ctx context.Context, chatID int64, sources []string) {
	for _, src := range sources {
		path := filepath.Join(d.sourcesDir, filepath.Base(src))
		if !fileExists(path) {
			slog.Info("Source file missing, skipping", "file", src, "error", domain.ErrSourceMissing)
			continue
		}
		if err := d.messenger.SendDocument(ctx, chatID, path, DisplaySourceName(src)); err != nil {
			slog.Warn("Failed to send source", "file", src, "error", err)
		}
	}
}

func (d *Dispatcher) fallback(ctx context.Context, ev Event, lang, op string, err error) {
	if err != nil {
		slog.Warn("Request failed", "op", op, "user_id", ev.UserID, "error", err)
	} else {
		slog.Warn("Request returned empty result", "op", op, "user_id", ev.UserID)
	}
	replyText(ctx, d.messenger, ev.ChatID, d.locales.T(lang, "fallback"))
}
