package bot

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ashureev/student-desk/internal/catalog"
	"github.com/ashureev/student-desk/internal/domain"
	"github.com/ashureev/student-desk/internal/i18n"
	"github.com/ashureev/student-desk/internal/session"
)

// Callback data understood by the navigator.
const (
	cbCourse        = "course:"
	cbProcedure     = "proc:"
	cbLanguage      = "lang:"
	cbBackToProcs   = "back:procs"
	cbBackToYears   = "back:years"
	cbFAQ           = "faq"
	cbNoFAQ         = "no_faq"
	procedureSymbol = "📝 "
)

// Navigator drives the button-based catalog browsing:
// welcome → course → procedure, plus the FAQ and language screens.
type Navigator struct {
	messenger    Messenger
	catalog      *catalog.Catalog
	clicks       catalog.ClickTracker
	sessions     session.Store
	locales      *i18n.Resolver
	templatesDir string
}

// NewNavigator creates a navigator.
func NewNavigator(m Messenger, cat *catalog.Catalog, clicks catalog.ClickTracker, sessions session.Store, locales *i18n.Resolver, templatesDir string) *Navigator {
	return &Navigator{
		messenger:    m,
		catalog:      cat,
		clicks:       clicks,
		sessions:     sessions,
		locales:      locales,
		templatesDir: templatesDir,
	}
}

// Welcome sends a fresh welcome menu.
func (n *Navigator) Welcome(ctx context.Context, ev Event, lang string) {
	reply(ctx, n.messenger, ev.ChatID, n.welcomeScreen(ctx, lang, "welcome"))
}

// LanguagePicker sends the language selection menu.
func (n *Navigator) LanguagePicker(ctx context.Context, ev Event, lang string) {
	var kb Keyboard
	for _, opt := range n.locales.Options() {
		kb = append(kb, []Button{{Text: opt.Label, Data: cbLanguage + opt.Code}})
	}
	reply(ctx, n.messenger, ev.ChatID, Message{Text: n.locales.T(lang, "choose_language"), Keyboard: kb})
}

// HandleCallback applies a button press.
func (n *Navigator) HandleCallback(ctx context.Context, ev Event, lang string) {
	if err := n.messenger.AnswerCallback(ctx, ev.CallbackID); err != nil {
		slog.Debug("Failed to answer callback", "user_id", ev.UserID, "error", err)
	}

	data := ev.CallbackData
	switch {
	case strings.HasPrefix(data, cbCourse):
		n.selectCourse(ctx, ev, lang, strings.TrimPrefix(data, cbCourse))
	case strings.HasPrefix(data, cbProcedure):
		n.openProcedure(ctx, ev, lang, strings.TrimPrefix(data, cbProcedure))
	case strings.HasPrefix(data, cbLanguage):
		n.setLanguage(ctx, ev, strings.TrimPrefix(data, cbLanguage))
	case data == cbBackToProcs:
		n.backToProcedures(ctx, ev, lang)
	case data == cbBackToYears:
		show(ctx, n.messenger, ev.ChatID, ev.MessageID, n.welcomeScreen(ctx, lang, "welcome"))
	case data == cbNoFAQ:
		show(ctx, n.messenger, ev.ChatID, ev.MessageID, n.welcomeScreen(ctx, lang, "no_faq"))
	case data == cbFAQ:
		show(ctx, n.messenger, ev.ChatID, ev.MessageID, n.faqScreen(ctx, lang))
	default:
		slog.Warn("Unknown callback data", "user_id", ev.UserID, "data", data)
	}
}

func (n *Navigator) selectCourse(ctx context.Context, ev Event, lang, courseID string) {
	if _, ok := n.catalog.Course(courseID); !ok {
		slog.Warn("Unknown course selected", "user_id", ev.UserID, "course", courseID)
		return
	}
	if err := n.sessions.SetSelectedCourse(ctx, ev.UserID, courseID); err != nil {
		slog.Warn("Failed to store selected course", "user_id", ev.UserID, "error", err)
	}
	show(ctx, n.messenger, ev.ChatID, ev.MessageID, n.proceduresScreen(lang, courseID))
}

func (n *Navigator) backToProcedures(ctx context.Context, ev Event, lang string) {
	courseID := catalog.DefaultCourseID
	sess, err := n.sessions.Get(ctx, ev.UserID)
	if err != nil {
		slog.Warn("Session lookup failed, using default course", "user_id", ev.UserID, "error", err)
	} else if sess.SelectedCourseID != "" {
		courseID = sess.SelectedCourseID
	}
	show(ctx, n.messenger, ev.ChatID, ev.MessageID, n.proceduresScreen(lang, courseID))
}

func (n *Navigator) openProcedure(ctx context.Context, ev Event, lang, procedureID string) {
	proc, ok := n.catalog.Procedure(procedureID)
	if !ok {
		slog.Warn("Unknown procedure selected", "user_id", ev.UserID, "procedure", procedureID)
		return
	}
	if err := n.clicks.RecordView(ctx, proc.ID); err != nil {
		slog.Warn("Failed to record procedure view", "procedure", proc.ID, "error", err)
	}

	name := n.locales.Pick(lang, proc.Name)
	show(ctx, n.messenger, ev.ChatID, ev.MessageID, Message{
		Text:     procedureSymbol + name + "\n" + n.locales.Pick(lang, proc.Instruction),
		Keyboard: Keyboard{{{Text: n.locales.T(lang, "back_to_procedures"), Data: cbBackToProcs}}},
	})

	n.sendTemplate(ctx, ev, lang, proc, name)
}

func (n *Navigator) sendTemplate(ctx context.Context, ev Event, lang string, proc domain.Procedure, name string) {
	path := filepath.Join(n.templatesDir, filepath.Clean("/"+proc.TemplatePath))
	if proc.TemplatePath == "" || !fileExists(path) {
		slog.Warn("Template file not found", "procedure", proc.ID, "file", path)
		replyText(ctx, n.messenger, ev.ChatID, n.locales.T(lang, "template_not_found"))
		return
	}

	displayName := n.locales.T(lang, "template_filename", name) + filepath.Ext(path)
	if err := n.messenger.SendDocument(ctx, ev.ChatID, path, displayName); err != nil {
		slog.Warn("Failed to send template", "procedure", proc.ID, "error", err)
	}
}

func (n *Navigator) setLanguage(ctx context.Context, ev Event, code string) {
	if !n.locales.Supported(code) {
		slog.Warn("Unsupported language selected", "user_id", ev.UserID, "language", code)
		return
	}
	if err := n.sessions.SetLanguage(ctx, ev.UserID, code); err != nil {
		slog.Warn("Failed to store language", "user_id", ev.UserID, "error", err)
	}
	show(ctx, n.messenger, ev.ChatID, ev.MessageID, Message{Text: n.locales.T(code, "language_set")})
}

func (n *Navigator) welcomeScreen(ctx context.Context, lang, textKey string) Message {
	var kb Keyboard
	for _, course := range n.catalog.Courses() {
		kb = append(kb, []Button{{Text: n.locales.Pick(lang, course.Name), Data: cbCourse + course.ID}})
	}

	visible, err := n.clicks.FAQVisible(ctx)
	if err != nil {
		slog.Warn("Failed to check FAQ visibility", "error", err)
	}
	if visible {
		kb = append(kb, []Button{{Text: n.locales.T(lang, "faq_button"), Data: cbFAQ}})
	}

	return Message{Text: n.locales.T(lang, textKey), Keyboard: kb}
}

func (n *Navigator) proceduresScreen(lang, courseID string) Message {
	var kb Keyboard
	for _, proc := range n.catalog.ProceduresFor(courseID) {
		kb = append(kb, []Button{{Text: n.locales.Pick(lang, proc.Name), Data: cbProcedure + proc.ID}})
	}
	kb = append(kb, []Button{{Text: n.locales.T(lang, "back_to_years"), Data: cbBackToYears}})

	return Message{Text: n.locales.T(lang, "select_procedure"), Keyboard: kb}
}

func (n *Navigator) faqScreen(ctx context.Context, lang string) Message {
	ids, err := n.clicks.FAQProcedures(ctx)
	if err != nil {
		slog.Warn("Failed to list FAQ procedures", "error", err)
	}

	var kb Keyboard
	for _, id := range ids {
		proc, ok := n.catalog.Procedure(id)
		if !ok {
			continue
		}
		kb = append(kb, []Button{{Text: n.locales.Pick(lang, proc.Name), Data: cbProcedure + proc.ID}})
	}
	if len(kb) == 0 {
		kb = append(kb, []Button{{Text: n.locales.T(lang, "no_faq_button"), Data: cbNoFAQ}})
	}
	kb = append(kb, []Button{{Text: n.locales.T(lang, "back_to_years"), Data: cbBackToYears}})

	return Message{Text: n.locales.T(lang, "faq_title"), Keyboard: kb}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
