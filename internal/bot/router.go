package bot

import (
	"context"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/ashureev/student-desk/internal/catalog"
	"github.com/ashureev/student-desk/internal/domain"
	"github.com/ashureev/student-desk/internal/feed"
	"github.com/ashureev/student-desk/internal/i18n"
	"github.com/ashureev/student-desk/internal/metrics"
	"github.com/ashureev/student-desk/internal/session"
	"github.com/google/uuid"
)

// Admitter is the per-user rate limiter.
type Admitter interface {
	Allow(ctx context.Context, userID domain.UserID) bool
}

// Escalations persists staff requests and feedback.
type Escalations interface {
	CreateStaffRequest(ctx context.Context, req *domain.StaffRequest) error
	SaveFeedback(ctx context.Context, fb *domain.Feedback) error
}

// Publisher pushes staff-facing events.
type Publisher interface {
	Publish(ctx context.Context, ev feed.Event)
}

// Deps are the collaborators of the Router.
type Deps struct {
	Messenger   Messenger
	Catalog     *catalog.Catalog
	Clicks      catalog.ClickTracker
	Sessions    session.Store
	Refresher   Freshener
	Limiter     Admitter
	Knowledge   Knowledge
	Renderer    Renderer
	Locales     *i18n.Resolver
	Escalations Escalations
	Feed        Publisher
	Metrics     *metrics.Metrics

	TemplatesDir   string
	SourcesDir     string
	MaxUploadBytes int64
}

// Router is the single entry point for inbound events.
type Router struct {
	messenger   Messenger
	sessions    session.Store
	refresher   Freshener
	limiter     Admitter
	locales     *i18n.Resolver
	escalations Escalations
	feed        Publisher
	metrics     *metrics.Metrics

	nav        *Navigator
	dispatcher *Dispatcher
	commands   *Registry
	now        func() time.Time
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, feed.Event) {}

// NewRouter wires the navigator, dispatcher and the built-in commands.
func NewRouter(d Deps) *Router {
	if d.Feed == nil {
		d.Feed = nopPublisher{}
	}
	r := &Router{
		messenger:   d.Messenger,
		sessions:    d.Sessions,
		refresher:   d.Refresher,
		limiter:     d.Limiter,
		locales:     d.Locales,
		escalations: d.Escalations,
		feed:        d.Feed,
		metrics:     d.Metrics,
		nav:         NewNavigator(d.Messenger, d.Catalog, d.Clicks, d.Sessions, d.Locales, d.TemplatesDir),
		dispatcher:  NewDispatcher(d.Messenger, d.Knowledge, d.Renderer, d.Refresher, d.Locales, d.Metrics, d.SourcesDir, d.MaxUploadBytes),
		commands:    NewRegistry(),
		now:         time.Now,
	}
	r.registerCommands()
	return r
}

// Commands exposes the registry so callers can add commands.
func (r *Router) Commands() *Registry {
	return r.commands
}

func (r *Router) registerCommands() {
	r.commands.Register(Command{Name: "start", Run: ignoreArgs(r.nav.Welcome)})
	r.commands.Register(Command{Name: "language", Run: ignoreArgs(r.nav.LanguagePicker)})
	r.commands.Register(Command{Name: "help", Run: r.help})
	r.commands.Register(Command{Name: "clear", Run: r.clear})
	r.commands.Register(Command{Name: "feedback", UsageKey: "feedback_usage", Limited: true, Run: r.feedback})
	r.commands.Register(Command{Name: "request", UsageKey: "request_usage", Limited: true, Run: r.request})
	r.commands.Register(Command{
		Name:     "flowchart",
		UsageKey: "flowchart_usage",
		Limited:  true,
		Run: func(ctx context.Context, ev Event, lang, args string) {
			r.dispatcher.Flowchart(ctx, ev, lang, args)
		},
	})
}

// Handle processes one inbound event. Unexpected panics are logged and
// swallowed so one bad update never stops the poller.
func (r *Router) Handle(ctx context.Context, ev Event) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("Panic while handling event",
				"user_id", ev.UserID,
				"kind", ev.Kind.String(),
				"panic", rec,
				"stack", string(debug.Stack()),
			)
		}
	}()

	r.metrics.Message(ev.Kind.String())
	r.metrics.User(int64(ev.UserID))

	lang := r.language(ctx, ev)

	switch ev.Kind {
	case EventCommand:
		r.runCommand(ctx, ev, lang)
	case EventCallback:
		r.nav.HandleCallback(ctx, ev, lang)
	case EventText:
		query := strings.TrimSpace(ev.Text)
		if query == "" || !r.admit(ctx, ev, lang) {
			return
		}
		r.dispatcher.Chat(ctx, ev, lang, query)
	case EventDocument, EventPhoto:
		if !r.admit(ctx, ev, lang) {
			return
		}
		r.dispatcher.File(ctx, ev, lang)
	default:
		slog.Debug("Ignoring event", "kind", ev.Kind.String(), "user_id", ev.UserID)
	}
}

func (r *Router) runCommand(ctx context.Context, ev Event, lang string) {
	cmd, ok := r.commands.Lookup(ev.Command)
	if !ok {
		r.metrics.Command("unknown")
		r.help(ctx, ev, lang, "")
		return
	}
	r.metrics.Command(cmd.Name)

	args := strings.TrimSpace(ev.Text)
	if cmd.RequiresArgs() && args == "" {
		replyText(ctx, r.messenger, ev.ChatID, r.locales.T(lang, cmd.UsageKey))
		return
	}
	if cmd.Limited && !r.admit(ctx, ev, lang) {
		return
	}
	cmd.Run(ctx, ev, lang, args)
}

// admit applies the rate limiter and notifies the user on rejection.
func (r *Router) admit(ctx context.Context, ev Event, lang string) bool {
	if r.limiter.Allow(ctx, ev.UserID) {
		return true
	}
	slog.Info("Rate limit exceeded", "user_id", ev.UserID, "error", domain.ErrRateLimited)
	r.metrics.RateLimited()
	replyText(ctx, r.messenger, ev.ChatID, r.locales.T(lang, "rate_limited"))
	return false
}

func (r *Router) language(ctx context.Context, ev Event) string {
	sess, err := r.sessions.Get(ctx, ev.UserID)
	if err != nil {
		slog.Warn("Session lookup failed, using platform language", "user_id", ev.UserID, "error", err)
		sess = domain.UserSession{UserID: ev.UserID}
	}
	return r.locales.Language(sess, ev.LanguageCode)
}

func (r *Router) help(ctx context.Context, ev Event, lang, _ string) {
	replyText(ctx, r.messenger, ev.ChatID, r.locales.T(lang, "help"))
}

func (r *Router) clear(ctx context.Context, ev Event, lang, _ string) {
	err := r.refresher.ForceClear(ctx, ev.UserID)
	r.metrics.APICall("clear", err)
	if err != nil {
		slog.Warn("Explicit clear failed", "user_id", ev.UserID, "error", err)
		replyText(ctx, r.messenger, ev.ChatID, r.locales.T(lang, "clear_failed"))
		return
	}
	replyText(ctx, r.messenger, ev.ChatID, r.locales.T(lang, "context_cleared"))
}

func (r *Router) feedback(ctx context.Context, ev Event, lang, text string) {
	fb := &domain.Feedback{UserID: ev.UserID, Text: text, CreatedAt: r.now()}
	if err := r.escalations.SaveFeedback(ctx, fb); err != nil {
		slog.Error("Failed to save feedback", "user_id", ev.UserID, "error", err)
		replyText(ctx, r.messenger, ev.ChatID, r.locales.T(lang, "fallback"))
		return
	}
	replyText(ctx, r.messenger, ev.ChatID, r.locales.T(lang, "feedback_thanks"))
	r.feed.Publish(ctx, feed.Event{Type: feed.EventFeedbackCreated, Feedback: fb})
}

func (r *Router) request(ctx context.Context, ev Event, lang, text string) {
	req := &domain.StaffRequest{
		ID:        uuid.NewString(),
		UserID:    ev.UserID,
		Text:      text,
		Status:    domain.StaffRequestOpen,
		CreatedAt: r.now(),
	}
	if err := r.escalations.CreateStaffRequest(ctx, req); err != nil {
		slog.Error("Failed to store staff request", "user_id", ev.UserID, "error", err)
		replyText(ctx, r.messenger, ev.ChatID, r.locales.T(lang, "fallback"))
		return
	}
	slog.Info("Staff request created", "user_id", ev.UserID, "request_id", req.ID)
	replyText(ctx, r.messenger, ev.ChatID, r.locales.T(lang, "request_sent"))
	r.feed.Publish(ctx, feed.Event{Type: feed.EventRequestCreated, Request: req})
}
