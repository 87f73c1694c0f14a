package bot

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/student-desk/internal/catalog"
	"github.com/ashureev/student-desk/internal/domain"
	"github.com/ashureev/student-desk/internal/feed"
	"github.com/ashureev/student-desk/internal/i18n"
	"github.com/ashureev/student-desk/internal/limiter"
	"github.com/ashureev/student-desk/internal/metrics"
	"github.com/ashureev/student-desk/internal/session"
	"github.com/stretchr/testify/require"
)

const testUser = domain.UserID(42)

// callLog records backend calls in order across fakes.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, s)
}

func (l *callLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

type sent struct {
	kind      string
	chatID    int64
	messageID int
	msg       Message
	path      string
	name      string
	image     []byte
	caption   string
}

type fakeMessenger struct {
	mu          sync.Mutex
	sent        []sent
	editErr     error
	photoErr    error
	download    []byte
	downloadErr error
	downloads   int
}

func (f *fakeMessenger) record(s sent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, s)
}

func (f *fakeMessenger) SendMessage(_ context.Context, chatID int64, msg Message) error {
	f.record(sent{kind: "message", chatID: chatID, msg: msg})
	return nil
}

func (f *fakeMessenger) EditMessage(_ context.Context, chatID int64, messageID int, msg Message) error {
	if f.editErr != nil {
		return f.editErr
	}
	f.record(sent{kind: "edit", chatID: chatID, messageID: messageID, msg: msg})
	return nil
}

func (f *fakeMessenger) SendDocument(_ context.Context, chatID int64, path, displayName string) error {
	f.record(sent{kind: "document", chatID: chatID, path: path, name: displayName})
	return nil
}

func (f *fakeMessenger) SendPhoto(_ context.Context, chatID int64, image []byte, caption string) error {
	if f.photoErr != nil {
		return f.photoErr
	}
	f.record(sent{kind: "photo", chatID: chatID, image: image, caption: caption})
	return nil
}

func (f *fakeMessenger) AnswerCallback(context.Context, string) error {
	return nil
}

func (f *fakeMessenger) DownloadFile(context.Context, string, int64) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloads++
	return f.download, f.downloadErr
}

func (f *fakeMessenger) of(kind string) []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sent
	for _, s := range f.sent {
		if s.kind == kind {
			out = append(out, s)
		}
	}
	return out
}

// texts returns the text of every new message in order.
func (f *fakeMessenger) texts() []string {
	var out []string
	for _, s := range f.of("message") {
		out = append(out, s.msg.Text)
	}
	return out
}

func (f *fakeMessenger) lastText() string {
	texts := f.texts()
	if len(texts) == 0 {
		return ""
	}
	return texts[len(texts)-1]
}

func (f *fakeMessenger) lastEdit() (sent, bool) {
	edits := f.of("edit")
	if len(edits) == 0 {
		return sent{}, false
	}
	return edits[len(edits)-1], true
}

type fakeKnowledge struct {
	log       *callLog
	chat      *domain.Response
	flowchart *domain.Response
	analyze   *domain.Response
	err       error
	panicMsg  string

	mu           sync.Mutex
	analyzedName string
	question     string
	content      []byte
}

func (f *fakeKnowledge) Chat(_ context.Context, query, handle string) (*domain.Response, error) {
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	f.log.add("chat " + handle + " " + query)
	return f.chat, f.err
}

func (f *fakeKnowledge) Flowchart(_ context.Context, query, handle string) (*domain.Response, error) {
	f.log.add("flowchart " + handle + " " + query)
	return f.flowchart, f.err
}

func (f *fakeKnowledge) Analyze(_ context.Context, filename string, content []byte, question string) (*domain.Response, error) {
	f.log.add("analyze " + filename)
	f.mu.Lock()
	f.analyzedName, f.question, f.content = filename, question, content
	f.mu.Unlock()
	return f.analyze, f.err
}

type fakeClearer struct {
	log *callLog
	err error
}

func (f *fakeClearer) ClearSession(_ context.Context, handle string) error {
	f.log.add("clear " + handle)
	return f.err
}

type fakeRenderer struct {
	log   *callLog
	image []byte
	err   error
}

func (f *fakeRenderer) Render(_ context.Context, definition string) ([]byte, error) {
	f.log.add("render " + definition)
	return f.image, f.err
}

type fakeEscalations struct {
	mu       sync.Mutex
	requests []*domain.StaffRequest
	feedback []*domain.Feedback
	err      error
}

func (f *fakeEscalations) CreateStaffRequest(_ context.Context, req *domain.StaffRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.requests = append(f.requests, req)
	return nil
}

func (f *fakeEscalations) SaveFeedback(_ context.Context, fb *domain.Feedback) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.feedback = append(f.feedback, fb)
	return nil
}

type fakePublisher struct {
	mu        sync.Mutex
	events    []feed.Event
	messenger *fakeMessenger
	// sentBefore holds how many outgoing messages existed at each publish.
	sentBefore []int
}

func (f *fakePublisher) Publish(_ context.Context, ev feed.Event) {
	var sent int
	if f.messenger != nil {
		f.messenger.mu.Lock()
		sent = len(f.messenger.sent)
		f.messenger.mu.Unlock()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	f.sentBefore = append(f.sentBefore, sent)
}

type harness struct {
	router    *Router
	messenger *fakeMessenger
	knowledge *fakeKnowledge
	renderer  *fakeRenderer
	clearer   *fakeClearer
	sessions  *session.MemoryStore
	clicks    *catalog.MemoryClicks
	esc       *fakeEscalations
	pub       *fakePublisher
	locales   *i18n.Resolver
	log       *callLog

	templatesDir string
	sourcesDir   string
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	cat, err := catalog.Load("")
	require.NoError(t, err)
	locales, err := i18n.New()
	require.NoError(t, err)

	log := &callLog{}
	h := &harness{
		messenger:    &fakeMessenger{download: []byte("file-bytes")},
		knowledge:    &fakeKnowledge{log: log, chat: &domain.Response{AnswerText: "answer"}},
		renderer:     &fakeRenderer{log: log, image: []byte("png")},
		clearer:      &fakeClearer{log: log},
		sessions:     session.NewMemoryStore(),
		clicks:       catalog.NewMemoryClicks(),
		esc:          &fakeEscalations{},
		pub:          &fakePublisher{},
		locales:      locales,
		log:          log,
		templatesDir: t.TempDir(),
		sourcesDir:   t.TempDir(),
	}

	h.pub.messenger = h.messenger

	now := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)
	lim := limiter.New(limiter.NewMemoryWindow(), 5, time.Minute).WithClock(func() time.Time { return now })

	h.router = NewRouter(Deps{
		Messenger:      h.messenger,
		Catalog:        cat,
		Clicks:         h.clicks,
		Sessions:       h.sessions,
		Refresher:      session.NewRefresher(h.sessions, h.clearer, 24*time.Hour),
		Limiter:        lim,
		Knowledge:      h.knowledge,
		Renderer:       h.renderer,
		Locales:        locales,
		Escalations:    h.esc,
		Feed:           h.pub,
		Metrics:        metrics.New(),
		TemplatesDir:   h.templatesDir,
		SourcesDir:     h.sourcesDir,
		MaxUploadBytes: 1024,
	})
	return h
}

func (h *harness) t(key string, args ...any) string {
	return h.locales.T("en", key, args...)
}

func writeFile(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("content"), 0o600))
	return path
}

func textEvent(text string) Event {
	return Event{Kind: EventText, UserID: testUser, ChatID: int64(testUser), Text: text}
}

func commandEvent(name, args string) Event {
	return Event{Kind: EventCommand, UserID: testUser, ChatID: int64(testUser), Command: name, Text: args}
}

func callbackEvent(data string) Event {
	return Event{Kind: EventCallback, UserID: testUser, ChatID: int64(testUser), MessageID: 7, CallbackID: "cb", CallbackData: data}
}

func documentEvent(name string, size int64, caption string) Event {
	return Event{
		Kind:   EventDocument,
		UserID: testUser,
		ChatID: int64(testUser),
		File:   &File{ID: "file-1", Name: name, Size: size, Caption: caption},
	}
}

var errNetwork = errors.New("dial tcp: connection refused")
