package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/student-desk/internal/bot"
	"github.com/ashureev/student-desk/internal/domain"
	"github.com/ashureev/student-desk/internal/feed"
	"github.com/ashureev/student-desk/internal/i18n"
	"github.com/ashureev/student-desk/internal/metrics"
	"github.com/ashureev/student-desk/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type delivered struct {
	chatID int64
	text   string
}

type fakeSender struct {
	mu   sync.Mutex
	msgs []delivered
	err  error
}

func (f *fakeSender) SendMessage(_ context.Context, chatID int64, msg bot.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, delivered{chatID: chatID, text: msg.Text})
	return nil
}

type fakeStaffStore struct {
	mu       sync.Mutex
	requests map[string]*domain.StaffRequest
	feedback []*domain.Feedback
	listErr  error
}

func newFakeStaffStore() *fakeStaffStore {
	return &fakeStaffStore{requests: make(map[string]*domain.StaffRequest)}
}

func (f *fakeStaffStore) GetStaffRequest(_ context.Context, id string) (*domain.StaffRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.requests[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copy := *req
	return &copy, nil
}

func (f *fakeStaffStore) ListStaffRequests(_ context.Context, status domain.StaffRequestStatus, _ int) ([]*domain.StaffRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []*domain.StaffRequest
	for _, req := range f.requests {
		if status == "" || req.Status == status {
			out = append(out, req)
		}
	}
	return out, nil
}

func (f *fakeStaffStore) MarkStaffRequestAnswered(_ context.Context, id, answer string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.requests[id]
	if !ok {
		return store.ErrNotFound
	}
	req.Status = domain.StaffRequestAnswered
	req.Answer = answer
	req.AnsweredAt = &at
	return nil
}

func (f *fakeStaffStore) ListFeedback(context.Context, int) ([]*domain.Feedback, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.feedback, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []feed.Event
}

func (f *fakePublisher) Publish(_ context.Context, ev feed.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

type relayFixture struct {
	router  chi.Router
	sender  *fakeSender
	store   *fakeStaffStore
	pub     *fakePublisher
	metrics *metrics.Metrics
	locales *i18n.Resolver
}

func newRelayFixture(t *testing.T) *relayFixture {
	t.Helper()
	locales, err := i18n.New()
	require.NoError(t, err)

	f := &relayFixture{
		router:  chi.NewRouter(),
		sender:  &fakeSender{},
		store:   newFakeStaffStore(),
		pub:     &fakePublisher{},
		metrics: metrics.New(),
		locales: locales,
	}
	NewRelayHandler(f.sender, f.store, f.pub, locales, f.metrics).RegisterRoutes(f.router)
	return f
}

func (f *relayFixture) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *relayFixture) scrape(t *testing.T) string {
	t.Helper()
	w := httptest.NewRecorder()
	f.metrics.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	return w.Body.String()
}

func TestNotifyDelivers(t *testing.T) {
	f := newRelayFixture(t)

	w := f.do(http.MethodPost, "/notify", `{"telegramId": 42, "message": "Office closed tomorrow"}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success": true}`, w.Body.String())
	require.Len(t, f.sender.msgs, 1)
	assert.Equal(t, delivered{chatID: 42, text: "Office closed tomorrow"}, f.sender.msgs[0])
	assert.Contains(t, f.scrape(t), `bot_api_calls_total{endpoint="notify",status="success"} 1`)
}

func TestNotifyAcceptsStringID(t *testing.T) {
	f := newRelayFixture(t)

	w := f.do(http.MethodPost, "/notify", `{"telegramId": "42", "message": "hi"}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(42), f.sender.msgs[0].chatID)
}

func TestNotifyValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing id", `{"message": "hi"}`},
		{"missing message", `{"telegramId": 42}`},
		{"blank message", `{"telegramId": 42, "message": "   "}`},
		{"non-numeric id", `{"telegramId": "abc", "message": "hi"}`},
		{"malformed json", `{"telegramId": 42,`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newRelayFixture(t)

			w := f.do(http.MethodPost, "/notify", tt.body)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Empty(t, f.sender.msgs)
		})
	}
}

func TestNotifyDeliveryFailure(t *testing.T) {
	f := newRelayFixture(t)
	f.sender.err = errors.New("Forbidden: bot was blocked by the user")

	w := f.do(http.MethodPost, "/notify", `{"telegramId": 42, "message": "hi"}`)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "blocked")
	assert.Contains(t, f.scrape(t), `bot_api_calls_total{endpoint="notify",status="failure"} 1`)
}

func TestSendAnswerWrapsMessage(t *testing.T) {
	f := newRelayFixture(t)

	w := f.do(http.MethodPost, "/send-answer", `{"telegramId": 42, "message": "Your certificate is ready."}`)

	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, f.sender.msgs, 1)
	assert.Equal(t, f.locales.T("en", "staff_response")+"\n\nYour certificate is ready.", f.sender.msgs[0].text)
	assert.Empty(t, f.pub.events)
}

func TestSendAnswerClosesRequest(t *testing.T) {
	f := newRelayFixture(t)
	f.store.requests["r-1"] = &domain.StaffRequest{ID: "r-1", UserID: 42, Text: "cert?", Status: domain.StaffRequestOpen}

	w := f.do(http.MethodPost, "/send-answer", `{"telegramId": 42, "message": "Ready.", "requestId": "r-1"}`)

	require.Equal(t, http.StatusOK, w.Code)
	req := f.store.requests["r-1"]
	assert.Equal(t, domain.StaffRequestAnswered, req.Status)
	assert.Equal(t, "Ready.", req.Answer)

	require.Len(t, f.pub.events, 1)
	assert.Equal(t, feed.EventRequestAnswered, f.pub.events[0].Type)
}

func TestSendAnswerUnknownRequestStillDelivers(t *testing.T) {
	f := newRelayFixture(t)

	w := f.do(http.MethodPost, "/send-answer", `{"telegramId": 42, "message": "Ready.", "requestId": "missing"}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, f.sender.msgs, 1)
	assert.Empty(t, f.pub.events)
}

func TestSendAnswerFailureKeepsRequestOpen(t *testing.T) {
	f := newRelayFixture(t)
	f.sender.err = errors.New("timeout")
	f.store.requests["r-1"] = &domain.StaffRequest{ID: "r-1", Status: domain.StaffRequestOpen}

	w := f.do(http.MethodPost, "/send-answer", `{"telegramId": 42, "message": "Ready.", "requestId": "r-1"}`)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, domain.StaffRequestOpen, f.store.requests["r-1"].Status)
}

func TestListRequests(t *testing.T) {
	f := newRelayFixture(t)
	f.store.requests["a"] = &domain.StaffRequest{ID: "a", Status: domain.StaffRequestOpen}
	f.store.requests["b"] = &domain.StaffRequest{ID: "b", Status: domain.StaffRequestAnswered}

	w := f.do(http.MethodGet, "/requests?status=open", "")

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Requests []domain.StaffRequest `json:"requests"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	require.Len(t, body.Requests, 1)
	assert.Equal(t, "a", body.Requests[0].ID)
}

func TestListRequestsEmptyIsArray(t *testing.T) {
	f := newRelayFixture(t)

	w := f.do(http.MethodGet, "/requests", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"requests": []}`, w.Body.String())
}

func TestListRequestsRejectsUnknownStatus(t *testing.T) {
	f := newRelayFixture(t)

	w := f.do(http.MethodGet, "/requests?status=closed", "")

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListRequestsStoreFailure(t *testing.T) {
	f := newRelayFixture(t)
	f.store.listErr = errors.New("disk I/O error")

	w := f.do(http.MethodGet, "/requests", "")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestListFeedback(t *testing.T) {
	f := newRelayFixture(t)
	f.store.feedback = []*domain.Feedback{{ID: 1, UserID: 42, Text: "Thanks"}}

	w := f.do(http.MethodGet, "/feedback?limit=10", "")

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Feedback []domain.Feedback `json:"feedback"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	require.Len(t, body.Feedback, 1)
	assert.Equal(t, "Thanks", body.Feedback[0].Text)
}

func TestTelegramIDUnmarshal(t *testing.T) {
	tests := []struct {
		in      string
		want    TelegramID
		wantErr bool
	}{
		{`123`, 123, false},
		{`"456"`, 456, false},
		{`null`, 0, false},
		{`"x1"`, 0, true},
		{`1.5`, 0, true},
	}
	for _, tt := range tests {
		var id TelegramID
		err := json.Unmarshal([]byte(tt.in), &id)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, id, tt.in)
	}
}
