package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/student-desk/internal/bot"
	"github.com/ashureev/student-desk/internal/domain"
	"github.com/ashureev/student-desk/internal/feed"
	"github.com/ashureev/student-desk/internal/i18n"
	"github.com/ashureev/student-desk/internal/metrics"
	"github.com/ashureev/student-desk/internal/store"
	"github.com/go-chi/chi/v5"
)

const maxRelayBody = 64 << 10

// Sender delivers a message to a user's chat.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, msg bot.Message) error
}

// StaffStore is the escalation storage used by the staff API.
type StaffStore interface {
	GetStaffRequest(ctx context.Context, id string) (*domain.StaffRequest, error)
	ListStaffRequests(ctx context.Context, status domain.StaffRequestStatus, limit int) ([]*domain.StaffRequest, error)
	MarkStaffRequestAnswered(ctx context.Context, id, answer string, at time.Time) error
	ListFeedback(ctx context.Context, limit int) ([]*domain.Feedback, error)
}

// Publisher pushes staff-facing events.
type Publisher interface {
	Publish(ctx context.Context, ev feed.Event)
}

// TelegramID accepts a JSON number or a numeric string.
type TelegramID int64

// UnmarshalJSON implements json.Unmarshaler.
func (id *TelegramID) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	if raw == "" || raw == "null" {
		*id = 0
		return nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("telegramId must be numeric: %w", err)
	}
	*id = TelegramID(v)
	return nil
}

// RelayRequest is the body of /notify and /send-answer.
type RelayRequest struct {
	TelegramID TelegramID `json:"telegramId"`
	Message    string     `json:"message"`
	RequestID  string     `json:"requestId,omitempty"`
}

// RelayHandler relays staff messages to students. It never touches the
// conversational state of the bot.
type RelayHandler struct {
	sender  Sender
	store   StaffStore
	feed    Publisher
	locales *i18n.Resolver
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewRelayHandler creates a relay handler.
func NewRelayHandler(sender Sender, st StaffStore, pub Publisher, locales *i18n.Resolver, mtr *metrics.Metrics) *RelayHandler {
	return &RelayHandler{
		sender:  sender,
		store:   st,
		feed:    pub,
		locales: locales,
		metrics: mtr,
		now:     time.Now,
	}
}

// RegisterRoutes registers the staff routes.
func (h *RelayHandler) RegisterRoutes(r chi.Router) {
	r.Post("/notify", h.Notify)
	r.Post("/send-answer", h.SendAnswer)
	r.Get("/requests", h.ListRequests)
	r.Get("/feedback", h.ListFeedback)
}

// Notify delivers a plain message.
func (h *RelayHandler) Notify(w http.ResponseWriter, r *http.Request) {
	req, err := decodeRelay(w, r)
	if err != nil {
		h.metrics.Relay("notify", err)
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	err = h.deliver(r.Context(), req.TelegramID, req.Message)
	h.metrics.Relay("notify", err)
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to deliver message")
		return
	}
	JSON(w, http.StatusOK, map[string]bool{"success": true})
}

// SendAnswer delivers a message wrapped with the staff response label and
// optionally closes the escalation it answers.
func (h *RelayHandler) SendAnswer(w http.ResponseWriter, r *http.Request) {
	req, err := decodeRelay(w, r)
	if err != nil {
		h.metrics.Relay("send-answer", err)
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	text := h.locales.T(i18n.DefaultLanguage, "staff_response") + "\n\n" + req.Message
	err = h.deliver(r.Context(), req.TelegramID, text)
	h.metrics.Relay("send-answer", err)
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to deliver message")
		return
	}

	if req.RequestID != "" {
		h.closeRequest(r.Context(), req.RequestID, req.Message)
	}
	JSON(w, http.StatusOK, map[string]bool{"success": true})
}

// ListRequests lists escalations, optionally filtered by ?status=.
func (h *RelayHandler) ListRequests(w http.ResponseWriter, r *http.Request) {
	status := domain.StaffRequestStatus(r.URL.Query().Get("status"))
	switch status {
	case "", domain.StaffRequestOpen, domain.StaffRequestAnswered:
	default:
		Error(w, http.StatusBadRequest, "status must be open or answered")
		return
	}

	reqs, err := h.store.ListStaffRequests(r.Context(), status, queryLimit(r))
	if err != nil {
		slog.Error("Failed to list staff requests", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list requests")
		return
	}
	if reqs == nil {
		reqs = []*domain.StaffRequest{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{"requests": reqs})
}

// ListFeedback lists recent feedback notes.
func (h *RelayHandler) ListFeedback(w http.ResponseWriter, r *http.Request) {
	notes, err := h.store.ListFeedback(r.Context(), queryLimit(r))
	if err != nil {
		slog.Error("Failed to list feedback", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list feedback")
		return
	}
	if notes == nil {
		notes = []*domain.Feedback{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{"feedback": notes})
}

func (h *RelayHandler) deliver(ctx context.Context, id TelegramID, text string) error {
	if err := h.sender.SendMessage(ctx, int64(id), bot.Message{Text: text}); err != nil {
		slog.Error("Failed to relay staff message", "chat_id", int64(id), "error", err)
		return fmt.Errorf("%w: %w", domain.ErrRelayDelivery, err)
	}
	slog.Info("Staff message relayed", "chat_id", int64(id))
	return nil
}

// closeRequest marks an escalation answered. The message is already
// delivered, so failures are only logged.
func (h *RelayHandler) closeRequest(ctx context.Context, id, answer string) {
	if err := h.store.MarkStaffRequestAnswered(ctx, id, answer, h.now()); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			slog.Warn("Answered unknown staff request", "request_id", id)
		} else {
			slog.Error("Failed to close staff request", "request_id", id, "error", err)
		}
		return
	}

	req, err := h.store.GetStaffRequest(ctx, id)
	if err != nil {
		slog.Warn("Failed to reload staff request", "request_id", id, "error", err)
		return
	}
	if h.feed != nil {
		h.feed.Publish(ctx, feed.Event{Type: feed.EventRequestAnswered, Request: req})
	}
}

func decodeRelay(w http.ResponseWriter, r *http.Request) (*RelayRequest, error) {
	var req RelayRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRelayBody)).Decode(&req); err != nil {
		return nil, fmt.Errorf("%w: invalid request body", domain.ErrRelayValidation)
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.TelegramID == 0 || req.Message == "" {
		return nil, fmt.Errorf("%w: telegramId and message are required", domain.ErrRelayValidation)
	}
	return &req, nil
}

func queryLimit(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 || limit > 500 {
		return 100
	}
	return limit
}
