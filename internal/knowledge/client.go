// Package knowledge is the HTTP/JSON client for the external knowledge service.
package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ashureev/student-desk/internal/domain"
)

// maxResponseSize bounds how much of a response body is read.
const maxResponseSize = 8 << 20

// Config holds configuration for the knowledge service client.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:8000",
		Timeout: 60 * time.Second,
	}
}

// Client talks to the knowledge service. Every failure, including a timeout,
// is reported wrapped in domain.ErrBackendUnavailable.
type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
	logger  *slog.Logger
}

// NewClient creates a new knowledge service client.
func NewClient(cfg Config, httpClient *http.Client, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		timeout: cfg.Timeout,
		http:    httpClient,
		logger:  logger,
	}
}

type queryRequest struct {
	Query     string `json:"query"`
	SessionID string `json:"session_id"`
}

type chatResponse struct {
	Answer  string   `json:"answer"`
	Sources []string `json:"sources,omitempty"`
}

type flowchartResponse struct {
	Mermaid string   `json:"mermaid"`
	Sources []string `json:"sources,omitempty"`
}

type analyzeResponse struct {
	Answer string `json:"answer"`
}

// Chat sends a free-form question scoped to the user's conversation.
func (c *Client) Chat(ctx context.Context, query, sessionHandle string) (*domain.Response, error) {
	var out chatResponse
	if err := c.postJSON(ctx, "/chat", queryRequest{Query: query, SessionID: sessionHandle}, &out); err != nil {
		return nil, err
	}
	return &domain.Response{AnswerText: out.Answer, Sources: out.Sources}, nil
}

// Flowchart asks for a diagram definition describing query.
func (c *Client) Flowchart(ctx context.Context, query, sessionHandle string) (*domain.Response, error) {
	var out flowchartResponse
	if err := c.postJSON(ctx, "/flowchart", queryRequest{Query: query, SessionID: sessionHandle}, &out); err != nil {
		return nil, err
	}
	return &domain.Response{DiagramDefinition: out.Mermaid, Sources: out.Sources}, nil
}

// ClearSession resets the conversation context identified by handle.
func (c *Client) ClearSession(ctx context.Context, sessionHandle string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := c.baseURL + "/chat/clear?" + url.Values{"session_id": {sessionHandle}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build clear request: %w", err)
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer closeBody(c.logger, resp)
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))
	return nil
}

// Analyze uploads a file with a question as multipart form data.
func (c *Client) Analyze(ctx context.Context, filename string, content []byte, question string) (*domain.Response, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return nil, fmt.Errorf("write form file: %w", err)
	}
	if err := mw.WriteField("question", question); err != nil {
		return nil, fmt.Errorf("write question field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/docs/analyze", &body)
	if err != nil {
		return nil, fmt.Errorf("build analyze request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out analyzeResponse
	if err := c.doJSON(req, &out); err != nil {
		return nil, err
	}
	return &domain.Response{AnswerText: out.Answer}, nil
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", path, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.doJSON(req, out)
}

func (c *Client) doJSON(req *http.Request, out any) error {
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer closeBody(c.logger, resp)

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s response: %w", domain.ErrBackendUnavailable, req.URL.Path, err)
	}
	return nil
}

// do sends req and rejects non-2xx responses.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", domain.ErrBackendUnavailable, req.Method, req.URL.Path, err)
	}
	c.logger.Debug("Knowledge service call",
		"method", req.Method,
		"path", req.URL.Path,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		closeBody(c.logger, resp)
		return nil, fmt.Errorf("%w: %s %s returned %d: %s",
			domain.ErrBackendUnavailable, req.Method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return resp, nil
}

func closeBody(logger *slog.Logger, resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		logger.Debug("Failed to close response body", "error", err)
	}
}
