// Package render turns diagram definitions into images through an external
// rendering service.
package render

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/student-desk/internal/domain"
)

const maxImageSize = 10 << 20

// Client posts mermaid text to {base}/mermaid/{format} and returns the image.
type Client struct {
	baseURL string
	format  string
	timeout time.Duration
	http    *http.Client
	logger  *slog.Logger
}

// NewClient creates a renderer client. Format defaults to png.
func NewClient(baseURL, format string, timeout time.Duration, httpClient *http.Client, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	format = strings.ToLower(format)
	if format == "" {
		format = "png"
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		format:  format,
		timeout: timeout,
		http:    httpClient,
		logger:  logger,
	}
}

// Format returns the image format requested from the renderer.
func (c *Client) Format() string {
	return c.format
}

// Render returns the image bytes for definition. Failures wrap domain.ErrRender.
func (c *Client) Render(ctx context.Context, definition string) ([]byte, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	endpoint := fmt.Sprintf("%s/mermaid/%s", c.baseURL, c.format)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(definition))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", domain.ErrRender, err)
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrRender, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("Failed to close render response body", "error", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: renderer returned %d: %s", domain.ErrRender, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	img, err := io.ReadAll(io.LimitReader(resp.Body, maxImageSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read image: %w", domain.ErrRender, err)
	}
	if len(img) == 0 {
		return nil, fmt.Errorf("%w: empty image", domain.ErrRender)
	}
	if len(img) > maxImageSize {
		return nil, fmt.Errorf("%w: image exceeds %d bytes", domain.ErrRender, maxImageSize)
	}
	return img, nil
}
