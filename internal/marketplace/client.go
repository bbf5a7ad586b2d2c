// Package marketplace is the REST client for the marketplace backend that owns
// quotes, items, message threads and submitted responses.
package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/containerd/errdefs"

	"github.com/ashureev/quoteworks/internal/domain"
)

// DefaultTimeout bounds a single marketplace request.
const DefaultTimeout = 10 * time.Second

// maxErrorBody caps how much of an error response is kept for the message.
const maxErrorBody = 512

// Client talks to the marketplace over HTTP/JSON.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient creates a client rooted at baseURL. A zero timeout uses DefaultTimeout.
func NewClient(baseURL, token string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// GetQuoteMetadata fetches a quote header.
func (c *Client) GetQuoteMetadata(ctx context.Context, quoteID domain.QuoteID) (*domain.QuoteMetadata, error) {
	var meta domain.QuoteMetadata
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/quotes/%d", quoteID), 0, nil, &meta); err != nil {
		return nil, fmt.Errorf("get quote %d: %w", quoteID, err)
	}
	if meta.QuoteID == 0 {
		meta.QuoteID = quoteID
	}
	return &meta, nil
}

// GetQuoteItems fetches the requested parts of a quote.
func (c *Client) GetQuoteItems(ctx context.Context, quoteID domain.QuoteID) ([]domain.QuoteItem, error) {
	var items []domain.QuoteItem
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/quotes/%d/items", quoteID), 0, nil, &items); err != nil {
		return nil, fmt.Errorf("get items of quote %d: %w", quoteID, err)
	}
	return items, nil
}

// GetMessages fetches the full thread between senderID and recipientID.
func (c *Client) GetMessages(ctx context.Context, quoteID domain.QuoteID, senderID, recipientID int64) ([]domain.Message, error) {
	q := url.Values{}
	q.Set("sender_id", strconv.FormatInt(senderID, 10))
	q.Set("recipient_id", strconv.FormatInt(recipientID, 10))
	path := fmt.Sprintf("/quotes/%d/messages?%s", quoteID, q.Encode())

	var msgs []domain.Message
	if err := c.do(ctx, http.MethodGet, path, 0, nil, &msgs); err != nil {
		return nil, fmt.Errorf("get messages of quote %d: %w", quoteID, err)
	}
	return msgs, nil
}

// CreateMessage posts a new message.
func (c *Client) CreateMessage(ctx context.Context, msg domain.NewMessage) (*domain.Message, error) {
	var created domain.Message
	if err := c.do(ctx, http.MethodPost, "/messages", msg.SenderID, msg, &created); err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	return &created, nil
}

// UpdateMessage patches a message on behalf of actorID.
func (c *Client) UpdateMessage(ctx context.Context, actorID, messageID int64, patch domain.MessagePatch) (*domain.Message, error) {
	var updated domain.Message
	if err := c.do(ctx, http.MethodPatch, fmt.Sprintf("/messages/%d", messageID), actorID, patch, &updated); err != nil {
		return nil, fmt.Errorf("update message %d: %w", messageID, err)
	}
	return &updated, nil
}

// DeleteMessage deletes a message on behalf of actorID.
func (c *Client) DeleteMessage(ctx context.Context, actorID, messageID int64) error {
	if err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/messages/%d", messageID), actorID, nil, nil); err != nil {
		return fmt.Errorf("delete message %d: %w", messageID, err)
	}
	return nil
}

// SubmitResponse posts the final quote response on behalf of actorID.
func (c *Client) SubmitResponse(ctx context.Context, actorID int64, req domain.SubmitRequest) error {
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/quotes/%d/responses", req.QuoteID), actorID, req, nil); err != nil {
		return fmt.Errorf("submit response for quote %d: %w", req.QuoteID, err)
	}
	return nil
}

// FetchManufacturerName resolves the manufacturer name of a supplier.
func (c *Client) FetchManufacturerName(ctx context.Context, supplierID int64) (string, error) {
	var out struct {
		Name string `json:"name"`
	}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/suppliers/%d/manufacturer", supplierID), 0, nil, &out); err != nil {
		return "", fmt.Errorf("get manufacturer of supplier %d: %w", supplierID, err)
	}
	return out.Name, nil
}

func (c *Client) do(ctx context.Context, method, path string, actorID int64, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if actorID != 0 {
		req.Header.Set("X-User-ID", strconv.FormatInt(actorID, 10))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", errdefs.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.Debug("Marketplace request rejected", "method", method, "path", path, "status", resp.StatusCode)
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// StatusError is a non-2xx marketplace reply, classified with errdefs.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("marketplace returned %d", e.Code)
	}
	return fmt.Sprintf("marketplace returned %d: %s", e.Code, e.Body)
}

// Unwrap maps the status code to an errdefs class.
func (e *StatusError) Unwrap() error {
	switch {
	case e.Code == http.StatusBadRequest || e.Code == http.StatusUnprocessableEntity:
		return errdefs.ErrInvalidArgument
	case e.Code == http.StatusUnauthorized || e.Code == http.StatusForbidden:
		return errdefs.ErrPermissionDenied
	case e.Code == http.StatusNotFound:
		return errdefs.ErrNotFound
	case e.Code == http.StatusConflict:
		return errdefs.ErrConflict
	case e.Code >= 500:
		return errdefs.ErrUnavailable
	default:
		return errdefs.ErrUnknown
	}
}
