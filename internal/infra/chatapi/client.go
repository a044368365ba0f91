package chatapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"chatsync/internal/domain/chat"
)

var (
	ErrUnauthorized error = permanentError("chatapi: unauthorized")
	ErrCircuitOpen        = errors.New("chatapi: circuit open")
)

type permanentError string

func (e permanentError) Error() string { return string(e) }
func (permanentError) Temporary() bool { return false }

// StatusError is returned for any non-2xx response other than 401.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("chatapi: status %d", e.Code)
	}
	return fmt.Sprintf("chatapi: status %d: %s", e.Code, e.Message)
}

// Temporary reports whether repeating the request may succeed.
func (e *StatusError) Temporary() bool {
	return e.Code >= http.StatusInternalServerError || e.Code == http.StatusTooManyRequests
}

// Config defines REST client settings.
type Config struct {
	BaseURL            string
	Token              string
	Timeout            time.Duration
	BreakerFailures    uint32
	BreakerOpenTimeout time.Duration
	HTTPClient         *http.Client
	OnUnauthorized     func()
}

// Client talks to the chat REST surface of the server of record.
type Client struct {
	baseURL        *url.URL
	token          string
	http           *http.Client
	breaker        *gobreaker.CircuitBreaker
	logger         *slog.Logger
	onUnauthorized func()
}

// NewClient validates the base URL and builds a client guarded by a circuit breaker.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, errors.New("chatapi: base url required")
	}
	base, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("chatapi: parse base url: %w", err)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	openTimeout := cfg.BreakerOpenTimeout
	if openTimeout <= 0 {
		openTimeout = 30 * time.Second
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "chat-api",
		MaxRequests: 1,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: countsAsSuccess,
		OnStateChange: func(name string, from, to gobreaker.State) {
			if logger != nil {
				logger.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
			}
		},
	})
	return &Client{
		baseURL:        base,
		token:          strings.TrimSpace(cfg.Token),
		http:           httpClient,
		breaker:        breaker,
		logger:         logger,
		onUnauthorized: cfg.OnUnauthorized,
	}, nil
}

// SetUnauthorizedHandler replaces the hook invoked on 401 responses.
func (c *Client) SetUnauthorizedHandler(fn func()) {
	c.onUnauthorized = fn
}

type itemsEnvelope[T any] struct {
	Items []T `json:"items"`
}

type errorEnvelope struct {
	Error string `json:"error"`
}

// ListConversations returns the viewer's conversations, optionally scoped to a project.
func (c *Client) ListConversations(ctx context.Context, projectID string) ([]chat.Conversation, error) {
	query := url.Values{}
	if projectID = strings.TrimSpace(projectID); projectID != "" {
		query.Set("projectId", projectID)
	}
	var out itemsEnvelope[chat.Conversation]
	if err := c.doJSON(ctx, http.MethodGet, "/conversations", query, nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// ListMessages returns the ordered message set for a scope.
func (c *Client) ListMessages(ctx context.Context, scope chat.Scope) ([]chat.Message, error) {
	scope = scope.Normalize()
	query := url.Values{}
	if scope.ProjectID != "" {
		query.Set("projectId", scope.ProjectID)
	}
	if scope.ConversationID != "" {
		query.Set("conversationId", scope.ConversationID)
	}
	var out itemsEnvelope[chat.Message]
	if err := c.doJSON(ctx, http.MethodGet, "/messages", query, nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// SendMessage creates a message.
func (c *Client) SendMessage(ctx context.Context, req chat.SendRequest) (chat.Message, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return chat.Message{}, fmt.Errorf("chatapi: encode message: %w", err)
	}
	var out chat.Message
	if err := c.doJSON(ctx, http.MethodPost, "/messages", nil, jsonBody(body), &out); err != nil {
		return chat.Message{}, err
	}
	return out, nil
}

// MarkRead flags one message as read. The server treats repeats as no-ops.
func (c *Client) MarkRead(ctx context.Context, messageID string) (chat.Message, error) {
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return chat.Message{}, chat.ErrInvalidInput
	}
	var out chat.Message
	if err := c.doJSON(ctx, http.MethodPut, "/messages/"+url.PathEscape(messageID)+"/read", nil, nil, &out); err != nil {
		return chat.Message{}, err
	}
	return out, nil
}

// UploadAttachments sends every file in one multipart request.
func (c *Client) UploadAttachments(ctx context.Context, conversationID string, files []chat.File) ([]chat.Attachment, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return nil, chat.ErrNoConversation
	}
	if len(files) == 0 {
		return nil, chat.ErrInvalidInput
	}
	payload, contentType, err := encodeFiles(files)
	if err != nil {
		return nil, err
	}
	var out itemsEnvelope[chat.Attachment]
	body := &requestBody{data: payload, contentType: contentType}
	if err := c.doJSON(ctx, http.MethodPost, "/upload/"+url.PathEscape(conversationID), nil, body, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

type requestBody struct {
	data        []byte
	contentType string
}

func jsonBody(data []byte) *requestBody {
	return &requestBody{data: data, contentType: "application/json"}
}

func encodeFiles(files []chat.File) ([]byte, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for _, file := range files {
		if file.Body == nil || strings.TrimSpace(file.Name) == "" {
			return nil, "", fmt.Errorf("chatapi: file %q: %w", file.Name, chat.ErrInvalidInput)
		}
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename=%q`, file.Name))
		contentType := file.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		header.Set("Content-Type", contentType)
		part, err := writer.CreatePart(header)
		if err != nil {
			return nil, "", fmt.Errorf("chatapi: create part: %w", err)
		}
		if _, err := io.Copy(part, file.Body); err != nil {
			return nil, "", fmt.Errorf("chatapi: read %s: %w", file.Name, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("chatapi: close multipart: %w", err)
	}
	return buf.Bytes(), writer.FormDataContentType(), nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, body *requestBody, out any) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.roundTrip(ctx, method, path, query, body, out)
	})
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return fmt.Errorf("%w: %s %s", ErrCircuitOpen, method, path)
	case errors.Is(err, ErrUnauthorized):
		if c.onUnauthorized != nil {
			c.onUnauthorized()
		}
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, method, path string, query url.Values, body *requestBody, out any) error {
	endpoint := *c.baseURL
	endpoint.Path = strings.TrimRight(endpoint.Path, "/") + path
	if len(query) > 0 {
		endpoint.RawQuery = query.Encode()
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body.data)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return fmt.Errorf("chatapi: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", body.contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("chatapi: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		_, _ = io.Copy(io.Discard, resp.Body)
		return ErrUnauthorized
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		var envelope errorEnvelope
		message := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &envelope) == nil && envelope.Error != "" {
			message = envelope.Error
		}
		return &StatusError{Code: resp.StatusCode, Message: message}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("chatapi: decode %s %s: %w", method, path, err)
	}
	return nil
}

// countsAsSuccess keeps client-side mistakes and auth failures from tripping the breaker.
func countsAsSuccess(err error) bool {
	if err == nil || errors.Is(err, ErrUnauthorized) || errors.Is(err, context.Canceled) {
		return true
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code < http.StatusInternalServerError
	}
	return false
}
