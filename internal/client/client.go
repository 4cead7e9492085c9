// Package client talks to a running server over HTTP: the completion proxy
// route and the turn store surface. It is what a remote viewer plugs into
// chat.Orchestrator.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/wuwenbin0122/roomchat/internal/db"
	"github.com/wuwenbin0122/roomchat/internal/gateway"
	"github.com/wuwenbin0122/roomchat/internal/models"
)

const (
	defaultTimeout  = 90 * time.Second
	maxSnippetRunes = 256
)

type httpDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// RemoteError is a non-2xx answer from the server carrying its {error} text.
type RemoteError struct {
	Status  int
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}

type errorEnvelope struct {
	Error string `json:"error"`
}

// Client is bound to one server base URL. The session is fixed server side,
// so the sessionID arguments of the store methods are informational only.
type Client struct {
	baseURL string
	http    httpDoer
}

func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

type chatRequest struct {
	Messages []models.Message `json:"messages"`
}

// Complete posts messages to the proxy route and returns the assistant text.
func (c *Client) Complete(ctx context.Context, messages []models.Message) (string, error) {
	body, err := c.do(ctx, http.MethodPost, "/api/chat", chatRequest{Messages: messages})
	if err != nil {
		return "", err
	}
	return gateway.ExtractContent(body)
}

type appendRequest struct {
	Role    models.Role `json:"role"`
	Content string      `json:"content"`
}

func (c *Client) Append(ctx context.Context, sessionID string, role models.Role, content string) (models.Turn, error) {
	body, err := c.do(ctx, http.MethodPost, "/api/turns", appendRequest{Role: role, Content: content})
	if err != nil {
		return models.Turn{}, fmt.Errorf("%w: %w", db.ErrPersistence, err)
	}

	var turn models.Turn
	if err := json.Unmarshal(body, &turn); err != nil {
		return models.Turn{}, fmt.Errorf("%w: decode turn: %w", db.ErrPersistence, err)
	}
	turn.State = models.StateConfirmed
	return turn, nil
}

type listResponse struct {
	Turns []models.Turn `json:"turns"`
}

func (c *Client) ListTurns(ctx context.Context, sessionID string) ([]models.Turn, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/turns", nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", db.ErrPersistence, err)
	}

	var resp listResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode turns: %w", db.ErrPersistence, err)
	}
	for i := range resp.Turns {
		resp.Turns[i].State = models.StateConfirmed
	}
	return resp.Turns, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	request.Header.Set("Accept", "application/json")

	response, err := c.http.Do(request)
	if err != nil {
		return nil, &gateway.NetworkError{Err: err}
	}
	defer response.Body.Close()

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, &gateway.NetworkError{Err: fmt.Errorf("read response: %w", err)}
	}

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return nil, decodeRemoteError(response.StatusCode, body)
	}

	return body, nil
}

func decodeRemoteError(status int, body []byte) error {
	var envelope errorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && strings.TrimSpace(envelope.Error) != "" {
		return &RemoteError{Status: status, Message: strings.TrimSpace(envelope.Error)}
	}

	snippet := strings.TrimSpace(string(body))
	if snippet == "" {
		snippet = http.StatusText(status)
	}
	snippet = truncateRunes(snippet, maxSnippetRunes)
	return &RemoteError{Status: status, Message: fmt.Sprintf("server error (%d): %s", status, snippet)}
}

func truncateRunes(value string, limit int) string {
	if utf8.RuneCountInString(value) <= limit {
		return value
	}
	runes := []rune(value)
	return string(runes[:limit])
}
