package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wuwenbin0122/roomchat/internal/models"
	"github.com/wuwenbin0122/roomchat/internal/utils"
)

const defaultHTTPTimeout = 60 * time.Second

type httpDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// Client relays message lists to the upstream completion provider. Model,
// temperature and token budget are fixed at construction; callers only
// supply messages.
type Client struct {
	endpoint      string
	model         string
	temperature   float64
	maxTokens     int
	credentialEnv string
	client        httpDoer
	logger        *zap.Logger
}

func New(cfg utils.CompletionConfig, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}

	credentialEnv := strings.TrimSpace(cfg.CredentialEnv)
	if credentialEnv == "" {
		credentialEnv = "NVIDIA_API_KEY"
	}

	return &Client{
		endpoint:      cfg.Endpoint(),
		model:         cfg.Model,
		temperature:   cfg.Temperature,
		maxTokens:     cfg.MaxTokens,
		credentialEnv: credentialEnv,
		client:        &http.Client{Timeout: timeout},
		logger:        utils.OrNop(logger).Named("gateway"),
	}
}

type completionRequest struct {
	Model       string           `json:"model"`
	Messages    []models.Message `json:"messages"`
	Temperature float64          `json:"temperature"`
	MaxTokens   int              `json:"max_tokens"`
}

type completionChoice struct {
	Index        int            `json:"index"`
	Message      models.Message `json:"message"`
	FinishReason string         `json:"finish_reason"`
}

type completionResponse struct {
	ID      string             `json:"id"`
	Choices []completionChoice `json:"choices"`
}

// Forward performs a single upstream call and returns the provider's JSON
// body unchanged on success. It never retries.
func (c *Client) Forward(ctx context.Context, messages []models.Message) (json.RawMessage, error) {
	// read per call so a rotated key takes effect without a restart
	key := strings.TrimSpace(os.Getenv(c.credentialEnv))
	if key == "" {
		return nil, &ConfigurationError{Key: c.credentialEnv}
	}

	body, err := json.Marshal(completionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal completion payload: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create completion request: %w", err)
	}
	request.Header.Set("Authorization", "Bearer "+key)
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")

	started := time.Now()
	response, err := c.client.Do(request)
	if err != nil {
		c.logger.Warn("completion_call_failed", zap.Error(err))
		return nil, &NetworkError{Err: err}
	}
	defer response.Body.Close()

	respBody, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, &NetworkError{Err: fmt.Errorf("read completion response: %w", err)}
	}

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		c.logger.Warn("completion_upstream_error",
			zap.Int("status", response.StatusCode),
			zap.Duration("elapsed", time.Since(started)),
		)
		return nil, &UpstreamError{Status: response.StatusCode, Detail: strings.TrimSpace(string(respBody))}
	}

	c.logger.Debug("completion_ok",
		zap.Int("messages", len(messages)),
		zap.Duration("elapsed", time.Since(started)),
	)

	return json.RawMessage(respBody), nil
}

// Complete forwards messages and extracts the assistant text.
func (c *Client) Complete(ctx context.Context, messages []models.Message) (string, error) {
	raw, err := c.Forward(ctx, messages)
	if err != nil {
		return "", err
	}
	return ExtractContent(raw)
}

// ExtractContent reads choices[0].message.content from a completion body.
func ExtractContent(raw []byte) (string, error) {
	var resp completionResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("decode completion response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("completion response contained no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
