package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/R3E-Network/triggerflow/infrastructure/logging"
	"github.com/R3E-Network/triggerflow/internal/models"
)

const defaultChatTimeoutSecs = 30

// ChatConfig is the validated configuration of a chat action: a message
// template posted to a chat-platform API on behalf of a bot token.
type ChatConfig struct {
	APIURL         string `json:"api_url"`
	ChatID         string `json:"chat_id"`
	Message        string `json:"message"`
	ParseMode      string `json:"parse_mode,omitempty"`
	AuthToken      string `json:"auth_token"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Validate checks the config before any I/O.
func (c *ChatConfig) Validate() error {
	if err := ValidateURL(c.APIURL); err != nil {
		return err
	}
	if c.ChatID == "" {
		return ConfigInvalid("chat_id cannot be empty")
	}
	if c.Message == "" {
		return ConfigInvalid("message template cannot be empty")
	}
	if c.AuthToken == "" {
		return ConfigInvalid("auth_token cannot be empty")
	}
	if c.TimeoutSeconds <= 0 || c.TimeoutSeconds > 300 {
		return ConfigInvalid("timeout must be between 1 and 300 seconds")
	}
	return nil
}

type chatRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

// ChatDispatcher posts rendered messages to a chat platform.
type ChatDispatcher struct {
	client   Doer
	renderer *Renderer
	logger   *logging.Logger
}

// NewChatDispatcher creates a chat dispatcher on the given client.
func NewChatDispatcher(client Doer, renderer *Renderer, logger *logging.Logger) *ChatDispatcher {
	return &ChatDispatcher{client: client, renderer: renderer, logger: logger}
}

// Kind returns the dispatch kind.
func (d *ChatDispatcher) Kind() models.ActionType {
	return models.ActionChat
}

// Validate parses and checks the config without performing I/O.
func (d *ChatDispatcher) Validate(raw json.RawMessage) error {
	cfg, err := parseChatConfig(raw)
	if err != nil {
		return err
	}
	return cfg.Validate()
}

// Execute renders the message and posts it. The rendered text inherits the
// template length bound, which matches the platform's 4096-char cap.
func (d *ChatDispatcher) Execute(ctx context.Context, raw json.RawMessage, eventData json.RawMessage) (*Outcome, error) {
	cfg, err := parseChatConfig(raw)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	text, err := d.renderer.Render(cfg.Message, eventData)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(chatRequest{
		ChatID:    cfg.ChatID,
		Text:      text,
		ParseMode: cfg.ParseMode,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.TimeoutSeconds)*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, cfg.APIURL, bytes.NewReader(payload))
	if err != nil {
		return nil, ConfigInvalid("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cfg.AuthToken)

	d.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"chat_id":     cfg.ChatID,
		"text_length": len(text),
	}).Info("Sending chat message")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(err, fmt.Sprintf("request timeout after %ds", cfg.TimeoutSeconds))
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return &Outcome{StatusCode: resp.StatusCode}, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		// Invalid chat target, revoked token, malformed markup: the caller
		// has to fix the trigger, retrying cannot help.
		return nil, CallerRemote("chat API rejected message with status %d: %s", resp.StatusCode, truncate(string(body), 200))
	default:
		return nil, TransientRemote(fmt.Sprintf("chat API returned status %d", resp.StatusCode), nil)
	}
}

func parseChatConfig(raw json.RawMessage) (*ChatConfig, error) {
	cfg := ChatConfig{TimeoutSeconds: defaultChatTimeoutSecs}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, ConfigInvalid("invalid chat config: %v", err)
	}
	return &cfg, nil
}
