package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/triggerflow/infrastructure/logging"
	"github.com/R3E-Network/triggerflow/internal/models"
)

const (
	defaultToolTimeoutSecs = 30
	maxToolNameLength      = 256
)

// ToolConfig is the validated configuration of a remote tool invocation over
// JSON-RPC 2.0.
type ToolConfig struct {
	ServerURL         string          `json:"server_url"`
	ToolName          string          `json:"tool_name"`
	ArgumentsTemplate json.RawMessage `json:"arguments_template,omitempty"`
	TimeoutSeconds    int             `json:"timeout_seconds"`
	AuthToken         string          `json:"auth_token,omitempty"`
}

// Validate checks the config before any I/O.
func (c *ToolConfig) Validate() error {
	if err := ValidateURL(c.ServerURL); err != nil {
		return err
	}
	if err := validateToolName(c.ToolName); err != nil {
		return err
	}
	if c.TimeoutSeconds <= 0 || c.TimeoutSeconds > 300 {
		return ConfigInvalid("timeout must be between 1 and 300 seconds")
	}
	return nil
}

func validateToolName(name string) error {
	if name == "" {
		return ConfigInvalid("tool name cannot be empty")
	}
	if len(name) > maxToolNameLength {
		return ConfigInvalid("tool name too long: %d characters (max: %d)", len(name), maxToolNameLength)
	}
	for _, c := range name {
		isAlnum := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
		if !isAlnum && c != '_' && c != '-' && c != '/' {
			return ConfigInvalid("tool name contains invalid characters: %s. Only alphanumeric, underscore, hyphen, and slash allowed", name)
		}
	}
	return nil
}

type jsonRPCRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      string        `json:"id"`
	Method  string        `json:"method"`
	Params  jsonRPCParams `json:"params"`
}

type jsonRPCParams struct {
	Name      string      `json:"name"`
	Arguments interface{} `json:"arguments"`
}

type jsonRPCResponse struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      string           `json:"id"`
	Result  *json.RawMessage `json:"result,omitempty"`
	Error   *jsonRPCError    `json:"error,omitempty"`
}

type jsonRPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// ToolDispatcher invokes remote tools via JSON-RPC 2.0 "tools/call".
type ToolDispatcher struct {
	client   Doer
	renderer *Renderer
	logger   *logging.Logger
}

// NewToolDispatcher creates a tool dispatcher on the given client.
func NewToolDispatcher(client Doer, renderer *Renderer, logger *logging.Logger) *ToolDispatcher {
	return &ToolDispatcher{client: client, renderer: renderer, logger: logger}
}

// Kind returns the dispatch kind.
func (d *ToolDispatcher) Kind() models.ActionType {
	return models.ActionTool
}

// Validate parses and checks the config without performing I/O.
func (d *ToolDispatcher) Validate(raw json.RawMessage) error {
	cfg, err := parseToolConfig(raw)
	if err != nil {
		return err
	}
	return cfg.Validate()
}

// Execute renders the arguments and performs the tool call. A protocol-level
// error response is a caller problem and never retried; transport failures
// are retryable.
func (d *ToolDispatcher) Execute(ctx context.Context, raw json.RawMessage, eventData json.RawMessage) (*Outcome, error) {
	cfg, err := parseToolConfig(raw)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var arguments interface{} = map[string]interface{}{}
	if len(cfg.ArgumentsTemplate) > 0 {
		rendered, err := d.renderer.RenderJSONRaw(cfg.ArgumentsTemplate, eventData)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(rendered, &arguments); err != nil {
			return nil, ConfigInvalid("rendered arguments are not valid JSON: %v", err)
		}
	}

	requestID := uuid.NewString()
	payload, err := json.Marshal(jsonRPCRequest{
		JSONRPC: "2.0",
		ID:      requestID,
		Method:  "tools/call",
		Params:  jsonRPCParams{Name: cfg.ToolName, Arguments: arguments},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal JSON-RPC request: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.TimeoutSeconds)*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, cfg.ServerURL, bytes.NewReader(payload))
	if err != nil {
		return nil, ConfigInvalid("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.AuthToken)
	}

	d.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"server_url": truncate(cfg.ServerURL, 200),
		"tool_name":  cfg.ToolName,
		"request_id": requestID,
	}).Info("Calling remote tool")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(err, fmt.Sprintf("request timeout after %ds", cfg.TimeoutSeconds))
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Tool errors ride inside a 2xx; a non-2xx is transport trouble.
		return nil, TransientRemote(fmt.Sprintf("HTTP %d from tool server: %s", resp.StatusCode, truncate(string(body), 200)), nil)
	}

	var rpcResponse jsonRPCResponse
	if err := json.Unmarshal(body, &rpcResponse); err != nil {
		return nil, TransientRemote("failed to parse tool response", err)
	}

	if rpcResponse.Error != nil {
		return nil, CallerRemote("tool call returned error [%d] %s", rpcResponse.Error.Code, rpcResponse.Error.Message)
	}

	return &Outcome{StatusCode: resp.StatusCode, Detail: "tool call completed"}, nil
}

func parseToolConfig(raw json.RawMessage) (*ToolConfig, error) {
	cfg := ToolConfig{TimeoutSeconds: defaultToolTimeoutSecs}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, ConfigInvalid("invalid tool config: %v", err)
	}
	return &cfg, nil
}
