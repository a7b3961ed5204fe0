package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/R3E-Network/triggerflow/infrastructure/logging"
	"github.com/R3E-Network/triggerflow/internal/models"
)

const (
	defaultRestTimeoutSecs = 30
	maxHeaderValueLength   = 1024
)

var sensitiveHeaders = map[string]struct{}{
	"authorization": {},
	"x-api-key":     {},
	"api-key":       {},
	"api_key":       {},
	"token":         {},
	"x-auth-token":  {},
	"cookie":        {},
	"set-cookie":    {},
}

// RestConfig is the validated configuration of a REST webhook action. URL,
// header values, and the body are templates.
type RestConfig struct {
	Method              string            `json:"method"`
	URL                 string            `json:"url"`
	Headers             map[string]string `json:"headers"`
	Body                json.RawMessage   `json:"body,omitempty"`
	TimeoutSeconds      int               `json:"timeout_seconds"`
	ExpectedStatusCodes []int             `json:"expected_status_codes"`
}

// Validate checks the config before any I/O.
func (c *RestConfig) Validate() error {
	if err := ValidateURL(c.URL); err != nil {
		return err
	}
	if err := validateHTTPMethod(c.Method); err != nil {
		return err
	}
	for key, value := range c.Headers {
		if err := validateHeader(key, value); err != nil {
			return err
		}
	}
	if c.TimeoutSeconds <= 0 || c.TimeoutSeconds > 300 {
		return ConfigInvalid("timeout must be between 1 and 300 seconds")
	}
	return nil
}

// expectedStatuses returns the accept set, defaulting to 200..299.
func (c *RestConfig) expectedStatuses() map[int]struct{} {
	set := make(map[int]struct{})
	if len(c.ExpectedStatusCodes) == 0 {
		for code := 200; code < 300; code++ {
			set[code] = struct{}{}
		}
		return set
	}
	for _, code := range c.ExpectedStatusCodes {
		set[code] = struct{}{}
	}
	return set
}

func validateHTTPMethod(method string) error {
	switch strings.ToUpper(method) {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch:
		return nil
	default:
		return ConfigInvalid("unsupported HTTP method: %s. Allowed: GET, POST, PUT, DELETE, PATCH", method)
	}
}

func validateHeader(key, value string) error {
	if key == "" {
		return ConfigInvalid("header key cannot be empty")
	}
	if len(value) > maxHeaderValueLength {
		return ConfigInvalid("header value too long for '%s': %d characters (max: %d)", key, len(value), maxHeaderValueLength)
	}
	return nil
}

func sanitizeHeaderForLogging(key, value string) string {
	if _, ok := sensitiveHeaders[strings.ToLower(key)]; ok {
		return "[REDACTED]"
	}
	return truncate(value, 100)
}

// RestDispatcher executes REST webhook actions.
type RestDispatcher struct {
	client   Doer
	renderer *Renderer
	logger   *logging.Logger
}

// NewRestDispatcher creates a REST dispatcher on the given client.
func NewRestDispatcher(client Doer, renderer *Renderer, logger *logging.Logger) *RestDispatcher {
	return &RestDispatcher{client: client, renderer: renderer, logger: logger}
}

// Kind returns the dispatch kind.
func (d *RestDispatcher) Kind() models.ActionType {
	return models.ActionRest
}

// Validate parses and checks the config without performing I/O.
func (d *RestDispatcher) Validate(raw json.RawMessage) error {
	cfg, err := parseRestConfig(raw)
	if err != nil {
		return err
	}
	return cfg.Validate()
}

// Execute validates, renders and performs the webhook call.
func (d *RestDispatcher) Execute(ctx context.Context, raw json.RawMessage, eventData json.RawMessage) (*Outcome, error) {
	cfg, err := parseRestConfig(raw)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	url, err := d.renderer.Render(cfg.URL, eventData)
	if err != nil {
		return nil, err
	}
	// The rendered URL may differ from the template; re-check the SSRF policy.
	if err := ValidateURL(url); err != nil {
		return nil, err
	}

	method := strings.ToUpper(cfg.Method)

	var bodyReader io.Reader
	if cfg.Body != nil && (method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch) {
		rendered, err := d.renderer.RenderJSONRaw(cfg.Body, eventData)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(rendered)
	}

	callCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.TimeoutSeconds)*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, method, url, bodyReader)
	if err != nil {
		return nil, ConfigInvalid("build request: %v", err)
	}

	for key, valueTemplate := range cfg.Headers {
		value, err := d.renderer.Render(valueTemplate, eventData)
		if err != nil {
			return nil, err
		}
		if err := validateHeader(key, value); err != nil {
			return nil, err
		}
		d.logger.WithFields(map[string]interface{}{
			"header_key":   key,
			"header_value": sanitizeHeaderForLogging(key, value),
		}).Debug("Adding request header")
		req.Header.Set(key, value)
	}
	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	d.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"method":       method,
		"url":          truncate(url, 200),
		"timeout_secs": cfg.TimeoutSeconds,
	}).Info("Executing HTTP request")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(err, fmt.Sprintf("request timeout after %ds", cfg.TimeoutSeconds))
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))

	expected := cfg.expectedStatuses()
	if _, ok := expected[resp.StatusCode]; !ok {
		detail := fmt.Sprintf("unexpected status code %d", resp.StatusCode)
		if len(body) > 0 {
			detail = fmt.Sprintf("%s: %s", detail, truncate(string(body), 500))
		}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, CallerRemote("%s", detail)
		}
		return nil, TransientRemote(detail, nil)
	}

	return &Outcome{StatusCode: resp.StatusCode}, nil
}

func parseRestConfig(raw json.RawMessage) (*RestConfig, error) {
	cfg := RestConfig{TimeoutSeconds: defaultRestTimeoutSecs}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, ConfigInvalid("invalid REST config: %v", err)
	}
	return &cfg, nil
}

// classifyTransportError maps client errors to the retry taxonomy.
func classifyTransportError(err error, timeoutMsg string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return TimeoutError(timeoutMsg)
	}
	if errors.Is(err, context.Canceled) {
		return TransientRemote("request canceled", err)
	}
	return TransientRemote("HTTP request failed", err)
}
