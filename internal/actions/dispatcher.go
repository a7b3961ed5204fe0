package actions

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/R3E-Network/triggerflow/internal/models"
)

// Outcome summarizes a successful dispatch.
type Outcome struct {
	StatusCode int
	Detail     string
}

// Dispatcher is the shared capability of every typed executor: validate the
// config without side effects, or validate, render and perform the call.
type Dispatcher interface {
	Kind() models.ActionType
	Validate(config json.RawMessage) error
	Execute(ctx context.Context, config json.RawMessage, eventData json.RawMessage) (*Outcome, error)
}

// Doer abstracts the HTTP client so tests can intercept requests. Both
// *http.Client and httputil.RateLimitedClient satisfy it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

const maxResponseBody = 1 << 20 // 1MiB

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
