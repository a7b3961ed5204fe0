package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/R3E-Network/triggerflow/infrastructure/errors"
)

// ErrorEnvelope is the wire shape of every error response on the operational
// surface. RetryAfter/Limit/Window are only set for rate-limit rejections.
type ErrorEnvelope struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after,omitempty"`
	Limit      int    `json:"limit,omitempty"`
	Window     int    `json:"window,omitempty"`
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteServiceError renders a coded service error as the standard envelope,
// lifting rate-limit metadata out of its details.
func WriteServiceError(w http.ResponseWriter, serviceErr *errors.ServiceError) {
	status := serviceErr.HTTPStatus
	if status == 0 {
		status = http.StatusInternalServerError
	}

	WriteJSON(w, status, ErrorEnvelope{
		Code:       string(serviceErr.Code),
		Message:    serviceErr.Message,
		RetryAfter: detailInt(serviceErr, "retry_after"),
		Limit:      detailInt(serviceErr, "limit"),
		Window:     detailInt(serviceErr, "window"),
	})
}

// WriteError renders any error, coercing uncoded errors to a coded internal
// error first.
func WriteError(w http.ResponseWriter, err error) {
	WriteServiceError(w, errors.From(err))
}

func detailInt(serviceErr *errors.ServiceError, key string) int {
	switch v := serviceErr.Details[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	default:
		return 0
	}
}
