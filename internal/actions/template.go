package actions

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/R3E-Network/triggerflow/infrastructure/logging"
)

// MaxRenderedLength bounds both templates and their rendered output.
const MaxRenderedLength = 4096

const maxVariableLogLength = 100

var varPattern = regexp.MustCompile(`\{\{(\w+)\}\}`)

// allowedVariables is the closed set of identifiers templates may reference.
var allowedVariables = []string{
	"event_id",
	"event_type",
	"chain_id",
	"block_number",
	"transaction_hash",
	"log_index",
	"timestamp",
	"agent_id",
	"owner",
	"token_uri",
	"score",
	"client_address",
	"feedback_index",
	"tag1",
	"tag2",
	"tags",
	"file_uri",
	"file_hash",
	"responder",
	"response_uri",
	"validator_address",
	"request_uri",
	"request_hash",
	"response",
	"response_hash",
	"validation_tag",
	"registry",
}

func isVariableAllowed(name string) bool {
	for _, allowed := range allowedVariables {
		if name == allowed {
			return true
		}
	}
	return false
}

// ExtractVariables lists every {{identifier}} referenced by the template.
func ExtractVariables(template string) []string {
	matches := varPattern.FindAllStringSubmatch(template, -1)
	vars := make([]string, 0, len(matches))
	for _, m := range matches {
		vars = append(vars, m[1])
	}
	return vars
}

// ValidateTemplateVariables rejects templates referencing identifiers outside
// the whitelist, listing the allowed set in the error.
func ValidateTemplateVariables(template string) error {
	var disallowed []string
	for _, name := range ExtractVariables(template) {
		if !isVariableAllowed(name) {
			disallowed = append(disallowed, name)
		}
	}
	if len(disallowed) > 0 {
		return SecurityViolation(
			"template contains disallowed variables: %s. Allowed variables: %s",
			strings.Join(disallowed, ", "), strings.Join(allowedVariables, ", "),
		)
	}
	return nil
}

// ValidateTemplateLength rejects oversize templates.
func ValidateTemplateLength(template string) error {
	if len(template) > MaxRenderedLength {
		return SecurityViolation("template too long: %d characters (max: %d)", len(template), MaxRenderedLength)
	}
	return nil
}

// Renderer substitutes whitelisted {{variables}} from an event-data snapshot.
type Renderer struct {
	logger *logging.Logger
}

// NewRenderer creates a template renderer.
func NewRenderer(logger *logging.Logger) *Renderer {
	return &Renderer{logger: logger}
}

// Render validates the template and substitutes every placeholder. Variables
// missing from the event data keep their literal placeholder; the rendered
// result is length-bounded.
func (r *Renderer) Render(template string, eventData json.RawMessage) (string, error) {
	if err := ValidateTemplateLength(template); err != nil {
		return "", err
	}
	if err := ValidateTemplateVariables(template); err != nil {
		return "", err
	}

	result := varPattern.ReplaceAllStringFunc(template, func(placeholder string) string {
		name := placeholder[2 : len(placeholder)-2]
		value := gjson.GetBytes(eventData, name)
		if !value.Exists() {
			r.logger.WithFields(map[string]interface{}{
				"variable": sanitizeForLogging(name),
			}).Debug("Template variable not found in event data, keeping placeholder")
			return placeholder
		}
		return formatValue(value)
	})

	if len(result) > MaxRenderedLength {
		return "", SecurityViolation("rendered message too long: %d characters (max: %d)", len(result), MaxRenderedLength)
	}

	return result, nil
}

// RenderJSON renders a JSON template recursively. A string whose rendered
// form parses as JSON is substituted with the parsed value so numbers, bools
// and null survive on the wire.
func (r *Renderer) RenderJSON(template interface{}, eventData json.RawMessage) (interface{}, error) {
	switch t := template.(type) {
	case string:
		rendered, err := r.Render(t, eventData)
		if err != nil {
			return nil, err
		}
		var parsed interface{}
		if err := json.Unmarshal([]byte(rendered), &parsed); err == nil {
			return parsed, nil
		}
		return rendered, nil

	case map[string]interface{}:
		result := make(map[string]interface{}, len(t))
		for key, value := range t {
			rendered, err := r.RenderJSON(value, eventData)
			if err != nil {
				return nil, err
			}
			result[key] = rendered
		}
		return result, nil

	case []interface{}:
		result := make([]interface{}, len(t))
		for i, value := range t {
			rendered, err := r.RenderJSON(value, eventData)
			if err != nil {
				return nil, err
			}
			result[i] = rendered
		}
		return result, nil

	default:
		return template, nil
	}
}

// RenderJSONRaw renders a raw JSON template document.
func (r *Renderer) RenderJSONRaw(template json.RawMessage, eventData json.RawMessage) (json.RawMessage, error) {
	var doc interface{}
	if err := json.Unmarshal(template, &doc); err != nil {
		return nil, ConfigInvalid("invalid JSON template: %v", err)
	}
	rendered, err := r.RenderJSON(doc, eventData)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(rendered)
	if err != nil {
		return nil, fmt.Errorf("marshal rendered template: %w", err)
	}
	return raw, nil
}

func formatValue(value gjson.Result) string {
	switch value.Type {
	case gjson.String:
		return value.Str
	case gjson.Number:
		return value.Raw
	case gjson.True:
		return "true"
	case gjson.False:
		return "false"
	case gjson.Null:
		return "null"
	default:
		if value.IsArray() {
			parts := make([]string, 0)
			value.ForEach(func(_, item gjson.Result) bool {
				if item.Type == gjson.String {
					parts = append(parts, item.Str)
				} else {
					parts = append(parts, item.Raw)
				}
				return true
			})
			return strings.Join(parts, ", ")
		}
		raw := value.Raw
		if len(raw) > 1000 {
			return raw[:997] + "..."
		}
		return raw
	}
}

func sanitizeForLogging(value string) string {
	var b strings.Builder
	for _, c := range value {
		if c >= 0x20 || c == ' ' {
			b.WriteRune(c)
		}
		if b.Len() >= maxVariableLogLength {
			break
		}
	}
	if len(value) > maxVariableLogLength {
		return b.String() + "..."
	}
	return b.String()
}
