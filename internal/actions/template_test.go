package actions

import (
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/triggerflow/infrastructure/logging"
)

func testRenderer() *Renderer {
	logger := logging.New("test", "error", "text")
	logger.SetOutput(io.Discard)
	return NewRenderer(logger)
}

func eventData(t *testing.T, data map[string]interface{}) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	return raw
}

func TestRenderSimpleTemplate(t *testing.T) {
	r := testRenderer()
	data := eventData(t, map[string]interface{}{"agent_id": "42", "score": 85})

	result, err := r.Render("Agent {{agent_id}} received score: {{score}}", data)
	require.NoError(t, err)
	assert.Equal(t, "Agent 42 received score: 85", result)
}

func TestRenderNumbers(t *testing.T) {
	r := testRenderer()
	data := eventData(t, map[string]interface{}{"block_number": 1000000, "chain_id": 84532})

	result, err := r.Render("Block {{block_number}} on chain {{chain_id}}", data)
	require.NoError(t, err)
	assert.Equal(t, "Block 1000000 on chain 84532", result)
}

func TestRenderBooleansAndNull(t *testing.T) {
	r := testRenderer()
	data := json.RawMessage(`{"score": true, "owner": null}`)

	result, err := r.Render("Score: {{score}}, Owner: {{owner}}", data)
	require.NoError(t, err)
	assert.Equal(t, "Score: true, Owner: null", result)
}

func TestRenderArrayJoined(t *testing.T) {
	r := testRenderer()
	data := json.RawMessage(`{"tags": ["trade", "reliable"]}`)

	result, err := r.Render("Tags: {{tags}}", data)
	require.NoError(t, err)
	assert.Equal(t, "Tags: trade, reliable", result)
}

func TestRenderMissingVariableKeepsPlaceholder(t *testing.T) {
	r := testRenderer()
	data := eventData(t, map[string]interface{}{"agent_id": "42"})

	result, err := r.Render("Hello {{agent_id}}, your chain is {{chain_id}}", data)
	require.NoError(t, err)
	assert.Equal(t, "Hello 42, your chain is {{chain_id}}", result)
}

func TestRenderRepeatedVariable(t *testing.T) {
	r := testRenderer()
	data := eventData(t, map[string]interface{}{"agent_id": "Bob"})

	result, err := r.Render("{{agent_id}} is {{agent_id}} is {{agent_id}}", data)
	require.NoError(t, err)
	assert.Equal(t, "Bob is Bob is Bob", result)
}

func TestRenderNoPlaceholdersIsIdentity(t *testing.T) {
	r := testRenderer()
	template := "no placeholders here"

	result, err := r.Render(template, eventData(t, map[string]interface{}{}))
	require.NoError(t, err)
	assert.Equal(t, template, result)
}

func TestRenderDisallowedVariableRejected(t *testing.T) {
	r := testRenderer()

	_, err := r.Render("sneaky {{secret_key}}", eventData(t, map[string]interface{}{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disallowed")
	assert.Contains(t, err.Error(), "secret_key")
	assert.False(t, IsRetryable(err))
}

func TestRenderTemplateTooLong(t *testing.T) {
	r := testRenderer()
	template := strings.Repeat("a", MaxRenderedLength+1)

	_, err := r.Render(template, eventData(t, map[string]interface{}{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too long")
}

func TestRenderResultTooLong(t *testing.T) {
	r := testRenderer()
	data := eventData(t, map[string]interface{}{"owner": strings.Repeat("x", MaxRenderedLength)})
	template := "prefix {{owner}}"

	_, err := r.Render(template, data)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too long")
}

func TestValidateTemplateVariables(t *testing.T) {
	assert.NoError(t, ValidateTemplateVariables("{{agent_id}} {{score}} {{registry}}"))
	assert.Error(t, ValidateTemplateVariables("{{evil}}"))
	assert.NoError(t, ValidateTemplateVariables("no variables"))
}

func TestExtractVariables(t *testing.T) {
	vars := ExtractVariables("{{agent_id}} and {{score}} and {{agent_id}}")
	assert.Equal(t, []string{"agent_id", "score", "agent_id"}, vars)
}

func TestRenderJSONPreservesTypes(t *testing.T) {
	r := testRenderer()
	data := eventData(t, map[string]interface{}{"agent_id": 42, "score": 85, "tag1": "trade"})
	template := json.RawMessage(`{"agent": "{{agent_id}}", "score": "{{score}}", "tag": "{{tag1}}", "fixed": 7}`)

	rendered, err := r.RenderJSONRaw(template, data)
	require.NoError(t, err)

	var result map[string]interface{}
	require.NoError(t, json.Unmarshal(rendered, &result))
	// Numbers survive as numbers, plain strings stay strings.
	assert.Equal(t, float64(42), result["agent"])
	assert.Equal(t, float64(85), result["score"])
	assert.Equal(t, "trade", result["tag"])
	assert.Equal(t, float64(7), result["fixed"])
}

func TestRenderJSONNested(t *testing.T) {
	r := testRenderer()
	data := eventData(t, map[string]interface{}{"agent_id": 42, "tag1": "trade"})
	template := json.RawMessage(`{"outer": {"agent": "{{agent_id}}"}, "list": ["{{tag1}}", 1]}`)

	rendered, err := r.RenderJSONRaw(template, data)
	require.NoError(t, err)

	var result map[string]interface{}
	require.NoError(t, json.Unmarshal(rendered, &result))
	outer := result["outer"].(map[string]interface{})
	assert.Equal(t, float64(42), outer["agent"])
	list := result["list"].([]interface{})
	assert.Equal(t, "trade", list[0])
	assert.Equal(t, float64(1), list[1])
}

func TestRenderJSONDisallowedVariable(t *testing.T) {
	r := testRenderer()
	template := json.RawMessage(`{"payload": "{{password}}"}`)

	_, err := r.RenderJSONRaw(template, eventData(t, map[string]interface{}{}))
	assert.Error(t, err)
}
