package tools

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/webpilot-org/webpilot/internal/llm"
)

func TestParseClick(t *testing.T) {
	t.Parallel()

	inv, err := Parse("click", json.RawMessage(`{"element_id": 42}`))
	require.NoError(t, err)
	require.Equal(t, Click{ElementID: 42}, inv)
	require.True(t, inv.Mutating())
}

func TestParseType(t *testing.T) {
	t.Parallel()

	inv, err := Parse("type", json.RawMessage(`{"element_id": 7, "text": "hello"}`))
	require.NoError(t, err)
	require.Equal(t, Type{ElementID: 7, Text: "hello"}, inv)
}

func TestParseScrollDefaults(t *testing.T) {
	t.Parallel()

	inv, err := Parse("scroll", json.RawMessage(`{"direction": "down"}`))
	require.NoError(t, err)
	require.Equal(t, Scroll{Direction: "down", Amount: DefaultScrollAmount}, inv)

	inv, err = Parse("scroll", json.RawMessage(`{"direction": "up", "amount": 250}`))
	require.NoError(t, err)
	require.Equal(t, Scroll{Direction: "up", Amount: 250}, inv)

	_, err = Parse("scroll", json.RawMessage(`{"direction": "sideways"}`))
	require.ErrorIs(t, err, ErrBadArguments)
}

func TestParseNavigateRequiresURL(t *testing.T) {
	t.Parallel()

	_, err := Parse("navigate", json.RawMessage(`{}`))
	require.ErrorIs(t, err, ErrBadArguments)

	inv, err := Parse("navigate", json.RawMessage(`{"url": "https://example.com"}`))
	require.NoError(t, err)
	require.Equal(t, Navigate{URL: "https://example.com"}, inv)
}

func TestParseWait(t *testing.T) {
	t.Parallel()

	inv, err := Parse("wait", json.RawMessage(`{"seconds": 1.5}`))
	require.NoError(t, err)
	require.Equal(t, Wait{Seconds: 1.5}, inv)
	require.False(t, inv.Mutating())

	_, err = Parse("wait", json.RawMessage(`{"seconds": 0}`))
	require.ErrorIs(t, err, ErrBadArguments)
}

func TestParseNoArgTools(t *testing.T) {
	t.Parallel()

	inv, err := Parse("press_enter", nil)
	require.NoError(t, err)
	require.Equal(t, PressEnter{}, inv)

	inv, err = Parse("get_accomplishments", nil)
	require.NoError(t, err)
	require.Equal(t, GetAccomplishments{}, inv)
}

func TestParseStoreDataRequiresKey(t *testing.T) {
	t.Parallel()

	_, err := Parse("store_data", json.RawMessage(`{"value": "x"}`))
	require.ErrorIs(t, err, ErrBadArguments)
}

func TestParseUnknownTool(t *testing.T) {
	t.Parallel()

	_, err := Parse("open_new_tab", json.RawMessage(`{}`))
	require.ErrorIs(t, err, ErrUnknownTool)
}

func TestParseMalformedArguments(t *testing.T) {
	t.Parallel()

	_, err := Parse("click", json.RawMessage(`{"element_id": "not a number"`))
	require.ErrorIs(t, err, ErrBadArguments)
}

func TestParseToolCall(t *testing.T) {
	t.Parallel()

	inv, err := ParseToolCall(llm.ToolCall{
		ID: "call_1",
		Function: llm.FunctionCall{
			Name:      "mark_task_complete",
			Arguments: `{"reasoning": "form submitted"}`,
		},
	})
	require.NoError(t, err)
	require.Equal(t, MarkTaskComplete{Reasoning: "form submitted"}, inv)
}

func TestCatalogCoversParser(t *testing.T) {
	t.Parallel()

	for _, tl := range Catalog() {
		require.Equal(t, "function", tl.Type)
		require.NotEmpty(t, tl.Function.Description)

		// Every advertised tool must parse with minimal valid arguments.
		args := minimalArgs(t, tl.Function.Name)
		inv, err := Parse(tl.Function.Name, args)
		require.NoError(t, err, "tool %s", tl.Function.Name)
		require.Equal(t, tl.Function.Name, inv.Name())
	}
}

func minimalArgs(t *testing.T, name string) json.RawMessage {
	t.Helper()
	switch name {
	case "click", "scroll_to_result":
		return json.RawMessage(`{"element_id": 1}`)
	case "type":
		return json.RawMessage(`{"element_id": 1, "text": "x"}`)
	case "navigate":
		return json.RawMessage(`{"url": "https://example.com"}`)
	case "scroll":
		return json.RawMessage(`{"direction": "down"}`)
	case "wait":
		return json.RawMessage(`{"seconds": 1}`)
	case "analyze_visual_content":
		return json.RawMessage(`{"question": "what is on screen"}`)
	case "get_element_details":
		return json.RawMessage(`{"element_ids": [1, 2]}`)
	case "store_data":
		return json.RawMessage(`{"key": "k", "value": "v"}`)
	case "mark_task_complete":
		return json.RawMessage(`{"reasoning": "done"}`)
	default:
		return json.RawMessage(`{}`)
	}
}
