// Package tools defines the closed catalog of actions the decision model
// may take. The model's tool call is parsed into a typed invocation;
// unknown tools or malformed arguments are errors, not best-effort.
package tools

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/webpilot-org/webpilot/internal/llm"
)

// DefaultScrollAmount is used when a scroll call omits the amount.
const DefaultScrollAmount = 500

var (
	// ErrUnknownTool is returned for a tool name outside the catalog.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrBadArguments is returned when tool arguments fail to parse.
	ErrBadArguments = errors.New("invalid tool arguments")
)

// Invocation is one parsed tool call from the decision model.
type Invocation interface {
	// Name returns the catalog name of the tool.
	Name() string
	// Mutating reports whether applying the invocation changes page state,
	// which invalidates perception caches.
	Mutating() bool
}

// Click clicks the element with the given perception id.
type Click struct {
	ElementID int `json:"element_id"`
}

// Type focuses an element, clears its value, and types text.
type Type struct {
	ElementID int    `json:"element_id"`
	Text      string `json:"text"`
}

// PressEnter presses the Enter key.
type PressEnter struct{}

// Navigate loads a URL in the same session; never opens a new tab.
type Navigate struct {
	URL string `json:"url"`
}

// Scroll scrolls the page in a direction by an amount in pixels.
type Scroll struct {
	Direction string `json:"direction"`
	Amount    int    `json:"amount,omitempty"`
}

// Wait pauses for the given number of seconds.
type Wait struct {
	Seconds float64 `json:"seconds"`
}

// ScrollToResult scrolls the given element into view.
type ScrollToResult struct {
	ElementID int `json:"element_id"`
}

// AnalyzeVisualContent asks the vision model a question about the page.
type AnalyzeVisualContent struct {
	Question string `json:"question"`
}

// GetElementDetails fetches DOM details for the given elements.
type GetElementDetails struct {
	ElementIDs []int `json:"element_ids"`
}

// StoreData records an extracted key/value on the task result.
type StoreData struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// GetAccomplishments returns data stored so far in this execution.
type GetAccomplishments struct{}

// MarkTaskComplete signals that the task goal is achieved; triggers
// verification.
type MarkTaskComplete struct {
	Reasoning string `json:"reasoning"`
}

func (Click) Name() string                { return "click" }
func (Type) Name() string                 { return "type" }
func (PressEnter) Name() string           { return "press_enter" }
func (Navigate) Name() string             { return "navigate" }
func (Scroll) Name() string               { return "scroll" }
func (Wait) Name() string                 { return "wait" }
func (ScrollToResult) Name() string       { return "scroll_to_result" }
func (AnalyzeVisualContent) Name() string { return "analyze_visual_content" }
func (GetElementDetails) Name() string    { return "get_element_details" }
func (StoreData) Name() string            { return "store_data" }
func (GetAccomplishments) Name() string   { return "get_accomplishments" }
func (MarkTaskComplete) Name() string     { return "mark_task_complete" }

func (Click) Mutating() bool                { return true }
func (Type) Mutating() bool                 { return true }
func (PressEnter) Mutating() bool           { return true }
func (Navigate) Mutating() bool             { return true }
func (Scroll) Mutating() bool               { return true }
func (Wait) Mutating() bool                 { return false }
func (ScrollToResult) Mutating() bool       { return true }
func (AnalyzeVisualContent) Mutating() bool { return false }
func (GetElementDetails) Mutating() bool    { return false }
func (StoreData) Mutating() bool            { return false }
func (GetAccomplishments) Mutating() bool   { return false }
func (MarkTaskComplete) Mutating() bool     { return false }

// Parse converts a tool name and raw JSON arguments into an invocation.
func Parse(name string, args json.RawMessage) (Invocation, error) {
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}

	decode := func(v any) error {
		if err := json.Unmarshal(args, v); err != nil {
			return fmt.Errorf("%w for %s: %v", ErrBadArguments, name, err)
		}
		return nil
	}

	switch name {
	case "click":
		var inv Click
		if err := decode(&inv); err != nil {
			return nil, err
		}
		return inv, nil
	case "type":
		var inv Type
		if err := decode(&inv); err != nil {
			return nil, err
		}
		return inv, nil
	case "press_enter":
		return PressEnter{}, nil
	case "navigate":
		var inv Navigate
		if err := decode(&inv); err != nil {
			return nil, err
		}
		if inv.URL == "" {
			return nil, fmt.Errorf("%w for navigate: url is required", ErrBadArguments)
		}
		return inv, nil
	case "scroll":
		inv := Scroll{Amount: DefaultScrollAmount}
		if err := decode(&inv); err != nil {
			return nil, err
		}
		switch inv.Direction {
		case "up", "down", "left", "right":
		default:
			return nil, fmt.Errorf("%w for scroll: direction %q", ErrBadArguments, inv.Direction)
		}
		if inv.Amount <= 0 {
			inv.Amount = DefaultScrollAmount
		}
		return inv, nil
	case "wait":
		var inv Wait
		if err := decode(&inv); err != nil {
			return nil, err
		}
		if inv.Seconds <= 0 {
			return nil, fmt.Errorf("%w for wait: seconds must be positive", ErrBadArguments)
		}
		return inv, nil
	case "scroll_to_result":
		var inv ScrollToResult
		if err := decode(&inv); err != nil {
			return nil, err
		}
		return inv, nil
	case "analyze_visual_content":
		var inv AnalyzeVisualContent
		if err := decode(&inv); err != nil {
			return nil, err
		}
		return inv, nil
	case "get_element_details":
		var inv GetElementDetails
		if err := decode(&inv); err != nil {
			return nil, err
		}
		return inv, nil
	case "store_data":
		var inv StoreData
		if err := decode(&inv); err != nil {
			return nil, err
		}
		if inv.Key == "" {
			return nil, fmt.Errorf("%w for store_data: key is required", ErrBadArguments)
		}
		return inv, nil
	case "get_accomplishments":
		return GetAccomplishments{}, nil
	case "mark_task_complete":
		var inv MarkTaskComplete
		if err := decode(&inv); err != nil {
			return nil, err
		}
		return inv, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
}

// ParseToolCall parses an llm.ToolCall into an invocation.
func ParseToolCall(tc llm.ToolCall) (Invocation, error) {
	return Parse(tc.Function.Name, json.RawMessage(tc.Function.Arguments))
}
