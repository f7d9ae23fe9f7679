package tools

import "github.com/webpilot-org/webpilot/internal/llm"

// Catalog returns the tool definitions advertised to the decision model.
// The set is closed; Parse rejects anything outside it.
func Catalog() []llm.Tool {
	return []llm.Tool{
		tool("click", "Click an interactive element identified by a previous observation.",
			props{
				"element_id": intProp("Numeric id of the element to click."),
			}, "element_id"),
		tool("type", "Clear the element's current value and type the given text into it.",
			props{
				"element_id": intProp("Numeric id of the input element."),
				"text":       strProp("Text to type after clearing the field."),
			}, "element_id", "text"),
		tool("press_enter", "Press the Enter key, typically to submit a form or search.",
			props{}),
		tool("navigate", "Load a URL in the current browser session.",
			props{
				"url": strProp("Absolute URL to navigate to."),
			}, "url"),
		tool("scroll", "Scroll the page to reveal content outside the viewport.",
			props{
				"direction": enumProp("Scroll direction.", "up", "down", "left", "right"),
				"amount":    intProp("Scroll distance in pixels. Defaults to 500."),
			}, "direction"),
		tool("wait", "Pause execution, for example while a page finishes loading.",
			props{
				"seconds": numProp("Number of seconds to wait."),
			}, "seconds"),
		tool("scroll_to_result", "Scroll until the given element is in view.",
			props{
				"element_id": intProp("Numeric id of the element to bring into view."),
			}, "element_id"),
		tool("analyze_visual_content", "Ask a vision model a question about the current page when structured elements are insufficient.",
			props{
				"question": strProp("Question about the page's visual content."),
			}, "question"),
		tool("get_element_details", "Fetch DOM-level details for specific elements.",
			props{
				"element_ids": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "integer"},
					"description": "Ids of the elements to inspect.",
				},
			}, "element_ids"),
		tool("store_data", "Record a piece of extracted data on the task result.",
			props{
				"key":   strProp("Name under which the value is stored."),
				"value": strProp("The extracted value."),
			}, "key", "value"),
		tool("get_accomplishments", "List data stored so far during this execution.",
			props{}),
		tool("mark_task_complete", "Declare the task goal achieved. Completion is verified before being accepted.",
			props{
				"reasoning": strProp("Why the goal is believed to be achieved."),
			}, "reasoning"),
	}
}

type props map[string]any

func tool(name, description string, p props, required ...string) llm.Tool {
	if required == nil {
		required = []string{}
	}
	return llm.Tool{
		Type: "function",
		Function: llm.ToolFunction{
			Name:        name,
			Description: description,
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any(p),
				"required":   required,
			},
		},
	}
}

func strProp(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

func intProp(description string) map[string]any {
	return map[string]any{"type": "integer", "description": description}
}

func numProp(description string) map[string]any {
	return map[string]any{"type": "number", "description": description}
}

func enumProp(description string, values ...string) map[string]any {
	return map[string]any{"type": "string", "description": description, "enum": values}
}
