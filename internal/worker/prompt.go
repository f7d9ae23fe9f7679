package worker

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/webpilot-org/webpilot/internal/dag"
	"github.com/webpilot-org/webpilot/internal/perception"
)

const maxElementContent = 120

func systemPrompt(task *dag.Task) string {
	var b strings.Builder
	b.WriteString("You are a web automation agent operating a real browser.\n")
	b.WriteString("Your current task: ")
	b.WriteString(task.Description)
	b.WriteString("\n\n")
	if task.Metadata.FallbackStrategy != "" {
		b.WriteString("If the primary approach fails: ")
		b.WriteString(task.Metadata.FallbackStrategy)
		b.WriteString("\n\n")
	}
	b.WriteString("Each turn you receive the current page as a numbered list of elements. ")
	b.WriteString("Interact with the page only through the provided tools, one action per turn, ")
	b.WriteString("referring to elements by their numeric id. ")
	b.WriteString("Store every piece of data the task asks for with store_data before finishing. ")
	b.WriteString("When the task goal is fully achieved, call mark_task_complete.")
	return b.String()
}

// renderObservation formats the page state for the model.
func renderObservation(obs *perception.Observation, iteration, maxIterations int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Iteration %d of %d.\nCurrent URL: %s\nVisible elements:\n", iteration, maxIterations, obs.URL)
	for _, e := range obs.Elements {
		content := e.Content
		if len(content) > maxElementContent {
			content = content[:maxElementContent] + "..."
		}
		marker := " "
		if e.Interactive {
			marker = "*"
		}
		fmt.Fprintf(&b, "[%d]%s %s: %s\n", e.ID, marker, e.Type, content)
		if e.DOM != nil {
			fmt.Fprintf(&b, "      dom: <%s", e.DOM.Tag)
			keys := make([]string, 0, len(e.DOM.Attributes))
			for k := range e.DOM.Attributes {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(&b, " %s=%q", k, e.DOM.Attributes[k])
			}
			b.WriteString(">\n")
		}
	}
	if len(obs.Elements) == 0 {
		b.WriteString("(no elements detected)\n")
	}
	b.WriteString("Interactive elements are marked with *.")
	return b.String()
}

func renderAccomplishments(data map[string]string) string {
	if len(data) == 0 {
		return "Nothing stored yet."
	}
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString("Stored data so far:\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "- %s: %s\n", k, data[k])
	}
	return b.String()
}

// verificationHistoryWindow bounds how many recent actions the verifier
// sees.
const verificationHistoryWindow = 10

func verificationPrompt(task *dag.Task, reasoning string, data map[string]string, obs *perception.Observation, history []dag.ActionResult) string {
	var b strings.Builder
	b.WriteString("You are verifying whether a web automation task is truly complete.\n\n")
	b.WriteString("Task: ")
	b.WriteString(task.Description)
	b.WriteString("\n\nThe agent claims completion with this reasoning: ")
	b.WriteString(reasoning)
	b.WriteString("\n\n")
	b.WriteString(renderAccomplishments(data))

	if obs != nil {
		fmt.Fprintf(&b, "\nCurrent URL: %s\nCurrent page elements:\n", obs.URL)
		for _, e := range obs.Elements {
			content := e.Content
			if len(content) > maxElementContent {
				content = content[:maxElementContent] + "..."
			}
			fmt.Fprintf(&b, "[%d] %s: %s\n", e.ID, e.Type, content)
		}
		if len(obs.Elements) == 0 {
			b.WriteString("(no elements detected)\n")
		}
	}

	if len(history) > 0 {
		recent := history
		if len(recent) > verificationHistoryWindow {
			recent = recent[len(recent)-verificationHistoryWindow:]
		}
		b.WriteString("\nRecent actions:\n")
		for _, a := range recent {
			outcome := "ok"
			if !a.Success {
				outcome = "failed: " + a.Error
			}
			fmt.Fprintf(&b, "- %s %s (%s)\n", a.ActionType, a.Target, outcome)
		}
	}

	b.WriteString("\nJudge strictly against the task description and the page evidence above. ")
	b.WriteString(`Respond with a single JSON object: {"completed": bool, "confidence": number between 0 and 1, "reasoning": string, "issues": [string]}`)
	return b.String()
}

// parseVerification extracts the verdict JSON from the model's reply,
// tolerating surrounding prose.
func parseVerification(content string) (*dag.VerificationResult, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in verification reply")
	}
	var v dag.VerificationResult
	if err := json.Unmarshal([]byte(content[start:end+1]), &v); err != nil {
		return nil, fmt.Errorf("decode verification reply: %w", err)
	}
	if v.Confidence < 0 || v.Confidence > 1 {
		return nil, fmt.Errorf("verification confidence %v out of range", v.Confidence)
	}
	return &v, nil
}
