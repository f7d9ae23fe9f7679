// Package allproviders registers every built-in LLM provider.
// Import for side effects wherever providers are resolved by name.
package allproviders

import (
	_ "github.com/webpilot-org/webpilot/internal/llm/providers/anthropic"
	_ "github.com/webpilot-org/webpilot/internal/llm/providers/local"
)
