// Package autoload registers every built-in model provider.
package autoload

import (
	_ "lexy/pkg/llm/gemini"
	_ "lexy/pkg/llm/ollama"
	_ "lexy/pkg/llm/openailm"
)
