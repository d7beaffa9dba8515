package lexy

import (
	"errors"
	"fmt"

	"lexy/pkg/llm"
)

// DefaultSystemPrompt instructs the model to either answer in plain text or
// describe files to create.
const DefaultSystemPrompt = `You are a helpful assistant. You're provided an input from the user.
Your job is to determine whether or not you have to create a file and respond with text or just respond with plain text. If you need more information to create a file, ask for it. To create a file, respond with a JSON object containing the file name, extension, and content.`

const (
	VarInput       = "input"
	VarChatHistory = "chat_history"
)

// ErrMissingVariable is returned by Format when a required placeholder has no messages.
var ErrMissingVariable = errors.New("missing prompt variable")

// Placeholder expands to the messages bound to Name.
type Placeholder struct {
	Name     string
	Optional bool
}

// PromptTemplate is a system message followed by message placeholders.
type PromptTemplate struct {
	System       string
	Placeholders []Placeholder
}

// NewPromptTemplate builds the chain prompt: system text, the optional chat
// history, then the user input. An empty system falls back to DefaultSystemPrompt.
func NewPromptTemplate(system string) PromptTemplate {
	if system == "" {
		system = DefaultSystemPrompt
	}
	return PromptTemplate{
		System: system,
		Placeholders: []Placeholder{
			{Name: VarChatHistory, Optional: true},
			{Name: VarInput},
		},
	}
}

// Format renders the template. Placeholders are expanded in order.
func (p PromptTemplate) Format(vars map[string][]llm.Message) ([]llm.Message, error) {
	out := make([]llm.Message, 0, 1+len(vars))
	if p.System != "" {
		out = append(out, llm.NewSystemMessage(p.System))
	}

	for _, ph := range p.Placeholders {
		msgs := vars[ph.Name]
		if len(msgs) == 0 {
			if ph.Optional {
				continue
			}
			return nil, fmt.Errorf("%w: %q", ErrMissingVariable, ph.Name)
		}
		out = append(out, msgs...)
	}
	return out, nil
}
