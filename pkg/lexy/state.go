// Package lexy holds the generative UI chain: its state, prompt, the
// invoke_model node and the one-node graph that runs it.
package lexy

import (
	"strings"

	"lexy/pkg/llm"
)

// State is the record flowing through the graph. Every field is optional;
// a node returns only the fields it sets.
type State struct {
	Input       *llm.Message  `json:"input,omitempty"`
	Files       []File        `json:"files,omitempty"`
	Result      *string       `json:"result,omitempty"`
	ChatHistory []llm.Message `json:"chat_history,omitempty"`
}

// File is one file the model asked to create.
type File struct {
	Name      string `json:"name"`
	Extension string `json:"extension"`
	Content   string `json:"content"`
}

// FileName joins Name and Extension.
func (f File) FileName() string {
	if f.Extension == "" {
		return f.Name
	}
	if strings.HasPrefix(f.Extension, ".") {
		return f.Name + f.Extension
	}
	return f.Name + "." + f.Extension
}

// MergeState overwrites the fields present in update and keeps the rest.
func MergeState(current, update State) State {
	if update.Input != nil {
		current.Input = update.Input
	}
	if update.Files != nil {
		current.Files = update.Files
	}
	if update.Result != nil {
		current.Result = update.Result
	}
	if update.ChatHistory != nil {
		current.ChatHistory = update.ChatHistory
	}
	return current
}

// ResultText returns the result or "" when unset.
func (s State) ResultText() string {
	if s.Result == nil {
		return ""
	}
	return *s.Result
}
