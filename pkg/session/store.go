// Package session persists conversation histories per session key.
package session

import (
	"context"

	"lexy/pkg/llm"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Store loads and saves whole conversations. Load of an unknown session
// returns no messages and no error.
type Store interface {
	Load(ctx context.Context, sessionID string) ([]llm.Message, error)
	Save(ctx context.Context, sessionID string, messages []llm.Message) error
	Close() error
}
