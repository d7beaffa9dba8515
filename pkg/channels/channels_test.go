package channels

import (
	"errors"
	"testing"

	"lexy/pkg/api"
	"lexy/pkg/llm"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubChannel struct{ id string }

func (c *stubChannel) ID() string                                               { return c.id }
func (c *stubChannel) Start(api.ChannelContext) error                           { return nil }
func (c *stubChannel) Stop() error                                              { return nil }
func (c *stubChannel) Send(api.SessionContext, string) error                    { return nil }
func (c *stubChannel) Stream(api.SessionContext, <-chan llm.ContentBlock) error { return nil }

func TestLoadFromConfig(t *testing.T) {
	var seen []string
	RegisterChannel("test-ok", FactoryFunc(func(raw jsoniter.RawMessage, _ Deps) (api.Channel, error) {
		seen = append(seen, string(raw))
		return &stubChannel{id: "test-ok"}, nil
	}))
	RegisterChannel("test-fail", FactoryFunc(func(jsoniter.RawMessage, Deps) (api.Channel, error) {
		return nil, errors.New("bad config")
	}))
	RegisterChannel("test-off", FactoryFunc(func(jsoniter.RawMessage, Deps) (api.Channel, error) {
		return nil, nil
	}))

	out := LoadFromConfig(map[string]jsoniter.RawMessage{
		"test-ok":      jsoniter.RawMessage(`{"port":1}`),
		"test-fail":    jsoniter.RawMessage(`{}`),
		"test-off":     jsoniter.RawMessage(`{}`),
		"test-missing": jsoniter.RawMessage(`{}`),
	}, Deps{})

	require.Len(t, out, 1)
	assert.Equal(t, "test-ok", out[0].ID())
	assert.Equal(t, []string{`{"port":1}`}, seen)

	_, ok := GetChannelFactory("test-missing")
	assert.False(t, ok)
}
