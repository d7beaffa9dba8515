// Package channels builds the configured platform channels through a
// registry of factories that register themselves from init().
package channels

import (
	"sync"

	"lexy/pkg/api"
	"lexy/pkg/config"
	"lexy/pkg/session"

	jsoniter "github.com/json-iterator/go"
)

// Deps are the shared resources handed to every factory.
type Deps struct {
	Sessions *session.Manager
	System   *config.SystemConfig
}

// ChannelFactory builds one platform channel from its raw config block.
// A nil channel with a nil error means the channel is disabled.
type ChannelFactory interface {
	Create(rawConfig jsoniter.RawMessage, deps Deps) (api.Channel, error)
}

// FactoryFunc adapts a function to ChannelFactory.
type FactoryFunc func(rawConfig jsoniter.RawMessage, deps Deps) (api.Channel, error)

func (f FactoryFunc) Create(rawConfig jsoniter.RawMessage, deps Deps) (api.Channel, error) {
	return f(rawConfig, deps)
}

var (
	registry   = make(map[string]ChannelFactory)
	registryMu sync.RWMutex
)

// RegisterChannel adds a factory under name, replacing any previous one.
func RegisterChannel(name string, factory ChannelFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

func GetChannelFactory(name string) (ChannelFactory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[name]
	return f, ok
}
