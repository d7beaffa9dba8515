package httpapi

import (
	"fmt"

	"lexy/pkg/api"
	"lexy/pkg/channels"

	jsoniter "github.com/json-iterator/go"
)

func create(rawConfig jsoniter.RawMessage, _ channels.Deps) (api.Channel, error) {
	var cfg HTTPConfig
	if len(rawConfig) > 0 {
		if err := json.Unmarshal(rawConfig, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse http config: %w", err)
		}
	}
	return NewHTTPChannel(cfg), nil
}

func init() {
	channels.RegisterChannel("http", channels.FactoryFunc(create))
}
