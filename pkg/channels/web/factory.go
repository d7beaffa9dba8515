package web

import (
	"fmt"

	"lexy/pkg/api"
	"lexy/pkg/channels"

	jsoniter "github.com/json-iterator/go"
)

func create(rawConfig jsoniter.RawMessage, deps channels.Deps) (api.Channel, error) {
	cfg := WebConfig{Port: 8080}
	if len(rawConfig) > 0 {
		if err := json.Unmarshal(rawConfig, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse web config: %w", err)
		}
	}
	return NewWebChannel(cfg, deps.Sessions), nil
}

func init() {
	channels.RegisterChannel("web", channels.FactoryFunc(create))
}
