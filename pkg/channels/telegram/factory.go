package telegram

import (
	"errors"
	"fmt"

	"lexy/pkg/api"
	"lexy/pkg/channels"
	"lexy/pkg/config"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func create(rawConfig jsoniter.RawMessage, deps channels.Deps) (api.Channel, error) {
	var cfg TelegramConfig
	if err := json.Unmarshal(rawConfig, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse telegram config: %w", err)
	}
	cfg.Token = config.ExpandSecret(cfg.Token)
	if cfg.Token == "" {
		return nil, errors.New("missing telegram token")
	}

	sys := deps.System
	if sys == nil {
		sys = config.DefaultSystemConfig()
	}
	return NewTelegramChannel(cfg, sys.TelegramMessageLimit, sys.DownloadTimeoutMs)
}

func init() {
	channels.RegisterChannel("telegram", channels.FactoryFunc(create))
}
