package gateway

import (
	"fmt"

	"lexy/pkg/api"
	"lexy/pkg/config"
	"lexy/pkg/monitor"
)

// GatewayBuilder assembles a GatewayManager from pre-built parts and starts it.
type GatewayBuilder struct {
	gw             *GatewayManager
	monitor        monitor.Monitor
	systemConfig   *config.SystemConfig
	handlerBuilder func(api.MessageResponder) api.MessageProcessor
	channels       []api.Channel
}

func NewGatewayBuilder() *GatewayBuilder {
	return &GatewayBuilder{gw: NewGatewayManager()}
}

func (b *GatewayBuilder) WithMonitor(m monitor.Monitor) *GatewayBuilder {
	b.monitor = m
	return b
}

func (b *GatewayBuilder) WithSystemConfig(cfg *config.SystemConfig) *GatewayBuilder {
	b.systemConfig = cfg
	return b
}

func (b *GatewayBuilder) WithChannel(channels ...api.Channel) *GatewayBuilder {
	b.channels = append(b.channels, channels...)
	return b
}

// WithHandler installs h. ResponderAware handlers get the gateway injected.
func (b *GatewayBuilder) WithHandler(h api.MessageProcessor) *GatewayBuilder {
	b.handlerBuilder = func(responder api.MessageResponder) api.MessageProcessor {
		if setter, ok := h.(api.ResponderAware); ok {
			setter.SetResponder(responder)
		}
		return h
	}
	return b
}

// Build wires everything and starts the monitor, then the channels.
func (b *GatewayBuilder) Build() (*GatewayManager, error) {
	if b.systemConfig != nil {
		b.gw.WithSystemConfig(b.systemConfig)
	}

	if b.monitor != nil {
		b.gw.SetMonitor(b.monitor)
		if err := b.monitor.Start(); err != nil {
			return nil, fmt.Errorf("failed to start monitor: %w", err)
		}
	}

	for _, c := range b.channels {
		b.gw.Register(c)
	}

	if b.handlerBuilder != nil {
		if handler := b.handlerBuilder(b.gw); handler != nil {
			b.gw.SetMessageHandler(handler.OnMessage)
		}
	}

	if err := b.gw.StartAll(); err != nil {
		return nil, fmt.Errorf("failed to start channels: %w", err)
	}
	return b.gw, nil
}
