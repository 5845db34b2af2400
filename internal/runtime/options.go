package runtime

import (
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/tjfontaine/interactions-gateway/internal/config"
	"github.com/tjfontaine/interactions-gateway/internal/storage"
)

// Option is a functional option for configuring a Gateway.
type Option func(*Gateway) error

// WithConfig uses an already loaded configuration.
func WithConfig(cfg *config.Config) Option {
	return func(g *Gateway) error {
		if cfg == nil {
			return errors.New("config cannot be nil")
		}
		g.cfg = cfg
		return nil
	}
}

// WithConfigFile loads configuration from path plus GATEWAY_ environment
// overrides. An empty path reads config.yaml if present.
func WithConfigFile(path string) Option {
	return func(g *Gateway) error {
		cfg, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		g.cfg = cfg
		return nil
	}
}

// WithLogger sets the logger for the gateway.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		g.logger = logger
		return nil
	}
}

// WithDeliveryStore replaces the store selected by storage.type. The caller
// keeps ownership and closes it.
func WithDeliveryStore(store storage.DeliveryStore) Option {
	return func(g *Gateway) error {
		g.store = store
		g.ownsStore = false
		return nil
	}
}

// WithDiscordClient replaces the Discord REST client, mainly for tests.
func WithDiscordClient(api DiscordAPI) Option {
	return func(g *Gateway) error {
		if api == nil {
			return errors.New("discord client cannot be nil")
		}
		g.discord = api
		return nil
	}
}

// WithListener serves on ln instead of listening on server.host:server.port.
func WithListener(ln net.Listener) Option {
	return func(g *Gateway) error {
		g.listener = ln
		return nil
	}
}
