// Package gateway provides the public API for embedding the interactions
// gateway.
package gateway

import (
	"github.com/tjfontaine/interactions-gateway/internal/runtime"
)

// Gateway receives Discord interactions, acknowledges them and answers them
// from a pool of workers. See internal/runtime.Gateway for full documentation.
type Gateway = runtime.Gateway

// Option is a functional option for configuring a Gateway.
type Option = runtime.Option

// New creates a new Gateway with the given options.
// Example:
//
//	gw, err := gateway.New(
//	    gateway.WithConfigFile("config.yaml"),
//	)
var New = runtime.New

// Provision registers the command catalog with Discord without serving.
var Provision = runtime.Provision

// Configuration options
var (
	WithConfig     = runtime.WithConfig
	WithConfigFile = runtime.WithConfigFile
	WithLogger     = runtime.WithLogger

	// Advanced options
	WithDeliveryStore = runtime.WithDeliveryStore
	WithDiscordClient = runtime.WithDiscordClient
	WithListener      = runtime.WithListener
)
