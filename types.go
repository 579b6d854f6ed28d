package main

import (
	"sync"

	"go.uber.org/zap"

	"lanchat/internal/config"
	"lanchat/internal/discovery"
	"lanchat/internal/identity"
	"lanchat/internal/pipeline"
	"lanchat/internal/session"
	"lanchat/internal/transport"
)

// Node wires discovery, transport, encryption and the session together and
// runs the event loop that feeds the session from a single goroutine.
type Node struct {
	cfg *config.Config
	log *zap.Logger
	id  identity.Provider

	discovery *discovery.Service
	transport *transport.Transport
	pipeline  *pipeline.Pipeline
	session   *session.Machine

	CLIInput   chan string
	Notices    chan string
	PeerJoined chan discovery.PeerRecord
	Shutdown   chan struct{}

	stopOnce sync.Once
	done     chan struct{}
}
