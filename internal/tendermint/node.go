// Package tendermint runs the notary ABCI application behind a socket
// server and talks to a Tendermint node over its RPC interface.
//
// notaryd listens on a socket (unix:// or tcp://) and a separately running
// Tendermint node connects to it as its proxy app. Clients submit signed
// transactions and queries to the node's RPC endpoint.
package tendermint

import (
	"fmt"
	"os"
	"strings"

	abciserver "github.com/tendermint/tendermint/abci/server"
	abci "github.com/tendermint/tendermint/abci/types"
	"github.com/tendermint/tendermint/libs/service"
)

// Config holds configuration for the ABCI server and Tendermint connection.
type Config struct {
	// TendermintHome is the directory for Tendermint data and config
	TendermintHome string

	// SocketAddress is the socket address (e.g., "unix://notary.sock")
	SocketAddress string
}

// ABCIServer wraps an ABCI socket server.
type ABCIServer struct {
	server  service.Service
	abciApp abci.Application
	config  *Config
	socket  string
}

// NewABCIServer creates a socket server for app. The server is created but
// not started.
func NewABCIServer(app abci.Application, config *Config) (*ABCIServer, error) {
	if app == nil {
		return nil, fmt.Errorf("ABCI application cannot be nil")
	}
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if config.SocketAddress == "" {
		return nil, fmt.Errorf("socket address cannot be empty")
	}

	return &ABCIServer{
		server:  abciserver.NewSocketServer(config.SocketAddress, app),
		abciApp: app,
		config:  config,
		socket:  config.SocketAddress,
	}, nil
}

// Start begins listening for Tendermint connections.
func (s *ABCIServer) Start() error {
	if err := s.server.Start(); err != nil {
		return fmt.Errorf("failed to start ABCI server: %w", err)
	}
	return nil
}

// Stop shuts down the server and removes a unix socket file.
func (s *ABCIServer) Stop() error {
	if s.server.IsRunning() {
		if err := s.server.Stop(); err != nil {
			return fmt.Errorf("failed to stop ABCI server: %w", err)
		}
	}

	if path, ok := strings.CutPrefix(s.socket, "unix://"); ok {
		if _, err := os.Stat(path); err == nil {
			os.Remove(path)
		}
	}
	return nil
}

// IsRunning returns true if the ABCI server is currently running.
func (s *ABCIServer) IsRunning() bool {
	return s.server.IsRunning()
}

// SocketPath returns the socket address the server is listening on.
func (s *ABCIServer) SocketPath() string {
	return s.socket
}
