package config

import (
	"fmt"
	"math/big"
	"net"
	"path/filepath"
	"strconv"
	"time"

	"github.com/zde37/chordfs/pkg/hash"
)

// Storage backends
const (
	StoreFile   = "file"
	StoreMemory = "memory"
)

// Config holds all configuration for a Chord node
type Config struct {
	// Node identification. NodeID, when set, is a decimal identifier that
	// overrides the hash of Host:Port.
	NodeID string
	Host   string
	Port   int

	// HTTP API, 0 disables it
	HTTPPort int

	// Shared secret peers present in x-auth-token, empty disables auth
	AuthToken string

	// Bootstrap peer to join on startup (host:port), empty starts a new ring
	BootstrapAddress string

	// Chord parameters
	M                 int           // Identifier space size in bits (160)
	StabilizeInterval time.Duration // How often to run stabilize, fix fingers and check predecessor
	RPCTimeout        time.Duration // Timeout for RPC calls
	MaxLookupHops     int           // Delegations before a lookup gives up

	// Transport
	ConnPoolSize   int // Open peer connections kept by the client
	MaxMessageSize int // Largest gRPC message in bytes

	// Storage
	DataDir      string
	StoreBackend string // file, memory

	// Logging
	LogLevel  string // trace, debug, info, warn, error
	LogFormat string // json, console
	LogFile   string // rotated log file, empty logs to stderr only

	// OTLP/HTTP collector URL for spans, empty disables tracing
	TraceEndpoint string
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		Host:              "127.0.0.1",
		Port:              8440,
		HTTPPort:          0,
		M:                 hash.DefaultBits, // 2^160 address space
		StabilizeInterval: 500 * time.Millisecond,
		RPCTimeout:        2 * time.Second,
		MaxLookupHops:     64,
		ConnPoolSize:      64,
		MaxMessageSize:    16 << 20,
		DataDir:           "data",
		StoreBackend:      StoreFile,
		LogLevel:          "info",
		LogFormat:         "console",
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.M <= 0 || c.M > hash.MaxBits {
		return fmt.Errorf("M must be between 1 and %d, got %d", hash.MaxBits, c.M)
	}
	if c.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.HTTPPort < 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.HTTPPort != 0 && c.HTTPPort == c.Port {
		return fmt.Errorf("HTTP port must differ from the node port %d", c.Port)
	}
	if c.StabilizeInterval <= 0 {
		return fmt.Errorf("stabilize interval must be positive, got %s", c.StabilizeInterval)
	}
	if c.RPCTimeout <= 0 {
		return fmt.Errorf("RPC timeout must be positive, got %s", c.RPCTimeout)
	}
	if c.MaxLookupHops <= 0 {
		return fmt.Errorf("max lookup hops must be positive, got %d", c.MaxLookupHops)
	}
	if c.ConnPoolSize <= 0 {
		return fmt.Errorf("connection pool size must be positive, got %d", c.ConnPoolSize)
	}
	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("max message size must be positive, got %d", c.MaxMessageSize)
	}
	switch c.StoreBackend {
	case StoreFile:
		if c.DataDir == "" {
			return fmt.Errorf("data directory is required for the file store")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown store backend %q", c.StoreBackend)
	}
	if c.NodeID != "" {
		if _, err := hash.MustSpace(c.M).Parse(c.NodeID); err != nil {
			return fmt.Errorf("invalid node ID: %w", err)
		}
	}
	if c.BootstrapAddress != "" {
		if _, _, err := net.SplitHostPort(c.BootstrapAddress); err != nil {
			return fmt.Errorf("invalid bootstrap address %q: %w", c.BootstrapAddress, err)
		}
	}
	return nil
}

// Address returns host:port of the node's gRPC endpoint.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Space returns the identifier space. Call Validate first.
func (c *Config) Space() *hash.Space {
	return hash.MustSpace(c.M)
}

// Identifier resolves this node's identifier: NodeID when set, otherwise the
// hash of Host:Port.
func (c *Config) Identifier() (*big.Int, error) {
	space, err := hash.NewSpace(c.M)
	if err != nil {
		return nil, err
	}
	if c.NodeID != "" {
		return space.Parse(c.NodeID)
	}
	return space.HashAddress(c.Host, c.Port), nil
}

// NodeDir is the node's workspace, <DataDir>/<id>. The shell reads and writes
// named files here.
func (c *Config) NodeDir(id *big.Int) string {
	return filepath.Join(c.DataDir, id.String())
}

// RepositoryDir holds the file store's blobs, one file per object identifier.
func (c *Config) RepositoryDir(id *big.Int) string {
	return filepath.Join(c.NodeDir(id), "repository")
}
