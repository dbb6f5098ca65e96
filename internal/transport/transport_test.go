package transport

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zde37/chordfs/internal/chord"
	"github.com/zde37/chordfs/internal/config"
	"github.com/zde37/chordfs/pkg"
)

// testPeer is a node served over real loopback gRPC.
type testPeer struct {
	cfg    *config.Config
	node   *chord.ChordNode
	server *GRPCServer
	client *GRPCClient
}

func (p *testPeer) addr() string {
	return p.node.Address().Address()
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func testConfig(t *testing.T, id string, bits int) *config.Config {
	cfg := config.DefaultConfig()
	cfg.NodeID = id
	cfg.M = bits
	cfg.Port = freePort(t)
	cfg.StoreBackend = config.StoreMemory
	cfg.RPCTimeout = time.Second
	cfg.MaxLookupHops = 16
	return cfg
}

// startPeer creates a node with identifier id and serves it. mutate may adjust
// the configuration first.
func startPeer(t *testing.T, id string, bits int, mutate func(*config.Config)) *testPeer {
	t.Helper()

	cfg := testConfig(t, id, bits)
	if mutate != nil {
		mutate(cfg)
	}

	logger := pkg.NewNop()
	client, err := NewGRPCClient(cfg, logger)
	require.NoError(t, err)

	node, err := chord.NewChordNode(cfg, logger, chord.WithRemote(client))
	require.NoError(t, err)

	server, err := NewGRPCServer(node, cfg, logger)
	require.NoError(t, err)
	require.NoError(t, server.Start())

	t.Cleanup(func() {
		_ = server.Stop()
		_ = client.Close()
		_ = node.Shutdown()
	})
	return &testPeer{cfg: cfg, node: node, server: server, client: client}
}
