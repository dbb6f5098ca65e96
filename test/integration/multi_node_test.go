package integration

import (
	"context"
	"fmt"
	"math/big"
	"net"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zde37/chordfs/internal/chord"
	"github.com/zde37/chordfs/internal/config"
	"github.com/zde37/chordfs/internal/transport"
	"github.com/zde37/chordfs/pkg"
)

const (
	convergeWait = 10 * time.Second
	pollInterval = 50 * time.Millisecond
)

// testCluster is a set of Chord nodes talking over loopback gRPC.
type testCluster struct {
	bits    int
	members map[int64]*member
}

type member struct {
	node    *chord.ChordNode
	server  *transport.GRPCServer
	client  *transport.GRPCClient
	stopped bool
}

func newTestCluster(t *testing.T, bits int) *testCluster {
	t.Helper()

	tc := &testCluster{bits: bits, members: make(map[int64]*member)}
	t.Cleanup(func() {
		for _, m := range tc.members {
			m.stop()
		}
	})
	return tc
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

// addNode starts a node with identifier id, joins it through bootstrap when one
// is given and starts its stabilization loop.
func (tc *testCluster) addNode(t *testing.T, id int64, bootstrap *chord.ChordNode) *chord.ChordNode {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.NodeID = fmt.Sprintf("%d", id)
	cfg.M = tc.bits
	cfg.Port = freePort(t)
	cfg.StoreBackend = config.StoreMemory
	cfg.StabilizeInterval = 20 * time.Millisecond // Fast for testing
	cfg.RPCTimeout = 500 * time.Millisecond
	cfg.MaxLookupHops = 32

	logger := pkg.NewNop()
	client, err := transport.NewGRPCClient(cfg, logger)
	require.NoError(t, err)

	node, err := chord.NewChordNode(cfg, logger, chord.WithRemote(client))
	require.NoError(t, err)

	server, err := transport.NewGRPCServer(node, cfg, logger)
	require.NoError(t, err)
	require.NoError(t, server.Start())

	m := &member{node: node, server: server, client: client}
	tc.members[id] = m

	if bootstrap != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, node.JoinRing(ctx, bootstrap.Address().Address()))
	}
	require.NoError(t, node.Start())
	return node
}

func (m *member) stop() {
	if m.stopped {
		return
	}
	m.stopped = true
	_ = m.server.Stop()
	_ = m.node.Shutdown()
	_ = m.client.Close()
}

// kill takes a node down without handing its keys over.
func (tc *testCluster) kill(id int64) {
	tc.members[id].stop()
}

func (tc *testCluster) live() []int64 {
	var ids []int64
	for id, m := range tc.members {
		if !m.stopped {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// owner is the live node whose id is the smallest id >= key, circularly.
func (tc *testCluster) owner(key int64) int64 {
	ids := tc.live()
	for _, id := range ids {
		if id >= key {
			return id
		}
	}
	return ids[0]
}

// ringConverged reports whether every live node's successor and predecessor
// match the sorted membership.
func (tc *testCluster) ringConverged() bool {
	ids := tc.live()
	for i, id := range ids {
		n := tc.members[id].node
		succ := ids[(i+1)%len(ids)]
		pred := ids[(i+len(ids)-1)%len(ids)]

		if n.Successor().ID.Int64() != succ {
			return false
		}
		if p := n.GetPredecessor(); p.IsNil() || p.ID.Int64() != pred {
			return false
		}
	}
	return true
}

func (tc *testCluster) waitForRing(t *testing.T) {
	t.Helper()
	require.Eventually(t, tc.ringConverged, convergeWait, pollInterval, "ring did not converge on %v", tc.live())
}

func TestTwoNodeRing(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	tc := newTestCluster(t, 2)
	b := tc.addNode(t, 2, nil)
	a := tc.addNode(t, 0, b)

	tc.waitForRing(t)
	assert.True(t, a.Successor().Equals(b.Address()))
	assert.True(t, b.GetPredecessor().Equals(a.Address()))
	assert.True(t, b.Successor().Equals(a.Address()))
	assert.True(t, a.GetPredecessor().Equals(b.Address()))
}

func TestRoutingCorrectness(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	tc := newTestCluster(t, 8)
	first := tc.addNode(t, 10, nil)
	for _, id := range []int64{120, 60, 240, 180} {
		tc.addNode(t, id, first)
	}
	tc.waitForRing(t)

	ctx := context.Background()
	lookupsCorrect := func() bool {
		for _, id := range tc.live() {
			n := tc.members[id].node
			for k := int64(0); k < 256; k++ {
				owner, err := n.Lookup(ctx, big.NewInt(k))
				if err != nil || owner.ID.Int64() != tc.owner(k) {
					return false
				}
			}
		}
		return true
	}
	require.Eventually(t, lookupsCorrect, convergeWait, pollInterval)

	// fingers settle on the true successors of their starts
	fingersFixed := func() bool {
		for _, id := range tc.live() {
			state := tc.members[id].node.State(ctx)
			for _, f := range state.Fingers {
				if f.Node.IsNil() || f.Node.ID.Int64() != tc.owner(f.Start.Int64()) {
					return false
				}
			}
		}
		return true
	}
	assert.Eventually(t, fingersFixed, convergeWait, pollInterval)
}

func TestDHTAcrossNodes(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	tc := newTestCluster(t, 8)
	a := tc.addNode(t, 30, nil)
	b := tc.addNode(t, 130, a)
	c := tc.addNode(t, 210, a)
	tc.waitForRing(t)

	ctx := context.Background()
	for _, k := range []int64{0, 30, 31, 100, 130, 200, 255} {
		key := big.NewInt(k)
		data := []byte(fmt.Sprintf("blob-%d", k))

		owner, err := a.Write(ctx, key, data)
		require.NoError(t, err, "write %d", k)
		assert.Equal(t, tc.owner(k), owner.ID.Int64())

		got, readOwner, err := b.Read(ctx, key)
		require.NoError(t, err, "read %d", k)
		assert.Equal(t, data, got)
		assert.Equal(t, owner.ID.Int64(), readOwner.ID.Int64())

		local, err := tc.members[tc.owner(k)].node.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, data, local)

		_, err = c.Remove(ctx, key)
		require.NoError(t, err, "remove %d", k)

		_, _, err = a.Read(ctx, key)
		assert.ErrorIs(t, err, pkg.ErrKeyNotFound)
	}
}

func TestMigrationOnJoin(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	tc := newTestCluster(t, 8)
	x := tc.addNode(t, 200, nil)

	ctx := context.Background()
	keys := []int64{50, 90, 100, 150, 201}
	for _, k := range keys {
		_, err := x.Write(ctx, big.NewInt(k), []byte(fmt.Sprintf("v%d", k)))
		require.NoError(t, err)
	}

	// y takes over (200, 100]
	y := tc.addNode(t, 100, x)

	for _, k := range keys {
		key := big.NewInt(k)
		holder, other := x, y
		if k <= 100 || k > 200 {
			holder, other = y, x
		}

		data, err := holder.Get(ctx, key)
		require.NoError(t, err, "key %d on %s", k, holder.ID())
		assert.Equal(t, []byte(fmt.Sprintf("v%d", k)), data)

		_, err = other.Get(ctx, key)
		assert.ErrorIs(t, err, pkg.ErrKeyNotFound, "key %d on %s", k, other.ID())
	}
}

func TestFailureDetection(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	tc := newTestCluster(t, 8)
	a := tc.addNode(t, 10, nil)
	tc.addNode(t, 100, a)
	c := tc.addNode(t, 200, a)
	tc.waitForRing(t)

	tc.kill(100)

	tc.waitForRing(t)
	assert.True(t, a.Successor().Equals(c.Address()))
	assert.True(t, c.GetPredecessor().Equals(a.Address()))

	// stale fingers to the dead node are cleared by failed delegations and
	// refreshed by fix fingers
	assert.Eventually(t, func() bool {
		owner, err := c.Lookup(context.Background(), big.NewInt(50))
		return err == nil && owner.Equals(c.Address())
	}, convergeWait, pollInterval)
}

func TestGracefulLeave(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	tc := newTestCluster(t, 8)
	a := tc.addNode(t, 10, nil)
	b := tc.addNode(t, 100, a)
	tc.addNode(t, 200, a)
	tc.waitForRing(t)

	ctx := context.Background()
	keys := []int64{20, 60, 99, 100}
	for _, k := range keys {
		owner, err := a.Write(ctx, big.NewInt(k), []byte("payload"))
		require.NoError(t, err)
		require.Equal(t, int64(100), owner.ID.Int64())
	}

	require.NoError(t, b.Leave(ctx))
	tc.kill(100)
	tc.waitForRing(t)

	for _, k := range keys {
		data, owner, err := a.Read(ctx, big.NewInt(k))
		require.NoError(t, err, "key %d", k)
		assert.Equal(t, []byte("payload"), data)
		assert.Equal(t, int64(200), owner.ID.Int64())
	}
}
