package chord

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStabilize_TwoNodeRing(t *testing.T) {
	net := newFakeNetwork()
	a := newTestNode(t, net, 0, 2)
	b := newTestNode(t, net, 2, 2)

	require.NoError(t, a.JoinRing(context.Background(), b.Address().Address()))
	runRounds(net, []*ChordNode{a, b}, 3)

	assert.True(t, a.Successor().Equals(b.Address()), "A.successor")
	assert.True(t, b.GetPredecessor().Equals(a.Address()), "B.predecessor")
	assert.True(t, b.Successor().Equals(a.Address()), "B.successor")
	assert.True(t, a.GetPredecessor().Equals(b.Address()), "A.predecessor")
}

func TestStabilize_AdoptsNodeInBetween(t *testing.T) {
	ctx := context.Background()
	net := newFakeNetwork()
	a := newTestNode(t, net, 10, 6)
	c := newTestNode(t, net, 40, 6)
	b := newTestNode(t, net, 25, 6)

	a.setSuccessor(c.Address())
	// c already knows b as its predecessor, a has not heard of b yet
	require.NoError(t, c.Notify(ctx, b.Address(), false))

	require.NoError(t, a.stabilize(ctx))
	assert.True(t, a.Successor().Equals(b.Address()))
	assert.True(t, b.GetPredecessor().Equals(a.Address()), "a notified its new successor")
}

func TestStabilize_StalePredecessorKeepsSuccessor(t *testing.T) {
	ctx := context.Background()
	net := newFakeNetwork()
	a := newTestNode(t, net, 10, 6)
	c := newTestNode(t, net, 40, 6)
	ghost := newTestNode(t, net, 25, 6)

	a.setSuccessor(c.Address())
	require.NoError(t, c.Notify(ctx, ghost.Address(), false))
	net.setDown(ghost, true)

	assert.Error(t, a.stabilize(ctx))
	assert.True(t, a.Successor().Equals(c.Address()))
	assert.True(t, a.Finger(0).Equals(c.Address()))
}

func TestFindNextSuccessor(t *testing.T) {
	ctx := context.Background()
	net := newFakeNetwork()
	a := newTestNode(t, net, 10, 6)
	dead1 := newTestNode(t, net, 20, 6)
	dead2 := newTestNode(t, net, 30, 6)
	live := newTestNode(t, net, 45, 6)
	net.setDown(dead1, true)
	net.setDown(dead2, true)

	a.setSuccessor(dead1.Address())
	a.mu.Lock()
	a.fingers[1] = dead1.Address()
	a.fingers[2] = dead2.Address()
	a.fingers[3] = dead2.Address()
	a.fingers[5] = live.Address()
	a.mu.Unlock()

	a.findNextSuccessor(ctx, dead1.Address())

	assert.True(t, a.Successor().Equals(live.Address()))
	for i := 0; i < 5; i++ {
		if i == 0 {
			assert.True(t, a.Finger(0).Equals(live.Address()), "finger 0 follows the successor")
			continue
		}
		assert.Nil(t, a.Finger(i), "finger %d", i)
	}
	assert.True(t, a.Finger(5).Equals(live.Address()))
}

func TestFindNextSuccessor_NoLiveFinger(t *testing.T) {
	ctx := context.Background()
	net := newFakeNetwork()
	a := newTestNode(t, net, 10, 6)
	dead := newTestNode(t, net, 20, 6)
	net.setDown(dead, true)

	a.setSuccessor(dead.Address())
	a.findNextSuccessor(ctx, dead.Address())

	assert.True(t, a.Successor().Equals(a.Address()))
	assert.Nil(t, a.Finger(0))
}

func TestFixFingers(t *testing.T) {
	ctx := context.Background()

	t.Run("singleton clears and keeps cursor", func(t *testing.T) {
		node := newTestNode(t, newFakeNetwork(), 1, 3)

		for i := 0; i < 5; i++ {
			require.NoError(t, node.fixFingers(ctx))
		}
		assert.Nil(t, node.Finger(0))
		assert.Equal(t, 0, node.State(ctx).FixCursor)
	})

	t.Run("two node ring fills every entry", func(t *testing.T) {
		net := newFakeNetwork()
		a := newTestNode(t, net, 0, 2)
		b := newTestNode(t, net, 2, 2)
		require.NoError(t, a.JoinRing(ctx, b.Address().Address()))
		runRounds(net, []*ChordNode{a, b}, 4)

		assert.True(t, a.Finger(0).Equals(b.Address()))
		assert.True(t, a.Finger(1).Equals(b.Address()))
		assert.True(t, b.Finger(0).Equals(a.Address()))
		assert.True(t, b.Finger(1).Equals(a.Address()))
	})

	t.Run("self owned target clears the slot and retries it", func(t *testing.T) {
		net := newFakeNetwork()
		a := newTestNode(t, net, 0, 2)
		b := newTestNode(t, net, 1, 2)
		require.NoError(t, b.JoinRing(ctx, a.Address().Address()))
		runRounds(net, []*ChordNode{a, b}, 3)

		a.mu.Lock()
		a.fixCursor = 1
		a.fingers[1] = b.Address()
		a.mu.Unlock()

		// target 0+2 = 2 is owned by a itself
		require.NoError(t, a.fixFingers(ctx))
		assert.Nil(t, a.Finger(1))
		assert.Equal(t, 1, a.State(ctx).FixCursor)
	})

	t.Run("routing failure clears the slot", func(t *testing.T) {
		net := newFakeNetwork()
		a := newTestNode(t, net, 10, 6)
		dead := newTestNode(t, net, 30, 6)
		net.setDown(dead, true)

		a.setSuccessor(dead.Address())
		a.mu.Lock()
		a.fixCursor = 5 // target 10 + 32 = 42, past the dead successor
		a.fingers[5] = dead.Address()
		a.mu.Unlock()

		assert.ErrorIs(t, a.fixFingers(ctx), ErrRoutingFailure)
		assert.Nil(t, a.Finger(5))
		assert.Equal(t, 0, a.State(ctx).FixCursor)
	})
}

func TestCheckPredecessor(t *testing.T) {
	ctx := context.Background()
	net := newFakeNetwork()
	rec := &eventRecorder{}
	a := newTestNode(t, net, 10, 6, WithBroadcaster(rec))
	b := newTestNode(t, net, 20, 6)

	require.NoError(t, a.Notify(ctx, b.Address(), false))
	a.checkPredecessor(ctx)
	assert.True(t, a.GetPredecessor().Equals(b.Address()), "live predecessor is kept")

	net.setDown(b, true)
	a.checkPredecessor(ctx)
	assert.Nil(t, a.GetPredecessor())
	assert.Contains(t, rec.types(), EventPredecessorFailed)
	assert.Contains(t, rec.types(), EventRingAlone)
}

func TestStabilize_FailureDetection(t *testing.T) {
	net := newFakeNetwork()
	nodes := buildRing(t, net, 6, 10, 20, 30, 40)
	z := nodes[2]
	before, after := nodes[1], nodes[3]

	net.setDown(z, true)
	live := []*ChordNode{nodes[0], nodes[1], nodes[3]}
	runRounds(net, live, 1)

	assert.True(t, before.Successor().Equals(after.Address()), "predecessor of the failed node skips it")
	assert.False(t, after.GetPredecessor().Equals(z.Address()), "successor of the failed node forgets it")

	runRounds(net, live, 30)
	for _, n := range live {
		pred, succ := ringNeighbours(n, live)
		assert.True(t, n.Successor().Equals(succ.Address()), "node %s successor", n.ID())
		assert.True(t, n.GetPredecessor().Equals(pred.Address()), "node %s predecessor", n.ID())
	}

	ctx := context.Background()
	for k := int64(0); k < 64; k++ {
		key := big.NewInt(k)
		owner, err := nodes[0].Lookup(ctx, key)
		require.NoError(t, err, "key %d", k)
		assert.True(t, owner.Equals(expectedOwner(key, live).Address()), "key %d", k)
	}
}
