package chord

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zde37/chordfs/internal/config"
	"github.com/zde37/chordfs/pkg"
)

// fakeNetwork is an in-process RemoteClient that dispatches calls straight to
// the target node. Nodes can be taken down to simulate failures.
type fakeNetwork struct {
	mu    sync.RWMutex
	nodes map[string]*ChordNode
	down  map[string]bool
}

var _ RemoteClient = (*fakeNetwork)(nil)

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{
		nodes: make(map[string]*ChordNode),
		down:  make(map[string]bool),
	}
}

func (f *fakeNetwork) add(n *ChordNode) {
	f.alias(n.Address().Address(), n)
}

// alias routes address to n, whatever n's real address is.
func (f *fakeNetwork) alias(address string, n *ChordNode) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nodes[address] = n
}

func (f *fakeNetwork) setDown(n *ChordNode, down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down[n.Address().Address()] = down
}

func (f *fakeNetwork) isDown(n *ChordNode) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.down[n.Address().Address()]
}

func (f *fakeNetwork) node(address string) (*ChordNode, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	n, ok := f.nodes[address]
	if !ok || f.down[address] {
		return nil, fmt.Errorf("%w: %s", ErrUnreachable, address)
	}
	return n, nil
}

func (f *fakeNetwork) GetPredecessor(ctx context.Context, address string) (*NodeAddress, error) {
	n, err := f.node(address)
	if err != nil {
		return nil, err
	}
	return n.GetPredecessor(), nil
}

func (f *fakeNetwork) LocateSuccessor(ctx context.Context, address string, key *big.Int, hops int) (*NodeAddress, error) {
	n, err := f.node(address)
	if err != nil {
		return nil, err
	}
	return n.LocateSuccessor(ctx, key, hops)
}

func (f *fakeNetwork) ClosestPrecedingNode(ctx context.Context, address string, key *big.Int) (*NodeAddress, error) {
	n, err := f.node(address)
	if err != nil {
		return nil, err
	}
	return n.ClosestPrecedingNode(key)
}

func (f *fakeNetwork) JoinRing(ctx context.Context, address string, bootstrap string) error {
	n, err := f.node(address)
	if err != nil {
		return err
	}
	return n.JoinRing(ctx, bootstrap)
}

func (f *fakeNetwork) Notify(ctx context.Context, address string, candidate *NodeAddress, departing bool) error {
	n, err := f.node(address)
	if err != nil {
		return err
	}
	return n.Notify(ctx, candidate, departing)
}

func (f *fakeNetwork) IsAlive(ctx context.Context, address string) (bool, error) {
	n, err := f.node(address)
	if err != nil {
		return false, err
	}
	return n.IsAlive(), nil
}

func (f *fakeNetwork) GetID(ctx context.Context, address string) (*big.Int, error) {
	n, err := f.node(address)
	if err != nil {
		return nil, err
	}
	return n.ID(), nil
}

func (f *fakeNetwork) Put(ctx context.Context, address string, key *big.Int, data []byte) error {
	n, err := f.node(address)
	if err != nil {
		return err
	}
	return n.Put(ctx, key, data)
}

func (f *fakeNetwork) Get(ctx context.Context, address string, key *big.Int) ([]byte, error) {
	n, err := f.node(address)
	if err != nil {
		return nil, err
	}
	return n.Get(ctx, key)
}

func (f *fakeNetwork) Delete(ctx context.Context, address string, key *big.Int) error {
	n, err := f.node(address)
	if err != nil {
		return err
	}
	return n.Delete(ctx, key)
}

// eventRecorder collects broadcast ring events.
type eventRecorder struct {
	mu     sync.Mutex
	events []RingUpdateEvent
}

func (r *eventRecorder) BroadcastRingUpdate(update any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := update.(RingUpdateEvent); ok {
		r.events = append(r.events, e)
	}
	return nil
}

func (r *eventRecorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func testConfig(id int64, bits int) *config.Config {
	cfg := config.DefaultConfig()
	cfg.M = bits
	cfg.NodeID = fmt.Sprintf("%d", id)
	cfg.Port = 20000 + int(id)
	cfg.StoreBackend = config.StoreMemory
	cfg.MaxLookupHops = 16
	return cfg
}

// newTestNode creates a node with identifier id in a bits-wide ring and
// attaches it to net.
func newTestNode(t *testing.T, net *fakeNetwork, id int64, bits int, opts ...Option) *ChordNode {
	t.Helper()

	opts = append([]Option{WithRemote(net)}, opts...)
	node, err := NewChordNode(testConfig(id, bits), pkg.NewNop(), opts...)
	require.NoError(t, err)
	require.NotNil(t, node)

	net.add(node)
	t.Cleanup(func() { _ = node.Shutdown() })
	return node
}

// buildRing starts the first id alone and joins the others through it, running
// a few stabilization rounds after each join and settle rounds at the end.
func buildRing(t *testing.T, net *fakeNetwork, bits int, ids ...int64) []*ChordNode {
	t.Helper()

	nodes := make([]*ChordNode, 0, len(ids))
	for i, id := range ids {
		n := newTestNode(t, net, id, bits)
		if i > 0 {
			require.NoError(t, n.JoinRing(context.Background(), nodes[0].Address().Address()))
		}
		nodes = append(nodes, n)
		runRounds(net, nodes, 3)
	}
	runRounds(net, nodes, 4*bits+10)
	return nodes
}

// runRounds ticks every live node once per round, in order.
func runRounds(net *fakeNetwork, nodes []*ChordNode, rounds int) {
	ctx := context.Background()
	for r := 0; r < rounds; r++ {
		for _, n := range nodes {
			if !net.isDown(n) {
				n.tick(ctx)
			}
		}
	}
}

// expectedOwner is the live node with the smallest id >= key, circularly.
func expectedOwner(key *big.Int, nodes []*ChordNode) *ChordNode {
	sorted := append([]*ChordNode(nil), nodes...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID().Cmp(sorted[j].ID()) < 0 })
	for _, n := range sorted {
		if n.ID().Cmp(key) >= 0 {
			return n
		}
	}
	return sorted[0]
}

// ringNeighbours returns the live predecessor and successor of n by id.
func ringNeighbours(n *ChordNode, nodes []*ChordNode) (pred, succ *ChordNode) {
	sorted := append([]*ChordNode(nil), nodes...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID().Cmp(sorted[j].ID()) < 0 })
	for i, m := range sorted {
		if m == n {
			return sorted[(i-1+len(sorted))%len(sorted)], sorted[(i+1)%len(sorted)]
		}
	}
	return nil, nil
}
