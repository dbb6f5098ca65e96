package chord

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/zde37/chordfs/internal/config"
	"github.com/zde37/chordfs/pkg"
	"github.com/zde37/chordfs/pkg/hash"
)

// ChordNode represents a node in the Chord DHT ring.
type ChordNode struct {
	// Node identity
	id      *big.Int
	address *NodeAddress
	space   *hash.Space

	// Configuration
	config *config.Config

	// Storage
	storage *ChordStorage

	// Logger
	logger *pkg.Logger

	// Drives the stabilization ticker
	clock clock.Clock

	// Remote client for RPC calls to other nodes
	remote   RemoteClient
	remoteMu sync.RWMutex

	broadcaster RingUpdateBroadcaster
	broadcastMu sync.RWMutex

	// Ring state. mu guards predecessor, successor, fingers and fixCursor;
	// remote calls are never made while it is held.
	mu          sync.RWMutex
	predecessor *NodeAddress
	successor   *NodeAddress
	// fingers[i] is the node believed to succeed (id + 2^i), nil when unknown
	fingers   []*NodeAddress
	fixCursor int

	// Lifecycle management
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stateMu  sync.Mutex
	started  bool
	shutdown bool
}

// Option customizes a ChordNode.
type Option func(*ChordNode)

// WithStorage replaces the default in-memory store.
func WithStorage(s pkg.Storage) Option {
	return func(n *ChordNode) {
		if s != nil {
			n.storage = NewChordStorage(s)
		}
	}
}

// WithClock replaces the wall clock, tests pass a clock.Mock.
func WithClock(c clock.Clock) Option {
	return func(n *ChordNode) {
		if c != nil {
			n.clock = c
		}
	}
}

// WithRemote sets the client used to reach other nodes.
func WithRemote(rc RemoteClient) Option {
	return func(n *ChordNode) {
		n.remote = rc
	}
}

// WithBroadcaster sets the ring event observer.
func WithBroadcaster(b RingUpdateBroadcaster) Option {
	return func(n *ChordNode) {
		n.broadcaster = b
	}
}

// NewChordNode creates an isolated Chord node: it is its own successor, has no
// predecessor and an empty finger table.
func NewChordNode(cfg *config.Config, logger *pkg.Logger, opts ...Option) (*ChordNode, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	// Validate config
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	nodeID, err := cfg.Identifier()
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	address := NewNodeAddress(nodeID, cfg.Host, cfg.Port)

	// Create context for lifecycle management
	ctx, cancel := context.WithCancel(context.Background())

	node := &ChordNode{
		id:        nodeID,
		address:   address,
		space:     cfg.Space(),
		config:    cfg,
		logger:    logger.WithFields(pkg.Fields{"component": "chord_node", "node_id": nodeID.String()}),
		clock:     clock.New(),
		successor: address.Copy(),
		fingers:   make([]*NodeAddress, cfg.M),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(node)
	}
	if node.storage == nil {
		node.storage = NewDefaultChordStorage()
	}

	node.logger.Info().
		Str("address", address.Address()).
		Int("bits", cfg.M).
		Msg("ChordNode created")

	return node, nil
}

// ID returns the node's identifier.
func (n *ChordNode) ID() *big.Int {
	return new(big.Int).Set(n.id)
}

// Address returns the node's network address.
func (n *ChordNode) Address() *NodeAddress {
	return n.address.Copy()
}

// Space returns the node's identifier space.
func (n *ChordNode) Space() *hash.Space {
	return n.space
}

// Logger returns the node's logger.
func (n *ChordNode) Logger() *pkg.Logger {
	return n.logger
}

// SetRemote sets the remote client for making RPC calls to other nodes.
func (n *ChordNode) SetRemote(remote RemoteClient) {
	n.remoteMu.Lock()
	n.remote = remote
	n.remoteMu.Unlock()
}

func (n *ChordNode) remoteClient() RemoteClient {
	n.remoteMu.RLock()
	defer n.remoteMu.RUnlock()
	return n.remote
}

// Successor returns the current successor. It is never nil.
func (n *ChordNode) Successor() *NodeAddress {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.successor.Copy()
}

// GetPredecessor returns the current predecessor, nil when unknown.
func (n *ChordNode) GetPredecessor() *NodeAddress {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.predecessor.Copy()
}

// Finger returns finger entry i, nil when it is unknown or out of range.
func (n *ChordNode) Finger(i int) *NodeAddress {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if i < 0 || i >= len(n.fingers) {
		return nil
	}
	return n.fingers[i].Copy()
}

func (n *ChordNode) isSelf(addr *NodeAddress) bool {
	return addr.Equals(n.address)
}

// setSuccessor replaces the successor. A successor other than self is also
// finger 0.
func (n *ChordNode) setSuccessor(addr *NodeAddress) {
	n.mu.Lock()
	old := n.swapSuccessorLocked(addr)
	n.mu.Unlock()
	n.successorChanged(old, addr)
}

// replaceSuccessor swaps the successor only if it is still expected, so a
// concurrent update is not overwritten with stale information.
func (n *ChordNode) replaceSuccessor(expected, addr *NodeAddress) bool {
	n.mu.Lock()
	if !n.successor.Equals(expected) {
		n.mu.Unlock()
		return false
	}
	old := n.swapSuccessorLocked(addr)
	n.mu.Unlock()

	n.successorChanged(old, addr)
	return true
}

// swapSuccessorLocked must be called with n.mu held.
func (n *ChordNode) swapSuccessorLocked(addr *NodeAddress) *NodeAddress {
	old := n.successor
	n.successor = addr.Copy()
	if !n.isSelf(addr) {
		n.fingers[0] = addr.Copy()
	}
	return old
}

func (n *ChordNode) successorChanged(old, addr *NodeAddress) {
	if old.Equals(addr) {
		return
	}
	n.logger.Info().
		Str("old", old.String()).
		Str("new", addr.String()).
		Msg("Successor updated")
	n.broadcast(EventSuccessorChanged, addr, nil, fmt.Sprintf("successor is now %s", addr))
}

// clearFingersFor forgets every finger pointing at addr.
func (n *ChordNode) clearFingersFor(addr *NodeAddress) int {
	n.mu.Lock()
	defer n.mu.Unlock()

	cleared := 0
	for i, f := range n.fingers {
		if f != nil && f.Equals(addr) {
			n.fingers[i] = nil
			cleared++
		}
	}
	return cleared
}

// NodeState is a point-in-time snapshot of a node's routing state.
type NodeState struct {
	Self        *NodeAddress   `json:"self"`
	Predecessor *NodeAddress   `json:"predecessor"`
	Successor   *NodeAddress   `json:"successor"`
	Bits        int            `json:"bits"`
	Fingers     []*FingerEntry `json:"fingers"`
	FixCursor   int            `json:"fix_cursor"`
	KeyCount    int            `json:"key_count"`
}

// State returns a snapshot of the node's routing state.
func (n *ChordNode) State(ctx context.Context) NodeState {
	n.mu.RLock()
	state := NodeState{
		Self:        n.address.Copy(),
		Predecessor: n.predecessor.Copy(),
		Successor:   n.successor.Copy(),
		Bits:        n.space.Bits(),
		Fingers:     make([]*FingerEntry, len(n.fingers)),
		FixCursor:   n.fixCursor,
	}
	for i, f := range n.fingers {
		state.Fingers[i] = NewFingerEntry(n.space.AddPowerOfTwo(n.id, i), f)
	}
	n.mu.RUnlock()

	if count, err := n.storage.Count(ctx); err == nil {
		state.KeyCount = count
	}
	return state
}

// IsAlive answers liveness probes. Reaching the node at all is the answer.
func (n *ChordNode) IsAlive() bool {
	return !n.IsShutdown()
}

// validKey rejects identifiers outside the ring.
func (n *ChordNode) validKey(key *big.Int) error {
	if key == nil {
		return fmt.Errorf("%w: key cannot be nil", ErrInvalidArgument)
	}
	if !n.space.Contains(key) {
		return fmt.Errorf("%w: key %s outside the %d-bit ring", ErrInvalidArgument, key, n.space.Bits())
	}
	return nil
}

// Put stores data under key in this node's local store.
func (n *ChordNode) Put(ctx context.Context, key *big.Int, data []byte) error {
	if err := n.validKey(key); err != nil {
		return err
	}
	if err := n.storage.Put(ctx, key, data); err != nil {
		return fmt.Errorf("local storage put failed: %w", err)
	}

	n.logger.Debug().
		Str("key", key.String()).
		Int("value_size", len(data)).
		Msg("Stored key locally")
	return nil
}

// Get reads key from this node's local store.
func (n *ChordNode) Get(ctx context.Context, key *big.Int) ([]byte, error) {
	if err := n.validKey(key); err != nil {
		return nil, err
	}
	data, err := n.storage.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("local storage get failed: %w", err)
	}
	return data, nil
}

// Delete removes key from this node's local store.
func (n *ChordNode) Delete(ctx context.Context, key *big.Int) error {
	if err := n.validKey(key); err != nil {
		return err
	}
	if err := n.storage.Delete(ctx, key); err != nil {
		return fmt.Errorf("local storage delete failed: %w", err)
	}

	n.logger.Debug().
		Str("key", key.String()).
		Msg("Deleted key locally")
	return nil
}

// LocalKeys lists the identifiers held in this node's store.
func (n *ChordNode) LocalKeys(ctx context.Context) ([]*big.Int, error) {
	return n.storage.Keys(ctx)
}

// Start launches the stabilization loop.
func (n *ChordNode) Start() error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	if n.shutdown {
		return fmt.Errorf("node is shut down")
	}
	if n.started {
		return fmt.Errorf("node already started")
	}
	n.started = true

	n.wg.Add(1)
	go n.stabilizeLoop()

	n.logger.Debug().
		Dur("interval", n.config.StabilizeInterval).
		Msg("Stabilization loop started")
	return nil
}

// Shutdown stops the stabilization loop and closes storage. It does not hand
// keys over, call Leave first for that.
func (n *ChordNode) Shutdown() error {
	n.stateMu.Lock()
	if n.shutdown {
		n.stateMu.Unlock()
		return nil // Already shutdown
	}
	n.shutdown = true
	n.stateMu.Unlock()

	n.logger.Info().Msg("Shutting down ChordNode")

	// Cancel context to stop background tasks
	n.cancel()

	// Wait for background tasks to finish
	n.wg.Wait()

	// Close storage
	if err := n.storage.Close(); err != nil {
		n.logger.Error().Err(err).Msg("Failed to close storage")
		return fmt.Errorf("failed to close storage: %w", err)
	}

	n.logger.Info().Msg("ChordNode shutdown complete")
	return nil
}

// IsShutdown returns whether the node has been shutdown.
func (n *ChordNode) IsShutdown() bool {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.shutdown
}
