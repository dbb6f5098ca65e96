package chord

import (
	"context"
	"math/big"
)

// RemoteClient defines the interface for making remote calls to other Chord nodes.
// This interface allows the ChordNode to make RPC calls without directly depending
// on the transport layer, avoiding circular dependencies.
//
// Implementations report transport failures as ErrUnreachable and must not block
// past their call timeout.
type RemoteClient interface {
	// GetPredecessor returns the remote node's predecessor, nil when it has none.
	GetPredecessor(ctx context.Context, address string) (*NodeAddress, error)

	// LocateSuccessor asks the remote node for the owner of key. hops counts the
	// delegations made so far.
	LocateSuccessor(ctx context.Context, address string, key *big.Int, hops int) (*NodeAddress, error)

	// ClosestPrecedingNode asks the remote node for its best finger preceding key.
	ClosestPrecedingNode(ctx context.Context, address string, key *big.Int) (*NodeAddress, error)

	// JoinRing tells the remote node to join the ring through bootstrap.
	JoinRing(ctx context.Context, address string, bootstrap string) error

	// Notify tells the remote node that candidate may be its predecessor. With
	// departing set the remote node is leaving and ships every local key to
	// candidate.
	Notify(ctx context.Context, address string, candidate *NodeAddress, departing bool) error

	// IsAlive probes the remote node.
	IsAlive(ctx context.Context, address string) (bool, error)

	// GetID returns the remote node's identifier.
	GetID(ctx context.Context, address string) (*big.Int, error)

	// Put stores data under key in the remote node's local store.
	Put(ctx context.Context, address string, key *big.Int, data []byte) error

	// Get reads key from the remote node's local store.
	Get(ctx context.Context, address string, key *big.Int) ([]byte, error)

	// Delete removes key from the remote node's local store.
	Delete(ctx context.Context, address string, key *big.Int) error
}
