package chord

import (
	"context"
	"fmt"
	"math/big"
)

// Peer is a handle on a ring member that may be this node or a remote one.
// Routing and membership code talk to every node through a Peer so they never
// deal with transport details.
type Peer interface {
	Address() *NodeAddress
	GetPredecessor(ctx context.Context) (*NodeAddress, error)
	LocateSuccessor(ctx context.Context, key *big.Int, hops int) (*NodeAddress, error)
	ClosestPrecedingNode(ctx context.Context, key *big.Int) (*NodeAddress, error)
	JoinRing(ctx context.Context, bootstrap string) error
	Notify(ctx context.Context, candidate *NodeAddress, departing bool) error
	IsAlive(ctx context.Context) bool
	GetID(ctx context.Context) (*big.Int, error)
	Put(ctx context.Context, key *big.Int, data []byte) error
	Get(ctx context.Context, key *big.Int) ([]byte, error)
	Delete(ctx context.Context, key *big.Int) error
}

// Peer returns a handle on addr. When addr is this node the handle calls the
// node directly instead of going through the network.
func (n *ChordNode) Peer(addr *NodeAddress) Peer {
	if addr.Equals(n.address) {
		return &localPeer{node: n}
	}
	return &remotePeer{addr: addr.Copy(), node: n}
}

// localPeer short-circuits every call to the owning node.
type localPeer struct {
	node *ChordNode
}

func (p *localPeer) Address() *NodeAddress {
	return p.node.Address()
}

func (p *localPeer) GetPredecessor(ctx context.Context) (*NodeAddress, error) {
	return p.node.GetPredecessor(), nil
}

func (p *localPeer) LocateSuccessor(ctx context.Context, key *big.Int, hops int) (*NodeAddress, error) {
	return p.node.LocateSuccessor(ctx, key, hops)
}

func (p *localPeer) ClosestPrecedingNode(ctx context.Context, key *big.Int) (*NodeAddress, error) {
	return p.node.ClosestPrecedingNode(key)
}

func (p *localPeer) JoinRing(ctx context.Context, bootstrap string) error {
	return p.node.JoinRing(ctx, bootstrap)
}

func (p *localPeer) Notify(ctx context.Context, candidate *NodeAddress, departing bool) error {
	return p.node.Notify(ctx, candidate, departing)
}

func (p *localPeer) IsAlive(ctx context.Context) bool {
	return p.node.IsAlive()
}

func (p *localPeer) GetID(ctx context.Context) (*big.Int, error) {
	return p.node.ID(), nil
}

func (p *localPeer) Put(ctx context.Context, key *big.Int, data []byte) error {
	return p.node.Put(ctx, key, data)
}

func (p *localPeer) Get(ctx context.Context, key *big.Int) ([]byte, error) {
	return p.node.Get(ctx, key)
}

func (p *localPeer) Delete(ctx context.Context, key *big.Int) error {
	return p.node.Delete(ctx, key)
}

// remotePeer forwards every call through the node's RemoteClient.
type remotePeer struct {
	addr *NodeAddress
	node *ChordNode
}

func (p *remotePeer) client() (RemoteClient, error) {
	rc := p.node.remoteClient()
	if rc == nil {
		return nil, fmt.Errorf("%w: no remote client for %s", ErrUnreachable, p.addr.Address())
	}
	return rc, nil
}

func (p *remotePeer) Address() *NodeAddress {
	return p.addr.Copy()
}

func (p *remotePeer) GetPredecessor(ctx context.Context) (*NodeAddress, error) {
	rc, err := p.client()
	if err != nil {
		return nil, err
	}
	return rc.GetPredecessor(ctx, p.addr.Address())
}

func (p *remotePeer) LocateSuccessor(ctx context.Context, key *big.Int, hops int) (*NodeAddress, error) {
	rc, err := p.client()
	if err != nil {
		return nil, err
	}
	return rc.LocateSuccessor(ctx, p.addr.Address(), key, hops)
}

func (p *remotePeer) ClosestPrecedingNode(ctx context.Context, key *big.Int) (*NodeAddress, error) {
	rc, err := p.client()
	if err != nil {
		return nil, err
	}
	return rc.ClosestPrecedingNode(ctx, p.addr.Address(), key)
}

func (p *remotePeer) JoinRing(ctx context.Context, bootstrap string) error {
	rc, err := p.client()
	if err != nil {
		return err
	}
	return rc.JoinRing(ctx, p.addr.Address(), bootstrap)
}

func (p *remotePeer) Notify(ctx context.Context, candidate *NodeAddress, departing bool) error {
	rc, err := p.client()
	if err != nil {
		return err
	}
	return rc.Notify(ctx, p.addr.Address(), candidate, departing)
}

// IsAlive treats any failure to reach the peer as dead.
func (p *remotePeer) IsAlive(ctx context.Context) bool {
	rc, err := p.client()
	if err != nil {
		return false
	}
	alive, err := rc.IsAlive(ctx, p.addr.Address())
	return err == nil && alive
}

func (p *remotePeer) GetID(ctx context.Context) (*big.Int, error) {
	rc, err := p.client()
	if err != nil {
		return nil, err
	}
	return rc.GetID(ctx, p.addr.Address())
}

func (p *remotePeer) Put(ctx context.Context, key *big.Int, data []byte) error {
	rc, err := p.client()
	if err != nil {
		return err
	}
	return rc.Put(ctx, p.addr.Address(), key, data)
}

func (p *remotePeer) Get(ctx context.Context, key *big.Int) ([]byte, error) {
	rc, err := p.client()
	if err != nil {
		return nil, err
	}
	return rc.Get(ctx, p.addr.Address(), key)
}

func (p *remotePeer) Delete(ctx context.Context, key *big.Int) error {
	rc, err := p.client()
	if err != nil {
		return err
	}
	return rc.Delete(ctx, p.addr.Address(), key)
}
