package chord

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zde37/chordfs/pkg"
	"github.com/zde37/chordfs/pkg/hash"
)

// LocateSuccessor returns the node responsible for key. hops is the number of
// delegations already made on behalf of the original caller; a lookup that
// exceeds the configured bound fails with ErrRoutingFailure.
//
// A key equal to this node's own identifier is rejected with ErrInvalidArgument.
func (n *ChordNode) LocateSuccessor(ctx context.Context, key *big.Int, hops int) (*NodeAddress, error) {
	if err := n.validKey(key); err != nil {
		return nil, err
	}
	if key.Cmp(n.id) == 0 {
		return nil, fmt.Errorf("%w: key %s equals the node identifier", ErrInvalidArgument, key)
	}
	if hops < 0 {
		return nil, fmt.Errorf("%w: negative hop count %d", ErrInvalidArgument, hops)
	}
	if hops > n.config.MaxLookupHops {
		return nil, fmt.Errorf("%w: hop limit %d exceeded for key %s", ErrRoutingFailure, n.config.MaxLookupHops, key)
	}

	succ := n.Successor()

	// Ring of one
	if n.isSelf(succ) {
		return n.address.Copy(), nil
	}

	if hash.InSemiClosedInterval(key, n.id, succ.ID) {
		return succ, nil
	}

	ctx, span := pkg.StartSpan(ctx, "LocateSuccessor", trace.WithAttributes(
		attribute.String("key", key.String()),
		attribute.Int("hops", hops),
	))
	defer span.End()

	next := n.closestPrecedingNode(key)
	span.SetAttributes(attribute.String("delegate", next.Address()))

	owner, err := n.Peer(next).LocateSuccessor(ctx, key, hops+1)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delegation failed")

		if errors.Is(err, ErrUnreachable) {
			cleared := n.clearFingersFor(next)
			n.logger.Debug().
				Err(err).
				Str("delegate", next.String()).
				Int("fingers_cleared", cleared).
				Msg("Lookup delegate unreachable")
		}
		if errors.Is(err, ErrRoutingFailure) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: delegating %s to %s: %v", ErrRoutingFailure, key, next, err)
	}
	if owner.IsNil() {
		return nil, fmt.Errorf("%w: %s returned no owner for %s", ErrRoutingFailure, next, key)
	}
	return owner, nil
}

// ClosestPrecedingNode returns the known node that most closely precedes key.
func (n *ChordNode) ClosestPrecedingNode(key *big.Int) (*NodeAddress, error) {
	if err := n.validKey(key); err != nil {
		return nil, err
	}
	return n.closestPrecedingNode(key), nil
}

// closestPrecedingNode scans the finger table from the farthest entry back and
// returns the first node strictly between this node and key. The successor is
// the fallback, then this node itself.
func (n *ChordNode) closestPrecedingNode(key *big.Int) *NodeAddress {
	n.mu.RLock()
	defer n.mu.RUnlock()

	for i := len(n.fingers) - 1; i >= 0; i-- {
		f := n.fingers[i]
		if f == nil {
			continue
		}
		if hash.InOpenInterval(f.ID, n.id, key) {
			return f.Copy()
		}
	}

	if !n.isSelf(n.successor) && hash.InOpenInterval(n.successor.ID, n.id, key) {
		return n.successor.Copy()
	}
	return n.address.Copy()
}
