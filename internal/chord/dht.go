package chord

import (
	"context"
	"fmt"
	"math/big"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zde37/chordfs/pkg"
)

// Lookup returns the node responsible for key. Unlike LocateSuccessor it accepts
// this node's own identifier, which this node owns.
func (n *ChordNode) Lookup(ctx context.Context, key *big.Int) (*NodeAddress, error) {
	if err := n.validKey(key); err != nil {
		return nil, err
	}
	if key.Cmp(n.id) == 0 {
		return n.address.Copy(), nil
	}
	return n.LocateSuccessor(ctx, key, 0)
}

// Write stores data on the node responsible for key and returns that node.
func (n *ChordNode) Write(ctx context.Context, key *big.Int, data []byte) (*NodeAddress, error) {
	ctx, span := n.startKeySpan(ctx, "Write", key)
	defer span.End()

	owner, err := n.Lookup(ctx, key)
	if err != nil {
		return nil, spanError(span, fmt.Errorf("failed to locate owner of %s: %w", key, err))
	}
	if err := n.Peer(owner).Put(ctx, key, data); err != nil {
		return owner, spanError(span, fmt.Errorf("put on %s failed: %w", owner, err))
	}

	n.logger.Debug().
		Str("key", key.String()).
		Str("owner", owner.String()).
		Int("value_size", len(data)).
		Msg("Wrote key")
	return owner, nil
}

// Read fetches the blob for key from the node responsible for it.
func (n *ChordNode) Read(ctx context.Context, key *big.Int) ([]byte, *NodeAddress, error) {
	ctx, span := n.startKeySpan(ctx, "Read", key)
	defer span.End()

	owner, err := n.Lookup(ctx, key)
	if err != nil {
		return nil, nil, spanError(span, fmt.Errorf("failed to locate owner of %s: %w", key, err))
	}
	data, err := n.Peer(owner).Get(ctx, key)
	if err != nil {
		return nil, owner, spanError(span, fmt.Errorf("get on %s failed: %w", owner, err))
	}
	return data, owner, nil
}

// Remove deletes key from the node responsible for it.
func (n *ChordNode) Remove(ctx context.Context, key *big.Int) (*NodeAddress, error) {
	ctx, span := n.startKeySpan(ctx, "Remove", key)
	defer span.End()

	owner, err := n.Lookup(ctx, key)
	if err != nil {
		return nil, spanError(span, fmt.Errorf("failed to locate owner of %s: %w", key, err))
	}
	if err := n.Peer(owner).Delete(ctx, key); err != nil {
		return owner, spanError(span, fmt.Errorf("delete on %s failed: %w", owner, err))
	}
	return owner, nil
}

func (n *ChordNode) startKeySpan(ctx context.Context, name string, key *big.Int) (context.Context, trace.Span) {
	keyStr := "<nil>"
	if key != nil {
		keyStr = key.String()
	}
	return pkg.StartSpan(ctx, name, trace.WithAttributes(
		attribute.String("key", keyStr),
		attribute.String("node", n.address.Address()),
	))
}

func spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
