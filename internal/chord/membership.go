package chord

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zde37/chordfs/pkg"
	"github.com/zde37/chordfs/pkg/hash"
)

// JoinRing joins the ring known to the node at bootstrap (host:port). The
// bootstrap node locates this node's successor; the predecessor is learned
// later through notify. Any failure leaves this node as a ring of one.
func (n *ChordNode) JoinRing(ctx context.Context, bootstrap string) error {
	if _, _, err := SplitAddress(bootstrap); err != nil {
		return err
	}
	if bootstrap == n.address.Address() {
		return fmt.Errorf("%w: cannot join through this node itself", ErrInvalidArgument)
	}

	ctx, span := pkg.StartSpan(ctx, "JoinRing", trace.WithAttributes(
		attribute.String("bootstrap", bootstrap),
	))
	defer span.End()

	fail := func(err error) error {
		n.becomeSingleton()
		span.RecordError(err)
		span.SetStatus(codes.Error, "join failed")
		n.logger.Warn().Err(err).Str("bootstrap", bootstrap).Msg("Join failed, continuing as a ring of one")
		return err
	}

	rc := n.remoteClient()
	if rc == nil {
		return fail(fmt.Errorf("%w: remote client not set", ErrUnreachable))
	}

	n.logger.Info().Str("bootstrap", bootstrap).Msg("Joining Chord ring")

	succ, err := rc.LocateSuccessor(ctx, bootstrap, n.id, 0)
	if err != nil {
		return fail(fmt.Errorf("failed to locate successor via %s: %w", bootstrap, err))
	}
	if succ.IsNil() {
		return fail(fmt.Errorf("%w: %s returned no successor", ErrRoutingFailure, bootstrap))
	}

	n.mu.Lock()
	n.predecessor = nil
	for i := range n.fingers {
		n.fingers[i] = nil
	}
	n.fixCursor = 0
	n.mu.Unlock()
	n.setSuccessor(succ)

	// Tell the successor right away so it hands over our keys now rather than
	// on its next stabilization round.
	if !n.isSelf(succ) {
		if err := n.Peer(succ).Notify(ctx, n.address, false); err != nil {
			return fail(fmt.Errorf("failed to notify successor %s: %w", succ, err))
		}
	}

	n.logger.Info().
		Str("successor", succ.String()).
		Msg("Joined Chord ring")
	n.broadcast(EventNodeJoin, succ, nil, fmt.Sprintf("joined through %s", bootstrap))
	return nil
}

// becomeSingleton resets the ring state to a ring of one.
func (n *ChordNode) becomeSingleton() {
	n.mu.Lock()
	n.predecessor = nil
	for i := range n.fingers {
		n.fingers[i] = nil
	}
	n.fixCursor = 0
	n.mu.Unlock()
	n.setSuccessor(n.address)
}

// Notify is called by candidate, which believes it may be this node's
// predecessor. The predecessor is updated when unknown or when candidate lies
// strictly between it and this node. Then keys that belong to candidate move to
// it: every key when departing is set, otherwise keys in (self, candidate].
// Each key moves independently; a failed transfer is logged and the key stays.
func (n *ChordNode) Notify(ctx context.Context, candidate *NodeAddress, departing bool) error {
	if candidate.IsNil() {
		return fmt.Errorf("%w: candidate cannot be nil", ErrInvalidArgument)
	}
	if !n.space.Contains(candidate.ID) {
		return fmt.Errorf("%w: candidate id %s outside the ring", ErrInvalidArgument, candidate.ID)
	}

	n.mu.Lock()
	updated := false
	if !n.isSelf(candidate) &&
		(n.predecessor == nil || hash.InOpenInterval(candidate.ID, n.predecessor.ID, n.id)) {
		n.predecessor = candidate.Copy()
		updated = true
	}
	n.mu.Unlock()

	if updated {
		n.logger.Info().Str("predecessor", candidate.String()).Msg("Predecessor updated")
		n.broadcast(EventPredecessorChanged, candidate, nil, fmt.Sprintf("predecessor is now %s", candidate))
	}

	if n.isSelf(candidate) {
		return nil
	}

	ctx, span := pkg.StartSpan(ctx, "Notify", trace.WithAttributes(
		attribute.String("candidate", candidate.Address()),
		attribute.Bool("departing", departing),
	))
	defer span.End()

	moved, failed := n.migrateKeys(ctx, candidate, departing)
	span.SetAttributes(attribute.Int("keys_moved", moved), attribute.Int("keys_failed", failed))
	return nil
}

// migrateKeys moves matching keys from the local store to target.
func (n *ChordNode) migrateKeys(ctx context.Context, target *NodeAddress, all bool) (moved, failed int) {
	keys, err := n.storage.Keys(ctx)
	if err != nil {
		n.logger.Warn().Err(err).Msg("Failed to list keys for migration")
		return 0, 0
	}

	peer := n.Peer(target)
	for _, key := range keys {
		if !all && !hash.InSemiClosedInterval(key, n.id, target.ID) {
			continue
		}

		data, err := n.storage.Get(ctx, key)
		if errors.Is(err, pkg.ErrKeyNotFound) {
			continue // moved by a concurrent migration
		}
		if err != nil {
			failed++
			n.logger.Warn().Err(err).Str("key", key.String()).Msg("Failed to read key for migration")
			continue
		}
		if err := peer.Put(ctx, key, data); err != nil {
			failed++
			n.logger.Warn().Err(err).
				Str("key", key.String()).
				Str("target", target.String()).
				Msg("Failed to migrate key")
			continue
		}
		if err := n.storage.Delete(ctx, key); err != nil && !errors.Is(err, pkg.ErrKeyNotFound) {
			n.logger.Warn().Err(err).Str("key", key.String()).Msg("Failed to delete migrated key")
		}

		moved++
		n.broadcast(EventKeyMigrated, target, key, fmt.Sprintf("key %s moved to %s", key, target))
	}

	if moved > 0 || failed > 0 {
		n.logger.Info().
			Int("moved", moved).
			Int("failed", failed).
			Str("target", target.String()).
			Msg("Key migration finished")
	}
	return moved, failed
}

// Leave hands every local key to the successor before the process goes away.
// Other nodes learn of the departure through their own liveness probes.
func (n *ChordNode) Leave(ctx context.Context) error {
	succ := n.Successor()
	if n.isSelf(succ) {
		n.logger.Info().Msg("Leaving a ring of one, no keys to hand over")
		return nil
	}

	ctx, span := pkg.StartSpan(ctx, "Leave", trace.WithAttributes(
		attribute.String("successor", succ.Address()),
	))
	defer span.End()

	n.logger.Info().Str("successor", succ.String()).Msg("Leaving Chord ring")
	if err := n.Notify(ctx, succ, true); err != nil {
		return fmt.Errorf("failed to hand keys to %s: %w", succ, err)
	}
	n.broadcast(EventNodeLeave, succ, nil, fmt.Sprintf("left, keys handed to %s", succ))

	remaining, err := n.storage.Count(ctx)
	if err != nil {
		return fmt.Errorf("failed to count remaining keys: %w", err)
	}
	if remaining > 0 {
		err := fmt.Errorf("%d keys could not be handed to %s", remaining, succ)
		span.RecordError(err)
		span.SetStatus(codes.Error, "keys left behind")
		return err
	}
	return nil
}
