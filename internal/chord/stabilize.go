package chord

import (
	"context"
	"fmt"

	"github.com/zde37/chordfs/pkg/hash"
)

// stabilizeLoop runs stabilize, fixFingers and checkPredecessor on every tick
// until the node shuts down.
func (n *ChordNode) stabilizeLoop() {
	defer n.wg.Done()

	ticker := n.clock.Ticker(n.config.StabilizeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			n.logger.Debug().Msg("Stabilization loop stopped")
			return
		case <-ticker.C:
			n.tick(n.ctx)
		}
	}
}

// tick runs one maintenance round. Each step handles its own failures so one
// dead peer never stops the others from running.
func (n *ChordNode) tick(ctx context.Context) {
	if err := n.stabilize(ctx); err != nil {
		n.logger.Debug().Err(err).Msg("Stabilize failed")
	}
	if err := n.fixFingers(ctx); err != nil {
		n.logger.Debug().Err(err).Msg("Fix fingers failed")
	}
	n.checkPredecessor(ctx)
}

// stabilize verifies the node's immediate successor and tells the successor
// about this node. An unreachable successor is replaced by findNextSuccessor.
func (n *ChordNode) stabilize(ctx context.Context) error {
	succ := n.Successor()

	x, err := n.Peer(succ).GetPredecessor(ctx)
	if err != nil {
		n.findNextSuccessor(ctx, succ)
		return fmt.Errorf("successor %s did not answer: %w", succ, err)
	}

	// A node that slipped in between us and our successor becomes the successor
	previous := succ
	if !x.IsNil() && !n.isSelf(x) && hash.InOpenInterval(x.ID, n.id, succ.ID) {
		if n.replaceSuccessor(succ, x) {
			succ = x
		}
	}

	if n.isSelf(succ) {
		return nil
	}

	if err := n.Peer(succ).Notify(ctx, n.address, false); err != nil {
		// a stale predecessor reported by a live successor must not cost us that successor
		if !previous.Equals(succ) && !n.isSelf(previous) && n.Peer(previous).IsAlive(ctx) {
			n.replaceSuccessor(succ, previous)
			n.clearFingersFor(succ)
		} else {
			n.findNextSuccessor(ctx, succ)
		}
		return fmt.Errorf("failed to notify successor %s: %w", succ, err)
	}
	return nil
}

// findNextSuccessor falls back to this node as successor, then adopts the
// first finger that answers a liveness probe. Fingers that fail the probe are
// cleared. failed is the successor that could not be reached.
func (n *ChordNode) findNextSuccessor(ctx context.Context, failed *NodeAddress) {
	n.setSuccessor(n.address)

	n.mu.RLock()
	fingers := make([]*NodeAddress, len(n.fingers))
	for i, f := range n.fingers {
		fingers[i] = f.Copy()
	}
	n.mu.RUnlock()

	dead := map[string]bool{}
	if failed != nil && !n.isSelf(failed) {
		dead[failed.Address()] = true
		n.clearFingersFor(failed)
	}

	for _, f := range fingers {
		if f == nil || n.isSelf(f) || dead[f.Address()] {
			continue
		}
		if n.Peer(f).IsAlive(ctx) {
			n.setSuccessor(f)
			n.logger.Info().
				Str("failed", failed.String()).
				Str("successor", f.String()).
				Msg("Recovered successor from finger table")
			return
		}
		dead[f.Address()] = true
		n.clearFingersFor(f)
	}

	n.logger.Warn().
		Str("failed", failed.String()).
		Msg("No live finger left, this node is now its own successor")
}

// fixFingers refreshes the finger entry under the cursor. The target of entry i
// is id + 2^i; when the previous entry already succeeds the target it is reused
// without a lookup. A lookup that answers with this node clears the entry and
// keeps the cursor in place; a failed lookup clears the entry.
func (n *ChordNode) fixFingers(ctx context.Context) error {
	n.mu.RLock()
	i := n.fixCursor
	var prev *NodeAddress
	if i > 0 {
		prev = n.fingers[i-1].Copy()
	}
	n.mu.RUnlock()

	target := n.space.AddPowerOfTwo(n.id, i)

	var owner *NodeAddress
	if prev != nil && hash.InSemiClosedInterval(target, n.id, prev.ID) {
		owner = prev
	} else {
		var err error
		owner, err = n.LocateSuccessor(ctx, target, 0)
		if err != nil {
			n.mu.Lock()
			n.fingers[i] = nil
			n.fixCursor = (i + 1) % len(n.fingers)
			n.mu.Unlock()
			return fmt.Errorf("finger %d: %w", i, err)
		}
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.isSelf(owner) {
		n.fingers[i] = nil
		return nil
	}
	n.fingers[i] = owner.Copy()
	n.fixCursor = (i + 1) % len(n.fingers)
	return nil
}

// checkPredecessor clears a predecessor that no longer answers.
func (n *ChordNode) checkPredecessor(ctx context.Context) {
	pred := n.GetPredecessor()
	if pred.IsNil() || n.isSelf(pred) {
		return
	}
	if n.Peer(pred).IsAlive(ctx) {
		return
	}

	n.mu.Lock()
	if !n.predecessor.Equals(pred) {
		n.mu.Unlock()
		return
	}
	n.predecessor = nil
	alone := n.isSelf(n.successor)
	n.mu.Unlock()

	n.logger.Info().Str("predecessor", pred.String()).Msg("Predecessor left")
	n.broadcast(EventPredecessorFailed, pred, nil, fmt.Sprintf("predecessor %s stopped answering", pred))

	if alone {
		n.logger.Info().Msg("This node is alone in the ring")
		n.broadcast(EventRingAlone, nil, nil, "the ring has shrunk to this node")
	}
}
