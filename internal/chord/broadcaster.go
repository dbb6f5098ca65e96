package chord

import "math/big"

// Ring update event types
const (
	EventSuccessorChanged   = "successor_changed"
	EventPredecessorChanged = "predecessor_changed"
	EventPredecessorFailed  = "predecessor_failed"
	EventRingAlone          = "ring_alone"
	EventNodeJoin           = "node_join"
	EventNodeLeave          = "node_leave"
	EventKeyMigrated        = "key_migrated"
)

// RingUpdateBroadcaster is an interface for broadcasting ring updates.
// This allows the ChordNode to notify external systems (like WebSocket clients)
// when the ring topology changes without creating circular dependencies.
type RingUpdateBroadcaster interface {
	// BroadcastRingUpdate sends a ring update notification.
	// The update parameter can be any data structure that will be serialized and sent.
	BroadcastRingUpdate(update any) error
}

// RingUpdateEvent represents a ring topology change event.
type RingUpdateEvent struct {
	Type      string       `json:"type"`           // one of the Event* constants
	NodeID    string       `json:"node_id"`        // ID of the node that observed the change
	Peer      *NodeAddress `json:"peer,omitempty"` // the other node involved, if any
	Key       string       `json:"key,omitempty"`  // migrated key
	Timestamp int64        `json:"timestamp"`      // Unix timestamp in milliseconds
	Message   string       `json:"message"`        // Human-readable message
}

// SetBroadcaster registers b to receive ring events. nil disables broadcasting.
func (n *ChordNode) SetBroadcaster(b RingUpdateBroadcaster) {
	n.broadcastMu.Lock()
	n.broadcaster = b
	n.broadcastMu.Unlock()
}

// broadcast never blocks ring maintenance on a slow or failing observer.
func (n *ChordNode) broadcast(eventType string, peer *NodeAddress, key *big.Int, msg string) {
	n.broadcastMu.RLock()
	b := n.broadcaster
	n.broadcastMu.RUnlock()
	if b == nil {
		return
	}

	event := RingUpdateEvent{
		Type:      eventType,
		NodeID:    n.id.String(),
		Peer:      peer.Copy(),
		Timestamp: n.clock.Now().UnixMilli(),
		Message:   msg,
	}
	if key != nil {
		event.Key = key.String()
	}
	if err := b.BroadcastRingUpdate(event); err != nil {
		n.logger.Debug().Err(err).Str("event", eventType).Msg("Failed to broadcast ring update")
	}
}
