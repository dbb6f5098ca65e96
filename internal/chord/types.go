package chord

import (
	"encoding/json"
	"fmt"
	"math/big"
	"net"
	"strconv"
)

// NodeAddress represents a node in the Chord ring with its identifier and network address.
type NodeAddress struct {
	ID   *big.Int // Node identifier in the Chord ring (0 to 2^M - 1)
	Host string   // Network host (IP address or hostname)
	Port int      // Network port
}

// NewNodeAddress creates a new NodeAddress with the given parameters.
// The ID is copied to prevent external modification.
func NewNodeAddress(id *big.Int, host string, port int) *NodeAddress {
	idCopy := new(big.Int)
	if id != nil {
		idCopy.Set(id)
	}
	return &NodeAddress{
		ID:   idCopy,
		Host: host,
		Port: port,
	}
}

// SplitAddress parses "host:port".
func SplitAddress(address string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, fmt.Errorf("%w: invalid port %q", ErrInvalidArgument, portStr)
	}
	return host, port, nil
}

// String returns a human-readable representation of the node address.
// Format: "<id>@<host>:<port>"
func (n *NodeAddress) String() string {
	if n.IsNil() {
		return "<none>"
	}
	return fmt.Sprintf("%s@%s", n.ID.String(), n.Address())
}

// Address returns the network address in "host:port" format.
func (n *NodeAddress) Address() string {
	if n == nil {
		return ""
	}
	return net.JoinHostPort(n.Host, strconv.Itoa(n.Port))
}

// Equals checks if two NodeAddress instances are equal.
// Two nodes are equal if they have the same ID, host, and port.
func (n *NodeAddress) Equals(other *NodeAddress) bool {
	if n == nil && other == nil {
		return true
	}
	if n == nil || other == nil {
		return false
	}
	if n.ID == nil || other.ID == nil {
		return n.ID == nil && other.ID == nil &&
			n.Host == other.Host && n.Port == other.Port
	}
	return n.ID.Cmp(other.ID) == 0 &&
		n.Host == other.Host &&
		n.Port == other.Port
}

// Copy creates a deep copy of the NodeAddress.
func (n *NodeAddress) Copy() *NodeAddress {
	if n == nil {
		return nil
	}
	return NewNodeAddress(n.ID, n.Host, n.Port)
}

// IsNil checks if the NodeAddress is nil or has a nil ID.
func (n *NodeAddress) IsNil() bool {
	return n == nil || n.ID == nil
}

type nodeAddressJSON struct {
	ID      string `json:"id"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
	Address string `json:"address"`
}

// MarshalJSON encodes the identifier as a decimal string, it may exceed 64 bits.
func (n *NodeAddress) MarshalJSON() ([]byte, error) {
	if n.IsNil() {
		return []byte("null"), nil
	}
	return json.Marshal(nodeAddressJSON{
		ID:      n.ID.String(),
		Host:    n.Host,
		Port:    n.Port,
		Address: n.Address(),
	})
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (n *NodeAddress) UnmarshalJSON(data []byte) error {
	var v nodeAddressJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	id, ok := new(big.Int).SetString(v.ID, 10)
	if !ok {
		return fmt.Errorf("invalid node id %q", v.ID)
	}
	n.ID, n.Host, n.Port = id, v.Host, v.Port
	return nil
}

// FingerEntry represents an entry in the Chord finger table.
// Entry i tracks the successor of (n + 2^i) mod 2^M.
type FingerEntry struct {
	Start *big.Int     // (n + 2^i) mod 2^M
	Node  *NodeAddress // First node that succeeds or equals start, nil when unknown
}

// NewFingerEntry creates a new FingerEntry with the given parameters.
// The start ID is copied to prevent external modification.
func NewFingerEntry(start *big.Int, node *NodeAddress) *FingerEntry {
	var startCopy *big.Int
	if start != nil {
		startCopy = new(big.Int).Set(start)
	}

	return &FingerEntry{
		Start: startCopy,
		Node:  node.Copy(),
	}
}

// String returns a human-readable representation of the finger entry.
func (f *FingerEntry) String() string {
	if f == nil {
		return "FingerEntry{nil}"
	}
	startStr := "<nil>"
	if f.Start != nil {
		startStr = f.Start.String()
	}
	return fmt.Sprintf("FingerEntry{Start: %s, Node: %s}", startStr, f.Node)
}

// Copy creates a deep copy of the FingerEntry.
func (f *FingerEntry) Copy() *FingerEntry {
	if f == nil {
		return nil
	}
	return NewFingerEntry(f.Start, f.Node)
}

// IsNil checks if the FingerEntry is nil or has nil fields.
func (f *FingerEntry) IsNil() bool {
	return f == nil || f.Start == nil || f.Node.IsNil()
}

// MarshalJSON encodes Start as a decimal string.
func (f *FingerEntry) MarshalJSON() ([]byte, error) {
	if f == nil {
		return []byte("null"), nil
	}
	start := ""
	if f.Start != nil {
		start = f.Start.String()
	}
	return json.Marshal(struct {
		Start string       `json:"start"`
		Node  *NodeAddress `json:"node"`
	}{start, f.Node})
}
