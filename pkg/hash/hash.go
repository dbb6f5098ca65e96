package hash

import (
	"crypto/sha256"
	"fmt"
	"math/big"
)

const (
	// DefaultBits is the default size of the identifier space in bits (2^160)
	DefaultBits = 160

	// MaxBits is the largest identifier space a SHA-256 digest can fill.
	MaxBits = sha256.Size * 8
)

var (
	zero = big.NewInt(0)
	one  = big.NewInt(1)
)

// Space is an m-bit circular identifier space [0, 2^m).
type Space struct {
	bits int
	size *big.Int
}

// NewSpace creates an identifier space of the given number of bits.
func NewSpace(bits int) (*Space, error) {
	if bits <= 0 || bits > MaxBits {
		return nil, fmt.Errorf("identifier bits must be between 1 and %d, got %d", MaxBits, bits)
	}
	return &Space{
		bits: bits,
		size: new(big.Int).Lsh(one, uint(bits)),
	}, nil
}

// MustSpace is like NewSpace but panics on an invalid bit count.
func MustSpace(bits int) *Space {
	s, err := NewSpace(bits)
	if err != nil {
		panic(err)
	}
	return s
}

// Bits returns m.
func (s *Space) Bits() int {
	return s.bits
}

// Size returns 2^m, the number of identifiers on the ring.
func (s *Space) Size() *big.Int {
	return new(big.Int).Set(s.size)
}

// MaxID returns the maximum valid ID on the ring (2^m - 1).
func (s *Space) MaxID() *big.Int {
	return new(big.Int).Sub(s.size, one)
}

// Hash maps a name to an identifier. The top m bits of the SHA-256 digest are used,
// so the same name yields the same identifier on every peer.
func (s *Space) Hash(name string) *big.Int {
	sum := sha256.Sum256([]byte(name))
	id := new(big.Int).SetBytes(sum[:])
	return id.Rsh(id, uint(MaxBits-s.bits))
}

// HashAddress hashes a network address (host:port) to an identifier.
func (s *Space) HashAddress(host string, port int) *big.Int {
	return s.Hash(fmt.Sprintf("%s:%d", host, port))
}

// Mod returns x mod 2^m, always in [0, 2^m).
func (s *Space) Mod(x *big.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	// big.Int.Mod is Euclidean, the result is never negative
	return new(big.Int).Mod(x, s.size)
}

// Contains checks if an ID is within the valid range [0, 2^m).
func (s *Space) Contains(id *big.Int) bool {
	if id == nil {
		return false
	}
	return id.Cmp(zero) >= 0 && id.Cmp(s.size) < 0
}

// AddPowerOfTwo computes (n + 2^exponent) mod 2^m.
// finger[i] ideally points at the successor of AddPowerOfTwo(n, i).
func (s *Space) AddPowerOfTwo(n *big.Int, exponent int) *big.Int {
	if n == nil {
		n = zero
	}
	if exponent < 0 {
		return s.Mod(n)
	}
	offset := new(big.Int).Lsh(one, uint(exponent))
	return s.Mod(offset.Add(offset, n))
}

// Distance computes the clockwise distance from start to end: (end - start) mod 2^m.
func (s *Space) Distance(start, end *big.Int) *big.Int {
	if start == nil || end == nil {
		return new(big.Int)
	}
	return s.Mod(new(big.Int).Sub(end, start))
}

// Parse reads a decimal identifier and checks it belongs to the space.
func (s *Space) Parse(text string) (*big.Int, error) {
	id, ok := new(big.Int).SetString(text, 10)
	if !ok {
		return nil, fmt.Errorf("invalid identifier %q", text)
	}
	if !s.Contains(id) {
		return nil, fmt.Errorf("identifier %s outside [0, 2^%d)", text, s.bits)
	}
	return id, nil
}

// InSemiClosedInterval reports whether key lies in the circular interval (lo, hi].
//
// When lo >= hi the interval wraps through the origin: key > lo or key <= hi.
// With lo == hi this covers the whole ring.
//
// Examples:
//   - InSemiClosedInterval(5, 3, 7) = true    // 5 is in (3, 7]
//   - InSemiClosedInterval(3, 3, 7) = false   // exclusive start
//   - InSemiClosedInterval(7, 3, 7) = true    // inclusive end
//   - InSemiClosedInterval(1, 3, 1) = true    // 3 -> 0 -> 1
//   - InSemiClosedInterval(2, 3, 1) = false
func InSemiClosedInterval(key, lo, hi *big.Int) bool {
	if key == nil || lo == nil || hi == nil {
		return false
	}
	if lo.Cmp(hi) < 0 {
		return key.Cmp(lo) > 0 && key.Cmp(hi) <= 0
	}
	return key.Cmp(lo) > 0 || key.Cmp(hi) <= 0
}

// InOpenInterval reports whether key lies strictly inside the circular interval (lo, hi).
//
// When lo >= hi the interval wraps through the origin: key > lo or key < hi.
// With lo == hi this is the whole ring except lo itself.
func InOpenInterval(key, lo, hi *big.Int) bool {
	if key == nil || lo == nil || hi == nil {
		return false
	}
	if lo.Cmp(hi) < 0 {
		return key.Cmp(lo) > 0 && key.Cmp(hi) < 0
	}
	return key.Cmp(lo) > 0 || key.Cmp(hi) < 0
}
