// Package ids provides the arbitrary-precision integer types used for
// token positions and turn ids. Both must support exact equality, ordering,
// and arithmetic without wraparound at any magnitude a long-running session
// can reach, so they are backed by github.com/holiman/uint256 rather than a
// machine word.
package ids

import (
	"database/sql/driver"
	"fmt"

	"github.com/holiman/uint256"
)

// Position is a token's absolute, monotonically increasing, globally unique
// offset. Positions are never reused and never renumbered.
type Position struct {
	v uint256.Int
}

// TurnID identifies all tokens produced within one turn-id allocation.
type TurnID struct {
	v uint256.Int
}

// ZeroPosition is the position before any reservation has occurred.
func ZeroPosition() Position { return Position{} }

// ZeroTurnID is the turn id before any turn has been opened.
func ZeroTurnID() TurnID { return TurnID{} }

// PositionFromUint64 constructs a Position from a machine-width counter
// value, the common case for freshly reserved ids.
func PositionFromUint64(n uint64) Position {
	return Position{v: *uint256.NewInt(n)}
}

// TurnIDFromUint64 constructs a TurnID from a machine-width counter value.
func TurnIDFromUint64(n uint64) TurnID {
	return TurnID{v: *uint256.NewInt(n)}
}

// ParsePosition parses a decimal string, the on-disk/wire representation.
func ParsePosition(s string) (Position, error) {
	var u uint256.Int
	if err := u.SetFromDecimal(s); err != nil {
		return Position{}, fmt.Errorf("parsing position %q: %w", s, err)
	}
	return Position{v: u}, nil
}

// ParseTurnID parses a decimal string, the on-disk/wire representation.
func ParseTurnID(s string) (TurnID, error) {
	var u uint256.Int
	if err := u.SetFromDecimal(s); err != nil {
		return TurnID{}, fmt.Errorf("parsing turn id %q: %w", s, err)
	}
	return TurnID{v: u}, nil
}

// String returns the decimal representation, used as the store's key encoding.
func (p Position) String() string { return p.v.Dec() }
func (t TurnID) String() string   { return t.v.Dec() }

// sortKeyWidth is the number of decimal digits in 2^256-1, so a
// zero-padded value of this width sorts lexicographically the same as it
// orders numerically for any value the uint256 domain can hold.
const sortKeyWidth = 78

// SortKey returns a zero-padded decimal string suitable for range-indexed
// columns, where SQLite's native TEXT ordering must agree with numeric
// ordering regardless of how many digits two values have.
func (p Position) SortKey() string { return padDecimal(p.v.Dec()) }
func (t TurnID) SortKey() string   { return padDecimal(t.v.Dec()) }

func padDecimal(s string) string {
	if len(s) >= sortKeyWidth {
		return s
	}
	return fmt.Sprintf("%0*s", sortKeyWidth, s)
}

// Cmp returns -1, 0, or 1 as p is less than, equal to, or greater than other.
func (p Position) Cmp(other Position) int { return p.v.Cmp(&other.v) }
func (t TurnID) Cmp(other TurnID) int     { return t.v.Cmp(&other.v) }

// Equal reports exact equality.
func (p Position) Equal(other Position) bool { return p.v.Eq(&other.v) }
func (t TurnID) Equal(other TurnID) bool     { return t.v.Eq(&other.v) }

// Less reports whether p sorts strictly before other.
func (p Position) Less(other Position) bool { return p.v.Lt(&other.v) }

// Add returns p advanced by n (n must be small enough to fit a uint64; token
// reservations are bounded well below that).
func (p Position) Add(n uint64) Position {
	var out uint256.Int
	out.Add(&p.v, uint256.NewInt(n))
	return Position{v: out}
}

// Sub returns the non-negative distance from other to p. Panics if
// other > p — callers must only subtract an earlier position from a later one.
func (p Position) Sub(other Position) uint64 {
	if other.v.Gt(&p.v) {
		panic("ids: Position.Sub with other > p")
	}
	var out uint256.Int
	out.Sub(&p.v, &other.v)
	if !out.IsUint64() {
		panic("ids: position distance exceeds uint64 range")
	}
	return out.Uint64()
}

// Within reports whether p lies in the inclusive range [lo, hi].
func (p Position) Within(lo, hi Position) bool {
	return !p.v.Lt(&lo.v) && !p.v.Gt(&hi.v)
}

// Next returns the turn id immediately following t.
func (t TurnID) Next() TurnID {
	var out uint256.Int
	out.Add(&t.v, uint256.NewInt(1))
	return TurnID{v: out}
}

// Prev returns the turn id immediately preceding t. Panics at zero; callers
// only derive a predecessor from an assistant turn id, which always has a
// preceding user turn.
func (t TurnID) Prev() TurnID {
	if t.v.IsZero() {
		panic("ids: TurnID.Prev at zero")
	}
	var out uint256.Int
	out.Sub(&t.v, uint256.NewInt(1))
	return TurnID{v: out}
}

// Value implements driver.Valuer, storing positions/turn ids as their
// unpadded decimal string. Such strings of differing length do not sort
// numerically under SQLite's TEXT ordering, so the store's range-indexed
// min_position/max_position columns hold SortKey() instead.
func (p Position) Value() (driver.Value, error) { return p.v.Dec(), nil }
func (t TurnID) Value() (driver.Value, error)   { return t.v.Dec(), nil }

// Scan implements sql.Scanner.
func (p *Position) Scan(src interface{}) error {
	s, err := scanString(src)
	if err != nil {
		return err
	}
	v, err := ParsePosition(s)
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Scan implements sql.Scanner.
func (t *TurnID) Scan(src interface{}) error {
	s, err := scanString(src)
	if err != nil {
		return err
	}
	v, err := ParseTurnID(s)
	if err != nil {
		return err
	}
	*t = v
	return nil
}

func scanString(src interface{}) (string, error) {
	switch v := src.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case int64:
		return uint256.NewInt(uint64(v)).Dec(), nil
	default:
		return "", fmt.Errorf("ids: cannot scan %T into position/turn id", src)
	}
}
