package symbolic

import (
	"errors"
	"fmt"
	"math/bits"
	"strings"

	"github.com/rcarmo/md4sat/internal/expr"
)

// Size is the number of lanes in a word. Lane 0 is the most significant bit.
const Size = 32

// ErrSymbolic is returned when a word with unresolved lanes is decoded.
var ErrSymbolic = errors.New("word has symbolic lanes")

// Word is a 32-lane bit vector. Operators without the Assign suffix return a new
// word; the Assign variants overwrite the receiver's lanes and return it.
type Word struct {
	bits [Size]Bit
	b    *expr.Builder
}

// New returns the concrete word holding v.
func New(v uint32) *Word {
	w := &Word{}
	for i := 0; i < Size; i++ {
		w.bits[i] = Concrete(v&(1<<(Size-1-i)) != 0)
	}
	return w
}

// FromBits builds a word from lanes given most significant first. Fewer than 32
// lanes are left-padded with false. b may be nil if every lane is concrete.
// Passing more than Size lanes is a programmer error and panics.
func FromBits(b *expr.Builder, lanes ...Bit) *Word {
	if len(lanes) > Size {
		panic(fmt.Sprintf("symbolic: %d lanes do not fit in a word", len(lanes)))
	}
	w := &Word{b: b}
	copy(w.bits[Size-len(lanes):], lanes)
	return w
}

// Clone returns an independent copy of w.
func (w *Word) Clone() *Word {
	c := *w
	return &c
}

// Lane returns lane i.
func (w *Word) Lane(i int) Bit { return w.bits[i] }

// SetLane overwrites lane i.
func (w *Word) SetLane(i int, x Bit) { w.bits[i] = x }

// Builder returns the expression builder the word's symbolic lanes belong to.
func (w *Word) Builder() *expr.Builder { return w.b }

func (w *Word) builder(o *Word) *expr.Builder {
	if w.b != nil {
		return w.b
	}
	return o.b
}

// Set copies the lanes of o into w.
func (w *Word) Set(o *Word) *Word {
	w.bits = o.bits
	w.b = w.builder(o)
	return w
}

func (w *Word) apply(o *Word, op func(*expr.Builder, Bit, Bit) Bit) *Word {
	b := w.builder(o)
	for i := 0; i < Size; i++ {
		w.bits[i] = op(b, w.bits[i], o.bits[i])
	}
	w.b = b
	return w
}

// And returns w & o.
func (w *Word) And(o *Word) *Word { return w.Clone().AndAssign(o) }

// AndAssign sets w = w & o.
func (w *Word) AndAssign(o *Word) *Word { return w.apply(o, andBit) }

// Or returns w | o.
func (w *Word) Or(o *Word) *Word { return w.Clone().OrAssign(o) }

// OrAssign sets w = w | o.
func (w *Word) OrAssign(o *Word) *Word { return w.apply(o, orBit) }

// Xor returns w ^ o.
func (w *Word) Xor(o *Word) *Word { return w.Clone().XorAssign(o) }

// XorAssign sets w = w ^ o.
func (w *Word) XorAssign(o *Word) *Word { return w.apply(o, xorBit) }

// Not returns ^w.
func (w *Word) Not() *Word {
	r := w.Clone()
	for i := 0; i < Size; i++ {
		r.bits[i] = notBit(w.b, w.bits[i])
	}
	return r
}

// RotateLeft returns w rotated left by s lanes.
func (w *Word) RotateLeft(s int) *Word { return w.Clone().RotateLeftAssign(s) }

// RotateLeftAssign rotates w left by s lanes in place.
func (w *Word) RotateLeftAssign(s int) *Word {
	old := w.bits
	for i := 0; i < Size; i++ {
		w.bits[i] = old[(i+s)%Size]
	}
	return w
}

// RotateRight returns w rotated right by s lanes.
func (w *Word) RotateRight(s int) *Word { return w.Clone().RotateRightAssign(s) }

// RotateRightAssign rotates w right by s lanes in place.
func (w *Word) RotateRightAssign(s int) *Word {
	old := w.bits
	for i := 0; i < Size; i++ {
		w.bits[i] = old[(i+Size-s)%Size]
	}
	return w
}

// Add returns w + o mod 2^32.
func (w *Word) Add(o *Word) *Word { return w.Clone().AddAssign(o) }

// AddAssign sets w = w + o mod 2^32.
func (w *Word) AddAssign(o *Word) *Word { return w.addCarry(o, Concrete(false)) }

// Sub returns w - o mod 2^32.
func (w *Word) Sub(o *Word) *Word { return w.Clone().SubAssign(o) }

// SubAssign sets w = w - o mod 2^32, computed as w + ^o + 1 with the one fed
// in as the adder's carry.
func (w *Word) SubAssign(o *Word) *Word { return w.addCarry(o.Not(), Concrete(true)) }

// addCarry runs the ripple-carry adder from lane 31 up to lane 0. The carry out
// of lane 0 is dropped.
func (w *Word) addCarry(o *Word, carry Bit) *Word {
	b := w.builder(o)
	for i := Size - 1; i >= 0; i-- {
		x, y := w.bits[i], o.bits[i]
		half := xorBit(b, x, y)
		w.bits[i] = xorBit(b, half, carry)
		if i > 0 {
			carry = orBit(b, andBit(b, x, y), andBit(b, carry, half))
		}
	}
	w.b = b
	return w
}

// IsConcrete reports whether every lane is concrete.
func (w *Word) IsConcrete() bool {
	return w.SymbolicLanes() == 0
}

// SymbolicLanes returns the number of unresolved lanes.
func (w *Word) SymbolicLanes() int {
	n := 0
	for _, x := range w.bits {
		if !x.IsConcrete() {
			n++
		}
	}
	return n
}

// Uint32 decodes a fully concrete word.
func (w *Word) Uint32() (uint32, error) {
	var v uint32
	for i, x := range w.bits {
		if !x.IsConcrete() {
			return 0, fmt.Errorf("lane %d: %w", i, ErrSymbolic)
		}
		v <<= 1
		if x.value {
			v |= 1
		}
	}
	return v, nil
}

// Hex renders a fully concrete word as the 8 uppercase hex digits of its
// little-endian byte serialization, the order MD4 digests and message words are
// written in.
func (w *Word) Hex() (string, error) {
	v, err := w.Uint32()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%08X", bits.ReverseBytes32(v)), nil
}

// Substitute rewrites every symbolic lane through s. Concrete lanes are left
// untouched; lanes over unassigned variables stay symbolic.
func (w *Word) Substitute(s *expr.Substituter) *Word {
	for i, x := range w.bits {
		if x.node != nil {
			w.bits[i] = Symbolic(s.Apply(x.node))
		}
	}
	return w
}

// Exprs returns the symbolic lane expressions of w, skipping concrete lanes.
func (w *Word) Exprs() []*expr.Node {
	var out []*expr.Node
	for _, x := range w.bits {
		if x.node != nil {
			out = append(out, x.node)
		}
	}
	return out
}

// String renders w like Hex, with '?' for every nibble that holds a symbolic lane.
func (w *Word) String() string {
	const digits = "0123456789ABCDEF"
	var sb strings.Builder
	for k := 0; k < 4; k++ {
		base := Size - 8*(k+1)
		for half := 0; half < 2; half++ {
			v, known := 0, true
			for j := 0; j < 4; j++ {
				x := w.bits[base+4*half+j]
				if !x.IsConcrete() {
					known = false
					break
				}
				v <<= 1
				if x.value {
					v |= 1
				}
			}
			if known {
				sb.WriteByte(digits[v])
			} else {
				sb.WriteByte('?')
			}
		}
	}
	return sb.String()
}
