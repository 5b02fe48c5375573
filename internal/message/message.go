// Package message models the single 512-bit MD4 block a short password is hashed
// from. Every character takes a 16-bit slot whose high byte is zero, followed by
// the padding bit and a 64-bit little-endian length counted in bits.
//
// Bits are numbered in byte-stream order: bit k is bit 7-k%8 of byte k/8. Words
// are little-endian, so lane L of word i holds stream bit 32*i + 8*(3-L/8) + L%8.
package message

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rcarmo/md4sat/internal/expr"
	"github.com/rcarmo/md4sat/internal/symbolic"
)

const (
	// Words is the number of 32-bit words in a block.
	Words = 16
	// Bits is the number of bits in a block.
	Bits = Words * symbolic.Size
	// MaxLength is the longest password whose slots and padding byte fit
	// before the length field.
	MaxLength = 27

	lengthBit = 448
	slotBits  = 16
)

var (
	// ErrMalformedLength is returned for lengths outside 0..MaxLength or that
	// disagree with the declared password.
	ErrMalformedLength = errors.New("malformed password length")
	// ErrPasswordEncoding is returned for characters that do not fit in a byte.
	ErrPasswordEncoding = errors.New("password character outside the 8-bit range")
	// ErrLengthRequired is returned when neither a length nor a password is given.
	ErrLengthRequired = errors.New("password length or known password required")
)

// Options describes what is known about the password.
type Options struct {
	// Length is the declared number of characters, or -1 if undeclared.
	Length int
	// Password pins every character; when set it also fixes the length.
	Password string
}

// Resolve validates the options and returns the password length.
func (o Options) Resolve() (int, error) {
	if _, err := Encode(o.Password); err != nil {
		return 0, err
	}
	n := len([]rune(o.Password))
	switch {
	case n > MaxLength:
		return 0, fmt.Errorf("password has %d characters, at most %d fit: %w", n, MaxLength, ErrMalformedLength)
	case o.Length < -1 || o.Length > MaxLength:
		return 0, fmt.Errorf("length %d not in 0..%d: %w", o.Length, MaxLength, ErrMalformedLength)
	case n > 0 && o.Length >= 0 && o.Length != n:
		return 0, fmt.Errorf("length %d but password has %d characters: %w", o.Length, n, ErrMalformedLength)
	case n > 0:
		return n, nil
	case o.Length < 0:
		return 0, ErrLengthRequired
	}
	return o.Length, nil
}

// Encode lays the password out in 16-bit slots: the character in the low byte,
// zero in the high byte.
func Encode(password string) ([]byte, error) {
	out := make([]byte, 0, 2*len(password))
	for i, r := range []rune(password) {
		if r < 0 || r > 0xFF {
			return nil, fmt.Errorf("character %d (%U): %w", i, r, ErrPasswordEncoding)
		}
		out = append(out, byte(r), 0)
	}
	return out, nil
}

// Block is the sixteen-word message with its pinned and free bits.
type Block struct {
	Words  [Words]*symbolic.Word
	Length int
	Pinned int
}

// Build returns the block for opts. Pinned bits become concrete lanes; every
// other bit becomes the variable m_<k> of b.
func Build(b *expr.Builder, opts Options) (*Block, error) {
	length, err := opts.Resolve()
	if err != nil {
		return nil, err
	}

	fixed := make(map[int]bool, Bits)
	pin := func(k int, v bool) { fixed[k] = v }

	// High byte of every slot, up to the length field.
	for i := 1; i < lengthBit/8; i += 2 {
		for j := 0; j < 8; j++ {
			pin(8*i+j, false)
		}
	}
	// Length bits that are zero for every supported length.
	for k := 452; k < 463; k++ {
		pin(k, false)
	}
	for k := 464; k < Bits; k++ {
		pin(k, false)
	}
	// Unknown characters are assumed 7-bit.
	for i := 0; i < length; i++ {
		pin(slotBits*i, false)
	}
	pin(slotBits*length, true)
	for k := slotBits*length + 1; k < lengthBit; k++ {
		pin(k, false)
	}
	// 16*length bits: length bits 3..0 land on stream bits 448..451, bit 4 on 463.
	for i := 0; i < 4; i++ {
		pin(451-i, (length>>i)&1 == 1)
	}
	pin(463, length > 15)

	for i, r := range []rune(opts.Password) {
		for j := 0; j < 8; j++ {
			pin(slotBits*i+j, r&(0x80>>j) != 0)
		}
	}

	m := &Block{Length: length, Pinned: len(fixed)}
	for i := range m.Words {
		lanes := make([]symbolic.Bit, symbolic.Size)
		for l := range lanes {
			k := StreamBit(i, l)
			if v, ok := fixed[k]; ok {
				lanes[l] = symbolic.Concrete(v)
			} else {
				lanes[l] = symbolic.Var(b, VarName(k))
			}
		}
		m.Words[i] = symbolic.FromBits(b, lanes...)
	}
	return m, nil
}

// FromUint32s wraps a fully concrete block.
func FromUint32s(x [Words]uint32) *Block {
	m := &Block{Pinned: Bits}
	for i, v := range x {
		m.Words[i] = symbolic.New(v)
	}
	m.Length = int((uint64(x[14]) | uint64(x[15])<<32) / slotBits)
	return m
}

// StreamBit maps lane l of word i to its position in the byte stream.
func StreamBit(i, l int) int {
	return 32*i + 8*(3-l/8) + l%8
}

// VarName returns the variable name of stream bit k.
func VarName(k int) string {
	return fmt.Sprintf("m_%d", k)
}

// Free returns the number of bits left to the solver.
func (m *Block) Free() int { return Bits - m.Pinned }

// Substitute applies s to every word.
func (m *Block) Substitute(s *expr.Substituter) {
	for _, w := range m.Words {
		w.Substitute(s)
	}
}

// Uint32s decodes a fully concrete block.
func (m *Block) Uint32s() ([Words]uint32, error) {
	var x [Words]uint32
	for i, w := range m.Words {
		v, err := w.Uint32()
		if err != nil {
			return x, fmt.Errorf("word %d: %w", i, err)
		}
		x[i] = v
	}
	return x, nil
}

// Hex renders a fully concrete block as sixteen 8-digit words.
func (m *Block) Hex() ([Words]string, error) {
	var out [Words]string
	for i, w := range m.Words {
		s, err := w.Hex()
		if err != nil {
			return out, fmt.Errorf("word %d: %w", i, err)
		}
		out[i] = s
	}
	return out, nil
}

// String renders every word, with '?' nibbles where bits are still free.
func (m *Block) String() string {
	parts := make([]string, len(m.Words))
	for i, w := range m.Words {
		parts[i] = w.String()
	}
	return strings.Join(parts, " ")
}

// DecodePassword reads the password out of concrete block words: the character
// count comes from the length field, each character from the low byte of its
// slot.
func DecodePassword(x [Words]uint32) (string, error) {
	bitsLen := uint64(x[14]) | uint64(x[15])<<32
	n := bitsLen / slotBits
	if n > MaxLength {
		return "", fmt.Errorf("length field holds %d bits: %w", bitsLen, ErrMalformedLength)
	}
	var sb strings.Builder
	for i := 0; i < int(n); i++ {
		w := x[i/2]
		c := byte(w >> (16 * (i % 2)))
		sb.WriteRune(rune(c))
	}
	return sb.String(), nil
}
