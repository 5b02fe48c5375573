// Package md4 holds the concrete side of MD4: the step schedule shared with the
// symbolic transform, single-block compression and its inverse, and digest
// parsing and formatting.
package md4

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math/bits"
	"strings"

	xmd4 "golang.org/x/crypto/md4"
)

// MD4 block size and digest size
const (
	BlockSize = 64
	Size      = 16
)

// Register slots of the chaining state.
const (
	A = iota
	B
	C
	D
)

// Init is the chaining state every message starts from.
var Init = [4]uint32{0x67452301, 0xEFCDAB89, 0x98BADCFE, 0x10325476}

// Additive constants of rounds 2 and 3.
const (
	K2 = 0x5A827999
	K3 = 0x6ED9EBA1
)

// Func selects the boolean function of a round.
type Func int

const (
	FuncF Func = iota + 1
	FuncG
	FuncH
)

// Step describes one of the 48 steps: the register written, the three registers
// fed to the round function, the message word index and the rotation.
type Step struct {
	Round int
	Func  Func
	Write int
	In    [3]int
	Index int
	Shift int
	K     uint32
}

// Schedule is the MD4 step table in forward order.
var Schedule = buildSchedule()

func buildSchedule() [48]Step {
	rounds := []struct {
		fn     Func
		k      uint32
		order  [16]int
		shifts [4]int
	}{
		{FuncF, 0, [16]int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}, [4]int{3, 7, 11, 19}},
		{FuncG, K2, [16]int{0, 4, 8, 12, 1, 5, 9, 13, 2, 6, 10, 14, 3, 7, 11, 15}, [4]int{3, 5, 9, 13}},
		{FuncH, K3, [16]int{0, 8, 4, 12, 2, 10, 6, 14, 1, 9, 5, 13, 3, 11, 7, 15}, [4]int{3, 9, 11, 15}},
	}
	// The written register cycles A, D, C, B; inputs follow it in slot order.
	roles := [4][4]int{
		{A, B, C, D},
		{D, A, B, C},
		{C, D, A, B},
		{B, C, D, A},
	}

	var s [48]Step
	for r, round := range rounds {
		for j := 0; j < 16; j++ {
			role := roles[j%4]
			s[16*r+j] = Step{
				Round: r + 1,
				Func:  round.fn,
				Write: role[0],
				In:    [3]int{role[1], role[2], role[3]},
				Index: round.order[j],
				Shift: round.shifts[j%4],
				K:     round.k,
			}
		}
	}
	return s
}

func md4F(x, y, z uint32) uint32 { return z ^ (x & (y ^ z)) }
func md4G(x, y, z uint32) uint32 { return (x & (y | z)) | (y & z) }
func md4H(x, y, z uint32) uint32 { return x ^ y ^ z }

func (f Func) eval(x, y, z uint32) uint32 {
	switch f {
	case FuncF:
		return md4F(x, y, z)
	case FuncG:
		return md4G(x, y, z)
	default:
		return md4H(x, y, z)
	}
}

// Compress runs the 48 steps and the feedforward over one block.
func Compress(state [4]uint32, x *[16]uint32) [4]uint32 {
	r := state
	for _, st := range Schedule {
		v := r[st.Write] + st.Func.eval(r[st.In[0]], r[st.In[1]], r[st.In[2]]) + x[st.Index] + st.K
		r[st.Write] = bits.RotateLeft32(v, st.Shift)
	}
	for i := range r {
		r[i] += state[i]
	}
	return r
}

// Uncompress undoes the feedforward of Init and replays the steps backwards. For
// the block that produced out from Init it returns Init.
func Uncompress(out [4]uint32, x *[16]uint32) [4]uint32 {
	r := out
	for i := range r {
		r[i] -= Init[i]
	}
	for i := len(Schedule) - 1; i >= 0; i-- {
		st := Schedule[i]
		v := bits.RotateLeft32(r[st.Write], -st.Shift)
		r[st.Write] = v - (st.Func.eval(r[st.In[0]], r[st.In[1]], r[st.In[2]]) + x[st.Index] + st.K)
	}
	return r
}

// Words decodes a block into its sixteen little-endian words.
func Words(block []byte) [16]uint32 {
	var x [16]uint32
	for j := 0; j < 16; j++ {
		x[j] = binary.LittleEndian.Uint32(block[j*4:])
	}
	return x
}

// ErrTooLong is returned by Pad when data does not fit in a single block.
var ErrTooLong = errors.New("message does not fit in a single MD4 block")

// Pad returns the single padded block for data: data, a 0x80 byte, zeros, and
// the 64-bit little-endian bit length.
func Pad(data []byte) ([BlockSize]byte, error) {
	var block [BlockSize]byte
	if len(data) > BlockSize-9 {
		return block, fmt.Errorf("%d bytes: %w", len(data), ErrTooLong)
	}
	copy(block[:], data)
	block[len(data)] = 0x80
	binary.LittleEndian.PutUint64(block[BlockSize-8:], uint64(len(data))*8)
	return block, nil
}

// Sum returns the MD4 digest of data.
func Sum(data []byte) Digest {
	h := xmd4.New()
	_, _ = h.Write(data)
	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}

// Digest is a 16-byte MD4 digest in its standard byte order.
type Digest [Size]byte

// ErrMalformedDigest is returned for digests that are not 32 hex digits.
var ErrMalformedDigest = errors.New("malformed MD4 digest")

// ParseDigest parses 32 hex digits, in either case.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	s = strings.TrimSpace(s)
	if len(s) != 2*Size {
		return d, fmt.Errorf("%q: want %d hex digits: %w", s, 2*Size, ErrMalformedDigest)
	}
	if _, err := hex.Decode(d[:], []byte(s)); err != nil {
		return d, fmt.Errorf("%q: %v: %w", s, err, ErrMalformedDigest)
	}
	return d, nil
}

// DigestFromWords serializes a chaining state.
func DigestFromWords(w [4]uint32) Digest {
	var d Digest
	for i, v := range w {
		binary.LittleEndian.PutUint32(d[4*i:], v)
	}
	return d
}

// Words returns the four chaining registers the digest encodes.
func (d Digest) Words() [4]uint32 {
	var w [4]uint32
	for i := range w {
		w[i] = binary.LittleEndian.Uint32(d[4*i:])
	}
	return w
}

// String returns the digest as 32 uppercase hex digits.
func (d Digest) String() string {
	return strings.ToUpper(hex.EncodeToString(d[:]))
}
