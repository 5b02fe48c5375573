package md4

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Known test vectors from RFC 1320
var rfc1320 = []struct {
	name     string
	input    string
	expected string
}{
	{"empty string", "", "31D6CFE0D16AE931B73C59D7E0C089C0"},
	{"single character 'a'", "a", "BDE52CB31DE33E46245E05FBDBD6FB24"},
	{"abc", "abc", "A448017AAF21D8525FC10AE87AA6729D"},
	{"message digest", "message digest", "D9130A8164549FE818874806E1C7014B"},
	{"alphabet", "abcdefghijklmnopqrstuvwxyz", "D79E1C308AA5BBCDEEA8ED63DF412DA9"},
	{
		"alphanumeric",
		"ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789",
		"043F8582F241DB351CE627E153E7F0E4",
	},
	{
		"numeric sequence",
		"12345678901234567890123456789012345678901234567890123456789012345678901234567890",
		"E33B4DDC9C38F2199C3E7B164FCC0536",
	},
}

func TestSum(t *testing.T) {
	for _, tt := range rfc1320 {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Sum([]byte(tt.input)).String())
		})
	}
}

func TestCompressMatchesSumForSingleBlocks(t *testing.T) {
	for _, tt := range rfc1320 {
		if len(tt.input) > BlockSize-9 {
			continue
		}
		t.Run(tt.name, func(t *testing.T) {
			block, err := Pad([]byte(tt.input))
			require.NoError(t, err)
			x := Words(block[:])
			got := DigestFromWords(Compress(Init, &x))
			assert.Equal(t, tt.expected, got.String())
		})
	}
}

func TestUncompressRecoversInit(t *testing.T) {
	for _, input := range []string{"", "a", "password", strings.Repeat("z", 55)} {
		block, err := Pad([]byte(input))
		require.NoError(t, err)
		x := Words(block[:])
		out := Compress(Init, &x)
		assert.Equal(t, Init, Uncompress(out, &x), "input %q", input)

		out[0] ^= 1
		assert.NotEqual(t, Init, Uncompress(out, &x))
	}
}

func TestPad(t *testing.T) {
	block, err := Pad([]byte("A\x00"))
	require.NoError(t, err)
	assert.Equal(t, byte('A'), block[0])
	assert.Equal(t, byte(0x80), block[2])
	assert.Equal(t, byte(16), block[56])
	assert.Equal(t, byte(0), block[57])

	_, err = Pad(make([]byte, 56))
	assert.ErrorIs(t, err, ErrTooLong)
	_, err = Pad(make([]byte, 55))
	assert.NoError(t, err)
}

func TestScheduleRoles(t *testing.T) {
	writes := []int{A, D, C, B}
	for i, st := range Schedule {
		assert.Equal(t, writes[i%4], st.Write, "step %d", i+1)
		assert.Equal(t, (st.Write+1)%4, st.In[0])
		assert.Equal(t, (st.Write+2)%4, st.In[1])
		assert.Equal(t, (st.Write+3)%4, st.In[2])
		assert.Equal(t, i/16+1, st.Round)
	}

	assert.Equal(t, Step{Round: 1, Func: FuncF, Write: B, In: [3]int{C, D, A}, Index: 15, Shift: 19}, Schedule[15])
	assert.Equal(t, Step{Round: 2, Func: FuncG, Write: D, In: [3]int{A, B, C}, Index: 4, Shift: 5, K: K2}, Schedule[17])
	assert.Equal(t, Step{Round: 3, Func: FuncH, Write: B, In: [3]int{C, D, A}, Index: 15, Shift: 15, K: K3}, Schedule[47])

	seen := make(map[int]int)
	for _, st := range Schedule {
		seen[st.Index]++
	}
	for i := 0; i < 16; i++ {
		assert.Equal(t, 3, seen[i], "message word %d", i)
	}
}

func TestParseDigest(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"uppercase", "31D6CFE0D16AE931B73C59D7E0C089C0", false},
		{"lowercase", "31d6cfe0d16ae931b73c59d7e0c089c0", false},
		{"surrounding space", " 31d6cfe0d16ae931b73c59d7e0c089c0\n", false},
		{"too short", "31D6CFE0", true},
		{"too long", "31D6CFE0D16AE931B73C59D7E0C089C000", true},
		{"not hex", "ZZD6CFE0D16AE931B73C59D7E0C089C0", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := ParseDigest(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedDigest)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "31D6CFE0D16AE931B73C59D7E0C089C0", d.String())
		})
	}
}

func TestDigestWords(t *testing.T) {
	d, err := ParseDigest("31D6CFE0D16AE931B73C59D7E0C089C0")
	require.NoError(t, err)
	w := d.Words()
	assert.Equal(t, uint32(0xE0CFD631), w[0])
	assert.Equal(t, d, DigestFromWords(w))
}
