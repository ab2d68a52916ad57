package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVarintBoundaries(t *testing.T) {
	cases := []struct {
		v    uint64
		n    int
		b0hi byte
	}{
		{0, 1, 0x00},
		{63, 1, 0x00},
		{64, 2, 0x40},
		{16383, 2, 0x40},
		{16384, 4, 0x80},
		{1073741823, 4, 0x80},
		{1073741824, 8, 0xc0},
		{maxVarintValue, 8, 0xc0},
	}
	for _, c := range cases {
		assert.Equal(t, c.n, varintLen(c.v), "varintLen(%d)", c.v)
		buf := make([]byte, 8)
		n := putVarint(buf, c.v)
		require.Equal(t, c.n, n)
		assert.Equal(t, c.b0hi, buf[0]&0xc0)
		var got uint64
		n2 := getVarint(buf[:n], &got)
		require.Equal(t, c.n, n2)
		assert.Equal(t, c.v, got)
	}
}

func TestGetVarintShortBuffer(t *testing.T) {
	var out uint64
	assert.Equal(t, 0, getVarint(nil, &out))
	// First byte claims an 8-byte encoding but only 3 bytes follow.
	assert.Equal(t, 0, getVarint([]byte{0xc0, 0x01, 0x02}, &out))
}

func TestAppendVarint(t *testing.T) {
	b := appendVarint(appendVarint(nil, 37), 15293)
	var v1, v2 uint64
	n := getVarint(b, &v1)
	require.NotZero(t, n)
	m := getVarint(b[n:], &v2)
	require.NotZero(t, m)
	assert.Equal(t, uint64(37), v1)
	assert.Equal(t, uint64(15293), v2)
}
