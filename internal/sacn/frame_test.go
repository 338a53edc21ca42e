package sacn

import (
	"errors"
	"math/rand"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustEncode(t *testing.T, universe uint16, seq byte, slots []byte) []byte {
	t.Helper()
	b, err := Encode(universe, seq, slots)
	require.NoError(t, err)
	return b
}

func TestDecode_RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for _, n := range []int{0, 1, 3, 100, 511, 512} {
		slots := make([]byte, n)
		rng.Read(slots)
		universe := uint16(rng.Intn(MaxUniverse) + 1)
		seq := byte(rng.Intn(256))

		data := mustEncode(t, universe, seq, slots)
		f, err := Decode(data)
		require.NoError(t, err, "slots=%d", n)

		assert.Equal(t, universe, f.Universe)
		assert.Equal(t, seq, f.Sequence)
		assert.Equal(t, n, f.SlotCount)
		assert.Equal(t, slots, f.Slots[:n])
		assert.Equal(t, make([]byte, MaxSlots-n), f.Slots[n:], "slots must be zero padded")
		assert.Equal(t, data, f.Raw)
	}
}

func TestDecode_Deterministic(t *testing.T) {
	data := mustEncode(t, 7, 42, []byte{1, 2, 3})

	a, err := Decode(data)
	require.NoError(t, err)
	b, err := Decode(data)
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestDecode_DoesNotRetainInput(t *testing.T) {
	data := mustEncode(t, 1, 0, []byte{9, 9, 9})
	f, err := Decode(data)
	require.NoError(t, err)

	for i := range data {
		data[i] = 0
	}
	assert.Equal(t, byte(9), f.Slots[0])
	assert.Equal(t, byte(0x10), f.Raw[1])
}

func TestDecode_Malformed(t *testing.T) {
	valid := func() []byte { return mustEncode(t, 1, 0, []byte{1, 2, 3, 4}) }

	tests := []struct {
		name   string
		mutate func([]byte) []byte
		offset int
	}{
		{"empty", func(b []byte) []byte { return nil }, 0},
		{"too short", func(b []byte) []byte { return b[:HeaderLength-1] }, 0},
		{"bad preamble", func(b []byte) []byte { b[1] = 0x11; return b }, offPreamble},
		{"bad postamble", func(b []byte) []byte { b[3] = 0x01; return b }, offPostamble},
		{"bad packet id", func(b []byte) []byte { b[offPacketID] = 'X'; return b }, offPacketID},
		{"bad root flags", func(b []byte) []byte { b[offRootFlagsLen] &= 0x0f; return b }, offRootFlagsLen},
		{"root length past end", func(b []byte) []byte { b[offRootFlagsLen+1] += 10; return b }, offRootFlagsLen},
		{"sync root vector", func(b []byte) []byte { b[offRootVector+3] = 0x08; return b }, offRootVector},
		{"bad framing vector", func(b []byte) []byte { b[offFrameVector+3] = 0x01; return b }, offFrameVector},
		{"bad dmp vector", func(b []byte) []byte { b[offDMPVector] = 0x01; return b }, offDMPVector},
		{"bad address type", func(b []byte) []byte { b[offAddrType] = 0x00; return b }, offAddrType},
		{"bad first address", func(b []byte) []byte { b[offFirstAddr+1] = 1; return b }, offFirstAddr},
		{"bad increment", func(b []byte) []byte { b[offAddrInc+1] = 2; return b }, offAddrInc},
		{"zero value count", func(b []byte) []byte { b[offValueCount], b[offValueCount+1] = 0, 0; return b }, offValueCount},
		{"value count over 513", func(b []byte) []byte { b[offValueCount], b[offValueCount+1] = 0x02, 0x02; return b }, offValueCount},
		{"value count past end", func(b []byte) []byte { b[offValueCount+1] = 50; return b }, offValueCount},
		{"universe zero", func(b []byte) []byte { b[offUniverse], b[offUniverse+1] = 0, 0; return b }, offUniverse},
		{"universe too high", func(b []byte) []byte { b[offUniverse], b[offUniverse+1] = 0xfa, 0x00; return b }, offUniverse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.mutate(valid()))
			require.Error(t, err)

			var de *DecodeError
			require.True(t, errors.As(err, &de))
			assert.Equal(t, tt.offset, de.Offset)
		})
	}
}

func TestDecode_NeverPanics(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	valid := mustEncode(t, 300, 1, make([]byte, 512))

	assert.NotPanics(t, func() {
		for i := 0; i < 2000; i++ {
			// truncations of a valid packet
			_, _ = Decode(valid[:rng.Intn(len(valid)+1)])

			// random garbage
			buf := make([]byte, rng.Intn(700))
			rng.Read(buf)
			_, _ = Decode(buf)

			// single corrupted byte in the header
			c := append([]byte(nil), valid...)
			c[rng.Intn(HeaderLength)] ^= byte(rng.Intn(255) + 1)
			_, _ = Decode(c)
		}
	})
}

func TestPacket_EncodeLimits(t *testing.T) {
	_, err := Encode(1, 0, make([]byte, MaxSlots+1))
	assert.Error(t, err)

	p := &Packet{Universe: 1, SourceName: string(make([]byte, 64))}
	_, err = p.Encode()
	assert.Error(t, err)
}

func TestPacket_StartCodeRelayed(t *testing.T) {
	p := &Packet{Universe: 2, StartCode: 0xdd, Slots: []byte{100, 100}}
	data, err := p.Encode()
	require.NoError(t, err)

	f, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, byte(0xdd), f.StartCode)
	assert.Equal(t, 2, f.SlotCount)
}

func TestMulticastGroup(t *testing.T) {
	tests := []struct {
		universe uint16
		want     string
	}{
		{1, "239.255.0.1"},
		{7, "239.255.0.7"},
		{256, "239.255.1.0"},
		{63999, "239.255.249.255"},
	}

	for _, tt := range tests {
		g := MulticastGroup(tt.universe)
		assert.True(t, g.IP.Equal(net.ParseIP(tt.want)), "universe %d: got %v", tt.universe, g.IP)
		assert.Equal(t, Port, g.Port)
	}
}

func TestValidUniverse(t *testing.T) {
	assert.False(t, ValidUniverse(0))
	assert.True(t, ValidUniverse(1))
	assert.True(t, ValidUniverse(63999))
	assert.False(t, ValidUniverse(64000))
}
