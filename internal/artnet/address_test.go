package artnet

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAddressCarries(t *testing.T) {
	tests := []struct {
		name                    string
		net, subnet, universe   int
		wantNet, wantSub, wantU uint8
	}{
		{"plain", 1, 2, 3, 1, 2, 3},
		{"universe carries into subnet", 0, 0, 16, 0, 1, 0},
		{"universe carries twice", 0, 0, 35, 0, 2, 3},
		{"subnet carries into net", 0, 16, 0, 1, 0, 0},
		{"chained carry", 0, 15, 16, 1, 0, 0},
		{"max without overflow", 127, 15, 15, 127, 15, 15},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			a, err := NewAddress(tc.net, tc.subnet, tc.universe)
			require.NoError(t, err)
			assert.Equal(t, tc.wantNet, a.Net)
			assert.Equal(t, tc.wantSub, a.Subnet)
			assert.Equal(t, tc.wantU, a.Universe)
		})
	}
}

func TestNewAddressOverflow(t *testing.T) {
	for _, parts := range [][3]int{
		{128, 0, 0},
		{127, 15, 16}, // carry pushes net to 128
		{127, 16, 0},
		{-1, 0, 0},
	} {
		_, err := NewAddress(parts[0], parts[1], parts[2])
		require.Error(t, err, "parts %v", parts)
		assert.True(t, errors.Is(err, ErrInvalidAddress))
	}
}

func TestAddressIntegerRoundTrip(t *testing.T) {
	for _, parts := range [][3]int{
		{0, 0, 0}, {0, 0, 15}, {0, 15, 15}, {127, 15, 15}, {3, 2, 1}, {0, 1, 16},
	} {
		a, err := NewAddress(parts[0], parts[1], parts[2])
		require.NoError(t, err)

		v := a.Integer()
		require.GreaterOrEqual(t, v, 0)
		require.LessOrEqual(t, v, 0x7fff)

		back, err := AddressFromInteger(v)
		require.NoError(t, err)
		assert.Equal(t, a, back)
	}
}

func TestAddressFromIntegerBounds(t *testing.T) {
	_, err := AddressFromInteger(0x8000)
	assert.True(t, errors.Is(err, ErrInvalidAddress))
	_, err = AddressFromInteger(-1)
	assert.True(t, errors.Is(err, ErrInvalidAddress))
}

func TestAddressLowByte(t *testing.T) {
	a, err := NewAddress(7, 3, 9)
	require.NoError(t, err)
	assert.Equal(t, uint8(0x39), a.LowByte())
	assert.Equal(t, 7<<8|3<<4|9, a.Integer())
}
