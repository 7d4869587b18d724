package artnet

import "fmt"

// Address is the 15-bit Art-Net port address: 7 bits of net, 4 bits of
// subnet and 4 bits of universe.
type Address struct {
	Net      uint8 // 0..127
	Subnet   uint8 // 0..15
	Universe uint8 // 0..15
}

// NewAddress builds an Address from raw parts. Overflowing parts carry
// upward (universe into subnet, subnet into net) before the range check, so
// NewAddress(0, 0, 16) yields subnet 1 universe 0 rather than an error.
// Combinations that still exceed the 15-bit ceiling after carrying fail with
// ErrInvalidAddress.
func NewAddress(net, subnet, universe int) (Address, error) {
	if net < 0 || subnet < 0 || universe < 0 {
		return Address{}, fmt.Errorf("%w: negative part", ErrInvalidAddress)
	}

	subnet += universe >> 4
	universe &= 0x0f
	net += subnet >> 4
	subnet &= 0x0f

	if net > 127 {
		return Address{}, fmt.Errorf("%w: net %d exceeds 127", ErrInvalidAddress, net)
	}

	return Address{Net: uint8(net), Subnet: uint8(subnet), Universe: uint8(universe)}, nil
}

// AddressFromInteger is the inverse of Integer.
func AddressFromInteger(v int) (Address, error) {
	if v < 0 || v > 0x7fff {
		return Address{}, fmt.Errorf("%w: %d outside 0..32767", ErrInvalidAddress, v)
	}
	return Address{
		Net:      uint8(v >> 8),
		Subnet:   uint8(v>>4) & 0x0f,
		Universe: uint8(v) & 0x0f,
	}, nil
}

// Integer packs the address into its 15-bit wire form.
func (a Address) Integer() int {
	return int(a.Net)<<8 | int(a.Subnet)<<4 | int(a.Universe)
}

// LowByte is the (subnet<<4)|universe byte carried in ArtDmx packets.
func (a Address) LowByte() uint8 {
	return a.Subnet<<4 | a.Universe
}

func (a Address) String() string {
	return fmt.Sprintf("%d:%d:%d", a.Net, a.Subnet, a.Universe)
}
