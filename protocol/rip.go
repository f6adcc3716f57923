package protocol

import (
	"fmt"
	"net/netip"
)

// Wire constants for RIP version 2.
const (
	Version    = 2
	Port       = 520
	HeaderSize = 4
	EntrySize  = 20
	MaxEntries = 25
	Infinity   = 16

	// MaxPacketSize is the largest payload we ever emit or accept.
	MaxPacketSize = HeaderSize + MaxEntries*EntrySize
)

// Address family identifiers carried in each entry.
const (
	AFUnspec uint16 = 0
	AFInet   uint16 = 2
)

// MulticastGroup is the all-RIP-routers group used for broadcasts and startup requests.
var MulticastGroup = netip.AddrFrom4([4]byte{224, 0, 0, 9})

type Command uint8

const (
	CommandRequest  Command = 1
	CommandResponse Command = 2
)

func (c Command) String() string {
	switch c {
	case CommandRequest:
		return "request"
	case CommandResponse:
		return "response"
	default:
		return fmt.Sprintf("command(%d)", uint8(c))
	}
}

// Entry is one route record as it appears on the wire.
type Entry struct {
	Family  uint16
	Tag     uint16
	Address netip.Addr
	Mask    netip.Addr
	NextHop netip.Addr
	Metric  uint32
}

// Prefix converts the address and mask pair into a canonical prefix.
// Non-contiguous masks cannot be represented and are rejected.
func (e Entry) Prefix() (netip.Prefix, error) {
	if !e.Address.Is4() || !e.Mask.Is4() {
		return netip.Prefix{}, fmt.Errorf("%w: entry is not ipv4", ErrMalformedPacket)
	}
	bits, err := MaskBits(e.Mask)
	if err != nil {
		return netip.Prefix{}, err
	}
	return netip.PrefixFrom(e.Address, bits).Masked(), nil
}

func (e Entry) String() string {
	return fmt.Sprintf("afi=%d tag=%d %s/%s nh=%s metric=%d", e.Family, e.Tag, e.Address, e.Mask, e.NextHop, e.Metric)
}

// EntryFor builds an AF_INET entry for prefix, the inverse of Entry.Prefix.
func EntryFor(prefix netip.Prefix, tag uint16, metric uint32) Entry {
	return Entry{
		Family:  AFInet,
		Tag:     tag,
		Address: prefix.Masked().Addr(),
		Mask:    MaskFromBits(prefix.Bits()),
		NextHop: netip.IPv4Unspecified(),
		Metric:  metric,
	}
}

type Packet struct {
	Command Command
	Version uint8
	Entries []Entry
}

// IsWholeTableRequest reports whether p asks for the full routing table:
// a single entry with address family 0 and an infinite metric.
func (p *Packet) IsWholeTableRequest() bool {
	return p.Command == CommandRequest &&
		len(p.Entries) == 1 &&
		p.Entries[0].Family == AFUnspec &&
		p.Entries[0].Metric == Infinity
}

// NewWholeTableRequest builds the request sent on every interface at startup.
func NewWholeTableRequest() *Packet {
	return &Packet{
		Command: CommandRequest,
		Version: Version,
		Entries: []Entry{{
			Family:  AFUnspec,
			Address: netip.IPv4Unspecified(),
			Mask:    netip.IPv4Unspecified(),
			NextHop: netip.IPv4Unspecified(),
			Metric:  Infinity,
		}},
	}
}

// ClampMetric normalises a metric into the range a receiver accepts.
func ClampMetric(m uint32) uint32 {
	return min(max(m, 1), Infinity)
}

// MaskBits returns the prefix length of a contiguous ipv4 netmask.
func MaskBits(mask netip.Addr) (int, error) {
	b := mask.As4()
	v := uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
	ones := 0
	for v&0x80000000 != 0 {
		ones++
		v <<= 1
	}
	if v != 0 {
		return 0, fmt.Errorf("%w: non-contiguous mask %s", ErrMalformedPacket, mask)
	}
	return ones, nil
}

func MaskFromBits(bits int) netip.Addr {
	var v uint32
	if bits > 0 {
		v = ^uint32(0) << (32 - bits)
	}
	return netip.AddrFrom4([4]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)})
}
