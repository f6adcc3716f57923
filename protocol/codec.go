package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
)

var ErrMalformedPacket = errors.New("malformed rip packet")

// Validate checks the fixed header and the overall length of a RIP payload.
func Validate(b []byte) error {
	if len(b) < HeaderSize {
		return fmt.Errorf("%w: length %d shorter than header", ErrMalformedPacket, len(b))
	}
	cmd := Command(b[0])
	if cmd != CommandRequest && cmd != CommandResponse {
		return fmt.Errorf("%w: unknown %s", ErrMalformedPacket, cmd)
	}
	if b[1] != Version {
		return fmt.Errorf("%w: version %d", ErrMalformedPacket, b[1])
	}
	if binary.BigEndian.Uint16(b[2:4]) != 0 {
		return fmt.Errorf("%w: reserved field is not zero", ErrMalformedPacket)
	}
	body := len(b) - HeaderSize
	if body%EntrySize != 0 {
		return fmt.Errorf("%w: %d trailing bytes", ErrMalformedPacket, body%EntrySize)
	}
	if body/EntrySize > MaxEntries {
		return fmt.Errorf("%w: %d entries exceeds maximum of %d", ErrMalformedPacket, body/EntrySize, MaxEntries)
	}
	return nil
}

func Decode(b []byte) (*Packet, error) {
	if err := Validate(b); err != nil {
		return nil, err
	}
	p := &Packet{
		Command: Command(b[0]),
		Version: b[1],
		Entries: make([]Entry, 0, (len(b)-HeaderSize)/EntrySize),
	}
	for off := HeaderSize; off+EntrySize <= len(b); off += EntrySize {
		p.Entries = append(p.Entries, decodeEntry(b[off:off+EntrySize]))
	}
	return p, nil
}

func decodeEntry(b []byte) Entry {
	return Entry{
		Family:  binary.BigEndian.Uint16(b[0:2]),
		Tag:     binary.BigEndian.Uint16(b[2:4]),
		Address: netip.AddrFrom4([4]byte(b[4:8])),
		Mask:    netip.AddrFrom4([4]byte(b[8:12])),
		NextHop: netip.AddrFrom4([4]byte(b[12:16])),
		Metric:  binary.BigEndian.Uint32(b[16:20]),
	}
}

// AppendHeader marshals the fixed header. A zero version is written as Version.
func AppendHeader(buf []byte, cmd Command, version uint8) []byte {
	if version == 0 {
		version = Version
	}
	return append(buf, byte(cmd), version, 0, 0)
}

// AppendEntry marshals e onto buf. The next hop is always written as 0.0.0.0
// and the metric is clamped to [1, Infinity].
func AppendEntry(buf []byte, e Entry) []byte {
	buf = binary.BigEndian.AppendUint16(buf, e.Family)
	buf = binary.BigEndian.AppendUint16(buf, e.Tag)
	buf = appendAddr(buf, e.Address)
	buf = appendAddr(buf, e.Mask)
	buf = appendAddr(buf, netip.IPv4Unspecified())
	return binary.BigEndian.AppendUint32(buf, ClampMetric(e.Metric))
}

func appendAddr(buf []byte, a netip.Addr) []byte {
	if !a.Is4() {
		return append(buf, 0, 0, 0, 0)
	}
	b := a.As4()
	return append(buf, b[:]...)
}

// Encode marshals p. Packets built without a version are sent as version 2.
func (p *Packet) Encode() ([]byte, error) {
	if len(p.Entries) > MaxEntries {
		return nil, fmt.Errorf("packet has %d entries, maximum is %d", len(p.Entries), MaxEntries)
	}
	buf := make([]byte, 0, HeaderSize+len(p.Entries)*EntrySize)
	buf = AppendHeader(buf, p.Command, p.Version)
	for _, e := range p.Entries {
		buf = AppendEntry(buf, e)
	}
	return buf, nil
}
