package state

import (
	"fmt"
	"net"
	"net/netip"
	"slices"
)

// Interface is a local interface the router speaks RIP on.
type Interface struct {
	Name   string
	Addr   netip.Prefix // our address on the link, with the link prefix length
	HwAddr net.HardwareAddr
	Cost   uint32
	Index  int
}

// LinkCost is the metric added to routes learned over this interface.
func (i Interface) LinkCost() uint32 {
	if i.Cost == 0 {
		return 1
	}
	return i.Cost
}

// Network is the directly connected prefix of the interface.
func (i Interface) Network() netip.Prefix {
	return i.Addr.Masked()
}

func (i Interface) String() string {
	return fmt.Sprintf("%s(%s cost %d)", i.Name, i.Addr, i.LinkCost())
}

// Interfaces is the immutable set of interfaces, built once at startup.
type Interfaces []Interface

func (is Interfaces) ByName(name string) (Interface, bool) {
	idx := slices.IndexFunc(is, func(i Interface) bool {
		return i.Name == name
	})
	if idx == -1 {
		return Interface{}, false
	}
	return is[idx], true
}

// ByAddr finds the interface that owns addr as its local address.
func (is Interfaces) ByAddr(addr netip.Addr) (Interface, bool) {
	idx := slices.IndexFunc(is, func(i Interface) bool {
		return i.Addr.Addr() == addr
	})
	if idx == -1 {
		return Interface{}, false
	}
	return is[idx], true
}

func (is Interfaces) ByIndex(index int) (Interface, bool) {
	idx := slices.IndexFunc(is, func(i Interface) bool {
		return i.Index != 0 && i.Index == index
	})
	if idx == -1 {
		return Interface{}, false
	}
	return is[idx], true
}

func (is Interfaces) Names() []string {
	names := make([]string, 0, len(is))
	for _, i := range is {
		names = append(names, i.Name)
	}
	return names
}
