//go:build !linux

package sys

import (
	"errors"
	"fmt"
	"net"
	"net/netip"

	"github.com/encodeous/ripd/state"
)

func VerifyForwarding() error {
	return nil
}

func ResolveInterfaces(cfg *state.Config) (state.Interfaces, error) {
	out := make(state.Interfaces, 0, len(cfg.Interfaces))
	for _, ic := range cfg.Interfaces {
		ifi, err := net.InterfaceByName(ic.Name)
		if err != nil {
			return nil, fmt.Errorf("interface %s: %w", ic.Name, err)
		}
		out = append(out, state.Interface{
			Name:   ic.Name,
			Addr:   ic.Address,
			HwAddr: ifi.HardwareAddr,
			Cost:   ic.Cost,
			Index:  ifi.Index,
		})
	}
	return out, nil
}

// LookupNeighbour has no kernel neighbour table to consult on this platform.
func LookupNeighbour(iface string, addr netip.Addr) (net.HardwareAddr, error) {
	return nil, errors.ErrUnsupported
}

type KernelFIB struct{}

func NewKernelFIB(ifaces state.Interfaces) (*KernelFIB, error) {
	return nil, fmt.Errorf("installing kernel routes: %w", errors.ErrUnsupported)
}

func (f *KernelFIB) Replace(r state.Route) error {
	return errors.ErrUnsupported
}

func (f *KernelFIB) Delete(r state.Route) error {
	return errors.ErrUnsupported
}
