package sys

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"slices"
	"syscall"
	"time"

	"github.com/encodeous/ripd/state"
	"github.com/j-keck/arping"
	"github.com/vishvananda/netlink"
)

// RouteProtocol marks the routes ripd installs, matching "proto rip" in iproute2.
const RouteProtocol netlink.RouteProtocol = 189

func VerifyForwarding() error {
	forward, err := os.ReadFile("/proc/sys/net/ipv4/ip_forward")
	if err != nil {
		return err
	}
	if string(forward) != "1\n" {
		return fmt.Errorf("IP forwarding is not enabled. Please enable IP forwarding to use ripd as a router")
	}
	return nil
}

// ResolveInterfaces checks every configured interface against the kernel and
// fills in its index and hardware address.
func ResolveInterfaces(cfg *state.Config) (state.Interfaces, error) {
	out := make(state.Interfaces, 0, len(cfg.Interfaces))
	for _, ic := range cfg.Interfaces {
		link, err := netlink.LinkByName(ic.Name)
		if err != nil {
			return nil, fmt.Errorf("interface %s: %w", ic.Name, err)
		}
		addrs, err := netlink.AddrList(link, netlink.FAMILY_V4)
		if err != nil {
			return nil, fmt.Errorf("interface %s: list addresses: %w", ic.Name, err)
		}
		if !slices.ContainsFunc(addrs, func(a netlink.Addr) bool {
			return a.IPNet != nil && a.IPNet.IP.Equal(ic.Address.Addr().AsSlice())
		}) {
			return nil, fmt.Errorf("interface %s does not carry address %s", ic.Name, ic.Address.Addr())
		}
		attrs := link.Attrs()
		out = append(out, state.Interface{
			Name:   ic.Name,
			Addr:   ic.Address,
			HwAddr: attrs.HardwareAddr,
			Cost:   ic.Cost,
			Index:  attrs.Index,
		})
	}
	return out, nil
}

func init() {
	arping.SetTimeout(ArpTimeout)
}

// ArpTimeout bounds the active probe made when the kernel has no usable entry.
var ArpTimeout = 250 * time.Millisecond

// LookupNeighbour resolves addr on iface from the kernel neighbour table,
// falling back to an ARP probe.
func LookupNeighbour(iface string, addr netip.Addr) (net.HardwareAddr, error) {
	link, err := netlink.LinkByName(iface)
	if err != nil {
		return nil, err
	}
	neighs, err := netlink.NeighList(link.Attrs().Index, netlink.FAMILY_V4)
	if err != nil {
		return nil, err
	}
	ip := addr.AsSlice()
	for _, n := range neighs {
		if !n.IP.Equal(ip) {
			continue
		}
		if n.State&(netlink.NUD_REACHABLE|netlink.NUD_STALE|netlink.NUD_DELAY|netlink.NUD_PROBE|netlink.NUD_PERMANENT) != 0 {
			return n.HardwareAddr, nil
		}
		break
	}
	hw, _, err := arping.PingOverIfaceByName(ip, iface)
	if err != nil {
		return nil, fmt.Errorf("neighbour %s not resolved on %s: %w", addr, iface, err)
	}
	return hw, nil
}

// KernelFIB mirrors learned routes into the main kernel routing table.
type KernelFIB struct {
	links map[string]int
}

func NewKernelFIB(ifaces state.Interfaces) (*KernelFIB, error) {
	f := &KernelFIB{links: make(map[string]int)}
	for _, i := range ifaces {
		idx := i.Index
		if idx == 0 {
			link, err := netlink.LinkByName(i.Name)
			if err != nil {
				return nil, err
			}
			idx = link.Attrs().Index
		}
		f.links[i.Name] = idx
	}
	return f, nil
}

func (f *KernelFIB) route(r state.Route) (*netlink.Route, error) {
	idx, ok := f.links[r.Iface]
	if !ok {
		return nil, fmt.Errorf("no link for interface %s", r.Iface)
	}
	return &netlink.Route{
		LinkIndex: idx,
		Dst: &net.IPNet{
			IP:   r.Prefix.Addr().AsSlice(),
			Mask: net.CIDRMask(r.Prefix.Bits(), 32),
		},
		Gw:       r.Gateway.AsSlice(),
		Protocol: RouteProtocol,
	}, nil
}

func (f *KernelFIB) Replace(r state.Route) error {
	nr, err := f.route(r)
	if err != nil {
		return err
	}
	return netlink.RouteReplace(nr)
}

func (f *KernelFIB) Delete(r state.Route) error {
	nr, err := f.route(r)
	if err != nil {
		return err
	}
	// the gateway may have changed since the route was installed
	nr.Gw = nil
	err = netlink.RouteDel(nr)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}
