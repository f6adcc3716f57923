//go:build integration

package integration

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/netip"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/encodeous/ripd/core"
	"github.com/encodeous/ripd/protocol"
	"github.com/encodeous/ripd/state"
)

type Signal chan bool

func NewSignal() Signal {
	return make(chan bool)
}
func (s Signal) Trigger() {
	select {
	case <-s:
	default:
		close(s)
	}
}
func (s Signal) Triggered() bool {
	select {
	case <-s:
		return true
	default:
		return false
	}
}
func (s Signal) Wait() {
	<-s
}

// TestTimers are short enough for a network to converge in well under a second.
var TestTimers = state.TimerCfg{
	Advertise:         40 * time.Millisecond,
	Timeout:           240 * time.Millisecond,
	GarbageCollection: 160 * time.Millisecond,
	Poll:              10 * time.Millisecond,
	RequestDelay:      10 * time.Millisecond,
}

type port struct {
	node  *Node
	iface string
	addr  netip.Addr
}

// Segment is a broadcast link between any number of routers.
type Segment struct {
	Name       string
	Prefix     netip.Prefix
	Cost       uint32
	PacketLoss float64
	up         bool
	ports      []*port
}

func (s *Segment) WithPacketLoss(loss float64) *Segment {
	s.PacketLoss = loss
	return s
}

type Node struct {
	Id        string
	Cfg       state.Config
	Router    *core.RipRouter
	transport *VirtualTransport
	cancel    context.CancelFunc
	done      chan error
}

// AddrOn returns the address of the node on segment seg.
func (n *Node) AddrOn(seg *Segment) netip.Addr {
	for _, p := range seg.ports {
		if p.node == n {
			return p.addr
		}
	}
	return netip.Addr{}
}

// VirtualTransport delivers datagrams between routers of an InMemoryNetwork.
type VirtualTransport struct {
	node    *Node
	net     *InMemoryNetwork
	inbound chan core.Inbound
	closed  Signal
}

func (v *VirtualTransport) Send(iface string, dst netip.Addr, payload []byte) error {
	return v.net.deliver(v.node, iface, dst, payload)
}

func (v *VirtualTransport) Receive(ctx context.Context) (core.Inbound, error) {
	select {
	case in := <-v.inbound:
		return in, nil
	case <-v.closed:
		return core.Inbound{}, errors.New("transport closed")
	case <-ctx.Done():
		return core.Inbound{}, ctx.Err()
	}
}

func (v *VirtualTransport) Close() error {
	v.closed.Trigger()
	return nil
}

type InMemoryNetwork struct {
	mu       sync.Mutex
	segments map[string]*Segment
	// TransitHandler sees every delivered datagram, return false to drop it
	TransitHandler func(seg *Segment, from, to *Node, pkt *protocol.Packet) bool
}

func (i *InMemoryNetwork) deliver(from *Node, iface string, dst netip.Addr, payload []byte) error {
	i.mu.Lock()
	seg, ok := i.segments[iface]
	if !ok {
		i.mu.Unlock()
		return fmt.Errorf("no segment %s", iface)
	}
	up := seg.up
	loss := seg.PacketLoss
	ports := append([]*port(nil), seg.ports...)
	handler := i.TransitHandler
	i.mu.Unlock()

	if !up || rand.Float64() < loss {
		return nil
	}
	src := from.AddrOn(seg)
	var pkt *protocol.Packet
	if handler != nil {
		var err error
		if pkt, err = protocol.Decode(payload); err != nil {
			return err
		}
	}
	for _, p := range ports {
		if p.node == from {
			continue
		}
		if !dst.IsMulticast() && dst != p.addr {
			continue
		}
		if handler != nil && !handler(seg, from, p.node, pkt) {
			continue
		}
		in := core.Inbound{Iface: p.iface, Src: src, Payload: append([]byte(nil), payload...)}
		select {
		case p.node.transport.inbound <- in:
		case <-p.node.transport.closed:
		default:
			// receiver is not keeping up, behave like a full socket buffer
		}
	}
	return nil
}

// lookup resolves the addresses of nodes that share a segment with from.
func (i *InMemoryNetwork) lookup(from *Node) core.NeighbourLookup {
	return func(iface string, a netip.Addr) (net.HardwareAddr, error) {
		i.mu.Lock()
		defer i.mu.Unlock()
		seg, ok := i.segments[iface]
		if !ok || !seg.up {
			return nil, fmt.Errorf("no segment %s", iface)
		}
		for idx, p := range seg.ports {
			if p.node != from && p.addr == a {
				return net.HardwareAddr{0x02, 0, 0, 0, 0, byte(idx + 1)}, nil
			}
		}
		return nil, fmt.Errorf("%s not on %s", a, iface)
	}
}

type VirtualHarness struct {
	Timers  state.TimerCfg
	Net     *InMemoryNetwork
	Nodes   map[string]*Node
	Verbose bool
	order   []string
}

func NewHarness() *VirtualHarness {
	return &VirtualHarness{
		Timers: TestTimers,
		Net:    &InMemoryNetwork{segments: make(map[string]*Segment)},
		Nodes:  make(map[string]*Node),
	}
}

func (v *VirtualHarness) NewNode(id string) *Node {
	n := &Node{Id: id, Cfg: state.DefaultConfig(id)}
	n.Cfg.Timers = v.Timers
	n.Cfg.ControlSocket = ""
	v.Nodes[id] = n
	v.order = append(v.order, id)
	return n
}

// Link connects nodes with a segment. The nth node gets host address n+1 of
// prefix, and every node names its interface after the segment.
func (v *VirtualHarness) Link(name, prefix string, cost uint32, nodes ...*Node) *Segment {
	pfx := netip.MustParsePrefix(prefix)
	seg := &Segment{Name: name, Prefix: pfx, Cost: cost, up: true}
	host := pfx.Addr()
	for _, n := range nodes {
		host = host.Next()
		seg.ports = append(seg.ports, &port{node: n, iface: name, addr: host})
		n.Cfg.Interfaces = append(n.Cfg.Interfaces, state.InterfaceCfg{
			Name:    name,
			Address: netip.PrefixFrom(host, pfx.Bits()),
			Cost:    cost,
		})
	}
	v.Net.segments[name] = seg
	return seg
}

func (v *VirtualHarness) SetLinkUp(seg *Segment, up bool) {
	v.Net.mu.Lock()
	defer v.Net.mu.Unlock()
	seg.up = up
}

// Start validates every node's config and runs its router.
func (v *VirtualHarness) Start(t *testing.T) {
	t.Helper()
	for _, id := range v.order {
		n := v.Nodes[id]
		if err := state.ConfigValidator(&n.Cfg); err != nil {
			t.Fatalf("node %s: %v", id, err)
		}
		var out io.Writer = io.Discard
		level := slog.LevelInfo
		if v.Verbose {
			out = os.Stderr
			level = slog.LevelDebug
		}
		logger, err := core.NewLogger(id, "", level, out)
		if err != nil {
			t.Fatal(err)
		}
		n.transport = &VirtualTransport{
			node:    n,
			net:     v.Net,
			inbound: make(chan core.Inbound, 256),
			closed:  NewSignal(),
		}
		n.Router = core.NewRipRouter(n.Cfg, n.Cfg.StaticInterfaces(), n.transport, nil, logger)
		n.Router.Neighbours.SetLookup(v.Net.lookup(n))
	}
	for _, id := range v.order {
		v.StartNode(v.Nodes[id])
	}
}

func (v *VirtualHarness) StartNode(n *Node) {
	ctx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel
	n.done = make(chan error, 1)
	go func() {
		n.done <- n.Router.Run(ctx)
	}()
}

// StopNode cancels one router and waits for it to exit.
func (v *VirtualHarness) StopNode(t *testing.T, n *Node) {
	t.Helper()
	if n.cancel == nil {
		return
	}
	n.cancel()
	select {
	case err := <-n.done:
		if err != nil {
			t.Errorf("node %s stopped with %v", n.Id, err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("node %s did not stop", n.Id)
	}
	n.cancel = nil
	_ = n.transport.Close()
}

func (v *VirtualHarness) Stop(t *testing.T) {
	t.Helper()
	for _, id := range v.order {
		v.StopNode(t, v.Nodes[id])
	}
}

// Route looks up prefix in the table of n.
func (n *Node) Route(prefix string) (state.Route, bool) {
	return n.Router.Table.Get(netip.MustParsePrefix(prefix))
}

// WaitFor polls cond until it holds or the timeout passes.
func WaitFor(t *testing.T, what string, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
