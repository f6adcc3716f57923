package mock

import (
	"context"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/encodeous/ripd/core"
	"github.com/encodeous/ripd/protocol"
	"github.com/encodeous/ripd/state"
)

// MockCfg returns a valid configuration for a router named id with one /24 per link.
func MockCfg(id string, links ...string) state.Config {
	cfg := state.DefaultConfig(id)
	for i, name := range links {
		cfg.Interfaces = append(cfg.Interfaces, state.InterfaceCfg{
			Name:    name,
			Address: netip.MustParsePrefix(fmt.Sprintf("10.0.%d.1/24", i+1)),
		})
	}
	return cfg
}

// Sent is a datagram handed to Transport.Send.
type Sent struct {
	Iface   string
	Dst     netip.Addr
	Payload []byte
	Packet  *protocol.Packet
}

// Transport records every send and replays datagrams queued with Deliver.
type Transport struct {
	mu       sync.Mutex
	sent     []Sent
	inbound  chan core.Inbound
	closed   chan struct{}
	once     sync.Once
	SendHook func(s Sent) error
}

var _ core.Transport = (*Transport)(nil)

func NewTransport() *Transport {
	return &Transport{
		inbound: make(chan core.Inbound, 64),
		closed:  make(chan struct{}),
	}
}

func (t *Transport) Send(iface string, dst netip.Addr, payload []byte) error {
	pkt, err := protocol.Decode(payload)
	if err != nil {
		return fmt.Errorf("mock transport got an invalid packet: %w", err)
	}
	s := Sent{Iface: iface, Dst: dst, Payload: append([]byte(nil), payload...), Packet: pkt}
	if t.SendHook != nil {
		if err := t.SendHook(s); err != nil {
			return err
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, s)
	return nil
}

func (t *Transport) Receive(ctx context.Context) (core.Inbound, error) {
	select {
	case in := <-t.inbound:
		return in, nil
	case <-t.closed:
		return core.Inbound{}, fmt.Errorf("mock transport closed")
	case <-ctx.Done():
		return core.Inbound{}, ctx.Err()
	}
}

// Deliver queues a datagram for Receive.
func (t *Transport) Deliver(in core.Inbound) {
	t.inbound <- in
}

func (t *Transport) Close() error {
	t.once.Do(func() {
		close(t.closed)
	})
	return nil
}

// TakeSent returns and clears everything sent so far.
func (t *Transport) TakeSent() []Sent {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.sent
	t.sent = nil
	return out
}

// FIB records kernel route operations.
type FIB struct {
	mu     sync.Mutex
	Routes map[netip.Prefix]state.Route
	Ops    []string
	// ReplaceDelay stalls Replace like a slow netlink round trip.
	ReplaceDelay time.Duration
}

var _ core.FIB = (*FIB)(nil)

func NewFIB() *FIB {
	return &FIB{Routes: make(map[netip.Prefix]state.Route)}
}

func (f *FIB) Replace(route state.Route) error {
	if f.ReplaceDelay > 0 {
		time.Sleep(f.ReplaceDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Routes[route.Prefix] = route
	f.Ops = append(f.Ops, fmt.Sprintf("replace %s via %s", route.Prefix, route.Gateway))
	return nil
}

func (f *FIB) Delete(route state.Route) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.Routes, route.Prefix)
	f.Ops = append(f.Ops, fmt.Sprintf("delete %s", route.Prefix))
	return nil
}

func (f *FIB) Get(prefix netip.Prefix) (state.Route, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.Routes[prefix]
	return r, ok
}
