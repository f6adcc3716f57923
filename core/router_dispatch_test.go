package core_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/encodeous/ripd/core"
	"github.com/encodeous/ripd/mock"
	"github.com/encodeous/ripd/protocol"
	"github.com/encodeous/ripd/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestRouter(t *testing.T) (*core.RipRouter, *mock.Transport, *mock.FIB, *fakeClock) {
	t.Helper()
	cfg := mock.MockCfg("r1", "eth0", "eth1")
	require.NoError(t, state.ConfigValidator(&cfg))
	tr := mock.NewTransport()
	fib := mock.NewFIB()
	logger, err := core.NewLogger(cfg.Id, "", slog.LevelDebug, io.Discard)
	require.NoError(t, err)
	r := core.NewRipRouter(cfg, cfg.StaticInterfaces(), tr, fib, logger)
	clk := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	r.Now = clk.Now
	r.Neighbours.SetLookup(resolveOnly(neighA, neighB))
	r.Seed()
	return r, tr, fib, clk
}

// resolveOnly stands in for the kernel neighbour table.
func resolveOnly(known ...netip.Addr) core.NeighbourLookup {
	return func(iface string, a netip.Addr) (net.HardwareAddr, error) {
		if slices.Contains(known, a) {
			return net.HardwareAddr{0x02, 0, 0, 0, 0, a.As4()[3]}, nil
		}
		return nil, fmt.Errorf("no neighbour entry for %s", a)
	}
}

func response(entries ...protocol.Entry) []byte {
	b, err := (&protocol.Packet{Command: protocol.CommandResponse, Entries: entries}).Encode()
	if err != nil {
		panic(err)
	}
	return b
}

func entry(prefix string, metric uint32) protocol.Entry {
	return protocol.EntryFor(netip.MustParsePrefix(prefix), 0, metric)
}

var (
	neighA = netip.MustParseAddr("10.0.1.2")
	neighB = netip.MustParseAddr("10.0.2.2")
)

func metricsOf(t *testing.T, s mock.Sent) map[string]uint32 {
	t.Helper()
	out := map[string]uint32{}
	for _, e := range s.Packet.Entries {
		p, err := e.Prefix()
		require.NoError(t, err)
		out[p.String()] = e.Metric
	}
	return out
}

func TestHandlePacket_ResponseTriggersUpdate(t *testing.T) {
	r, tr, fib, _ := newTestRouter(t)

	err := r.HandlePacket(core.Inbound{Iface: "eth0", Src: neighA, Payload: response(
		entry("10.5.0.0/16", 1),
		entry("10.6.0.0/16", 15),
	)})
	require.NoError(t, err)

	rt, ok := r.Table.Get(netip.MustParsePrefix("10.5.0.0/16"))
	require.True(t, ok)
	assert.Equal(t, uint32(2), rt.Metric)
	_, ok = r.Table.Get(netip.MustParsePrefix("10.6.0.0/16"))
	assert.False(t, ok, "candidate of 16 is dropped")

	_, ok = fib.Get(netip.MustParsePrefix("10.5.0.0/16"))
	assert.True(t, ok)

	sent := tr.TakeSent()
	require.Len(t, sent, 2)
	ifaces := []string{sent[0].Iface, sent[1].Iface}
	assert.ElementsMatch(t, []string{"eth0", "eth1"}, ifaces)
	for _, s := range sent {
		assert.Equal(t, protocol.MulticastGroup, s.Dst)
		assert.Equal(t, protocol.CommandResponse, s.Packet.Command)
		m := metricsOf(t, s)
		if s.Iface == "eth0" {
			assert.Equal(t, uint32(protocol.Infinity), m["10.5.0.0/16"], "poisoned reverse on the learning interface")
		} else {
			assert.Equal(t, uint32(2), m["10.5.0.0/16"])
		}
		assert.Equal(t, uint32(1), m["10.0.1.0/24"])
		assert.Equal(t, uint32(1), m["10.0.2.0/24"])
	}
}

func TestHandlePacket_UnchangedDoesNotTrigger(t *testing.T) {
	r, tr, _, _ := newTestRouter(t)
	in := core.Inbound{Iface: "eth0", Src: neighA, Payload: response(entry("10.5.0.0/16", 1))}
	require.NoError(t, r.HandlePacket(in))
	tr.TakeSent()

	require.NoError(t, r.HandlePacket(in))
	assert.Empty(t, tr.TakeSent())
}

func TestHandlePacket_TriggeredUpdatesDisabled(t *testing.T) {
	r, tr, _, _ := newTestRouter(t)
	r.Cfg.TriggeredUpdates = false
	require.NoError(t, r.HandlePacket(core.Inbound{Iface: "eth0", Src: neighA, Payload: response(entry("10.5.0.0/16", 1))}))
	assert.Empty(t, tr.TakeSent())
	_, ok := r.Table.Get(netip.MustParsePrefix("10.5.0.0/16"))
	assert.True(t, ok)
}

func TestHandlePacket_AggregatesChanges(t *testing.T) {
	r, tr, _, _ := newTestRouter(t)
	// the first entry changes the table, the last does not
	require.NoError(t, r.HandlePacket(core.Inbound{Iface: "eth0", Src: neighA, Payload: response(
		entry("10.5.0.0/16", 1),
		entry("10.9.0.0/16", protocol.Infinity),
	)}))
	assert.Len(t, tr.TakeSent(), 2)
}

func TestHandlePacket_Request(t *testing.T) {
	r, tr, _, _ := newTestRouter(t)
	req, err := protocol.NewWholeTableRequest().Encode()
	require.NoError(t, err)

	require.NoError(t, r.HandlePacket(core.Inbound{Iface: "eth1", Src: neighB, Payload: req}))
	sent := tr.TakeSent()
	require.Len(t, sent, 1)
	assert.Equal(t, neighB, sent[0].Dst)
	assert.Equal(t, "eth1", sent[0].Iface)
	assert.Len(t, sent[0].Packet.Entries, 2)
}

func TestHandlePacket_Malformed(t *testing.T) {
	r, tr, _, _ := newTestRouter(t)
	err := r.HandlePacket(core.Inbound{Iface: "eth0", Src: neighA, Payload: []byte{2, 1, 0, 0}})
	assert.ErrorIs(t, err, protocol.ErrMalformedPacket)
	assert.Empty(t, tr.TakeSent())
}

func TestHandlePacket_UnknownInterface(t *testing.T) {
	r, _, _, _ := newTestRouter(t)
	err := r.HandlePacket(core.Inbound{Iface: "eth7", Src: neighA, Payload: response(entry("10.5.0.0/16", 1))})
	assert.ErrorIs(t, err, core.ErrUnknownInterface)
	assert.Equal(t, 2, r.Table.Len())
}

func TestHandlePacket_IgnoresOwnAddress(t *testing.T) {
	r, tr, _, _ := newTestRouter(t)
	own := netip.MustParseAddr("10.0.1.1")
	require.NoError(t, r.HandlePacket(core.Inbound{Iface: "eth0", Src: own, Payload: response(entry("10.5.0.0/16", 1))}))
	assert.Equal(t, 2, r.Table.Len())
	assert.Empty(t, tr.TakeSent())
}

func TestHandlePacket_SkipsForeignFamily(t *testing.T) {
	r, _, _, _ := newTestRouter(t)
	foreign := entry("10.7.0.0/16", 1)
	foreign.Family = 10
	require.NoError(t, r.HandlePacket(core.Inbound{Iface: "eth0", Src: neighA, Payload: response(foreign, entry("10.5.0.0/16", 1))}))
	_, ok := r.Table.Get(netip.MustParsePrefix("10.7.0.0/16"))
	assert.False(t, ok)
	_, ok = r.Table.Get(netip.MustParsePrefix("10.5.0.0/16"))
	assert.True(t, ok)
}

func TestSendResponse_UnresolvedNeighbour(t *testing.T) {
	r, tr, _, _ := newTestRouter(t)
	err := r.SendResponse(context.Background(), "eth0", netip.MustParseAddr("10.0.1.99"))
	assert.ErrorIs(t, err, core.ErrUnresolvedNextHop)
	assert.Empty(t, tr.TakeSent())

	r.Neighbours.Learn("eth0", netip.MustParseAddr("10.0.1.99"))
	err = r.SendResponse(context.Background(), "eth0", netip.MustParseAddr("10.0.1.99"))
	assert.ErrorIs(t, err, core.ErrUnresolvedNextHop)
	assert.Empty(t, tr.TakeSent())

	require.NoError(t, r.SendResponse(context.Background(), "eth0", neighA))
	assert.Len(t, tr.TakeSent(), 1)
}

func TestHandlePacket_RequestFromUnresolvableSource(t *testing.T) {
	r, tr, _, _ := newTestRouter(t)
	calls := 0
	r.Neighbours.SetLookup(func(iface string, a netip.Addr) (net.HardwareAddr, error) {
		calls++
		return nil, fmt.Errorf("no neighbour entry for %s", a)
	})
	req, err := protocol.NewWholeTableRequest().Encode()
	require.NoError(t, err)

	err = r.HandlePacket(core.Inbound{Iface: "eth0", Src: netip.MustParseAddr("10.0.1.77"), Payload: req})
	assert.ErrorIs(t, err, core.ErrUnresolvedNextHop)
	assert.Equal(t, 1, calls)
	assert.Empty(t, tr.TakeSent(), "reply is dropped, not queued")
}

func TestSendResponse_SplitsLargeTable(t *testing.T) {
	r, tr, _, _ := newTestRouter(t)
	entries := make([]protocol.Entry, 0)
	for i := range 25 {
		entries = append(entries, protocol.EntryFor(netip.PrefixFrom(netip.AddrFrom4([4]byte{172, 16, byte(i), 0}), 24), 0, 1))
	}
	require.NoError(t, r.HandlePacket(core.Inbound{Iface: "eth0", Src: neighA, Payload: response(entries...)}))
	tr.TakeSent()

	require.NoError(t, r.SendResponse(context.Background(), "eth1", protocol.MulticastGroup))
	sent := tr.TakeSent()
	require.Len(t, sent, 2)
	assert.Len(t, sent[0].Packet.Entries, protocol.MaxEntries)
	assert.Len(t, sent[1].Packet.Entries, 2)
}

func TestSendFailureIsNotFatal(t *testing.T) {
	r, tr, _, _ := newTestRouter(t)
	tr.SendHook = func(s mock.Sent) error {
		if s.Iface == "eth0" {
			return assert.AnError
		}
		return nil
	}
	r.Broadcast(context.Background())
	sent := tr.TakeSent()
	require.Len(t, sent, 1)
	assert.Equal(t, "eth1", sent[0].Iface)
}

func TestSendRequests(t *testing.T) {
	r, tr, _, _ := newTestRouter(t)
	require.NoError(t, r.SendRequests(context.Background()))
	sent := tr.TakeSent()
	require.Len(t, sent, 2)
	for _, s := range sent {
		assert.True(t, s.Packet.IsWholeTableRequest())
		assert.Equal(t, protocol.MulticastGroup, s.Dst)
	}
}

func TestWithdrawRemovesKernelRoutes(t *testing.T) {
	r, _, fib, _ := newTestRouter(t)
	require.NoError(t, r.HandlePacket(core.Inbound{Iface: "eth0", Src: neighA, Payload: response(entry("10.5.0.0/16", 1))}))
	_, ok := fib.Get(netip.MustParsePrefix("10.5.0.0/16"))
	require.True(t, ok)

	r.Withdraw()
	_, ok = fib.Get(netip.MustParsePrefix("10.5.0.0/16"))
	assert.False(t, ok)
}

func TestFIBUpdatesApplyInOrder(t *testing.T) {
	r, _, fib, _ := newTestRouter(t)
	fib.ReplaceDelay = 50 * time.Millisecond
	pfx := netip.MustParsePrefix("10.5.0.0/16")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, r.HandlePacket(core.Inbound{Iface: "eth0", Src: neighA, Payload: response(entry("10.5.0.0/16", 1))}))
	}()
	require.Eventually(t, func() bool {
		_, ok := r.Table.Get(pfx)
		return ok
	}, time.Second, time.Millisecond)

	// the withdrawal lands while the install is still in flight
	require.NoError(t, r.HandlePacket(core.Inbound{Iface: "eth0", Src: neighA, Payload: response(entry("10.5.0.0/16", protocol.Infinity))}))
	wg.Wait()

	rt, ok := r.Table.Get(pfx)
	require.True(t, ok)
	assert.False(t, rt.Valid)
	_, ok = fib.Get(pfx)
	assert.False(t, ok, "withdrawn route must not stay in the kernel")
}

func TestRun_StopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	r, tr, _, _ := newTestRouter(t)
	r.Cfg.Timers = state.TimerCfg{
		Advertise:         20 * time.Millisecond,
		Timeout:           time.Second,
		GarbageCollection: time.Second,
		Poll:              10 * time.Millisecond,
		RequestDelay:      5 * time.Millisecond,
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		done <- r.Run(ctx)
	}()

	tr.Deliver(core.Inbound{Iface: "eth0", Src: neighA, Payload: response(entry("10.5.0.0/16", 1))})
	require.Eventually(t, func() bool {
		_, ok := r.Table.Get(netip.MustParsePrefix("10.5.0.0/16"))
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	// periodic advertisements and startup requests go out on their own
	var req, resp bool
	require.Eventually(t, func() bool {
		for _, s := range tr.TakeSent() {
			if s.Packet.Command == protocol.CommandRequest {
				req = true
			} else {
				resp = true
			}
		}
		return req && resp
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_TimeoutTriggersUpdateAndCollects(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	r, tr, fib, clk := newTestRouter(t)
	r.Cfg.Timers = state.TimerCfg{
		Advertise:         time.Hour,
		Timeout:           3 * time.Minute,
		GarbageCollection: 2 * time.Minute,
		Poll:              5 * time.Millisecond,
		RequestDelay:      time.Hour,
	}
	pfx := netip.MustParsePrefix("10.5.0.0/16")
	require.NoError(t, r.HandlePacket(core.Inbound{Iface: "eth0", Src: neighA, Payload: response(entry("10.5.0.0/16", 1))}))
	tr.TakeSent()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		done <- r.Run(ctx)
	}()

	clk.Advance(3 * time.Minute)
	var triggered []mock.Sent
	require.Eventually(t, func() bool {
		triggered = append(triggered, tr.TakeSent()...)
		return len(triggered) >= 2
	}, 2*time.Second, 5*time.Millisecond)

	rt, ok := r.Table.Get(pfx)
	require.True(t, ok)
	assert.False(t, rt.Valid)
	_, ok = fib.Get(pfx)
	assert.False(t, ok)
	for _, s := range triggered[:2] {
		assert.Equal(t, protocol.MulticastGroup, s.Dst)
		assert.Equal(t, uint32(protocol.Infinity), metricsOf(t, s)["10.5.0.0/16"])
	}

	clk.Advance(2 * time.Minute)
	require.Eventually(t, func() bool {
		_, ok := r.Table.Get(pfx)
		return !ok
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
