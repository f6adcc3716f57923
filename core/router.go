package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/encodeous/ripd/perf"
	"github.com/encodeous/ripd/protocol"
	"github.com/encodeous/ripd/state"
)

var (
	ErrUnknownInterface  = errors.New("unknown interface")
	ErrPacketBuild       = errors.New("failed to build packet")
	ErrUnresolvedNextHop = errors.New("unresolved next hop")
)

// Inbound is a datagram received on port 520.
type Inbound struct {
	Iface   string
	Src     netip.Addr
	Payload []byte
}

// Transport moves rip payloads. Implementations handle UDP framing.
type Transport interface {
	Send(iface string, dst netip.Addr, payload []byte) error
	Receive(ctx context.Context) (Inbound, error)
	Close() error
}

// FIB mirrors routes into a forwarding table outside the process.
type FIB interface {
	Replace(route state.Route) error
	Delete(route state.Route) error
}

type fibOp struct {
	route  state.Route
	delete bool
}

// RipRouter owns the routing table and every collaborator of the protocol engine.
type RipRouter struct {
	Table      *state.Table
	Cfg        state.Config
	Ifaces     state.Interfaces
	Transport  Transport
	Neighbours *NeighbourCache
	FIB        FIB // may be nil
	Logger     *slog.Logger
	Now        func() time.Time

	fibMu      sync.Mutex
	fibOps     []fibOp
	fibApplyMu sync.Mutex // held while a batch is applied, keeps batches in queue order
}

func NewRipRouter(cfg state.Config, ifaces state.Interfaces, transport Transport, fib FIB, logger *slog.Logger) *RipRouter {
	return &RipRouter{
		Table:      &state.Table{},
		Cfg:        cfg,
		Ifaces:     ifaces,
		Transport:  transport,
		Neighbours: NewNeighbourCache(state.NeighbourTTL, nil),
		FIB:        fib,
		Logger:     logger,
		Now:        time.Now,
	}
}

func (r *RipRouter) Log(event RouterEvent, desc string, args ...any) {
	perf.RouteEvents.WithLabelValues(event.String()).Inc()
	msg := fmt.Sprintf("%s %s", event.String(), desc)
	if event.IsWarn() {
		r.Logger.Warn(msg, args...)
	} else {
		r.Logger.Debug(msg, args...)
	}
}

func (r *RipRouter) TableInsertRoute(route state.Route) {
	r.queueFIB(fibOp{route: route})
}

func (r *RipRouter) TableDeleteRoute(route state.Route) {
	r.queueFIB(fibOp{route: route, delete: true})
}

func (r *RipRouter) queueFIB(op fibOp) {
	if r.FIB == nil || !op.route.IsDynamic() {
		return
	}
	r.fibMu.Lock()
	r.fibOps = append(r.fibOps, op)
	r.fibMu.Unlock()
}

// flushFIB applies queued kernel route changes. It must be called without the table lock.
func (r *RipRouter) flushFIB() {
	if r.FIB == nil {
		return
	}
	r.fibApplyMu.Lock()
	defer r.fibApplyMu.Unlock()
	r.fibMu.Lock()
	ops := r.fibOps
	r.fibOps = nil
	r.fibMu.Unlock()
	for _, op := range ops {
		var err error
		if op.delete {
			err = r.FIB.Delete(op.route)
		} else {
			err = r.FIB.Replace(op.route)
		}
		if err != nil {
			r.Log(FIBUpdateFailed, "kernel route update failed", "route", op.route, "delete", op.delete, "err", err)
		}
	}
}

// HandlePacket processes one datagram received on iface.
func (r *RipRouter) HandlePacket(in Inbound) error {
	start := time.Now()
	defer func() {
		d := time.Since(start)
		perf.HandleLatency.Add(float64(d.Microseconds()))
		perf.HandleDuration.Observe(d.Seconds())
	}()
	perf.RecvPacketPerSecond.Add(1)
	perf.RecvBytesPerSecond.Add(float64(len(in.Payload)))

	iface, ok := r.Ifaces.ByName(in.Iface)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownInterface, in.Iface)
	}
	if _, local := r.Ifaces.ByAddr(in.Src); local {
		return nil
	}

	pkt, err := protocol.Decode(in.Payload)
	if err != nil {
		return fmt.Errorf("from %s on %s: %w", in.Src, in.Iface, err)
	}
	perf.Packets.WithLabelValues("in", pkt.Command.String()).Inc()
	r.Neighbours.Learn(iface.Name, in.Src)

	switch pkt.Command {
	case protocol.CommandRequest:
		return r.SendResponse(context.Background(), iface.Name, in.Src)
	case protocol.CommandResponse:
		r.handleResponse(pkt, iface, in.Src)
	}
	return nil
}

func (r *RipRouter) handleResponse(pkt *protocol.Packet, iface state.Interface, neigh netip.Addr) {
	now := r.Now()
	changed := false
	r.Table.Mutate(func(tx *state.Tx) {
		for _, e := range pkt.Entries {
			if e.Family != protocol.AFInet {
				r.Log(MalformedPacket, "skipping entry with unsupported address family", "family", e.Family, "neigh", neigh)
				continue
			}
			pfx, err := e.Prefix()
			if err != nil {
				r.Log(MalformedPacket, "skipping invalid entry", "entry", e, "neigh", neigh, "err", err)
				continue
			}
			ann := Announcement{Prefix: pfx, Metric: e.Metric, Tag: e.Tag}
			res := ApplyAnnouncement(tx, r, ann, neigh, iface.Name, iface.LinkCost(), now)
			if res.Changed() {
				changed = true
			}
		}
		perf.Routes.Set(float64(tx.Len()))
	})
	r.flushFIB()
	if !changed {
		return
	}
	r.DumpTable()
	if r.Cfg.TriggeredUpdates {
		perf.TriggeredPerMinute.Add(1)
		r.Broadcast(context.Background())
	}
}

// DumpTable logs the whole table at debug level.
func (r *RipRouter) DumpTable() {
	if !r.Logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	r.Logger.Debug("routing table\n" + FormatTable(r.Table.Snapshot()))
}

func FormatTable(routes []state.Route) string {
	sb := strings.Builder{}
	fmt.Fprintf(&sb, "%-18s %-15s %-8s %-6s %-5s %s\n", "PREFIX", "GATEWAY", "IFACE", "METRIC", "TAG", "STATE")
	for _, rt := range routes {
		gw := "direct"
		if rt.Gateway.IsValid() {
			gw = rt.Gateway.String()
		}
		st := "valid"
		if !rt.Valid {
			st = "invalid"
		}
		fmt.Fprintf(&sb, "%-18s %-15s %-8s %-6d %-5d %s\n", rt.Prefix, gw, rt.Iface, rt.Metric, rt.Tag, st)
	}
	return sb.String()
}
