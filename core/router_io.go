package core

import (
	"context"
	"fmt"
	"net/netip"

	"github.com/encodeous/ripd/perf"
	"github.com/encodeous/ripd/protocol"
	"github.com/encodeous/ripd/state"
)

// BuildResponse converts routes into wire entries for advertisement on iface.
// With poison set, dynamic routes that point out of iface are advertised as unreachable.
func BuildResponse(routes []state.Route, iface string, poison bool) []protocol.Entry {
	entries := make([]protocol.Entry, 0, len(routes))
	for _, rt := range routes {
		metric := rt.Metric
		if poison && rt.IsDynamic() && rt.Iface == iface {
			metric = state.INF
		}
		entries = append(entries, protocol.EntryFor(rt.Prefix, rt.Tag, protocol.ClampMetric(metric)))
	}
	return entries
}

// encodeResponses splits entries into as many packets as needed.
func encodeResponses(entries []protocol.Entry) ([][]byte, error) {
	out := make([][]byte, 0, len(entries)/protocol.MaxEntries+1)
	for start := 0; start < len(entries); start += protocol.MaxEntries {
		end := min(start+protocol.MaxEntries, len(entries))
		pkt := protocol.Packet{
			Command: protocol.CommandResponse,
			Version: protocol.Version,
			Entries: entries[start:end],
		}
		b, err := pkt.Encode()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrPacketBuild, err)
		}
		out = append(out, b)
	}
	return out, nil
}

// SendResponse sends the whole table out of iface to dst, which is either a
// neighbour or the multicast group.
func (r *RipRouter) SendResponse(ctx context.Context, iface string, dst netip.Addr) error {
	if _, ok := r.Ifaces.ByName(iface); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownInterface, iface)
	}
	if !dst.IsMulticast() {
		if err := r.Neighbours.Resolve(iface, dst); err != nil {
			r.Log(UnresolvedNextHop, "dropping reply", "iface", iface, "dst", dst, "err", err)
			perf.DroppedPerSecond.Add(1)
			return err
		}
	}

	routes := r.Table.Snapshot()
	pkts, err := encodeResponses(BuildResponse(routes, iface, r.Cfg.SplitHorizon))
	if err != nil {
		r.Log(PacketBuildFailed, "could not build response", "iface", iface, "err", err)
		return err
	}
	for _, b := range pkts {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.send(iface, dst, protocol.CommandResponse, b)
	}
	return nil
}

// Broadcast multicasts the whole table on every interface.
func (r *RipRouter) Broadcast(ctx context.Context) {
	for _, iface := range r.Ifaces {
		if ctx.Err() != nil {
			return
		}
		// failures are logged by SendResponse and only abandon this interface
		_ = r.SendResponse(ctx, iface.Name, protocol.MulticastGroup)
	}
}

// SendRequests asks every neighbour for its whole table.
func (r *RipRouter) SendRequests(ctx context.Context) error {
	b, err := protocol.NewWholeTableRequest().Encode()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPacketBuild, err)
	}
	for _, iface := range r.Ifaces {
		if ctx.Err() != nil {
			return nil
		}
		r.send(iface.Name, protocol.MulticastGroup, protocol.CommandRequest, b)
	}
	return nil
}

func (r *RipRouter) send(iface string, dst netip.Addr, cmd protocol.Command, b []byte) {
	if err := r.Transport.Send(iface, dst, b); err != nil {
		r.Log(SendFailed, "send failed", "iface", iface, "dst", dst, "err", err)
		return
	}
	perf.Packets.WithLabelValues("out", cmd.String()).Inc()
	perf.SentPacketPerSecond.Add(1)
	perf.SentBytesPerSecond.Add(float64(len(b)))
}
