package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/encodeous/ripd/perf"
	"github.com/encodeous/ripd/protocol"
	"github.com/encodeous/ripd/state"
	"golang.org/x/sync/errgroup"
)

// Run starts the receive loop and every timer, and blocks until ctx is
// cancelled or one of them fails.
func (r *RipRouter) Run(ctx context.Context) error {
	t := r.Cfg.Timers
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return r.receiveLoop(ctx)
	})
	g.Go(func() error {
		r.Seed()
		return state.RepeatTask(ctx, r.advertise, t.Advertise, t.Advertise)
	})
	g.Go(func() error {
		return state.RepeatTask(ctx, r.expire, t.Poll, t.Poll)
	})
	g.Go(func() error {
		return state.RepeatTask(ctx, r.collect, t.Poll, t.Poll)
	})
	g.Go(func() error {
		return state.ScheduleTask(ctx, r.SendRequests, t.RequestDelay)
	})

	return g.Wait()
}

func (r *RipRouter) receiveLoop(ctx context.Context) error {
	for {
		in, err := r.Transport.Receive(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return fmt.Errorf("receive: %w", err)
		}
		if err := r.HandlePacket(in); err != nil {
			r.logHandleError(in, err)
		}
	}
}

func (r *RipRouter) logHandleError(in Inbound, err error) {
	perf.DroppedPerSecond.Add(1)
	switch {
	case errors.Is(err, protocol.ErrMalformedPacket):
		r.Log(MalformedPacket, "dropped packet", "src", in.Src, "iface", in.Iface, "err", err)
	case errors.Is(err, ErrUnknownInterface):
		r.Log(UnknownInterface, "dropped packet", "src", in.Src, "iface", in.Iface)
	case errors.Is(err, ErrUnresolvedNextHop), errors.Is(err, ErrPacketBuild):
		// already logged where it happened
	default:
		r.Logger.Warn("failed to handle packet", "src", in.Src, "iface", in.Iface, "err", err)
	}
}

// Seed installs the connected network of every interface.
func (r *RipRouter) Seed() {
	r.Table.Mutate(func(tx *state.Tx) {
		SeedConnected(tx, r, r.Ifaces, r.Now())
		perf.Routes.Set(float64(tx.Len()))
	})
	r.flushFIB()
	r.DumpTable()
}

func (r *RipRouter) advertise(ctx context.Context) error {
	r.Broadcast(ctx)
	return nil
}

func (r *RipRouter) expire(ctx context.Context) error {
	changed := false
	r.Table.Mutate(func(tx *state.Tx) {
		changed = ExpireRoutes(tx, r, r.Now(), r.Cfg.Timers.Timeout)
	})
	r.flushFIB()
	if !changed {
		return nil
	}
	r.DumpTable()
	if r.Cfg.TriggeredUpdates {
		perf.TriggeredPerMinute.Add(1)
		r.Broadcast(ctx)
	}
	return nil
}

func (r *RipRouter) collect(ctx context.Context) error {
	removed := 0
	size := 0
	r.Table.Mutate(func(tx *state.Tx) {
		removed = CollectGarbage(tx, r, r.Now(), r.Cfg.Timers.GarbageCollection)
		size = tx.Len()
	})
	r.Neighbours.DeleteExpired()
	perf.Routes.Set(float64(size))
	perf.TableSize.Add(float64(size))
	if removed > 0 {
		r.DumpTable()
	}
	return nil
}
