package state

import (
	"fmt"
	"net/netip"
	"time"
)

// Route is one entry of the routing table. Routes with a zero LearnedFrom are
// directly connected networks and are never touched by the protocol engine.
type Route struct {
	Prefix      netip.Prefix
	Gateway     netip.Addr // zero for directly connected networks
	Metric      uint32
	Tag         uint16
	LearnedFrom netip.Addr
	Iface       string
	LastUpdated time.Time
	Valid       bool
	GCDeadline  time.Time // zero when no collection is pending
}

// IsDynamic reports whether the route was learned from a neighbour.
func (r *Route) IsDynamic() bool {
	return r.LearnedFrom.IsValid() && !r.LearnedFrom.IsUnspecified()
}

// Invalidate withdraws the route and starts its garbage collection timer.
func (r *Route) Invalidate(now time.Time) {
	r.Metric = INF
	r.Valid = false
	r.GCDeadline = now
}

func (r Route) String() string {
	gw := "direct"
	if r.Gateway.IsValid() {
		gw = r.Gateway.String()
	}
	state := "valid"
	if !r.Valid {
		state = fmt.Sprintf("invalid since %s", r.GCDeadline.Format(time.TimeOnly))
	}
	return fmt.Sprintf("%s via %s dev %s metric %d tag %d (%s)", r.Prefix, gw, r.Iface, r.Metric, r.Tag, state)
}
