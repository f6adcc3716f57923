package core

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/encodeous/ripd/state"
)

type RouterEvent int

// trace events

const (
	RouteAdded RouterEvent = iota
	RouteRevived
	RouteReplaced
	RouteUpdated
	RouteRefreshed
	RouteWithdrawn
	RouteExpired
	RouteCollected
	ConnectedRouteInstalled
	AnnouncementRejected
)

// warn events

const (
	MalformedPacket RouterEvent = iota + 1000
	UnknownInterface
	UnresolvedNextHop
	PacketBuildFailed
	SendFailed
	FIBUpdateFailed
)

var eventNames = map[RouterEvent]string{
	RouteAdded:              "ROUTE_ADDED",
	RouteRevived:            "ROUTE_REVIVED",
	RouteReplaced:           "ROUTE_REPLACED",
	RouteUpdated:            "ROUTE_UPDATED",
	RouteRefreshed:          "ROUTE_REFRESHED",
	RouteWithdrawn:          "ROUTE_WITHDRAWN",
	RouteExpired:            "ROUTE_EXPIRED",
	RouteCollected:          "ROUTE_COLLECTED",
	ConnectedRouteInstalled: "CONNECTED_ROUTE_INSTALLED",
	AnnouncementRejected:    "ANNOUNCEMENT_REJECTED",
	MalformedPacket:         "MALFORMED_PACKET",
	UnknownInterface:        "UNKNOWN_INTERFACE",
	UnresolvedNextHop:       "UNRESOLVED_NEXT_HOP",
	PacketBuildFailed:       "PACKET_BUILD_FAILED",
	SendFailed:              "SEND_FAILED",
	FIBUpdateFailed:         "FIB_UPDATE_FAILED",
}

func (e RouterEvent) String() string {
	if n, ok := eventNames[e]; ok {
		return n
	}
	return fmt.Sprintf("EVENT_%d", int(e))
}

// IsWarn reports whether the event indicates something went wrong.
func (e RouterEvent) IsWarn() bool {
	return e >= 1000
}

// Router is an interface that defines the side effects of the routing algorithm.
// All methods are called with the table lock held and must not block.
type Router interface {
	TableInsertRoute(route state.Route)
	TableDeleteRoute(route state.Route)
	Log(event RouterEvent, desc string, args ...any)
}

type UpdateResult int

const (
	Unchanged UpdateResult = iota
	Updated
	Withdrawn
	Rejected
)

func (u UpdateResult) String() string {
	switch u {
	case Unchanged:
		return "unchanged"
	case Updated:
		return "updated"
	case Withdrawn:
		return "withdrawn"
	case Rejected:
		return "rejected"
	}
	return fmt.Sprintf("result(%d)", int(u))
}

// Changed reports whether the result should cause a triggered update.
func (u UpdateResult) Changed() bool {
	return u == Updated || u == Withdrawn
}

// Announcement is a single route offered by a neighbour, already validated.
type Announcement struct {
	Prefix netip.Prefix
	Metric uint32
	Tag    uint16
}

// ApplyAnnouncement runs the distance vector decision for one announced entry.
// neigh is the sender and iface the interface the announcement arrived on.
func ApplyAnnouncement(tx *state.Tx, r Router, ann Announcement, neigh netip.Addr, iface string, linkCost uint32, now time.Time) UpdateResult {
	cur := tx.Find(ann.Prefix)

	if ann.Metric >= state.INF {
		if cur != nil && cur.Valid && cur.IsDynamic() && cur.LearnedFrom == neigh {
			cur.Invalidate(now)
			r.TableDeleteRoute(*cur)
			r.Log(RouteWithdrawn, "neighbour withdrew route", "prefix", ann.Prefix, "neigh", neigh)
			return Withdrawn
		}
		return Unchanged
	}

	metric := AddMetric(ann.Metric, linkCost)
	if metric >= state.INF {
		r.Log(AnnouncementRejected, "announcement unreachable after link cost", "prefix", ann.Prefix, "neigh", neigh, "metric", metric)
		return Rejected
	}

	if cur == nil {
		nr := &state.Route{
			Prefix:      ann.Prefix,
			Gateway:     neigh,
			Metric:      metric,
			Tag:         ann.Tag,
			LearnedFrom: neigh,
			Iface:       iface,
			LastUpdated: now,
			Valid:       true,
		}
		tx.Insert(nr)
		r.TableInsertRoute(*nr)
		r.Log(RouteAdded, "new route", "route", nr)
		return Updated
	}

	if !cur.IsDynamic() {
		return Unchanged
	}

	if !cur.Valid {
		cur.Metric = metric
		cur.Gateway = neigh
		cur.Tag = ann.Tag
		cur.LearnedFrom = neigh
		cur.Iface = iface
		cur.LastUpdated = now
		cur.GCDeadline = time.Time{}
		cur.Valid = true
		r.TableInsertRoute(*cur)
		r.Log(RouteRevived, "invalid route revived", "route", cur)
		return Updated
	}

	if cur.LearnedFrom == neigh {
		cur.LastUpdated = now
		if cur.Metric == metric && cur.Gateway == neigh && cur.Tag == ann.Tag && cur.Iface == iface {
			return Unchanged
		}
		cur.Metric = metric
		cur.Gateway = neigh
		cur.Tag = ann.Tag
		cur.Iface = iface
		r.TableInsertRoute(*cur)
		r.Log(RouteUpdated, "route changed by its source", "route", cur)
		return Updated
	}

	if metric < cur.Metric {
		old := cur.LearnedFrom
		cur.Metric = metric
		cur.Gateway = neigh
		cur.Tag = ann.Tag
		cur.LearnedFrom = neigh
		cur.Iface = iface
		cur.LastUpdated = now
		r.TableInsertRoute(*cur)
		r.Log(RouteReplaced, "switched to better neighbour", "route", cur, "old", old)
		return Updated
	}

	if metric == cur.Metric && cur.Gateway == neigh {
		cur.LastUpdated = now
		r.Log(RouteRefreshed, "equal announcement through current gateway", "route", cur)
	}
	return Unchanged
}

// ExpireRoutes invalidates dynamic routes that have not been refreshed within timeout.
func ExpireRoutes(tx *state.Tx, r Router, now time.Time, timeout time.Duration) bool {
	changed := false
	for _, route := range tx.Routes() {
		if !route.IsDynamic() || !route.Valid {
			continue
		}
		if now.Sub(route.LastUpdated) >= timeout {
			route.Invalidate(now)
			r.TableDeleteRoute(*route)
			r.Log(RouteExpired, "route timed out", "route", route)
			changed = true
		}
	}
	return changed
}

// CollectGarbage removes invalid routes whose collection deadline has passed.
func CollectGarbage(tx *state.Tx, r Router, now time.Time, gc time.Duration) int {
	removed := 0
	for _, route := range tx.Routes() {
		if route.Valid || route.GCDeadline.IsZero() {
			continue
		}
		if now.Sub(route.GCDeadline) >= gc {
			tx.Remove(route.Prefix)
			r.Log(RouteCollected, "route removed", "prefix", route.Prefix)
			removed++
		}
	}
	return removed
}

// SeedConnected installs the directly connected network of every interface,
// replacing anything previously learned for the same prefix.
func SeedConnected(tx *state.Tx, r Router, ifaces state.Interfaces, now time.Time) {
	for _, iface := range ifaces {
		pfx := iface.Network()
		if old := tx.Find(pfx); old != nil && old.IsDynamic() && old.Valid {
			r.TableDeleteRoute(*old)
		}
		nr := &state.Route{
			Prefix:      pfx,
			Metric:      iface.LinkCost(),
			Iface:       iface.Name,
			LastUpdated: now,
			Valid:       true,
		}
		tx.Insert(nr)
		r.Log(ConnectedRouteInstalled, "connected network", "route", nr)
	}
}
