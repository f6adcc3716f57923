package core

import (
	"fmt"
	"net/netip"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/encodeous/ripd/state"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

type HarnessEvent struct {
	Message string
	Args    []any
}

func MakeEvent(msg string, args ...any) HarnessEvent {
	return HarnessEvent{
		Message: msg,
		Args:    args,
	}
}

type RouterHarness struct {
	actions []HarnessEvent
}

func (h *RouterHarness) TableInsertRoute(route state.Route) {
	h.actions = append(h.actions, MakeEvent("FIB_INSERT", route.Prefix, route.Gateway))
}

func (h *RouterHarness) TableDeleteRoute(route state.Route) {
	h.actions = append(h.actions, MakeEvent("FIB_DELETE", route.Prefix))
}

func (h *RouterHarness) Log(event RouterEvent, desc string, args ...any) {
	x := make([]any, 0)
	x = append(x, event)
	x = append(x, desc)
	x = append(x, args...)
	h.actions = append(h.actions, MakeEvent("LOG", x...))
}

type HarnessEvents []HarnessEvent

func (h HarnessEvents) String() string {
	out := make([]string, 0)
	for _, action := range h {
		cur := action.Message
		for _, arg := range action.Args {
			cur += " " + fmt.Sprint(arg)
		}
		out = append(out, cur)
	}
	slices.Sort(out)
	return strings.Join(out, "\n")
}

// GetActions returns the non-log actions recorded so far and resets the harness.
func (h *RouterHarness) GetActions() HarnessEvents {
	x := make([]HarnessEvent, 0)
	for _, action := range h.actions {
		if action.Message != "LOG" {
			x = append(x, action)
		}
	}

	h.actions = make([]HarnessEvent, 0)
	return x
}

// GetEvents returns the router events logged so far and resets the harness.
func (h *RouterHarness) GetEvents() []RouterEvent {
	x := make([]RouterEvent, 0)
	for _, action := range h.actions {
		if action.Message == "LOG" {
			x = append(x, action.Args[0].(RouterEvent))
		}
	}
	h.actions = make([]HarnessEvent, 0)
	return x
}

func (e HarnessEvents) contains(msg string, args ...any) bool {
	for _, event := range e {
		if event.Message == msg {
			if len(event.Args) >= len(args) {
				match := true
				for i, arg := range args {
					if !cmp.Equal(event.Args[i], arg, cmpopts.EquateComparable(netip.Prefix{}, netip.Addr{})) {
						match = false
						break
					}
				}
				if match {
					return true
				}
			}
		}
	}
	return false

}

func (e HarnessEvents) AssertContains(t *testing.T, msg string, args ...any) {
	t.Helper()
	if e.contains(msg, args...) {
		return
	}
	t.Fatal("Expected event not found: ", msg, " with args: ", args, " in ", e)
}

func (e HarnessEvents) AssertNotContains(t *testing.T, msg string, args ...any) {
	t.Helper()
	if e.contains(msg, args...) {
		t.Fatal("Unexpected event found: ", msg, " with args: ", args, " in ", e)
	}
}

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func pfx(s string) netip.Prefix {
	return netip.MustParsePrefix(s)
}

func addr(s string) netip.Addr {
	return netip.MustParseAddr(s)
}

// apply runs one announcement in its own transaction.
func apply(tbl *state.Table, h *RouterHarness, prefix string, metric uint32, neigh, iface string, now time.Time) UpdateResult {
	var res UpdateResult
	tbl.Mutate(func(tx *state.Tx) {
		res = ApplyAnnouncement(tx, h, Announcement{Prefix: pfx(prefix), Metric: metric}, addr(neigh), iface, 1, now)
	})
	return res
}

func staticRoute(prefix, iface string) *state.Route {
	return &state.Route{
		Prefix:      pfx(prefix),
		Metric:      1,
		Iface:       iface,
		LastUpdated: epoch,
		Valid:       true,
	}
}
