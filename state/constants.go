package state

import (
	"time"

	"github.com/encodeous/ripd/protocol"
)

const (
	INF = protocol.Infinity
	// INFM is the largest metric that still describes a reachable route.
	INFM = INF - 1
)

var (
	AdvertiseInterval     = time.Second * 10
	RouteTimeout          = time.Second * 60
	GarbageCollectionTime = time.Second * 40
	PollInterval          = time.Second * 1
	RequestDelay          = time.Second * 3

	// NeighbourTTL is how long a neighbour we heard from stays resolvable for unicast replies.
	NeighbourTTL = 3 * AdvertiseInterval

	// default control socket
	DefaultControlSocket = "/var/run/ripd.sock"

	// default config path
	DefaultConfigPath = "ripd.yaml"
)
