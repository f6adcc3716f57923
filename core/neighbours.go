package core

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"slices"
	"time"

	"github.com/encodeous/ripd/state"
	"github.com/jellydator/ttlcache/v3"
)

// NeighbourLookup resolves addr on iface through an external table such as the kernel's.
// It returns errors.ErrUnsupported when no such table exists on this platform.
type NeighbourLookup func(iface string, addr netip.Addr) (net.HardwareAddr, error)

type neighKey = state.Pair[string, netip.Addr]

// NeighbourCache remembers the neighbours heard on each interface and the
// hardware addresses resolved for them. Only a resolved neighbour gets a
// unicast reply.
type NeighbourCache struct {
	cache  *ttlcache.Cache[neighKey, net.HardwareAddr]
	lookup NeighbourLookup
}

func NewNeighbourCache(ttl time.Duration, lookup NeighbourLookup) *NeighbourCache {
	return &NeighbourCache{
		cache: ttlcache.New[neighKey, net.HardwareAddr](
			ttlcache.WithTTL[neighKey, net.HardwareAddr](ttl),
			ttlcache.WithDisableTouchOnHit[neighKey, net.HardwareAddr](),
		),
		lookup: lookup,
	}
}

// SetLookup installs the fallback used on a cache miss.
func (c *NeighbourCache) SetLookup(lookup NeighbourLookup) {
	c.lookup = lookup
}

// Learn records that addr was heard on iface. Hearing a neighbour does not
// resolve it; a hardware address already resolved is kept.
func (c *NeighbourCache) Learn(iface string, addr netip.Addr) {
	key := neighKey{V1: iface, V2: addr}
	var hw net.HardwareAddr
	if old := c.cache.Get(key); old != nil {
		hw = old.Value()
	}
	c.cache.Set(key, hw, ttlcache.DefaultTTL)
}

// Resolve reports whether addr can be reached directly on iface. Misses go to
// the lookup and successful answers are cached.
func (c *NeighbourCache) Resolve(iface string, addr netip.Addr) error {
	key := neighKey{V1: iface, V2: addr}
	if item := c.cache.Get(key); item != nil && len(item.Value()) > 0 {
		return nil
	}
	if c.lookup == nil {
		return fmt.Errorf("%w: %s on %s", ErrUnresolvedNextHop, addr, iface)
	}
	hw, err := c.lookup(iface, addr)
	if errors.Is(err, errors.ErrUnsupported) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %s on %s: %w", ErrUnresolvedNextHop, addr, iface, err)
	}
	if len(hw) > 0 {
		c.cache.Set(key, hw, ttlcache.DefaultTTL)
	}
	return nil
}

func (c *NeighbourCache) DeleteExpired() {
	c.cache.DeleteExpired()
}

func (c *NeighbourCache) Len() int {
	return c.cache.Len()
}

// Entries lists the cached neighbours as "iface addr" strings, sorted.
func (c *NeighbourCache) Entries() []string {
	out := make([]string, 0, c.cache.Len())
	for key, item := range c.cache.Items() {
		hw := item.Value()
		if len(hw) > 0 {
			out = append(out, fmt.Sprintf("%s %s lladdr %s", key.V1, key.V2, hw))
		} else {
			out = append(out, fmt.Sprintf("%s %s", key.V1, key.V2))
		}
	}
	slices.Sort(out)
	return out
}
