package state

import (
	"cmp"
	"net/netip"
	"slices"
	"sync"

	"github.com/gaissmai/bart"
)

// Table is the shared routing table. All access goes through Mutate or View,
// which hold the table lock for the duration of the callback. Callers must not
// perform I/O inside a callback.
type Table struct {
	mu     sync.Mutex
	routes bart.Table[*Route]
	size   int
}

// Tx is a handle to the table that is only valid inside a Mutate or View callback.
type Tx struct {
	t *Table
}

func (t *Table) Mutate(fn func(tx *Tx)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&Tx{t: t})
}

// View is Mutate for callers that only read. It takes the same lock.
func (t *Table) View(fn func(tx *Tx)) {
	t.Mutate(fn)
}

// Snapshot copies every route in prefix order.
func (t *Table) Snapshot() []Route {
	var out []Route
	t.View(func(tx *Tx) {
		rs := tx.Routes()
		out = make([]Route, 0, len(rs))
		for _, r := range rs {
			out = append(out, *r)
		}
	})
	return out
}

func (t *Table) Get(prefix netip.Prefix) (Route, bool) {
	var (
		r  Route
		ok bool
	)
	t.View(func(tx *Tx) {
		if found := tx.Find(prefix); found != nil {
			r, ok = *found, true
		}
	})
	return r, ok
}

func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.size
}

// Find returns the entry for exactly prefix, or nil.
func (tx *Tx) Find(prefix netip.Prefix) *Route {
	r, ok := tx.t.routes.Get(prefix.Masked())
	if !ok {
		return nil
	}
	return r
}

// Insert adds r to the table, replacing any entry with the same prefix.
func (tx *Tx) Insert(r *Route) {
	r.Prefix = r.Prefix.Masked()
	if _, ok := tx.t.routes.Get(r.Prefix); !ok {
		tx.t.size++
	}
	tx.t.routes.Insert(r.Prefix, r)
}

func (tx *Tx) Remove(prefix netip.Prefix) {
	prefix = prefix.Masked()
	if _, ok := tx.t.routes.Get(prefix); !ok {
		return
	}
	tx.t.routes.Delete(prefix)
	tx.t.size--
}

// Routes returns the live entries sorted by prefix. The slice is owned by the
// caller, so entries may be removed from the table while ranging over it.
func (tx *Tx) Routes() []*Route {
	out := make([]*Route, 0, tx.t.size)
	for _, r := range tx.t.routes.All() {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b *Route) int {
		if c := a.Prefix.Addr().Compare(b.Prefix.Addr()); c != 0 {
			return c
		}
		return cmp.Compare(a.Prefix.Bits(), b.Prefix.Bits())
	})
	return out
}

func (tx *Tx) Len() int {
	return tx.t.size
}
