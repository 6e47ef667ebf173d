// Package tickindex implements the TickIndex component: a secondary index
// mapping (pair, tick) to buy/sell order-id sets, supporting efficient
// overlap queries for the MatchScanner.
//
// The index is two levels deep (pair, then tick) rather than a single
// hash-keyed structure: pair and tick are never combined into one key, so
// there is no collision surface between pairs to audit.
package tickindex

import (
	"sort"
	"sync"

	"github.com/terminal-bench/tradeengine/internal/orderstore"
)

// entry is one order's presence in a bucket, enough to keep the bucket
// sorted without round-tripping through the order store.
type entry struct {
	orderID   string
	createdAt int64
}

// Bucket holds the buy/sell order ids resting at a single (pair, tick).
type Bucket struct {
	buys  []entry
	sells []entry
}

// BuyCount returns the number of live buy orders in the bucket.
func (b *Bucket) BuyCount() int { return len(b.buys) }

// SellCount returns the number of live sell orders in the bucket.
func (b *Bucket) SellCount() int { return len(b.sells) }

// BuyIDs returns the bucket's buy order ids in ascending (created_at,
// order_id) order.
func (b *Bucket) BuyIDs() []string { return idsOf(b.buys) }

// SellIDs returns the bucket's sell order ids in ascending (created_at,
// order_id) order.
func (b *Bucket) SellIDs() []string { return idsOf(b.sells) }

func idsOf(list []entry) []string {
	out := make([]string, len(list))
	for i, e := range list {
		out[i] = e.orderID
	}
	return out
}

func insertSorted(list []entry, e entry) []entry {
	i := sort.Search(len(list), func(i int) bool {
		if list[i].createdAt != e.createdAt {
			return list[i].createdAt > e.createdAt
		}
		return list[i].orderID > e.orderID
	})
	list = append(list, entry{})
	copy(list[i+1:], list[i:])
	list[i] = e
	return list
}

func removeByID(list []entry, orderID string) []entry {
	for i, e := range list {
		if e.orderID == orderID {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// Index is the two-level pair->tick->bucket structure.
type Index struct {
	mu      sync.RWMutex
	pairs   map[uint64]map[uint64]*Bucket
	store   *orderstore.Store
}

// New creates an empty index backed by store for order lookups during
// overlap traversal.
func New(store *orderstore.Store) *Index {
	return &Index{
		pairs: make(map[uint64]map[uint64]*Bucket),
		store: store,
	}
}

func (idx *Index) bucketsFor(pairID uint64) map[uint64]*Bucket {
	b, ok := idx.pairs[pairID]
	if !ok {
		b = make(map[uint64]*Bucket)
		idx.pairs[pairID] = b
	}
	return b
}

// InsertOrder indexes o for every tick in [TickLower, TickUpper).
func (idx *Index) InsertOrder(o *orderstore.Order) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	buckets := idx.bucketsFor(o.PairID)
	e := entry{orderID: o.OrderID, createdAt: o.CreatedAt}
	for t := o.TickLower; t < o.TickUpper; t++ {
		bucket, ok := buckets[t]
		if !ok {
			bucket = &Bucket{}
			buckets[t] = bucket
		}
		if o.Side == orderstore.SideBuy {
			bucket.buys = insertSorted(bucket.buys, e)
		} else {
			bucket.sells = insertSorted(bucket.sells, e)
		}
	}
}

// RemoveOrder removes o from every tick it was indexed at, pruning any
// bucket left with no orders on either side.
func (idx *Index) RemoveOrder(o *orderstore.Order) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	buckets, ok := idx.pairs[o.PairID]
	if !ok {
		return
	}
	for t := o.TickLower; t < o.TickUpper; t++ {
		bucket, ok := buckets[t]
		if !ok {
			continue
		}
		if o.Side == orderstore.SideBuy {
			bucket.buys = removeByID(bucket.buys, o.OrderID)
		} else {
			bucket.sells = removeByID(bucket.sells, o.OrderID)
		}
		if len(bucket.buys) == 0 && len(bucket.sells) == 0 {
			delete(buckets, t)
		}
	}
}

// TickEntry pairs a tick id with its bucket, for IterBuckets.
type TickEntry struct {
	Tick   uint64
	Bucket *Bucket
}

// IterBuckets returns the pair's buckets in ascending tick order. The
// result is a finite, restartable snapshot.
func (idx *Index) IterBuckets(pairID uint64) []TickEntry {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	buckets, ok := idx.pairs[pairID]
	if !ok {
		return nil
	}
	ticks := make([]uint64, 0, len(buckets))
	for t := range buckets {
		ticks = append(ticks, t)
	}
	sort.Slice(ticks, func(i, j int) bool { return ticks[i] < ticks[j] })

	out := make([]TickEntry, 0, len(ticks))
	for _, t := range ticks {
		out = append(out, TickEntry{Tick: t, Bucket: buckets[t]})
	}
	return out
}

// overlapping unions every bucket's orderIDs in [tickLower, tickUpper),
// deduplicating with a visited set, then resolves ids to live orders via
// the store, preserving ascending (created_at, order_id) order.
func (idx *Index) overlapping(pairID, tickLower, tickUpper uint64, buy bool) []*orderstore.Order {
	idx.mu.RLock()
	buckets, ok := idx.pairs[pairID]
	if !ok {
		idx.mu.RUnlock()
		return nil
	}

	visited := make(map[string]struct{})
	var ids []entry
	for t := tickLower; t < tickUpper; t++ {
		bucket, ok := buckets[t]
		if !ok {
			continue
		}
		side := bucket.sells
		if buy {
			side = bucket.buys
		}
		for _, e := range side {
			if _, seen := visited[e.orderID]; seen {
				continue
			}
			visited[e.orderID] = struct{}{}
			ids = append(ids, e)
		}
	}
	idx.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool {
		if ids[i].createdAt != ids[j].createdAt {
			return ids[i].createdAt < ids[j].createdAt
		}
		return ids[i].orderID < ids[j].orderID
	})

	out := make([]*orderstore.Order, 0, len(ids))
	for _, e := range ids {
		if o, err := idx.store.Get(e.orderID); err == nil && o.IsLive() {
			out = append(out, o)
		}
	}
	return out
}

// BuyOrdersOverlapping visits each live buy order whose tick range
// intersects [tickLower, tickUpper) at most once, ascending created_at.
func (idx *Index) BuyOrdersOverlapping(pairID, tickLower, tickUpper uint64) []*orderstore.Order {
	return idx.overlapping(pairID, tickLower, tickUpper, true)
}

// SellOrdersOverlapping is the sell-side symmetric of BuyOrdersOverlapping.
func (idx *Index) SellOrdersOverlapping(pairID, tickLower, tickUpper uint64) []*orderstore.Order {
	return idx.overlapping(pairID, tickLower, tickUpper, false)
}
