// Package matchscanner implements the MatchScanner component: it traverses
// the TickIndex to find candidate (buy, sell) pairs whose tick ranges
// overlap, and yields them in descending profitability order.
package matchscanner

import (
	"sort"

	"github.com/terminal-bench/tradeengine/internal/orderstore"
	"github.com/terminal-bench/tradeengine/internal/pairs"
	"github.com/terminal-bench/tradeengine/internal/tickindex"
	"github.com/terminal-bench/tradeengine/internal/validator"
	"github.com/terminal-bench/tradeengine/pkg/money"
)

// Candidate is a crossing (buy, sell) pair discovered by a scan cycle,
// with its projected settlement terms.
type Candidate struct {
	BuyID           string
	SellID          string
	OverlapLow      uint64
	OverlapHigh     uint64
	ProjectedFill   uint64
	ProjectedPrice  uint64
	Score           int64
}

// Scan walks the pair's buckets in ascending tick order and returns
// surviving candidates sorted by descending score (ties broken by
// ascending (buy.CreatedAt, sell.CreatedAt)). Each (buy_id, sell_id) pair
// appears at most once even though it may be visible from several buckets.
func Scan(idx *tickindex.Index, store *orderstore.Store, pair pairs.Pair) []Candidate {
	seen := make(map[[2]string]struct{})
	var candidates []Candidate

	type orderedPair struct {
		buy, sell *orderstore.Order
	}
	var pairsToScore []orderedPair

	for _, te := range idx.IterBuckets(pair.PairID) {
		if te.Bucket.BuyCount() == 0 || te.Bucket.SellCount() == 0 {
			continue
		}
		buyIDs := te.Bucket.BuyIDs()
		sellIDs := te.Bucket.SellIDs()

		for _, bID := range buyIDs {
			buy, err := store.Get(bID)
			if err != nil || !buy.IsLive() {
				continue
			}
			for _, sID := range sellIDs {
				key := [2]string{bID, sID}
				if _, ok := seen[key]; ok {
					continue
				}
				seen[key] = struct{}{}

				sell, err := store.Get(sID)
				if err != nil || !sell.IsLive() {
					continue
				}
				pairsToScore = append(pairsToScore, orderedPair{buy: buy, sell: sell})
			}
		}
	}

	for _, p := range pairsToScore {
		overlap, execPrice, err := validator.CheckMatch(p.buy, p.sell, pair)
		if err != nil {
			continue
		}

		fill := money.Min(money.Quantity(p.buy.Remaining()), money.Quantity(p.sell.Remaining()))
		if fill == 0 {
			continue
		}

		score := int64(p.buy.LimitPrice-p.sell.LimitPrice) * int64(fill)

		candidates = append(candidates, Candidate{
			BuyID:          p.buy.OrderID,
			SellID:         p.sell.OrderID,
			OverlapLow:     overlap.Low,
			OverlapHigh:    overlap.High,
			ProjectedFill:  uint64(fill),
			ProjectedPrice: uint64(execPrice),
			Score:          score,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		bi, _ := store.Get(candidates[i].BuyID)
		bj, _ := store.Get(candidates[j].BuyID)
		if bi != nil && bj != nil && bi.CreatedAt != bj.CreatedAt {
			return bi.CreatedAt < bj.CreatedAt
		}
		si, _ := store.Get(candidates[i].SellID)
		sj, _ := store.Get(candidates[j].SellID)
		if si != nil && sj != nil {
			return si.CreatedAt < sj.CreatedAt
		}
		return false
	})

	return candidates
}
