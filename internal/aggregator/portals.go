package aggregator

import (
	"sort"
	"time"

	"trendwatch/internal/core"
)

// sortFused orders keywords by score times source count, descending.
// sort.SliceStable keeps first-appearance order for equal keys, which
// makes the ranking deterministic across passes.
func sortFused(fused []core.FusedKeyword) {
	sort.SliceStable(fused, func(i, j int) bool {
		return fused[i].Score*len(fused[i].Sources) > fused[j].Score*len(fused[j].Sources)
	})
}

// CombinePortals fuses only the hot-search portal observations, scoring
// each by rank position: 21 minus rank, floored at 1. Unranked entries
// also score 1. Keywords seen on fewer than minSources portals are
// dropped; the survivors are capped and ranked.
func CombinePortals(raw []core.RawTrend, minSources, cap int, now time.Time) []core.FusedKeyword {
	if minSources <= 0 {
		minSources = 2
	}
	if cap <= 0 {
		cap = 20
	}

	portal := make(map[core.Source]bool, len(core.PortalSources))
	for _, s := range core.PortalSources {
		portal[s] = true
	}

	type entry struct {
		fused   core.FusedKeyword
		seenSrc map[core.Source]bool
	}
	index := make(map[string]*entry)
	var order []string

	for _, tr := range raw {
		if !portal[tr.Source] {
			continue
		}
		key := core.NormalizeKeyword(tr.Keyword)
		if key == "" {
			continue
		}
		e, ok := index[key]
		if !ok {
			e = &entry{
				fused: core.FusedKeyword{
					Keyword:       tr.Keyword,
					PerSourceRank: make(map[core.Source]int),
					Timestamp:     now,
				},
				seenSrc: make(map[core.Source]bool),
			}
			index[key] = e
			order = append(order, key)
		}
		// One contribution per portal; a repeat observation from the same
		// portal only improves the recorded rank.
		if e.seenSrc[tr.Source] {
			if tr.Rank > 0 {
				if prev, ok := e.fused.PerSourceRank[tr.Source]; !ok || tr.Rank < prev {
					e.fused.PerSourceRank[tr.Source] = tr.Rank
				}
			}
			continue
		}
		e.seenSrc[tr.Source] = true
		e.fused.Sources = append(e.fused.Sources, tr.Source)
		e.fused.Score += portalRankScore(tr.Rank)
		if tr.Rank > 0 {
			e.fused.PerSourceRank[tr.Source] = tr.Rank
		}
	}

	combined := make([]core.FusedKeyword, 0, len(order))
	for _, key := range order {
		if len(index[key].fused.Sources) < minSources {
			continue
		}
		combined = append(combined, index[key].fused)
	}

	sort.SliceStable(combined, func(i, j int) bool {
		return combined[i].Score > combined[j].Score
	})
	if len(combined) > cap {
		combined = combined[:cap]
	}
	for i := range combined {
		combined[i].Rank = i + 1
	}
	return combined
}

// portalRankScore projects a 1-based portal rank onto a score. Rank 0
// means the portal listed the keyword without a position.
func portalRankScore(rank int) int {
	if rank <= 0 {
		return 1
	}
	score := 21 - rank
	if score < 1 {
		return 1
	}
	return score
}
