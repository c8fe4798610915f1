package facematch

import (
	"slices"

	"github.com/kozaktomas/face-search/internal/match"
)

// Classify keeps the lowest-distance result of every identity and sorts the
// survivors into tiers by their own distance. Ties between results of one
// identity go to the one that comes first in results; identities whose best
// distance exceeds the doubtful threshold are dropped. Both lists are
// ordered by ascending distance, ties by input order.
func Classify(results []match.Result, th Thresholds, key IdentityKeyFunc) (strong, doubtful []ClassifiedMatch) {
	if key == nil {
		key = ByStem
	}

	best := make(map[string]int, len(results))
	var order []string
	for i, r := range results {
		k := key(r)
		j, seen := best[k]
		if !seen {
			best[k] = i
			order = append(order, k)
			continue
		}
		if r.BestDistance < results[j].BestDistance {
			best[k] = i
		}
	}

	type ranked struct {
		m   ClassifiedMatch
		pos int
	}
	var strongR, doubtfulR []ranked
	for _, k := range order {
		i := best[k]
		r := results[i]
		tier, ok := th.TierOf(r.BestDistance)
		if !ok {
			continue
		}
		item := ranked{m: ClassifiedMatch{Result: r, Tier: tier}, pos: i}
		if tier == TierStrong {
			strongR = append(strongR, item)
		} else {
			doubtfulR = append(doubtfulR, item)
		}
	}

	byDistance := func(a, b ranked) int {
		if a.m.BestDistance < b.m.BestDistance {
			return -1
		}
		if a.m.BestDistance > b.m.BestDistance {
			return 1
		}
		return a.pos - b.pos
	}
	slices.SortFunc(strongR, byDistance)
	slices.SortFunc(doubtfulR, byDistance)

	strong = make([]ClassifiedMatch, len(strongR))
	for i, r := range strongR {
		strong[i] = r.m
	}
	doubtful = make([]ClassifiedMatch, len(doubtfulR))
	for i, r := range doubtfulR {
		doubtful[i] = r.m
	}
	return strong, doubtful
}

// CrossTierDuplicates returns identity keys present in both tiers. Classify
// never produces any; callers use it to verify lists assembled elsewhere.
func CrossTierDuplicates(strong, doubtful []ClassifiedMatch, key IdentityKeyFunc) []string {
	if key == nil {
		key = ByStem
	}
	inStrong := make(map[string]struct{}, len(strong))
	for _, m := range strong {
		inStrong[key(m.Result)] = struct{}{}
	}
	var dups []string
	for _, m := range doubtful {
		k := key(m.Result)
		if _, ok := inStrong[k]; ok {
			dups = append(dups, k)
			delete(inStrong, k)
		}
	}
	return dups
}
