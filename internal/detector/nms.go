package detector

import (
	"sort"

	"github.com/MeKo-Tech/ocrcascade/internal/engine"
)

// NonMaxSuppression performs greedy Non-Maximum Suppression: regions are
// visited by descending confidence and every lower-ranked region whose IoU
// with a kept region exceeds iouThreshold is suppressed.
func NonMaxSuppression(regions []engine.Region, iouThreshold float64) []engine.Region {
	if len(regions) <= 1 {
		return regions
	}

	indices := sortRegionsByConfidence(regions)
	suppressed := make([]bool, len(regions))
	kept := make([]engine.Region, 0, len(regions))

	for i, a := range indices {
		if suppressed[a] {
			continue
		}
		kept = append(kept, regions[a])

		for _, b := range indices[i+1:] {
			if suppressed[b] {
				continue
			}
			if regions[a].Box.IoU(regions[b].Box) > iouThreshold {
				suppressed[b] = true
			}
		}
	}

	return kept
}

// sortRegionsByConfidence returns region indices by descending confidence.
// Ties fall back to box coordinates so the result is deterministic.
func sortRegionsByConfidence(regions []engine.Region) []int {
	indices := make([]int, len(regions))
	for i := range indices {
		indices[i] = i
	}
	sort.SliceStable(indices, func(i, j int) bool {
		a, b := regions[indices[i]], regions[indices[j]]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		return boxLess(a.Box, b.Box)
	})
	return indices
}

// boxLess orders boxes by (X1, Y1, X2, Y2).
func boxLess(a, b engine.Box) bool {
	if a.X1 != b.X1 {
		return a.X1 < b.X1
	}
	if a.Y1 != b.Y1 {
		return a.Y1 < b.Y1
	}
	if a.X2 != b.X2 {
		return a.X2 < b.X2
	}
	return a.Y2 < b.Y2
}

// regionLess is a total order on regions: box coordinates, then confidence.
func regionLess(a, b engine.Region) bool {
	if a.Box != b.Box {
		return boxLess(a.Box, b.Box)
	}
	return a.Confidence < b.Confidence
}
