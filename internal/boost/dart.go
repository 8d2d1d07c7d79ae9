package boost

import (
	"math"
	"math/rand"

	"github.com/histoboost/histoboost/pkg/config"
)

// sampleDropout decides, for one DART iteration, which base-model indices
// (each spanning rawSize consecutive tree slots) are dropped this round. It
// returns an empty set if the dropSkip coin lands "skip" or there are no
// base models yet to drop.
func sampleDropout(rng *rand.Rand, numBaseModels int, cfg *config.BoostConfig) map[int]bool {
	if numBaseModels <= 0 || rng.Float64() < cfg.DropSkip {
		return nil
	}

	k := int(math.Ceil(float64(numBaseModels) * cfg.DropRate))
	if k < cfg.MinDrop {
		k = cfg.MinDrop
	}
	if k > cfg.MaxDrop {
		k = cfg.MaxDrop
	}
	if k > numBaseModels {
		k = numBaseModels
	}
	if k <= 0 {
		return nil
	}

	idx := make([]int, numBaseModels)
	for i := range idx {
		idx[i] = i
	}
	rng.Shuffle(numBaseModels, func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })

	dropped := make(map[int]bool, k)
	for _, b := range idx[:k] {
		dropped[b] = true
	}
	return dropped
}

// expandBaseModels turns a set of dropped base-model indices into the set
// of per-tree indices they own: base model b owns tree indices
// [b*rawSize, (b+1)*rawSize).
func expandBaseModels(dropped map[int]bool, rawSize int) map[int]bool {
	if len(dropped) == 0 {
		return nil
	}
	out := make(map[int]bool, len(dropped)*rawSize)
	for b := range dropped {
		for o := 0; o < rawSize; o++ {
			out[b*rawSize+o] = true
		}
	}
	return out
}
