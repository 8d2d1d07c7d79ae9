// Package execplane provides the partition-aware primitives the boosting
// driver composes over a row-partitioned dataset: partition reorganization,
// row/block/instance sampling, and the allgather shuffle that lets
// column-partitioned (vertical) histogram computation see every row's
// gradient in a stable order. Only an in-process implementation is
// provided; a network-shuffle-backed one is explicitly out of scope
// (spec.md §1).
package execplane

import (
	"math/rand"
	"sort"
)

// Partition is one worker's row-id ownership.
type Partition []int32

// Reorganize defines output partition i as the concatenation of the parent
// partitions named by groups[i], a narrow dependency (no shuffle): every
// output row is already owned by one of its constituent parents.
func Reorganize(parents []Partition, groups [][]int) []Partition {
	out := make([]Partition, len(groups))
	for i, g := range groups {
		var total int
		for _, p := range g {
			total += len(parents[p])
		}
		merged := make(Partition, 0, total)
		for _, p := range g {
			merged = append(merged, parents[p]...)
		}
		out[i] = merged
	}
	return out
}

// ExtendPartitions replicates the parent partition list, cycling through it,
// until the output reaches targetCount partitions — no shuffle, no new rows,
// just a larger partition count for downstream fan-out.
func ExtendPartitions(parents []Partition, targetCount int) []Partition {
	if targetCount <= len(parents) {
		out := make([]Partition, targetCount)
		copy(out, parents[:targetCount])
		return out
	}
	out := make([]Partition, targetCount)
	for i := 0; i < targetCount; i++ {
		out[i] = parents[i%len(parents)]
	}
	return out
}

// PartitionWeight selects one partition's sampling treatment: Keep takes the
// whole partition untouched, Drop discards it, and any other weight in
// (0,1) row-filters it via a seeded PRNG.
type PartitionWeight float64

const (
	Drop PartitionWeight = 0
	Keep PartitionWeight = 1
)

// SamplePartitions applies one weight per partition: w=1 keeps the whole
// partition, w=0 drops it, any other value in (0,1) keeps each row
// independently with that probability under a per-partition seeded PRNG
// (seed derived from the base seed and partition index, so re-running with
// the same seed reproduces the same sample).
func SamplePartitions(parents []Partition, weights []PartitionWeight, seed int64) []Partition {
	out := make([]Partition, len(parents))
	for i, p := range parents {
		w := weights[i]
		switch {
		case w <= 0:
			out[i] = nil
		case w >= 1:
			out[i] = p
		default:
			rng := rand.New(rand.NewSource(seed + int64(i)))
			kept := make(Partition, 0, len(p))
			for _, row := range p {
				if rng.Float64() < float64(w) {
					kept = append(kept, row)
				}
			}
			out[i] = kept
		}
	}
	return out
}

// SampleInstances performs per-row Bernoulli sampling at rate within one
// partition — the finer-grained of the two row-subsampling modes spec.md
// §4.6 names, used when subSample < 1.
func SampleInstances(p Partition, rate float64, seed int64) Partition {
	if rate >= 1 {
		out := make(Partition, len(p))
		copy(out, p)
		return out
	}
	rng := rand.New(rand.NewSource(seed))
	kept := make(Partition, 0, len(p))
	for _, row := range p {
		if rng.Float64() < rate {
			kept = append(kept, row)
		}
	}
	return kept
}

// SampleBlocks performs coarser sampling: p is chunked into contiguous
// blocks of blockSize rows, and whole blocks are kept at rate — faster than
// SampleInstances (one PRNG draw per block, not per row) at the cost of
// granularity.
func SampleBlocks(p Partition, blockSize int, rate float64, seed int64) Partition {
	if blockSize < 1 {
		blockSize = 1
	}
	if rate >= 1 {
		out := make(Partition, len(p))
		copy(out, p)
		return out
	}
	rng := rand.New(rand.NewSource(seed))
	kept := make(Partition, 0, len(p))
	for start := 0; start < len(p); start += blockSize {
		end := start + blockSize
		if end > len(p) {
			end = len(p)
		}
		if rng.Float64() < rate {
			kept = append(kept, p[start:end]...)
		}
	}
	return kept
}

// rowRef locates one row in the global, partition-ordered stream.
type rowRef struct {
	sourcePartition int
	rowOrdinal      int
	row             int32
}

// Allgather broadcasts the full global row stream, ordered by
// (sourcePartition, rowOrdinal), to n destination partitions: every
// destination receives an identical copy of that ordered stream. This is
// what lets vertical (column-partitioned) histogram computation have each
// feature-owning worker see every row's gradient in the same stable order
// as every other worker, without agreeing on a separate ordering scheme.
func Allgather(parents []Partition, n int) []Partition {
	var refs []rowRef
	for si, p := range parents {
		for oi, row := range p {
			refs = append(refs, rowRef{sourcePartition: si, rowOrdinal: oi, row: row})
		}
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].sourcePartition != refs[j].sourcePartition {
			return refs[i].sourcePartition < refs[j].sourcePartition
		}
		return refs[i].rowOrdinal < refs[j].rowOrdinal
	})

	global := make(Partition, len(refs))
	for i, r := range refs {
		global[i] = r.row
	}

	out := make([]Partition, n)
	for i := range out {
		copied := make(Partition, len(global))
		copy(copied, global)
		out[i] = copied
	}
	return out
}
