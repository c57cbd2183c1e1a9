// Package adapters packs low-rank adapter parameters for kernel consumption.
//
// The scheduler tracks one Adapter per loaded adapter. Each step, the set of
// adapters active in the batch is packed into a single Info whose tables are
// stacked across the adapter dimension, then split per target module because
// kernels apply one target module at a time.
package adapters

import (
	"fmt"
	"slices"

	"github.com/pagedkv/stepctx/ml"
)

// Adapter holds one adapter's low-rank parameters. All adapters loaded into
// the same engine share the same TargetModules ordering and MaxRank; the
// scheduler guarantees this when it loads them.
type Adapter struct {
	Name string

	// TargetModules lists the weight matrices this adapter patches, in the
	// shared name ordering.
	TargetModules []string

	// MaxRank is the rank the offset table is padded to.
	MaxRank int32

	// Ranks and Scalings hold one entry per target module.
	Ranks    []int32
	Scalings []float32

	// RankOffsets locates each target's rank rows in the adapter weight
	// cache, padded to MaxRank entries per target.
	RankOffsets []int32
}

// Info is the packed parameter set for the adapters active in one step.
// Rows are adapters, in the order the scheduler activated them; columns
// follow TargetModules.
type Info struct {
	Ranks       [][]int32
	Scalings    [][]float32
	RankOffsets [][]int32

	TargetModules    []string
	MaxRankPerTarget []int32
	MaxRank          int32

	Device ml.Device
}

// FromAdapters stacks the active adapter set into an Info. Returns nil for an
// empty set; a batch with no adapters is a normal state, not an error.
func FromAdapters(active []*Adapter) *Info {
	if len(active) == 0 {
		return nil
	}

	first := active[0]
	info := &Info{
		TargetModules: slices.Clone(first.TargetModules),
		MaxRank:       first.MaxRank,
		Device:        ml.DeviceCPU,
	}

	for _, a := range active {
		if len(a.Ranks) != len(first.TargetModules) {
			panic(fmt.Sprintf("adapters: %q has %d ranks for %d target modules", a.Name, len(a.Ranks), len(first.TargetModules)))
		}

		info.Ranks = append(info.Ranks, slices.Clone(a.Ranks))
		info.Scalings = append(info.Scalings, slices.Clone(a.Scalings))
		info.RankOffsets = append(info.RankOffsets, slices.Clone(a.RankOffsets))
	}

	info.MaxRankPerTarget = make([]int32, len(first.TargetModules))
	for _, ranks := range info.Ranks {
		for t, r := range ranks {
			info.MaxRankPerTarget[t] = max(info.MaxRankPerTarget[t], r)
		}
	}

	return info
}

// SplitByTargets projects the packed set into one single-target Info per
// target module. The adapter dimension is unchanged; each projection carries
// that target's rank and scaling column plus its MaxRank-wide window of the
// rank offset table.
func (info *Info) SplitByTargets() map[string]*Info {
	out := make(map[string]*Info, len(info.TargetModules))

	for idx, target := range info.TargetModules {
		split := &Info{
			TargetModules:    []string{target},
			MaxRank:          info.MaxRankPerTarget[idx],
			MaxRankPerTarget: []int32{info.MaxRankPerTarget[idx]},
			Device:           info.Device,
		}

		offStart := int32(idx) * info.MaxRank
		offEnd := offStart + info.MaxRank
		for a := range info.Ranks {
			split.Ranks = append(split.Ranks, []int32{info.Ranks[a][idx]})
			split.Scalings = append(split.Scalings, []float32{info.Scalings[a][idx]})
			split.RankOffsets = append(split.RankOffsets, slices.Clone(info.RankOffsets[a][offStart:offEnd]))
		}

		out[target] = split
	}

	return out
}

// To returns a copy of the packed set relocated to device d. Every backing
// array is copied so a stale reference to the original stays safe to read.
func (info *Info) To(d ml.Device) *Info {
	out := &Info{
		TargetModules:    slices.Clone(info.TargetModules),
		MaxRankPerTarget: slices.Clone(info.MaxRankPerTarget),
		MaxRank:          info.MaxRank,
		Device:           d,
	}

	for a := range info.Ranks {
		out.Ranks = append(out.Ranks, slices.Clone(info.Ranks[a]))
		out.Scalings = append(out.Scalings, slices.Clone(info.Scalings[a]))
		out.RankOffsets = append(out.RankOffsets, slices.Clone(info.RankOffsets[a]))
	}

	return out
}
