package adapters

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/pagedkv/stepctx/ml"
)

func testAdapters() []*Adapter {
	targets := []string{"attn.q_proj", "attn.v_proj"}

	return []*Adapter{
		{
			Name:          "summarize",
			TargetModules: targets,
			MaxRank:       8,
			Ranks:         []int32{8, 4},
			Scalings:      []float32{2, 1},
			RankOffsets:   []int32{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15},
		},
		{
			Name:          "translate",
			TargetModules: targets,
			MaxRank:       8,
			Ranks:         []int32{4, 8},
			Scalings:      []float32{1, 0.5},
			RankOffsets:   []int32{16, 17, 18, 19, 20, 21, 22, 23, 24, 25, 26, 27, 28, 29, 30, 31},
		},
	}
}

func TestFromAdaptersEmpty(t *testing.T) {
	if info := FromAdapters(nil); info != nil {
		t.Errorf("expected nil Info for empty adapter set, got %+v", info)
	}

	if info := FromAdapters([]*Adapter{}); info != nil {
		t.Errorf("expected nil Info for empty adapter set, got %+v", info)
	}
}

func TestFromAdapters(t *testing.T) {
	info := FromAdapters(testAdapters())
	if info == nil {
		t.Fatal("expected packed Info")
	}

	wantRanks := [][]int32{{8, 4}, {4, 8}}
	if diff := cmp.Diff(wantRanks, info.Ranks); diff != "" {
		t.Errorf("ranks mismatch (-want +got):\n%s", diff)
	}

	wantMax := []int32{8, 8}
	if diff := cmp.Diff(wantMax, info.MaxRankPerTarget); diff != "" {
		t.Errorf("max rank per target mismatch (-want +got):\n%s", diff)
	}

	if info.MaxRank != 8 {
		t.Errorf("max rank = %d, want 8", info.MaxRank)
	}
}

func TestSplitByTargets(t *testing.T) {
	info := FromAdapters(testAdapters())
	split := info.SplitByTargets()

	if len(split) != len(info.TargetModules) {
		t.Fatalf("got %d projections, want %d", len(split), len(info.TargetModules))
	}

	q := split["attn.q_proj"]
	if diff := cmp.Diff([][]int32{{8}, {4}}, q.Ranks); diff != "" {
		t.Errorf("q_proj ranks mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([][]int32{{0, 1, 2, 3, 4, 5, 6, 7}, {16, 17, 18, 19, 20, 21, 22, 23}}, q.RankOffsets); diff != "" {
		t.Errorf("q_proj rank offsets mismatch (-want +got):\n%s", diff)
	}

	v := split["attn.v_proj"]
	if diff := cmp.Diff([][]float32{{1}, {0.5}}, v.Scalings); diff != "" {
		t.Errorf("v_proj scalings mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([][]int32{{8, 9, 10, 11, 12, 13, 14, 15}, {24, 25, 26, 27, 28, 29, 30, 31}}, v.RankOffsets); diff != "" {
		t.Errorf("v_proj rank offsets mismatch (-want +got):\n%s", diff)
	}
}

// Reassembling the per-target columns in TargetModules order must reproduce
// the original rank and scaling matrices.
func TestSplitByTargetsRoundTrip(t *testing.T) {
	info := FromAdapters(testAdapters())
	split := info.SplitByTargets()

	ranks := make([][]int32, len(info.Ranks))
	scalings := make([][]float32, len(info.Scalings))
	for _, target := range info.TargetModules {
		part := split[target]
		for a := range part.Ranks {
			ranks[a] = append(ranks[a], part.Ranks[a][0])
			scalings[a] = append(scalings[a], part.Scalings[a][0])
		}
	}

	if diff := cmp.Diff(info.Ranks, ranks); diff != "" {
		t.Errorf("reassembled ranks mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(info.Scalings, scalings); diff != "" {
		t.Errorf("reassembled scalings mismatch (-want +got):\n%s", diff)
	}
}

func TestInfoTo(t *testing.T) {
	info := FromAdapters(testAdapters())
	moved := info.To(ml.DeviceCUDA(0))

	if moved.Device != "cuda:0" {
		t.Errorf("device = %s, want cuda:0", moved.Device)
	}

	// relocation must not alias the original tables
	moved.Ranks[0][0] = 99
	if info.Ranks[0][0] == 99 {
		t.Error("relocated ranks alias the original")
	}
}
