package input

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

// rowsEmbedding builds an embedding whose row r is [base+r, base+r] so tests
// can tell rows apart. Values stay small enough to be exact in half precision.
func rowsEmbedding(rows, base int) Embedding {
	vals := make([]float32, rows*2)
	for r := 0; r < rows; r++ {
		vals[2*r] = float32(base + r)
		vals[2*r+1] = float32(base + r)
	}
	return EmbeddingFromFloats(2, vals)
}

func TestSelectNoEmbeddings(t *testing.T) {
	var v *VisionBatch
	if emb, idx := v.Select([]int32{0}, []int32{1}); emb != nil || idx != nil {
		t.Error("nil vision batch should select nothing")
	}

	empty := &VisionBatch{}
	if emb, idx := empty.Select([]int32{0}, []int32{1}); emb != nil || idx != nil {
		t.Error("empty vision batch should select nothing")
	}
}

// A window [5,8) over an embedding spanning [4,10) must clip to the
// embedding's own rows [1,4).
func TestSelectClipsToWindow(t *testing.T) {
	v := &VisionBatch{
		HistoryLengths:  []int32{5},
		Embeddings:      [][]Embedding{{rowsEmbedding(6, 10)}},
		EmbeddingRanges: [][]Range{{{Start: 4, End: 10}}},
		EmbeddingIndex:  [][]bool{{true, true, true}},
	}

	emb, idx := v.Select([]int32{5}, []int32{3})
	if emb == nil {
		t.Fatal("expected selected rows")
	}

	want := rowsEmbedding(6, 10).Slice(1, 4)
	if diff := cmp.Diff(want.Float32s(), emb.Float32s()); diff != "" {
		t.Errorf("selected rows mismatch (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff([]int32{0, 1, 2}, idx); diff != "" {
		t.Errorf("scatter index mismatch (-want +got):\n%s", diff)
	}
}

func TestSelectOutsideWindow(t *testing.T) {
	v := &VisionBatch{
		HistoryLengths:  []int32{8},
		Embeddings:      [][]Embedding{{rowsEmbedding(4, 0)}},
		EmbeddingRanges: [][]Range{{{Start: 0, End: 4}}},
		EmbeddingIndex:  [][]bool{{false, false}},
	}

	// the image is entirely in history; the current window [8,10) holds text
	if emb, idx := v.Select([]int32{8}, []int32{2}); emb != nil || idx != nil {
		t.Error("embedding outside the window must not be selected")
	}
}

// Two slots: positions in the scatter index are relative to the packed token
// stream of the whole step, concatenated in batch order.
func TestSelectPackedIndex(t *testing.T) {
	v := &VisionBatch{
		HistoryLengths: []int32{0, 0},
		Embeddings: [][]Embedding{
			{rowsEmbedding(2, 10)},
			{rowsEmbedding(3, 20)},
		},
		EmbeddingRanges: [][]Range{
			{{Start: 1, End: 3}},
			{{Start: 0, End: 3}},
		},
		EmbeddingIndex: [][]bool{
			{false, true, true, false},
			{true, true, true, false},
		},
	}

	emb, idx := v.Select([]int32{0, 0}, []int32{4, 4})
	if emb == nil {
		t.Fatal("expected selected rows")
	}

	if got := emb.Rows(); got != 5 {
		t.Errorf("selected %d rows, want 5", got)
	}

	// slot 0 contributes stream positions 1,2; slot 1 starts at offset 4
	if diff := cmp.Diff([]int32{1, 2, 4, 5, 6}, idx); diff != "" {
		t.Errorf("scatter index mismatch (-want +got):\n%s", diff)
	}
}

// A re-chunked prefill advances history beyond the recorded history; the
// index mask must be windowed from where the slot's own history started.
func TestSelectChunkedWindow(t *testing.T) {
	v := &VisionBatch{
		HistoryLengths:  []int32{2},
		Embeddings:      [][]Embedding{{rowsEmbedding(4, 0)}},
		EmbeddingRanges: [][]Range{{{Start: 3, End: 7}}},
		EmbeddingIndex:  [][]bool{{false, true, true, true, true, false}},
	}

	// second chunk of a split prefill: history has advanced to 4
	emb, idx := v.Select([]int32{4}, []int32{3})
	if emb == nil {
		t.Fatal("expected selected rows")
	}

	// window [4,7) clips [3,7) to embedding rows [1,4)
	want := rowsEmbedding(4, 0).Slice(1, 4)
	if diff := cmp.Diff(want.Float32s(), emb.Float32s()); diff != "" {
		t.Errorf("selected rows mismatch (-want +got):\n%s", diff)
	}

	// mask window is [2,5) of the full-sequence mask
	if diff := cmp.Diff([]int32{0, 1, 2}, idx); diff != "" {
		t.Errorf("scatter index mismatch (-want +got):\n%s", diff)
	}
}

func TestEmbeddingRoundTrip(t *testing.T) {
	vals := []float32{1, -2, 0.5, 1024}
	emb := EmbeddingFromFloats(2, vals)

	if emb.Rows() != 2 {
		t.Errorf("rows = %d, want 2", emb.Rows())
	}
	if diff := cmp.Diff(vals, emb.Float32s()); diff != "" {
		t.Errorf("f16 round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestVisionTo(t *testing.T) {
	v := &VisionBatch{
		HistoryLengths:  []int32{0},
		Embeddings:      [][]Embedding{{rowsEmbedding(2, 0)}},
		EmbeddingRanges: [][]Range{{{Start: 0, End: 2}}},
		EmbeddingIndex:  [][]bool{{true, true}},
	}

	moved := v.To("cuda:0")
	moved.Embeddings[0][0].Data[0] = 0xffff
	if v.Embeddings[0][0].Data[0] == 0xffff {
		t.Error("relocated embeddings alias the original")
	}
}
