package input

import (
	"fmt"
	"slices"

	"github.com/x448/float16"

	"github.com/pagedkv/stepctx/ml"
)

// Embedding holds the rows a vision encoder produced for one image, in the
// half precision encoders emit. Row r covers one token position; the row
// layout is Rows()*Dim float16 values.
type Embedding struct {
	Dim  int
	Data []uint16
}

// EmbeddingFromFloats packs float32 rows into an Embedding.
func EmbeddingFromFloats(dim int, vals []float32) Embedding {
	data := make([]uint16, len(vals))
	for i, v := range vals {
		data[i] = float16.Fromfloat32(v).Bits()
	}

	return Embedding{Dim: dim, Data: data}
}

func (e Embedding) Rows() int {
	if e.Dim == 0 {
		return 0
	}
	return len(e.Data) / e.Dim
}

// Slice returns the rows in [start, end). The result shares storage with e.
func (e Embedding) Slice(start, end int32) Embedding {
	return Embedding{Dim: e.Dim, Data: e.Data[int(start)*e.Dim : int(end)*e.Dim]}
}

// Float32s expands the rows for kernels that consume single precision.
func (e Embedding) Float32s() []float32 {
	out := make([]float32, len(e.Data))
	for i, bits := range e.Data {
		out[i] = float16.Frombits(bits).Float32()
	}
	return out
}

// Range is a [Start, End) span of token offsets into a slot's full
// history+current sequence.
type Range struct {
	Start int32
	End   int32
}

// VisionBatch carries the embeddings already produced upstream for the
// multimodal slots of a batch, indexed by absolute token offsets into each
// slot's full sequence.
type VisionBatch struct {
	// HistoryLengths records each slot's history length at the time the
	// embeddings were produced. Select uses it to line the index mask up
	// with the current step's window.
	HistoryLengths []int32

	// HistoryImageNums and HistoryImageTokenLengths are scheduler
	// bookkeeping carried along for the backend; nothing here reads them.
	HistoryImageNums         []int32
	HistoryImageTokenLengths []int32

	// Embeddings and EmbeddingRanges list, per slot, each image's rows and
	// the token span it occupies. The two lists are parallel.
	Embeddings      [][]Embedding
	EmbeddingRanges [][]Range

	// EmbeddingIndex marks, over each slot's full sequence, which positions
	// are vision positions rather than text tokens.
	EmbeddingIndex [][]bool

	Device ml.Device
}

// Select picks the embedding rows that fall inside the current step's window
// [historyLengths[i], historyLengths[i]+seqLengths[i]) for each slot and
// concatenates them in batch order. The returned index lists, for each
// selected row, the position in the step's packed token stream it must be
// scattered into. Returns (nil, nil) when no embeddings exist or none fall
// inside the window.
func (v *VisionBatch) Select(historyLengths, seqLengths []int32) (*Embedding, []int32) {
	if v == nil || len(v.Embeddings) == 0 {
		return nil, nil
	}

	var picked []Embedding
	for i := range v.Embeddings {
		if len(v.Embeddings[i]) != len(v.EmbeddingRanges[i]) {
			panic(fmt.Sprintf("input: slot %d has %d embeddings but %d ranges", i, len(v.Embeddings[i]), len(v.EmbeddingRanges[i])))
		}

		his, seq := historyLengths[i], seqLengths[i]
		for j, emb := range v.Embeddings[i] {
			r := v.EmbeddingRanges[i][j]

			// clip the absolute span to the window, then shift into the
			// embedding's own row coordinates
			start := max(r.Start, his) - r.Start
			end := min(r.End, his+seq) - r.Start
			if start >= 0 && start < end {
				picked = append(picked, emb.Slice(start, end))
			}
		}
	}

	if len(picked) == 0 {
		return nil, nil
	}

	cat := Embedding{Dim: picked[0].Dim}
	for _, emb := range picked {
		cat.Data = append(cat.Data, emb.Data...)
	}

	// Scatter positions are relative to the packed stream of this step's
	// tokens, not the full history: window each slot's mask from where its
	// recorded history ends, then collect the positions marked as vision.
	var index []int32
	var offset int32
	for i := range v.EmbeddingIndex {
		start := historyLengths[i] - v.HistoryLengths[i]
		end := start + seqLengths[i]
		for _, isVision := range v.EmbeddingIndex[i][start:end] {
			if isVision {
				index = append(index, offset)
			}
			offset++
		}
	}

	return &cat, index
}

// To returns a copy of the vision inputs relocated to device d.
func (v *VisionBatch) To(d ml.Device) *VisionBatch {
	out := &VisionBatch{
		HistoryLengths:           slices.Clone(v.HistoryLengths),
		HistoryImageNums:         slices.Clone(v.HistoryImageNums),
		HistoryImageTokenLengths: slices.Clone(v.HistoryImageTokenLengths),
		Device:                   d,
	}

	for _, embs := range v.Embeddings {
		row := make([]Embedding, len(embs))
		for j, emb := range embs {
			row[j] = Embedding{Dim: emb.Dim, Data: slices.Clone(emb.Data)}
		}
		out.Embeddings = append(out.Embeddings, row)
	}

	for _, ranges := range v.EmbeddingRanges {
		out.EmbeddingRanges = append(out.EmbeddingRanges, slices.Clone(ranges))
	}

	for _, mask := range v.EmbeddingIndex {
		out.EmbeddingIndex = append(out.EmbeddingIndex, slices.Clone(mask))
	}

	return out
}
