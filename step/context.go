// Package step derives the kernel-ready execution context for one scheduling
// step of a batched, paged-KV decoding engine.
//
// The scheduler hands a snapshot of the step's work to New as an input.Batch;
// New computes the position, masking and length metadata the attention and
// adapter kernels consume, and the Manager scopes the resulting Context to
// the lifetime of the step so nested compute code can reach it.
package step

import (
	"slices"

	"github.com/google/uuid"

	"github.com/pagedkv/stepctx/ml"
	"github.com/pagedkv/stepctx/model/adapters"
	"github.com/pagedkv/stepctx/model/input"
)

// Context is the derived, immutable-after-construction snapshot for one step.
// Built once per step by New and discarded at step end.
type Context struct {
	// ID tags log lines across the step.
	ID string

	// Inputs is the originating batch snapshot.
	Inputs *input.Batch

	// BlockOffsets is the per-slot cache block table, unchanged from Inputs.
	BlockOffsets [][]int32

	// Positions is the packed 1-D position id stream: each slot's valid
	// tokens in batch order, offset by that slot's history length. Padded
	// tail positions never appear here.
	Positions []int32

	// Mask marks which of the MaxQSeqLength columns hold a valid token for
	// each slot. In decode mode it is all-true with one column.
	Mask [][]bool

	// QStartLoc marks where each slot's tokens begin in the packed stream.
	QStartLoc []int32

	QSeqLengths    []int32
	HistoryLengths []int32

	// KVSeqLengths is the cache length each slot's attention must cover,
	// after sliding window truncation when the cache is windowed.
	KVSeqLengths []int32

	MaxQSeqLength  int32
	MaxKVSeqLength int32

	// KVCaches holds the opaque per-layer cache handles for this worker.
	KVCaches []any

	IsDecoding bool
	WorldSize  int

	AdapterIDs []int32

	// AdapterParams maps target module name to that target's packed
	// adapter parameters.
	AdapterParams map[string]*adapters.Info

	// InputEmbeddings and EmbeddingIndex are the vision rows falling inside
	// this step's window and their packed-stream scatter positions.
	InputEmbeddings *input.Embedding
	EmbeddingIndex  []int32

	// Outputs accumulates backend-specific extensions.
	Outputs map[string]any
}

// New builds the step context for a batch snapshot. The batch must not be
// mutated afterwards. Shapes are not validated here; the scheduler owns the
// batch invariants and malformed shapes fail in the consuming kernels.
func New(b *input.Batch, worldSize int, kvCaches []any, config ml.CacheConfig) (*Context, error) {
	batchSize := len(b.SeqLengths)

	embeddings, embIndex := b.Vision.Select(b.HistoryLengths, b.SeqLengths)

	qStartLoc := make([]int32, batchSize)
	mask := make([][]bool, batchSize)
	var positions []int32

	if b.IsDecoding {
		// one token per slot: contiguous offsets, trivial mask, and each
		// slot attends up to and including its next position
		for i := range qStartLoc {
			qStartLoc[i] = int32(i)
			mask[i] = []bool{true}
		}
		positions = slices.Clone(b.HistoryLengths)
	} else {
		var cum int32
		for i, l := range b.SeqLengths {
			qStartLoc[i] = cum
			cum += l
		}

		positions = make([]int32, 0, cum)
		for i, l := range b.SeqLengths {
			row := make([]bool, b.MaxSeqLen)
			for j := int32(0); j < l; j++ {
				row[j] = true
				positions = append(positions, b.HistoryLengths[i]+j)
			}
			mask[i] = row
		}
	}

	kvSeqLengths := make([]int32, batchSize)
	for i := range kvSeqLengths {
		kvSeqLengths[i] = b.SeqLengths[i] + b.HistoryLengths[i]
	}

	if config.WindowSize > 0 {
		// visible cache shrinks once history passes the window
		for i := range kvSeqLengths {
			kvSeqLengths[i] -= b.NumIgnoredHistory[i]
		}
	}

	var adapterParams map[string]*adapters.Info
	if b.Adapters != nil {
		adapterParams = b.Adapters.SplitByTargets()
	}

	ctx := &Context{
		ID:              uuid.NewString(),
		Inputs:          b,
		BlockOffsets:    b.BlockOffsets,
		Positions:       positions,
		Mask:            mask,
		QStartLoc:       qStartLoc,
		QSeqLengths:     b.SeqLengths,
		HistoryLengths:  b.HistoryLengths,
		KVSeqLengths:    kvSeqLengths,
		MaxQSeqLength:   b.MaxSeqLen,
		MaxKVSeqLength:  b.MaxSeqLen + b.MaxHistory,
		KVCaches:        kvCaches,
		IsDecoding:      b.IsDecoding,
		WorldSize:       worldSize,
		AdapterIDs:      b.AdapterIDs,
		AdapterParams:   adapterParams,
		InputEmbeddings: embeddings,
		EmbeddingIndex:  embIndex,
		Outputs:         make(map[string]any),
	}

	return Active().UpdateStepContext(ctx)
}
