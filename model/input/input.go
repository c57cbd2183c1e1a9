// Package input describes the batch of work entering one scheduling step.
//
// A Batch is built by the scheduler, optionally re-chunked with Split for
// long prefills, advanced with Update during decoding, and finally consumed
// by step.New to derive the kernel-ready step context. Slots are identified
// only by their position in the batch.
package input

import (
	"errors"
	"fmt"
	"slices"

	"github.com/pagedkv/stepctx/logutil"
	"github.com/pagedkv/stepctx/ml"
	"github.com/pagedkv/stepctx/model/adapters"
)

// ErrNotDecoding is returned by Update when any slot is still prefilling.
var ErrNotDecoding = errors.New("input: update requires a decoding batch")

// Batch holds the new tokens entering one step plus the per-slot cache state
// they extend. After it is handed to step.New it must not be mutated; use To
// to obtain an independent copy.
type Batch struct {
	// Tokens holds each slot's new tokens for this step. Row i has
	// SeqLengths[i] entries; rows are ragged, not padded.
	Tokens [][]int32

	// SeqLengths is the number of new tokens per slot, always >= 1.
	SeqLengths []int32

	// HistoryLengths is the number of tokens already in each slot's KV
	// cache before this step.
	HistoryLengths []int32

	// NumIgnoredHistory counts tokens dropped from the visible window when
	// sliding window attention is active. Zero otherwise.
	NumIgnoredHistory []int32

	// BlockOffsets is the physical cache block table backing each slot,
	// sized to cover HistoryLengths[i]+SeqLengths[i] tokens or more.
	BlockOffsets [][]int32

	// MaxSeqLen and MaxHistory are the batch-wide maxima of SeqLengths and
	// HistoryLengths.
	MaxSeqLen  int32
	MaxHistory int32

	// IsDecoding is true iff every slot produces a single token this step.
	IsDecoding bool

	// AdapterIDs selects the adapter applied to each slot, -1 for none.
	// Nil when no adapters are active.
	AdapterIDs []int32

	// Adapters is the packed parameter set for the active adapter set.
	Adapters *adapters.Info

	// Vision carries externally produced embeddings for multimodal slots.
	Vision *VisionBatch

	// Meta is opaque scheduler data carried through to the backend hook.
	Meta any

	Device ml.Device
}

// Update appends one generated token per slot and advances the cache
// bookkeeping. Valid only while decoding; calling it with a slot still in
// prefill is a scheduler bug and fails immediately.
func (b *Batch) Update(tokens []int32) error {
	if !b.IsDecoding {
		return ErrNotDecoding
	}

	if len(tokens) != len(b.SeqLengths) {
		return fmt.Errorf("input: got %d tokens for %d slots", len(tokens), len(b.SeqLengths))
	}

	for i := range b.HistoryLengths {
		b.HistoryLengths[i]++
	}
	b.MaxHistory++

	rows := make([][]int32, len(tokens))
	for i, tok := range tokens {
		rows[i] = []int32{tok}
	}
	b.Tokens = rows

	return nil
}

// Split breaks a single oversized prefill into chunks of at most splitSize
// tokens so compute and activation memory stay bounded per kernel launch.
// splitSize must be a multiple of the cache block size. Chunking is not
// defined for batched inputs.
//
// Every chunk keeps the full block table: history block pointers are
// absolute, so later chunks still need the blocks written by earlier ones.
// A prompt that already fits in splitSize comes back unchanged as a
// single-element result.
func (b *Batch) Split(splitSize, blockSize int32) ([]*Batch, error) {
	if len(b.SeqLengths) != 1 {
		return nil, errors.New("input: cannot split a batched input")
	}

	if splitSize <= 0 || blockSize <= 0 || splitSize%blockSize != 0 {
		return nil, fmt.Errorf("input: split size %d must be a positive multiple of block size %d", splitSize, blockSize)
	}

	total := b.SeqLengths[0]
	if total <= splitSize {
		return []*Batch{b}, nil
	}

	history := b.HistoryLengths[0]
	numBlocks := splitSize / blockSize

	// When the original history does not end on a block boundary the first
	// partial block is shared between history and the first window, so each
	// window reaches one block further than its own tokens account for.
	overlap := history%blockSize != 0

	var chunks []*Batch
	var blockStart int32
	for start := int32(0); start < total; start += splitSize {
		end := min(total, start+splitSize)

		blockEnd := blockStart + numBlocks
		if overlap {
			blockEnd++
		}

		if needed := int((history + end + blockSize - 1) / blockSize); needed > len(b.BlockOffsets[0]) {
			return nil, fmt.Errorf("input: block table has %d blocks, window [%d,%d) needs %d", len(b.BlockOffsets[0]), start, end, needed)
		}

		logutil.Trace("split prefill window", "start", start, "end", end, "blockStart", blockStart, "blockEnd", blockEnd)

		chunks = append(chunks, &Batch{
			Tokens:            [][]int32{b.Tokens[0][start:end]},
			SeqLengths:        []int32{end - start},
			HistoryLengths:    []int32{history + start},
			NumIgnoredHistory: b.NumIgnoredHistory,
			BlockOffsets:      b.BlockOffsets,
			MaxSeqLen:         end - start,
			MaxHistory:        b.MaxHistory + start,
			IsDecoding:        b.IsDecoding,
			AdapterIDs:        b.AdapterIDs,
			Adapters:          b.Adapters,
			Vision:            b.Vision,
			Meta:              b.Meta,
			Device:            b.Device,
		})

		blockStart += numBlocks
	}

	return chunks, nil
}

// To returns a copy of the batch relocated to device d. Each array-valued
// field is copied explicitly so a stale reference to the original remains
// safe to read. Meta is opaque and shared.
func (b *Batch) To(d ml.Device) *Batch {
	out := *b
	out.Device = d

	out.Tokens = cloneRows(b.Tokens)
	out.SeqLengths = slices.Clone(b.SeqLengths)
	out.HistoryLengths = slices.Clone(b.HistoryLengths)
	out.NumIgnoredHistory = slices.Clone(b.NumIgnoredHistory)
	out.BlockOffsets = cloneRows(b.BlockOffsets)
	out.AdapterIDs = slices.Clone(b.AdapterIDs)

	if b.Adapters != nil {
		out.Adapters = b.Adapters.To(d)
	}
	if b.Vision != nil {
		out.Vision = b.Vision.To(d)
	}

	return &out
}

func cloneRows(rows [][]int32) [][]int32 {
	if rows == nil {
		return nil
	}

	out := make([][]int32, len(rows))
	for i, row := range rows {
		out[i] = slices.Clone(row)
	}
	return out
}
