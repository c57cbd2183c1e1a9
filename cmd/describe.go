package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/pagedkv/stepctx/ml"
	"github.com/pagedkv/stepctx/model/input"
	"github.com/pagedkv/stepctx/step"
)

// loadSnapshot reads a batch snapshot dumped by a worker. Workers dump CBOR;
// hand-written test fixtures are JSON.
func loadSnapshot(path string) (*input.Batch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var b input.Batch
	switch ext := filepath.Ext(path); ext {
	case ".cbor":
		err = cbor.Unmarshal(data, &b)
	case ".json":
		err = json.Unmarshal(data, &b)
	default:
		return nil, fmt.Errorf("unsupported snapshot format %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}

	return &b, nil
}

func DescribeHandler(cmd *cobra.Command, args []string) error {
	b, err := loadSnapshot(args[0])
	if err != nil {
		return err
	}

	worldSize, _ := cmd.Flags().GetInt("world-size")
	blockSize, _ := cmd.Flags().GetInt32("block-size")
	window, _ := cmd.Flags().GetInt32("window")

	ctx, err := step.New(b, worldSize, nil, ml.CacheConfig{BlockSize: blockSize, WindowSize: window})
	if err != nil {
		return err
	}

	out := os.Stdout

	mode := "prefill"
	if ctx.IsDecoding {
		mode = "decode"
	}
	fmt.Fprintf(out, "step %s: %s, %d slots, %d packed tokens\n\n", ctx.ID, mode, len(ctx.QSeqLengths), len(ctx.Positions))

	table := tablewriter.NewWriter(out)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("  ")
	table.SetHeader([]string{"SLOT", "SEQ", "HISTORY", "KV", "Q START", "POSITIONS", "BLOCKS"})

	for i := range ctx.QSeqLengths {
		start := ctx.QStartLoc[i]
		end := start + ctx.QSeqLengths[i]
		positions := ctx.Positions[start:end]

		table.Append([]string{
			strconv.Itoa(i),
			strconv.Itoa(int(ctx.QSeqLengths[i])),
			strconv.Itoa(int(ctx.HistoryLengths[i])),
			strconv.Itoa(int(ctx.KVSeqLengths[i])),
			strconv.Itoa(int(start)),
			fmt.Sprintf("[%d..%d]", positions[0], positions[len(positions)-1]),
			strconv.Itoa(len(ctx.BlockOffsets[i])),
		})
	}
	table.Render()

	if len(ctx.AdapterParams) > 0 {
		targets := make([]string, 0, len(ctx.AdapterParams))
		for target := range ctx.AdapterParams {
			targets = append(targets, target)
		}
		fmt.Fprintf(out, "\nadapter targets: %s\n", strings.Join(targets, ", "))
	}

	if ctx.InputEmbeddings != nil {
		fmt.Fprintf(out, "\nvision: %d embedding rows scattered to %d positions\n", ctx.InputEmbeddings.Rows(), len(ctx.EmbeddingIndex))
	}

	return nil
}
