package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/pagedkv/stepctx/cmd"
	"github.com/pagedkv/stepctx/logutil"
)

func main() {
	logutil.Init()
	cobra.CheckErr(cmd.NewCLI().ExecuteContext(context.Background()))
}
