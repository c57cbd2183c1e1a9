package envconfig

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

var (
	// Set via STEPCTX_DEBUG in the environment
	Debug bool
	// Set via STEPCTX_TRACE in the environment
	Trace bool
	// Set via STEPCTX_WORLD_SIZE in the environment
	WorldSize int
	// Set via STEPCTX_BLOCK_SIZE in the environment
	BlockSize int
)

type EnvVar struct {
	Name        string
	Value       any
	Description string
}

func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"STEPCTX_DEBUG":      {"STEPCTX_DEBUG", Debug, "Show additional debug information (e.g. STEPCTX_DEBUG=1)"},
		"STEPCTX_TRACE":      {"STEPCTX_TRACE", Trace, "Log per-token trace detail (very verbose)"},
		"STEPCTX_WORLD_SIZE": {"STEPCTX_WORLD_SIZE", WorldSize, "Number of model parallel workers (default 1)"},
		"STEPCTX_BLOCK_SIZE": {"STEPCTX_BLOCK_SIZE", BlockSize, "Tokens per KV cache block (default 64)"},
	}
}

func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}

// Clean quotes and spaces from the value
func clean(key string) string {
	return strings.Trim(os.Getenv(key), "\"' ")
}

func init() {
	// default values
	WorldSize = 1
	BlockSize = 64

	LoadConfig()
}

func LoadConfig() {
	if debug := clean("STEPCTX_DEBUG"); debug != "" {
		d, err := strconv.ParseBool(debug)
		if err == nil {
			Debug = d
		} else {
			Debug = true
		}
	}

	if trace := clean("STEPCTX_TRACE"); trace != "" {
		d, err := strconv.ParseBool(trace)
		if err == nil {
			Trace = d
		} else {
			Trace = true
		}
	}

	if ws := clean("STEPCTX_WORLD_SIZE"); ws != "" {
		val, err := strconv.Atoi(ws)
		if err != nil || val <= 0 {
			slog.Error("invalid setting must be greater than zero", "STEPCTX_WORLD_SIZE", ws, "error", err)
		} else {
			WorldSize = val
		}
	}

	if bs := clean("STEPCTX_BLOCK_SIZE"); bs != "" {
		val, err := strconv.Atoi(bs)
		if err != nil || val <= 0 {
			slog.Error("invalid setting must be greater than zero", "STEPCTX_BLOCK_SIZE", bs, "error", err)
		} else {
			BlockSize = val
		}
	}
}
