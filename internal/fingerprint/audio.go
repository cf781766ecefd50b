package fingerprint

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"warden/internal/types"
)

const oscillatorFrequency = 10000

type AudioCollector struct {
	Pipeline AudioPipeline
	Hasher   Hasher
}

func (a *AudioCollector) Name() string { return "audio" }

// Collect releases the graph on every return path, including the timeout.
func (a *AudioCollector) Collect(ctx context.Context) types.Signal {
	if a.Pipeline == nil {
		return types.Unsupported("no audio pipeline")
	}
	graph, err := a.Pipeline.NewGraph()
	if errors.Is(err, ErrUnsupported) {
		return types.Unsupported(err.Error())
	}
	if err != nil {
		return types.Failed(err.Error())
	}
	defer graph.Close()

	bins, err := graph.Snapshot(ctx, oscillatorFrequency)
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return types.TimedOut()
	}
	if err != nil {
		return types.Failed(err.Error())
	}
	if len(bins) == 0 {
		return types.Failed("empty snapshot")
	}

	parts := make([]string, len(bins))
	for i, v := range bins {
		parts[i] = strconv.FormatFloat(float64(v), 'f', 4, 32)
	}
	return types.Hashed(a.Hasher.String(strings.Join(parts, ",")))
}
