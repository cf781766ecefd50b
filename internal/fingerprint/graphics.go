package fingerprint

import (
	"context"
	"strconv"
	"strings"

	"warden/internal/types"
)

// GraphicsLimits is the fixed list of numeric capabilities folded into the signature.
var GraphicsLimits = []string{
	"MAX_TEXTURE_SIZE",
	"MAX_CUBE_MAP_TEXTURE_SIZE",
	"MAX_RENDERBUFFER_SIZE",
	"MAX_VIEWPORT_DIMS",
	"MAX_VERTEX_ATTRIBS",
	"MAX_VERTEX_UNIFORM_VECTORS",
	"MAX_FRAGMENT_UNIFORM_VECTORS",
	"MAX_VARYING_VECTORS",
	"MAX_TEXTURE_IMAGE_UNITS",
	"MAX_VERTEX_TEXTURE_IMAGE_UNITS",
	"MAX_COMBINED_TEXTURE_IMAGE_UNITS",
	"ALIASED_LINE_WIDTH_MAX",
	"ALIASED_POINT_SIZE_MAX",
}

var triangle = [6]float32{0, 0.5, -0.5, -0.5, 0.5, -0.5}

type GraphicsCollector struct {
	Pipeline GraphicsPipeline
	Hasher   Hasher
}

func (g *GraphicsCollector) Name() string { return "graphics" }

func (g *GraphicsCollector) Collect(ctx context.Context) types.Signal {
	if g.Pipeline == nil {
		return types.Unsupported("no graphics pipeline")
	}

	capabilities := CapabilityString(g.Pipeline)
	if ctx.Err() != nil {
		return types.TimedOut()
	}

	pixels, err := g.Pipeline.RenderTriangle(64, 64, triangle)
	if err != nil {
		return types.Failed(err.Error())
	}
	return types.Hashed(g.Hasher.String(capabilities + "|" + g.Hasher.Sum(pixels)))
}

// CapabilityString is vendor~renderer|LIMIT=value;...|ext,ext.
func CapabilityString(p GraphicsPipeline) string {
	var b strings.Builder
	if vendor, renderer, ok := p.DebugInfo(); ok {
		b.WriteString(vendor + "~" + renderer)
	} else {
		b.WriteString("masked")
	}
	b.WriteByte('|')
	for i, name := range GraphicsLimits {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(name + "=")
		if v, ok := p.Limit(name); ok {
			b.WriteString(strconv.Itoa(v))
		} else {
			b.WriteString("na")
		}
	}
	b.WriteByte('|')
	b.WriteString(strings.Join(p.Extensions(), ","))
	return b.String()
}
