package device

import (
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/draw"
	"golang.org/x/image/vector"
)

// SoftwarePipeline is the graphics pipeline of a host without GPU access.
type SoftwarePipeline struct{}

var softwareLimits = map[string]int{
	"MAX_TEXTURE_SIZE":                 8192,
	"MAX_CUBE_MAP_TEXTURE_SIZE":        8192,
	"MAX_RENDERBUFFER_SIZE":            8192,
	"MAX_VIEWPORT_DIMS":                8192,
	"MAX_VERTEX_ATTRIBS":               16,
	"MAX_VERTEX_UNIFORM_VECTORS":       1024,
	"MAX_FRAGMENT_UNIFORM_VECTORS":     1024,
	"MAX_VARYING_VECTORS":              30,
	"MAX_TEXTURE_IMAGE_UNITS":          16,
	"MAX_VERTEX_TEXTURE_IMAGE_UNITS":   16,
	"MAX_COMBINED_TEXTURE_IMAGE_UNITS": 32,
	"ALIASED_LINE_WIDTH_MAX":           1,
	"ALIASED_POINT_SIZE_MAX":           1024,
}

func (SoftwarePipeline) DebugInfo() (string, string, bool) {
	return "warden", "software rasterizer (x/image/vector)", true
}

func (SoftwarePipeline) Limit(name string) (int, bool) {
	v, ok := softwareLimits[name]
	return v, ok
}

func (SoftwarePipeline) Extensions() []string {
	return []string{"ANGLE_instanced_arrays", "EXT_blend_minmax", "OES_element_index_uint", "OES_standard_derivatives", "WEBGL_debug_renderer_info"}
}

// RenderTriangle rasterises the clip-space triangle with a flat fragment
// colour and returns the raw RGBA pixels.
func (SoftwarePipeline) RenderTriangle(w, h int, v [6]float32) ([]byte, error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("invalid viewport %dx%d", w, h)
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	px := func(x, y float32) (float32, float32) {
		return (x + 1) / 2 * float32(w), (1 - y) / 2 * float32(h)
	}
	z := vector.NewRasterizer(w, h)
	z.DrawOp = draw.Src
	x0, y0 := px(v[0], v[1])
	x1, y1 := px(v[2], v[3])
	x2, y2 := px(v[4], v[5])
	z.MoveTo(x0, y0)
	z.LineTo(x1, y1)
	z.LineTo(x2, y2)
	z.ClosePath()
	z.Draw(img, img.Bounds(), image.NewUniform(color.NRGBA{R: 0xff, G: 0x33, B: 0x66, A: 0xff}), image.Point{})
	return img.Pix, nil
}
