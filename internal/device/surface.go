package device

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math"
	"strconv"
	"strings"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/f64"
	"golang.org/x/image/math/fixed"
	"golang.org/x/image/vector"

	"warden/internal/fingerprint"
)

// Raster renders probe scenes in software onto an RGBA image.
type Raster struct{}

func (Raster) NewSurface(w, h int) (fingerprint.Surface, error) {
	return &rasterSurface{img: image.NewRGBA(image.Rect(0, 0, w, h))}, nil
}

type rasterSurface struct {
	img *image.RGBA
}

func (s *rasterSurface) fill(c color.Color, path func(z *vector.Rasterizer)) {
	b := s.img.Bounds()
	z := vector.NewRasterizer(b.Dx(), b.Dy())
	z.DrawOp = draw.Over
	path(z)
	z.Draw(s.img, b, image.NewUniform(c), image.Point{})
}

func (s *rasterSurface) FillRect(x, y, w, h float64, c color.Color) {
	s.fill(c, func(z *vector.Rasterizer) {
		z.MoveTo(float32(x), float32(y))
		z.LineTo(float32(x+w), float32(y))
		z.LineTo(float32(x+w), float32(y+h))
		z.LineTo(float32(x), float32(y+h))
		z.ClosePath()
	})
}

func (s *rasterSurface) FillGradient(x, y, w, h float64, from, to color.Color) {
	r0, g0, b0, a0 := from.RGBA()
	r1, g1, b1, a1 := to.RGBA()
	lerp := func(a, b uint32, t float64) uint16 {
		return uint16(float64(a) + (float64(b)-float64(a))*t)
	}
	cols := int(math.Ceil(w))
	for i := 0; i < cols; i++ {
		t := 0.0
		if cols > 1 {
			t = float64(i) / float64(cols-1)
		}
		c := color.RGBA64{R: lerp(r0, r1, t), G: lerp(g0, g1, t), B: lerp(b0, b1, t), A: lerp(a0, a1, t)}
		rect := image.Rect(int(x)+i, int(y), int(x)+i+1, int(math.Ceil(y+h)))
		draw.Draw(s.img, rect, image.NewUniform(c), image.Point{}, draw.Over)
	}
}

// kappa places cubic control points so four curves approximate a circle.
const kappa = 0.5522847498

func (s *rasterSurface) FillCircle(cx, cy, r float64, c color.Color) {
	k := r * kappa
	f := func(v float64) float32 { return float32(v) }
	s.fill(c, func(z *vector.Rasterizer) {
		z.MoveTo(f(cx+r), f(cy))
		z.CubeTo(f(cx+r), f(cy+k), f(cx+k), f(cy+r), f(cx), f(cy+r))
		z.CubeTo(f(cx-k), f(cy+r), f(cx-r), f(cy+k), f(cx-r), f(cy))
		z.CubeTo(f(cx-r), f(cy-k), f(cx-k), f(cy-r), f(cx), f(cy-r))
		z.CubeTo(f(cx+k), f(cy-r), f(cx+r), f(cy-k), f(cx+r), f(cy))
		z.ClosePath()
	})
}

// FillText draws text with the built-in bitmap face scaled to the pixel size
// in fontSpec (e.g. "14px Arial"), rotated by angle radians around (x, y).
func (s *rasterSurface) FillText(text, fontSpec string, x, y, angle float64, c color.Color) {
	face := basicfont.Face7x13
	width := font.MeasureString(face, text).Ceil()
	if width == 0 {
		return
	}
	glyphs := image.NewRGBA(image.Rect(0, 0, width, face.Height))
	d := font.Drawer{
		Dst:  glyphs,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(0, face.Ascent),
	}
	d.DrawString(text)

	scale := fontSize(fontSpec) / float64(face.Height)
	sin, cos := math.Sincos(angle)
	top := y - float64(face.Ascent)*scale
	aff := f64.Aff3{
		scale * cos, -scale * sin, x,
		scale * sin, scale * cos, top,
	}
	draw.BiLinear.Transform(s.img, aff, glyphs, glyphs.Bounds(), draw.Over, nil)
}

func fontSize(fontSpec string) float64 {
	for _, field := range strings.Fields(fontSpec) {
		if px, ok := strings.CutSuffix(field, "px"); ok {
			if v, err := strconv.ParseFloat(px, 64); err == nil && v > 0 {
				return v
			}
		}
	}
	return 13
}

const bezierSteps = 48

func (s *rasterSurface) StrokeBezier(p0, p1, p2, p3 fingerprint.Point, width float64, c color.Color) {
	pts := make([]fingerprint.Point, bezierSteps+1)
	for i := range pts {
		t := float64(i) / bezierSteps
		u := 1 - t
		pts[i] = fingerprint.Point{
			X: u*u*u*p0.X + 3*u*u*t*p1.X + 3*u*t*t*p2.X + t*t*t*p3.X,
			Y: u*u*u*p0.Y + 3*u*u*t*p1.Y + 3*u*t*t*p2.Y + t*t*t*p3.Y,
		}
	}
	half := width / 2
	s.fill(c, func(z *vector.Rasterizer) {
		for i := 1; i < len(pts); i++ {
			a, b := pts[i-1], pts[i]
			dx, dy := b.X-a.X, b.Y-a.Y
			l := math.Hypot(dx, dy)
			if l == 0 {
				continue
			}
			nx, ny := -dy/l*half, dx/l*half
			z.MoveTo(float32(a.X+nx), float32(a.Y+ny))
			z.LineTo(float32(b.X+nx), float32(b.Y+ny))
			z.LineTo(float32(b.X-nx), float32(b.Y-ny))
			z.LineTo(float32(a.X-nx), float32(a.Y-ny))
			z.ClosePath()
		}
	})
}

func (s *rasterSurface) Blend(x, y int, c color.NRGBA) {
	draw.Draw(s.img, image.Rect(x, y, x+1, y+1), image.NewUniform(c), image.Point{}, draw.Over)
}

func (s *rasterSurface) Export() ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, s.img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
