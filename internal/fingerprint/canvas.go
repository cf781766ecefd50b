package fingerprint

import (
	"context"
	"errors"
	"image/color"
	"time"

	"warden/internal/types"
)

const (
	CanvasWidth  = 280
	CanvasHeight = 60

	// perturbationAlpha is 0.01 of full opacity.
	perturbationAlpha = 3
)

type CanvasCollector struct {
	Surfaces SurfaceFactory
	Hasher   Hasher
	Now      func() time.Time
}

func (c *CanvasCollector) Name() string { return "canvas" }

func (c *CanvasCollector) Collect(ctx context.Context) types.Signal {
	if c.Surfaces == nil {
		return types.Unsupported("no surface factory")
	}
	s, err := c.Surfaces.NewSurface(CanvasWidth, CanvasHeight)
	if errors.Is(err, ErrUnsupported) {
		return types.Unsupported(err.Error())
	}
	if err != nil {
		return types.Failed(err.Error())
	}

	DrawScene(s, now(c.Now).Day())
	if ctx.Err() != nil {
		return types.TimedOut()
	}

	img, err := s.Export()
	if err != nil {
		return types.Failed(err.Error())
	}
	return types.Hashed(c.Hasher.Sum(img))
}

// DrawScene paints the fixed probe scene plus the near-invisible pixel seeded
// by day of month, so renders match within a day and drift across days.
func DrawScene(s Surface, day int) {
	s.FillRect(0, 0, CanvasWidth, CanvasHeight, color.NRGBA{R: 0xf7, G: 0xf7, B: 0xf2, A: 0xff})
	s.FillGradient(0, 0, CanvasWidth, 12, color.NRGBA{R: 0xff, G: 0x66, A: 0xff}, color.NRGBA{G: 0x66, B: 0x99, A: 0xff})
	s.FillRect(125, 1, 62, 20, color.NRGBA{R: 0xff, G: 0x66, A: 0xff})
	s.FillCircle(230, 35, 18, color.NRGBA{R: 0x66, G: 0xcc, A: 0xb3})

	s.FillText("Cwm fjordbank glyphs vext quiz", "14px Arial", 2, 15, 0, color.NRGBA{G: 0x66, B: 0x99, A: 0xff})
	s.FillText("Cwm fjordbank glyphs vext quiz", "16px Times New Roman", 4, 17, 0, color.NRGBA{R: 0x66, G: 0xcc, A: 0xb3})
	s.FillText("Æøß Ω≈ç ☃ \U0001F603", "12px Courier New", 6, 38, 0, color.NRGBA{R: 0x33, G: 0x33, B: 0x33, A: 0xff})
	s.FillText("warden", "18px Georgia", 150, 50, -0.35, color.NRGBA{R: 0x99, B: 0x66, A: 0xff})

	s.StrokeBezier(Point{10, 55}, Point{60, 5}, Point{140, 65}, Point{270, 20}, 2, color.NRGBA{R: 0x20, G: 0x40, B: 0xa0, A: 0xff})

	x, y := perturbationPoint(day)
	s.Blend(x, y, color.NRGBA{A: perturbationAlpha})
}

func perturbationPoint(day int) (int, int) {
	return (day * 7) % CanvasWidth, (day*3 + 5) % CanvasHeight
}

func now(fn func() time.Time) time.Time {
	if fn == nil {
		return time.Now()
	}
	return fn()
}
