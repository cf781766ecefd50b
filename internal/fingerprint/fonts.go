package fingerprint

import (
	"context"
	"strings"

	"warden/internal/types"
)

const (
	fontProbeText = "mmmmmmmmmmlli"
	fontProbeSize = 72
)

var FontBaselines = []string{"monospace", "sans-serif", "serif"}

// FontCatalog is the fixed list of families probed for presence.
var FontCatalog = []string{
	"Andale Mono", "Arial", "Arial Black", "Arial Hebrew", "Arial Narrow",
	"Arial Rounded MT Bold", "Arial Unicode MS", "Bitstream Vera Sans Mono", "Book Antiqua", "Bookman Old Style",
	"Calibri", "Cambria", "Cambria Math", "Century", "Century Gothic",
	"Century Schoolbook", "Comic Sans", "Comic Sans MS", "Consolas", "Courier",
	"Courier New", "DejaVu Sans", "DejaVu Sans Mono", "DejaVu Serif", "Droid Sans",
	"Franklin Gothic Medium", "Garamond", "Geneva", "Georgia", "Gill Sans",
	"Helvetica", "Helvetica Neue", "Impact", "Liberation Mono", "Liberation Sans",
	"Liberation Serif", "Lucida Bright", "Lucida Console", "Lucida Grande", "Lucida Sans Unicode",
	"Menlo", "Microsoft Sans Serif", "Monaco", "Noto Sans", "Noto Serif",
	"Palatino", "Palatino Linotype", "Roboto", "Segoe Print", "Segoe Script",
	"Segoe UI", "Segoe UI Symbol", "Tahoma", "Times", "Times New Roman",
	"Trebuchet MS", "Ubuntu", "Ubuntu Mono", "Verdana", "Wingdings",
}

type FontCollector struct {
	Measurer TextMeasurer
	Hasher   Hasher
	// Catalog overrides FontCatalog when set.
	Catalog []string
}

func (f *FontCollector) Name() string { return "fonts" }

func (f *FontCollector) Collect(ctx context.Context) types.Signal {
	if f.Measurer == nil {
		return types.Unsupported("no text measurer")
	}
	present, err := f.Present(ctx)
	if ctx.Err() != nil {
		return types.TimedOut()
	}
	if err != nil {
		return types.Failed(err.Error())
	}
	return types.Hashed(f.Hasher.String(strings.Join(present, "|")))
}

// Present lists catalog fonts whose rendered box differs from every baseline.
func (f *FontCollector) Present(ctx context.Context) ([]string, error) {
	type box struct{ w, h float64 }

	base := make(map[string]box, len(FontBaselines))
	for _, b := range FontBaselines {
		w, h, err := f.Measurer.Measure(fontProbeText, []string{b}, fontProbeSize)
		if err != nil {
			return nil, err
		}
		base[b] = box{w, h}
	}

	catalog := f.Catalog
	if catalog == nil {
		catalog = FontCatalog
	}

	var present []string
	for _, font := range catalog {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		detected := true
		for _, b := range FontBaselines {
			w, h, err := f.Measurer.Measure(fontProbeText, []string{font, b}, fontProbeSize)
			if err != nil {
				return nil, err
			}
			if (box{w, h}) == base[b] {
				detected = false
				break
			}
		}
		if detected {
			present = append(present, font)
		}
	}
	return present, nil
}
