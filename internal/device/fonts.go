package device

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/image/font"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/font/sfnt"
	"golang.org/x/image/math/fixed"
)

var errNoFamily = errors.New("no font family resolved")

// genericMetrics stand in for the generic CSS families: advance per em and line height per em.
var genericMetrics = map[string][2]float64{
	"monospace":  {0.60, 1.17},
	"sans-serif": {0.52, 1.15},
	"serif":      {0.50, 1.13},
}

// SystemFonts measures text with the font files installed on the host.
type SystemFonts struct {
	Dirs []string
	Log  logrus.FieldLogger

	once  sync.Once
	index map[string]*sfnt.Font
}

func DefaultFontDirs() []string {
	home, _ := os.UserHomeDir()
	switch runtime.GOOS {
	case "darwin":
		return []string{"/System/Library/Fonts", "/Library/Fonts", filepath.Join(home, "Library/Fonts")}
	case "windows":
		return []string{filepath.Join(os.Getenv("WINDIR"), "Fonts")}
	default:
		return []string{"/usr/share/fonts", "/usr/local/share/fonts", filepath.Join(home, ".fonts"), filepath.Join(home, ".local/share/fonts")}
	}
}

func (s *SystemFonts) load() {
	s.index = make(map[string]*sfnt.Font)
	for _, dir := range s.Dirs {
		_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			ext := strings.ToLower(filepath.Ext(path))
			if ext != ".ttf" && ext != ".otf" {
				return nil
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return nil
			}
			f, err := opentype.Parse(data)
			if err != nil {
				logger(s.Log).WithError(err).WithField("path", path).Debug("SystemFonts: skipping unreadable font")
				return nil
			}
			family, err := f.Name(nil, sfnt.NameIDFamily)
			if err != nil || family == "" {
				return nil
			}
			key := strings.ToLower(family)
			if _, dup := s.index[key]; !dup {
				s.index[key] = f
			}
			return nil
		})
	}
	logger(s.Log).WithField("families", len(s.index)).Debug("SystemFonts: font index built")
}

// Measure resolves the first known family in the stack, like a CSS font list.
func (s *SystemFonts) Measure(text string, families []string, size float64) (float64, float64, error) {
	s.once.Do(s.load)
	for _, family := range families {
		if m, ok := genericMetrics[family]; ok {
			return m[0] * size * float64(len([]rune(text))), m[1] * size, nil
		}
		f, ok := s.index[strings.ToLower(family)]
		if !ok {
			continue
		}
		face, err := opentype.NewFace(f, &opentype.FaceOptions{Size: size, DPI: 72, Hinting: font.HintingNone})
		if err != nil {
			return 0, 0, err
		}
		width := font.MeasureString(face, text)
		metrics := face.Metrics()
		_ = face.Close()
		return toFloat(width), toFloat(metrics.Ascent + metrics.Descent), nil
	}
	return 0, 0, errNoFamily
}

func toFloat(v fixed.Int26_6) float64 {
	return float64(v) / 64
}
