package canvas

import (
	"path/filepath"
	"strings"
	"sync"

	"github.com/gogpu/gg"
	"github.com/gogpu/gg/text"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/image/font/gofont/goregular"

	"maprender/renderer"
	"maprender/theme"
)

const defaultFontSize = 10

// Factory creates gg canvases and measures text with one font.
type Factory struct {
	source *text.FontSource

	mu    sync.Mutex
	faces map[float64]text.Face
}

var _ renderer.GraphicFactory = (*Factory)(nil)

// NewFactory loads the TrueType font at fontPath, or the Go regular font
// if fontPath is empty.
func NewFactory(fontPath string) (*Factory, error) {
	var (
		source *text.FontSource
		err    error
	)
	if fontPath == "" {
		source, err = text.NewFontSource(goregular.TTF)
	} else {
		source, err = text.NewFontSourceFromFile(fontPath)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load font %q", fontPath)
	}
	return &Factory{source: source, faces: make(map[float64]text.Face)}, nil
}

func (f *Factory) face(size float64) (text.Face, error) {
	if size <= 0 {
		size = defaultFontSize
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	face, ok := f.faces[size]
	if !ok {
		face = f.source.Face(size)
		if face == nil {
			return nil, errors.Errorf("no font face for size %g", size)
		}
		f.faces[size] = face
	}
	return face, nil
}

func (f *Factory) NewCanvas(size int, hasAlpha bool) renderer.Canvas {
	return &GG{dc: gg.NewContext(size, size), factory: f}
}

func (f *Factory) TextSize(s string, p theme.Paint) (float64, float64) {
	face, err := f.face(p.FontSize)
	if err != nil {
		log.Warnf("measure %q: %s", s, err)
		return 0, 0
	}
	return text.Measure(s, face)
}

// Symbol is a bitmap loaded for a theme.
type Symbol struct {
	buf *gg.ImageBuf
}

func (s *Symbol) Width() int {
	if s.buf == nil {
		return 0
	}
	return s.buf.Width()
}

func (s *Symbol) Height() int {
	if s.buf == nil {
		return 0
	}
	return s.buf.Height()
}

func (s *Symbol) Destroy() {
	s.buf = nil
}

// SymbolLoader resolves symbol sources relative to dir. Sources starting
// with "file:" are always relative to dir.
func SymbolLoader(dir string) theme.SymbolLoader {
	return func(src string) (theme.Bitmap, error) {
		path := src
		if strings.HasPrefix(src, "file:") {
			path = filepath.Join(dir, strings.TrimPrefix(src, "file:"))
		} else if !filepath.IsAbs(path) {
			path = filepath.Join(dir, path)
		}
		buf, err := gg.LoadImage(path)
		if err != nil {
			return nil, errors.Wrapf(err, "load symbol %s", src)
		}
		return &Symbol{buf: buf}, nil
	}
}
