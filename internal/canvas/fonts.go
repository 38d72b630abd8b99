package canvas

import (
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
)

// TextStyle selects a font weight and pixel size.
type TextStyle struct {
	Size float64
	Bold bool
}

// FontSet holds the parsed regular and bold fonts. Parsed fonts are safe
// for concurrent use; faces are not, so every surface creates its own.
type FontSet struct {
	regular *opentype.Font
	bold    *opentype.Font
}

// NewFontSet loads TrueType/OpenType fonts from the given paths. An empty or
// unreadable path falls back to the embedded Go fonts so rendering never
// depends on font files being present.
func NewFontSet(regularPath, boldPath string, logger *slog.Logger) (*FontSet, error) {
	if logger == nil {
		logger = slog.Default()
	}

	regular, err := loadFont(regularPath, goregular.TTF, logger)
	if err != nil {
		return nil, fmt.Errorf("load regular font: %w", err)
	}
	bold, err := loadFont(boldPath, gobold.TTF, logger)
	if err != nil {
		return nil, fmt.Errorf("load bold font: %w", err)
	}

	return &FontSet{regular: regular, bold: bold}, nil
}

// DefaultFontSet returns the embedded Go Regular/Bold pair.
func DefaultFontSet() *FontSet {
	regular, _ := opentype.Parse(goregular.TTF)
	bold, _ := opentype.Parse(gobold.TTF)
	return &FontSet{regular: regular, bold: bold}
}

func loadFont(path string, fallback []byte, logger *slog.Logger) (*opentype.Font, error) {
	data := fallback
	if path != "" {
		custom, err := os.ReadFile(path) // #nosec G304 - path comes from configuration
		if err != nil {
			logger.Warn("font unavailable, using embedded default",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
		} else {
			data = custom
		}
	}

	parsed, err := opentype.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse font: %w", err)
	}
	return parsed, nil
}

// newFace creates a face for style. It falls back to a fixed bitmap face
// if the outline face cannot be built.
func (fs *FontSet) newFace(style TextStyle) font.Face {
	f := fs.regular
	if style.Bold {
		f = fs.bold
	}

	face, err := opentype.NewFace(f, &opentype.FaceOptions{
		Size:    style.Size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return basicfont.Face7x13
	}
	return face
}
