// Package canvas provides the raster capabilities the renderer draws with:
// a 2D drawing surface, font handling and an image decoder that resolves
// remote, inline and local image references.
package canvas

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"
)

// maxPixels bounds a single surface allocation (about 64 MiB of NRGBA).
const maxPixels = 16 << 20

// ErrInvalidSize is returned when a surface cannot be allocated with the
// requested dimensions.
var ErrInvalidSize = errors.New("invalid surface size")

// Rect is a fractional destination rectangle.
type Rect struct {
	X, Y, W, H float64
}

// ClipShape selects the clipping geometry used by DrawImage.
type ClipShape int

const (
	// ClipRect clips to the rectangle itself.
	ClipRect ClipShape = iota
	// ClipCircle clips to the circle inscribed in the rectangle.
	ClipCircle
)

// Clip restricts drawing to a region of the surface.
type Clip struct {
	Shape ClipShape
	Rect  image.Rectangle
}

// Surface is a fixed-size 2D drawing target.
type Surface interface {
	Bounds() image.Rectangle
	FillRect(r image.Rectangle, c color.Color)
	MeasureText(text string, style TextStyle) float64
	// DrawText draws text with its baseline starting at (x, y).
	DrawText(text string, x, y float64, style TextStyle, c color.Color)
	// DrawImage scales img to dst and composites it inside clip.
	DrawImage(img image.Image, dst Rect, clip Clip)
	Image() image.Image
	Close() error
}

// SurfaceFactory allocates a new surface.
type SurfaceFactory func(width, height int) (Surface, error)

// RasterSurface is an in-memory NRGBA surface.
type RasterSurface struct {
	img   *image.NRGBA
	fonts *FontSet
	faces map[TextStyle]font.Face
}

var _ Surface = (*RasterSurface)(nil)

// NewRasterSurface allocates a transparent width×height surface.
func NewRasterSurface(width, height int, fonts *FontSet) (*RasterSurface, error) {
	if width <= 0 || height <= 0 || width*height > maxPixels {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidSize, width, height)
	}
	if fonts == nil {
		fonts = DefaultFontSet()
	}
	return &RasterSurface{
		img:   image.NewNRGBA(image.Rect(0, 0, width, height)),
		fonts: fonts,
		faces: make(map[TextStyle]font.Face),
	}, nil
}

// RasterFactory returns a SurfaceFactory producing RasterSurfaces that
// share fonts.
func RasterFactory(fonts *FontSet) SurfaceFactory {
	return func(width, height int) (Surface, error) {
		return NewRasterSurface(width, height, fonts)
	}
}

// Bounds returns the surface rectangle.
func (s *RasterSurface) Bounds() image.Rectangle {
	return s.img.Bounds()
}

// FillRect paints r with c, replacing existing pixels.
func (s *RasterSurface) FillRect(r image.Rectangle, c color.Color) {
	draw.Draw(s.img, r.Intersect(s.img.Bounds()), image.NewUniform(c), image.Point{}, draw.Src)
}

// MeasureText returns the advance width of text in pixels.
func (s *RasterSurface) MeasureText(text string, style TextStyle) float64 {
	adv := font.MeasureString(s.face(style), text)
	return fixedToFloat(adv)
}

// DrawText draws text with its baseline at y.
func (s *RasterSurface) DrawText(text string, x, y float64, style TextStyle, c color.Color) {
	d := &font.Drawer{
		Dst:  s.img,
		Src:  image.NewUniform(c),
		Face: s.face(style),
		Dot:  fixed.Point26_6{X: floatToFixed(x), Y: floatToFixed(y)},
	}
	d.DrawString(text)
}

// DrawImage resamples img to the rounded size of dst and composites it
// over the surface, limited to clip.
func (s *RasterSurface) DrawImage(img image.Image, dst Rect, clip Clip) {
	w := int(math.Round(dst.W))
	h := int(math.Round(dst.H))
	if w <= 0 || h <= 0 {
		return
	}

	origin := image.Pt(int(math.Round(dst.X)), int(math.Round(dst.Y)))
	target := image.Rectangle{Min: origin, Max: origin.Add(image.Pt(w, h))}
	area := target.Intersect(clip.Rect).Intersect(s.img.Bounds())
	if area.Empty() {
		return
	}

	scaled := imaging.Resize(img, w, h, imaging.Lanczos)
	sp := area.Min.Sub(origin)

	switch clip.Shape {
	case ClipCircle:
		mask := newCircleMask(clip.Rect)
		draw.DrawMask(s.img, area, scaled, sp, mask, area.Min, draw.Over)
	default:
		draw.Draw(s.img, area, scaled, sp, draw.Over)
	}
}

// Image returns the backing image. It remains owned by the surface.
func (s *RasterSurface) Image() image.Image {
	return s.img
}

// Close releases the font faces created by this surface.
func (s *RasterSurface) Close() error {
	var errs []error
	for style, face := range s.faces {
		if err := face.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(s.faces, style)
	}
	return errors.Join(errs...)
}

func (s *RasterSurface) face(style TextStyle) font.Face {
	if f, ok := s.faces[style]; ok {
		return f
	}
	f := s.fonts.newFace(style)
	s.faces[style] = f
	return f
}

// circleMask is an alpha mask that is opaque inside the circle inscribed
// in a rectangle.
type circleMask struct {
	cx, cy, r float64
	bounds    image.Rectangle
}

func newCircleMask(r image.Rectangle) *circleMask {
	return &circleMask{
		cx:     float64(r.Min.X) + float64(r.Dx())/2,
		cy:     float64(r.Min.Y) + float64(r.Dy())/2,
		r:      math.Min(float64(r.Dx()), float64(r.Dy())) / 2,
		bounds: r,
	}
}

func (m *circleMask) ColorModel() color.Model { return color.AlphaModel }

func (m *circleMask) Bounds() image.Rectangle { return m.bounds }

func (m *circleMask) At(x, y int) color.Color {
	dx := float64(x) + 0.5 - m.cx
	dy := float64(y) + 0.5 - m.cy
	if dx*dx+dy*dy <= m.r*m.r {
		return color.Alpha{A: 255}
	}
	return color.Alpha{}
}

func floatToFixed(v float64) fixed.Int26_6 {
	return fixed.Int26_6(math.Round(v * 64))
}

func fixedToFloat(v fixed.Int26_6) float64 {
	return float64(v) / 64
}
