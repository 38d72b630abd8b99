package render

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/maauso/postframe/internal/canvas"
	"github.com/maauso/postframe/internal/layout"
)

// Post template geometry.
const (
	CanvasSize = 1080

	titleX, titleY   = 220, 120
	handleX, handleY = 220, 180

	bodyX         = 80
	bodyTopY      = 280
	bodyLinePitch = 65
	bodyMaxWidth  = 1000

	avatarX, avatarY = 50, 60
	avatarSize       = 150

	featureX, featureY = 0, 480
	featureMaxW        = 1080
	featureMaxH        = 600
	featureMinW        = 600
	featureMinH        = 600
)

// Portrait frame geometry.
const (
	PortraitWidth  = 1080
	PortraitHeight = 1980
)

var (
	titleStyle = canvas.TextStyle{Size: 60, Bold: true}
	textStyle  = canvas.TextStyle{Size: 55}

	background = color.White
	ink        = color.Black
)

// ErrCanvas is returned when the base surface cannot be produced.
var ErrCanvas = errors.New("render canvas")

// Composer draws posts onto raster surfaces.
type Composer struct {
	newSurface canvas.SurfaceFactory
	decoder    canvas.Decoder
	logger     *slog.Logger
}

// NewComposer creates a Composer. decoder may be nil, in which case every
// image layer is reported as failed.
func NewComposer(newSurface canvas.SurfaceFactory, decoder canvas.Decoder, logger *slog.Logger) *Composer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Composer{
		newSurface: newSurface,
		decoder:    decoder,
		logger:     logger,
	}
}

// Render draws req onto a 1080×1080 white canvas and returns it as PNG.
//
// Avatar and feature image failures never fail the render: they are
// recorded in Result.Layers and logged. Only allocating or encoding the
// base canvas can fail, with an error wrapping ErrCanvas.
func (c *Composer) Render(ctx context.Context, req Request) (*Result, error) {
	surface, err := c.newSurface(CanvasSize, CanvasSize)
	if err != nil {
		return nil, fmt.Errorf("%w: allocate surface: %w", ErrCanvas, err)
	}
	defer func() { _ = surface.Close() }()

	surface.FillRect(surface.Bounds(), background)

	surface.DrawText(req.title(), titleX, titleY, titleStyle, ink)
	surface.DrawText(req.handle(), handleX, handleY, textStyle, ink)

	measure := func(s string) float64 { return surface.MeasureText(s, textStyle) }
	for i, line := range layout.Wrap(req.body(), bodyMaxWidth, measure) {
		surface.DrawText(line, bodyX, float64(bodyTopY+i*bodyLinePitch), textStyle, ink)
	}

	avatar, feature := c.decodeLayers(ctx, req)
	result := &Result{}

	if avatar.img != nil {
		surface.DrawImage(avatar.img,
			canvas.Rect{X: avatarX, Y: avatarY, W: avatarSize, H: avatarSize},
			canvas.Clip{Shape: canvas.ClipCircle, Rect: image.Rect(avatarX, avatarY, avatarX+avatarSize, avatarY+avatarSize)},
		)
	}
	result.Layers = append(result.Layers, c.layerResult(LayerAvatar, req.AvatarRef, avatar))

	if feature.img != nil {
		b := feature.img.Bounds()
		fit := layout.Fit(float64(b.Dx()), float64(b.Dy()), featureMaxH, featureMaxW, featureMinH, featureMinW)
		offsetX := (featureMaxW - fit.Width) / 2
		offsetY := (featureMaxH - fit.Height) / 2

		surface.DrawImage(feature.img,
			canvas.Rect{X: featureX + offsetX, Y: featureY + offsetY, W: fit.Width, H: fit.Height},
			canvas.Clip{Shape: canvas.ClipRect, Rect: image.Rect(featureX, featureY, featureX+featureMaxW, featureY+featureMaxH)},
		)
	}
	result.Layers = append(result.Layers, c.layerResult(LayerFeature, req.FeatureImageRef, feature))

	data, err := canvas.EncodePNG(surface.Image())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCanvas, err)
	}
	result.PNG = data
	return result, nil
}

// Reframe centers a rendered image, unscaled, on a 1080×1980 white canvas.
func (c *Composer) Reframe(_ context.Context, src []byte) ([]byte, error) {
	img, err := canvas.DecodePNG(src)
	if err != nil {
		return nil, fmt.Errorf("reframe source: %w", err)
	}

	surface, err := c.newSurface(PortraitWidth, PortraitHeight)
	if err != nil {
		return nil, fmt.Errorf("%w: allocate portrait surface: %w", ErrCanvas, err)
	}
	defer func() { _ = surface.Close() }()

	surface.FillRect(surface.Bounds(), background)

	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	x := (PortraitWidth - w) / 2
	y := (PortraitHeight - h) / 2
	surface.DrawImage(img,
		canvas.Rect{X: float64(x), Y: float64(y), W: float64(w), H: float64(h)},
		canvas.Clip{Shape: canvas.ClipRect, Rect: surface.Bounds()},
	)

	data, err := canvas.EncodePNG(surface.Image())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCanvas, err)
	}
	return data, nil
}

type decoded struct {
	img image.Image
	err error
}

// decodeLayers resolves the avatar and feature image in parallel.
func (c *Composer) decodeLayers(ctx context.Context, req Request) (avatar, feature decoded) {
	var g errgroup.Group
	if req.AvatarRef != "" {
		g.Go(func() error {
			avatar = c.decode(ctx, req.AvatarRef)
			return nil
		})
	}
	if req.FeatureImageRef != "" {
		g.Go(func() error {
			feature = c.decode(ctx, req.FeatureImageRef)
			return nil
		})
	}
	_ = g.Wait()
	return avatar, feature
}

func (c *Composer) decode(ctx context.Context, ref string) decoded {
	if c.decoder == nil {
		return decoded{err: fmt.Errorf("%w: no decoder configured", canvas.ErrDecode)}
	}
	img, err := c.decoder.Decode(ctx, ref)
	if err == nil && img == nil {
		err = fmt.Errorf("%w: decoder returned no image", canvas.ErrDecode)
	}
	return decoded{img: img, err: err}
}

func (c *Composer) layerResult(layer Layer, ref string, d decoded) LayerResult {
	switch {
	case ref == "":
		return LayerResult{Layer: layer, Status: LayerSkipped}
	case d.err != nil:
		c.logger.Warn("image layer dropped",
			slog.String("layer", string(layer)),
			slog.String("error", d.err.Error()),
		)
		return LayerResult{Layer: layer, Status: LayerFailed, Err: d.err}
	default:
		return LayerResult{Layer: layer, Status: LayerApplied}
	}
}
