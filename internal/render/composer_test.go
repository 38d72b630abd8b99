package render

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maauso/postframe/internal/canvas"
)

type textOp struct {
	text  string
	x, y  float64
	style canvas.TextStyle
}

type imageOp struct {
	size image.Point
	dst  canvas.Rect
	clip canvas.Clip
}

// fakeSurface records drawing calls on top of a real raster so the
// composer can still encode a PNG.
type fakeSurface struct {
	*canvas.RasterSurface
	texts  []textOp
	images []imageOp
}

func (f *fakeSurface) MeasureText(text string, _ canvas.TextStyle) float64 {
	return float64(len([]rune(text))) * 20
}

func (f *fakeSurface) DrawText(text string, x, y float64, style canvas.TextStyle, c color.Color) {
	f.texts = append(f.texts, textOp{text: text, x: x, y: y, style: style})
}

func (f *fakeSurface) DrawImage(img image.Image, dst canvas.Rect, clip canvas.Clip) {
	f.images = append(f.images, imageOp{size: img.Bounds().Size(), dst: dst, clip: clip})
	f.RasterSurface.DrawImage(img, dst, clip)
}

type surfaceRecorder struct {
	mu       sync.Mutex
	surfaces []*fakeSurface
	fail     error
}

func (r *surfaceRecorder) factory(w, h int) (canvas.Surface, error) {
	if r.fail != nil {
		return nil, r.fail
	}
	rs, err := canvas.NewRasterSurface(w, h, nil)
	if err != nil {
		return nil, err
	}
	s := &fakeSurface{RasterSurface: rs}
	r.mu.Lock()
	r.surfaces = append(r.surfaces, s)
	r.mu.Unlock()
	return s, nil
}

func (r *surfaceRecorder) last() *fakeSurface {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.surfaces[len(r.surfaces)-1]
}

// mockDecoder implements canvas.Decoder for testing.
type mockDecoder struct {
	mock.Mock
}

func (m *mockDecoder) Decode(ctx context.Context, ref string) (image.Image, error) {
	args := m.Called(ctx, ref)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(image.Image), args.Error(1)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func solid(w, h int) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 0x80
	}
	return img
}

func TestRender_EmptyRequestUsesPlaceholders(t *testing.T) {
	rec := &surfaceRecorder{}
	dec := &mockDecoder{}
	c := NewComposer(rec.factory, dec, testLogger())

	res, err := c.Render(context.Background(), Request{})
	require.NoError(t, err)

	img, err := canvas.DecodePNG(res.PNG)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 1080, 1080), img.Bounds())

	r, g, b, a := img.At(1079, 1079).RGBA()
	assert.Equal(t, [4]uint32{0xffff, 0xffff, 0xffff, 0xffff}, [4]uint32{r, g, b, a})

	s := rec.last()
	require.Len(t, s.texts, 3)
	assert.Equal(t, textOp{text: PlaceholderTitle, x: 220, y: 120, style: titleStyle}, s.texts[0])
	assert.Equal(t, textOp{text: "@" + PlaceholderHandle, x: 220, y: 180, style: textStyle}, s.texts[1])
	assert.Equal(t, textOp{text: PlaceholderBody, x: 80, y: 280, style: textStyle}, s.texts[2])
	assert.Empty(t, s.images)

	assert.Equal(t, LayerSkipped, res.Layer(LayerAvatar).Status)
	assert.Equal(t, LayerSkipped, res.Layer(LayerFeature).Status)
	dec.AssertNotCalled(t, "Decode", mock.Anything, mock.Anything)
}

func TestRender_BodyLinesUsePitch(t *testing.T) {
	rec := &surfaceRecorder{}
	c := NewComposer(rec.factory, nil, testLogger())

	// 20px per rune: 50 runes fit in 1000px.
	body := "first paragraph\n\nthird"
	_, err := c.Render(context.Background(), Request{Title: "T", Handle: "h", Body: body})
	require.NoError(t, err)

	s := rec.last()
	require.Len(t, s.texts, 5)
	assert.Equal(t, "@h", s.texts[1].text)
	assert.Equal(t, textOp{text: "first paragraph", x: 80, y: 280, style: textStyle}, s.texts[2])
	assert.Equal(t, textOp{text: "", x: 80, y: 345, style: textStyle}, s.texts[3])
	assert.Equal(t, textOp{text: "third", x: 80, y: 410, style: textStyle}, s.texts[4])
}

func TestRender_LayersDrawn(t *testing.T) {
	rec := &surfaceRecorder{}
	dec := &mockDecoder{}
	dec.On("Decode", mock.Anything, "avatar.png").Return(solid(300, 300), nil)
	dec.On("Decode", mock.Anything, "wide.png").Return(solid(2000, 1000), nil)

	c := NewComposer(rec.factory, dec, testLogger())
	res, err := c.Render(context.Background(), Request{AvatarRef: "avatar.png", FeatureImageRef: "wide.png"})
	require.NoError(t, err)

	assert.Equal(t, LayerApplied, res.Layer(LayerAvatar).Status)
	assert.Equal(t, LayerApplied, res.Layer(LayerFeature).Status)

	s := rec.last()
	require.Len(t, s.images, 2)

	avatar := s.images[0]
	assert.Equal(t, canvas.Rect{X: 50, Y: 60, W: 150, H: 150}, avatar.dst)
	assert.Equal(t, canvas.Clip{Shape: canvas.ClipCircle, Rect: image.Rect(50, 60, 200, 210)}, avatar.clip)

	feature := s.images[1]
	assert.Equal(t, canvas.Rect{X: 0, Y: 510, W: 1080, H: 540}, feature.dst)
	assert.Equal(t, canvas.Clip{Shape: canvas.ClipRect, Rect: image.Rect(0, 480, 1080, 1080)}, feature.clip)

	dec.AssertExpectations(t)
}

func TestRender_FeatureCenteredHorizontally(t *testing.T) {
	rec := &surfaceRecorder{}
	dec := &mockDecoder{}
	dec.On("Decode", mock.Anything, "tall.png").Return(solid(1000, 2000), nil)

	c := NewComposer(rec.factory, dec, testLogger())
	_, err := c.Render(context.Background(), Request{FeatureImageRef: "tall.png"})
	require.NoError(t, err)

	s := rec.last()
	require.Len(t, s.images, 1)
	assert.Equal(t, canvas.Rect{X: 390, Y: 480, W: 300, H: 600}, s.images[0].dst)
}

func TestRender_DecodeFailuresAreRecorded(t *testing.T) {
	rec := &surfaceRecorder{}
	dec := &mockDecoder{}
	avatarErr := fmt.Errorf("%w: fetch failed", canvas.ErrDecode)
	dec.On("Decode", mock.Anything, "bad-avatar").Return(nil, avatarErr)
	dec.On("Decode", mock.Anything, "good.png").Return(solid(600, 600), nil)

	c := NewComposer(rec.factory, dec, testLogger())
	res, err := c.Render(context.Background(), Request{AvatarRef: "bad-avatar", FeatureImageRef: "good.png"})
	require.NoError(t, err)
	require.NotEmpty(t, res.PNG)

	avatar := res.Layer(LayerAvatar)
	assert.Equal(t, LayerFailed, avatar.Status)
	assert.ErrorIs(t, avatar.Err, canvas.ErrDecode)
	assert.Equal(t, LayerApplied, res.Layer(LayerFeature).Status)

	require.Len(t, rec.last().images, 1)
}

func TestRender_NilDecoderFailsLayers(t *testing.T) {
	rec := &surfaceRecorder{}
	c := NewComposer(rec.factory, nil, testLogger())

	res, err := c.Render(context.Background(), Request{AvatarRef: "a", FeatureImageRef: "b"})
	require.NoError(t, err)
	assert.Equal(t, LayerFailed, res.Layer(LayerAvatar).Status)
	assert.Equal(t, LayerFailed, res.Layer(LayerFeature).Status)
}

func TestRender_SurfaceFailureIsFatal(t *testing.T) {
	rec := &surfaceRecorder{fail: errors.New("out of memory")}
	c := NewComposer(rec.factory, nil, testLogger())

	_, err := c.Render(context.Background(), Request{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCanvas)
	assert.Contains(t, err.Error(), "out of memory")
}

func TestRender_RealSurface(t *testing.T) {
	c := NewComposer(canvas.RasterFactory(canvas.DefaultFontSet()), nil, testLogger())

	res, err := c.Render(context.Background(), Request{
		Title:  "Clube",
		Handle: "clube",
		Body:   "A long body of text that will need to be wrapped over more than one line on the canvas\nand a second paragraph",
	})
	require.NoError(t, err)

	img, err := canvas.DecodePNG(res.PNG)
	require.NoError(t, err)
	assert.Equal(t, 1080, img.Bounds().Dx())
}

func TestReframe(t *testing.T) {
	rec := &surfaceRecorder{}
	c := NewComposer(rec.factory, nil, testLogger())

	src, err := canvas.EncodePNG(solid(1080, 1080))
	require.NoError(t, err)

	out, err := c.Reframe(context.Background(), src)
	require.NoError(t, err)

	img, err := canvas.DecodePNG(out)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 1080, 1980), img.Bounds())

	s := rec.last()
	require.Len(t, s.images, 1)
	assert.Equal(t, canvas.Rect{X: 0, Y: 450, W: 1080, H: 1080}, s.images[0].dst)

	// Margins stay white.
	r, g, b, _ := img.At(540, 10).RGBA()
	assert.Equal(t, [3]uint32{0xffff, 0xffff, 0xffff}, [3]uint32{r, g, b})
}

func TestReframe_SmallSourceCentered(t *testing.T) {
	rec := &surfaceRecorder{}
	c := NewComposer(rec.factory, nil, testLogger())

	src, err := canvas.EncodePNG(solid(81, 100))
	require.NoError(t, err)

	_, err = c.Reframe(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, canvas.Rect{X: 499, Y: 940, W: 81, H: 100}, rec.last().images[0].dst)
}

func TestReframe_InvalidSource(t *testing.T) {
	c := NewComposer((&surfaceRecorder{}).factory, nil, testLogger())
	_, err := c.Reframe(context.Background(), []byte("nope"))
	assert.Error(t, err)
}
