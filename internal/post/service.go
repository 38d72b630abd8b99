// Package post orchestrates a post request: render the square image,
// persist it, and derive the portrait frame and video clip from it.
package post

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/maauso/postframe/internal/media"
	"github.com/maauso/postframe/internal/metrics"
	"github.com/maauso/postframe/internal/render"
	"github.com/maauso/postframe/internal/storage"
)

// DefaultAdvertisedExpirySec is the expiry reported to clients. Assets are
// deleted much earlier, after the store TTL.
const DefaultAdvertisedExpirySec = 200

const (
	portraitFrameName = "frame.png"
	clipName          = "clip.mp4"
)

// Renderer draws posts and their portrait frames.
type Renderer interface {
	Render(ctx context.Context, req render.Request) (*render.Result, error)
	Reframe(ctx context.Context, src []byte) ([]byte, error)
}

// PersistResult describes the artifacts stored for one request.
type PersistResult struct {
	Image    *storage.Asset
	Portrait *storage.Asset
	Video    *storage.Asset
	// VideoError is set when the video could not be produced. The image is
	// still stored in that case.
	VideoError       string
	EncoderAvailable bool
	ExpiresInSeconds int
	Layers           []render.LayerResult
}

// VideoResult describes the artifacts stored by a video-only request.
type VideoResult struct {
	Portrait         *storage.Asset
	Video            *storage.Asset
	ExpiresInSeconds int
}

// Service runs post requests.
type Service struct {
	renderer  Renderer
	encoder   media.Encoder
	store     storage.Store
	metrics   *metrics.Metrics
	expirySec int
	logger    *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithMetrics records render and encode outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithAdvertisedExpiry sets the expiry reported to clients.
func WithAdvertisedExpiry(sec int) Option {
	return func(s *Service) {
		if sec > 0 {
			s.expirySec = sec
		}
	}
}

// NewService creates a Service.
func NewService(renderer Renderer, encoder media.Encoder, store storage.Store, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		renderer:  renderer,
		encoder:   encoder,
		store:     store,
		expirySec: DefaultAdvertisedExpirySec,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EncoderAvailable reports whether video can be produced at all.
func (s *Service) EncoderAvailable() bool {
	return s.encoder.Available().Available
}

// RenderImage renders req and returns the PNG bytes without storing them.
func (s *Service) RenderImage(ctx context.Context, req render.Request) ([]byte, error) {
	res, err := s.render(ctx, req)
	if err != nil {
		return nil, err
	}
	return res.PNG, nil
}

// RenderAndPersist renders and stores the post image, then tries to derive
// the portrait frame and video. Video failures degrade the result instead of
// failing the request.
func (s *Service) RenderAndPersist(ctx context.Context, req render.Request) (*PersistResult, error) {
	res, err := s.render(ctx, req)
	if err != nil {
		return nil, err
	}

	img, err := s.store.Store(ctx, storage.KindPost, "png", res.PNG)
	if err != nil {
		return nil, fmt.Errorf("persist image: %w", err)
	}

	out := &PersistResult{
		Image:            img,
		EncoderAvailable: s.EncoderAvailable(),
		ExpiresInSeconds: s.expirySec,
		Layers:           res.Layers,
	}

	out.Portrait, out.Video, err = s.produceVideo(ctx, res.PNG)
	if err != nil {
		out.VideoError = err.Error()
		s.logger.Warn("video not produced",
			slog.String("image", img.Name),
			slog.String("error", err.Error()),
		)
	}
	return out, nil
}

// RenderVideoOnly renders req and produces the video. Any video failure is
// returned as an error; media.ErrEncoderUnavailable is returned before any
// rendering work when no encoder exists.
func (s *Service) RenderVideoOnly(ctx context.Context, req render.Request) (*VideoResult, error) {
	if err := s.encoder.Available().Err(); err != nil {
		s.metrics.ObserveEncode(0, string(media.KindUnavailable))
		return nil, err
	}

	res, err := s.render(ctx, req)
	if err != nil {
		return nil, err
	}

	portrait, video, err := s.produceVideo(ctx, res.PNG)
	if err != nil {
		return nil, err
	}
	return &VideoResult{Portrait: portrait, Video: video, ExpiresInSeconds: s.expirySec}, nil
}

// FetchAsset opens a live asset for delivery.
func (s *Service) FetchAsset(ctx context.Context, name string) (*os.File, *storage.Asset, error) {
	return s.store.Open(ctx, name)
}

func (s *Service) render(ctx context.Context, req render.Request) (*render.Result, error) {
	start := time.Now()
	res, err := s.renderer.Render(ctx, req)
	s.metrics.ObserveRender(time.Since(start), err)
	if err != nil {
		s.logger.Error("render failed", slog.String("error", err.Error()))
		return nil, err
	}
	for _, l := range res.Layers {
		if l.Status == render.LayerFailed {
			s.metrics.IncLayerFailure(string(l.Layer))
		}
	}
	return res, nil
}

// produceVideo stores the portrait frame and the clip encoded from it. The
// encoder reads a private copy of the frame so the stored portrait can expire
// mid-encode.
func (s *Service) produceVideo(ctx context.Context, png []byte) (portrait, video *storage.Asset, err error) {
	if err := s.encoder.Available().Err(); err != nil {
		s.metrics.ObserveEncode(0, string(media.KindUnavailable))
		return nil, nil, err
	}

	frame, err := s.renderer.Reframe(ctx, png)
	if err != nil {
		return nil, nil, fmt.Errorf("reframe: %w", err)
	}

	portrait, err = s.store.Store(ctx, storage.KindPortrait, "png", frame)
	if err != nil {
		return nil, nil, fmt.Errorf("persist portrait: %w", err)
	}

	work, err := s.store.WorkDir()
	if err != nil {
		return portrait, nil, err
	}
	defer func() { _ = os.RemoveAll(work) }()

	input := filepath.Join(work, portraitFrameName)
	if err := os.WriteFile(input, frame, 0o600); err != nil {
		return portrait, nil, fmt.Errorf("write encode input: %w", err)
	}
	output := filepath.Join(work, clipName)

	start := time.Now()
	err = s.encoder.Encode(ctx, media.NewEncodeJob(input, output))
	s.metrics.ObserveEncode(time.Since(start), encodeOutcome(err))
	if err != nil {
		return portrait, nil, err
	}

	video, err = s.store.Import(ctx, storage.KindVideo, "mp4", output)
	if err != nil {
		return portrait, nil, fmt.Errorf("persist video: %w", err)
	}
	s.logger.Info("video produced",
		slog.String("video", video.Name),
		slog.Int64("bytes", video.Size),
		slog.Duration("encode", time.Since(start)),
	)
	return portrait, video, nil
}

func encodeOutcome(err error) string {
	if err == nil {
		return "ok"
	}
	if ee, ok := media.AsEncodeError(err); ok {
		return string(ee.Kind)
	}
	return "error"
}
