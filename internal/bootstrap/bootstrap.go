// Package bootstrap provides dependency initialization for the postframe server.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/maauso/postframe/internal/canvas"
	"github.com/maauso/postframe/internal/config"
	"github.com/maauso/postframe/internal/media"
	"github.com/maauso/postframe/internal/metrics"
	"github.com/maauso/postframe/internal/post"
	"github.com/maauso/postframe/internal/render"
	"github.com/maauso/postframe/internal/server"
	"github.com/maauso/postframe/internal/storage"
)

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	PostService *post.Service
	Store       *storage.EphemeralStore
	Metrics     *metrics.Metrics
	Encoder     media.Availability
	Router      http.Handler
}

// Close deletes every live asset. Call it after the HTTP server has stopped.
func (d *Dependencies) Close(ctx context.Context) error {
	if d.Store == nil {
		return nil
	}
	return d.Store.Close(ctx)
}

// NewDependencies creates and initializes all dependencies for the application.
// The ffmpeg probe runs once here; its result holds for the process lifetime.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	// Metrics live on a private registry so repeated initialization is safe.
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	// Initialize renderer
	fonts, err := canvas.NewFontSet(cfg.FontRegularPath, cfg.FontBoldPath, logger)
	if err != nil {
		return nil, fmt.Errorf("load fonts: %w", err)
	}
	decoder := canvas.NewRefDecoder(cfg.StaticDir, logger,
		canvas.WithFetchTimeout(cfg.RemoteFetchTimeout()),
		canvas.WithMaxBytes(cfg.MaxRemoteImageBytes()),
	)
	composer := render.NewComposer(canvas.RasterFactory(fonts), decoder, logger)

	// Probe the video encoder
	availability := media.Probe(ctx, cfg.FFmpegPath)
	m.SetEncoderAvailable(availability.Available)
	if availability.Available {
		logger.Info("video encoder available",
			slog.String("path", availability.Path),
			slog.String("version", availability.Version),
		)
	} else {
		logger.Warn("video encoder unavailable, video endpoints disabled",
			slog.String("reason", availability.Reason),
		)
	}
	encoder := media.NewFFmpegEncoder(availability, logger)

	// Initialize storage
	store, err := initStorage(ctx, cfg, m, logger)
	if err != nil {
		return nil, err
	}

	svc := post.NewService(composer, encoder, store, logger,
		post.WithMetrics(m),
		post.WithAdvertisedExpiry(cfg.AdvertisedExpirySec),
	)

	// Initialize HTTP handlers and router
	handlers := server.NewHandlers(svc, logger,
		server.WithPublicURL(cfg.PublicURL),
		server.WithMetrics(m),
	)
	routerCfg := server.DefaultConfig()
	routerCfg.RateLimitPerMinute = cfg.RateLimitPerMinute
	routerCfg.MetricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	return &Dependencies{
		PostService: svc,
		Store:       store,
		Metrics:     m,
		Encoder:     availability,
		Router:      server.NewRouter(handlers, logger, routerCfg),
	}, nil
}

// initStorage creates the asset store, mirrored to S3 when configured.
func initStorage(ctx context.Context, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) (*storage.EphemeralStore, error) {
	opts := []storage.Option{
		storage.WithTTL(cfg.AssetTTL()),
		storage.WithObserver(m),
	}

	if cfg.S3Enabled() {
		mirror, err := storage.NewS3Mirror(ctx, storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		})
		if err != nil {
			return nil, fmt.Errorf("create S3 mirror: %w", err)
		}
		opts = append(opts, storage.WithMirror(mirror))
		logger.Info("S3 mirror configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
	}

	store, err := storage.NewEphemeralStore(cfg.AssetDir, logger, opts...)
	if err != nil {
		return nil, fmt.Errorf("create asset store: %w", err)
	}
	logger.Info("asset store configured",
		slog.String("asset_dir", store.Dir()),
		slog.Duration("ttl", store.TTL()),
	)
	return store, nil
}
