package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/postframe/internal/media"
	"github.com/maauso/postframe/internal/metrics"
	"github.com/maauso/postframe/internal/post"
	"github.com/maauso/postframe/internal/render"
	"github.com/maauso/postframe/internal/storage"
)

// maxJSONBody bounds POST /api/generate bodies, which may carry data URIs.
const maxJSONBody = 48 << 20

// PostService is the post use case consumed by the handlers.
type PostService interface {
	EncoderAvailable() bool
	RenderImage(ctx context.Context, req render.Request) ([]byte, error)
	RenderAndPersist(ctx context.Context, req render.Request) (*post.PersistResult, error)
	RenderVideoOnly(ctx context.Context, req render.Request) (*post.VideoResult, error)
	FetchAsset(ctx context.Context, name string) (*os.File, *storage.Asset, error)
}

var _ PostService = (*post.Service)(nil)

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	service   PostService
	validator *validator.Validate
	metrics   *metrics.Metrics
	publicURL string
	logger    *slog.Logger
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithPublicURL fixes the base of every returned asset URL. Without it the
// base is derived from forwarding headers or the request itself.
func WithPublicURL(u string) HandlerOption {
	return func(h *Handlers) {
		h.publicURL = strings.TrimRight(u, "/")
	}
}

// WithMetrics records deliveries on m.
func WithMetrics(m *metrics.Metrics) HandlerOption {
	return func(h *Handlers) {
		h.metrics = m
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(service PostService, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		service:   service,
		validator: validator.New(),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:           "ok",
		EncoderAvailable: h.service.EncoderAvailable(),
	})
}

// Generate handles GET /api/generate: render and return the PNG directly.
func (h *Handlers) Generate(w http.ResponseWriter, r *http.Request) {
	req, ok := h.queryRequest(w, r)
	if !ok {
		return
	}
	h.writePNG(w, r, req)
}

// GenerateJSON handles POST /api/generate with a JSON body.
func (h *Handlers) GenerateJSON(w http.ResponseWriter, r *http.Request) {
	var body GenerateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(&body); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}
	if !h.validate(w, body) {
		return
	}
	h.writePNG(w, r, body.toRender())
}

// Save handles GET /api/save: render, persist and try to produce a video.
func (h *Handlers) Save(w http.ResponseWriter, r *http.Request) {
	req, ok := h.queryRequest(w, r)
	if !ok {
		return
	}

	// Rendering and encoding finish even if the client goes away.
	res, err := h.service.RenderAndPersist(context.WithoutCancel(r.Context()), req)
	if err != nil {
		h.renderError(w, err)
		return
	}

	base := h.baseURL(r)
	resp := SaveResponse{
		OK:               true,
		File:             res.Image.Name,
		URL:              assetURL(base, res.Image.Name),
		VideoError:       res.VideoError,
		EncoderAvailable: res.EncoderAvailable,
		MirrorURL:        res.Image.MirrorURL,
		ExpiresInSeconds: res.ExpiresInSeconds,
	}
	if res.Portrait != nil {
		resp.PortraitURL = assetURL(base, res.Portrait.Name)
	}
	if res.Video != nil {
		resp.VideoURL = assetURL(base, res.Video.Name)
	}

	h.logger.Info("post saved",
		slog.String("file", res.Image.Name),
		slog.Bool("video", res.Video != nil),
	)
	writeJSON(w, http.StatusOK, resp)
}

// Video handles GET /api/video: produce only the video, failing hard.
func (h *Handlers) Video(w http.ResponseWriter, r *http.Request) {
	req, ok := h.queryRequest(w, r)
	if !ok {
		return
	}

	res, err := h.service.RenderVideoOnly(context.WithoutCancel(r.Context()), req)
	if err != nil {
		switch {
		case errors.Is(err, media.ErrEncoderUnavailable):
			writeError(w, http.StatusServiceUnavailable, err.Error(), "ENCODER_UNAVAILABLE")
		case errors.Is(err, render.ErrCanvas):
			h.renderError(w, err)
		default:
			h.logger.Error("video failed", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, err.Error(), "ENCODE_FAILED")
		}
		return
	}

	base := h.baseURL(r)
	resp := VideoResponse{
		OK:               true,
		File:             res.Video.Name,
		URL:              assetURL(base, res.Video.Name),
		MirrorURL:        res.Video.MirrorURL,
		ExpiresInSeconds: res.ExpiresInSeconds,
	}
	if res.Portrait != nil {
		resp.PortraitURL = assetURL(base, res.Portrait.Name)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) writePNG(w http.ResponseWriter, r *http.Request, req render.Request) {
	png, err := h.service.RenderImage(context.WithoutCancel(r.Context()), req)
	if err != nil {
		h.renderError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Disposition", `inline; filename="post.png"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(png); err != nil {
		h.logger.Debug("client went away", slog.String("error", err.Error()))
	}
}

func (h *Handlers) renderError(w http.ResponseWriter, err error) {
	h.logger.Error("render failed", slog.String("error", err.Error()))
	writeError(w, http.StatusInternalServerError, err.Error(), "RENDER_FAILED")
}

// queryRequest builds a render request from query parameters, writing a 400
// on validation failure.
func (h *Handlers) queryRequest(w http.ResponseWriter, r *http.Request) (render.Request, bool) {
	body := generateFromQuery(r.URL.Query())
	if !h.validate(w, body) {
		return render.Request{}, false
	}
	return body.toRender(), true
}

func (h *Handlers) validate(w http.ResponseWriter, body GenerateRequest) bool {
	if err := h.validator.Struct(body); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return false
	}
	return true
}

// Legacy query parameter names, still sent by existing integrations.
const (
	legacyTitleParam  = "tituloPerfil"
	legacyHandleParam = "usernamePerfil"
	legacyTextParam   = "textoPost"
	legacyAvatarParam = "imagemPerfil"
	legacyImageParam  = "imagemPost"
)

// generateFromQuery reads title, handle, text, avatar and image, falling
// back to the legacy parameter names. A literal "%0A" left after decoding
// becomes a newline so double-encoded line breaks survive.
func generateFromQuery(q url.Values) GenerateRequest {
	return GenerateRequest{
		Title:  queryParam(q, "title", legacyTitleParam),
		Handle: queryParam(q, "handle", legacyHandleParam),
		Text:   strings.ReplaceAll(queryParam(q, "text", legacyTextParam), "%0A", "\n"),
		Avatar: queryParam(q, "avatar", legacyAvatarParam),
		Image:  queryParam(q, "image", legacyImageParam),
	}
}

// queryParam returns the first non-empty value among names.
func queryParam(q url.Values, names ...string) string {
	for _, name := range names {
		if v := q.Get(name); v != "" {
			return v
		}
	}
	return ""
}

func (g GenerateRequest) toRender() render.Request {
	return render.Request{
		Title:           g.Title,
		Handle:          g.Handle,
		Body:            g.Text,
		AvatarRef:       g.Avatar,
		FeatureImageRef: g.Image,
	}
}

// baseURL returns the scheme and host clients should use for asset URLs.
func (h *Handlers) baseURL(r *http.Request) string {
	if h.publicURL != "" {
		return h.publicURL
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := firstHeaderValue(r.Header.Get("X-Forwarded-Proto")); p != "" {
		scheme = p
	}

	host := r.Host
	if fh := firstHeaderValue(r.Header.Get("X-Forwarded-Host")); fh != "" {
		host = fh
	}
	return scheme + "://" + host
}

func firstHeaderValue(v string) string {
	first, _, _ := strings.Cut(v, ",")
	return strings.TrimSpace(first)
}

func assetURL(base, name string) string {
	return base + "/assets/" + url.PathEscape(name)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
