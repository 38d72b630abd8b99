package canvas

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // register GIF decoder
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	_ "golang.org/x/image/bmp"  // register BMP decoder
	_ "golang.org/x/image/webp" // register WebP decoder
)

// Static errors for image decoding.
var (
	// ErrDecode wraps every failure to turn an image reference into pixels.
	ErrDecode = errors.New("decode image")
	// ErrEmptyRef is returned for an empty reference.
	ErrEmptyRef = errors.New("empty image reference")
	// ErrImageTooLarge is returned when a reference resolves to more bytes than allowed.
	ErrImageTooLarge = errors.New("image exceeds size limit")
	// ErrPathEscapesRoot is returned for local references outside the static root.
	ErrPathEscapesRoot = errors.New("path escapes static root")
	// ErrTooManyPixels is returned when the decoded image would exceed the pixel budget.
	ErrTooManyPixels = errors.New("image dimensions exceed pixel limit")
)

// DefaultMaxPixels bounds the decoded size of one image (width × height).
const DefaultMaxPixels = 40_000_000

// Decoder resolves an image reference and decodes it.
type Decoder interface {
	Decode(ctx context.Context, ref string) (image.Image, error)
}

// RefDecoder decodes images referenced by http(s) URL, data: URI, or a path
// relative to a static root directory.
type RefDecoder struct {
	client     *retryablehttp.Client
	staticRoot string
	maxBytes   int64
	maxPixels  int64
	logger     *slog.Logger
}

var _ Decoder = (*RefDecoder)(nil)

// DecoderOption configures a RefDecoder.
type DecoderOption func(*RefDecoder)

// WithMaxBytes limits the size of a fetched or inlined image.
func WithMaxBytes(n int64) DecoderOption {
	return func(d *RefDecoder) {
		if n > 0 {
			d.maxBytes = n
		}
	}
}

// WithMaxPixels limits width × height of a decoded image.
func WithMaxPixels(n int64) DecoderOption {
	return func(d *RefDecoder) {
		if n > 0 {
			d.maxPixels = n
		}
	}
}

// WithFetchTimeout sets the per-attempt timeout for remote images.
func WithFetchTimeout(timeout time.Duration) DecoderOption {
	return func(d *RefDecoder) {
		if timeout > 0 {
			d.client.HTTPClient.Timeout = timeout
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client used for remote images.
func WithHTTPClient(c *http.Client) DecoderOption {
	return func(d *RefDecoder) {
		if c != nil {
			d.client.HTTPClient = c
		}
	}
}

// NewRefDecoder creates a decoder rooted at staticRoot for local paths.
func NewRefDecoder(staticRoot string, logger *slog.Logger, opts ...DecoderOption) *RefDecoder {
	if logger == nil {
		logger = slog.Default()
	}
	if staticRoot == "" {
		staticRoot = "."
	}

	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.HTTPClient.Timeout = 10 * time.Second
	client.Logger = nil

	d := &RefDecoder{
		client:     client,
		staticRoot: staticRoot,
		maxBytes:   15 << 20,
		maxPixels:  DefaultMaxPixels,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Decode resolves ref and decodes the image. All failures wrap ErrDecode.
func (d *RefDecoder) Decode(ctx context.Context, ref string) (image.Image, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("%w: %w", ErrDecode, ErrEmptyRef)
	}

	data, err := d.load(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	// Compressed formats expand far beyond their encoded size, so the
	// header is checked before any pixel buffer is allocated.
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > d.maxPixels {
		return nil, fmt.Errorf("%w: %w: %dx%d", ErrDecode, ErrTooManyPixels, cfg.Width, cfg.Height)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	d.logger.Debug("image decoded",
		slog.String("kind", refKind(ref)),
		slog.String("format", format),
		slog.Int("width", img.Bounds().Dx()),
		slog.Int("height", img.Bounds().Dy()),
	)
	return img, nil
}

func (d *RefDecoder) load(ctx context.Context, ref string) ([]byte, error) {
	switch refKind(ref) {
	case "data":
		return d.loadDataURI(ref)
	case "remote":
		return d.loadRemote(ctx, ref)
	default:
		return d.loadLocal(ref)
	}
}

func refKind(ref string) string {
	lower := strings.ToLower(ref)
	switch {
	case strings.HasPrefix(lower, "data:"):
		return "data"
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		return "remote"
	default:
		return "local"
	}
}

// loadDataURI decodes data:[<mediatype>][;base64],<data>.
func (d *RefDecoder) loadDataURI(ref string) ([]byte, error) {
	comma := strings.IndexByte(ref, ',')
	if comma < 0 {
		return nil, errors.New("malformed data URI")
	}
	meta, payload := ref[len("data:"):comma], ref[comma+1:]

	var data []byte
	var err error
	if strings.HasSuffix(strings.ToLower(meta), ";base64") {
		data, err = base64.StdEncoding.DecodeString(payload)
		if err != nil {
			data, err = base64.RawStdEncoding.DecodeString(payload)
		}
	} else {
		var s string
		s, err = url.PathUnescape(payload)
		data = []byte(s)
	}
	if err != nil {
		return nil, fmt.Errorf("data URI payload: %w", err)
	}
	if int64(len(data)) > d.maxBytes {
		return nil, ErrImageTooLarge
	}
	return data, nil
}

func (d *RefDecoder) loadRemote(ctx context.Context, ref string) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "image/*")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", ref, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", ref, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, d.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > d.maxBytes {
		return nil, ErrImageTooLarge
	}
	return data, nil
}

func (d *RefDecoder) loadLocal(ref string) ([]byte, error) {
	path, err := resolveLocal(d.staticRoot, ref)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat local image: %w", err)
	}
	if info.Size() > d.maxBytes {
		return nil, ErrImageTooLarge
	}

	data, err := os.ReadFile(path) // #nosec G304 - path is confined to the static root
	if err != nil {
		return nil, fmt.Errorf("read local image: %w", err)
	}
	return data, nil
}

// resolveLocal joins ref onto root and rejects anything that escapes it.
func resolveLocal(root, ref string) (string, error) {
	ref = strings.ReplaceAll(ref, "\\", "/")
	ref = strings.TrimLeft(ref, "/")
	cleaned := filepath.Clean(filepath.FromSlash(ref))
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", ErrPathEscapesRoot
	}
	return filepath.Join(root, cleaned), nil
}
