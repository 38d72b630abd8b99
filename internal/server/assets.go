package server

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/maauso/postframe/internal/storage"
)

// ServeAsset handles GET /assets/{name}. Videos honour single byte ranges;
// images are always sent whole.
func (h *Handlers) ServeAsset(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	_, ext, err := storage.ParseName(name)
	if err != nil {
		h.metrics.ObserveDelivery("", http.StatusBadRequest)
		if errors.Is(err, storage.ErrInvalidExtension) {
			writeError(w, http.StatusBadRequest, "unsupported asset type", "INVALID_ASSET_TYPE")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid asset name", "INVALID_ASSET_NAME")
		return
	}
	mediaType, _ := storage.MediaForExtension(ext)

	f, _, err := h.service.FetchAsset(r.Context(), name)
	if err != nil {
		if errors.Is(err, storage.ErrAssetNotFound) {
			h.metrics.ObserveDelivery(mediaType, http.StatusNotFound)
			writeError(w, http.StatusNotFound, "asset not found or expired", "ASSET_NOT_FOUND")
			return
		}
		h.logger.Error("failed to open asset",
			slog.String("name", name),
			slog.String("error", err.Error()),
		)
		h.metrics.ObserveDelivery(mediaType, http.StatusInternalServerError)
		writeError(w, http.StatusInternalServerError, "failed to read asset", "ASSET_READ_FAILED")
		return
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		h.metrics.ObserveDelivery(mediaType, http.StatusInternalServerError)
		writeError(w, http.StatusInternalServerError, "failed to read asset", "ASSET_READ_FAILED")
		return
	}
	size := info.Size()

	header := w.Header()
	header.Set("Content-Type", storage.ContentType(ext))
	header.Set("Cache-Control", "no-store")
	header.Set("X-Content-Type-Options", "nosniff")

	var body io.Reader = f
	status := http.StatusOK
	length := size

	if mediaType == "video" {
		header.Set("Accept-Ranges", "bytes")
		if rh := r.Header.Get("Range"); rh != "" {
			rng, err := parseRange(rh, size)
			switch {
			case errors.Is(err, ErrMalformedRange):
				h.logger.Debug("ignoring malformed range",
					slog.String("name", name),
					slog.String("range", rh),
				)
			case err != nil:
				h.metrics.ObserveDelivery(mediaType, http.StatusRequestedRangeNotSatisfiable)
				header.Set("Content-Range", unsatisfiedRange(size))
				writeError(w, http.StatusRequestedRangeNotSatisfiable, err.Error(), "RANGE_NOT_SATISFIABLE")
				return
			default:
				header.Set("Content-Range", contentRange(rng, size))
				body = io.NewSectionReader(f, rng.Start, rng.Length())
				status = http.StatusPartialContent
				length = rng.Length()
			}
		}
	}

	header.Set("Content-Length", strconv.FormatInt(length, 10))
	w.WriteHeader(status)
	h.metrics.ObserveDelivery(mediaType, status)

	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.CopyN(w, body, length); err != nil {
		h.logger.Debug("asset stream interrupted",
			slog.String("name", name),
			slog.String("error", err.Error()),
		)
	}
}
