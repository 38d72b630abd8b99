package storage

import (
	"fmt"
	"mime"
	"regexp"
	"strings"
	"time"
)

// Allowed extensions by media type.
var (
	ImageExtensions = []string{"png", "jpg", "jpeg", "gif", "webp"}
	VideoExtensions = []string{"mp4", "webm", "mov", "avi"}
)

var namePattern = regexp.MustCompile(`^(post|portrait|video)-(\d+)\.([a-z0-9]+)$`)

// Name builds the file name for an asset created at t.
// Format: <kind>-<unix millis>.<ext>
// Example: post-1701432000123.png
func Name(kind Kind, ext string, t time.Time) string {
	return fmt.Sprintf("%s-%d.%s", kind, t.UnixMilli(), ext)
}

// ParseName validates name against the naming convention and the
// extension allow-list. It returns ErrInvalidName when the shape is wrong
// and ErrInvalidExtension when only the extension is rejected.
func ParseName(name string) (Kind, string, error) {
	m := namePattern.FindStringSubmatch(name)
	if m == nil {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	kind, ext := Kind(m[1]), m[3]
	if _, ok := MediaForExtension(ext); !ok {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidExtension, ext)
	}
	return kind, ext, nil
}

// MediaForExtension classifies ext as "image" or "video".
func MediaForExtension(ext string) (string, bool) {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, e := range ImageExtensions {
		if e == ext {
			return "image", true
		}
	}
	for _, e := range VideoExtensions {
		if e == ext {
			return "video", true
		}
	}
	return "", false
}

// ContentType returns the MIME type for an allowed extension.
func ContentType(ext string) string {
	switch strings.ToLower(ext) {
	case "mp4":
		return "video/mp4"
	case "webm":
		return "video/webm"
	case "mov":
		return "video/quicktime"
	case "avi":
		return "video/x-msvideo"
	case "webp":
		return "image/webp"
	}
	if t := mime.TypeByExtension("." + ext); t != "" {
		return t
	}
	return "application/octet-stream"
}

func normalizeExt(ext string) (string, error) {
	ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
	if _, ok := MediaForExtension(ext); !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidExtension, ext)
	}
	return ext, nil
}
