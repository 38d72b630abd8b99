// Package storage persists rendered assets for a fixed time window.
// Every asset is written into one flat directory, registered as live, and
// unconditionally deleted when its timer fires. An optional Mirror copies
// assets to object storage for the same window.
package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"time"
)

// Static errors for asset storage.
var (
	// ErrAssetNotFound is returned when an asset is unknown or has expired.
	ErrAssetNotFound = errors.New("asset not found")
	// ErrInvalidKind is returned for an unknown asset kind.
	ErrInvalidKind = errors.New("invalid asset kind")
	// ErrInvalidExtension is returned for an extension outside the allow-list.
	ErrInvalidExtension = errors.New("invalid asset extension")
	// ErrInvalidName is returned for names outside the naming convention.
	ErrInvalidName = errors.New("invalid asset name")
)

// Kind tags what an asset holds.
type Kind string

const (
	// KindPost is the square post image.
	KindPost Kind = "post"
	// KindPortrait is the post reframed onto a portrait canvas.
	KindPortrait Kind = "portrait"
	// KindVideo is the clip encoded from the portrait frame.
	KindVideo Kind = "video"
)

// IsValid returns true if the kind is known.
func (k Kind) IsValid() bool {
	return k == KindPost || k == KindPortrait || k == KindVideo
}

// Asset describes a live stored file.
type Asset struct {
	Name      string
	Kind      Kind
	Ext       string
	Path      string
	Size      int64
	CreatedAt time.Time
	ExpiresAt time.Time
	// MirrorURL is set when the asset was also copied to object storage.
	MirrorURL string
}

// Media returns "image" or "video" according to the extension.
func (a *Asset) Media() string {
	media, _ := MediaForExtension(a.Ext)
	return media
}

// Store is the ephemeral asset store.
type Store interface {
	// Store writes data as a new asset and schedules its deletion.
	Store(ctx context.Context, kind Kind, ext string, data []byte) (*Asset, error)
	// Import moves an existing file into the store and schedules its deletion.
	Import(ctx context.Context, kind Kind, ext, srcPath string) (*Asset, error)
	// Open returns a read handle on a live asset. The caller closes it.
	Open(ctx context.Context, name string) (*os.File, *Asset, error)
	// WorkDir creates a scratch directory on the store's filesystem.
	WorkDir() (string, error)
	// Close deletes every live asset and stops pending timers.
	Close(ctx context.Context) error
}

// Mirror copies assets to secondary storage for the asset's lifetime.
type Mirror interface {
	// Upload stores data under key and returns its public URL.
	Upload(ctx context.Context, key, contentType string, data io.Reader) (url string, err error)
	// Delete removes key.
	Delete(ctx context.Context, key string) error
}

// Observer is notified about the asset lifecycle.
type Observer interface {
	// AssetStored reports a registered asset. replaced is true when it took
	// over the name of a live asset, which is then never reported deleted.
	AssetStored(a *Asset, replaced bool)
	AssetDeleted(a *Asset, err error)
}
