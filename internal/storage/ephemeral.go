package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/renameio/v2"
)

const (
	// DefaultTTL is how long an asset stays on disk.
	DefaultTTL = 20 * time.Second

	mirrorDeleteTimeout = 10 * time.Second
	workDirPattern      = ".work-*"
)

// EphemeralStore keeps assets in a single directory and deletes each one
// after a fixed TTL, whether or not it was ever fetched.
type EphemeralStore struct {
	dir      string
	ttl      time.Duration
	now      func() time.Time
	sched    Scheduler
	mirror   Mirror
	observer Observer
	logger   *slog.Logger

	assets *registry

	mu     sync.Mutex
	timers map[string]Timer
	closed bool
}

var _ Store = (*EphemeralStore)(nil)

// Option configures an EphemeralStore.
type Option func(*EphemeralStore)

// WithTTL sets the deletion delay.
func WithTTL(ttl time.Duration) Option {
	return func(s *EphemeralStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock sets the time source used for names and expiry timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *EphemeralStore) { s.now = now }
}

// WithScheduler replaces the runtime timers that drive deletion.
func WithScheduler(sched Scheduler) Option {
	return func(s *EphemeralStore) { s.sched = sched }
}

// WithMirror copies every stored asset to m.
func WithMirror(m Mirror) Option {
	return func(s *EphemeralStore) { s.mirror = m }
}

// WithObserver reports lifecycle events to o.
func WithObserver(o Observer) Option {
	return func(s *EphemeralStore) { s.observer = o }
}

// NewEphemeralStore creates the asset directory if needed and removes any
// asset files left behind by a previous process.
func NewEphemeralStore(dir string, logger *slog.Logger, opts ...Option) (*EphemeralStore, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "postframe")
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create asset directory: %w", err)
	}

	s := &EphemeralStore{
		dir:    dir,
		ttl:    DefaultTTL,
		now:    time.Now,
		sched:  wallScheduler{},
		logger: logger,
		assets: newRegistry(),
		timers: make(map[string]Timer),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.sweep()
	return s, nil
}

// Dir returns the asset directory.
func (s *EphemeralStore) Dir() string {
	return s.dir
}

// TTL returns the deletion delay.
func (s *EphemeralStore) TTL() time.Duration {
	return s.ttl
}

// Live returns the number of registered assets.
func (s *EphemeralStore) Live() int {
	return s.assets.len()
}

// Store writes data atomically as <kind>-<millis>.<ext> and schedules its
// deletion. A name collision within one millisecond replaces the earlier
// asset.
func (s *EphemeralStore) Store(ctx context.Context, kind Kind, ext string, data []byte) (*Asset, error) {
	a, err := s.prepare(ctx, kind, ext)
	if err != nil {
		return nil, err
	}

	if err := renameio.WriteFile(a.Path, data, 0o644); err != nil {
		return nil, fmt.Errorf("write asset %s: %w", a.Name, err)
	}
	a.Size = int64(len(data))

	s.mirrorUpload(ctx, a, bytes.NewReader(data))
	s.register(a)
	return cloneAsset(a), nil
}

// Import moves srcPath into the store. The source is renamed when it lives
// on the same filesystem and copied otherwise; it no longer exists on
// success.
func (s *EphemeralStore) Import(ctx context.Context, kind Kind, ext, srcPath string) (*Asset, error) {
	a, err := s.prepare(ctx, kind, ext)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(srcPath)
	if err != nil {
		return nil, fmt.Errorf("stat import source: %w", err)
	}

	if err := os.Rename(srcPath, a.Path); err != nil {
		if err := copyAtomic(srcPath, a.Path); err != nil {
			return nil, fmt.Errorf("import asset %s: %w", a.Name, err)
		}
		_ = os.Remove(srcPath)
	}
	a.Size = info.Size()

	if s.mirror != nil {
		if f, err := os.Open(a.Path); err == nil { // #nosec G304 - path built from validated name
			s.mirrorUpload(ctx, a, f)
			_ = f.Close()
		}
	}
	s.register(a)
	return cloneAsset(a), nil
}

// Open returns a read handle on a live asset. Unknown and expired names
// yield ErrAssetNotFound.
func (s *EphemeralStore) Open(ctx context.Context, name string) (*os.File, *Asset, error) {
	select {
	case <-ctx.Done():
		return nil, nil, fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	a, ok := s.assets.get(name)
	if !ok || !s.now().Before(a.ExpiresAt) {
		return nil, nil, fmt.Errorf("%w: %s", ErrAssetNotFound, name)
	}

	f, err := os.Open(a.Path) // #nosec G304 - path comes from the registry
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, fmt.Errorf("%w: %s", ErrAssetNotFound, name)
		}
		return nil, nil, fmt.Errorf("open asset: %w", err)
	}
	return f, a, nil
}

// WorkDir creates a scratch directory inside the asset directory so its
// files can be imported with a rename.
func (s *EphemeralStore) WorkDir() (string, error) {
	dir, err := os.MkdirTemp(s.dir, workDirPattern)
	if err != nil {
		return "", fmt.Errorf("create work directory: %w", err)
	}
	return dir, nil
}

// Close stops every pending timer and deletes all live assets now.
func (s *EphemeralStore) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	for name, t := range s.timers {
		t.Stop()
		delete(s.timers, name)
	}
	s.mu.Unlock()

	for _, a := range s.assets.drain() {
		s.remove(ctx, a)
	}
	return nil
}

func (s *EphemeralStore) prepare(ctx context.Context, kind Kind, ext string) (*Asset, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	if !kind.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
	ext, err := normalizeExt(ext)
	if err != nil {
		return nil, err
	}

	now := s.now()
	name := Name(kind, ext, now)
	return &Asset{
		Name:      name,
		Kind:      kind,
		Ext:       ext,
		Path:      filepath.Join(s.dir, name),
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}, nil
}

// register makes a fetchable and arms its deletion timer for whatever is
// left until a.ExpiresAt. Time spent writing or mirroring counts against
// the TTL.
func (s *EphemeralStore) register(a *Asset) {
	replaced := s.assets.put(a) != nil
	armed := s.arm(a, a.ExpiresAt.Sub(s.now()))

	s.logger.Debug("asset stored",
		slog.String("name", a.Name),
		slog.Int64("bytes", a.Size),
		slog.Time("expires_at", a.ExpiresAt),
		slog.Bool("replaced", replaced),
	)
	if s.observer != nil {
		s.observer.AssetStored(a, replaced)
	}

	if !armed {
		s.expire(a)
	}
}

// ScheduleDeletion re-arms the deletion timer of a live asset to fire after
// ttl. Store and Import already schedule deletion with the store TTL.
func (s *EphemeralStore) ScheduleDeletion(a *Asset, ttl time.Duration) error {
	cur, ok := s.assets.retime(a.Name, s.now().Add(ttl))
	if !ok {
		return fmt.Errorf("%w: %s", ErrAssetNotFound, a.Name)
	}
	if !s.arm(cur, ttl) {
		s.expire(cur)
	}
	return nil
}

// arm replaces the timer for a. It returns false when a is already due or
// the store is closed; the caller then expires a itself.
func (s *EphemeralStore) arm(a *Asset, ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.timers[a.Name]; ok {
		prev.Stop()
		delete(s.timers, a.Name)
	}
	if s.closed || ttl <= 0 {
		return false
	}
	s.timers[a.Name] = s.sched.AfterFunc(ttl, func() { s.expire(a) })
	return true
}

// expire deletes a unless a newer asset took over its name.
func (s *EphemeralStore) expire(a *Asset) {
	if !s.assets.removeIf(a) {
		return
	}
	s.mu.Lock()
	delete(s.timers, a.Name)
	s.mu.Unlock()

	s.remove(context.Background(), a)
}

// remove deletes the file and its mirror copy. Failures are logged and
// never propagated.
func (s *EphemeralStore) remove(ctx context.Context, a *Asset) {
	err := os.Remove(a.Path)
	if errors.Is(err, os.ErrNotExist) {
		err = nil
	}
	if err != nil {
		s.logger.Warn("asset deletion failed", slog.String("name", a.Name), slog.Any("error", err))
	} else {
		s.logger.Debug("asset deleted", slog.String("name", a.Name))
	}

	if s.mirror != nil && a.MirrorURL != "" {
		mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), mirrorDeleteTimeout)
		if merr := s.mirror.Delete(mctx, a.Name); merr != nil {
			s.logger.Warn("mirror deletion failed", slog.String("name", a.Name), slog.Any("error", merr))
		}
		cancel()
	}

	if s.observer != nil {
		s.observer.AssetDeleted(a, err)
	}
}

func (s *EphemeralStore) mirrorUpload(ctx context.Context, a *Asset, body io.Reader) {
	if s.mirror == nil {
		return
	}
	url, err := s.mirror.Upload(ctx, a.Name, ContentType(a.Ext), body)
	if err != nil {
		s.logger.Warn("mirror upload failed", slog.String("name", a.Name), slog.Any("error", err))
		return
	}
	a.MirrorURL = url
}

// sweep removes asset files and work directories from earlier runs.
func (s *EphemeralStore) sweep() {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.Warn("asset sweep failed", slog.String("dir", s.dir), slog.Any("error", err))
		return
	}
	removed := 0
	for _, e := range entries {
		name := e.Name()
		path := filepath.Join(s.dir, name)
		switch {
		case e.IsDir():
			if ok, _ := filepath.Match(workDirPattern, name); ok {
				if err := os.RemoveAll(path); err == nil {
					removed++
				}
			}
		default:
			if _, _, err := ParseName(name); err == nil {
				if err := os.Remove(path); err == nil {
					removed++
				}
			}
		}
	}
	if removed > 0 {
		s.logger.Info("removed stale assets", slog.String("dir", s.dir), slog.Int("count", removed))
	}
}

// copyAtomic copies src to dst through a pending file so readers never see
// a partial asset.
func copyAtomic(src, dst string) error {
	in, err := os.Open(src) // #nosec G304 - caller-owned scratch file
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	pf, err := renameio.NewPendingFile(dst, renameio.WithPermissions(0o644))
	if err != nil {
		return err
	}
	defer func() { _ = pf.Cleanup() }()

	if _, err := io.Copy(pf, in); err != nil {
		return err
	}
	return pf.CloseAtomicallyReplace()
}

func cloneAsset(a *Asset) *Asset {
	cp := *a
	return &cp
}
