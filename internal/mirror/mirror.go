package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gcagle911/ADA-logger/internal/observability"
)

// Options configures a Mirror
type Options struct {
	// Root is the local data root; keys are paths relative to it
	Root         string
	Prefix       string
	CacheControl string
	Timeout      time.Duration
	Logger       *slog.Logger
	Metrics      *observability.Metrics
}

// Mirror is the best-effort facade over a Store. A Mirror without a backend
// is disabled and reports every operation as not performed.
type Mirror struct {
	store        Store
	root         string
	prefix       string
	cacheControl string
	timeout      time.Duration
	logger       *slog.Logger
	metrics      *observability.Metrics
}

// New creates a mirror over store. A nil store yields a disabled mirror.
func New(store Store, opts Options) *Mirror {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.CacheControl == "" {
		opts.CacheControl = "no-cache"
	}
	return &Mirror{
		store:        store,
		root:         opts.Root,
		prefix:       strings.Trim(opts.Prefix, "/"),
		cacheControl: opts.CacheControl,
		timeout:      opts.Timeout,
		logger:       opts.Logger.With("component", "mirror"),
		metrics:      opts.Metrics,
	}
}

// Disabled returns a mirror that performs nothing
func Disabled() *Mirror {
	return New(nil, Options{})
}

// Enabled reports whether a backend is configured
func (m *Mirror) Enabled() bool {
	return m != nil && m.store != nil
}

// KeyFor maps a local path under the data root to its remote key
func (m *Mirror) KeyFor(localPath string) (string, error) {
	if m == nil {
		return "", errors.New("mirror is nil")
	}
	rel, err := filepath.Rel(m.root, localPath)
	if err != nil {
		return "", fmt.Errorf("failed to relativize %s: %w", localPath, err)
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%s is outside the data root", localPath)
	}
	if m.prefix == "" {
		return rel, nil
	}
	return path.Join(m.prefix, rel), nil
}

// PathFor maps a remote key back to its local path under the data root
func (m *Mirror) PathFor(key string) (string, error) {
	if m == nil {
		return "", errors.New("mirror is nil")
	}
	rel := key
	if m.prefix != "" {
		if !strings.HasPrefix(key, m.prefix+"/") {
			return "", fmt.Errorf("key %s is outside prefix %s", key, m.prefix)
		}
		rel = strings.TrimPrefix(key, m.prefix+"/")
	}
	clean := path.Clean(rel)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") || path.IsAbs(clean) {
		return "", fmt.Errorf("key %s is not a relative object path", key)
	}
	return filepath.Join(m.root, filepath.FromSlash(clean)), nil
}

func (m *Mirror) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.timeout > 0 {
		return context.WithTimeout(ctx, m.timeout)
	}
	return context.WithCancel(ctx)
}

// Exists reports whether key is present remotely. A failed lookup reports false.
func (m *Mirror) Exists(ctx context.Context, key string) bool {
	if !m.Enabled() {
		return false
	}
	ctx, cancel := m.opContext(ctx)
	defer cancel()

	ok, err := m.store.Exists(ctx, key)
	m.metrics.RecordMirror("exists", err == nil)
	if err != nil {
		m.logger.Warn("exists check failed", "key", key, "err", err)
		return false
	}
	return ok
}

// Upload pushes the local file to key
func (m *Mirror) Upload(ctx context.Context, localPath, key string) bool {
	if !m.Enabled() {
		return false
	}
	ctx, cancel := m.opContext(ctx)
	defer cancel()

	err := m.upload(ctx, localPath, key)
	m.metrics.RecordMirror("upload", err == nil)
	if err != nil {
		m.logger.Warn("upload failed", "key", key, "file", localPath, "err", err)
		return false
	}
	m.logger.Debug("uploaded", "key", key)
	return true
}

func (m *Mirror) upload(ctx context.Context, localPath, key string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	return m.store.Upload(ctx, key, f, Attrs{
		ContentType:  ContentType(key),
		CacheControl: m.cacheControl,
	})
}

// UploadFile pushes a file under the data root to its derived key
func (m *Mirror) UploadFile(ctx context.Context, localPath string) bool {
	if !m.Enabled() {
		return false
	}
	key, err := m.KeyFor(localPath)
	if err != nil {
		m.logger.Warn("upload skipped", "file", localPath, "err", err)
		return false
	}
	return m.Upload(ctx, localPath, key)
}

// Download fetches key into localPath through a temporary sibling file, so
// an interrupted download never replaces the local copy.
func (m *Mirror) Download(ctx context.Context, key, localPath string) bool {
	if !m.Enabled() {
		return false
	}
	ctx, cancel := m.opContext(ctx)
	defer cancel()

	err := m.download(ctx, key, localPath)
	if errors.Is(err, ErrNotFound) {
		m.metrics.RecordMirror("download", true)
		m.logger.Debug("remote object missing", "key", key)
		return false
	}
	m.metrics.RecordMirror("download", err == nil)
	if err != nil {
		m.logger.Warn("download failed", "key", key, "file", localPath, "err", err)
		return false
	}
	return true
}

func (m *Mirror) download(ctx context.Context, key, localPath string) error {
	dir := filepath.Dir(localPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(localPath)+".*.download")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := m.store.Download(ctx, key, tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}
	return os.Rename(tmpName, localPath)
}

// DownloadFile fetches the remote copy of a file under the data root
func (m *Mirror) DownloadFile(ctx context.Context, localPath string) bool {
	if !m.Enabled() {
		return false
	}
	key, err := m.KeyFor(localPath)
	if err != nil {
		m.logger.Warn("download skipped", "file", localPath, "err", err)
		return false
	}
	return m.Download(ctx, key, localPath)
}

// List returns the full remote keys under prefix. The configured mirror
// prefix is prepended to prefix before listing.
func (m *Mirror) List(ctx context.Context, prefix string) ([]string, bool) {
	if !m.Enabled() {
		return nil, false
	}
	ctx, cancel := m.opContext(ctx)
	defer cancel()

	full := strings.TrimLeft(prefix, "/")
	if m.prefix != "" {
		full = m.prefix + "/" + full
	}
	keys, err := m.store.List(ctx, full)
	m.metrics.RecordMirror("list", err == nil)
	if err != nil {
		m.logger.Warn("list failed", "prefix", full, "err", err)
		return nil, false
	}
	return keys, true
}
