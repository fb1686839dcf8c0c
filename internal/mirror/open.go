package mirror

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gcagle911/ADA-logger/internal/config"
	"github.com/gcagle911/ADA-logger/internal/observability"
)

// Open builds the mirror described by cfg. The returned close function
// releases the backend client and is never nil.
func Open(ctx context.Context, cfg config.MirrorConfig, root string, logger *slog.Logger, metrics *observability.Metrics) (*Mirror, func() error, error) {
	opts := Options{
		Root:         root,
		Prefix:       cfg.Prefix,
		CacheControl: cfg.CacheControl,
		Timeout:      cfg.Timeout,
		Logger:       logger,
		Metrics:      metrics,
	}
	noop := func() error { return nil }

	switch cfg.Backend {
	case "", config.MirrorNone:
		return New(nil, opts), noop, nil
	case config.MirrorDir:
		store, err := NewDirStore(cfg.Dir)
		if err != nil {
			return nil, noop, err
		}
		return New(store, opts), noop, nil
	case config.MirrorGCS:
		store, err := NewGCSStore(ctx, GCSOptions{
			Bucket:          cfg.Bucket,
			Project:         cfg.Project,
			CredentialsFile: cfg.CredentialsFile,
		})
		if err != nil {
			return nil, noop, err
		}
		return New(store, opts), store.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown mirror backend %q", cfg.Backend)
	}
}
