package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/gcagle911/ADA-logger/internal/config"
)

// ErrUnknownAsset is returned for symbols without a tracker
var ErrUnknownAsset = config.ErrUnknownAsset

// Registry maps upper-case symbols to their trackers
type Registry struct {
	trackers      map[string]*Tracker
	defaultSymbol string
}

// NewRegistry creates an empty registry
func NewRegistry(defaultSymbol string) *Registry {
	return &Registry{
		trackers:      make(map[string]*Tracker),
		defaultSymbol: strings.ToUpper(defaultSymbol),
	}
}

// Add registers a tracker under its symbol
func (r *Registry) Add(t *Tracker) {
	r.trackers[strings.ToUpper(t.Symbol())] = t
}

// Get returns the tracker of symbol
func (r *Registry) Get(symbol string) (*Tracker, error) {
	t, ok := r.trackers[strings.ToUpper(symbol)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, symbol)
	}
	return t, nil
}

// Default returns the tracker of the default asset
func (r *Registry) Default() (*Tracker, error) {
	return r.Get(r.defaultSymbol)
}

// DefaultSymbol returns the default asset symbol
func (r *Registry) DefaultSymbol() string { return r.defaultSymbol }

// Symbols returns the registered symbols in sorted order
func (r *Registry) Symbols() []string {
	symbols := make([]string, 0, len(r.trackers))
	for s := range r.trackers {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return symbols
}

// Prepare prepares every tracker
func (r *Registry) Prepare(ctx context.Context) {
	for _, s := range r.Symbols() {
		r.trackers[s].Prepare(ctx)
	}
}

// Run runs every tracker until ctx is cancelled and returns once all have stopped
func (r *Registry) Run(ctx context.Context) error {
	var g errgroup.Group
	for _, s := range r.Symbols() {
		t := r.trackers[s]
		g.Go(func() error {
			if err := t.Run(ctx); err != nil {
				return fmt.Errorf("%s: %w", s, err)
			}
			return nil
		})
	}
	return g.Wait()
}
