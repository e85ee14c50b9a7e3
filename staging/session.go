// Package staging serializes configuration edits: every change lands
// in an in-memory copy first, and a single commit point validates,
// renders and applies the whole batch. Nothing touches the system
// between edits.
package staging

import (
	"context"

	"go.uber.org/zap"

	"github.com/imp-platform/imp/apply"
	"github.com/imp-platform/imp/catalog"
	"github.com/imp-platform/imp/config"
)

// Option is a function that configures the session.
type Option func(*options)

// WithLog configures the session with a logger.
func WithLog(log *zap.SugaredLogger) Option {
	return func(o *options) {
		o.Log = log
	}
}

type options struct {
	Log *zap.SugaredLogger
}

func newOptions() *options {
	return &options{
		Log: zap.NewNop().Sugar(),
	}
}

// Session holds the staged configuration. The baseline is the last
// committed (or initially loaded) document; Discard returns to it.
type Session struct {
	current  *config.RouterConfig
	baseline *config.RouterConfig
	dirty    bool
	log      *zap.SugaredLogger
}

// NewSession starts a staging session over the given configuration.
func NewSession(cfg *config.RouterConfig, options ...Option) *Session {
	opts := newOptions()
	for _, o := range options {
		o(opts)
	}

	return &Session{
		current:  cfg.Clone(),
		baseline: cfg.Clone(),
		log:      opts.Log,
	}
}

// Config returns the staged configuration.
func (m *Session) Config() *config.RouterConfig {
	return m.current
}

// Dirty reports whether the session holds uncommitted edits.
func (m *Session) Dirty() bool {
	return m.dirty
}

// Mutate applies one edit to the staged configuration. A failing edit
// leaves the staged document untouched and the session clean.
func (m *Session) Mutate(edit func(*config.RouterConfig) error) error {
	if err := edit(m.current); err != nil {
		return err
	}
	m.dirty = true
	return nil
}

// Discard drops all staged edits.
func (m *Session) Discard() {
	m.current = m.baseline.Clone()
	m.dirty = false
}

// Commit runs the full pipeline over the staged configuration and
// applies the result. On success the staged document becomes the new
// baseline; on failure the stage is kept for further fixes.
func (m *Session) Commit(ctx context.Context, eng *apply.Engine, cat *catalog.Catalog) ([]string, []string, error) {
	changed, services, err := eng.Run(ctx, m.current, cat)
	if err != nil {
		return nil, nil, err
	}

	m.baseline = m.current.Clone()
	m.dirty = false
	m.log.Infow("committed configuration",
		zap.Int("changed", len(changed)),
		zap.Strings("services", services),
	)
	return changed, services, nil
}
