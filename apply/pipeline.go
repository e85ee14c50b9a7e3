package apply

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/imp-platform/imp/alloc"
	"github.com/imp-platform/imp/catalog"
	"github.com/imp-platform/imp/config"
	"github.com/imp-platform/imp/render"
	"github.com/imp-platform/imp/ruleset"
)

// Pipeline compiles a configuration end to end: validate, allocate,
// synthesize rules, render. Nothing is written; a failure anywhere
// aborts before any side effect.
func Pipeline(cfg *config.RouterConfig, cat *catalog.Catalog) ([]render.Artifact, error) {
	errs := cfg.Validate()
	// The persisted document is the apply contract: instance configs are
	// checked against their schemas here too, not just on staged edits.
	for _, inst := range cfg.EnabledModules() {
		def, ok := cat.Get(inst.Name)
		if !ok {
			// Unknown modules are reported by allocation.
			continue
		}
		errs = append(errs, def.ValidateInstanceConfig(inst.Config)...)
	}
	if len(errs) > 0 {
		return nil, aggregate(errs)
	}

	a, errs := alloc.Allocate(cfg, cat)
	if len(errs) > 0 {
		return nil, aggregate(errs)
	}

	rules, errs := ruleset.Synthesize(cfg, cat, a)
	if len(errs) > 0 {
		return nil, aggregate(errs)
	}

	artifacts, errs := render.Render(cfg, cat, a, rules)
	if len(errs) > 0 {
		return nil, aggregate(errs)
	}

	return artifacts, nil
}

// Run compiles and applies in one step.
func (m *Engine) Run(ctx context.Context, cfg *config.RouterConfig, cat *catalog.Catalog) ([]string, []string, error) {
	artifacts, err := Pipeline(cfg, cat)
	if err != nil {
		return nil, nil, err
	}
	return m.Apply(ctx, cfg, artifacts)
}

// ApplyOnly reloads the persisted configuration document and re-runs
// the whole pipeline unmodified. This path takes no input and must
// succeed unattended, e.g. right after a platform image swap.
func (m *Engine) ApplyOnly(ctx context.Context) ([]string, []string, error) {
	data, err := m.fs.ReadFile(m.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read persisted configuration: %w", err)
	}
	cfg, err := config.Unmarshal(data)
	if err != nil {
		return nil, nil, err
	}

	cat, errs := catalog.Load(m.definitionsDir)
	if len(errs) > 0 {
		return nil, nil, aggregate(errs)
	}

	return m.Run(ctx, cfg, cat)
}

func aggregate(errs []error) error {
	var result *multierror.Error
	for _, err := range errs {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}
