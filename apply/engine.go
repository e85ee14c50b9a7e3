// Package apply writes rendered artifacts to their target locations
// and restarts the services that depend on them. The service set is
// computed strictly from a static artifact-kind map, never by
// inspecting the live system. Apply is all-or-nothing after
// validation: render and rule synthesis have already succeeded before
// the first byte is written.
package apply

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/gobwas/glob"
	vfs "github.com/twpayne/go-vfs/v5"
	"go.uber.org/zap"

	"github.com/imp-platform/imp/catalog"
	"github.com/imp-platform/imp/config"
	"github.com/imp-platform/imp/render"
)

// ApplyError reports a filesystem or service-manager failure. It is
// the only error category occurring after validation.
type ApplyError struct {
	Path    string
	Service string
	Msg     string
}

func (e *ApplyError) Error() string {
	if e.Service != "" {
		return fmt.Sprintf("service %s: %s", e.Service, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Msg)
}

// staleGlobs matches per-module artifacts left behind by modules that
// are no longer enabled. Current artifacts are exempted by path.
var staleGlobs = []struct {
	dir     string
	pattern glob.Glob
	unit    bool
}{
	{render.DataplaneDir, glob.MustCompile("startup-*.conf"), false},
	{render.DataplaneDir, glob.MustCompile("commands-*.txt"), false},
	{render.SystemdDir, glob.MustCompile("dataplane-*.service"), true},
}

// Option is a function that configures the engine.
type Option func(*options)

// WithLog configures the engine with a logger.
func WithLog(log *zap.SugaredLogger) Option {
	return func(o *options) {
		o.Log = log
	}
}

// WithFS overrides the target filesystem.
func WithFS(fs vfs.FS) Option {
	return func(o *options) {
		o.FS = fs
	}
}

// WithSystemManager overrides the service manager.
func WithSystemManager(system SystemManager) Option {
	return func(o *options) {
		o.System = system
	}
}

// WithConfigPath overrides the persisted document location.
func WithConfigPath(path string) Option {
	return func(o *options) {
		o.ConfigPath = path
	}
}

// WithDefinitionsDir overrides the module catalog location.
func WithDefinitionsDir(dir string) Option {
	return func(o *options) {
		o.DefinitionsDir = dir
	}
}

type options struct {
	Log            *zap.SugaredLogger
	FS             vfs.FS
	System         SystemManager
	ConfigPath     string
	DefinitionsDir string
}

func newOptions() *options {
	return &options{
		Log:            zap.NewNop().Sugar(),
		FS:             vfs.OSFS,
		ConfigPath:     config.DefaultConfigPath,
		DefinitionsDir: catalog.DefaultDefinitionsDir,
	}
}

// Engine applies rendered artifact sets.
type Engine struct {
	fs             vfs.FS
	system         SystemManager
	log            *zap.SugaredLogger
	configPath     string
	definitionsDir string
}

// NewEngine creates an apply engine.
func NewEngine(options ...Option) *Engine {
	opts := newOptions()
	for _, o := range options {
		o(opts)
	}
	if opts.System == nil {
		opts.System = NewSystemctl(opts.Log)
	}

	return &Engine{
		fs:             opts.FS,
		system:         opts.System,
		log:            opts.Log,
		configPath:     opts.ConfigPath,
		definitionsDir: opts.DefinitionsDir,
	}
}

// Apply writes the artifact set, sweeps stale per-module artifacts,
// restarts the affected services and persists the configuration
// document. It returns the changed paths and the restarted services.
// An unchanged artifact set restarts nothing.
func (m *Engine) Apply(ctx context.Context, cfg *config.RouterConfig, artifacts []render.Artifact) ([]string, []string, error) {
	var changed []string
	serviceSet := map[string]bool{}
	reload := false

	keep := make(map[string]bool, len(artifacts))
	for _, artifact := range artifacts {
		keep[artifact.Path] = true
	}

	for _, artifact := range artifacts {
		prev, err := m.fs.ReadFile(artifact.Path)
		if err == nil && bytes.Equal(prev, artifact.Content) {
			continue
		}

		if err := vfs.MkdirAll(m.fs, filepath.Dir(artifact.Path), 0o755); err != nil {
			return nil, nil, &ApplyError{Path: artifact.Path, Msg: err.Error()}
		}
		if err := m.fs.WriteFile(artifact.Path, artifact.Content, artifact.Mode); err != nil {
			return nil, nil, &ApplyError{Path: artifact.Path, Msg: err.Error()}
		}
		m.log.Infof("wrote %s", artifact.Path)

		changed = append(changed, artifact.Path)
		for _, service := range servicesFor(artifact) {
			serviceSet[service] = true
		}
		if artifact.Kind == render.KindSystemdUnit || artifact.Kind == render.KindModuleUnit {
			reload = true
		}
	}

	swept, sweptUnits, err := m.sweep(ctx, keep)
	if err != nil {
		return nil, nil, err
	}
	changed = append(changed, swept...)
	reload = reload || sweptUnits

	if reload {
		if err := m.system.DaemonReload(ctx); err != nil {
			return nil, nil, &ApplyError{Service: "daemon-reload", Msg: err.Error()}
		}
	}

	services := make([]string, 0, len(serviceSet))
	for service := range serviceSet {
		services = append(services, service)
	}
	sort.Strings(services)
	for _, service := range services {
		if err := m.system.Restart(ctx, service); err != nil {
			return nil, nil, &ApplyError{Service: service, Msg: err.Error()}
		}
		m.log.Infof("restarted %s", service)
	}

	if err := m.persist(cfg); err != nil {
		return nil, nil, err
	}

	sort.Strings(changed)
	return changed, services, nil
}

// sweep removes per-module artifacts whose module is gone. Stale
// service units are stopped before their unit file is removed.
func (m *Engine) sweep(ctx context.Context, keep map[string]bool) ([]string, bool, error) {
	var removed []string
	units := false

	for _, sg := range staleGlobs {
		entries, err := m.fs.ReadDir(sg.dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, false, &ApplyError{Path: sg.dir, Msg: err.Error()}
		}

		for _, entry := range entries {
			name := entry.Name()
			if entry.IsDir() || !sg.pattern.Match(name) {
				continue
			}
			path := filepath.Join(sg.dir, name)
			if keep[path] {
				continue
			}

			if sg.unit {
				if err := m.system.Stop(ctx, name); err != nil {
					return nil, false, &ApplyError{Service: name, Msg: err.Error()}
				}
				units = true
			}
			if err := m.fs.Remove(path); err != nil {
				return nil, false, &ApplyError{Path: path, Msg: err.Error()}
			}
			m.log.Infof("removed stale artifact %s", path)
			removed = append(removed, path)
		}
	}

	return removed, units, nil
}

func (m *Engine) persist(cfg *config.RouterConfig) error {
	data, err := cfg.Marshal()
	if err != nil {
		return &ApplyError{Path: m.configPath, Msg: err.Error()}
	}
	if err := vfs.MkdirAll(m.fs, filepath.Dir(m.configPath), 0o755); err != nil {
		return &ApplyError{Path: m.configPath, Msg: err.Error()}
	}
	if err := m.fs.WriteFile(m.configPath, data, 0o644); err != nil {
		return &ApplyError{Path: m.configPath, Msg: err.Error()}
	}
	return nil
}

// servicesFor maps an artifact to the services it affects.
func servicesFor(artifact render.Artifact) []string {
	switch artifact.Kind {
	case render.KindCoreStartup, render.KindCoreCommands:
		return []string{"dataplane-core.service"}
	case render.KindRoutingConfig:
		return []string{"frr.service"}
	case render.KindNetworkdUnit:
		return []string{"systemd-networkd.service"}
	case render.KindSystemdUnit, render.KindModuleUnit:
		return []string{filepath.Base(artifact.Path)}
	case render.KindModuleStartup, render.KindModuleCommands:
		return []string{"dataplane-" + artifact.Module + ".service"}
	default:
		return nil
	}
}
