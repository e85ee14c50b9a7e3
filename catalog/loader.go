package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/c2h5oh/datasize"
	"gopkg.in/yaml.v3"
)

// Default locations on the appliance. The examples directory ships with
// the image; the definitions directory holds the installed catalog.
const (
	DefaultDefinitionsDir = "/persistent/config/modules"
	DefaultExamplesDir    = "/usr/share/imp/module-examples"
)

// LoadError reports a problem with a single catalog document.
type LoadError struct {
	File string
	Msg  string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%s: %s", e.File, e.Msg)
}

// Catalog is the set of successfully loaded module definitions.
type Catalog struct {
	defs  map[string]*Definition
	names []string
}

// New builds a catalog from in-memory definitions. Definitions are
// assumed valid; Load is the validating entry point.
func New(defs ...*Definition) *Catalog {
	cat := &Catalog{defs: map[string]*Definition{}}
	for _, def := range defs {
		cat.defs[def.Name] = def
		cat.names = append(cat.names, def.Name)
	}
	sort.Strings(cat.names)
	return cat
}

// Get returns the definition with the given name.
func (m *Catalog) Get(name string) (*Definition, bool) {
	def, ok := m.defs[name]
	return def, ok
}

// Names returns the loaded definition names, sorted.
func (m *Catalog) Names() []string {
	return m.names
}

// Len returns the number of loaded definitions.
func (m *Catalog) Len() int {
	return len(m.defs)
}

// Load reads every module definition document from dir. Parsing
// failures and schema violations are collected per file; a broken
// definition never prevents loading of the others. A missing directory
// yields an empty catalog.
func Load(dir string) (*Catalog, []error) {
	cat := &Catalog{defs: map[string]*Definition{}}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return cat, nil
		}
		return cat, []error{fmt.Errorf("failed to read module directory %s: %w", dir, err)}
	}

	var errs []error
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".yaml") {
			continue
		}

		def, defErrs := loadFile(filepath.Join(dir, name))
		if len(defErrs) > 0 {
			errs = append(errs, defErrs...)
			continue
		}

		if _, ok := cat.defs[def.Name]; ok {
			errs = append(errs, &LoadError{File: name, Msg: fmt.Sprintf("duplicate module name %q", def.Name)})
			continue
		}
		cat.defs[def.Name] = def
		cat.names = append(cat.names, def.Name)
	}
	sort.Strings(cat.names)

	return cat, errs
}

func loadFile(path string) (*Definition, []error) {
	file := filepath.Base(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, []error{&LoadError{File: file, Msg: fmt.Sprintf("failed to read: %v", err)}}
	}

	def := &Definition{Memory: 1 * datasize.GB}
	if err := yaml.Unmarshal(data, def); err != nil {
		return nil, []error{&LoadError{File: file, Msg: fmt.Sprintf("invalid YAML: %v", err)}}
	}
	if def.DisplayName == "" {
		def.DisplayName = def.Name
	}

	var errs []error
	for _, msg := range validateDefinition(def) {
		errs = append(errs, &LoadError{File: file, Msg: msg})
	}
	if len(errs) > 0 {
		return nil, errs
	}

	return def, nil
}

// InstallExample copies a shipped example definition into the active
// catalog directory.
func InstallExample(name, examplesDir, definitionsDir string) error {
	src := filepath.Join(examplesDir, name+".yaml")
	dst := filepath.Join(definitionsDir, name+".yaml")

	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("module example %q not found: %w", name, err)
	}
	if _, err := os.Stat(dst); err == nil {
		return fmt.Errorf("module %q is already installed", name)
	}

	if err := os.MkdirAll(definitionsDir, 0o755); err != nil {
		return fmt.Errorf("failed to create module directory: %w", err)
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return fmt.Errorf("failed to install module %q: %w", name, err)
	}
	return nil
}
