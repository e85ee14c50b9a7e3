// Package alloc derives the runtime resources of the enabled modules
// from the declared configuration: shared-memory socket endpoints with
// their point-to-point /31 link addresses, and CPU cores carved from
// the module pool. The allocation is recomputed on every run and never
// persisted.
package alloc

import (
	"fmt"
	"net/netip"
	"path/filepath"
	"sort"

	"github.com/imp-platform/imp/catalog"
	"github.com/imp-platform/imp/common/xnetip"
	"github.com/imp-platform/imp/config"
)

const (
	// RuntimeDir holds the dataplane sockets.
	RuntimeDir = "/run/dataplane"

	// MaxSockets bounds the socket counter: each socket consumes a /31
	// out of the 169.254.1.0/24 link network.
	MaxSockets = 128
)

// linkBase is the first address of the point-to-point link network.
var linkBase = netip.MustParseAddr("169.254.1.0")

// AllocationError reports a module whose resource request cannot be
// satisfied.
type AllocationError struct {
	Module   string
	Resource string
	Msg      string
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("module %q: %s: %s", e.Module, e.Resource, e.Msg)
}

func allocErr(module, resource, format string, args ...any) *AllocationError {
	return &AllocationError{Module: module, Resource: resource, Msg: fmt.Sprintf(format, args...)}
}

// Socket is one allocated shared-memory packet interface between the
// core dataplane and a module.
type Socket struct {
	// ID is the global socket number, starting at 1.
	ID         int
	Connection string
	Purpose    string
	CreateLCP  bool
	Path       string
	// CoreAddr and ModuleAddr are the two ends of the /31 link.
	CoreAddr   netip.Addr
	ModuleAddr netip.Addr
	Prefix     int
}

// CPUAssignment is the cores a module runs on. A shared assignment has
// no dedicated cores: the module rides the pool.
type CPUAssignment struct {
	MainCore int
	Workers  []int
	Shared   bool
}

// Cores returns all assigned cores, main first.
func (m *CPUAssignment) Cores() []int {
	if m.Shared {
		return nil
	}
	return append([]int{m.MainCore}, m.Workers...)
}

// Module is the full resource allocation of one enabled module.
type Module struct {
	Name          string
	Sockets       []Socket
	CLISocketPath string
	CPU           CPUAssignment
}

// Socket returns the socket of the named connection, or nil.
func (m *Module) Socket(connection string) *Socket {
	for i := range m.Sockets {
		if m.Sockets[i].Connection == connection {
			return &m.Sockets[i]
		}
	}
	return nil
}

// Allocation holds the derived resources of all enabled modules, in
// configuration declaration order.
type Allocation struct {
	Modules []Module
}

// Module returns the allocation of the named module, or nil.
func (m *Allocation) Module(name string) *Module {
	for i := range m.Modules {
		if m.Modules[i].Name == name {
			return &m.Modules[i]
		}
	}
	return nil
}

// Allocate derives sockets and CPU cores for every enabled module. Any
// error discards the allocation, but requests of independent modules
// are still checked so all errors surface at once.
func Allocate(cfg *config.RouterConfig, cat *catalog.Catalog) (*Allocation, []error) {
	var errs []error

	enabled := cfg.EnabledModules()
	defs := make(map[string]*catalog.Definition, len(enabled))
	alloc := &Allocation{}
	for _, inst := range enabled {
		def, ok := cat.Get(inst.Name)
		if !ok {
			errs = append(errs, allocErr(inst.Name, "catalog", "no definition for enabled module"))
			continue
		}
		defs[inst.Name] = def
		alloc.Modules = append(alloc.Modules, Module{
			Name:          inst.Name,
			CLISocketPath: filepath.Join(RuntimeDir, inst.Name+"-cli.sock"),
		})
	}

	errs = append(errs, allocateSockets(alloc, defs)...)
	errs = append(errs, allocateCores(alloc, defs, cfg.CPU.ModulePool)...)

	if len(errs) > 0 {
		return nil, errs
	}
	return alloc, nil
}

// allocateSockets numbers every connection of every module with a
// single counter. Socket k owns the /31 pair 169.254.1.(2k-2) (core
// side) and 169.254.1.(2k-1) (module side), so the numbering alone
// fixes the addressing.
func allocateSockets(alloc *Allocation, defs map[string]*catalog.Definition) []error {
	var errs []error

	next := 1
	for i := range alloc.Modules {
		mod := &alloc.Modules[i]
		def := defs[mod.Name]

		overflowed := false
		for _, conn := range def.Topology.Connections {
			if next > MaxSockets {
				overflowed = true
				next++
				continue
			}

			mod.Sockets = append(mod.Sockets, Socket{
				ID:         next,
				Connection: conn.Name,
				Purpose:    conn.Purpose,
				CreateLCP:  conn.CreateLCP,
				Path:       filepath.Join(RuntimeDir, fmt.Sprintf("memif-%s-%s.sock", mod.Name, conn.Name)),
				CoreAddr:   xnetip.AddOffset(linkBase, uint32(2*next-2)),
				ModuleAddr: xnetip.AddOffset(linkBase, uint32(2*next-1)),
				Prefix:     31,
			})
			next++
		}
		if overflowed {
			errs = append(errs, allocErr(mod.Name, "sockets", "link network exhausted: at most %d sockets", MaxSockets))
		}
	}

	return errs
}

// allocateCores carves contiguous runs out of the module core pool.
// Modules asking for more cores are served first; ties keep the
// configuration declaration order.
func allocateCores(alloc *Allocation, defs map[string]*catalog.Definition, pool string) []error {
	var errs []error

	cores, err := ParseCorelist(pool)
	if err != nil {
		return []error{allocErr("", "cpu", "invalid module core pool %q: %v", pool, err)}
	}

	order := make([]int, len(alloc.Modules))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return defs[alloc.Modules[order[a]].Name].CPU.IdealCores > defs[alloc.Modules[order[b]].Name].CPU.IdealCores
	})

	next := 0
	for _, i := range order {
		mod := &alloc.Modules[i]
		req := defs[mod.Name].CPU
		remaining := len(cores) - next

		if remaining < req.MinCores {
			errs = append(errs, allocErr(mod.Name, "cpu",
				"needs at least %d cores, %d left in pool", req.MinCores, remaining))
			continue
		}

		grant := min(req.IdealCores, remaining)
		if grant == 0 {
			// min_cores == 0 means the module may run on shared cores.
			mod.CPU = CPUAssignment{Shared: true}
			continue
		}

		mod.CPU = CPUAssignment{
			MainCore: cores[next],
			Workers:  cores[next+1 : next+grant],
		}
		next += grant
	}

	return errs
}
