package staging

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-vfs/v5/vfst"

	"github.com/imp-platform/imp/apply"
	"github.com/imp-platform/imp/catalog"
	"github.com/imp-platform/imp/config"
)

const natDefinition = `
name: nat
display_name: Deterministic NAT
topology:
  connections:
    - name: internal
    - name: external
      create_lcp: true
config_schema:
  bgp_prefix:
    type: string
    format: ipv4_cidr
  mappings:
    type: array
    item_schema:
      source_network:
        type: string
        format: ipv4_cidr
        required: true
      nat_pool:
        type: string
        format: ipv4_cidr
        required: true
commands:
  - path: mappings/add
    action: array_append
    target: mappings
    key: [source_network, nat_pool]
    params:
      - name: source_network
        type: ipv4_cidr
      - name: nat_pool
        type: ipv4_cidr
  - path: mappings/remove
    action: array_remove
    target: mappings
    key: [source_network, nat_pool]
    params:
      - name: source_network
        type: ipv4_cidr
      - name: nat_pool
        type: ipv4_cidr
  - path: mappings/list
    action: array_list
    target: mappings
    format: "{source_network} -> {nat_pool}"
  - path: set-prefix
    action: set_value
    target: bgp_prefix
    params:
      - name: bgp_prefix
        type: ipv4_cidr
  - path: show-prefix
    action: show
    target: bgp_prefix
template: |
  {{- range .Module.Config.mappings }}
  det44 add in {{ .source_network }} out {{ .nat_pool }}
  {{- end }}
`

func testCatalog(t *testing.T) (*catalog.Catalog, *catalog.Definition, string) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nat.yaml"), []byte(natDefinition), 0o644))
	cat, errs := catalog.Load(dir)
	require.Empty(t, errs)
	def, ok := cat.Get("nat")
	require.True(t, ok)
	return cat, def, dir
}

func testConfig() *config.RouterConfig {
	cfg := config.DefaultConfig()
	cfg.Hostname = "edge1"
	cfg.External = config.Interface{
		Name:  "external",
		Iface: "eth0",
		IPv4:  []config.Addr{{Address: "203.0.113.1", Prefix: 30}},
	}
	cfg.Internals = []config.Interface{{
		Name:  "internal1",
		Iface: "eth1",
		IPv4:  []config.Addr{{Address: "192.168.20.1", Prefix: 24}},
	}}
	cfg.CPU = config.CPUConfig{TotalCores: 8, CoreMain: 1, CoreWorkers: "2-5", ModulePool: "6-7"}
	cfg.Modules = []config.ModuleInstance{{Name: "nat", Enabled: true, Config: map[string]any{}}}
	return cfg
}

func mapping(src, pool string) map[string]any {
	return map[string]any{"source_network": src, "nat_pool": pool}
}

func TestExecuteArrayAppend(t *testing.T) {
	_, def, _ := testCatalog(t)
	session := NewSession(testConfig())

	_, err := session.Execute(def, "mappings/add", mapping("192.168.20.0/24", "203.0.113.4/30"))
	require.NoError(t, err)
	require.True(t, session.Dirty())

	inst := session.Config().Module("nat")
	require.Equal(t, []any{mapping("192.168.20.0/24", "203.0.113.4/30")}, inst.Config["mappings"])
}

func TestExecuteArrayAppendRejectsDuplicateKey(t *testing.T) {
	_, def, _ := testCatalog(t)
	session := NewSession(testConfig())

	_, err := session.Execute(def, "mappings/add", mapping("192.168.20.0/24", "203.0.113.4/30"))
	require.NoError(t, err)
	before := session.Config().Clone()

	_, err = session.Execute(def, "mappings/add", mapping("192.168.20.0/24", "203.0.113.4/30"))
	require.Error(t, err)

	cerr := &CommandError{}
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, "nat", cerr.Module)
	require.Contains(t, cerr.Msg, "already exists")
	require.Empty(t, cmp.Diff(before, session.Config()))
}

func TestExecuteArrayAppendRejectsBadValue(t *testing.T) {
	_, def, _ := testCatalog(t)
	session := NewSession(testConfig())

	_, err := session.Execute(def, "mappings/add", mapping("not-a-cidr", "203.0.113.4/30"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid IPv4 CIDR")
	require.False(t, session.Dirty())
	require.Empty(t, session.Config().Module("nat").Config)
}

func TestExecuteArrayRemove(t *testing.T) {
	_, def, _ := testCatalog(t)
	session := NewSession(testConfig())

	_, err := session.Execute(def, "mappings/add", mapping("192.168.20.0/24", "203.0.113.4/30"))
	require.NoError(t, err)
	_, err = session.Execute(def, "mappings/remove", mapping("192.168.20.0/24", "203.0.113.4/30"))
	require.NoError(t, err)
	require.Empty(t, session.Config().Module("nat").Config["mappings"])

	_, err = session.Execute(def, "mappings/remove", mapping("192.168.20.0/24", "203.0.113.4/30"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "no entry with")
}

func TestExecuteArrayList(t *testing.T) {
	_, def, _ := testCatalog(t)
	session := NewSession(testConfig())

	_, err := session.Execute(def, "mappings/add", mapping("192.168.20.0/24", "203.0.113.4/30"))
	require.NoError(t, err)
	_, err = session.Execute(def, "mappings/add", mapping("192.168.30.0/24", "203.0.113.8/30"))
	require.NoError(t, err)

	result, err := session.Execute(def, "mappings/list", nil)
	require.NoError(t, err)
	require.Equal(t, []string{
		"192.168.20.0/24 -> 203.0.113.4/30",
		"192.168.30.0/24 -> 203.0.113.8/30",
	}, result.Lines)
}

func TestExecuteSetValueAndShow(t *testing.T) {
	_, def, _ := testCatalog(t)
	session := NewSession(testConfig())

	result, err := session.Execute(def, "show-prefix", nil)
	require.NoError(t, err)
	require.Equal(t, []string{"bgp_prefix is not set"}, result.Lines)

	_, err = session.Execute(def, "set-prefix", map[string]any{"bgp_prefix": "203.0.113.4/30"})
	require.NoError(t, err)
	require.Equal(t, "203.0.113.4/30", session.Config().Module("nat").Config["bgp_prefix"])

	result, err = session.Execute(def, "show-prefix", nil)
	require.NoError(t, err)
	require.Equal(t, []string{"bgp_prefix = 203.0.113.4/30"}, result.Lines)
}

func TestExecuteRejectsBadParams(t *testing.T) {
	_, def, _ := testCatalog(t)
	session := NewSession(testConfig())

	_, err := session.Execute(def, "set-prefix", map[string]any{"bgp_prefix": "bogus"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid IPv4 CIDR")

	_, err = session.Execute(def, "set-prefix", nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "missing required parameter")

	_, err = session.Execute(def, "set-prefix", map[string]any{
		"bgp_prefix": "203.0.113.4/30",
		"bogus":      true,
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), `unknown parameter "bogus"`)

	_, err = session.Execute(def, "no/such/command", nil)
	require.Error(t, err)
}

func TestExecuteRequiresEnabledModule(t *testing.T) {
	_, def, _ := testCatalog(t)
	cfg := testConfig()
	cfg.Modules[0].Enabled = false
	session := NewSession(cfg)

	_, err := session.Execute(def, "mappings/list", nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "not enabled")
}

func TestDiscard(t *testing.T) {
	_, def, _ := testCatalog(t)
	session := NewSession(testConfig())

	_, err := session.Execute(def, "set-prefix", map[string]any{"bgp_prefix": "203.0.113.4/30"})
	require.NoError(t, err)
	require.True(t, session.Dirty())

	session.Discard()
	require.False(t, session.Dirty())
	require.Empty(t, session.Config().Module("nat").Config)
}

func TestCommit(t *testing.T) {
	cat, def, dir := testCatalog(t)

	fsys, cleanup, err := vfst.NewTestFS(map[string]any{})
	require.NoError(t, err)
	defer cleanup()

	eng := apply.NewEngine(
		apply.WithFS(fsys),
		apply.WithSystemManager(&nopSystem{}),
		apply.WithConfigPath("/persistent/config/router.json"),
		apply.WithDefinitionsDir(dir),
	)

	session := NewSession(testConfig())
	_, err = session.Execute(def, "mappings/add", mapping("192.168.20.0/24", "203.0.113.4/30"))
	require.NoError(t, err)

	changed, _, err := session.Commit(context.Background(), eng, cat)
	require.NoError(t, err)
	require.NotEmpty(t, changed)
	require.False(t, session.Dirty())

	content, err := fsys.ReadFile("/etc/dataplane/commands-nat.txt")
	require.NoError(t, err)
	require.Contains(t, string(content), "det44 add in 192.168.20.0/24 out 203.0.113.4/30")

	// The commit became the new baseline, so Discard keeps it.
	session.Discard()
	require.Len(t, session.Config().Module("nat").Config["mappings"], 1)
}

type nopSystem struct{}

func (nopSystem) DaemonReload(context.Context) error    { return nil }
func (nopSystem) Restart(context.Context, string) error { return nil }
func (nopSystem) Stop(context.Context, string) error    { return nil }
