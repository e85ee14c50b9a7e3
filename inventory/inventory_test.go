package inventory

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeSysfs builds a sysfs tree with one PCI-backed port and one
// virtual link.
func fakeSysfs(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	pciDev := filepath.Join(root, "devices", "pci0000:00", "0000:00:1f.6")
	require.NoError(t, os.MkdirAll(pciDev, 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "bus", "pci", "drivers", "e1000e"), 0o755))
	require.NoError(t, os.Symlink(
		filepath.Join(root, "bus", "pci", "drivers", "e1000e"),
		filepath.Join(pciDev, "driver"),
	))

	eth0 := filepath.Join(root, "class", "net", "eth0")
	require.NoError(t, os.MkdirAll(eth0, 0o755))
	require.NoError(t, os.Symlink(pciDev, filepath.Join(eth0, "device")))

	// Virtual link: present in class/net but with no device symlink.
	require.NoError(t, os.MkdirAll(filepath.Join(root, "class", "net", "br0"), 0o755))

	return root
}

func TestDescribe(t *testing.T) {
	scanner := NewScanner(WithSysfsRoot(fakeSysfs(t)))
	mac, err := net.ParseMAC("52:54:00:12:34:56")
	require.NoError(t, err)

	iface, ok := scanner.describe("eth0", mac, true)
	require.True(t, ok)
	require.Equal(t, Interface{
		Name:   "eth0",
		MAC:    "52:54:00:12:34:56",
		PCI:    "0000:00:1f.6",
		Driver: "e1000e",
		Up:     true,
	}, iface)
}

func TestDescribeSkipsVirtualLinks(t *testing.T) {
	scanner := NewScanner(WithSysfsRoot(fakeSysfs(t)))

	_, ok := scanner.describe("br0", nil, false)
	require.False(t, ok)

	_, ok = scanner.describe("does-not-exist", nil, false)
	require.False(t, ok)
}

func TestDescribeWithoutDriver(t *testing.T) {
	root := fakeSysfs(t)
	require.NoError(t, os.Remove(filepath.Join(root, "devices", "pci0000:00", "0000:00:1f.6", "driver")))
	scanner := NewScanner(WithSysfsRoot(root))

	iface, ok := scanner.describe("eth0", nil, false)
	require.True(t, ok)
	require.Empty(t, iface.Driver)
	require.Equal(t, "0000:00:1f.6", iface.PCI)
}
