// Package inventory discovers the physical network interfaces of the
// host: kernel name, MAC address, PCI address and bound driver. Virtual
// links (bridges, veths, the loopback) are not part of the inventory
// because only physical ports can be assigned a role.
package inventory

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/vishvananda/netlink"
	"go.uber.org/zap"
)

// Interface is a single physical network port.
type Interface struct {
	Name   string `json:"name"`
	MAC    string `json:"mac"`
	PCI    string `json:"pci"`
	Driver string `json:"driver"`
	Up     bool   `json:"up"`
}

// pciAddrRe matches a full PCI address, e.g. "0000:00:1f.6".
var pciAddrRe = regexp.MustCompile(`^[0-9a-f]{4}:[0-9a-f]{2}:[0-9a-f]{2}\.[0-9a-f]$`)

// Option is a function that configures the scanner.
type Option func(*options)

// WithLog configures the scanner with a logger.
func WithLog(log *zap.SugaredLogger) Option {
	return func(o *options) {
		o.Log = log
	}
}

// WithSysfsRoot overrides the sysfs mount point.
func WithSysfsRoot(root string) Option {
	return func(o *options) {
		o.SysfsRoot = root
	}
}

type options struct {
	Log       *zap.SugaredLogger
	SysfsRoot string
}

func newOptions() *options {
	return &options{
		Log:       zap.NewNop().Sugar(),
		SysfsRoot: "/sys",
	}
}

// Scanner enumerates physical interfaces.
type Scanner struct {
	sysfs string
	log   *zap.SugaredLogger
}

// NewScanner creates a new interface scanner.
func NewScanner(options ...Option) *Scanner {
	opts := newOptions()
	for _, o := range options {
		o(opts)
	}

	return &Scanner{
		sysfs: opts.SysfsRoot,
		log:   opts.Log,
	}
}

// Scan lists the physical interfaces of the host, sorted by name.
func (m *Scanner) Scan() ([]Interface, error) {
	links, err := netlink.LinkList()
	if err != nil {
		return nil, fmt.Errorf("failed to list links: %w", err)
	}

	out := make([]Interface, 0, len(links))
	for _, link := range links {
		attrs := link.Attrs()
		iface, ok := m.describe(attrs.Name, attrs.HardwareAddr, attrs.OperState == netlink.OperUp)
		if !ok {
			m.log.Debugf("skipping virtual link %q", attrs.Name)
			continue
		}
		out = append(out, iface)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	return out, nil
}

// describe resolves the sysfs facts of a single link. It reports false
// for links with no backing PCI device.
func (m *Scanner) describe(name string, mac net.HardwareAddr, up bool) (Interface, bool) {
	devPath := filepath.Join(m.sysfs, "class", "net", name, "device")
	target, err := os.Readlink(devPath)
	if err != nil {
		return Interface{}, false
	}

	pci := filepath.Base(target)
	if !pciAddrRe.MatchString(pci) {
		return Interface{}, false
	}

	driver := ""
	if target, err := os.Readlink(filepath.Join(devPath, "driver")); err == nil {
		driver = filepath.Base(target)
	}

	return Interface{
		Name:   name,
		MAC:    mac.String(),
		PCI:    pci,
		Driver: driver,
		Up:     up,
	}, true
}
