package xnetip

import (
	"net/netip"
	"testing"
)

func TestLastAddr(t *testing.T) {
	tests := []struct {
		name     string
		prefix   string
		expected string
	}{
		{
			name:     "IPv4 /24",
			prefix:   "192.168.1.0/24",
			expected: "192.168.1.255",
		},
		{
			name:     "IPv4 /30 (point-to-point)",
			prefix:   "192.168.1.0/30",
			expected: "192.168.1.3",
		},
		{
			name:     "IPv4 /31 (RFC 3021)",
			prefix:   "192.168.1.0/31",
			expected: "192.168.1.1",
		},
		{
			name:     "IPv4 /32 (host)",
			prefix:   "192.168.1.1/32",
			expected: "192.168.1.1",
		},
		{
			name:     "IPv6 /64",
			prefix:   "2001:db8::/64",
			expected: "2001:db8::ffff:ffff:ffff:ffff",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prefix := netip.MustParsePrefix(tt.prefix)
			expected := netip.MustParseAddr(tt.expected)

			if got := LastAddr(prefix); got != expected {
				t.Errorf("LastAddr(%s) = %s, want %s", tt.prefix, got, expected)
			}
		})
	}
}

func TestAddOffset(t *testing.T) {
	tests := []struct {
		name     string
		addr     string
		offset   uint32
		expected string
	}{
		{
			name:     "zero offset",
			addr:     "169.254.1.0",
			offset:   0,
			expected: "169.254.1.0",
		},
		{
			name:     "within octet",
			addr:     "169.254.1.0",
			offset:   3,
			expected: "169.254.1.3",
		},
		{
			name:     "octet carry",
			addr:     "10.0.0.200",
			offset:   100,
			expected: "10.0.1.44",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr := netip.MustParseAddr(tt.addr)
			expected := netip.MustParseAddr(tt.expected)

			if got := AddOffset(addr, tt.offset); got != expected {
				t.Errorf("AddOffset(%s, %d) = %s, want %s", tt.addr, tt.offset, got, expected)
			}
		})
	}
}

func TestPrevAddr(t *testing.T) {
	addr := netip.MustParseAddr("10.0.1.0")
	expected := netip.MustParseAddr("10.0.0.255")

	if got := PrevAddr(addr); got != expected {
		t.Errorf("PrevAddr(%s) = %s, want %s", addr, got, expected)
	}
}
