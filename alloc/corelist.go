package alloc

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseCorelist expands a kernel-style core list ("2-5,8") into the
// individual core numbers. An empty string is an empty pool.
func ParseCorelist(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	var cores []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		lo, hi, ok := strings.Cut(part, "-")
		first, err := strconv.Atoi(lo)
		if err != nil {
			return nil, fmt.Errorf("invalid core %q", part)
		}
		last := first
		if ok {
			if last, err = strconv.Atoi(hi); err != nil {
				return nil, fmt.Errorf("invalid core range %q", part)
			}
		}
		if last < first {
			return nil, fmt.Errorf("invalid core range %q", part)
		}
		for core := first; core <= last; core++ {
			cores = append(cores, core)
		}
	}

	return cores, nil
}

// FormatCorelist renders core numbers back into the compact
// kernel-style form.
func FormatCorelist(cores []int) string {
	if len(cores) == 0 {
		return ""
	}

	var parts []string
	start, prev := cores[0], cores[0]
	flush := func() {
		if start == prev {
			parts = append(parts, strconv.Itoa(start))
		} else {
			parts = append(parts, fmt.Sprintf("%d-%d", start, prev))
		}
	}
	for _, core := range cores[1:] {
		if core == prev+1 {
			prev = core
			continue
		}
		flush()
		start, prev = core, core
	}
	flush()

	return strings.Join(parts, ",")
}
