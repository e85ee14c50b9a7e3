package config

import (
	"fmt"
	"runtime"
)

// CPUConfig is the core split between the core dataplane instance and
// the pool handed to modules. Core lists use the "1-4" / "1,3,5"
// corelist format understood by the dataplane.
type CPUConfig struct {
	TotalCores      int    `json:"total_cores"`
	CoreMain        int    `json:"core_main"`
	CoreWorkers     string `json:"core_workers"`
	CoreWorkerCount int    `json:"core_worker_count"`
	// ModulePool is the corelist modules draw dedicated cores from.
	ModulePool string `json:"module_pool"`
}

// DetectCPUConfig detects the host CPU count and splits cores between
// the core dataplane instance and the module pool. Core 0 is always
// left to the kernel.
func DetectCPUConfig() CPUConfig {
	return cpuConfigForCores(runtime.NumCPU())
}

func cpuConfigForCores(total int) CPUConfig {
	switch {
	case total <= 2:
		// Single core for the dataplane, nothing dedicated to modules.
		return CPUConfig{
			TotalCores: total,
			CoreMain:   1,
		}
	case total <= 4:
		workersEnd := total - 1
		return CPUConfig{
			TotalCores:      total,
			CoreMain:        1,
			CoreWorkers:     corelist(2, workersEnd),
			CoreWorkerCount: workersEnd - 1,
		}
	case total <= 8:
		// Leave two cores for modules.
		workersEnd := total - 3
		return CPUConfig{
			TotalCores:      total,
			CoreMain:        1,
			CoreWorkers:     corelist(2, workersEnd),
			CoreWorkerCount: workersEnd - 1,
			ModulePool:      corelist(workersEnd+1, total-1),
		}
	default:
		// 60% of the usable cores to the core instance, the rest to
		// the module pool.
		available := total - 1
		coreCount := available * 6 / 10
		workersEnd := coreCount
		return CPUConfig{
			TotalCores:      total,
			CoreMain:        1,
			CoreWorkers:     corelist(2, workersEnd),
			CoreWorkerCount: workersEnd - 1,
			ModulePool:      corelist(workersEnd+1, total-1),
		}
	}
}

func corelist(start, end int) string {
	if end < start {
		return ""
	}
	if start == end {
		return fmt.Sprintf("%d", start)
	}
	return fmt.Sprintf("%d-%d", start, end)
}
