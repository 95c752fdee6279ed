//go:build !linux

package monitor

import "runtime"

// readMemoryRatio approximates memory pressure from the Go runtime on
// platforms without /proc.
func readMemoryRatio() (float64, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	if ms.Sys == 0 {
		return 0, nil
	}
	return float64(ms.HeapInuse) / float64(ms.Sys), nil
}

// readTemperature has no portable source outside Linux sysfs.
func readTemperature() *float64 {
	return nil
}
