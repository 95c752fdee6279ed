//go:build linux

package monitor

import (
	"bufio"
	"os"
	"strconv"
	"strings"
)

// readMemoryRatio parses /proc/meminfo into a used-memory ratio.
func readMemoryRatio() (float64, error) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var total, available float64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		v, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			total = v
		case "MemAvailable:":
			available = v
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	if total <= 0 {
		return 0, nil
	}
	return (total - available) / total, nil
}

// thermalZones are the sysfs paths checked for a CPU temperature, in
// preference order.
var thermalZones = []string{
	"/sys/class/thermal/thermal_zone0/temp",
	"/sys/class/hwmon/hwmon0/temp1_input",
}

// readTemperature returns the CPU temperature in Celsius, or nil when no
// sensor is exposed.
func readTemperature() *float64 {
	for _, path := range thermalZones {
		raw, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(string(raw)), 64)
		if err != nil {
			continue
		}
		// sysfs reports millidegrees.
		c := v / 1000
		return &c
	}
	return nil
}
