package singleinstance

import (
	"os"
	"strconv"
)

const (
	defaultPortStart = 49650
	defaultPortEnd   = 49660
)

// getPortRange returns the configured TCP port range from ASKSHOT_PORT_START
// and ASKSHOT_PORT_END (inclusive), clamped to [1024, 65535].
func getPortRange() (int, int) {
	start := defaultPortStart
	end := defaultPortEnd
	if v := os.Getenv("ASKSHOT_PORT_START"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			start = n
		}
	}
	if v := os.Getenv("ASKSHOT_PORT_END"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			end = n
		}
	}
	if start < 1024 {
		start = 1024
	}
	if end > 65535 {
		end = 65535
	}
	if end < start {
		start, end = end, start
	}
	return start, end
}

// PortRange exposes the effective port range for logging.
func PortRange() (int, int) { return getPortRange() }
