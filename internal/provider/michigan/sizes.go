package michigan

import (
	"strconv"
	"strings"
)

var sizeUnits = map[string]int64{
	"b":     1,
	"byte":  1,
	"bytes": 1,
	"kb":    1 << 10,
	"mb":    1 << 20,
	"gb":    1 << 30,
}

// ParseHumanSize converts Cloudgene's human-readable file sizes ("82 MB",
// "1 KB", "0 bytes") to bytes. Malformed input yields 0, never an error —
// a missing size must not block result extraction.
func ParseHumanSize(s string) int64 {
	fields := strings.Fields(strings.TrimSpace(s))
	if len(fields) != 2 {
		return 0
	}

	value, err := strconv.ParseFloat(fields[0], 64)
	if err != nil || value < 0 {
		return 0
	}

	unit, ok := sizeUnits[strings.ToLower(fields[1])]
	if !ok {
		return 0
	}
	return int64(value * float64(unit))
}
