package util

import (
	"fmt"
	"regexp"
	"strconv"
)

// sizeRe matches a decimal value followed by an uppercase binary unit,
// with nothing before or after.
var sizeRe = regexp.MustCompile(`^(\d+(?:\.\d+)?)(KB|MB|GB)$`)

// ParseSize converts a human-readable memory budget such as "64MB" or
// "1.5GB" into a byte count. Budgets like these bound how many decoded
// tiles a conversion keeps in flight at once. Units are binary, so KB
// is 1024 bytes.
func ParseSize(s string) (int64, error) {
	m := sizeRe.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid size %q, use a value like 64MB or 1.5GB", s)
	}

	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}

	var unit int64
	switch m[2] {
	case "KB":
		unit = 1 << 10
	case "MB":
		unit = 1 << 20
	case "GB":
		unit = 1 << 30
	}
	return int64(value * float64(unit)), nil
}
