// Package version provides Master firmware version parsing and comparison.
package version

import (
	"fmt"
	"strconv"
	"strings"
)

// Minimum is the oldest Master firmware this gateway is known to work
// with. Older firmware is missing the batched configuration write
// opcode and misreports module-initialized events.
const Minimum = "3.137.0"

// Firmware represents a parsed "major.minor.patch" firmware version
// as reported by the Master's status response.
type Firmware struct {
	Major uint8
	Minor uint8
	Patch uint8
}

// Parse parses a "major.minor.patch" firmware version string.
func Parse(s string) (Firmware, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return Firmware{}, fmt.Errorf("invalid firmware version %q: expected major.minor.patch", s)
	}

	var nums [3]uint8
	for i, part := range parts {
		n, err := strconv.ParseUint(part, 10, 8)
		if err != nil || part == "" {
			return Firmware{}, fmt.Errorf("invalid firmware version %q: bad component %q", s, part)
		}
		nums[i] = uint8(n)
	}

	return Firmware{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

// MustParse parses a firmware version string and panics on failure.
// Intended for constants.
func MustParse(s string) Firmware {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// String returns the version as "major.minor.patch".
func (v Firmware) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Compare returns -1, 0, or 1 as v is older than, equal to, or newer
// than other.
func (v Firmware) Compare(other Firmware) int {
	pairs := [3][2]uint8{
		{v.Major, other.Major},
		{v.Minor, other.Minor},
		{v.Patch, other.Patch},
	}
	for _, p := range pairs {
		if p[0] < p[1] {
			return -1
		}
		if p[0] > p[1] {
			return 1
		}
	}
	return 0
}

// AtLeast returns true if v is other or newer.
func (v Firmware) AtLeast(other Firmware) bool {
	return v.Compare(other) >= 0
}

// Supported returns true if v meets the Minimum supported firmware.
func (v Firmware) Supported() bool {
	return v.AtLeast(MustParse(Minimum))
}
