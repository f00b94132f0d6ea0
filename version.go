package unityfile

import (
	"strconv"
	"strings"

	"github.com/anaminus/unityfile/errors"
)

// Version is a parsed Unity engine version, such as "2021.3.2f1".
type Version struct {
	Major, Minor, Patch, Build int
	// BuildType is the release letter: "a", "b", "f", "p", and so on.
	BuildType string
	// Raw is the string the version was parsed from.
	Raw string
}

// ParseVersion parses a version string. At least the major and minor
// components must be present.
func ParseVersion(s string) (v Version, err error) {
	v.Raw = s
	var nums []int
	start := -1
	for i := 0; i <= len(s); i++ {
		if i < len(s) && '0' <= s[i] && s[i] <= '9' {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			n, err := strconv.Atoi(s[start:i])
			if err != nil {
				return v, errors.UnsupportedVersionError{Format: "engine", Version: s}
			}
			nums = append(nums, n)
			start = -1
		}
		if i < len(s) && s[i] != '.' && v.BuildType == "" && len(nums) >= 3 {
			v.BuildType = string(s[i])
		}
	}
	if len(nums) < 2 {
		return v, errors.UnsupportedVersionError{Format: "engine", Version: s}
	}
	nums = append(nums, 0, 0)
	v.Major, v.Minor, v.Patch, v.Build = nums[0], nums[1], nums[2], nums[3]
	return v, nil
}

// ResolveVersion parses s, using fallback when s is empty, zero, or cannot
// be parsed. An error is returned when neither string yields a version.
func ResolveVersion(s, fallback string) (Version, error) {
	if v, err := ParseVersion(s); err == nil && !v.IsZero() {
		return v, nil
	}
	if strings.TrimSpace(fallback) == "" {
		return Version{Raw: s}, errors.UnsupportedVersionError{Format: "engine", Version: strconv.Quote(s)}
	}
	v, err := ParseVersion(fallback)
	if err != nil || v.IsZero() {
		return Version{Raw: s}, errors.UnsupportedVersionError{Format: "engine", Version: strconv.Quote(fallback)}
	}
	return v, nil
}

// IsZero returns whether all numeric components are zero.
func (v Version) IsZero() bool {
	return v.Major == 0 && v.Minor == 0 && v.Patch == 0 && v.Build == 0
}

// Compare returns -1, 0, or 1 when v is less than, equal to, or greater than
// u, comparing numeric components only.
func (v Version) Compare(u Version) int {
	a := [4]int{v.Major, v.Minor, v.Patch, v.Build}
	b := [4]int{u.Major, u.Minor, u.Patch, u.Build}
	for i := range a {
		switch {
		case a[i] < b[i]:
			return -1
		case a[i] > b[i]:
			return 1
		}
	}
	return 0
}

// AtLeast returns whether v is at or above major.minor.patch.
func (v Version) AtLeast(major, minor, patch int) bool {
	return v.Compare(Version{Major: major, Minor: minor, Patch: patch}) >= 0
}

func (v Version) String() string {
	if v.Raw != "" {
		return v.Raw
	}
	s := strconv.Itoa(v.Major) + "." + strconv.Itoa(v.Minor) + "." + strconv.Itoa(v.Patch)
	if v.BuildType != "" {
		s += v.BuildType + strconv.Itoa(v.Build)
	}
	return s
}
