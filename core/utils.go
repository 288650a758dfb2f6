package core

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

var (
	schoolYearRegex = regexp.MustCompile(`^(\d{4})-(\d{4})$`)
	nonSlugRegex    = regexp.MustCompile(`[^a-z0-9]+`)
)

// CleanString trims all leading and trailing whitespace in `s` and optionally lowers it.
func CleanString(s string, lower ...bool) string {
	s = strings.TrimSpace(s)
	if len(lower) > 0 && lower[0] {
		return strings.ToLower(s)
	}
	return s
}

// SchoolYear formats the school year starting in `start`: 2025 -> "2025-2026".
func SchoolYear(start int) string {
	return fmt.Sprintf("%d-%d", start, start+1)
}

// ParseSchoolYear returns the starting year of a "YYYY-YYYY" school year.
func ParseSchoolYear(sy string) (int, bool) {
	m := schoolYearRegex.FindStringSubmatch(sy)
	if m == nil {
		return 0, false
	}
	start, _ := strconv.Atoi(m[1])
	end, _ := strconv.Atoi(m[2])
	if end != start+1 {
		return 0, false
	}
	return start, true
}

// Slugify lowers s and replaces every run of non alphanumeric characters with "-".
func Slugify(s string) string {
	s = strings.Map(func(r rune) rune {
		if r > unicode.MaxASCII {
			return '-'
		}
		return r
	}, strings.ToLower(s))
	s = strings.Trim(nonSlugRegex.ReplaceAllString(s, "-"), "-")
	if s == "" {
		return "file"
	}
	return s
}

// StringInSlice reports whether s is in slice.
func StringInSlice(s string, slice []string) bool {
	for _, item := range slice {
		if item == s {
			return true
		}
	}
	return false
}
