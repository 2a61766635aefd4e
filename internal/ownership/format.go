// internal/ownership/format.go
package ownership

import (
	"strconv"
	"strings"
)

// UnknownDate is shown when no acquisition year is known.
const UnknownDate = "—"

var months = [...]string{"Jan", "Feb", "Mar", "Apr", "May", "Jun", "Jul", "Aug", "Sep", "Oct", "Nov", "Dec"}

// FormatAcquisitionDate renders YYYY, YYYY-MM or YYYY-MM-DD as "Mon YYYY" or
// just the year. The day is never shown and "00" marks an unknown field.
// A month outside 01-12 is treated as unknown.
func FormatAcquisitionDate(s string) string {
	parts := strings.Split(strings.TrimSpace(s), "-")
	year := parts[0]
	if !digits(year, 4) || year == "0000" {
		return UnknownDate
	}
	if len(parts) < 2 || !digits(parts[1], 2) {
		return year
	}
	m, _ := strconv.Atoi(parts[1])
	if m < 1 || m > 12 {
		return year
	}
	return months[m-1] + " " + year
}

func digits(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
