package transport

import "fmt"

// sprint is a thin fmt.Sprint wrapper used when building one-off error and
// debug strings from mixed types, matching the terse call sites throughout
// this package.
func sprint(a ...interface{}) string {
	return fmt.Sprint(a...)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
