//go:build !linux

package armled

import "fmt"

// Stub implementation for non-Linux platforms.
func openLine(pin int) (ledLine, error) {
	return nil, fmt.Errorf("armled: gpio unsupported on this platform")
}

var openLineFn = openLine
