//go:build windows

package app

// applyPriority is a no-op on Windows: process priority classes are set via
// SetPriorityClass, which this module does not import (no corpus dependency
// covers the Windows job/priority API).
func applyPriority(pid int, p Priority) error {
	return nil
}
