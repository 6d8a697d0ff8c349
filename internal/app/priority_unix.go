//go:build !windows

package app

import (
	"fmt"
	"syscall"
)

// niceForPriority maps the string Priority enum onto a POSIX nice value.
// Real-time tokens (rt1..rt32) have no portable equivalent via the plain
// syscall package (SCHED_FIFO/SCHED_RR setup needs golang.org/x/sys, not a
// dependency of this module), so they are approximated as the most
// favorable nice value available to an unprivileged scheduler adjustment.
func niceForPriority(p Priority) int {
	switch {
	case p == PriorityIdle:
		return 19
	case p == PriorityLow:
		return 10
	case p == PriorityMedium:
		return 0
	case p == PriorityHigh:
		return -10
	case isRealtimePriority(string(p)):
		return -20
	default:
		return 0
	}
}

// applyPriority sets pid's scheduling priority via setpriority(2).
func applyPriority(pid int, p Priority) error {
	if err := syscall.Setpriority(syscall.PRIO_PROCESS, pid, niceForPriority(p)); err != nil {
		return fmt.Errorf("setpriority pid %d: %w", pid, err)
	}
	return nil
}
