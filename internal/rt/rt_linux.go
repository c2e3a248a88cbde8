//go:build linux

// Package rt applies the scheduling knobs a tight control loop wants:
// locked memory so page faults never stall a cycle, and a realtime
// scheduling class. Both are best effort; the loop runs without them,
// just with more jitter.
package rt

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Setup locks current and future pages when lockMemory is set and moves
// the process to SCHED_FIFO at the given priority when it is nonzero.
// Zero leaves the scheduler default untouched.
func Setup(lockMemory bool, priority int) error {
	if lockMemory {
		if err := unix.Mlockall(unix.MCL_CURRENT | unix.MCL_FUTURE); err != nil {
			return fmt.Errorf("rt: mlockall: %w", err)
		}
	}
	if priority != 0 {
		attr := unix.SchedAttr{
			Size:     unix.SizeofSchedAttr,
			Policy:   unix.SCHED_FIFO,
			Priority: uint32(priority),
		}
		if err := unix.SchedSetAttr(0, &attr, 0); err != nil {
			return fmt.Errorf("rt: sched_setattr: %w", err)
		}
	}
	return nil
}
