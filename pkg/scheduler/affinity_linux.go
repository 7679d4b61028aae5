//go:build linux

package scheduler

import "golang.org/x/sys/unix"

// setCPUAffinity binds the calling OS thread to cpu via sched_setaffinity.
// Must be called after runtime.LockOSThread, since affinity is a
// per-thread (not per-goroutine) property.
func setCPUAffinity(cpu int) error {
	var mask unix.CPUSet
	mask.Set(cpu)
	return unix.SchedSetaffinity(0, &mask)
}
