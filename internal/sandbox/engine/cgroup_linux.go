//go:build linux

package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"judgeworker/internal/sandbox/spec"
)

// createRunCgroup creates a fresh cgroup v2 leaf for one stage run, named
// with a UUID-bearing suffix so concurrent workers never collide.
func createRunCgroup(root, submissionID, name string) (string, func(), error) {
	if root == "" {
		return "", func() {}, fmt.Errorf("cgroup root is required")
	}
	cgroupPath := filepath.Join(root, submissionID, fmt.Sprintf("%s-%d", name, time.Now().UnixNano()))
	if err := os.MkdirAll(cgroupPath, 0o750); err != nil {
		return "", func() {}, fmt.Errorf("create cgroup path: %w", err)
	}
	cleanup := func() {
		_ = os.RemoveAll(cgroupPath)
	}
	return cgroupPath, cleanup, nil
}

// applyCgroupLimits writes memory/pids/cpu accounting limits to the leaf.
// procLimit overrides limits.PIDs when the caller configured a
// per-stage process cap and the stage itself didn't ask for something
// tighter.
func applyCgroupLimits(cgroupPath string, limits spec.ResourceLimit, procLimit int64) error {
	pids := limits.PIDs
	if pids <= 0 || (procLimit > 0 && procLimit < pids) {
		pids = procLimit
	}
	pidsValue := "max"
	if pids > 0 {
		pidsValue = strconv.FormatInt(pids, 10)
	}
	if err := writeCgroupValue(cgroupPath, "pids.max", pidsValue); err != nil {
		return err
	}
	if limits.MemoryMB > 0 {
		if err := writeCgroupValue(cgroupPath, "memory.max", strconv.FormatInt(limits.MemoryMB*1024*1024, 10)); err != nil {
			return err
		}
	}
	if err := writeCgroupValue(cgroupPath, "cpu.max", "max 100000"); err != nil {
		return err
	}
	return nil
}

func addProcessToCgroup(cgroupPath string, pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid")
	}
	return writeCgroupValue(cgroupPath, "cgroup.procs", strconv.Itoa(pid))
}

// killCgroup tears down every process left in the leaf with a single
// cgroup.kill write, the group-wide counterpart to the executor's
// process-group SIGKILL discipline.
func killCgroup(cgroupPath string) error {
	killPath := filepath.Join(cgroupPath, "cgroup.kill")
	if _, err := os.Stat(killPath); err != nil {
		return err
	}
	return os.WriteFile(killPath, []byte("1"), 0o600)
}

func writeCgroupValue(cgroupPath, name, value string) error {
	return os.WriteFile(filepath.Join(cgroupPath, name), []byte(value), 0o640)
}
