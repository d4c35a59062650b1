//go:build linux

package main

import (
	"os"
	"strconv"
	"strings"
)

// clockTicksPerSec is USER_HZ, effectively always 100 on Linux on every
// architecture this worker targets.
const clockTicksPerSec = 100

const pageSizeBytes = 4096

// sampleProcessGroup sums user CPU time and RSS across every process
// sharing pid's process group, consistent with the process-group kill
// policy: a child the student spawned counts against the limits exactly
// like the student process itself. Only utime counts toward the time
// limit — kernel time spent in syscalls is excluded, the same accounting
// the final telemetry uses (ru_utime). alive reports whether pid itself
// is still running; once it's gone the supervisor loop stops polling and
// lets cmd.Wait() reap it.
func sampleProcessGroup(pid int) (userTimeSeconds float64, rssBytes int64, alive bool) {
	selfFields, err := readStatFields(pid)
	if err != nil || selfFields.state == "Z" || selfFields.state == "X" {
		return 0, 0, false
	}
	pgrp := selfFields.pgrp

	entries, err := os.ReadDir("/proc")
	if err != nil {
		// Can't enumerate /proc; fall back to the child's own numbers so
		// the loop degrades gracefully instead of spinning blind.
		return float64(selfFields.utime) / clockTicksPerSec, selfFields.rssPages * pageSizeBytes, true
	}

	var totalUserTicks int64
	var totalRSSPages int64
	for _, e := range entries {
		n, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		fields, err := readStatFields(n)
		if err != nil {
			continue
		}
		if fields.pgrp != pgrp {
			continue
		}
		totalUserTicks += fields.utime
		totalRSSPages += fields.rssPages
	}
	return float64(totalUserTicks) / clockTicksPerSec, totalRSSPages * pageSizeBytes, true
}

type statFields struct {
	state    string
	pgrp     int
	utime    int64
	rssPages int64
}

// readStatFields parses /proc/<pid>/stat. The comm field (2nd, parenthesized)
// may itself contain spaces, so fields are addressed from the last ')'
// onward rather than by naive whitespace splitting.
func readStatFields(pid int) (statFields, error) {
	data, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return statFields{}, err
	}
	content := string(data)
	idx := strings.LastIndexByte(content, ')')
	if idx < 0 || idx+2 > len(content) {
		return statFields{}, os.ErrInvalid
	}
	rest := strings.Fields(content[idx+2:])
	// rest[0] = state (field 3); pgrp is field 5 -> rest[2]; utime field
	// 14 -> rest[11]; rss field 24 -> rest[21].
	if len(rest) < 22 {
		return statFields{}, os.ErrInvalid
	}
	pgrp, _ := strconv.Atoi(rest[2])
	utime, _ := strconv.ParseInt(rest[11], 10, 64)
	rss, _ := strconv.ParseInt(rest[21], 10, 64)
	return statFields{state: rest[0], pgrp: pgrp, utime: utime, rssPages: rss}, nil
}
