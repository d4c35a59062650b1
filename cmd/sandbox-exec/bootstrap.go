//go:build linux

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// runBootstrap is the per-test child: it sets the per-test rlimits on
// itself, then unix.Execs into the student binary.
// Because rlimits and the session/process-group membership survive exec,
// the supervisor only has to fork this process once per test; everything
// after the rlimit setup happens inside the student's own address space.
func runBootstrap() {
	if err := bootstrap(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func bootstrap() error {
	cpuMs := envInt64("SANDBOX_EXEC_CPU_MS")
	asBytes := envInt64("SANDBOX_EXEC_AS_BYTES")
	stackBytes := envInt64("SANDBOX_EXEC_STACK_BYTES")
	cmdJSON := os.Getenv("SANDBOX_EXEC_CMD")

	var argv []string
	if err := json.Unmarshal([]byte(cmdJSON), &argv); err != nil || len(argv) == 0 {
		return fmt.Errorf("decode child command: %w", err)
	}

	if cpuMs > 0 {
		seconds := uint64((cpuMs + 999) / 1000)
		if err := unix.Setrlimit(unix.RLIMIT_CPU, &unix.Rlimit{Cur: seconds, Max: seconds}); err != nil {
			return fmt.Errorf("set rlimit cpu: %w", err)
		}
	}
	if asBytes > 0 {
		v := uint64(asBytes)
		if err := unix.Setrlimit(unix.RLIMIT_AS, &unix.Rlimit{Cur: v, Max: v}); err != nil {
			return fmt.Errorf("set rlimit as: %w", err)
		}
	}
	if stackBytes > 0 {
		v := uint64(stackBytes)
		if err := unix.Setrlimit(unix.RLIMIT_STACK, &unix.Rlimit{Cur: v, Max: v}); err != nil {
			return fmt.Errorf("set rlimit stack: %w", err)
		}
	}
	if err := unix.Setrlimit(unix.RLIMIT_CORE, &unix.Rlimit{Cur: 0, Max: 0}); err != nil {
		return fmt.Errorf("disable core dumps: %w", err)
	}

	env := cleanEnv(os.Environ())
	path, err := exec.LookPath(argv[0])
	if err != nil {
		path = argv[0]
	}
	return unix.Exec(path, argv, env)
}

// cleanEnv drops the bootstrap-only variables so the student binary never
// observes them.
func cleanEnv(env []string) []string {
	out := env[:0:0]
	for _, kv := range env {
		if strings.HasPrefix(kv, "SANDBOX_EXEC_") {
			continue
		}
		out = append(out, kv)
	}
	return out
}

func envInt64(name string) int64 {
	v, _ := strconv.ParseInt(os.Getenv(name), 10, 64)
	return v
}
