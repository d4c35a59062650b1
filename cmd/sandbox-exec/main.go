//go:build linux

// Command sandbox-exec is the in-sandbox executor. It runs as the "exec"
// stage's entrypoint inside the process already confined by
// cmd/sandbox-init's namespace/cgroup setup, iterates the tests named by
// the problem specification, and for each one forks a genuine child under
// per-test rlimits, polls its live CPU time and RSS, and SIGKILLs the
// whole process group the instant either limit is breached.
//
// The polled kill is the authoritative enforcement mechanism for time and
// memory limits; the kernel CPU rlimit set by the bootstrap child is a
// second line of defense that only fires if the polling loop is starved.
// The supervisor forks the child by re-executing itself in a "bootstrap"
// mode that sets rlimits and then unix.Execs into the student binary, so
// the supervisor process survives to poll it.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"judgeworker/internal/model"
	"judgeworker/internal/workspace"
)

// bootstrapEnv signals that this invocation should act as the per-test
// child bootstrap: set rlimits on itself, then exec-replace into the
// student binary. Kept internal to this binary; never set by anything
// else.
const bootstrapEnv = "SANDBOX_EXEC_BOOTSTRAP"

func main() {
	if os.Getenv(bootstrapEnv) == "1" {
		runBootstrap()
		return
	}
	if err := runSupervisor(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

// runSupervisor iterates every test, producing exactly one telemetry file
// per test regardless of outcome.
func runSupervisor() error {
	binDir := requiredEnv("BIN")
	inDir := requiredEnv("IN")
	stdDir := requiredEnv("STD")
	outDir := requiredEnv("OUT")
	confDir := os.Getenv("CONF")

	tests, err := resolveTests(confDir, inDir)
	if err != nil {
		return err
	}

	binary := filepath.Join(binDir, "program")
	for _, t := range tests {
		telemetry := runOneTest(binary, inDir, stdDir, t)
		if err := writeTelemetry(outDir, t.TestName, telemetry); err != nil {
			return fmt.Errorf("write telemetry for %s: %w", t.TestName, err)
		}
	}
	return nil
}

// testJob is the per-test subset of model.TestSpecification this binary
// actually needs; it never needs the whole ProblemSpecification object.
type testJob struct {
	TestName   string
	TimeLimit  float64
	MemoryMB   int64
	StackBytes int64
}

func resolveTests(confDir, inDir string) ([]testJob, error) {
	if confDir != "" {
		if spec, err := workspace.LoadSpec(confDir); err == nil && len(spec.Tests) > 0 {
			jobs := make([]testJob, 0, len(spec.Tests))
			for _, t := range spec.Tests {
				jobs = append(jobs, testJob{
					TestName:   t.TestName,
					TimeLimit:  t.TimeLimitSeconds,
					MemoryMB:   t.TotalMemoryLimitBytes / (1024 * 1024),
					StackBytes: t.StackLimitBytes,
				})
			}
			return jobs, nil
		}
	}
	// No usable specification: fall back to every *.in file under IN, at
	// the default limits.
	entries, err := os.ReadDir(inDir)
	if err != nil {
		return nil, fmt.Errorf("list input dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".in") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".in"))
	}
	sort.Strings(names)
	jobs := make([]testJob, 0, len(names))
	for _, n := range names {
		jobs = append(jobs, testJob{
			TestName:   n,
			TimeLimit:  model.DefaultTimeLimitSeconds,
			MemoryMB:   model.DefaultTotalMemoryLimitBytes / (1024 * 1024),
			StackBytes: model.DefaultStackLimitBytes,
		})
	}
	return jobs, nil
}

// runOneTest runs one test end to end: resolve paths, fork the bootstrap
// child, supervise it, and convert the wait outcome into telemetry.
func runOneTest(binary, inDir, stdDir string, t testJob) model.ExecTelemetry {
	stdinPath := filepath.Join(inDir, t.TestName+".in")
	stdoutPath := filepath.Join(stdDir, t.TestName+".stdout.out")
	stderrPath := filepath.Join(stdDir, t.TestName+".stderr.out")

	if !isExecutable(binary) || !fileExists(stdinPath) {
		return model.SentinelExecTelemetry()
	}

	stdinFile, err := os.Open(stdinPath)
	if err != nil {
		return model.SentinelExecTelemetry()
	}
	defer stdinFile.Close()
	stdoutFile, err := os.OpenFile(stdoutPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return model.SentinelExecTelemetry()
	}
	defer stdoutFile.Close()
	stderrFile, err := os.OpenFile(stderrPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return model.SentinelExecTelemetry()
	}
	defer stderrFile.Close()

	selfPath, err := os.Executable()
	if err != nil {
		selfPath = os.Args[0]
	}

	childCmdJSON, _ := json.Marshal([]string{binary})
	cmd := exec.Command(selfPath)
	cmd.Stdin = stdinFile
	cmd.Stdout = stdoutFile
	cmd.Stderr = stderrFile
	cmd.Env = append(os.Environ(),
		bootstrapEnv+"=1",
		fmt.Sprintf("SANDBOX_EXEC_CPU_MS=%d", ceilSeconds(t.TimeLimit)*1000+1000),
		fmt.Sprintf("SANDBOX_EXEC_AS_BYTES=%d", 2*t.MemoryMB*1024*1024),
		fmt.Sprintf("SANDBOX_EXEC_STACK_BYTES=%d", stackLimitOrDefault(t.StackBytes)),
		"SANDBOX_EXEC_CMD="+string(childCmdJSON),
	)
	// New session: the bootstrap child becomes its own process group
	// leader, so a single group SIGKILL tears down everything it (or the
	// student binary it execs into) spawns.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return model.SentinelExecTelemetry()
	}
	supervise(cmd.Process.Pid, t.TimeLimit, t.MemoryMB*1024*1024)
	waitErr := cmd.Wait()

	return telemetryFromWait(waitErr, cmd.ProcessState)
}

// supervise polls the child's live user CPU time and summed process-group
// RSS and kills the group the instant either limit is breached. It returns
// once the child is confirmed dead or past limits; cmd.Wait() in the
// caller reaps it.
func supervise(pid int, timeLimitSeconds float64, memoryLimitBytes int64) {
	interval := 10 * time.Millisecond
	for {
		utime, rss, alive := sampleProcessGroup(pid)
		if !alive {
			return
		}
		if utime >= timeLimitSeconds-interval.Seconds() {
			interval = time.Millisecond
		}
		if utime > timeLimitSeconds || rss > memoryLimitBytes {
			killProcessGroup(pid)
			return
		}
		time.Sleep(interval)
	}
}

func killProcessGroup(pid int) {
	if pid <= 0 {
		return
	}
	_ = unix.Kill(-pid, syscall.SIGKILL)
}

func telemetryFromWait(waitErr error, state *os.ProcessState) model.ExecTelemetry {
	telemetry := model.ExecTelemetry{}
	if state != nil {
		if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			sig := int(ws.Signal())
			telemetry.ReturnCode = -sig
			telemetry.Signal = &sig
		} else {
			telemetry.ReturnCode = state.ExitCode()
		}
		if usage, ok := state.SysUsage().(*syscall.Rusage); ok {
			// ru_maxrss is reported in KiB on Linux; the telemetry unit is
			// bytes, fixed as KiB * 1024.
			utime := float64(usage.Utime.Sec) + float64(usage.Utime.Usec)/1e6
			memBytes := float64(usage.Maxrss) * 1024
			telemetry.UserTimeSec = &utime
			telemetry.TotalMemoryByt = &memBytes
		}
		return telemetry
	}
	if waitErr != nil {
		telemetry.ReturnCode = 1
	}
	return telemetry
}

func ceilSeconds(seconds float64) int64 {
	if seconds <= 0 {
		return int64(model.DefaultTimeLimitSeconds) + 1
	}
	whole := int64(seconds)
	if float64(whole) < seconds {
		whole++
	}
	return whole
}

func stackLimitOrDefault(bytes int64) int64 {
	if bytes > 0 {
		return bytes
	}
	return model.DefaultStackLimitBytes
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0111 != 0
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func writeTelemetry(outDir, testName string, telemetry model.ExecTelemetry) error {
	path := filepath.Join(outDir, testName+".exec.json")
	b, err := json.Marshal(telemetry)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0644)
}

func requiredEnv(name string) string {
	v := os.Getenv(name)
	if v == "" {
		fmt.Fprintf(os.Stderr, "missing required env %s\n", name)
		os.Exit(1)
	}
	return v
}
