// Package judge classifies one test's outcome into a verdict: the
// comparator that turns a compilation record, raw exec telemetry, and a
// captured-stdout/expected-answer pair into a grade and an info tag.
//
// Classification short-circuits in a fixed order: compilation failure,
// then telemetry thresholds (time, memory, signal, exit code), then the
// line-by-line output comparison.
package judge

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"judgeworker/internal/model"
)

// AnswerSizeCapBytes is the size guard on the expected-answer file.
const AnswerSizeCapBytes = 5 * 1024 * 1024

// compilationRecord mirrors comp.json's schema.
type compilationRecord struct {
	ReturnCode int `json:"return_code"`
}

// CheckCompilation reads compPath (OUT/comp.json) and reports whether
// compilation failed. A missing or unreadable record is treated as a
// pass; not every language profile runs a compile stage at all.
func CheckCompilation(compPath string) model.JudgeVerdict {
	data, err := os.ReadFile(compPath)
	if err != nil {
		return model.JudgeVerdict{Grade: true, Info: "ok c"}
	}
	var rec compilationRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return model.JudgeVerdict{Grade: true, Info: "ok c"}
	}
	if rec.ReturnCode != 0 {
		return model.JudgeVerdict{Grade: false, Info: fmt.Sprintf("compilation failed with return code %d", rec.ReturnCode)}
	}
	return model.JudgeVerdict{Grade: true, Info: "ok c"}
}

// CheckExec classifies telemetry against a test's limits: TLE, MLE,
// SIGSEGV, other signal, or a positive exit code, in that order. A clean
// return (rc == 0) passes through to the output comparison.
func CheckExec(telemetry model.ExecTelemetry, timeLimitSeconds float64, memoryLimitBytes int64) model.JudgeVerdict {
	if telemetry.UserTimeSec != nil && *telemetry.UserTimeSec >= timeLimitSeconds {
		return model.JudgeVerdict{Grade: false, Info: "time limit exceeded"}
	}
	if telemetry.TotalMemoryByt != nil && int64(*telemetry.TotalMemoryByt) >= memoryLimitBytes {
		return model.JudgeVerdict{Grade: false, Info: "memory limit exceeded"}
	}
	rc := telemetry.ReturnCode
	switch {
	case rc == -11:
		return model.JudgeVerdict{Grade: false, Info: "segmentation fault"}
	case rc > 0:
		return model.JudgeVerdict{Grade: false, Info: fmt.Sprintf("program exited with %d", rc)}
	case rc < 0:
		return model.JudgeVerdict{Grade: false, Info: signalName(-rc)}
	default:
		return model.JudgeVerdict{Grade: true, Info: "ok"}
	}
}

// CompareOutput performs the final line-by-line, trimmed-whitespace
// comparison of the captured stdout (stdoutPath) against the expected
// answer (answerPath). The first differing line fails with its line
// number; running out of produced output mid-comparison fails with
// "unexpected EOF in line N"; an exact match passes with "ok".
func CompareOutput(answerPath, stdoutPath string) model.JudgeVerdict {
	answerInfo, err := os.Stat(answerPath)
	if err != nil {
		return model.JudgeVerdict{Grade: false, Info: ""}
	}
	if _, err := os.Stat(stdoutPath); err != nil {
		return model.JudgeVerdict{Grade: false, Info: ""}
	}
	if answerInfo.Size() > AnswerSizeCapBytes {
		return model.JudgeVerdict{Grade: false, Info: "answer file is too big"}
	}

	answerFile, err := os.Open(answerPath)
	if err != nil {
		return model.JudgeVerdict{Grade: false, Info: ""}
	}
	defer answerFile.Close()
	stdoutFile, err := os.Open(stdoutPath)
	if err != nil {
		return model.JudgeVerdict{Grade: false, Info: ""}
	}
	defer stdoutFile.Close()

	answerScanner := bufio.NewScanner(answerFile)
	answerScanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	stdoutScanner := bufio.NewScanner(stdoutFile)
	stdoutScanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNr := 0
	for answerScanner.Scan() {
		lineNr++
		expected := strings.TrimSpace(answerScanner.Text())
		if !stdoutScanner.Scan() {
			return model.JudgeVerdict{Grade: false, Info: fmt.Sprintf("unexpected EOF in line %d", lineNr)}
		}
		got := strings.TrimSpace(stdoutScanner.Text())
		if expected != got {
			return model.JudgeVerdict{Grade: false, Info: fmt.Sprintf("line %d is not correct", lineNr)}
		}
	}
	if err := answerScanner.Err(); err != nil {
		return model.JudgeVerdict{Grade: false, Info: ""}
	}
	return model.JudgeVerdict{Grade: true, Info: "ok"}
}

// Classify runs the full per-test classification pipeline, evaluated in
// order, first match wins: compilation, then exec telemetry thresholds,
// then output comparison.
func Classify(compPath, stdoutPath, answerPath string, telemetry model.ExecTelemetry, timeLimitSeconds float64, memoryLimitBytes int64) model.JudgeVerdict {
	if v := CheckCompilation(compPath); !v.Grade {
		return v
	}
	if v := CheckExec(telemetry, timeLimitSeconds, memoryLimitBytes); !v.Grade {
		return v
	}
	return CompareOutput(answerPath, stdoutPath)
}

// signalNames maps the common POSIX terminating signal numbers to their
// lowercase SIG* name, matching Python's signal.Signals(n).name.lower().
var signalNames = map[int]string{
	1: "sighup", 2: "sigint", 3: "sigquit", 4: "sigill", 5: "sigtrap",
	6: "sigabrt", 7: "sigbus", 8: "sigfpe", 9: "sigkill", 10: "sigusr1",
	11: "sigsegv", 12: "sigusr2", 13: "sigpipe", 14: "sigalrm", 15: "sigterm",
	16: "sigstkflt", 17: "sigchld", 18: "sigcont", 19: "sigstop", 20: "sigtstp",
	21: "sigttin", 22: "sigttou", 23: "sigurg", 24: "sigxcpu", 25: "sigxfsz",
	26: "sigvtalrm", 27: "sigprof", 28: "sigwinch", 29: "sigio", 30: "sigpwr",
	31: "sigsys",
}

func signalName(n int) string {
	if name, ok := signalNames[n]; ok {
		return name
	}
	return fmt.Sprintf("signal %d", n)
}
