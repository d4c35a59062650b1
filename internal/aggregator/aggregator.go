// Package aggregator gathers per-test telemetry and verdicts from a
// submission's OUT directory into a SubmissionResult.
//
// It never early-breaks on a failing test: every test name it is handed
// appears exactly once in the result, in natural order.
package aggregator

import (
	"encoding/json"
	"os"
	"path/filepath"

	"judgeworker/internal/logging"
	"judgeworker/internal/model"
	"judgeworker/internal/natsort"
	"judgeworker/internal/workspace"
)

const (
	compilationInfoCapBytes = 10 * 1024
	debugCapBytes           = 20 * 1024
)

// Aggregate builds the final SubmissionResult from the OUT blackboard.
// testNames is the authoritative list of tests that were supposed to run
// (from the problem specification, or the *.in fallback enumeration the
// executor used when no specification was available); every name in it
// gets exactly one TestResult, sorted in natural order.
func Aggregate(testNames []string, l workspace.Layout, includeDebug bool) model.SubmissionResult {
	names := append([]string(nil), testNames...)
	natsort.Strings(names)

	result := model.SubmissionResult{}
	for _, name := range names {
		tr := buildTestResult(name, l.Out)
		if tr.Grade {
			result.Points++
		}
		result.TestResults = append(result.TestResults, tr)
	}

	result.CompilationInfo = readCapped(filepath.Join(l.Out, "comp.txt"), compilationInfoCapBytes)
	if includeDebug {
		text, _ := logging.ReadCapped(filepath.Join(l.Logs, "worker.log"), debugCapBytes)
		result.Debug = text
	}
	return result
}

func buildTestResult(name, outDir string) model.TestResult {
	judgePath := filepath.Join(outDir, name+".judge.json")
	execPath := filepath.Join(outDir, name+".exec.json")

	verdict, ok := readVerdict(judgePath)
	if !ok {
		return model.TestResult{TestName: name, Grade: false, Info: "error while running test"}
	}

	tr := model.TestResult{TestName: name, Grade: verdict.Grade, Info: verdict.Info}
	if telemetry, ok := readTelemetry(execPath); ok {
		tr.ReturnCode = telemetry.ReturnCode
		tr.TimeSec = telemetry.UserTimeSec
		tr.MemoryByt = telemetry.TotalMemoryByt
	}
	return tr
}

func readVerdict(path string) (model.JudgeVerdict, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.JudgeVerdict{}, false
	}
	var v model.JudgeVerdict
	if err := json.Unmarshal(data, &v); err != nil {
		return model.JudgeVerdict{}, false
	}
	return v, true
}

func readTelemetry(path string) (model.ExecTelemetry, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.ExecTelemetry{}, false
	}
	var t model.ExecTelemetry
	if err := json.Unmarshal(data, &t); err != nil {
		return model.ExecTelemetry{}, false
	}
	return t, true
}

func readCapped(path string, maxBytes int64) string {
	text, err := logging.ReadCapped(path, maxBytes)
	if err != nil {
		return ""
	}
	return text
}
