// Command judge-runner is the judge stage's entrypoint: it runs inside
// the confined process set up by cmd/sandbox-init and classifies every
// test named by the problem specification, writing one
// OUT/<test>.judge.json per test via internal/judge.
//
// Stage-to-stage filesystem contract: reads IN (the
// exec stage's captured stdout), ANS (problem test answers), CONF (the
// persisted problem specification); writes OUT/<test>.judge.json.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"judgeworker/internal/judge"
	"judgeworker/internal/model"
	"judgeworker/internal/workspace"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func run() error {
	inDir := requiredEnv("IN")
	ansDir := requiredEnv("ANS")
	outDir := requiredEnv("OUT")
	confDir := os.Getenv("CONF")

	spec, err := workspace.LoadSpec(confDir)
	if err != nil || len(spec.Tests) == 0 {
		// Bad-problem degrade-to-empty-spec path: no tests named means
		// nothing for this stage to classify; it exits cleanly and lets
		// the aggregator report zero points.
		return nil
	}

	compPath := filepath.Join(outDir, "comp.json")
	for _, t := range spec.Tests {
		execPath := filepath.Join(outDir, t.TestName+".exec.json")
		stdoutPath := filepath.Join(inDir, t.TestName+".stdout.out")
		answerPath := filepath.Join(ansDir, t.TestName+".out")

		telemetry, ok := readTelemetry(execPath)
		var verdict model.JudgeVerdict
		if !ok {
			verdict = model.JudgeVerdict{Grade: false, Info: "error while running test"}
		} else {
			verdict = judge.Classify(compPath, stdoutPath, answerPath, telemetry, t.TimeLimitSeconds, t.TotalMemoryLimitBytes)
		}
		if err := writeVerdict(outDir, t.TestName, verdict); err != nil {
			return fmt.Errorf("write verdict for %s: %w", t.TestName, err)
		}
	}
	return nil
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

func writeVerdict(outDir, testName string, verdict model.JudgeVerdict) error {
	path := filepath.Join(outDir, testName+".judge.json")
	b, err := json.Marshal(verdict)
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
