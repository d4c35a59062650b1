//go:build linux

package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"judgeworker/internal/model"
)

// TestMain mirrors main's bootstrap dispatch: runOneTest re-executes the
// current binary (here, the test binary) in bootstrap mode, so that mode
// must be handled before the test framework takes over.
func TestMain(m *testing.M) {
	if os.Getenv(bootstrapEnv) == "1" {
		runBootstrap()
		return
	}
	os.Exit(m.Run())
}

func stageDirs(t *testing.T) (inDir, stdDir string) {
	t.Helper()
	root := t.TempDir()
	inDir = filepath.Join(root, "in")
	stdDir = filepath.Join(root, "std")
	for _, d := range []string{inDir, stdDir} {
		if err := os.MkdirAll(d, 0755); err != nil {
			t.Fatal(err)
		}
	}
	return inDir, stdDir
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "program")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunOneTestCleanRun(t *testing.T) {
	inDir, stdDir := stageDirs(t)
	if err := os.WriteFile(filepath.Join(inDir, "a.in"), []byte("hi\n"), 0644); err != nil {
		t.Fatal(err)
	}
	binary := writeScript(t, "exec /bin/cat")

	telemetry := runOneTest(binary, inDir, stdDir, testJob{
		TestName:   "a",
		TimeLimit:  2,
		MemoryMB:   256,
		StackBytes: model.DefaultStackLimitBytes,
	})

	if telemetry.ReturnCode != 0 {
		t.Fatalf("got telemetry %+v", telemetry)
	}
	if telemetry.Signal != nil {
		t.Fatalf("expected no signal, got %+v", telemetry)
	}
	if telemetry.UserTimeSec == nil || telemetry.TotalMemoryByt == nil {
		t.Fatalf("expected metrics present, got %+v", telemetry)
	}
	data, err := os.ReadFile(filepath.Join(stdDir, "a.stdout.out"))
	if err != nil || string(data) != "hi\n" {
		t.Fatalf("stdin not echoed to stdout: %q (%v)", data, err)
	}
}

func TestRunOneTestKillsBusyLoopOnTimeLimit(t *testing.T) {
	inDir, stdDir := stageDirs(t)
	if err := os.WriteFile(filepath.Join(inDir, "a.in"), []byte(""), 0644); err != nil {
		t.Fatal(err)
	}
	binary := writeScript(t, "while :; do :; done")

	telemetry := runOneTest(binary, inDir, stdDir, testJob{
		TestName:   "a",
		TimeLimit:  0.2,
		MemoryMB:   256,
		StackBytes: model.DefaultStackLimitBytes,
	})

	if telemetry.ReturnCode != -9 {
		t.Fatalf("expected the process group to be SIGKILLed, got %+v", telemetry)
	}
	if telemetry.Signal == nil || *telemetry.Signal != 9 {
		t.Fatalf("expected signal 9, got %+v", telemetry)
	}
	if telemetry.UserTimeSec == nil || *telemetry.UserTimeSec < 0.15 {
		t.Fatalf("expected user time near the limit, got %+v", telemetry)
	}
}

func TestRunOneTestMissingBinaryWritesSentinel(t *testing.T) {
	inDir, stdDir := stageDirs(t)
	if err := os.WriteFile(filepath.Join(inDir, "a.in"), []byte(""), 0644); err != nil {
		t.Fatal(err)
	}

	telemetry := runOneTest(filepath.Join(t.TempDir(), "missing"), inDir, stdDir, testJob{
		TestName:  "a",
		TimeLimit: 2,
		MemoryMB:  256,
	})

	if telemetry.ReturnCode != 1 {
		t.Fatalf("expected sentinel return code 1, got %+v", telemetry)
	}
	if telemetry.UserTimeSec != nil || telemetry.TotalMemoryByt != nil {
		t.Fatalf("expected null metrics, got %+v", telemetry)
	}
}

func TestRunOneTestMissingInputWritesSentinel(t *testing.T) {
	inDir, stdDir := stageDirs(t)
	binary := writeScript(t, "exec /bin/cat")

	telemetry := runOneTest(binary, inDir, stdDir, testJob{
		TestName:  "a",
		TimeLimit: 2,
		MemoryMB:  256,
	})
	if telemetry.ReturnCode != 1 {
		t.Fatalf("expected sentinel return code 1, got %+v", telemetry)
	}
}

func TestWriteTelemetryMatchesWireSchema(t *testing.T) {
	outDir := t.TempDir()
	sig := 11
	ut := 0.5
	mem := 1048576.0
	telemetry := model.ExecTelemetry{ReturnCode: -11, Signal: &sig, UserTimeSec: &ut, TotalMemoryByt: &mem}
	if err := writeTelemetry(outDir, "a", telemetry); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(outDir, "a.exec.json"))
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"return_code", "signal", "user_time", "total_memory"} {
		if _, ok := decoded[key]; !ok {
			t.Fatalf("missing wire field %q in %s", key, data)
		}
	}
}
