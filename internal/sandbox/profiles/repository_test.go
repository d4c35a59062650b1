package profiles

import (
	"os"
	"path/filepath"
	"testing"

	"judgeworker/internal/sandbox/profile"
)

func TestResolveBuiltinExecAndJudge(t *testing.T) {
	r, err := NewRepository("sandbox-exec", "judge-runner", "")
	if err != nil {
		t.Fatal(err)
	}
	p, err := r.Resolve("exec-env", profile.TaskTypeExec)
	if err != nil {
		t.Fatalf("Resolve exec: %v", err)
	}
	if p.CmdTemplate != "sandbox-exec" {
		t.Fatalf("got %+v", p)
	}
	p, err = r.Resolve("judge-env", profile.TaskTypeJudge)
	if err != nil {
		t.Fatalf("Resolve judge: %v", err)
	}
	if p.CmdTemplate != "judge-runner" {
		t.Fatalf("got %+v", p)
	}
}

func TestResolveCompileRequiresProfile(t *testing.T) {
	r, err := NewRepository("sandbox-exec", "judge-runner", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Resolve("gcc-13", profile.TaskTypeCompile); err == nil {
		t.Fatal("expected error for undeclared compile profile")
	}
}

func TestLoadProfilesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.json")
	content := `{"profiles":[{"compiler_image":"gcc-13","task_type":"compile","cmd":"/usr/local/bin/compile-entry {mainfile}","rootfs":"/images/gcc-13"}]}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	r, err := NewRepository("sandbox-exec", "judge-runner", path)
	if err != nil {
		t.Fatalf("NewRepository: %v", err)
	}
	p, err := r.Resolve("gcc-13", profile.TaskTypeCompile)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if p.RootFS != "/images/gcc-13" {
		t.Fatalf("got %+v", p)
	}

	iso, err := r.ResolveIsolation(Name("gcc-13", profile.TaskTypeCompile))
	if err != nil {
		t.Fatalf("ResolveIsolation: %v", err)
	}
	if !iso.DisableNetwork {
		t.Fatal("network must always be disabled")
	}
	if iso.RootFS != "/images/gcc-13" {
		t.Fatalf("got %+v", iso)
	}
}

func TestLoadProfilesFileRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.json")
	if err := os.WriteFile(path, []byte(`{"profiles":[],"bogus":1}`), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewRepository("sandbox-exec", "judge-runner", path); err == nil {
		t.Fatal("expected error for unknown keys")
	}
}

func TestBuildCommandSubstitutesMainfile(t *testing.T) {
	p := profile.TaskProfile{CompilerImage: "gcc-13", TaskType: profile.TaskTypeCompile, CmdTemplate: `g++ -O2 -o /data/bin/program "/data/src/{mainfile}"`}
	cmd, err := BuildCommand(p, "main.cpp")
	if err != nil {
		t.Fatalf("BuildCommand: %v", err)
	}
	if cmd[len(cmd)-1] != "/data/src/main.cpp" {
		t.Fatalf("got %v", cmd)
	}
}

func TestBuildCommandEmptyTemplate(t *testing.T) {
	if _, err := BuildCommand(profile.TaskProfile{}, "main.cpp"); err == nil {
		t.Fatal("expected error for empty command template")
	}
}
