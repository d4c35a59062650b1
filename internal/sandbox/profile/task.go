package profile

import "judgeworker/internal/sandbox/spec"

// TaskType identifies a sandbox stage's role.
type TaskType string

const (
	TaskTypeCompile TaskType = "compile"
	TaskTypeExec    TaskType = "exec"
	TaskTypeJudge   TaskType = "judge"
)

// TaskProfile defines sandbox resources and security settings for one
// stage of one compiler environment. CmdTemplate is the stage's
// entrypoint, tokenized shell-style; every literal "{mainfile}" inside a
// token is replaced with the submission's main file name before launch.
type TaskProfile struct {
	CompilerImage  string             `json:"compiler_image"`
	TaskType       TaskType           `json:"task_type"`
	RootFS         string             `json:"rootfs,omitempty"`
	SeccompProfile string             `json:"seccomp_profile,omitempty"`
	CmdTemplate    string             `json:"cmd,omitempty"`
	Env            []string           `json:"env,omitempty"`
	DefaultLimits  spec.ResourceLimit `json:"default_limits,omitempty"`
}

// Resolver maps a compiler image tag to the task profile to use for a
// given stage.
type Resolver interface {
	Resolve(compilerImage string, taskType TaskType) (TaskProfile, error)
}
