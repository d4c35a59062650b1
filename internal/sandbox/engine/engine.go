// Package engine launches a single confined stage: a process running
// under Linux namespaces, a cgroup v2 leaf, and rlimits, with network
// disabled, no new privileges, and a hard wall-clock timeout.
package engine

import (
	"context"

	"judgeworker/internal/sandbox/result"
	"judgeworker/internal/sandbox/security"
	"judgeworker/internal/sandbox/spec"
)

// Engine runs one stage to completion (or until its wall-clock timeout)
// and tears down everything it set up, regardless of outcome.
type Engine interface {
	Run(ctx context.Context, runSpec spec.RunSpec) (result.RunResult, error)
	KillSubmission(ctx context.Context, submissionID string) error
}

// ProfileResolver resolves a profile name into an isolation profile
// (rootfs / seccomp profile / network posture).
type ProfileResolver interface {
	Resolve(profile string) (security.IsolationProfile, error)
}

// Config controls sandbox engine behavior; defaults are applied by the
// caller (internal/config).
type Config struct {
	CgroupRoot           string
	SeccompDir           string
	HelperPath           string
	StdoutStderrMaxBytes int64
	EnableSeccomp        bool
	EnableCgroup         bool
	EnableNamespaces     bool

	ProcLimit        int64
	FileSizeLimitMB  int64
	NofileSoft       int64
	NofileHard       int64
}

type initRequest struct {
	RunSpec       spec.RunSpec
	Isolation     security.IsolationProfile
	EnableSeccomp bool
	EnableNs      bool
	NofileSoft    int64
	NofileHard    int64
}
