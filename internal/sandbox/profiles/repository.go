// Package profiles maps compiler image tags to per-stage task profiles:
// which entrypoint a stage runs, under which rootfs/seccomp posture, and
// with which default limits.
package profiles

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/google/shlex"

	"judgeworker/internal/sandbox/profile"
	"judgeworker/internal/sandbox/security"
	"judgeworker/pkg/errors"
)

// Repository resolves stage profiles from an in-memory table, seeded
// either from a JSON profiles file or from built-in defaults.
type Repository struct {
	profiles map[string]profile.TaskProfile

	execCmd  string
	judgeCmd string
}

type profilesFile struct {
	Profiles []profile.TaskProfile `json:"profiles"`
}

// NewRepository builds a Repository. execCmd and judgeCmd are the
// entrypoints for the exec and judge stages (the worker's own helper
// binaries); path optionally names a JSON file of additional per-compiler
// profiles and may be empty.
func NewRepository(execCmd, judgeCmd, path string) (*Repository, error) {
	r := &Repository{
		profiles: make(map[string]profile.TaskProfile),
		execCmd:  execCmd,
		judgeCmd: judgeCmd,
	}
	if path == "" {
		return r, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.FatalProfilesLoad, "read profiles file %s", path)
	}
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.DisallowUnknownFields()
	var f profilesFile
	if err := dec.Decode(&f); err != nil {
		return nil, errors.Wrapf(err, errors.FatalProfilesLoad, "parse profiles file %s", path)
	}
	for _, p := range f.Profiles {
		if p.CompilerImage == "" || p.TaskType == "" {
			continue
		}
		r.profiles[key(p.CompilerImage, p.TaskType)] = p
	}
	return r, nil
}

// Resolve returns the task profile for one stage of one compiler
// environment. Compile stages must be declared in the profiles file (the
// compiler environments are opaque, each with its own entrypoint); exec
// and judge stages fall back to the worker's built-in helper profiles.
func (r *Repository) Resolve(compilerImage string, taskType profile.TaskType) (profile.TaskProfile, error) {
	if p, ok := r.profiles[key(compilerImage, taskType)]; ok {
		return p, nil
	}
	switch taskType {
	case profile.TaskTypeExec:
		return profile.TaskProfile{CompilerImage: compilerImage, TaskType: taskType, CmdTemplate: r.execCmd}, nil
	case profile.TaskTypeJudge:
		return profile.TaskProfile{CompilerImage: compilerImage, TaskType: taskType, CmdTemplate: r.judgeCmd}, nil
	}
	return profile.TaskProfile{}, errors.Newf(errors.FatalProfileMissing, "no %s profile for compiler image %q", taskType, compilerImage)
}

// ResolveIsolation implements the engine's profile lookup: a RunSpec
// carries "<image>-<type>" as its profile name and the engine asks back
// for the matching rootfs/seccomp/network posture. Network is always
// disabled; no stage is allowed network access.
func (r *Repository) ResolveIsolation(name string) (security.IsolationProfile, error) {
	if name == "" {
		return security.IsolationProfile{}, errors.New(errors.FatalProfileMissing)
	}
	iso := security.IsolationProfile{DisableNetwork: true}
	if p, ok := r.profiles[name]; ok {
		iso.RootFS = p.RootFS
		iso.SeccompProfile = p.SeccompProfile
	}
	return iso, nil
}

// IsolationResolver adapts the repository to the engine's single-method
// profile lookup.
type IsolationResolver struct {
	r *Repository
}

// Isolation returns the engine-facing view of this repository.
func (r *Repository) Isolation() IsolationResolver {
	return IsolationResolver{r: r}
}

// Resolve implements the engine's ProfileResolver.
func (a IsolationResolver) Resolve(name string) (security.IsolationProfile, error) {
	return a.r.ResolveIsolation(name)
}

// Name returns the engine-facing profile name for one stage of one
// compiler environment.
func Name(compilerImage string, taskType profile.TaskType) string {
	return key(compilerImage, taskType)
}

// BuildCommand tokenizes a profile's CmdTemplate shell-style and
// substitutes the submission's main file for every literal "{mainfile}"
// occurring inside a token.
func BuildCommand(p profile.TaskProfile, mainfile string) ([]string, error) {
	if p.CmdTemplate == "" {
		return nil, errors.Newf(errors.FatalProfileMissing, "profile %s-%s has no command", p.CompilerImage, p.TaskType)
	}
	tokens, err := shlex.Split(p.CmdTemplate)
	if err != nil {
		return nil, errors.Wrapf(err, errors.FatalProfileMissing, "tokenize command for %s-%s", p.CompilerImage, p.TaskType)
	}
	for i, t := range tokens {
		tokens[i] = strings.ReplaceAll(t, "{mainfile}", mainfile)
	}
	if len(tokens) == 0 {
		return nil, errors.Newf(errors.FatalProfileMissing, "empty command for %s-%s", p.CompilerImage, p.TaskType)
	}
	return tokens, nil
}

func key(compilerImage string, taskType profile.TaskType) string {
	return fmt.Sprintf("%s-%s", compilerImage, taskType)
}
