// Package workspace manages the per-submission directory tree: its
// creation, validation, persistence of the problem specification, and
// archival.
package workspace

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"

	"judgeworker/internal/model"
	"judgeworker/pkg/errors"
)

// Layout is the fixed set of subdirectories making up a submission's
// workspace.
type Layout struct {
	Root string
	Src  string
	Lib  string
	Tests string
	Conf string
	Bin  string
	Std  string
	Out  string
	Logs string
}

// NewLayout derives the fixed subdirectory paths under root.
func NewLayout(root string) Layout {
	return Layout{
		Root:  root,
		Src:   filepath.Join(root, "src"),
		Lib:   filepath.Join(root, "lib"),
		Tests: filepath.Join(root, "tests"),
		Conf:  filepath.Join(root, "conf"),
		Bin:   filepath.Join(root, "bin"),
		Std:   filepath.Join(root, "std"),
		Out:   filepath.Join(root, "out"),
		Logs:  filepath.Join(root, "logs"),
	}
}

func (l Layout) dirs() []string {
	return []string{l.Src, l.Lib, l.Tests, l.Conf, l.Bin, l.Std, l.Out, l.Logs}
}

// Init removes root if present, then recreates it and its eight
// subdirectories.
func Init(root string) (Layout, error) {
	l := NewLayout(root)
	if err := os.RemoveAll(root); err != nil {
		return Layout{}, errors.Wrapf(err, errors.FatalWorkspaceInit, "remove existing workspace %s", root)
	}
	for _, d := range l.dirs() {
		if err := os.MkdirAll(d, 0777); err != nil {
			return Layout{}, errors.Wrapf(err, errors.FatalWorkspaceInit, "create workspace dir %s", d)
		}
	}
	return l, nil
}

// SetWorkerUmask widens the process umask to 0. Must be called exactly
// once, from the orchestrator's startup, not per-submission.
func SetWorkerUmask() {
	_ = syscall.Umask(0)
}

// Purge removes the entire workspace tree.
func Purge(root string) error {
	if err := os.RemoveAll(root); err != nil {
		return errors.Wrapf(err, errors.FatalWorkspaceInit, "purge workspace %s", root)
	}
	return nil
}

// Archive copies root to "<root>_debug", first removing any existing debug
// copy, used when IS_DEBUG_MODE_ENABLED is set.
func Archive(root string) error {
	dst := root + "_debug"
	if err := os.RemoveAll(dst); err != nil {
		return errors.Wrapf(err, errors.FatalWorkspaceInit, "remove stale debug archive %s", dst)
	}
	return copyTree(root, dst)
}

func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, info.Mode())
		}
		return copyFile(path, target, info.Mode())
	})
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0777); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

// PersistSpec writes spec as conf/problem_specification.json in a stable,
// forward-compatible form.
func PersistSpec(spec model.ProblemSpecification, l Layout) error {
	doc := model.FromProblemSpecification(spec)
	path := filepath.Join(l.Conf, "problem_specification.json")
	b, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, errors.FatalWorkspaceInit)
	}
	if err := os.WriteFile(path, b, 0644); err != nil {
		return errors.Wrapf(err, errors.FatalWorkspaceInit, "persist spec to %s", path)
	}
	return nil
}

// LoadSpec reads back conf/problem_specification.json, as consumed by the
// in-sandbox executor and judge stages running inside their own confined
// process (they cannot see the orchestrator's in-memory specification,
// only what PersistSpec wrote to the blackboard).
func LoadSpec(confDir string) (model.ProblemSpecification, error) {
	path := filepath.Join(confDir, "problem_specification.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return model.ProblemSpecification{}, err
	}
	var doc model.ProblemSpecDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return model.ProblemSpecification{}, err
	}
	return doc.ToProblemSpecification(), nil
}

// ValidateFileDest reports whether path's parent directory exists, is a
// directory, is writable, and path itself is not a directory.
func ValidateFileDest(path string) bool {
	if path == "" {
		return false
	}
	dir := filepath.Dir(path)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return false
	}
	if !writable(dir) {
		return false
	}
	if fi, err := os.Stat(path); err == nil && fi.IsDir() {
		return false
	}
	return true
}

// ValidateDirDest reports whether path exists, is a directory, and is
// writable.
func ValidateDirDest(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return false
	}
	return writable(path)
}

func writable(dir string) bool {
	probe := filepath.Join(dir, fmt.Sprintf(".writable-probe-%d", os.Getpid()))
	f, err := os.OpenFile(probe, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return false
	}
	f.Close()
	os.Remove(probe)
	return true
}
