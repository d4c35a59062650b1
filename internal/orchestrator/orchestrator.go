// Package orchestrator drives one submission at a time through the full
// pipeline: poll the configured queues, stage the workspace, run the
// compile / exec / judge sandbox stages, aggregate the blackboard into a
// result, and report it back to the front end. One failed submission
// never aborts the worker: every phase is isolated and every failure
// degrades to a reportable partial result.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"judgeworker/internal/aggregator"
	"judgeworker/internal/archive"
	"judgeworker/internal/config"
	"judgeworker/internal/frontendclient"
	"judgeworker/internal/logging"
	"judgeworker/internal/model"
	"judgeworker/internal/sandbox/engine"
	"judgeworker/internal/sandbox/profile"
	"judgeworker/internal/sandbox/profiles"
	"judgeworker/internal/sandbox/spec"
	"judgeworker/internal/scriptparser"
	"judgeworker/internal/workspace"
	"judgeworker/pkg/utils/contextkey"
	"judgeworker/pkg/utils/logger"
)

// guestData is the root of the typed filesystem layout every stage sees.
const guestData = "/data"

// scriptFileName is the problem file holding the per-problem script.
const scriptFileName = "script"

// Orchestrator owns the worker's control loop and the per-submission
// workspace for the lifetime of each submission.
type Orchestrator struct {
	cfg    config.Config
	client *frontendclient.Client
	eng    engine.Engine
	repo   *profiles.Repository
}

// New wires the orchestrator.
func New(cfg config.Config, client *frontendclient.Client, eng engine.Engine, repo *profiles.Repository) *Orchestrator {
	return &Orchestrator{cfg: cfg, client: client, eng: eng, repo: repo}
}

// Run loops until ctx is cancelled. After an iteration that found no work
// (or failed), it sleeps the polling interval; after a completed
// submission it re-enters immediately so back-to-back submissions drain
// without delay.
func (o *Orchestrator) Run(ctx context.Context) {
	workspace.SetWorkerUmask()
	for {
		wait := o.ProcessOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if !wait {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(o.cfg.PollInterval):
		}
	}
}

// Root is the per-worker workspace root, suffixed with the worker's
// identity so multiple workers can share a data volume.
func (o *Orchestrator) Root() string {
	return filepath.Join(o.cfg.DataLocalPath, "worker_"+o.cfg.Hostname)
}

// hostPath maps a worker-visible workspace path to the host-visible path
// used as a bind-mount source, for the case where the worker itself runs
// inside a container and sees the data volume at a different mount point
// than the host does.
func (o *Orchestrator) hostPath(p string) string {
	if o.cfg.DataHostPath == o.cfg.DataLocalPath {
		return p
	}
	rel, err := filepath.Rel(o.cfg.DataLocalPath, p)
	if err != nil {
		return p
	}
	return filepath.Join(o.cfg.DataHostPath, rel)
}

// ProcessOnce runs at most one submission to completion and reports
// whether the caller should sleep before the next iteration. Any panic in
// a phase is caught here; nothing propagates past the loop.
func (o *Orchestrator) ProcessOnce(ctx context.Context) (shouldWait bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "submission processing panicked", zap.Any("panic", r))
			shouldWait = true
		}
	}()

	l, err := workspace.Init(o.Root())
	if err != nil {
		logger.Error(ctx, "workspace init failed", zap.Error(err))
		return true
	}
	slog, err := logging.Open(filepath.Join(l.Logs, "worker.log"), o.cfg.DebugMode)
	if err != nil {
		logger.Error(ctx, "submission log open failed", zap.Error(err))
		return true
	}

	archivePath := filepath.Join(l.Root, "submission.zip")
	header, mapping := o.fetch(ctx, slog, archivePath)
	if header == nil {
		slog.Close()
		return true
	}
	ctx = context.WithValue(ctx, contextkey.SubmissionID, header.SubmissionID)
	logger.Info(ctx, "processing submission",
		zap.String("problem_id", header.ProblemID),
		zap.String("queue", mapping.Queue),
		zap.String("compiler_image", mapping.CompilerImage))
	slog.Info("submission %s for problem %s from queue %s (student %s)",
		header.SubmissionID, header.ProblemID, mapping.Queue, header.StudentID)
	o.notify(ctx, header.SubmissionID, "received")

	sub := model.Submission{
		ID:            header.SubmissionID,
		CompilerImage: mapping.CompilerImage,
		SubmitterID:   header.StudentID,
	}

	if err := archive.Extract(archivePath, l.Src); err != nil {
		slog.Error("submission archive could not be staged: %v", err)
		o.reportFailure(ctx, slog, sub.ID, l, "submission archive could not be read")
		return true
	}
	mainfile, err := archive.FirstEntryName(archivePath)
	if err != nil {
		slog.Error("submission archive is empty: %v", err)
		o.reportFailure(ctx, slog, sub.ID, l, "submission archive is empty")
		return true
	}
	sub.Mainfile = mainfile
	slog.Info("staged sources, mainfile %s", mainfile)

	problemSpec := o.stageProblem(ctx, slog, header.ProblemID, l)
	sub.ProblemSpecification = problemSpec
	if err := workspace.PersistSpec(problemSpec, l); err != nil {
		slog.Error("persist problem specification: %v", err)
	}

	o.notify(ctx, sub.ID, "compiling")
	if err := o.runCompileStage(ctx, sub, l); err != nil {
		slog.Error("compile stage: %v", err)
	}
	o.notify(ctx, sub.ID, "running")
	if err := o.runExecStage(ctx, sub, l); err != nil {
		slog.Error("exec stage: %v", err)
	}
	o.notify(ctx, sub.ID, "judging")
	if err := o.runJudgeStage(ctx, sub, l); err != nil {
		slog.Error("judge stage: %v", err)
	}

	testNames := testNamesFor(problemSpec, l)
	slog.Info("aggregating %d tests", len(testNames))
	slog.Close()

	result := aggregator.Aggregate(testNames, l, o.cfg.DebugMode)
	o.report(ctx, sub.ID, result)

	if o.cfg.DebugMode {
		if err := workspace.Archive(l.Root); err != nil {
			logger.Warn(ctx, "debug archive failed", zap.Error(err))
		}
	}
	return false
}

// fetch polls the configured queues in declaration order and returns the
// first submission found. A queue error or empty queue moves on to the
// next; all queues exhausted returns nil.
func (o *Orchestrator) fetch(ctx context.Context, slog *logging.SubmissionLogger, destination string) (*frontendclient.SubmissionHeader, config.QueueMapping) {
	for _, qm := range o.cfg.Queues {
		header, err := o.client.GetSubmission(ctx, qm.Queue, destination)
		if err != nil {
			logger.Warn(ctx, "queue poll failed", zap.String("queue", qm.Queue), zap.Error(err))
			slog.Warn("queue %s poll failed: %v", qm.Queue, err)
			continue
		}
		if header == nil {
			continue
		}
		return header, qm
	}
	return nil, config.QueueMapping{}
}

// stageProblem downloads the problem's files into tests/ and parses the
// per-problem script into a specification. A missing or unparsable script
// degrades to a specification with one default-limit test per input file,
// with a debug note so the masked failure stays visible.
func (o *Orchestrator) stageProblem(ctx context.Context, slog *logging.SubmissionLogger, problemID string, l workspace.Layout) model.ProblemSpecification {
	names, err := o.client.ListProblemFiles(ctx, problemID)
	if err != nil {
		slog.Error("list problem files for %s: %v", problemID, err)
	}
	for _, name := range names {
		dest := filepath.Join(l.Tests, name)
		if !workspace.ValidateFileDest(dest) {
			slog.Warn("skipping problem file with unusable name %q", name)
			continue
		}
		if err := o.client.GetFile(ctx, name, problemID, dest); err != nil {
			slog.Warn("fetch problem file %s: %v", name, err)
		}
	}

	problemSpec := model.ProblemSpecification{ID: problemID}
	if data, err := os.ReadFile(filepath.Join(l.Tests, scriptFileName)); err == nil {
		problemSpec = scriptparser.Parse(problemID, string(data))
	}
	if len(problemSpec.Tests) == 0 {
		slog.Debug("problem %s has no usable script; defaulting limits for every input file", problemID)
		for _, name := range inputTestNames(l.Tests) {
			problemSpec.Tests = append(problemSpec.Tests, model.TestSpecification{TestName: name}.Normalize())
		}
	}
	return problemSpec
}

func (o *Orchestrator) runCompileStage(ctx context.Context, sub model.Submission, l workspace.Layout) error {
	mounts := []spec.MountSpec{
		{Source: o.hostPath(l.Src), Target: guestData + "/src", ReadOnly: true},
		{Source: o.hostPath(l.Lib), Target: guestData + "/lib", ReadOnly: true},
		{Source: o.hostPath(l.Bin), Target: guestData + "/bin"},
		{Source: o.hostPath(l.Out), Target: guestData + "/out"},
	}
	env := []string{"MAINFILE=" + sub.Mainfile}
	return o.runStage(ctx, sub, sub.CompilerImage, profile.TaskTypeCompile, mounts, env)
}

func (o *Orchestrator) runExecStage(ctx context.Context, sub model.Submission, l workspace.Layout) error {
	mounts := []spec.MountSpec{
		{Source: o.hostPath(l.Tests), Target: guestData + "/in", ReadOnly: true},
		{Source: o.hostPath(l.Bin), Target: guestData + "/bin", ReadOnly: true},
		{Source: o.hostPath(l.Conf), Target: guestData + "/conf", ReadOnly: true},
		{Source: o.hostPath(l.Std), Target: guestData + "/std"},
		{Source: o.hostPath(l.Out), Target: guestData + "/out"},
	}
	env := []string{
		"BIN=" + guestData + "/bin",
		"IN=" + guestData + "/in",
		"STD=" + guestData + "/std",
		"OUT=" + guestData + "/out",
		"CONF=" + guestData + "/conf",
	}
	return o.runStage(ctx, sub, o.cfg.ExecImage, profile.TaskTypeExec, mounts, env)
}

func (o *Orchestrator) runJudgeStage(ctx context.Context, sub model.Submission, l workspace.Layout) error {
	mounts := []spec.MountSpec{
		{Source: o.hostPath(l.Std), Target: guestData + "/in", ReadOnly: true},
		{Source: o.hostPath(l.Tests), Target: guestData + "/ans", ReadOnly: true},
		{Source: o.hostPath(l.Conf), Target: guestData + "/conf", ReadOnly: true},
		{Source: o.hostPath(l.Out), Target: guestData + "/out"},
	}
	env := []string{
		"IN=" + guestData + "/in",
		"ANS=" + guestData + "/ans",
		"OUT=" + guestData + "/out",
		"CONF=" + guestData + "/conf",
	}
	return o.runStage(ctx, sub, o.cfg.JudgeImage, profile.TaskTypeJudge, mounts, env)
}

// runStage resolves the stage's profile and runs it to completion under
// the worker-wide stage limits. A stage failure is returned, never
// propagated further than the caller's log line: downstream readers see
// missing artifacts and synthesize sentinels.
func (o *Orchestrator) runStage(ctx context.Context, sub model.Submission, image string, taskType profile.TaskType, mounts []spec.MountSpec, env []string) error {
	p, err := o.repo.Resolve(image, taskType)
	if err != nil {
		return err
	}
	cmd, err := profiles.BuildCommand(p, sub.Mainfile)
	if err != nil {
		return err
	}

	limits := spec.ResourceLimit{
		WallTimeMs: o.cfg.WallClockTimeout.Milliseconds(),
		MemoryMB:   o.cfg.StageMemoryLimitMB,
		OutputMB:   o.cfg.FileSizeLimitMB,
		PIDs:       o.cfg.ProcLimit,
	}
	if p.DefaultLimits.MemoryMB > 0 {
		limits.MemoryMB = p.DefaultLimits.MemoryMB
	}
	if p.DefaultLimits.WallTimeMs > 0 {
		limits.WallTimeMs = p.DefaultLimits.WallTimeMs
	}

	runSpec := spec.RunSpec{
		SubmissionID: sub.ID,
		TestID:       string(taskType),
		WorkDir:      guestData,
		Cmd:          cmd,
		Env:          append(env, p.Env...),
		BindMounts:   mounts,
		Profile:      profiles.Name(image, taskType),
		Limits:       limits,
	}
	res, err := o.eng.Run(ctx, runSpec)
	if err != nil {
		return err
	}
	if res.TimedOut {
		return fmt.Errorf("%s stage timed out after %dms", taskType, res.WallTimeMs)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("%s stage exited with %d: %s", taskType, res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return nil
}

// report sends the aggregated result. Reporting is attempted for every
// fetched submission, including total failures.
func (o *Orchestrator) report(ctx context.Context, submissionID string, result model.SubmissionResult) {
	doc, err := json.Marshal(result)
	if err != nil {
		logger.Error(ctx, "marshal result", zap.Error(err))
		doc = []byte(`{"points":0,"test_results":[]}`)
	}
	info := fmt.Sprintf("points: %d", result.Points)
	if result.CompilationInfo != "" {
		info += "\n" + result.CompilationInfo
	}
	msg, err := o.client.PostResult(ctx, submissionID, string(doc), info, result.Debug)
	if err != nil {
		logger.Error(ctx, "post result failed", zap.Error(err))
		return
	}
	logger.Info(ctx, "result reported", zap.Int("points", result.Points), zap.String("server_message", strings.TrimSpace(msg)))
}

// reportFailure closes the submission log and reports a zero-point result
// whose info names what went wrong, so the front end always receives a
// result document for a fetched submission.
func (o *Orchestrator) reportFailure(ctx context.Context, slog *logging.SubmissionLogger, submissionID string, l workspace.Layout, reason string) {
	slog.Error("aborting submission: %s", reason)
	slog.Close()
	result := model.SubmissionResult{Points: 0, CompilationInfo: reason}
	if o.cfg.DebugMode {
		result.Debug, _ = logging.ReadCapped(filepath.Join(l.Logs, "worker.log"), 20*1024)
	}
	o.report(ctx, submissionID, result)
}

func (o *Orchestrator) notify(ctx context.Context, submissionID, status string) {
	if err := o.client.Notify(ctx, submissionID, status); err != nil {
		logger.Debug(ctx, "status notify failed", zap.String("status", status), zap.Error(err))
	}
}

// testNamesFor returns the authoritative test-name list for aggregation:
// the specification's names, or the *.in enumeration the executor would
// have fallen back to.
func testNamesFor(problemSpec model.ProblemSpecification, l workspace.Layout) []string {
	if len(problemSpec.Tests) > 0 {
		names := make([]string, 0, len(problemSpec.Tests))
		for _, t := range problemSpec.Tests {
			names = append(names, t.TestName)
		}
		return names
	}
	return inputTestNames(l.Tests)
}

func inputTestNames(testsDir string) []string {
	entries, err := os.ReadDir(testsDir)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".in") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".in"))
	}
	return names
}
