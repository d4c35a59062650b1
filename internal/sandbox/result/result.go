// Package result defines the raw data the sandbox stage runner produces
// for one stage invocation.
package result

// RunResult captures raw sandbox execution data for one stage run. It
// carries no verdict: classification is entirely the judge's job,
// performed by reading the telemetry and verdict JSONs the stage wrote to
// OUT, not from this struct directly.
type RunResult struct {
	ExitCode   int
	TimedOut   bool
	WallTimeMs int64
	Stderr     string
}
