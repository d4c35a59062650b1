// Package model holds the plain data types shared across the worker pipeline.
package model

// Submission is one student code upload together with its associated problem.
type Submission struct {
	ID                  string
	CompilerImage       string
	Mainfile            string
	SubmitterID         string
	ProblemSpecification ProblemSpecification
}

// TestSpecification describes one test's resource limits.
type TestSpecification struct {
	TestName              string
	TimeLimitSeconds      float64
	TotalMemoryLimitBytes int64
	StackLimitBytes       int64
}

// DefaultTimeLimitSeconds and friends hold the limits applied when a
// TestSpecification omits the corresponding field.
const (
	DefaultTimeLimitSeconds      = 2.0
	DefaultTotalMemoryLimitBytes = 256 * 1024 * 1024
	DefaultStackLimitBytes       = 256 * 1024 * 1024
)

// Normalize fills in the defaults for any zero-valued fields.
func (t TestSpecification) Normalize() TestSpecification {
	if t.TimeLimitSeconds <= 0 {
		t.TimeLimitSeconds = DefaultTimeLimitSeconds
	}
	if t.TotalMemoryLimitBytes <= 0 {
		t.TotalMemoryLimitBytes = DefaultTotalMemoryLimitBytes
	}
	if t.StackLimitBytes <= 0 {
		t.StackLimitBytes = DefaultStackLimitBytes
	}
	return t
}

// ProblemSpecification is the ordered list of tests for one problem.
type ProblemSpecification struct {
	ID    string
	Tests []TestSpecification
}

// ExecTelemetry is the raw per-test accounting record produced by the
// in-sandbox executor. Field tags match the exec.json wire schema
// exactly, so the type serializes directly without a separate wire-format
// shadow.
type ExecTelemetry struct {
	ReturnCode     int      `json:"return_code"`
	Signal         *int     `json:"signal"`
	UserTimeSec    *float64 `json:"user_time"`
	TotalMemoryByt *float64 `json:"total_memory"`
}

// SentinelExecTelemetry is written by the executor whenever a test could not
// be attempted at all (missing binary/input, or the child failed to start).
func SentinelExecTelemetry() ExecTelemetry {
	return ExecTelemetry{ReturnCode: 1}
}

// JudgeVerdict is the per-test pass/fail classification. Field tags match
// the judge.json wire schema.
type JudgeVerdict struct {
	Grade bool   `json:"grade"`
	Info  string `json:"info"`
}

// TestResult aggregates a TestSpecification with its telemetry and verdict.
type TestResult struct {
	TestName   string   `json:"test_name"`
	Grade      bool     `json:"grade"`
	ReturnCode int      `json:"ret_code"`
	TimeSec    *float64 `json:"time"`
	MemoryByt  *float64 `json:"memory"`
	Info       string   `json:"info"`
}

// SubmissionResult is the final payload reported to the front end. Debug
// is excluded from the result document: it travels as its own part of the
// multipart upload.
type SubmissionResult struct {
	Points          int          `json:"points"`
	TestResults     []TestResult `json:"test_results"`
	CompilationInfo string       `json:"compilation_info,omitempty"`
	Debug           string       `json:"-"`
}

// ProblemSpecDoc mirrors the problem_specification.json wire schema,
// shared by the writer (the workspace manager's PersistSpec) and every
// reader of CONF/problem_specification.json (the in-sandbox executor, the
// judge stage).
type ProblemSpecDoc struct {
	ID    string        `json:"id"`
	Tests []TestSpecDoc `json:"tests"`
}

// TestSpecDoc is one entry of ProblemSpecDoc.
type TestSpecDoc struct {
	TestName         string `json:"test_name"`
	TimeLimit        float64 `json:"time_limit"`
	TotalMemoryLimit int64  `json:"total_memory_limit"`
	StackSizeLimit   *int64 `json:"stack_size_limit,omitempty"`
}

// ToProblemSpecification converts the wire doc back into the in-memory
// ProblemSpecification, applying defaults to any zero-valued field.
func (d ProblemSpecDoc) ToProblemSpecification() ProblemSpecification {
	spec := ProblemSpecification{ID: d.ID}
	for _, t := range d.Tests {
		ts := TestSpecification{TestName: t.TestName, TimeLimitSeconds: t.TimeLimit, TotalMemoryLimitBytes: t.TotalMemoryLimit}
		if t.StackSizeLimit != nil {
			ts.StackLimitBytes = *t.StackSizeLimit
		}
		spec.Tests = append(spec.Tests, ts.Normalize())
	}
	return spec
}

// FromProblemSpecification builds the wire doc from the in-memory form.
func FromProblemSpecification(spec ProblemSpecification) ProblemSpecDoc {
	doc := ProblemSpecDoc{ID: spec.ID}
	for _, t := range spec.Tests {
		td := TestSpecDoc{TestName: t.TestName, TimeLimit: t.TimeLimitSeconds, TotalMemoryLimit: t.TotalMemoryLimitBytes}
		if t.StackLimitBytes > 0 {
			v := t.StackLimitBytes
			td.StackSizeLimit = &v
		}
		doc.Tests = append(doc.Tests, td)
	}
	return doc
}
