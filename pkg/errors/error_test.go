package errors

import (
	stderrors "errors"
	"testing"
)

func TestWrapPreservesCause(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := Wrap(cause, TransientHTTPTimeout)
	if !stderrors.Is(err, cause) {
		t.Fatal("expected wrapped cause to be reachable via errors.Is")
	}
	if GetCode(err) != TransientHTTPTimeout {
		t.Fatalf("got code %d", GetCode(err))
	}
}

func TestWrapNilIsNil(t *testing.T) {
	if Wrap(nil, InternalError) != nil {
		t.Fatal("wrapping nil must stay nil")
	}
}

func TestClassRanges(t *testing.T) {
	cases := map[ErrorCode]string{
		TransientHTTPTimeout:    "transient-external",
		BadSubmissionArchive:    "bad-submission",
		BadProblemScriptInvalid: "bad-problem",
		StageFailureTimeout:     "stage-failure",
		FatalWorkspaceInit:      "fatal-worker",
		InternalError:           "generic",
	}
	for code, want := range cases {
		if got := code.Class(); got != want {
			t.Fatalf("code %d: got class %q, want %q", code, got, want)
		}
	}
}

func TestIsTransient(t *testing.T) {
	if !IsTransient(New(TransientQueueEmpty)) {
		t.Fatal("expected transient")
	}
	if IsTransient(New(FatalWorkspaceInit)) {
		t.Fatal("fatal-worker is not transient")
	}
	if IsTransient(stderrors.New("plain")) {
		t.Fatal("plain errors are not transient")
	}
}

func TestNewfFormatsMessage(t *testing.T) {
	err := Newf(StageFailureExit, "stage exited with %d", 3)
	if err.Error() != "stage exited with 3" {
		t.Fatalf("got %q", err.Error())
	}
}
