package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"

	"judgeworker/internal/config"
	"judgeworker/internal/frontendclient"
	"judgeworker/internal/model"
	"judgeworker/internal/sandbox/profiles"
	"judgeworker/internal/sandbox/result"
	"judgeworker/internal/sandbox/spec"
	"judgeworker/internal/workspace"
)

// fakeEngine simulates the three stage images by writing the artifacts the
// real stages would leave on the OUT/STD blackboard.
type fakeEngine struct {
	stagesRun []string
}

func (e *fakeEngine) Run(ctx context.Context, runSpec spec.RunSpec) (result.RunResult, error) {
	e.stagesRun = append(e.stagesRun, runSpec.TestID)
	outDir := hostSource(runSpec, "/data/out")
	switch runSpec.TestID {
	case "compile":
		os.WriteFile(filepath.Join(outDir, "comp.json"), []byte(`{"return_code":0}`), 0644)
		os.WriteFile(filepath.Join(outDir, "comp.txt"), []byte("ok"), 0644)
	case "exec":
		telemetry := `{"return_code":0,"signal":null,"user_time":0.05,"total_memory":1048576}`
		os.WriteFile(filepath.Join(outDir, "a.exec.json"), []byte(telemetry), 0644)
		stdDir := hostSource(runSpec, "/data/std")
		os.WriteFile(filepath.Join(stdDir, "a.stdout.out"), []byte("hi\n"), 0644)
	case "judge":
		os.WriteFile(filepath.Join(outDir, "a.judge.json"), []byte(`{"grade":true,"info":"ok"}`), 0644)
	}
	return result.RunResult{ExitCode: 0}, nil
}

func (e *fakeEngine) KillSubmission(ctx context.Context, submissionID string) error { return nil }

func hostSource(runSpec spec.RunSpec, target string) string {
	for _, m := range runSpec.BindMounts {
		if m.Target == target {
			return m.Source
		}
	}
	return ""
}

func submissionZip(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	entry, err := w.Create("main.cpp")
	if err != nil {
		t.Fatal(err)
	}
	entry.Write([]byte("int main(){}"))
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

type frontEnd struct {
	t          *testing.T
	served     bool
	reported   model.SubmissionResult
	reportedID string
	statuses   []string
}

func (fe *frontEnd) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/qapi/qctrl.php", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("f") {
		case "get":
			if fe.served {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			fe.served = true
			w.Header().Set("X-Server-Id", "s1")
			w.Header().Set("X-Param", "p1;stu1")
			w.Write(submissionZip(fe.t))
		case "notify":
			r.ParseForm()
			fe.statuses = append(fe.statuses, r.PostFormValue("info"))
		}
	})
	mux.HandleFunc("/fsapi/fsctrl.php", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("f") {
		case "list":
			w.Write([]byte("a.in:3\na.out:3\nscript:20\n"))
		case "get":
			switch r.URL.Query().Get("name") {
			case "a.in":
				w.Write([]byte("hi\n"))
			case "a.out":
				w.Write([]byte("hi\n"))
			case "script":
				w.Write([]byte("a.time_limit 2\n"))
			default:
				w.WriteHeader(http.StatusNotFound)
			}
		}
	})
	mux.HandleFunc("/io-result.php", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			fe.t.Errorf("parse result upload: %v", err)
			return
		}
		fe.reportedID = r.FormValue("id")
		f, _, err := r.FormFile("result")
		if err != nil {
			fe.t.Errorf("missing result part: %v", err)
			return
		}
		defer f.Close()
		if err := json.NewDecoder(f).Decode(&fe.reported); err != nil {
			fe.t.Errorf("decode result: %v", err)
		}
		w.Write([]byte("saved"))
	})
	return mux
}

func newTestOrchestrator(t *testing.T, guiURL string, eng *fakeEngine) *Orchestrator {
	t.Helper()
	repo, err := profiles.NewRepository("sandbox-exec", "judge-runner", compileProfilesFile(t))
	if err != nil {
		t.Fatal(err)
	}
	cfg := config.Config{
		GUIURL:           guiURL,
		Queues:           []config.QueueMapping{{Queue: "q1", CompilerImage: "gcc-13"}},
		ExecImage:        "exec-env",
		JudgeImage:       "judge-env",
		DataLocalPath:    t.TempDir(),
		DataHostPath:     "",
		Hostname:         "w1",
		PollInterval:     10 * time.Millisecond,
		WallClockTimeout: 250 * time.Second,
		ConnectTimeout:   time.Second,
		ReadTimeout:      5 * time.Second,
	}
	cfg.DataHostPath = cfg.DataLocalPath
	client := frontendclient.New(guiURL, cfg.ConnectTimeout, cfg.ReadTimeout)
	return New(cfg, client, eng, repo)
}

func compileProfilesFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profiles.json")
	content := `{"profiles":[{"compiler_image":"gcc-13","task_type":"compile","cmd":"compile-entry {mainfile}"}]}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestProcessOnceRunsFullPipeline(t *testing.T) {
	fe := &frontEnd{t: t}
	srv := httptest.NewServer(fe.handler())
	defer srv.Close()

	eng := &fakeEngine{}
	o := newTestOrchestrator(t, srv.URL, eng)

	if wait := o.ProcessOnce(context.Background()); wait {
		t.Fatal("a completed submission must not request a wait")
	}

	want := []string{"compile", "exec", "judge"}
	if len(eng.stagesRun) != 3 {
		t.Fatalf("stages run: %v", eng.stagesRun)
	}
	for i := range want {
		if eng.stagesRun[i] != want[i] {
			t.Fatalf("stage order: got %v, want %v", eng.stagesRun, want)
		}
	}

	if fe.reportedID != "s1" {
		t.Fatalf("reported id %q", fe.reportedID)
	}
	if fe.reported.Points != 1 {
		t.Fatalf("expected 1 point, got %+v", fe.reported)
	}
	if len(fe.reported.TestResults) != 1 || fe.reported.TestResults[0].TestName != "a" {
		t.Fatalf("got %+v", fe.reported.TestResults)
	}
	if !fe.reported.TestResults[0].Grade || fe.reported.TestResults[0].Info != "ok" {
		t.Fatalf("got %+v", fe.reported.TestResults[0])
	}
}

func TestProcessOnceEmptyQueuesWaits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	o := newTestOrchestrator(t, srv.URL, &fakeEngine{})
	if wait := o.ProcessOnce(context.Background()); !wait {
		t.Fatal("empty queues must request a wait")
	}
}

func TestProcessOnceReportsBadArchive(t *testing.T) {
	fe := &frontEnd{t: t}
	mux := http.NewServeMux()
	mux.HandleFunc("/qapi/qctrl.php", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("f") != "get" {
			return
		}
		w.Header().Set("X-Server-Id", "s2")
		w.Header().Set("X-Param", "p1;stu1")
		w.Write([]byte("this is not a zip"))
	})
	mux.Handle("/io-result.php", fe.handler())
	srv := httptest.NewServer(mux)
	defer srv.Close()

	o := newTestOrchestrator(t, srv.URL, &fakeEngine{})
	if wait := o.ProcessOnce(context.Background()); !wait {
		t.Fatal("a failed submission must request a wait")
	}
	if fe.reportedID != "s2" {
		t.Fatal("a result document must be reported even for a bad archive")
	}
	if fe.reported.Points != 0 {
		t.Fatalf("expected 0 points, got %+v", fe.reported)
	}
}

func TestTestNamesForFallsBackToInputs(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"t1.in", "t2.in", "t1.out", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	names := testNamesFor(model.ProblemSpecification{}, workspace.Layout{Tests: dir})
	if len(names) != 2 {
		t.Fatalf("got %v", names)
	}
}
