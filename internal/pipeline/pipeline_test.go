package pipeline

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/sim-publish/buildserver/internal/deploy"
	"github.com/sim-publish/buildserver/internal/domain"
	"github.com/sim-publish/buildserver/internal/history"
	"github.com/sim-publish/buildserver/internal/notify"
	"github.com/sim-publish/buildserver/internal/queue"
	"github.com/sim-publish/buildserver/internal/vcs"
)

// fakeCheckout satisfies Checkout without touching git or the build
// command.
type fakeCheckout struct {
	root       string
	chipper    domain.ChipperVersion
	pkg        vcs.Package
	phetioPkg  *vcs.Package
	buildDir   string
	buildErr   error
	gotOpts    vcs.BuildOptions
	buildCalls int
	updated    bool
}

func (f *fakeCheckout) UpdateCheckout(map[string]domain.RepoRef) error {
	f.updated = true
	return nil
}

func (f *fakeCheckout) ChipperVersion() (domain.ChipperVersion, error) {
	return f.chipper, nil
}

func (f *fakeCheckout) SimPackage() (vcs.Package, error) { return f.pkg, nil }

func (f *fakeCheckout) PhetioPackage() (vcs.Package, bool, error) {
	if f.phetioPkg == nil {
		return vcs.Package{}, false, nil
	}
	return *f.phetioPkg, true, nil
}

func (f *fakeCheckout) Build(opts vcs.BuildOptions) (string, error) {
	f.buildCalls++
	f.gotOpts = opts
	if f.buildErr != nil {
		return "", f.buildErr
	}
	return f.buildDir, nil
}

func (f *fakeCheckout) Dir() string  { return filepath.Join(f.root, "chains") }
func (f *fakeCheckout) Root() string { return f.root }

// recordingRunner captures external-command invocations.
type recordingRunner struct {
	calls [][]string
}

func (r *recordingRunner) run(dir, name string, args ...string) error {
	r.calls = append(r.calls, append([]string{name}, args...))
	return nil
}

func (r *recordingRunner) named(name string) int {
	n := 0
	for _, c := range r.calls {
		if c[0] == name {
			n++
		}
	}
	return n
}

type testRig struct {
	runner *Runner
	store  *queue.Store
	hist   *history.DB
	co     *fakeCheckout
	rec    *recordingRunner
}

func newTestRig(t *testing.T, co *fakeCheckout) *testRig {
	t.Helper()
	dir := t.TempDir()

	store, err := queue.NewStore(filepath.Join(dir, "queue.json"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	hist, err := history.Open(dir)
	if err != nil {
		t.Fatalf("history.Open: %v", err)
	}
	t.Cleanup(func() { hist.Close() })

	rec := &recordingRunner{}
	dev := deploy.NewDevWriter("deploy", "dev.example.edu", "/htdocs/dev/html")
	dev.SetRunner(rec.run)

	simsRoot := filepath.Join(dir, "sims")
	phetioRoot := filepath.Join(dir, "phet-io")

	website := notify.NewWebsiteClient("http://127.0.0.1:0", "tok")
	htaccess := deploy.NewHtaccessWriter(filepath.Join(dir, "htpasswd"), website)
	htaccess.SetRunner(rec.run)

	r := &Runner{
		Store:       store,
		History:     hist,
		Website:     website,
		Dev:         dev,
		Prod:        deploy.NewProductionWriter(simsRoot, phetioRoot),
		Htaccess:    htaccess,
		Manifest:    deploy.NewManifestWriter(),
		NewCheckout: func(simName, branch string) Checkout { return co },
		SimsRoot:    simsRoot,
		PhetIORoot:  phetioRoot,
	}
	r.SetRunner(rec.run)

	return &testRig{runner: r, store: store, hist: hist, co: co, rec: rec}
}

func devTask() domain.Task {
	return domain.Task{
		ID:      "task-1",
		API:     domain.APIV2,
		SimName: "chains",
		Version: "1.2.0-rc.1",
		Locales: "*",
		Brands:  []domain.Brand{domain.BrandPhet},
		Servers: []domain.Server{domain.ServerDev},
		RepoShas: map[string]domain.RepoRef{
			"chains": {SHA: "0123456789abcdef0123456789abcdef01234567"},
		},
	}
}

func lastOutcome(t *testing.T, hist *history.DB) history.Record {
	t.Helper()
	recent, err := hist.Recent(1)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 1 {
		t.Fatalf("len(recent) = %d, want 1", len(recent))
	}
	return recent[0]
}

func TestRun_DevDeploySucceeds(t *testing.T) {
	co := &fakeCheckout{
		root:     t.TempDir(),
		chipper:  domain.ChipperVersion{Major: 2, Minor: 0},
		pkg:      vcs.Package{Name: "chains", Version: "1.2.0-rc.1"},
		buildDir: t.TempDir(),
	}
	rig := newTestRig(t, co)

	task, _ := rig.store.Append(devTask())
	rig.runner.Run(task)

	if !co.updated {
		t.Error("checkout should have been updated")
	}
	if rig.rec.named("rsync") != 1 {
		t.Errorf("calls = %v, want one rsync", rig.rec.calls)
	}

	rec := lastOutcome(t, rig.hist)
	if rec.Outcome != history.OutcomeSucceeded {
		t.Errorf("outcome = %s (%s), want succeeded", rec.Outcome, rec.Error)
	}

	doc := rig.store.Load()
	if doc.CurrentTask != nil || len(doc.Queue) != 0 {
		t.Errorf("queue document not cleaned up: %+v", doc)
	}

	if _, err := os.Stat(co.buildDir); !os.IsNotExist(err) {
		t.Error("build output should be removed after the deploy")
	}
}

func TestRun_TranslationRequestBuildsAllLocales(t *testing.T) {
	co := &fakeCheckout{
		root:     t.TempDir(),
		chipper:  domain.ChipperVersion{Major: 2, Minor: 0},
		pkg:      vcs.Package{Name: "chains", Version: "1.2.0-rc.1"},
		buildDir: t.TempDir(),
	}
	rig := newTestRig(t, co)

	task := devTask()
	task.Locales = "es"
	task.UserID = "4321"
	task, _ = rig.store.Append(task)

	rig.runner.Run(task)

	if co.gotOpts.Locales != "*" {
		t.Errorf("build locales = %q, a translation request must build every locale", co.gotOpts.Locales)
	}
}

func TestRun_BuildFailureAborts(t *testing.T) {
	co := &fakeCheckout{
		root:     t.TempDir(),
		chipper:  domain.ChipperVersion{Major: 2, Minor: 0},
		pkg:      vcs.Package{Name: "chains", Version: "1.2.0-rc.1"},
		buildErr: errors.New("grunt exited with status 1"),
	}
	rig := newTestRig(t, co)

	task, _ := rig.store.Append(devTask())
	rig.runner.Run(task)

	if rig.rec.named("rsync") != 0 || rig.rec.named("ssh") != 0 {
		t.Errorf("no deploy transfer expected after a failed build: %v", rig.rec.calls)
	}

	rec := lastOutcome(t, rig.hist)
	if rec.Outcome != history.OutcomeAborted {
		t.Errorf("outcome = %s, want aborted", rec.Outcome)
	}

	if doc := rig.store.Load(); doc.CurrentTask != nil {
		t.Error("current task should be cleared after an abort")
	}
}

func TestRun_UnsupportedChipperAborts(t *testing.T) {
	co := &fakeCheckout{
		root:    t.TempDir(),
		chipper: domain.ChipperVersion{Major: 1, Minor: 0},
	}
	rig := newTestRig(t, co)

	task, _ := rig.store.Append(devTask())
	rig.runner.Run(task)

	if co.buildCalls != 0 {
		t.Error("an unsupported toolchain generation must abort before building")
	}
	rec := lastOutcome(t, rig.hist)
	if rec.Outcome != history.OutcomeAborted {
		t.Errorf("outcome = %s, want aborted", rec.Outcome)
	}
}

func TestRun_VersionMismatchAborts(t *testing.T) {
	co := &fakeCheckout{
		root:    t.TempDir(),
		chipper: domain.ChipperVersion{Major: 2, Minor: 0},
		pkg:     vcs.Package{Name: "chains", Version: "1.3.0"},
	}
	rig := newTestRig(t, co)

	task, _ := rig.store.Append(devTask())
	rig.runner.Run(task)

	if co.buildCalls != 0 {
		t.Error("a package/task version mismatch must abort before building")
	}
}

func TestRun_PhetioUpsertFailureAborts(t *testing.T) {
	co := &fakeCheckout{
		root:     t.TempDir(),
		chipper:  domain.ChipperVersion{Major: 2, Minor: 0},
		pkg:      vcs.Package{Name: "chains", Version: "1.2.0"},
		buildDir: t.TempDir(),
	}

	// The build output the production writer copies from.
	brandDir := filepath.Join(co.buildDir, "phet-io")
	if err := os.MkdirAll(brandDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(brandDir, "chains_all_phet-io.html"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "version already recorded"})
	}))
	defer srv.Close()

	rig := newTestRig(t, co)
	rig.runner.Website = notify.NewWebsiteClient(srv.URL, "tok")

	task := devTask()
	task.Version = "1.2.0"
	task.Brands = []domain.Brand{domain.BrandPhetIO}
	task.Servers = []domain.Server{domain.ServerProduction}
	task, _ = rig.store.Append(task)

	rig.runner.Run(task)

	rec := lastOutcome(t, rig.hist)
	if rec.Outcome != history.OutcomeAborted {
		t.Errorf("outcome = %s, a failed metadata upsert must abort", rec.Outcome)
	}
}

func TestValidate_V1VersionTruncation(t *testing.T) {
	r := &Runner{SimsRoot: t.TempDir()}

	tests := []struct {
		version string
		servers []domain.Server
		want    string
	}{
		{"1.2.0-rc.2", []domain.Server{domain.ServerDev}, "1.2.0-rc.2"},
		{"1.2.0-batch.1", []domain.Server{domain.ServerDev}, "1.2.0"},
		{"1.2.0-rc.2", []domain.Server{domain.ServerProduction}, "1.2.0"},
		{"1.2.0", []domain.Server{domain.ServerProduction}, "1.2.0"},
	}

	for _, tt := range tests {
		task := devTask()
		task.API = domain.APIV1
		task.Version = tt.version
		task.Servers = tt.servers
		if err := r.validate(&task); err != nil {
			t.Fatalf("validate(%q): %v", tt.version, err)
		}
		if task.Version != tt.want {
			t.Errorf("validate(%q, %v) version = %q, want %q", tt.version, tt.servers, task.Version, tt.want)
		}
	}
}

func TestValidate_V1EmptyLocalesResolved(t *testing.T) {
	r := &Runner{SimsRoot: t.TempDir()}

	task := devTask()
	task.API = domain.APIV1
	task.Locales = ""
	if err := r.validate(&task); err != nil {
		t.Fatalf("validate: %v", err)
	}
	// No published versions yet: English only.
	if task.Locales != "en" {
		t.Errorf("locales = %q, want %q", task.Locales, "en")
	}
}
