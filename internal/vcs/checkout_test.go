package vcs

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sim-publish/buildserver/internal/domain"
)

const testSHA = "0123456789abcdef0123456789abcdef01234567"

type recordedCall struct {
	dir  string
	name string
	args []string
}

func recordCalls(calls *[]recordedCall) CommandRunner {
	return func(dir, name string, args ...string) error {
		*calls = append(*calls, recordedCall{dir: dir, name: name, args: args})
		return nil
	}
}

func (c recordedCall) String() string {
	return c.name + " " + strings.Join(c.args, " ")
}

func TestUpdateCheckout(t *testing.T) {
	root := t.TempDir()
	// chipper already cloned; chains is not.
	if err := os.Mkdir(filepath.Join(root, "chipper"), 0755); err != nil {
		t.Fatal(err)
	}

	var calls []recordedCall
	co := NewCheckout(root, "chains", "1.2", "grunt")
	co.SetRunner(recordCalls(&calls))

	repoShas := map[string]domain.RepoRef{
		"chains":  {SHA: testSHA},
		"chipper": {SHA: testSHA},
		"babel":   {Comment: "not pinned"},
	}
	if err := co.UpdateCheckout(repoShas); err != nil {
		t.Fatalf("UpdateCheckout: %v", err)
	}

	var clones, fetches, checkouts, pulls []recordedCall
	for _, c := range calls {
		if c.name != "git" {
			continue
		}
		switch c.args[0] {
		case "clone":
			clones = append(clones, c)
		case "fetch":
			fetches = append(fetches, c)
		case "checkout":
			checkouts = append(checkouts, c)
		case "pull":
			pulls = append(pulls, c)
		}
	}

	if len(clones) != 1 || !strings.Contains(clones[0].String(), "phetsims/chains.git") {
		t.Errorf("clones = %v, want one clone of chains", clones)
	}
	if len(fetches) != 2 {
		t.Errorf("fetches = %v, want one per pinned repo", fetches)
	}

	// The sim repo follows the release branch; others pin the sha.
	var simCheckout, chipperCheckout string
	for _, c := range checkouts {
		if strings.HasSuffix(c.dir, "chains") {
			simCheckout = c.args[1]
		}
		if strings.HasSuffix(c.dir, "chipper") {
			chipperCheckout = c.args[1]
		}
	}
	if simCheckout != "1.2" {
		t.Errorf("sim checkout target = %q, want release branch", simCheckout)
	}
	if chipperCheckout != testSHA {
		t.Errorf("chipper checkout target = %q, want pinned sha", chipperCheckout)
	}
	if len(pulls) != 1 || !strings.HasSuffix(pulls[0].dir, "chains") {
		t.Errorf("pulls = %v, want one pull in the sim repo", pulls)
	}

	// Comment-only entries never touch git.
	for _, c := range calls {
		if strings.Contains(c.String(), "babel") || strings.HasSuffix(c.dir, "babel") {
			t.Errorf("comment entry should not be checked out: %v", c)
		}
	}

	// Dependency refresh runs in the sim working copy.
	last := calls[len(calls)-2:]
	if last[0].name != "npm" || last[0].args[0] != "prune" ||
		last[1].name != "npm" || last[1].args[0] != "update" {
		t.Errorf("final calls = %v, want npm prune then npm update", last)
	}
}

func TestBuildArgs(t *testing.T) {
	var calls []recordedCall
	co := NewCheckout(t.TempDir(), "chains", "1.2", "grunt")
	co.SetRunner(recordCalls(&calls))

	buildDir, err := co.Build(BuildOptions{
		Locales:        "*",
		Brands:         []domain.Brand{domain.BrandPhet, domain.BrandPhetIO},
		BuildForServer: true,
		AllHTML:        true,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if buildDir != co.BuildDir() {
		t.Errorf("buildDir = %q, want %q", buildDir, co.BuildDir())
	}

	if len(calls) != 1 || calls[0].name != "grunt" {
		t.Fatalf("calls = %v, want one grunt invocation", calls)
	}
	got := calls[0].String()
	for _, want := range []string{
		"--lint=false",
		"--clean=false",
		"--locales=*",
		"--brands=phet,phet-io",
		"--buildServer=true",
		"--allHTML",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("build args missing %q: %s", want, got)
		}
	}
}

func TestChipperVersion(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "chipper"), 0755); err != nil {
		t.Fatal(err)
	}
	pkg := `{"name": "chipper", "version": "2.0.0"}`
	if err := os.WriteFile(filepath.Join(root, "chipper", "package.json"), []byte(pkg), 0644); err != nil {
		t.Fatal(err)
	}

	co := NewCheckout(root, "chains", "1.2", "grunt")
	got, err := co.ChipperVersion()
	if err != nil {
		t.Fatalf("ChipperVersion: %v", err)
	}
	if got.Major != 2 || got.Minor != 0 {
		t.Errorf("ChipperVersion = %v, want 2.0", got)
	}
}

func TestSimPackage(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "chains"), 0755); err != nil {
		t.Fatal(err)
	}
	pkg := `{
		"name": "chains",
		"version": "1.2.0",
		"phet": {"allowPublicAccess": true, "ignoreForAutomatedMaintenanceReleases": true}
	}`
	if err := os.WriteFile(filepath.Join(root, "chains", "package.json"), []byte(pkg), 0644); err != nil {
		t.Fatal(err)
	}

	co := NewCheckout(root, "chains", "1.2", "grunt")
	got, err := co.SimPackage()
	if err != nil {
		t.Fatalf("SimPackage: %v", err)
	}
	if got.Version != "1.2.0" || !got.Phet.AllowPublicAccess || !got.Phet.IgnoreForAutomatedMaintenanceReleases {
		t.Errorf("SimPackage = %+v", got)
	}
}

func TestPhetioPackage_MissingIsNotAnError(t *testing.T) {
	co := NewCheckout(t.TempDir(), "chains", "1.2", "grunt")
	_, ok, err := co.PhetioPackage()
	if err != nil {
		t.Fatalf("PhetioPackage: %v", err)
	}
	if ok {
		t.Error("missing phet-io repo should report ok=false")
	}
}
