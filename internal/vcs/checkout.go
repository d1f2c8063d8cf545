// Package vcs maintains release-branch working copies of simulation source
// trees and drives the external build command against them. Version
// control and the build toolchain are opaque external collaborators; this
// package only knows their argument contracts.
package vcs

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/sim-publish/buildserver/internal/domain"
)

// CommandRunner runs an external command in a working directory. Replaced
// in tests.
type CommandRunner func(dir, name string, args ...string) error

// Checkout is a local working copy of a simulation's source tree pinned to
// a release branch, refreshed before each build.
type Checkout struct {
	root     string // parent directory of all repo clones
	simName  string
	branch   string
	buildCmd string
	run      CommandRunner
}

// NewCheckout creates a checkout handle for simName on branch under root.
// Nothing touches the filesystem until UpdateCheckout.
func NewCheckout(root, simName, branch, buildCmd string) *Checkout {
	return &Checkout{
		root:     root,
		simName:  simName,
		branch:   branch,
		buildCmd: buildCmd,
		run:      Run,
	}
}

// SetRunner substitutes the external-command runner. Tests use this to
// record invocations instead of spawning processes.
func (c *Checkout) SetRunner(run CommandRunner) { c.run = run }

// Root returns the parent directory holding every repo clone, including
// the translation string store.
func (c *Checkout) Root() string {
	return c.root
}

// Dir returns the working copy directory for the simulation repo itself.
func (c *Checkout) Dir() string {
	return filepath.Join(c.root, c.simName)
}

// BuildDir returns where the build command leaves its output tree.
func (c *Checkout) BuildDir() string {
	return filepath.Join(c.Dir(), "build")
}

// UpdateCheckout brings every repo in the sha map (plus the build
// toolchain) to the task's pinned state: clone if absent, fetch, then
// check out the pinned sha, or the release branch and pull for comment
// entries. Dependencies are refreshed afterward.
func (c *Checkout) UpdateCheckout(repoShas map[string]domain.RepoRef) error {
	if err := os.MkdirAll(c.root, 0755); err != nil {
		return fmt.Errorf("create checkout root: %w", err)
	}

	for repo, ref := range repoShas {
		if ref.Comment != "" && ref.SHA == "" {
			continue // free-text entry, nothing to check out
		}
		repoDir := filepath.Join(c.root, repo)
		if _, err := os.Stat(repoDir); os.IsNotExist(err) {
			if err := c.run(c.root, "git", "clone", "https://github.com/phetsims/"+repo+".git"); err != nil {
				return fmt.Errorf("clone %s: %w", repo, err)
			}
		}
		if err := c.run(repoDir, "git", "fetch"); err != nil {
			return fmt.Errorf("fetch %s: %w", repo, err)
		}

		target := ref.SHA
		if repo == c.simName {
			// The sim repo itself follows the release branch, not a
			// detached sha, so the pulled branch state is what builds.
			target = c.branch
		}
		if err := c.run(repoDir, "git", "checkout", target); err != nil {
			return fmt.Errorf("checkout %s@%s: %w", repo, target, err)
		}
		if repo == c.simName {
			if err := c.run(repoDir, "git", "pull"); err != nil {
				return fmt.Errorf("pull %s: %w", repo, err)
			}
		}
	}

	// Dependency refresh in the sim working copy.
	if err := c.run(c.Dir(), "npm", "prune"); err != nil {
		return fmt.Errorf("npm prune: %w", err)
	}
	if err := c.run(c.Dir(), "npm", "update"); err != nil {
		return fmt.Errorf("npm update: %w", err)
	}
	return nil
}

// ChipperVersion reads the build toolchain generation from the checked-out
// chipper package manifest.
func (c *Checkout) ChipperVersion() (domain.ChipperVersion, error) {
	pkg, err := readPackage(filepath.Join(c.root, "chipper"))
	if err != nil {
		return domain.ChipperVersion{}, fmt.Errorf("read chipper package: %w", err)
	}
	return domain.ParseChipperVersion(pkg.Version)
}

// BuildOptions are the flags handed to the external build command.
type BuildOptions struct {
	Clean          bool
	Locales        string
	Brands         []domain.Brand
	BuildForServer bool
	Lint           bool
	AllHTML        bool
}

// Build invokes the external build command in the sim working copy and
// returns the output directory. The command's own failure modes surface
// as the returned error; partial output is the caller's to clean up.
func (c *Checkout) Build(opts BuildOptions) (string, error) {
	args := []string{}
	if !opts.Lint {
		args = append(args, "--lint=false")
	}
	if !opts.Clean {
		args = append(args, "--clean=false")
	}
	if opts.Locales != "" {
		args = append(args, "--locales="+opts.Locales)
	}
	if len(opts.Brands) > 0 {
		names := make([]string, len(opts.Brands))
		for i, b := range opts.Brands {
			names[i] = string(b)
		}
		args = append(args, "--brands="+strings.Join(names, ","))
	}
	if opts.BuildForServer {
		args = append(args, "--buildServer=true")
	}
	if opts.AllHTML {
		args = append(args, "--allHTML")
	}

	log.Printf("[vcs] building %s: %s %s", c.simName, c.buildCmd, strings.Join(args, " "))
	if err := c.run(c.Dir(), c.buildCmd, args...); err != nil {
		return "", fmt.Errorf("build %s: %w", c.simName, err)
	}
	return c.BuildDir(), nil
}

// ─── Package Manifests ──────────────────────────────────────────────────────

// Package is the subset of a repo's package manifest the pipeline reads.
type Package struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Phet    struct {
		AllowPublicAccess                     bool `json:"allowPublicAccess"`
		IgnoreForAutomatedMaintenanceReleases bool `json:"ignoreForAutomatedMaintenanceReleases"`
		AddRootHTAccessFile                   bool `json:"addRootHTAccessFile"`
	} `json:"phet"`
}

// SimPackage reads the simulation's own package manifest.
func (c *Checkout) SimPackage() (Package, error) {
	return readPackage(c.Dir())
}

// PhetioPackage reads the phet-io toolchain's package manifest. A missing
// phet-io repo is not an error — phet-brand-only checkouts don't have one.
func (c *Checkout) PhetioPackage() (Package, bool, error) {
	dir := filepath.Join(c.root, "phet-io")
	if _, err := os.Stat(filepath.Join(dir, "package.json")); os.IsNotExist(err) {
		return Package{}, false, nil
	}
	pkg, err := readPackage(dir)
	if err != nil {
		return Package{}, false, err
	}
	return pkg, true, nil
}

func readPackage(dir string) (Package, error) {
	data, err := os.ReadFile(filepath.Join(dir, "package.json"))
	if err != nil {
		return Package{}, err
	}
	var pkg Package
	if err := json.Unmarshal(data, &pkg); err != nil {
		return Package{}, fmt.Errorf("parse %s/package.json: %w", dir, err)
	}
	return pkg, nil
}
