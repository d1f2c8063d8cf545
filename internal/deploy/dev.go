// Package deploy writes build output to the hosting targets: the remote
// development host (secure copy), the local production tree, the
// access-control files, and the per-version translation manifest.
package deploy

import (
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/sim-publish/buildserver/internal/domain"
	"github.com/sim-publish/buildserver/internal/vcs"
)

// filterFileName is the transfer-filter file written into the build dir
// while syncing to the dev host, and excluded from production copies.
const filterFileName = ".rsync-filter"

// filterRules keeps locale coverage sane on the dev host: the
// Canadian-English variant is dropped, the English, all-locale, and
// accessibility variants are kept, and raw launcher HTML is excluded.
const filterRules = `- *_en_CA*
+ *_en.html
+ *_all.html
+ *_a11y*
- *.html
`

// DevWriter copies a build output tree to the development host.
type DevWriter struct {
	User string
	Host string
	Root string // remote directory holding per-sim version dirs

	run vcs.CommandRunner
}

// NewDevWriter creates a writer for the configured dev host.
func NewDevWriter(user, host, root string) *DevWriter {
	return &DevWriter{User: user, Host: host, Root: root, run: vcs.Run}
}

// SetRunner substitutes the external-command runner for tests.
func (w *DevWriter) SetRunner(run vcs.CommandRunner) { w.run = run }

// VersionDir computes the remote version directory. A legacy-toolchain
// deploy of only the phet-io brand substitutes a -phetio suffix into the
// version unless one is already present.
func (w *DevWriter) VersionDir(simName, version string, chipper domain.ChipperVersion, brands []domain.Brand) string {
	if len(brands) == 1 && brands[0] == domain.BrandPhetIO && chipper.Legacy() {
		version = PhetioVersion(version)
	}
	return path.Join(w.Root, simName, version)
}

// Deploy creates the remote version directory and syncs the build output
// into it. When the phet brand is among the requested brands, a transfer
// filter is written before the sync and removed afterward regardless of
// outcome. Sync failures propagate — the pipeline aborts on them.
func (w *DevWriter) Deploy(simName, version string, chipper domain.ChipperVersion, brands []domain.Brand, buildDir string) error {
	remote := w.VersionDir(simName, version, chipper, brands)
	target := w.User + "@" + w.Host

	if err := w.run("", "ssh", target, "mkdir -p "+remote); err != nil {
		return fmt.Errorf("create remote dir %s: %w", remote, err)
	}

	args := []string{"--recursive", "--no-perms"}
	filterPath := filepath.Join(buildDir, filterFileName)
	hasFilter := false
	for _, b := range brands {
		if b == domain.BrandPhet {
			hasFilter = true
			break
		}
	}
	if hasFilter {
		if err := os.WriteFile(filterPath, []byte(filterRules), 0644); err != nil {
			return fmt.Errorf("write transfer filter: %w", err)
		}
		defer func() {
			if err := os.Remove(filterPath); err != nil {
				log.Printf("[deploy] WARNING: removing transfer filter: %v", err)
			}
		}()
		args = append(args, "--filter=merge "+filterFileName)
	}

	args = append(args, buildDir+string(filepath.Separator), target+":"+remote)
	if err := w.run("", "rsync", args...); err != nil {
		return fmt.Errorf("sync %s to %s: %w", buildDir, remote, err)
	}
	log.Printf("[deploy] %s %s synced to %s:%s", simName, version, w.Host, remote)
	return nil
}

// PhetioVersion substitutes the -phetio suffix into a version string:
// "1.2.0" becomes "1.2.0-phetio", "1.2.0-rc.3" becomes
// "1.2.0-phetio-rc.3". Versions already carrying the suffix pass through.
func PhetioVersion(version string) string {
	if strings.Contains(version, "phetio") {
		return version
	}
	if i := strings.Index(version, "-"); i >= 0 {
		return version[:i] + "-phetio" + version[i:]
	}
	return version + "-phetio"
}
