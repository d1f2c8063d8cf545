package deploy

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sim-publish/buildserver/internal/domain"
)

// ProductionWriter copies build output into the versioned production
// filesystem tree. The production web root is local to this server.
type ProductionWriter struct {
	SimsRoot   string // public HTML root, phet brand
	PhetIORoot string // restricted root, phet-io brand
}

// NewProductionWriter creates a writer over the configured roots.
func NewProductionWriter(simsRoot, phetioRoot string) *ProductionWriter {
	return &ProductionWriter{SimsRoot: simsRoot, PhetIORoot: phetioRoot}
}

// TargetDir computes the brand-specific production directory for one
// deployed version.
func (w *ProductionWriter) TargetDir(brand domain.Brand, simName, version string, chipper domain.ChipperVersion) string {
	switch brand {
	case domain.BrandPhetIO:
		if chipper.Legacy() {
			version = PhetioVersion(version)
		}
		return filepath.Join(w.PhetIORoot, simName, version)
	default:
		return filepath.Join(w.SimsRoot, simName, version)
	}
}

// Deploy copies the brand's build subtree into its production directory.
// An already-existing target directory is tolerated — maintenance
// redeploys overwrite in place. The transfer-filter file never travels.
func (w *ProductionWriter) Deploy(brand domain.Brand, simName, version string, chipper domain.ChipperVersion, buildDir string) (string, error) {
	src := buildDir
	if !chipper.Legacy() {
		// Generation-2 toolchain emits per-brand subdirectories.
		src = filepath.Join(buildDir, string(brand))
	}

	target := w.TargetDir(brand, simName, version, chipper)
	if err := os.MkdirAll(target, 0755); err != nil {
		return "", fmt.Errorf("create production dir %s: %w", target, err)
	}

	if err := copyTree(src, target); err != nil {
		return "", fmt.Errorf("copy %s to %s: %w", src, target, err)
	}

	if brand == domain.BrandPhet && !chipper.Legacy() {
		if err := stripPhetSuffix(target); err != nil {
			return "", fmt.Errorf("rename brand artifacts in %s: %w", target, err)
		}
	}
	return target, nil
}

// copyTree recursively copies src into dst, skipping the transfer-filter
// file.
func copyTree(src, dst string) error {
	return filepath.Walk(src, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if filepath.Base(p) == filterFileName {
			return nil
		}

		out := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(out, 0755)
		}
		return copyFile(p, out)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// stripPhetSuffix renames copied artifacts whose filename carries the
// "_phet" brand marker, dropping the marker: sim_all_phet.html becomes
// sim_all.html.
func stripPhetSuffix(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() || !strings.Contains(e.Name(), "_phet") {
			continue
		}
		renamed := strings.Replace(e.Name(), "_phet", "", 1)
		if err := os.Rename(filepath.Join(dir, e.Name()), filepath.Join(dir, renamed)); err != nil {
			return err
		}
	}
	return nil
}
