package deploy

import (
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/sim-publish/buildserver/internal/notify"
	"github.com/sim-publish/buildserver/internal/vcs"
)

// VersionLister supplies previously-published versions of a simulation.
// Satisfied by *notify.WebsiteClient.
type VersionLister interface {
	PublishedVersions(simName string) ([]notify.SimVersion, error)
}

// DevMirror names the remote host access-control files are mirrored to
// when a dev deploy writes them.
type DevMirror struct {
	User string
	Host string
}

// HtaccessWriter generates password-protection, latest-redirect, and
// caching directives for a deployed tree.
type HtaccessWriter struct {
	HtpasswdFile string
	Versions     VersionLister
	Mirror       DevMirror

	run vcs.CommandRunner
}

// NewHtaccessWriter creates a writer using the given basic-auth password
// file and metadata source.
func NewHtaccessWriter(htpasswdFile string, versions VersionLister) *HtaccessWriter {
	return &HtaccessWriter{HtpasswdFile: htpasswdFile, Versions: versions, run: vcs.Run}
}

// SetRunner substitutes the external-command runner for tests.
func (w *HtaccessWriter) SetRunner(run vcs.CommandRunner) { w.run = run }

// PublishInfo carries the deploy context for access-control generation.
type PublishInfo struct {
	ProductionDeploy  bool
	SimName           string
	Version           string
	SimsRoot          string // production root holding the sim's version dirs
	AllowPublicAccess bool   // from the sim package manifest
	RootHtaccess      bool   // phet-io toolchain manifest requested a root protection file
}

// authStanza is the basic-auth block written into restricted
// subdirectories.
func (w *HtaccessWriter) authStanza() string {
	return strings.Join([]string{
		"AuthType Basic",
		`AuthName "PhET-iO Password Protected Area"`,
		"AuthUserFile " + w.HtpasswdFile,
		"Require valid-user",
	}, "\n") + "\n"
}

// WriteProtection writes access-control files for a deployed phet-io tree
// at targetPath. A production deploy additionally (re)writes the
// latest-redirect file at the sim's production root, and must carry the
// publish fields or the task aborts. With a non-empty devMirrorPath every
// written file is copied to the corresponding remote path via secure
// copy. Any failure here is non-recoverable for the current task:
// logged, then returned.
func (w *HtaccessWriter) WriteProtection(targetPath string, info PublishInfo, devMirrorPath string) error {
	err := w.writeProtection(targetPath, info, devMirrorPath)
	if err != nil {
		log.Printf("[deploy] ERROR writing access-control files under %s: %v", targetPath, err)
	}
	return err
}

func (w *HtaccessWriter) writeProtection(targetPath string, info PublishInfo, devMirrorPath string) error {
	var written []string

	if info.ProductionDeploy {
		if info.SimName == "" || info.Version == "" || info.SimsRoot == "" {
			return fmt.Errorf("production deploy missing publish fields: simName=%q version=%q simsRoot=%q",
				info.SimName, info.Version, info.SimsRoot)
		}
		if err := w.WriteLatestRedirect(info.SimName, info.SimsRoot); err != nil {
			return err
		}
	}

	stanza := w.authStanza()
	if info.AllowPublicAccess {
		// Emit the directives commented out: provenance stays visible
		// without enforcement.
		stanza = "# " + strings.ReplaceAll(strings.TrimSuffix(stanza, "\n"), "\n", "\n# ") + "\n"
	}

	for _, sub := range []string{"wrappers", "doc"} {
		dir := filepath.Join(targetPath, sub)
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			continue
		}
		file := filepath.Join(dir, ".htaccess")
		if err := os.WriteFile(file, []byte(stanza), 0644); err != nil {
			return fmt.Errorf("write %s: %w", file, err)
		}
		written = append(written, file)
	}

	if info.RootHtaccess {
		var b strings.Builder
		if info.ProductionDeploy {
			// Cache-control first: the all-locales artifact and api.json
			// must never be served stale after a maintenance release.
			fmt.Fprintf(&b, "<FilesMatch \"(%s_all\\.html|api\\.json)$\">\n", info.SimName)
			b.WriteString("Header set Cache-Control \"no-cache, no-store, must-revalidate\"\n")
			b.WriteString("Header set Expires 0\n")
			b.WriteString("</FilesMatch>\n\n")
		}
		b.WriteString("<FilesMatch \"^index\\.\">\n")
		b.WriteString(w.authStanza())
		b.WriteString("</FilesMatch>\n")

		file := filepath.Join(targetPath, ".htaccess")
		if err := os.WriteFile(file, []byte(b.String()), 0644); err != nil {
			return fmt.Errorf("write %s: %w", file, err)
		}
		written = append(written, file)

		if info.ProductionDeploy {
			for _, sub := range []string{"lib", "xhtml"} {
				dir := filepath.Join(targetPath, sub)
				if _, err := os.Stat(dir); os.IsNotExist(err) {
					continue
				}
				cacheFile := filepath.Join(dir, ".htaccess")
				content := "Header set Cache-Control \"no-cache, no-store, must-revalidate\"\nHeader set Expires 0\n"
				if err := os.WriteFile(cacheFile, []byte(content), 0644); err != nil {
					return fmt.Errorf("write %s: %w", cacheFile, err)
				}
				written = append(written, cacheFile)
			}
		}
	}

	if devMirrorPath != "" {
		for _, file := range written {
			rel, err := filepath.Rel(targetPath, file)
			if err != nil || strings.HasPrefix(rel, "..") {
				continue // latest-redirect file lives outside the target tree
			}
			remote := w.Mirror.User + "@" + w.Mirror.Host + ":" + path.Join(devMirrorPath, filepath.ToSlash(rel))
			if err := w.run("", "scp", file, remote); err != nil {
				return fmt.Errorf("mirror %s: %w", rel, err)
			}
		}
	}
	return nil
}

// WriteLatestRedirect writes the top-level .htaccess at the simulation's
// production root: one rewrite from each bare major.minor path to its
// newest fully-qualified version, plus the download content-disposition
// rule. A simulation with no published versions still gets the static
// boilerplate.
func (w *HtaccessWriter) WriteLatestRedirect(simName, simsRoot string) error {
	versions, err := w.Versions.PublishedVersions(simName)
	if err != nil {
		return fmt.Errorf("query published versions for %s: %w", simName, err)
	}

	// Newest maintenance release per major.minor branch.
	latest := map[string]notify.SimVersion{}
	var order []string
	for _, v := range versions {
		branch := v.Branch()
		have, ok := latest[branch]
		if !ok {
			order = append(order, branch)
			latest[branch] = v
			continue
		}
		if v.Maintenance > have.Maintenance {
			latest[branch] = v
		}
	}

	var b strings.Builder
	b.WriteString("RewriteEngine on\n")
	b.WriteString("RewriteCond %{QUERY_STRING} =download\n")
	b.WriteString("RewriteRule ([^/]*)$ - [L,E=download:$1]\n")
	b.WriteString("Header onsuccess set Content-disposition \"attachment; filename=%{download}e\" env=download\n")
	for _, branch := range order {
		v := latest[branch]
		fmt.Fprintf(&b, "RewriteRule ^%s(/.*)?$ %s$1\n", strings.ReplaceAll(branch, ".", "\\."), v.Full())
	}

	dir := filepath.Join(simsRoot, simName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	file := filepath.Join(dir, ".htaccess")
	if err := os.WriteFile(file, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("write %s: %w", file, err)
	}
	return nil
}
