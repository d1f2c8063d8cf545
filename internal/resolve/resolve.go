// Package resolve determines locale sets and published-version ordering
// for a simulation by inspecting its previously-published directory tree.
package resolve

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var versionDirPattern = regexp.MustCompile(`^(\d+)\.(\d+)\.(\d+)$`)

// Version is a published three-number version directory name.
type Version struct {
	Major, Minor, Patch int
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// SortedVersionDirs lists the entries of path that look like published
// version directories (major.minor.patch), ordered ascending by numeric
// triple comparison. A non-existent path yields an empty list, never an
// error — the first deploy of a simulation has nothing published yet.
func SortedVersionDirs(path string) []Version {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil
	}

	var versions []Version
	for _, e := range entries {
		m := versionDirPattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		major, _ := strconv.Atoi(m[1])
		minor, _ := strconv.Atoi(m[2])
		patch, _ := strconv.Atoi(m[3])
		versions = append(versions, Version{major, minor, patch})
	}

	sort.Slice(versions, func(i, j int) bool {
		a, b := versions[i], versions[j]
		if a.Major != b.Major {
			return a.Major < b.Major
		}
		if a.Minor != b.Minor {
			return a.Minor < b.Minor
		}
		return a.Patch < b.Patch
	})
	return versions
}

// translationManifest mirrors the locale attributes of the per-version
// translation XML written by the deploy package. Only the locale codes
// matter here.
type translationManifest struct {
	Simulations []struct {
		Locale string `xml:"locale,attr"`
	} `xml:"simulation"`
}

// Locales resolves the locale set to build. An explicit non-wildcard
// request is returned unchanged — the translation-service caller already
// knows its locale. Otherwise the highest previously-published version's
// translation manifest supplies the set. A simulation with no published
// versions yet builds English only.
func Locales(requested, simName, simsRoot string) (string, error) {
	if requested != "" && requested != "*" {
		return requested, nil
	}

	simDir := filepath.Join(simsRoot, simName)
	versions := SortedVersionDirs(simDir)
	if len(versions) == 0 {
		return "en", nil
	}
	latest := versions[len(versions)-1]

	manifestPath := filepath.Join(simDir, latest.String(), simName+".xml")
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return "", fmt.Errorf("read translation manifest: %w", err)
	}

	var manifest translationManifest
	if err := xml.Unmarshal(data, &manifest); err != nil {
		return "", fmt.Errorf("parse translation manifest %s: %w", manifestPath, err)
	}

	seen := make(map[string]bool)
	var locales []string
	for _, sim := range manifest.Simulations {
		if sim.Locale == "" || seen[sim.Locale] {
			continue
		}
		seen[sim.Locale] = true
		locales = append(locales, sim.Locale)
	}
	if len(locales) == 0 {
		return "en", nil
	}
	return strings.Join(locales, ","), nil
}
