package deploy

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// manifestProject is the root element of the per-version translation
// manifest consumed by the locale resolver and the production website.
type manifestProject struct {
	XMLName     xml.Name             `xml:"project"`
	Name        string               `xml:"name,attr"`
	Simulations []manifestSimulation `xml:"simulation"`
}

type manifestSimulation struct {
	Name    string   `xml:"name,attr"`
	Locale  string   `xml:"locale,attr"`
	Title   string   `xml:"title"`
	Screens []string `xml:"screens>screen,omitempty"`
}

// ManifestWriter generates the translation manifest XML for one deployed
// simulation version.
type ManifestWriter struct {
	// ScreenNames extracts the ordered screen names for a locale from its
	// string map. Overridable for tests; the default derives them from
	// the screen string keys.
	ScreenNames func(simName string, strings map[string]string) []string
}

// NewManifestWriter creates a writer with the default screen-name parser.
func NewManifestWriter() *ManifestWriter {
	return &ManifestWriter{ScreenNames: defaultScreenNames}
}

// WriteManifest enumerates every translated string file for the
// simulation (English in the sim repo, other locales in the translation
// string store), and writes one <simulation> element per locale that has
// a built HTML artifact in targetDir. Locales whose string files are
// missing or malformed are skipped with a log line; they never abort the
// manifest.
func (m *ManifestWriter) WriteManifest(simName, version, checkoutRoot, targetDir string) error {
	locales, err := m.localeStringFiles(simName, checkoutRoot)
	if err != nil {
		return err
	}

	english := locales["en"]
	titleKey := simName + ".title"

	codes := make([]string, 0, len(locales))
	for code := range locales {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	project := manifestProject{Name: simName}
	for _, code := range codes {
		// Only locales actually built and on disk are listed.
		artifact := filepath.Join(targetDir, fmt.Sprintf("%s_%s.html", simName, code))
		if _, err := os.Stat(artifact); os.IsNotExist(err) {
			continue
		}

		strs := locales[code]
		title := strs[titleKey]
		if title == "" {
			title = english[titleKey]
		}

		project.Simulations = append(project.Simulations, manifestSimulation{
			Name:    simName,
			Locale:  code,
			Title:   title,
			Screens: m.ScreenNames(simName, strs),
		})
	}

	data, err := xml.MarshalIndent(project, "", "  ")
	if err != nil {
		return fmt.Errorf("encode translation manifest: %w", err)
	}
	out := filepath.Join(targetDir, simName+".xml")
	content := xml.Header + string(data) + "\n"
	if err := os.WriteFile(out, []byte(content), 0644); err != nil {
		return fmt.Errorf("write translation manifest: %w", err)
	}
	return nil
}

// localeStringFiles loads every available string map for the simulation,
// keyed by locale code.
func (m *ManifestWriter) localeStringFiles(simName, checkoutRoot string) (map[string]map[string]string, error) {
	locales := map[string]map[string]string{}

	// English lives in the sim repo itself.
	enPath := filepath.Join(checkoutRoot, simName, simName+"-strings_en.json")
	en, err := readStrings(enPath)
	if err != nil {
		return nil, fmt.Errorf("read English strings: %w", err)
	}
	locales["en"] = en

	// Other locales live in the translation string store.
	babelDir := filepath.Join(checkoutRoot, "babel", simName)
	entries, err := os.ReadDir(babelDir)
	if err != nil {
		// No translations yet — English-only manifest.
		return locales, nil
	}

	prefix := simName + "-strings_"
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		code := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".json")
		strs, err := readStrings(filepath.Join(babelDir, name))
		if err != nil {
			log.Printf("[deploy] WARNING: skipping locale %s for %s: %v", code, simName, err)
			continue
		}
		locales[code] = strs
	}
	return locales, nil
}

// stringEntry tolerates both the flat and the {value: ...} string file
// shapes.
type stringEntry struct {
	Value string `json:"value"`
}

func readStrings(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var entries map[string]stringEntry
	if err := json.Unmarshal(data, &entries); err == nil {
		out := make(map[string]string, len(entries))
		for k, v := range entries {
			out[k] = v.Value
		}
		return out, nil
	}

	var flat map[string]string
	if err := json.Unmarshal(data, &flat); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return flat, nil
}

// defaultScreenNames derives the ordered screen names from the
// "<sim>.screen.*" string keys.
func defaultScreenNames(simName string, strs map[string]string) []string {
	prefix := simName + ".screen."
	var keys []string
	for k := range strs {
		if strings.HasPrefix(k, prefix) && k != prefix+"homeScreen" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	names := make([]string, 0, len(keys))
	for _, k := range keys {
		names = append(names, strs[k])
	}
	return names
}
