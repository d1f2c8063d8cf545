package notify

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// WebsiteClient talks to the production web service: deploy
// announcements, phet-io version records, and published-sim metadata.
type WebsiteClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewWebsiteClient creates a client for the production web service.
func NewWebsiteClient(baseURL, token string) *WebsiteClient {
	return &WebsiteClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 2 * time.Minute},
	}
}

// serviceResponse is the envelope every website service endpoint returns.
type serviceResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// DeployFinished asks the website to resynchronize its record of a newly
// deployed phet-brand project. locale and translatorID scope the sync to
// one translation when the deploy came from the translation service; a
// wildcard or English locale syncs the whole project. Callers treat a
// returned error as best-effort — the deploy itself already succeeded.
func (c *WebsiteClient) DeployFinished(simName, locale, translatorID string) error {
	q := url.Values{}
	q.Set("project", simName)
	if locale != "" && locale != "*" && locale != "en" {
		q.Set("locale", locale)
		if translatorID != "" {
			q.Set("translatorId", translatorID)
		}
	}
	return c.post("/services/deploy-finished?"+q.Encode(), nil)
}

// PhetioVersion describes one phet-io deployment record.
type PhetioVersion struct {
	SimName  string `json:"simName"`
	Version  string `json:"versionString"`
	Branch   string `json:"versionBranch"`
	Suffix   string `json:"versionSuffix"`
	Active   bool   `json:"active"`
	Ignored  bool   `json:"ignoreForAutomatedMaintenanceReleases"`
}

// UpsertPhetioVersion records a new phet-io deployment with the website.
// Downstream systems depend on this record, so callers treat a returned
// error as a hard pipeline failure.
func (c *WebsiteClient) UpsertPhetioVersion(v PhetioVersion) error {
	return c.post("/services/metadata/phetio", v)
}

// SimVersion is one previously-published version of a simulation, as
// reported by the website metadata service.
type SimVersion struct {
	Major       int    `json:"major"`
	Minor       int    `json:"minor"`
	Maintenance int    `json:"maintenance"`
	Suffix      string `json:"suffix,omitempty"`
}

// Full renders the fully-qualified version string.
func (v SimVersion) Full() string {
	s := fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Maintenance)
	if v.Suffix != "" {
		s += "-" + v.Suffix
	}
	return s
}

// Branch renders the bare major.minor prefix.
func (v SimVersion) Branch() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// PublishedVersions queries the metadata service for every published
// version of one simulation.
func (c *WebsiteClient) PublishedVersions(simName string) ([]SimVersion, error) {
	var out struct {
		serviceResponse
		Versions []SimVersion `json:"versions"`
	}
	if err := c.get("/services/metadata/versions?name="+url.QueryEscape(simName), &out); err != nil {
		return nil, err
	}
	return out.Versions, nil
}

// PublishedSim names one currently-published simulation and its live
// version, for whole-site image refreshes.
type PublishedSim struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// PublishedSims queries the metadata service for every currently-published
// simulation.
func (c *WebsiteClient) PublishedSims() ([]PublishedSim, error) {
	var out struct {
		serviceResponse
		Sims []PublishedSim `json:"sims"`
	}
	if err := c.get("/services/metadata/simulations", &out); err != nil {
		return nil, err
	}
	return out.Sims, nil
}

// ─── Transport ──────────────────────────────────────────────────────────────

func (c *WebsiteClient) post(path string, body any) error {
	var payload strings.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		payload = *strings.NewReader(string(data))
	}

	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, &payload)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("website request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("website returned %d for %s", resp.StatusCode, path)
	}

	var sr serviceResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return fmt.Errorf("decode website response: %w", err)
	}
	if !sr.Success {
		return fmt.Errorf("website reported failure for %s: %s", path, sr.Error)
	}
	return nil
}

func (c *WebsiteClient) get(path string, out any) error {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("website request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("website returned %d for %s", resp.StatusCode, path)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode website response: %w", err)
	}
	return nil
}

// LogNotifyFailure records a best-effort notification failure. Kept here
// so the pipeline and image-refresh paths phrase it the same way.
func LogNotifyFailure(context string, err error) {
	log.Printf("[notify] ERROR %s: %v", context, err)
}
