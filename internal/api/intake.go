package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/sim-publish/buildserver/internal/domain"
)

// The two wire formats are parsed into explicit request structs and
// normalized into one domain.Task here; nothing past this file branches
// on the wire format except the acknowledgement status code.

// v1Request mirrors the original query/form field deploy interface.
type v1Request struct {
	Repos    string // JSON dependency blob
	SimName  string
	Version  string
	Locales  string
	Option   string
	Email    string
	UserID   string
	AuthCode string
	Branch   string
}

// v2Request is the JSON deploy interface with explicit servers/brands.
type v2Request struct {
	API          string          `json:"api"`
	Dependencies json.RawMessage `json:"dependencies"`
	SimName      string          `json:"simName"`
	Version      string          `json:"version"`
	Locales      string          `json:"locales"`
	Servers      []string        `json:"servers"`
	Brands       []string        `json:"brands"`
	AuthCode     string          `json:"authorizationCode"`
	TranslatorID string          `json:"translatorId"`
	Email        string          `json:"email"`
	Branch       string          `json:"branch"`
}

// handleDeployGet accepts a v1 deploy request as URL query fields.
func (s *Server) handleDeployGet(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := v1Request{
		Repos:    q.Get("repos"),
		SimName:  q.Get("simName"),
		Version:  q.Get("version"),
		Locales:  q.Get("locales"),
		Option:   q.Get("option"),
		Email:    q.Get("email"),
		UserID:   q.Get("userId"),
		AuthCode: q.Get("authorizationCode"),
		Branch:   q.Get("branch"),
	}
	s.acceptV1(w, req)
}

// handleDeployPost accepts either wire format: a JSON body or form
// fields with an api field starting "2." is v2, anything else v1.
func (s *Server) handleDeployPost(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var req v2Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeText(w, http.StatusBadRequest, "malformed JSON body: "+err.Error())
			return
		}
		if !strings.HasPrefix(req.API, "2.") {
			writeText(w, http.StatusBadRequest, "unknown api version "+req.API)
			return
		}
		s.acceptV2(w, req)
		return
	}

	if err := r.ParseForm(); err != nil {
		writeText(w, http.StatusBadRequest, "malformed form body")
		return
	}
	if api := r.PostFormValue("api"); strings.HasPrefix(api, "2.") {
		req := v2Request{
			API:          api,
			Dependencies: json.RawMessage(r.PostFormValue("dependencies")),
			SimName:      r.PostFormValue("simName"),
			Version:      r.PostFormValue("version"),
			Locales:      r.PostFormValue("locales"),
			Servers:      splitList(r.PostFormValue("servers")),
			Brands:       splitList(r.PostFormValue("brands")),
			AuthCode:     r.PostFormValue("authorizationCode"),
			TranslatorID: r.PostFormValue("translatorId"),
			Email:        r.PostFormValue("email"),
			Branch:       r.PostFormValue("branch"),
		}
		s.acceptV2(w, req)
		return
	}

	req := v1Request{
		Repos:    r.PostFormValue("repos"),
		SimName:  r.PostFormValue("simName"),
		Version:  r.PostFormValue("version"),
		Locales:  r.PostFormValue("locales"),
		Option:   r.PostFormValue("option"),
		Email:    r.PostFormValue("email"),
		UserID:   r.PostFormValue("userId"),
		AuthCode: r.PostFormValue("authorizationCode"),
		Branch:   r.PostFormValue("branch"),
	}
	s.acceptV1(w, req)
}

// acceptV1 normalizes and enqueues a v1 request. Target inference: the
// "rc" option deploys to dev only, everything else to production; a
// version carrying "phetio" selects the phet-io brand.
func (s *Server) acceptV1(w http.ResponseWriter, req v1Request) {
	if req.AuthCode != s.authCode {
		writeText(w, http.StatusUnauthorized, "authorization code mismatch")
		return
	}
	if req.Repos == "" || req.SimName == "" || req.Version == "" {
		writeText(w, http.StatusBadRequest, "repos, simName, and version are required")
		return
	}

	repoShas, err := parseDependencies([]byte(req.Repos))
	if err != nil {
		writeText(w, http.StatusBadRequest, "malformed repos blob: "+err.Error())
		return
	}

	servers := []domain.Server{domain.ServerProduction}
	if req.Option == "rc" {
		servers = []domain.Server{domain.ServerDev}
	}
	brands := []domain.Brand{domain.BrandPhet}
	if strings.Contains(req.Version, "phetio") {
		brands = []domain.Brand{domain.BrandPhetIO}
	}

	task := domain.Task{
		ID:       uuid.NewString(),
		API:      domain.APIV1,
		RepoShas: repoShas,
		SimName:  req.SimName,
		Version:  req.Version,
		Locales:  req.Locales,
		Brands:   brands,
		Servers:  servers,
		Email:    req.Email,
		UserID:   req.UserID,
		Branch:   req.Branch,
	}
	s.accept(w, task, http.StatusOK)
}

// acceptV2 normalizes and enqueues a v2 request.
func (s *Server) acceptV2(w http.ResponseWriter, req v2Request) {
	if req.AuthCode != s.authCode {
		writeText(w, http.StatusUnauthorized, "authorization code mismatch")
		return
	}
	if len(req.Dependencies) == 0 || req.SimName == "" || req.Version == "" {
		writeText(w, http.StatusBadRequest, "dependencies, simName, and version are required")
		return
	}

	repoShas, err := parseDependencies(req.Dependencies)
	if err != nil {
		writeText(w, http.StatusBadRequest, "malformed dependencies blob: "+err.Error())
		return
	}

	var servers []domain.Server
	for _, name := range req.Servers {
		servers = append(servers, domain.Server(name))
	}
	var brands []domain.Brand
	for _, name := range req.Brands {
		brands = append(brands, domain.Brand(name))
	}

	task := domain.Task{
		ID:       uuid.NewString(),
		API:      domain.APIV2,
		RepoShas: repoShas,
		SimName:  req.SimName,
		Version:  req.Version,
		Locales:  req.Locales,
		Brands:   brands,
		Servers:  servers,
		Email:    req.Email,
		UserID:   req.TranslatorID,
		Branch:   req.Branch,
	}
	s.accept(w, task, http.StatusAccepted)
}

// accept runs the synchronous pre-enqueue checks, persists the task, and
// hands it to the worker. The response is sent immediately; the pipeline
// runs asynchronously.
func (s *Server) accept(w http.ResponseWriter, task domain.Task, okStatus int) {
	if task.HasServer(domain.ServerProduction) {
		for _, b := range task.Brands {
			if !b.Valid() {
				writeText(w, http.StatusBadRequest,
					fmt.Sprintf("brand %q cannot be deployed to production", b))
				return
			}
		}
	}
	for _, srv := range task.Servers {
		if !srv.Valid() {
			writeText(w, http.StatusBadRequest, fmt.Sprintf("unknown server %q", srv))
			return
		}
	}
	if err := task.Validate(); err != nil {
		writeText(w, http.StatusBadRequest, err.Error())
		return
	}

	stamped, err := s.store.Append(task)
	if err != nil {
		log.Printf("[api] ERROR persisting task %s/%s: %v", task.SimName, task.Version, err)
		writeText(w, http.StatusInternalServerError, "could not persist deploy request")
		return
	}
	if err := s.workers.Submit(func() { s.runner.Run(stamped) }); err != nil {
		writeText(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	log.Printf("[api] enqueued %s %s (brands=%v servers=%v)", stamped.SimName, stamped.Version, stamped.Brands, stamped.Servers)
	writeText(w, okStatus, fmt.Sprintf("deploy request for %s %s accepted", stamped.SimName, stamped.Version))
}

// handleDeployImages accepts an image-refresh request. Work proceeds
// asynchronously on the same single worker as deploys.
func (s *Server) handleDeployImages(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeText(w, http.StatusBadRequest, "malformed form body")
		return
	}
	if r.PostFormValue("authorizationCode") != s.authCode {
		writeText(w, http.StatusUnauthorized, "authorization code mismatch")
		return
	}

	branch := r.PostFormValue("branch")
	if branch == "" {
		branch = "main"
	}
	brandNames := splitList(r.PostFormValue("brands"))
	if len(brandNames) == 0 {
		brandNames = []string{string(domain.BrandPhet)}
	}
	var brands []domain.Brand
	for _, name := range brandNames {
		brands = append(brands, domain.Brand(name))
	}

	simName := r.PostFormValue("simName")
	version := r.PostFormValue("version")
	if (simName == "") != (version == "") {
		writeText(w, http.StatusBadRequest, "simName and version must be given together")
		return
	}

	if err := s.workers.Submit(func() { s.runner.RefreshImages(branch, brands, simName, version) }); err != nil {
		writeText(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeText(w, http.StatusAccepted, "image refresh accepted")
}

// parseDependencies decodes a dependency blob into the repo-sha map.
func parseDependencies(data []byte) (map[string]domain.RepoRef, error) {
	var repoShas map[string]domain.RepoRef
	if err := json.Unmarshal(data, &repoShas); err != nil {
		return nil, err
	}
	return repoShas, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
