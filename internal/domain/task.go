// Package domain holds the deploy task model shared by the intake layer,
// the persistent queue, and the build pipeline.
// A Task is a unit of work that flows through the server:
// submit → enqueue → promote → build → deploy → notify.
package domain

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// APIVersion identifies the wire format a deploy request arrived in.
type APIVersion string

const (
	APIV1 APIVersion = "1.0"
	APIV2 APIVersion = "2.0"
)

// Brand is a build variant identity.
type Brand string

const (
	BrandPhet   Brand = "phet"
	BrandPhetIO Brand = "phet-io"
)

// Valid reports whether the brand is one the pipeline can deploy.
// Unknown brands are carried through validation but never targeted
// at dev or production hosts.
func (b Brand) Valid() bool {
	return b == BrandPhet || b == BrandPhetIO
}

// Server is a deployment target.
type Server string

const (
	ServerDev        Server = "dev"
	ServerProduction Server = "production"
)

// Valid reports whether the server name is a known deployment target.
func (s Server) Valid() bool {
	return s == ServerDev || s == ServerProduction
}

// RepoRef pins one repository to a commit, or carries a free-text comment
// entry from the dependencies blob.
type RepoRef struct {
	SHA     string `json:"sha,omitempty"`
	Comment string `json:"comment,omitempty"`
}

// Task is a single deploy request, normalized from either wire format.
type Task struct {
	ID          string             `json:"id"`
	API         APIVersion         `json:"api"`
	RepoShas    map[string]RepoRef `json:"repos"`
	SimName     string             `json:"simName"`
	Version     string             `json:"version"`
	Locales     string             `json:"locales,omitempty"` // "*", comma list, or empty
	Brands      []Brand            `json:"brands"`
	Servers     []Server           `json:"servers"`
	Email       string             `json:"email,omitempty"`
	UserID      string             `json:"userId,omitempty"` // set → translation request
	Branch      string             `json:"branch,omitempty"`
	EnqueueTime time.Time          `json:"enqueueTime,omitempty"`
	StartTime   time.Time          `json:"startTime,omitempty"`
}

var (
	simNamePattern = regexp.MustCompile(`^[a-z]+(-[a-z0-9]+)*$`)
	shaPattern     = regexp.MustCompile(`^[0-9a-f]{40}$`)
	versionPattern = regexp.MustCompile(`^(\d+)\.(\d+)\.(\d+)(-[a-zA-Z0-9.]+)?$`)
)

// ValidSimName reports whether name matches the simulation-name pattern
// (lowercase words joined by dashes).
func ValidSimName(name string) bool {
	return simNamePattern.MatchString(name)
}

// ValidSHA reports whether s is a 40-character lowercase hex commit sha.
func ValidSHA(s string) bool {
	return shaPattern.MatchString(s)
}

// ValidVersion reports whether v matches major.minor.patch with an
// optional -suffix.
func ValidVersion(v string) bool {
	return versionPattern.MatchString(v)
}

// HasServer reports whether the task targets the given server.
func (t *Task) HasServer(s Server) bool {
	for _, have := range t.Servers {
		if have == s {
			return true
		}
	}
	return false
}

// HasBrand reports whether the task requests the given brand.
func (t *Task) HasBrand(b Brand) bool {
	for _, have := range t.Brands {
		if have == b {
			return true
		}
	}
	return false
}

// IsTranslationRequest reports whether this task came from the translation
// service: a translator identity plus exactly one concrete locale. Such
// tasks build every locale internally and skip the image refresh.
func (t *Task) IsTranslationRequest() bool {
	if t.UserID == "" {
		return false
	}
	if t.Locales == "" || t.Locales == "*" {
		return false
	}
	return !strings.Contains(t.Locales, ",")
}

// ResolveBranch returns the explicit branch, or derives major.minor from
// the version string. An empty result means the branch is unresolvable
// and the task must be rejected.
func (t *Task) ResolveBranch() string {
	if t.Branch != "" {
		return t.Branch
	}
	m := versionPattern.FindStringSubmatch(t.Version)
	if m == nil {
		return ""
	}
	return m[1] + "." + m[2]
}

// VersionSuffix returns the suffix portion of the version (without the
// leading dash), or "" when the version is a bare triple.
func (t *Task) VersionSuffix() string {
	m := versionPattern.FindStringSubmatch(t.Version)
	if m == nil || m[4] == "" {
		return ""
	}
	return strings.TrimPrefix(m[4], "-")
}

// Validate checks the structural task invariants shared by the intake
// layer and the pipeline's validating stage: name patterns, sha shapes,
// and branch resolvability.
func (t *Task) Validate() error {
	if !ValidSimName(t.SimName) {
		return fmt.Errorf("%w: %q", ErrBadSimName, t.SimName)
	}
	for name, ref := range t.RepoShas {
		if !ValidSimName(name) {
			return fmt.Errorf("%w: repo %q", ErrBadSimName, name)
		}
		if ref.Comment != "" && ref.SHA == "" {
			continue // free-text entry
		}
		if !ValidSHA(ref.SHA) {
			return fmt.Errorf("%w: %s@%q", ErrBadSHA, name, ref.SHA)
		}
	}
	if t.ResolveBranch() == "" {
		return fmt.Errorf("%w: version %q", ErrNoBranch, t.Version)
	}
	return nil
}

// CanonicalKey returns the stable identity of a task for queue matching:
// exactly the fields the queue store persists on append, so transient
// in-memory-only fields never break promote matching.
func (t *Task) CanonicalKey() string {
	repos := make([]string, 0, len(t.RepoShas))
	for name, ref := range t.RepoShas {
		repos = append(repos, name+"@"+ref.SHA+ref.Comment)
	}
	sort.Strings(repos)

	brands := make([]string, len(t.Brands))
	for i, b := range t.Brands {
		brands[i] = string(b)
	}
	servers := make([]string, len(t.Servers))
	for i, s := range t.Servers {
		servers[i] = string(s)
	}

	return strings.Join([]string{
		string(t.API),
		strings.Join(repos, ","),
		t.SimName,
		t.Version,
		t.Locales,
		strings.Join(servers, ","),
		strings.Join(brands, ","),
		t.Email,
		t.UserID,
		t.Branch,
		t.EnqueueTime.UTC().Format(time.RFC3339Nano),
	}, "|")
}

// ─── Chipper Version ────────────────────────────────────────────────────────

// ChipperVersion identifies the generation of the build toolchain. It gates
// the on-disk artifact layout (flat vs per-brand subdirectories) and the
// version-suffix conventions.
type ChipperVersion struct {
	Major int `json:"major"`
	Minor int `json:"minor"`
}

// ParseChipperVersion parses a "major.minor.patch" toolchain version string.
func ParseChipperVersion(v string) (ChipperVersion, error) {
	parts := strings.SplitN(strings.TrimSpace(v), ".", 3)
	if len(parts) < 2 {
		return ChipperVersion{}, fmt.Errorf("malformed chipper version %q", v)
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return ChipperVersion{}, fmt.Errorf("malformed chipper version %q", v)
	}
	minor, err := strconv.Atoi(parts[1])
	if err != nil {
		return ChipperVersion{}, fmt.Errorf("malformed chipper version %q", v)
	}
	return ChipperVersion{Major: major, Minor: minor}, nil
}

// Legacy reports whether this is the generation-zero toolchain with the
// flat single-brand artifact layout.
func (c ChipperVersion) Legacy() bool {
	return c.Major == 0 && c.Minor == 0
}

// Supported reports whether the pipeline understands this toolchain
// generation. Only {2,0} and {0,0} are; major 1 in particular aborts
// validation as unsupported.
func (c ChipperVersion) Supported() bool {
	return (c.Major == 2 && c.Minor == 0) || c.Legacy()
}

func (c ChipperVersion) String() string {
	return fmt.Sprintf("%d.%d", c.Major, c.Minor)
}
