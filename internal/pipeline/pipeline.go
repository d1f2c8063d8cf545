// Package pipeline drives one deploy task from validation through build,
// multi-target deployment, access-control generation, and notification.
// Stages run strictly sequentially; the single Run error boundary turns
// any stage failure into a logged abort, a failure email, and queue
// cleanup. Nothing is retried — operators resubmit.
package pipeline

import (
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/sim-publish/buildserver/internal/deploy"
	"github.com/sim-publish/buildserver/internal/domain"
	"github.com/sim-publish/buildserver/internal/history"
	"github.com/sim-publish/buildserver/internal/infra/metrics"
	"github.com/sim-publish/buildserver/internal/notify"
	"github.com/sim-publish/buildserver/internal/queue"
	"github.com/sim-publish/buildserver/internal/resolve"
	"github.com/sim-publish/buildserver/internal/vcs"
)

// Checkout is the release-branch working copy capability the pipeline
// builds against. Satisfied by *vcs.Checkout.
type Checkout interface {
	UpdateCheckout(repoShas map[string]domain.RepoRef) error
	ChipperVersion() (domain.ChipperVersion, error)
	SimPackage() (vcs.Package, error)
	PhetioPackage() (vcs.Package, bool, error)
	Build(opts vcs.BuildOptions) (string, error)
	Dir() string
	Root() string
}

// Runner executes deploy tasks. All collaborators are explicit — there is
// no ambient state beyond the filesystem trees the writers own.
type Runner struct {
	Store    *queue.Store
	History  *history.DB // nil disables history records
	Mailer   *notify.Mailer
	Website  *notify.WebsiteClient
	Dev      *deploy.DevWriter
	Prod     *deploy.ProductionWriter
	Htaccess *deploy.HtaccessWriter
	Manifest *deploy.ManifestWriter

	// NewCheckout opens the release-branch working copy for a sim.
	// Replaced in tests.
	NewCheckout func(simName, branch string) Checkout

	SimsRoot      string // production root, also consulted for locale resolution
	PhetIORoot    string
	DevHTMLRoot   string // remote mirror base for production phet-io access files, empty disables
	ScreenshotCmd string // per-sim image refresh command, empty disables

	run vcs.CommandRunner
}

// SetRunner substitutes the external-command runner used for the image
// refresh command.
func (r *Runner) SetRunner(run vcs.CommandRunner) { r.run = run }

func (r *Runner) runner() vcs.CommandRunner {
	if r.run == nil {
		return vcs.Run
	}
	return r.run
}

// Run executes one task to completion or abort. It is the single error
// boundary: stage failures are logged, emailed, recorded, and the queue's
// current-task slot is cleared either way.
func (r *Runner) Run(task domain.Task) {
	task, err := r.Store.Promote(task)
	if err != nil {
		log.Printf("[pipeline] ERROR promoting task %s/%s: %v", task.SimName, task.Version, err)
	}
	metrics.TaskActive.Set(1)
	defer metrics.TaskActive.Set(0)

	log.Printf("[pipeline] starting %s %s (brands=%v servers=%v)", task.SimName, task.Version, task.Brands, task.Servers)

	stage, runErr := r.runStages(&task)
	if runErr != nil {
		log.Printf("[pipeline] ABORT at %s for %s %s: %v", stage, task.SimName, task.Version, runErr)
		metrics.DeploysFailed.WithLabelValues(stage).Inc()
		r.sendFailureEmail(task, stage, runErr)
		r.record(task, history.OutcomeAborted, runErr)
	} else {
		log.Printf("[pipeline] finished %s %s", task.SimName, task.Version)
		for _, b := range task.Brands {
			metrics.DeploysCompleted.WithLabelValues(string(b)).Inc()
		}
		r.sendSuccessEmail(task)
		r.record(task, history.OutcomeSucceeded, nil)
	}

	if err := r.Store.ClearCurrent(); err != nil {
		log.Printf("[pipeline] ERROR clearing current task: %v", err)
	}
}

// runStages walks the state machine. The returned stage names where the
// pipeline stopped, for logs and metrics.
func (r *Runner) runStages(task *domain.Task) (stage string, err error) {
	stage = "validating"
	if err := r.validate(task); err != nil {
		return stage, err
	}

	stage = "checking-out"
	co := r.NewCheckout(task.SimName, task.Branch)
	if err := co.UpdateCheckout(task.RepoShas); err != nil {
		return stage, err
	}

	chipper, err := co.ChipperVersion()
	if err != nil {
		return stage, err
	}
	if !chipper.Supported() {
		return stage, fmt.Errorf("%w: %s", domain.ErrBadChipper, chipper)
	}
	if !chipper.Legacy() {
		pkg, err := co.SimPackage()
		if err != nil {
			return stage, err
		}
		if pkg.Version != task.Version {
			return stage, fmt.Errorf("%w: package says %q, task says %q", domain.ErrVersionMismatch, pkg.Version, task.Version)
		}
	}

	stage = "building"
	buildDir, err := r.build(task, co, chipper)
	if buildDir != "" {
		// Build output is scratch space — remove it whatever happens.
		defer func() {
			if rmErr := os.RemoveAll(buildDir); rmErr != nil {
				log.Printf("[pipeline] WARNING: cleanup of %s: %v", buildDir, rmErr)
			}
		}()
	}
	if err != nil {
		return stage, err
	}

	if task.HasServer(domain.ServerDev) {
		stage = "deploying-dev"
		if err := r.deployDev(task, co, chipper, buildDir); err != nil {
			return stage, err
		}
	}

	if task.HasServer(domain.ServerProduction) {
		stage = "deploying-production"
		if err := r.deployProduction(task, co, chipper, buildDir); err != nil {
			return stage, err
		}
	}

	return "", nil
}

// ─── Validating ─────────────────────────────────────────────────────────────

var rcVersionPattern = regexp.MustCompile(`^\d+\.\d+\.\d+(-rc\.\d+)?`)
var bareVersionPattern = regexp.MustCompile(`^\d+\.\d+\.\d+`)

func (r *Runner) validate(task *domain.Task) error {
	if err := task.Validate(); err != nil {
		return err
	}
	task.Branch = task.ResolveBranch()

	if task.API == domain.APIV1 {
		if !domain.ValidVersion(task.Version) {
			return fmt.Errorf("%w: %q", domain.ErrBadVersion, task.Version)
		}
		// The v1 wire format carries whatever suffix the client built
		// with; only the RC form survives for dev targets, and bare
		// three-number versions go everywhere else.
		if task.HasServer(domain.ServerDev) {
			task.Version = rcVersionPattern.FindString(task.Version)
		} else {
			task.Version = bareVersionPattern.FindString(task.Version)
		}

		if task.Locales == "" {
			locales, err := resolve.Locales(task.Locales, task.SimName, r.SimsRoot)
			if err != nil {
				return fmt.Errorf("resolve locales: %w", err)
			}
			task.Locales = locales
		}
	}
	return nil
}

// ─── Building ───────────────────────────────────────────────────────────────

func (r *Runner) build(task *domain.Task, co Checkout, chipper domain.ChipperVersion) (string, error) {
	locales := task.Locales
	if task.IsTranslationRequest() {
		// A translation request narrows the published locale but the
		// artifact must still contain every locale.
		locales = "*"
	}

	allHTML := true
	if chipper.Legacy() && len(task.Brands) > 0 && task.Brands[0] != domain.BrandPhet {
		allHTML = false
	}

	start := time.Now()
	buildDir, err := co.Build(vcs.BuildOptions{
		Clean:          false,
		Locales:        locales,
		Brands:         task.Brands,
		BuildForServer: true,
		Lint:           false,
		AllHTML:        allHTML,
	})
	if err != nil {
		return buildDir, err
	}
	metrics.BuildDuration.Observe(time.Since(start).Seconds())
	return buildDir, nil
}

// ─── Deploying: dev ─────────────────────────────────────────────────────────

func (r *Runner) deployDev(task *domain.Task, co Checkout, chipper domain.ChipperVersion, buildDir string) error {
	if task.HasBrand(domain.BrandPhetIO) {
		// Access control rides along with the sync, so it goes into the
		// build output before the transfer.
		subpath := buildDir
		if !chipper.Legacy() {
			subpath = filepath.Join(buildDir, string(domain.BrandPhetIO))
		}
		rootHtaccess := false
		if pkg, ok, err := co.PhetioPackage(); err != nil {
			return err
		} else if ok {
			rootHtaccess = pkg.Phet.AddRootHTAccessFile
		}
		info := deploy.PublishInfo{
			SimName:      task.SimName,
			RootHtaccess: rootHtaccess,
		}
		if err := r.Htaccess.WriteProtection(subpath, info, ""); err != nil {
			return err
		}
	}
	return r.Dev.Deploy(task.SimName, task.Version, chipper, task.Brands, buildDir)
}

// ─── Deploying: production ──────────────────────────────────────────────────

func (r *Runner) deployProduction(task *domain.Task, co Checkout, chipper domain.ChipperVersion, buildDir string) error {
	for _, brand := range task.Brands {
		switch brand {
		case domain.BrandPhet:
			if err := r.deployProductionPhet(task, co, chipper, buildDir); err != nil {
				return err
			}
		case domain.BrandPhetIO:
			if err := r.deployProductionPhetio(task, co, chipper, buildDir); err != nil {
				return err
			}
		default:
			return fmt.Errorf("brand %q cannot be deployed to production", brand)
		}
	}
	return nil
}

func (r *Runner) deployProductionPhet(task *domain.Task, co Checkout, chipper domain.ChipperVersion, buildDir string) error {
	targetDir, err := r.Prod.Deploy(domain.BrandPhet, task.SimName, task.Version, chipper, buildDir)
	if err != nil {
		return err
	}

	if !task.IsTranslationRequest() {
		r.refreshSimImages(task.SimName, task.Version, task.Branch)
	}

	if err := r.Htaccess.WriteLatestRedirect(task.SimName, r.SimsRoot); err != nil {
		return err
	}
	if err := r.Manifest.WriteManifest(task.SimName, task.Version, co.Root(), targetDir); err != nil {
		return err
	}

	// Website sync is best-effort: the artifacts are already live, so a
	// notify failure is emailed rather than aborting the deploy.
	locale, translator := "", ""
	if task.IsTranslationRequest() {
		locale, translator = task.Locales, task.UserID
	}
	if err := r.Website.DeployFinished(task.SimName, locale, translator); err != nil {
		notify.LogNotifyFailure("announcing "+task.SimName+" to website", err)
		r.Mailer.SendBuildEmail(
			fmt.Sprintf("Website sync failed for %s %s", task.SimName, task.Version),
			fmt.Sprintf("The deploy succeeded but the website could not be notified:\n\n%v", err),
			task.Email, false)
	}
	return nil
}

func (r *Runner) deployProductionPhetio(task *domain.Task, co Checkout, chipper domain.ChipperVersion, buildDir string) error {
	targetDir, err := r.Prod.Deploy(domain.BrandPhetIO, task.SimName, task.Version, chipper, buildDir)
	if err != nil {
		return err
	}

	suffix := task.VersionSuffix()
	if suffix == "" && chipper.Legacy() {
		suffix = "phetio"
	}

	pkg, err := co.SimPackage()
	if err != nil {
		return err
	}

	// The phet-io metadata record is part of "success": downstream
	// systems resolve wrappers through it, so a failed upsert aborts
	// even though the copy already happened.
	if err := r.Website.UpsertPhetioVersion(notify.PhetioVersion{
		SimName: task.SimName,
		Version: task.Version,
		Branch:  task.Branch,
		Suffix:  suffix,
		Active:  true,
		Ignored: pkg.Phet.IgnoreForAutomatedMaintenanceReleases,
	}); err != nil {
		return err
	}

	rootHtaccess := false
	if phetioPkg, ok, err := co.PhetioPackage(); err != nil {
		return err
	} else if ok {
		rootHtaccess = phetioPkg.Phet.AddRootHTAccessFile
	}

	devMirror := ""
	if r.DevHTMLRoot != "" {
		devMirror = path.Join(r.DevHTMLRoot, task.SimName, filepath.Base(targetDir))
	}
	return r.Htaccess.WriteProtection(targetDir, deploy.PublishInfo{
		ProductionDeploy:  true,
		SimName:           task.SimName,
		Version:           task.Version,
		SimsRoot:          r.PhetIORoot,
		AllowPublicAccess: pkg.Phet.AllowPublicAccess,
		RootHtaccess:      rootHtaccess,
	}, devMirror)
}

// refreshSimImages regenerates the published screenshots for one sim.
// Best-effort: a failed refresh is logged, never fatal.
func (r *Runner) refreshSimImages(simName, version, branch string) {
	if r.ScreenshotCmd == "" {
		return
	}
	err := r.runner()("", r.ScreenshotCmd,
		"--sim="+simName, "--version="+version, "--branch="+branch)
	if err != nil {
		log.Printf("[pipeline] WARNING: image refresh for %s %s: %v", simName, version, err)
	}
}

// ─── Outcome notification ───────────────────────────────────────────────────

func (r *Runner) sendFailureEmail(task domain.Task, stage string, err error) {
	var shas []string
	for name, ref := range task.RepoShas {
		if ref.SHA != "" {
			shas = append(shas, fmt.Sprintf("  %s: %s", name, ref.SHA))
		}
	}
	sort.Strings(shas)

	body := fmt.Sprintf(
		"Deploy of %s %s failed during %s.\n\nbrands: %v\nlocales: %s\nerror: %v\n\nshas:\n%s\n",
		task.SimName, task.Version, stage, task.Brands, task.Locales, err, strings.Join(shas, "\n"))
	r.Mailer.SendBuildEmail(
		fmt.Sprintf("Build failed: %s %s", task.SimName, task.Version),
		body, task.Email, false)
	metrics.EmailsSent.WithLabelValues("failure").Inc()
}

func (r *Runner) sendSuccessEmail(task domain.Task) {
	body := fmt.Sprintf("Deploy of %s %s finished.\n\nbrands: %v\nservers: %v\nlocales: %s\n",
		task.SimName, task.Version, task.Brands, task.Servers, task.Locales)
	r.Mailer.SendBuildEmail(
		fmt.Sprintf("Build succeeded: %s %s", task.SimName, task.Version),
		body, task.Email, task.IsTranslationRequest())
	metrics.EmailsSent.WithLabelValues("success").Inc()
}

func (r *Runner) record(task domain.Task, outcome history.Outcome, err error) {
	if r.History == nil {
		return
	}
	if recErr := r.History.RecordOutcome(task, outcome, err); recErr != nil {
		log.Printf("[pipeline] ERROR recording history for %s: %v", task.SimName, recErr)
	}
}
