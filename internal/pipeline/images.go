package pipeline

import (
	"log"

	"github.com/sim-publish/buildserver/internal/domain"
)

// RefreshImages regenerates published screenshots. With a concrete
// simName and version only that simulation is refreshed; otherwise every
// currently-published simulation (per the website metadata service) is.
// The whole operation is best-effort: individual failures are logged and
// the rest of the batch proceeds.
func (r *Runner) RefreshImages(branch string, brands []domain.Brand, simName, version string) {
	if r.ScreenshotCmd == "" {
		log.Printf("[pipeline] no screenshot command configured, skipping image refresh")
		return
	}

	if simName != "" && version != "" {
		r.refreshSimImages(simName, version, branch)
		return
	}

	sims, err := r.Website.PublishedSims()
	if err != nil {
		log.Printf("[pipeline] ERROR listing published sims for image refresh: %v", err)
		return
	}
	log.Printf("[pipeline] refreshing images for %d published sims (branch=%s brands=%v)", len(sims), branch, brands)
	for _, sim := range sims {
		r.refreshSimImages(sim.Name, sim.Version, branch)
	}
}
