package daemon

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sim-publish/buildserver/internal/api"
	"github.com/sim-publish/buildserver/internal/deploy"
	"github.com/sim-publish/buildserver/internal/history"
	"github.com/sim-publish/buildserver/internal/notify"
	"github.com/sim-publish/buildserver/internal/pipeline"
	"github.com/sim-publish/buildserver/internal/queue"
	"github.com/sim-publish/buildserver/internal/vcs"
	"github.com/sim-publish/buildserver/internal/worker"
)

// Daemon is the build server runtime. It wires together all services.
type Daemon struct {
	Config  Config
	Store   *queue.Store
	History *history.DB
	Workers *worker.Queue
	Runner  *pipeline.Runner
	Server  *api.Server
	cancel  context.CancelFunc
}

// New creates and initializes a Daemon with all services wired.
func New() (*Daemon, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewWithConfig(cfg)
}

// NewWithConfig creates a Daemon with the given configuration.
func NewWithConfig(cfg Config) (*Daemon, error) {
	home := serverHome()

	store, err := queue.NewStore(filepath.Join(home, "queue.json"))
	if err != nil {
		return nil, fmt.Errorf("open queue store: %w", err)
	}

	hist, err := history.Open(home)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}

	mailer := notify.NewMailer(cfg.Mail.Host, cfg.Mail.Port, cfg.Mail.User,
		cfg.Mail.Password, cfg.Mail.From, cfg.Mail.Recipients)
	website := notify.NewWebsiteClient(cfg.Website.URL, cfg.Website.Token)

	htaccess := deploy.NewHtaccessWriter(cfg.Production.HtpasswdFile, website)
	htaccess.Mirror = deploy.DevMirror{User: cfg.Dev.User, Host: cfg.Dev.Host}

	runner := &pipeline.Runner{
		Store:    store,
		History:  hist,
		Mailer:   mailer,
		Website:  website,
		Dev:      deploy.NewDevWriter(cfg.Dev.User, cfg.Dev.Host, cfg.Dev.Root),
		Prod:     deploy.NewProductionWriter(cfg.Production.SimsRoot, cfg.Production.PhetIORoot),
		Htaccess: htaccess,
		Manifest: deploy.NewManifestWriter(),
		NewCheckout: func(simName, branch string) pipeline.Checkout {
			return vcs.NewCheckout(cfg.Build.CheckoutDir, simName, branch, cfg.Build.Command)
		},
		SimsRoot:      cfg.Production.SimsRoot,
		PhetIORoot:    cfg.Production.PhetIORoot,
		DevHTMLRoot:   cfg.Dev.HTMLRoot,
		ScreenshotCmd: cfg.Production.ScreenshotCmd,
	}

	workers := worker.NewQueue(128)
	srv := api.NewServer(cfg.API.AuthorizationCode, store, hist, workers, runner)
	if cfg.Telemetry.Prometheus {
		srv.EnableMetrics()
	}

	return &Daemon{
		Config:  cfg,
		Store:   store,
		History: hist,
		Workers: workers,
		Runner:  runner,
		Server:  srv,
	}, nil
}

// ResumeQueue re-submits tasks that were pending when the process last
// stopped. An in-flight task at shutdown is never resumed — it stays
// visible on the status endpoint until its submitter sends it again.
func (d *Daemon) ResumeQueue() {
	doc := d.Store.Load()
	if doc.CurrentTask != nil {
		log.Printf("[daemon] found interrupted task %s %s — not resuming, resubmit it",
			doc.CurrentTask.SimName, doc.CurrentTask.Version)
	}
	for _, task := range doc.Queue {
		task := task
		if err := d.Workers.Submit(func() { d.Runner.Run(task) }); err != nil {
			log.Printf("[daemon] ERROR resuming task %s %s: %v", task.SimName, task.Version, err)
			return
		}
		log.Printf("[daemon] resumed pending task %s %s", task.SimName, task.Version)
	}
}

// Serve starts the worker and HTTP server and blocks until shutdown.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	go d.Workers.Run(ctx)
	d.ResumeQueue()

	addr := fmt.Sprintf("%s:%d", d.Config.API.Host, d.Config.API.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      d.Server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: time.Minute,
		IdleTimeout:  2 * time.Minute,
	}

	// Graceful shutdown on signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
		case <-ctx.Done():
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		cancel()
		_ = httpServer.Shutdown(shutdownCtx)
		_ = d.History.Close()
	}()

	log.Printf("[daemon] build server listening on http://%s", addr)
	if d.Config.Telemetry.Prometheus {
		log.Printf("[daemon] metrics: http://%s/metrics", addr)
	}

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Close shuts down all daemon resources.
func (d *Daemon) Close() {
	if d.cancel != nil {
		d.cancel()
	}
	if d.History != nil {
		_ = d.History.Close()
	}
}
