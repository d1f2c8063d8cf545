// Package daemon manages the build server lifecycle and configuration.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config holds all operator-local settings: the shared intake secret,
// remote-host credentials and paths, production website access, and the
// mail transport.
type Config struct {
	API        APIConfig        `toml:"api"`
	Dev        DevHostConfig    `toml:"dev_host"`
	Production ProductionConfig `toml:"production"`
	Website    WebsiteConfig    `toml:"website"`
	Mail       MailConfig       `toml:"mail"`
	Build      BuildConfig      `toml:"build"`
	Telemetry  TelemetryConfig  `toml:"telemetry"`
}

// APIConfig controls the HTTP intake server.
type APIConfig struct {
	Host              string `toml:"host"`
	Port              int    `toml:"port"`
	AuthorizationCode string `toml:"authorization_code"`
}

// DevHostConfig identifies the development hosting target.
type DevHostConfig struct {
	User     string `toml:"user"`
	Host     string `toml:"host"`
	Root     string `toml:"root"`      // remote directory holding sim version dirs
	HTMLRoot string `toml:"html_root"` // remote mirror root for access-control files
}

// ProductionConfig identifies the production filesystem layout. The
// production web tree is local to this server.
type ProductionConfig struct {
	SimsRoot      string `toml:"sims_root"`      // public HTML root for phet-brand sims
	PhetIORoot    string `toml:"phetio_root"`    // restricted root for phet-io artifacts
	HtpasswdFile  string `toml:"htpasswd_file"`  // basic-auth password file referenced by .htaccess
	ScreenshotCmd string `toml:"screenshot_cmd"` // per-sim image refresh command, empty disables
}

// WebsiteConfig is the production web service this server notifies.
type WebsiteConfig struct {
	URL   string `toml:"url"`
	Token string `toml:"token"`
}

// MailConfig controls the SMTP transport. An empty host disables email.
type MailConfig struct {
	Host       string   `toml:"host"`
	Port       int      `toml:"port"`
	User       string   `toml:"user"`
	Password   string   `toml:"password"`
	From       string   `toml:"from"`
	Recipients []string `toml:"recipients"`
}

// BuildConfig controls source checkout and the external build command.
type BuildConfig struct {
	CheckoutDir string `toml:"checkout_dir"` // release-branch working copies live here
	Command     string `toml:"command"`      // external build binary
}

// TelemetryConfig controls observability endpoints.
type TelemetryConfig struct {
	Prometheus bool `toml:"prometheus"`
}

// DefaultConfig returns a runnable local configuration.
func DefaultConfig() Config {
	home := serverHome()
	return Config{
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 16371,
		},
		Dev: DevHostConfig{
			Root:     "/htdocs/physics/sims/html",
			HTMLRoot: "/htdocs/physics",
		},
		Production: ProductionConfig{
			SimsRoot:     filepath.Join(home, "sims"),
			PhetIORoot:   filepath.Join(home, "phet-io", "sims"),
			HtpasswdFile: "/etc/httpd/.htpasswd",
		},
		Mail: MailConfig{
			Port: 587,
		},
		Build: BuildConfig{
			CheckoutDir: filepath.Join(home, "checkouts"),
			Command:     "grunt",
		},
		Telemetry: TelemetryConfig{
			Prometheus: true,
		},
	}
}

// LoadConfig reads config from $BUILDSERVER_HOME/config.toml, falling back
// to defaults for anything unset.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	path := filepath.Join(serverHome(), "config.toml")

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil // No config file yet — use defaults
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes the config to $BUILDSERVER_HOME/config.toml.
func SaveConfig(cfg Config) error {
	path := filepath.Join(serverHome(), "config.toml")
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(cfg)
}

// serverHome returns the build server data directory.
func serverHome() string {
	if env := os.Getenv("BUILDSERVER_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".buildserver")
}

// ServerHome is exported for use by other packages.
func ServerHome() string {
	return serverHome()
}
