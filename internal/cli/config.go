package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/sim-publish/buildserver/internal/daemon"
)

func init() {
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the active configuration",
	RunE:  runConfig,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file if none exists",
	RunE:  runConfigInit,
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := daemon.LoadConfig()
	if err != nil {
		return err
	}
	fmt.Printf("# %s\n", filepath.Join(daemon.ServerHome(), "config.toml"))
	return toml.NewEncoder(os.Stdout).Encode(cfg)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := filepath.Join(daemon.ServerHome(), "config.toml")
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config already exists at %s", path)
	}
	if err := daemon.SaveConfig(daemon.DefaultConfig()); err != nil {
		return err
	}
	fmt.Printf("Wrote default config to %s\n", path)
	return nil
}
