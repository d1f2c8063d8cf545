package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sim-publish/buildserver/internal/daemon"
	"github.com/sim-publish/buildserver/internal/domain"
	"github.com/sim-publish/buildserver/internal/history"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the running server's queue and recent deploys",
	RunE:  runStatus,
}

// statusResponse mirrors the /deploy-status payload.
type statusResponse struct {
	Queue       []domain.Task    `json:"queue"`
	CurrentTask *domain.Task     `json:"currentTask"`
	Recent      []history.Record `json:"recent"`
	Time        string           `json:"time"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := daemon.LoadConfig()
	if err != nil {
		return err
	}

	url := fmt.Sprintf("http://%s:%d/deploy-status", cfg.API.Host, cfg.API.Port)
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("is the server running? %w", err)
	}
	defer resp.Body.Close()

	var status statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("decode status response: %w", err)
	}

	if status.CurrentTask != nil {
		t := status.CurrentTask
		fmt.Printf("Building: %s %s (brands=%v servers=%v)\n", t.SimName, t.Version, t.Brands, t.Servers)
	} else {
		fmt.Println("Idle.")
	}

	if len(status.Queue) == 0 {
		fmt.Println("Queue is empty.")
	} else {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SIM\tVERSION\tBRANDS\tSERVERS\tENQUEUED")
		for _, t := range status.Queue {
			fmt.Fprintf(w, "%s\t%s\t%v\t%v\t%s\n",
				t.SimName, t.Version, t.Brands, t.Servers,
				t.EnqueueTime.Format("15:04:05"),
			)
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	if len(status.Recent) > 0 {
		fmt.Println()
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "RECENT\tVERSION\tOUTCOME\tFINISHED")
		for _, rec := range status.Recent {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				rec.SimName, rec.Version, rec.Outcome,
				rec.FinishedAt.Format("Jan 02 15:04"),
			)
		}
		return w.Flush()
	}
	return nil
}
