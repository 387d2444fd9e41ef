package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/campuslink/cskeep/internal/activity"
)

var (
	activityLimit int
	activityJSON  bool
	activityPrune time.Duration
)

var activityCmd = &cobra.Command{
	Use:   "activity",
	Short: "Show recorded session events",
	Long: `List recent session lifecycle events (refreshes, failures, expiries)
from the local activity log.`,
	Args: cobra.NoArgs,
	RunE: runActivity,
}

func init() {
	activityCmd.Flags().IntVarP(&activityLimit, "limit", "n", 20, "number of events to show")
	activityCmd.Flags().BoolVar(&activityJSON, "json", false, "output JSON")
	activityCmd.Flags().DurationVar(&activityPrune, "prune", 0, "delete events older than this duration and exit")
	rootCmd.AddCommand(activityCmd)
}

func runActivity(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log, err := activity.Open(cfg.ActivityPath)
	if err != nil {
		return err
	}
	defer log.Close()

	if activityPrune > 0 {
		n, err := log.Prune(time.Now().Add(-activityPrune))
		if err != nil {
			return err
		}
		fmt.Printf("pruned %d event(s)\n", n)
		return nil
	}

	entries, err := log.Recent(activityLimit)
	if err != nil {
		return err
	}

	if activityJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	if len(entries) == 0 {
		fmt.Println("no recorded events")
		return nil
	}

	for _, e := range entries {
		line := fmt.Sprintf("%s  %-20s", e.Timestamp.Local().Format("2006-01-02 15:04:05"), e.Event)
		if e.Detail != "" {
			line += "  " + e.Detail
		}
		fmt.Println(line)
	}
	return nil
}
