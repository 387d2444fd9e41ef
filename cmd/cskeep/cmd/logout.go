package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/campuslink/cskeep/internal/credstore"
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove the stored credential",
	Long: `Delete the shared credential file. Every cskeep process observing the
file converges on the ended session; a running daemon will report
no_session on its next evaluation.`,
	Args: cobra.NoArgs,
	RunE: runLogout,
}

func init() {
	rootCmd.AddCommand(logoutCmd)
}

func runLogout(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store := credstore.New(cfg.StorePath)

	rec, err := store.Load()
	if err != nil {
		return err
	}
	if rec == nil {
		fmt.Println("no stored credential")
		return nil
	}

	if err := store.Clear(); err != nil {
		return fmt.Errorf("remove credential: %w", err)
	}
	fmt.Println("credential removed")
	return nil
}
