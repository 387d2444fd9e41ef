package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/campuslink/cskeep/internal/agent"
	"github.com/campuslink/cskeep/internal/credstore"
	"github.com/campuslink/cskeep/internal/refreshclient"
	"github.com/campuslink/cskeep/internal/session"
)

var refreshCheck bool

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Force an immediate credential refresh",
	Long: `Ask the running daemon to refresh the credential now, regardless of
its remaining lifetime. Without a reachable daemon the refresh is
performed in-process against the shared credential file.

With --check the daemon only re-evaluates session state and refreshes
if the credential is inside the refresh window.`,
	Args: cobra.NoArgs,
	RunE: runRefresh,
}

func init() {
	refreshCmd.Flags().BoolVar(&refreshCheck, "check", false, "re-evaluate instead of forcing")
	rootCmd.AddCommand(refreshCmd)
}

func runRefresh(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	msgType := agent.MsgForceRefresh
	if refreshCheck {
		msgType = agent.MsgCheckRequest
	}

	c := agent.NewClient(cfg.AgentAddr)
	if c.Ping(ctx) {
		delivered, err := c.Send(ctx, msgType)
		if err != nil {
			return err
		}
		if !delivered {
			return fmt.Errorf("daemon accepted the request but has no active session manager")
		}
		fmt.Println("refresh requested")
		return nil
	}

	// No daemon: run a one-shot refresh against the shared file.
	logger := newLogger()
	store := credstore.New(cfg.StorePath)
	client := refreshclient.New(cfg.RefreshEndpoint)

	mgr, err := session.New(store, client,
		session.WithConfig(cfg.SessionConfig()),
		session.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	if refreshCheck {
		mgr.Evaluate(ctx, session.TriggerAgent)
		st := mgr.Status()
		fmt.Printf("session %s\n", st.State)
		return nil
	}

	if ok := mgr.ForceRefresh(ctx); !ok {
		return fmt.Errorf("refresh failed; session is not valid")
	}
	fmt.Println("credential refreshed")
	return nil
}
