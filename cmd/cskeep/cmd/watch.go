package cmd

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/campuslink/cskeep/internal/bridge"
	"github.com/campuslink/cskeep/internal/credstore"
	"github.com/campuslink/cskeep/internal/refreshclient"
	"github.com/campuslink/cskeep/internal/session"
	"github.com/campuslink/cskeep/internal/tui"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch session state live in the terminal",
	Long: `Open a live view of the session lifecycle. The watcher runs its own
session manager sharing the credential file, so it keeps the
credential fresh too and converges with any running daemon through
the file.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store := credstore.New(cfg.StorePath)
	client := refreshclient.New(cfg.RefreshEndpoint)

	mgr, err := session.New(store, client,
		session.WithConfig(cfg.SessionConfig()),
		session.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	probeAddr, err := bridge.ProbeAddress(cfg.RefreshEndpoint)
	if err != nil {
		return fmt.Errorf("derive probe address: %w", err)
	}

	br, err := bridge.New(mgr, bridge.Config{
		StorePath:     cfg.StorePath,
		ProbeAddress:  probeAddr,
		ProbeInterval: cfg.ProbeInterval.Duration(),
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("start bridge: %w", err)
	}
	defer br.Close()

	events, unsubscribe := mgr.Subscribe()
	defer unsubscribe()

	if err := mgr.Start(ctx); err != nil {
		return err
	}
	defer mgr.Stop()
	br.Start(ctx)

	mgr.Evaluate(ctx, session.TriggerTick)

	model := tui.New(mgr.Status, mgr.ForceRefresh, events)
	_, err = tea.NewProgram(model).Run()
	return err
}
