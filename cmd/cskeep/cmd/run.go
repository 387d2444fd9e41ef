package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/campuslink/cskeep/internal/activity"
	"github.com/campuslink/cskeep/internal/agent"
	"github.com/campuslink/cskeep/internal/bridge"
	"github.com/campuslink/cskeep/internal/credstore"
	"github.com/campuslink/cskeep/internal/pidfile"
	"github.com/campuslink/cskeep/internal/refreshclient"
	"github.com/campuslink/cskeep/internal/session"
)

var runNoAgent bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the credential keeper daemon",
	Long: `Start the background daemon. It watches the shared credential file,
refreshes the access credential before it expires, retries transient
failures with exponential backoff, and pauses while the network is
unreachable.

The daemon also exposes a local agent endpoint so other cskeep
invocations (status, refresh) can talk to it.`,
	Args: cobra.NoArgs,
	RunE: runDaemon,
}

func init() {
	runCmd.Flags().BoolVar(&runNoAgent, "no-agent", false, "do not expose the local agent endpoint")
	rootCmd.AddCommand(runCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	pidPath := pidfile.DefaultPath()
	if err := pidfile.Acquire(pidPath); err != nil {
		return err
	}
	defer func() {
		if err := pidfile.Remove(pidPath); err != nil {
			logger.Warn("remove pid file", "error", err)
		}
	}()

	store := credstore.New(cfg.StorePath)
	client := refreshclient.New(cfg.RefreshEndpoint)

	mgr, err := session.New(store, client,
		session.WithConfig(cfg.SessionConfig()),
		session.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	log, err := activity.Open(cfg.ActivityPath)
	if err != nil {
		return fmt.Errorf("open activity log: %w", err)
	}
	defer log.Close()

	recorder := activity.NewRecorder(log, mgr.RunID(), logger)
	recorder.Follow(mgr)
	defer recorder.Stop()

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

	relay := agent.NewRelay(logger)
	relay.Attach(ctx, mgr)

	var agentSrv *agent.Server
	if !runNoAgent {
		agentSrv = agent.NewServer(cfg.AgentAddr, relay, func() any { return mgr.Status() }, logger)
		if err := agentSrv.Start(ctx); err != nil {
			return fmt.Errorf("start agent endpoint: %w", err)
		}
	}

	if err := mgr.Start(ctx); err != nil {
		return err
	}
	br.Start(ctx)

	// Seed the state machine before the first tick.
	mgr.Evaluate(ctx, session.TriggerTick)

	fmt.Println("cskeep daemon started")
	fmt.Printf("  credential file: %s\n", cfg.StorePath)
	fmt.Printf("  refresh endpoint: %s\n", cfg.RefreshEndpoint)
	if agentSrv != nil {
		fmt.Printf("  agent endpoint: http://%s\n", agentSrv.Addr())
	}
	fmt.Println("Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		fmt.Println("\nShutting down...")
	case <-ctx.Done():
	}

	mgr.Stop()
	relay.Detach()

	if agentSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := agentSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("agent endpoint stop error", "error", err)
		}
	}

	fmt.Println("Daemon stopped.")
	return nil
}
