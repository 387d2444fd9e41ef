package bridge

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/campuslink/cskeep/internal/session"
)

// SessionControl is the slice of the session manager the bridge drives.
type SessionControl interface {
	Evaluate(ctx context.Context, trigger session.Trigger)
	SetOnline(ctx context.Context, online bool)
}

// Bridge ties a session manager to file, network, and clock signals.
type Bridge struct {
	mgr     SessionControl
	logger  *slog.Logger
	watcher *StoreWatcher
	prober  *Prober
	wake    *WakeMonitor

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// Config wires up a Bridge.
type Config struct {
	// StorePath is the credential file to watch.
	StorePath string
	// ProbeAddress is the host:port the connectivity prober dials.
	// Empty disables probing and the manager is assumed online.
	ProbeAddress string
	// ProbeInterval overrides the probe cadence when positive.
	ProbeInterval time.Duration
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// New builds and starts the bridge's signal sources. Call Start to
// begin forwarding into the manager and Close to tear everything down.
func New(mgr SessionControl, cfg Config) (*Bridge, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	b := &Bridge{
		mgr:    mgr,
		logger: logger,
	}

	w, err := WatchStore(cfg.StorePath)
	if err != nil {
		return nil, err
	}
	b.watcher = w

	if cfg.ProbeAddress != "" {
		var opts []ProberOption
		if cfg.ProbeInterval > 0 {
			opts = append(opts, WithProbeInterval(cfg.ProbeInterval))
		}
		b.prober = NewProber(cfg.ProbeAddress, b.onConnectivity, opts...)
	}

	b.wake = NewWakeMonitor(b.onWake)
	return b, nil
}

// Start begins forwarding signals into the session manager.
func (b *Bridge) Start(ctx context.Context) {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return
	}
	b.running = true
	b.stopCh = make(chan struct{})
	b.doneCh = make(chan struct{})
	stopCh, doneCh := b.stopCh, b.doneCh
	b.mu.Unlock()

	if b.prober != nil {
		b.prober.Start(ctx)
	}
	b.wake.Start(ctx)

	go b.forward(ctx, stopCh, doneCh)
}

func (b *Bridge) forward(ctx context.Context, stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case c, ok := <-b.watcher.Changes():
			if !ok {
				return
			}
			b.logger.Debug("credential file changed", "path", c.Path)
			b.mgr.Evaluate(ctx, session.TriggerStoreChange)
		case err, ok := <-b.watcher.Errors():
			if !ok {
				return
			}
			b.logger.Error("store watcher error", "error", err)
		}
	}
}

func (b *Bridge) onConnectivity(online bool) {
	b.logger.Info("connectivity probe", "online", online)
	b.mgr.SetOnline(context.Background(), online)
}

func (b *Bridge) onWake(gap time.Duration) {
	b.logger.Info("wake from suspend detected", "gap", gap.String())
	b.mgr.Evaluate(context.Background(), session.TriggerWake)
}

// Close stops all signal sources and the forwarding loop.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return b.watcher.Close()
	}
	b.running = false
	close(b.stopCh)
	doneCh := b.doneCh
	b.mu.Unlock()

	if b.prober != nil {
		b.prober.Stop()
	}
	b.wake.Stop()

	err := b.watcher.Close()
	<-doneCh
	return err
}
