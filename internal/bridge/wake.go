package bridge

import (
	"context"
	"sync"
	"time"
)

const (
	defaultWakeInterval = 15 * time.Second
	// A tick arriving this much later than scheduled means the process
	// was suspended rather than merely delayed.
	defaultWakeSlack = 30 * time.Second
)

// WakeMonitor detects the machine resuming from suspend by comparing
// wall-clock gaps between ticks. Timers do not fire while suspended, so
// a tick that arrives far later than scheduled marks a wake.
type WakeMonitor struct {
	interval time.Duration
	slack    time.Duration
	onWake   func(gap time.Duration)
	now      func() time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// WakeOption configures a WakeMonitor.
type WakeOption func(*WakeMonitor)

// WithWakeInterval sets the tick interval.
func WithWakeInterval(d time.Duration) WakeOption {
	return func(m *WakeMonitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithWakeSlack sets how far past the scheduled tick a gap must reach
// to count as a wake.
func WithWakeSlack(d time.Duration) WakeOption {
	return func(m *WakeMonitor) {
		if d > 0 {
			m.slack = d
		}
	}
}

// NewWakeMonitor builds a monitor that calls onWake with the observed
// gap whenever a suspend is detected.
func NewWakeMonitor(onWake func(gap time.Duration), opts ...WakeOption) *WakeMonitor {
	m := &WakeMonitor{
		interval: defaultWakeInterval,
		slack:    defaultWakeSlack,
		onWake:   onWake,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start begins monitoring.
func (m *WakeMonitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	stopCh, doneCh := m.stopCh, m.doneCh
	m.mu.Unlock()

	go m.run(ctx, stopCh, doneCh)
}

// Stop halts monitoring and waits for the loop to exit.
func (m *WakeMonitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	doneCh := m.doneCh
	m.mu.Unlock()

	<-doneCh
}

func (m *WakeMonitor) run(ctx context.Context, stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	last := m.now()
	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := m.now()
			gap := now.Sub(last)
			last = now
			if gap > m.interval+m.slack && m.onWake != nil {
				m.onWake(gap)
			}
		}
	}
}
