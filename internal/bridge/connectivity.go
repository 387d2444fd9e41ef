package bridge

import (
	"context"
	"net"
	"net/url"
	"sync"
	"time"
)

const (
	defaultProbeInterval = 30 * time.Second
	defaultProbeTimeout  = 5 * time.Second
)

// DialFunc matches net.Dialer.DialContext.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Prober checks reachability of the refresh endpoint's host by opening
// a TCP connection on an interval. Transitions are reported through the
// OnChange callback; the first probe always reports.
type Prober struct {
	address  string
	interval time.Duration
	timeout  time.Duration
	dial     DialFunc
	onChange func(online bool)

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// ProbeAddress derives the host:port to dial from an endpoint URL,
// filling in the scheme's default port when the URL omits one.
func ProbeAddress(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		switch u.Scheme {
		case "https":
			port = "443"
		default:
			port = "80"
		}
	}
	return net.JoinHostPort(host, port), nil
}

// ProberOption configures a Prober.
type ProberOption func(*Prober)

// WithProbeInterval sets the time between probes.
func WithProbeInterval(d time.Duration) ProberOption {
	return func(p *Prober) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithProbeTimeout sets the per-dial timeout.
func WithProbeTimeout(d time.Duration) ProberOption {
	return func(p *Prober) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithDialFunc overrides the dialer.
func WithDialFunc(dial DialFunc) ProberOption {
	return func(p *Prober) {
		if dial != nil {
			p.dial = dial
		}
	}
}

// NewProber builds a prober for address. onChange fires outside the
// prober's lock on every observed transition.
func NewProber(address string, onChange func(online bool), opts ...ProberOption) *Prober {
	d := &net.Dialer{}
	p := &Prober{
		address:  address,
		interval: defaultProbeInterval,
		timeout:  defaultProbeTimeout,
		dial:     d.DialContext,
		onChange: onChange,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start begins probing. The first probe runs immediately.
func (p *Prober) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	stopCh, doneCh := p.stopCh, p.doneCh
	p.mu.Unlock()

	go p.run(ctx, stopCh, doneCh)
}

// Stop halts probing and waits for the loop to exit.
func (p *Prober) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	doneCh := p.doneCh
	p.mu.Unlock()

	<-doneCh
}

func (p *Prober) run(ctx context.Context, stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	// Unknown until the first probe answers.
	var known bool
	var online bool

	probe := func() {
		now := p.probeOnce(ctx)
		if known && now == online {
			return
		}
		known = true
		online = now
		if p.onChange != nil {
			p.onChange(now)
		}
	}

	probe()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			probe()
		}
	}
}

func (p *Prober) probeOnce(ctx context.Context) bool {
	dctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	conn, err := p.dial(dctx, "tcp", p.address)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
