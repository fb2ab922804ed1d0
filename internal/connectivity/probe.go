package connectivity

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

const (
	DefaultProbeInterval = 15 * time.Second
	DefaultProbeTimeout  = 5 * time.Second
)

// ProbeSignal derives connectivity from HTTP HEAD requests against a URL.
// Any response below 500 counts as online; transport errors and 5xx count as
// offline.
type ProbeSignal struct {
	switchboard

	url      string
	client   *http.Client
	interval time.Duration
	timeout  time.Duration
	trigger  chan struct{} // buffered, size 1
}

// ProbeOption configures a ProbeSignal.
type ProbeOption func(*ProbeSignal)

// WithProbeInterval sets how often Run probes.
func WithProbeInterval(d time.Duration) ProbeOption {
	return func(p *ProbeSignal) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithProbeTimeout bounds a single probe.
func WithProbeTimeout(d time.Duration) ProbeOption {
	return func(p *ProbeSignal) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithHTTPClient replaces the client used for probes.
func WithHTTPClient(c *http.Client) ProbeOption {
	return func(p *ProbeSignal) {
		if c != nil {
			p.client = c
		}
	}
}

// NewProbeSignal returns a ProbeSignal for url. It reports offline until the
// first probe succeeds.
func NewProbeSignal(url string, opts ...ProbeOption) *ProbeSignal {
	p := &ProbeSignal{
		url:      url,
		client:   http.DefaultClient,
		interval: DefaultProbeInterval,
		timeout:  DefaultProbeTimeout,
		trigger:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Probe checks the URL once and applies the result. Returns the new state.
func (p *ProbeSignal) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	online := false
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err == nil {
		var resp *http.Response
		resp, err = p.client.Do(req)
		if err == nil {
			resp.Body.Close()
			online = resp.StatusCode < http.StatusInternalServerError
		}
	}

	if p.set(online) {
		if online {
			slog.Info("connectivity probe succeeded", "url", p.url)
		} else {
			slog.Warn("connectivity probe failed", "url", p.url, "error", err)
		}
	}
	return online
}

// Trigger requests an immediate probe from Run. Never blocks; multiple
// triggers before Run wakes coalesce into one probe.
func (p *ProbeSignal) Trigger() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// Run probes immediately and then on every interval or Trigger until ctx is
// done. Always returns ctx.Err().
func (p *ProbeSignal) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.Probe(ctx)
		case <-p.trigger:
			p.Probe(ctx)
		}
	}
}
