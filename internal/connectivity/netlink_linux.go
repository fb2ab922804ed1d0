//go:build linux

package connectivity

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/pilebones/go-udev/netlink"
)

// NetlinkWatcher listens for kernel uevents on the net subsystem and calls
// onChange whenever an interface appears, disappears or changes. It is used to
// re-probe connectivity immediately instead of waiting for the next interval.
type NetlinkWatcher struct {
	onChange   func(iface string)
	interfaces []string

	mu      sync.Mutex
	conn    *netlink.UEventConn
	quit    chan struct{}
	running bool
}

// NewNetlinkWatcher returns a watcher for the named interfaces, or for every
// interface if none are given. Returns nil if onChange is nil.
func NewNetlinkWatcher(onChange func(iface string), interfaces ...string) *NetlinkWatcher {
	if onChange == nil {
		return nil
	}
	return &NetlinkWatcher{
		onChange:   onChange,
		interfaces: interfaces,
	}
}

// Start begins listening. Failing to open the netlink socket is logged and
// otherwise ignored: probing on the interval still works.
func (w *NetlinkWatcher) Start(ctx context.Context) error {
	if w == nil {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.KernelEvent); err != nil {
		slog.Warn("netlink unavailable; interface changes will not trigger probes",
			"error", err,
		)
		return nil
	}

	w.conn = conn
	w.quit = make(chan struct{})
	w.running = true

	quit := w.quit
	go w.loop(ctx, conn, quit)

	slog.Info("netlink watcher started", "interfaces", w.interfaces)
	return nil
}

// Stop shuts the watcher down. Safe to call more than once.
func (w *NetlinkWatcher) Stop() {
	if w == nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	close(w.quit)
	w.quit = nil
	_ = w.conn.Close()
	w.conn = nil
	w.running = false
}

// Running reports whether the watcher is active.
func (w *NetlinkWatcher) Running() bool {
	if w == nil {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *NetlinkWatcher) loop(ctx context.Context, conn *netlink.UEventConn, quit <-chan struct{}) {
	queue := make(chan netlink.UEvent)
	errs := make(chan error)
	monitorQuit := conn.Monitor(queue, errs, w.buildMatcher())

	for {
		select {
		case <-ctx.Done():
			close(monitorQuit)
			return
		case <-quit:
			close(monitorQuit)
			return
		case ev := <-queue:
			w.handleEvent(ev)
		case err := <-errs:
			slog.Warn("netlink watcher error", "error", err)
		}
	}
}

// buildMatcher matches SUBSYSTEM=net events, restricted to the configured
// interfaces when any are set.
func (w *NetlinkWatcher) buildMatcher() netlink.Matcher {
	action := "add|remove|change|move|online|offline"
	env := map[string]string{"SUBSYSTEM": "^net$"}
	if len(w.interfaces) > 0 {
		quoted := make([]string, len(w.interfaces))
		for i, iface := range w.interfaces {
			quoted[i] = regexp.QuoteMeta(iface)
		}
		env["INTERFACE"] = "^(" + strings.Join(quoted, "|") + ")$"
	}

	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env:    env,
	})
	return rules
}

func (w *NetlinkWatcher) handleEvent(ev netlink.UEvent) {
	iface := ev.Env["INTERFACE"]
	slog.Debug("network interface event",
		"interface", iface,
		"action", string(ev.Action),
	)
	w.onChange(iface)
}
