//go:build !linux

package connectivity

import (
	"context"
	"log/slog"
)

// NetlinkWatcher is a no-op outside Linux.
type NetlinkWatcher struct{}

// NewNetlinkWatcher returns nil outside Linux; every method is nil-safe.
func NewNetlinkWatcher(onChange func(iface string), interfaces ...string) *NetlinkWatcher {
	return nil
}

func (w *NetlinkWatcher) Start(ctx context.Context) error {
	slog.Debug("netlink watcher not supported on this platform")
	return nil
}

func (w *NetlinkWatcher) Stop() {}

func (w *NetlinkWatcher) Running() bool { return false }
