// Package connectivity tracks whether the remote service is reachable and how
// much local work is waiting for it.
//
// A Signal reports raw online/offline transitions. ManualSignal is driven by
// the application (or a test); ProbeSignal derives the state from periodic
// HTTP probes, optionally re-probing immediately when a network interface
// changes (NetlinkWatcher, Linux only).
//
// A Monitor combines a Signal with a periodic poll of the mutation queue length
// into a State that consumers read synchronously or subscribe to. Every signal
// transition is applied to the State immediately, without debouncing.
package connectivity
