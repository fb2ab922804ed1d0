package engine

// trigger is a coalescing wake-up signal for the Run loop.
//
// The channel has a buffer of 1: any number of fire calls before the loop
// wakes collapse into a single wake-up, and fire never blocks.
type trigger struct {
	ch chan struct{}
}

func newTrigger() *trigger {
	return &trigger{ch: make(chan struct{}, 1)}
}

// fire requests a wake-up. Safe from any goroutine, including listeners
// running inside Flush.
func (t *trigger) fire() {
	select {
	case t.ch <- struct{}{}:
	default:
	}
}

// wait returns the channel to select on.
func (t *trigger) wait() <-chan struct{} {
	return t.ch
}
