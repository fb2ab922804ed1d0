package connectivity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManualSignal_NotifiesOnTransitionOnly(t *testing.T) {
	s := NewManualSignal(false)

	var got []bool
	unsubscribe := s.Subscribe(func(online bool) { got = append(got, online) })

	assert.False(t, s.Set(false), "same state is not a transition")
	assert.True(t, s.Set(true))
	assert.True(t, s.Set(false))
	assert.True(t, s.Set(true))
	assert.True(t, s.Online())

	assert.Equal(t, []bool{true, false, true}, got, "flapping surfaces every transition")

	unsubscribe()
	unsubscribe() // idempotent
	s.Set(false)
	assert.Len(t, got, 3)
}

func TestManualSignal_SubscriberMayReadState(t *testing.T) {
	s := NewManualSignal(false)

	var seen bool
	s.Subscribe(func(bool) { seen = s.Online() })
	s.Set(true)

	assert.True(t, seen)
}

func TestProbeSignal_Probe(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	p := NewProbeSignal(srv.URL, WithProbeTimeout(time.Second))
	require.False(t, p.Online(), "offline until first probe")

	var transitions []bool
	p.Subscribe(func(online bool) { transitions = append(transitions, online) })

	ctx := context.Background()
	assert.True(t, p.Probe(ctx))

	status.Store(http.StatusNotFound)
	assert.True(t, p.Probe(ctx), "4xx still means the remote answered")

	status.Store(http.StatusServiceUnavailable)
	assert.False(t, p.Probe(ctx))

	assert.Equal(t, []bool{true, false}, transitions)
}

func TestProbeSignal_UnreachableIsOffline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	p := NewProbeSignal(url, WithProbeTimeout(500*time.Millisecond))
	assert.False(t, p.Probe(context.Background()))
}

func TestProbeSignal_RunAndTrigger(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	// Interval long enough that only the initial probe and Trigger fire.
	p := NewProbeSignal(srv.URL, WithProbeInterval(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, p.Online, time.Second, 5*time.Millisecond)

	p.Trigger()
	p.Trigger() // coalesced
	require.Eventually(t, func() bool { return hits.Load() >= 2 }, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
