package network

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"recipe-resolver/internal/infrastructure/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitorOptimisticDefault(t *testing.T) {
	m := NewMonitor(&config.NetworkConfig{})
	defer m.Close()

	assert.True(t, m.Online())
}

func TestMonitorManualOverride(t *testing.T) {
	m := NewMonitor(&config.NetworkConfig{})
	defer m.Close()

	m.SetOnline(false)
	assert.False(t, m.Online())
	m.SetOnline(true)
	assert.True(t, m.Online())
}

func TestMonitorSubscribeReceivesChanges(t *testing.T) {
	m := NewMonitor(&config.NetworkConfig{})
	defer m.Close()

	ch := m.Subscribe()
	m.SetOnline(false)

	select {
	case online := <-ch:
		assert.False(t, online)
	case <-time.After(time.Second):
		t.Fatal("no status change received")
	}
}

func TestMonitorSubscribeSkipsNoChange(t *testing.T) {
	m := NewMonitor(&config.NetworkConfig{})
	defer m.Close()

	ch := m.Subscribe()
	m.SetOnline(true) // already online: no notification

	select {
	case <-ch:
		t.Fatal("unexpected notification for unchanged state")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMonitorProbeDetectsOutage(t *testing.T) {
	var status int32 = http.StatusNoContent
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(atomic.LoadInt32(&status)))
	}))
	defer srv.Close()

	m := NewMonitor(&config.NetworkConfig{
		ProbeURL:      srv.URL,
		ProbeInterval: 20 * time.Millisecond,
	})
	defer m.Close()

	require.Eventually(t, m.Online, time.Second, 10*time.Millisecond)

	atomic.StoreInt32(&status, http.StatusInternalServerError)
	require.Eventually(t, func() bool { return !m.Online() }, time.Second, 10*time.Millisecond)

	atomic.StoreInt32(&status, http.StatusNoContent)
	require.Eventually(t, m.Online, time.Second, 10*time.Millisecond)
}

func TestMonitorOverrideStopsProbeWrites(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	m := NewMonitor(&config.NetworkConfig{
		ProbeURL:      srv.URL,
		ProbeInterval: 20 * time.Millisecond,
	})
	defer m.Close()

	m.SetOnline(false)
	time.Sleep(100 * time.Millisecond) // probes keep running but must not flip the override
	assert.False(t, m.Online())
}
