package mcpmgr

import (
	"context"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthCheck(t *testing.T) {
	t.Parallel()

	t.Run("not initialized", func(t *testing.T) {
		m := newTestManager(t, failingDialer(), clockwork.NewFakeClock())
		report := m.HealthCheck()
		assert.False(t, report.Healthy)
		assert.Equal(t, []string{"not initialized"}, report.Issues)
	})

	t.Run("disabled", func(t *testing.T) {
		m := newTestManager(t, failingDialer(), clockwork.NewFakeClock())
		cfg := config(server("web"))
		cfg.Enabled = false
		require.NoError(t, m.Initialize(context.Background(), cfg))
		assert.Equal(t, HealthReport{Healthy: true, Issues: []string{"disabled"}}, m.HealthCheck())
	})

	t.Run("all connected", func(t *testing.T) {
		m := newTestManager(t, staticDialer(map[string]Transport{"web": newFakeTransport("search")}), clockwork.NewFakeClock())
		require.NoError(t, m.Initialize(context.Background(), config(server("web"))))
		report := m.HealthCheck()
		assert.True(t, report.Healthy)
		assert.Empty(t, report.Issues)
	})

	t.Run("one server down", func(t *testing.T) {
		m := newTestManager(t, staticDialer(map[string]Transport{"web": newFakeTransport("search")}), clockwork.NewFakeClock())
		require.NoError(t, m.Initialize(context.Background(), config(server("web"), server("docs"))))
		report := m.HealthCheck()
		assert.False(t, report.Healthy)
		require.Len(t, report.Issues, 1)
		assert.Contains(t, report.Issues[0], "server docs: not connected")
		assert.Contains(t, report.Issues[0], "connection refused")
	})

	t.Run("nothing connected", func(t *testing.T) {
		m := newTestManager(t, failingDialer(), clockwork.NewFakeClock())
		require.NoError(t, m.Initialize(context.Background(), config(server("web"), server("docs"))))
		report := m.HealthCheck()
		assert.False(t, report.Healthy)
		require.Len(t, report.Issues, 3)
		assert.Equal(t, "no servers connected", report.Issues[0])
		assert.Contains(t, report.Issues[1], "server docs")
		assert.Contains(t, report.Issues[2], "server web")
	})

	t.Run("shut down", func(t *testing.T) {
		m := newTestManager(t, failingDialer(), clockwork.NewFakeClock())
		require.NoError(t, m.Initialize(context.Background(), config()))
		require.NoError(t, m.Shutdown(context.Background()))
		assert.False(t, m.HealthCheck().Healthy)
	})
}
