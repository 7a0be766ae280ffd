package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	settings, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), *settings)
}

func TestLoadOverlaysFileOnDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runtime.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scheduler:\n  history_max: 64\n"), 0o644))

	settings, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 64, settings.Scheduler.HistoryMax)
	assert.Equal(t, Default().Scheduler.AgingFactor, settings.Scheduler.AgingFactor)
}

func TestLoadAppliesEnvOverride(t *testing.T) {
	t.Setenv("RUNTIME_TRANSPORT_LISTEN_ADDR", ":9999")
	settings, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":9999", settings.Transport.ListenAddr)
}

func TestWriteSampleThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.yaml")
	require.NoError(t, WriteSample(path))

	settings, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default(), *settings)
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runtime.yaml")
	require.NoError(t, WriteSample(path))

	changed := make(chan *Settings, 1)
	w, err := NewWatcher(path, nil, func(s *Settings) { changed <- s })
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte("scheduler:\n  history_max: 999\n"), 0o644))

	select {
	case s := <-changed:
		assert.Equal(t, 999, s.Scheduler.HistoryMax)
	case <-time.After(3 * time.Second):
		t.Fatal("watcher did not observe the write")
	}
}
