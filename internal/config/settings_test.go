package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func writeSettings(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func TestLoadSettingsMissingFile(t *testing.T) {
	s, err := LoadSettings(filepath.Join(t.TempDir(), "none.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), s)
}

func TestLoadSettingsOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "atomai.yaml")
	writeSettings(t, path, `
queue:
  max_concurrent: 2
suggest:
  max_pending_per_object: 5
translate:
  to_culture: zu
`)
	s, err := LoadSettings(path)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Queue.MaxConcurrent)
	assert.Equal(t, 1000, s.Queue.DelayBetweenMs)
	assert.Equal(t, 5, s.Suggest.MaxPendingPerObject)
	assert.Equal(t, "zu", s.Translate.ToCulture)
	assert.Equal(t, "en", s.Translate.FromCulture)
}

func TestLoadSettingsRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "atomai.yaml")
	writeSettings(t, path, "queue:\n  max_concurrent: 0\n")
	_, err := LoadSettings(path)
	assert.ErrorContains(t, err, "max_concurrent")

	writeSettings(t, path, "queue: [nope")
	_, err = LoadSettings(path)
	assert.ErrorContains(t, err, "parse settings")
}

func TestTemplateFor(t *testing.T) {
	s := DefaultSettings().Suggest

	tpl, ok := s.TemplateFor("item")
	require.True(t, ok)
	assert.Equal(t, "Item level photograph", tpl.Name)

	tpl, ok = s.TemplateFor("Fonds")
	require.True(t, ok)
	assert.Equal(t, "Standard archival description", tpl.Name)

	_, ok = SuggestSettings{}.TemplateFor("Fonds")
	assert.False(t, ok)
}

func TestSettingsStoreReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "atomai.yaml")
	writeSettings(t, path, "queue:\n  max_retries: 4\n")

	store, err := NewSettingsStore(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, store.Current().Queue.MaxRetries)

	writeSettings(t, path, "queue:\n  max_retries: 6\n")
	require.NoError(t, store.Reload())
	assert.Equal(t, 6, store.Current().Queue.MaxRetries)

	writeSettings(t, path, "queue:\n  max_retries: 0\n")
	require.Error(t, store.Reload())
	assert.Equal(t, 6, store.Current().Queue.MaxRetries, "failed reload keeps previous settings")
}

func TestStaticSettingsReloadIsNoop(t *testing.T) {
	store := StaticSettings(DefaultSettings())
	require.NoError(t, store.Reload())
	assert.Equal(t, 5, store.Current().Queue.MaxConcurrent)
}

func TestWatchReloadsOnWrite(t *testing.T) {
	defer goleak.VerifyNone(t)

	path := filepath.Join(t.TempDir(), "atomai.yaml")
	writeSettings(t, path, "queue:\n  max_concurrent: 1\n")
	store, err := NewSettingsStore(path, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- store.Watch(ctx) }()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	writeSettings(t, path, "queue:\n  max_concurrent: 9\n")

	require.Eventually(t, func() bool {
		return store.Current().Queue.MaxConcurrent == 9
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
