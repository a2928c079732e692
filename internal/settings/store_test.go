package settings

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "user_settings.json"))
}

func TestStore_LoadMissingFileReturnsDefaults(t *testing.T) {
	s := newTestStore(t)

	got := s.Load()

	assert.Equal(t, DefaultMap(), got)
}

func TestStore_LoadMalformedFileReturnsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "user_settings.json")
	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o644))
	s := NewStore(path)

	got := s.Load()

	assert.Equal(t, DefaultMap(), got)
}

func TestStore_UpdatePersistsMergedSettings(t *testing.T) {
	s := newTestStore(t)

	updated, err := s.Update(map[string]interface{}{
		"ocr": map[string]interface{}{"language": "ja"},
	})
	require.NoError(t, err)

	ocr := updated["ocr"].(map[string]interface{})
	assert.Equal(t, "ja", ocr["language"])
	assert.Equal(t, "ocrmac", ocr["backend"])

	reloaded := s.Load()
	assert.Equal(t, "ja", reloaded["ocr"].(map[string]interface{})["language"])
}

func TestStore_UpdateSectionShallowMerges(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Update(map[string]interface{}{
		"tables": map[string]interface{}{"mode": "fast"},
	})
	require.NoError(t, err)

	sec, err := s.UpdateSection("tables", map[string]interface{}{"enabled": false})
	require.NoError(t, err)

	assert.Equal(t, "fast", sec["mode"])
	assert.Equal(t, false, sec["enabled"])
}

func TestStore_ResetRestoresDefaults(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Update(map[string]interface{}{
		"chunking": map[string]interface{}{"enabled": true},
	})
	require.NoError(t, err)

	defaults, err := s.Reset()
	require.NoError(t, err)

	assert.Equal(t, DefaultMap(), defaults)
	assert.Equal(t, DefaultMap(), s.Load())
}
