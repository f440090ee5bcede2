package settings

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/datasheet-lens/internal/domain/records"
)

type memSettings struct {
	values map[string]string
	err    error
}

func (m *memSettings) LoadSettings(context.Context) (map[string]string, error) {
	out := map[string]string{}
	for k, v := range m.values {
		out[k] = v
	}
	return out, m.err
}

func (m *memSettings) SaveSetting(_ context.Context, key, value string) error {
	if m.err != nil {
		return m.err
	}
	if m.values == nil {
		m.values = map[string]string{}
	}
	m.values[key] = value
	return nil
}

func TestLoadPrefersSavedValues(t *testing.T) {
	repo := &memSettings{values: map[string]string{records.SettingAPIKey: "sk-saved-1234"}}
	s := NewService(repo, nil)

	require.NoError(t, s.Load(t.Context(), Defaults{APIKey: "sk-env-9999", WatchFolder: "/srv/in"}))
	assert.Equal(t, "sk-saved-1234", s.APIKey())
	assert.Equal(t, "/srv/in", s.WatchFolder())
}

func TestLoadFailure(t *testing.T) {
	s := NewService(&memSettings{err: errors.New("locked")}, nil)
	assert.Error(t, s.Load(t.Context(), Defaults{}))
}

func TestSetAPIKey(t *testing.T) {
	repo := &memSettings{}
	s := NewService(repo, nil)

	var ve *ValidationError
	assert.True(t, errors.As(s.SetAPIKey(t.Context(), "   "), &ve))
	assert.True(t, errors.As(s.SetAPIKey(t.Context(), "sk abc"), &ve))

	require.NoError(t, s.SetAPIKey(t.Context(), "  sk-proj-abcdef123456  "))
	assert.Equal(t, "sk-proj-abcdef123456", s.APIKey())
	assert.Equal(t, "sk-proj-abcdef123456", repo.values[records.SettingAPIKey])
	assert.Equal(t, View{APIKeySet: true, APIKeyHint: "sk-...3456"}, s.View())
}

func TestSetWatchFolder(t *testing.T) {
	repo := &memSettings{}
	s := NewService(repo, nil)
	var seen []string
	s.OnWatchFolderChange(func(f string) { seen = append(seen, f) })

	dir := t.TempDir()
	require.NoError(t, s.SetWatchFolder(t.Context(), dir))
	assert.Equal(t, dir, s.WatchFolder())

	file := filepath.Join(dir, "x.pdf")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	var ve *ValidationError
	assert.True(t, errors.As(s.SetWatchFolder(t.Context(), file), &ve))
	assert.True(t, errors.As(s.SetWatchFolder(t.Context(), filepath.Join(dir, "missing")), &ve))

	require.NoError(t, s.SetWatchFolder(t.Context(), ""))
	assert.Equal(t, []string{dir, ""}, seen)
	assert.Equal(t, "", repo.values[records.SettingWatchFolder])
}

func TestMaskKey(t *testing.T) {
	assert.Equal(t, "", MaskKey(""))
	assert.Equal(t, "*****", MaskKey("short"))
	assert.Equal(t, "sk-...wxyz", MaskKey("sk-proj-abcdefghijklmnopqrstuvwxyz"))
}
