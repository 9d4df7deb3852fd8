package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizePath(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr error
	}{
		{"clean", "backups/acme.json", "backups/acme.json", nil},
		{"dot segments collapsed", "a/./b.json", "a/b.json", nil},
		{"empty", "", "", ErrEmptyPath},
		{"whitespace", "   ", "", ErrEmptyPath},
		{"null byte", "a\x00b", "", ErrInvalidPath},
		{"trailing slash", "backups/", "", ErrInvalidPath},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SanitizePath(tt.in)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, filepath.FromSlash(tt.want), got)
		})
	}
}

func TestSafeJoinKeepsPathInsideBase(t *testing.T) {
	got, err := SafeJoin("/var/backups", "acme/snap.json")
	require.NoError(t, err)
	assert.Equal(t, filepath.FromSlash("/var/backups/acme/snap.json"), got)
}

func TestSafeJoinRejectsEscape(t *testing.T) {
	_, err := SafeJoin("/var/backups", "../etc/passwd")
	assert.ErrorIs(t, err, ErrOutsideBase)

	_, err = SafeJoin("/var/backups", "/etc/passwd")
	assert.ErrorIs(t, err, ErrOutsideBase)

	_, err = SafeJoin("/var/backups", "a/../../etc/passwd")
	assert.ErrorIs(t, err, ErrOutsideBase)
}

func TestEnsureDirCreatesParents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deep", "file.json")
	require.NoError(t, EnsureDir(path))

	info, err := os.Stat(filepath.Dir(path))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestEnsureDirBarePathIsNoop(t *testing.T) {
	assert.NoError(t, EnsureDir("file.json"))
}
