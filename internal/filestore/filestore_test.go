package filestore

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestKey_ShapeAndStability(t *testing.T) {
	k1, sum1 := Key([]byte("hello"))
	k2, sum2 := Key([]byte("hello"))
	k3, _ := Key([]byte("hello!"))

	assert.Equal(t, k1, k2)
	assert.Equal(t, sum1, sum2)
	assert.NotEqual(t, k1, k3)
	assert.Len(t, sum1, 64)
	assert.Equal(t, sum1[:2]+"/"+sum1, k1)
}

func TestSanitizeKey(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "ab/abcdef", want: "ab/abcdef"},
		{in: "/ab/abcdef/", want: "ab/abcdef"},
		{in: `\ab/abc.def`, want: "ab/abcdef"},
		{in: "../../etc/passwd", wantErr: true},
		{in: "ab", wantErr: true},
		{in: "ab/cd/ef", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := SanitizeKey(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidKey)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWriteReadDelete(t *testing.T) {
	s := newStore(t)

	key, err := s.Write([]byte("payload"))
	require.NoError(t, err)
	assert.True(t, s.Exists(key))

	p, err := s.FullPath(key)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(p, s.Root()))

	data, err := s.Read(key)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)

	removed, err := s.Delete(key)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.False(t, s.Exists(key))

	removed, err = s.Delete(key)
	require.NoError(t, err, "already gone is success")
	assert.False(t, removed)
}

func TestWrite_IsIdempotent(t *testing.T) {
	s := newStore(t)

	k1, err := s.Write([]byte("same"))
	require.NoError(t, err)
	k2, err := s.Write([]byte("same"))
	require.NoError(t, err)
	assert.Equal(t, k1, k2)

	entries, err := os.ReadDir(filepath.Join(s.Root(), tempDirName))
	require.NoError(t, err)
	assert.Empty(t, entries, "temp files must not linger")
}

func TestRead_Missing(t *testing.T) {
	s := newStore(t)
	_, err := s.Read("ab/abcdef")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFill_ProducerErrorLeavesNothing(t *testing.T) {
	s := newStore(t)

	err := s.Fill("ab/abcdef", func(tmp string) error {
		require.NoError(t, os.WriteFile(tmp, []byte("partial"), 0o600))
		return errors.New("download failed")
	})
	require.Error(t, err)
	assert.False(t, s.Exists("ab/abcdef"))

	entries, err := os.ReadDir(filepath.Join(s.Root(), tempDirName))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFill_CreatesShardDir(t *testing.T) {
	s := newStore(t)

	require.NoError(t, s.Fill("zz/zzzz", func(tmp string) error {
		return os.WriteFile(tmp, []byte("x"), 0o600)
	}))
	data, err := s.Read("zz/zzzz")
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), data)
}

func TestDetectMimetype(t *testing.T) {
	assert.Equal(t, "text/plain; charset=utf-8", DetectMimetype([]byte("hello world")))
	assert.Equal(t, "application/pdf", DetectMimetype([]byte("%PDF-1.7\n")))
}
