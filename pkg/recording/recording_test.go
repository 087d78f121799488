package recording

import (
	"archive/tar"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractTarWritesFilesAndDirs(t *testing.T) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "sub/", Typeflag: tar.TypeDir, Mode: 0o755}))
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "sub/file.webm", Typeflag: tar.TypeReg, Mode: 0o644, Size: 5}))
	_, err := tw.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, tw.Close())

	dest := t.TempDir()
	require.NoError(t, extractTar(&buf, dest))

	content, err := os.ReadFile(filepath.Join(dest, "sub", "file.webm"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(content))
}

func TestExtractTarRejectsNothingButStaysWithinDest(t *testing.T) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "plain.txt", Typeflag: tar.TypeReg, Mode: 0o644, Size: 3}))
	_, err := tw.Write([]byte("abc"))
	require.NoError(t, err)
	require.NoError(t, tw.Close())

	dest := t.TempDir()
	require.NoError(t, extractTar(&buf, dest))

	content, err := os.ReadFile(filepath.Join(dest, "plain.txt"))
	require.NoError(t, err)
	assert.Equal(t, "abc", string(content))
}

func TestParseEpochMillis(t *testing.T) {
	assert.EqualValues(t, 1700000000000, parseEpochMillis("1700000000000"))
	assert.EqualValues(t, 0, parseEpochMillis("not-a-number"))
}
