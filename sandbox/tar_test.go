package sandbox

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTar(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)
	for name, body := range entries {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(body)), Typeflag: tar.TypeReg}))
		_, err := tw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gw.Close())
	return buf.Bytes()
}

func TestCreateTarFromDir(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "result.csv"), []byte("a,b\n1,2\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(src, "nested", "plot.png"), []byte("png"), 0o600))

	data, err := CreateTarFromDir(src)
	require.NoError(t, err)

	gr, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	tr := tar.NewReader(gr)

	var names []string
	for {
		header, err := tr.Next()
		if err != nil {
			break
		}
		names = append(names, header.Name)
	}
	assert.ElementsMatch(t, []string{"nested", "nested/plot.png", "result.csv"}, names)
}

func TestExtractTarToDir(t *testing.T) {
	fs := &RealFileSystem{}

	t.Run("Valid", func(t *testing.T) {
		dest := t.TempDir()
		require.NoError(t, ExtractTarToDir(fs, buildTar(t, map[string]string{"out/summary.txt": "ok"}), dest))

		content, err := os.ReadFile(filepath.Join(dest, "out", "summary.txt"))
		require.NoError(t, err)
		assert.Equal(t, "ok", string(content))
	})

	t.Run("RejectsTraversal", func(t *testing.T) {
		dest := t.TempDir()
		err := ExtractTarToDir(fs, buildTar(t, map[string]string{"../escape.txt": "x"}), dest)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsafe relative path")
	})

	t.Run("RejectsAbsolute", func(t *testing.T) {
		dest := t.TempDir()
		err := ExtractTarToDir(fs, buildTar(t, map[string]string{"/etc/passwd": "x"}), dest)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "absolute path not allowed")
	})

	t.Run("NotGzip", func(t *testing.T) {
		err := ExtractTarToDir(fs, []byte("plain"), t.TempDir())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to create gzip reader")
	})
}
