package extension

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/mgruener/proxybatch/pkg/proxylist"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readZip(t *testing.T, data []byte) map[string]string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	files := map[string]string{}
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		b, err := io.ReadAll(rc)
		require.NoError(t, err)
		rc.Close()
		files[f.Name] = string(b)
	}
	return files
}

func TestBuild(t *testing.T) {
	rec, err := proxylist.ParseLine("alice:s3cret@10.1.2.3:3128")
	require.NoError(t, err)

	data, err := Build(rec)
	require.NoError(t, err)
	files := readZip(t, data)
	require.Len(t, files, 2)

	var manifest map[string]any
	require.NoError(t, json.Unmarshal([]byte(files["manifest.json"]), &manifest))
	assert.EqualValues(t, 2, manifest["manifest_version"])

	bg := files["background.js"]
	assert.Contains(t, bg, `host: "10.1.2.3"`)
	assert.Contains(t, bg, `port: 3128`)
	assert.Contains(t, bg, `username: "alice"`)
	assert.Contains(t, bg, `password: "s3cret"`)
}

func TestBuild_QuotesCredentials(t *testing.T) {
	rec := proxylist.Record{Host: "h", Port: 1, Username: `u"x`, Password: `p\y`}
	data, err := Build(rec)
	require.NoError(t, err)
	bg := readZip(t, data)["background.js"]
	assert.Contains(t, bg, `username: "u\"x"`)
	assert.Contains(t, bg, `password: "p\\y"`)
}

func TestWriteFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "extensions")
	rec := proxylist.Record{Host: "1.2.3.4", Port: 8080, Username: "a", Password: "b"}

	path, err := WriteFile(dir, rec)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "1.2.3.4_8080.zip"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, readZip(t, data), "manifest.json")
}
