package main

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinStore(t *testing.T) {
	t.Parallel()

	assert.Equal(t,
		"https://blobs.example.com/objects/abc",
		joinStore("https://blobs.example.com/objects/", "abc"))
	assert.Equal(t,
		filepath.Join("/srv/store", "abc"),
		joinStore("/srv/store", "abc"))
}

func TestReadManifestFromFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "m.isolated")
	require.NoError(t, os.WriteFile(path, []byte(`{"command":["x"]}`), 0o600))

	data, err := readManifest(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"command":["x"]}`, string(data))
}

func TestReadManifestFromURL(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/m.isolated" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"command":["x"]}`))
	}))
	defer srv.Close()

	data, err := readManifest(srv.URL + "/m.isolated")
	require.NoError(t, err)
	assert.JSONEq(t, `{"command":["x"]}`, string(data))

	_, err = readManifest(srv.URL + "/missing")
	require.Error(t, err)
}

func TestRootCmdRequiresSource(t *testing.T) {
	t.Parallel()

	cmd := newRootCmd()
	cmd.SetArgs([]string{"--remote", t.TempDir(), "--config", filepath.Join(t.TempDir(), "none.toml")})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--manifest or --hash")
}
