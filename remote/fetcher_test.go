package remote

import (
	"crypto/sha1" //nolint:gosec // matching the store's content ids
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func digestOf(data []byte) string {
	sum := sha1.Sum(data) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

func TestTransientTagging(t *testing.T) {
	t.Parallel()

	base := errors.New("boom")
	assert.True(t, IsTransient(Transient(base)))
	assert.False(t, IsTransient(base))
	assert.NoError(t, Transient(nil))
	// The original error stays reachable through the tag.
	assert.ErrorIs(t, Transient(base), base)
}

func TestDirFetcher(t *testing.T) {
	t.Parallel()

	store := t.TempDir()
	content := []byte("blob content")
	id := digestOf(content)
	require.NoError(t, os.WriteFile(filepath.Join(store, id), content, 0o600))

	f, err := New(store, WithVerify(true))
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), "out")
	require.NoError(t, f.Fetch(id, dest))

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestDirFetcherMissingIsTransient(t *testing.T) {
	t.Parallel()

	f, err := New(t.TempDir())
	require.NoError(t, err)

	err = f.Fetch(digestOf([]byte("nope")), filepath.Join(t.TempDir(), "out"))
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestDirFetcherVerifyMismatch(t *testing.T) {
	t.Parallel()

	store := t.TempDir()
	id := digestOf([]byte("expected"))
	require.NoError(t, os.WriteFile(filepath.Join(store, id), []byte("tampered"), 0o600))

	f, err := New(store, WithVerify(true))
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), "out")
	err = f.Fetch(id, dest)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrVerify)
	assert.False(t, IsTransient(err))
	// The corrupt download must not be left behind.
	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr))
}

func TestHTTPFetcher(t *testing.T) {
	t.Parallel()

	content := []byte("remote bytes")
	id := digestOf(content)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/store/"+id {
			_, _ = w.Write(content)
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f, err := New(srv.URL+"/store/", WithVerify(true))
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), "out")
	require.NoError(t, f.Fetch(id, dest))

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestHTTPFetcherStatusClassification(t *testing.T) {
	t.Parallel()

	var status int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer srv.Close()

	f, err := New(srv.URL)
	require.NoError(t, err)
	dest := filepath.Join(t.TempDir(), "out")

	status = http.StatusServiceUnavailable
	err = f.Fetch("aa", dest)
	require.Error(t, err)
	assert.True(t, IsTransient(err), "5xx should be retryable")

	status = http.StatusTooManyRequests
	err = f.Fetch("aa", dest)
	require.Error(t, err)
	assert.True(t, IsTransient(err), "429 should be retryable")

	status = http.StatusNotFound
	err = f.Fetch("aa", dest)
	require.Error(t, err)
	assert.False(t, IsTransient(err), "4xx should be fatal")
}

func TestHTTPFetcherConnectionRefusedIsTransient(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close() // nothing listens here anymore

	f, err := New(srv.URL)
	require.NoError(t, err)

	err = f.Fetch("aa", filepath.Join(t.TempDir(), "out"))
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestNewEmptyStore(t *testing.T) {
	t.Parallel()

	_, err := New("")
	require.Error(t, err)
}
