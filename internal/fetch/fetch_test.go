package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/car-classifier/internal/domain"
)

func TestEnsureFileDownloads(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("Content-Type", "application/octet-stream")
		fmt.Fprint(w, "weights")
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "models", "model.born")
	f := NewFetcher(nil)
	require.NoError(t, f.EnsureFile(context.Background(), path, srv.URL+"/model.born"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "weights", string(data))

	require.NoError(t, f.EnsureFile(context.Background(), path, srv.URL+"/model.born"))
	assert.Equal(t, 1, hits)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestEnsureFileFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing":
			http.NotFound(w, r)
		case "/html":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			fmt.Fprint(w, "<html><body>sign in</body></html>")
		}
	}))
	defer srv.Close()

	tests := []struct {
		name string
		url  string
	}{
		{"no url", ""},
		{"not found", srv.URL + "/missing"},
		{"html page", srv.URL + "/html"},
		{"unreachable", "http://127.0.0.1:1/model.born"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "model.born")
			err := NewFetcher(nil).EnsureFile(context.Background(), path, tt.url)
			assert.ErrorIs(t, err, domain.ErrArtifactUnavailable)
			assert.NoFileExists(t, path)
		})
	}
}

func TestEnsureFileFollowsDriveConfirmPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("confirm") == "t0k3n" && r.URL.Query().Get("id") == "abc" {
			w.Header().Set("Content-Type", "application/octet-stream")
			fmt.Fprint(w, "big file")
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, `<form id="download-form" action="http://%s/download" method="get">
<input type="hidden" name="id" value="abc">
<input type="hidden" name="confirm" value="t0k3n">
</form>`, r.Host)
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "model.born")
	require.NoError(t, NewFetcher(nil).EnsureFile(context.Background(), path, srv.URL+"/uc?id=abc"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "big file", string(data))
}

func TestConfirmURLFromLink(t *testing.T) {
	next, ok := confirmURL("https://drive.google.com/uc?id=xyz&export=download",
		`<a href="/uc?export=download&amp;confirm=AbC-9&amp;id=xyz">Download anyway</a>`)
	require.True(t, ok)
	assert.Contains(t, next, "confirm=AbC-9")
	assert.Contains(t, next, "id=xyz")

	_, ok = confirmURL("https://example.com", "<html>nothing</html>")
	assert.False(t, ok)
}
