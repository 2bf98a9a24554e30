package assets

import (
	"embed"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

//go:embed testdata/build
var bundle embed.FS

func TestResolve_SPAScenario(t *testing.T) {
	src := Embedded(bundle, "testdata/build")

	asset, err := Resolve("/static/app.js", src)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, asset.Status)
	assert.Equal(t, "application/javascript", asset.ContentType)
	assert.Equal(t, OutcomeFile, asset.Outcome)
	assert.Contains(t, string(asset.Body), "console.log")

	asset, err = Resolve("/random/path", src)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, asset.Status)
	assert.Equal(t, "index.html", asset.Path)
	assert.Equal(t, OutcomeSPA, asset.Outcome)
}

func TestResolve_FallbackChainOrder(t *testing.T) {
	full := fstest.MapFS{
		"index.html":      {Data: []byte("index")},
		"fallback.html":   {Data: []byte("fallback")},
		"404.html":        {Data: []byte("not found page")},
		"docs/index.html": {Data: []byte("docs index")},
		"app.css":         {Data: []byte("body{}")},
	}

	cases := []struct {
		name    string
		fs      fstest.MapFS
		path    string
		body    string
		status  int
		outcome Outcome
	}{
		{"trailing slash index", full, "/docs/", "docs index", 200, OutcomeFile},
		{"root", full, "/", "index", 200, OutcomeFile},
		{"verbatim file", full, "/app.css", "body{}", 200, OutcomeFile},
		{"fallback page first", full, "/nope", "fallback", 200, OutcomeFallback},
		{"404 page before spa", without(full, "fallback.html"), "/nope", "not found page", 404, OutcomeNotFound},
		{"spa index last", without(full, "fallback.html", "404.html"), "/nope", "index", 200, OutcomeSPA},
		{"directory does not match", without(full, "fallback.html", "404.html"), "/docs", "index", 200, OutcomeSPA},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			asset, err := Resolve(tc.path, Embedded(tc.fs, ""))
			require.NoError(t, err)
			assert.Equal(t, tc.body, string(asset.Body))
			assert.Equal(t, tc.status, asset.Status)
			assert.Equal(t, tc.outcome, asset.Outcome)
		})
	}
}

func TestResolve_PlainTextWhenNothingMatches(t *testing.T) {
	asset, err := Resolve("/anything", Embedded(fstest.MapFS{"other.txt": {Data: []byte("x")}}, ""))
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, http.StatusNotFound, asset.Status)
	assert.Equal(t, "text/plain; charset=utf-8", asset.ContentType)
	assert.Equal(t, notFoundText, string(asset.Body))
}

func TestResolve_VerbatimFileWinsOverFallbacks(t *testing.T) {
	fsys := fstest.MapFS{
		"index.html":    {Data: []byte("index")},
		"fallback.html": {Data: []byte("fallback")},
		"404.html":      {Data: []byte("404")},
	}
	for _, p := range []string{"/index.html", "/fallback.html", "/404.html"} {
		asset, err := Resolve(p, Embedded(fsys, ""))
		require.NoError(t, err)
		assert.Equal(t, OutcomeFile, asset.Outcome, p)
		assert.Equal(t, http.StatusOK, asset.Status, p)
	}
}

func TestResolve_IsDeterministic(t *testing.T) {
	src := Embedded(bundle, "testdata/build")
	first, err := Resolve("/a/b/c", src)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := Resolve("/a/b/c", src)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestResolve_TraversalStaysInsideSource(t *testing.T) {
	root := t.TempDir()
	dist := filepath.Join(root, "dist")
	require.NoError(t, os.MkdirAll(dist, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "secret.txt"), []byte("secret"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dist, "index.html"), []byte("index"), 0o644))

	asset, err := Resolve("/../secret.txt", Dir(dist))
	require.NoError(t, err)
	assert.Equal(t, "index", string(asset.Body))
}

func TestResolve_DirSourceReadsLazily(t *testing.T) {
	dist := t.TempDir()
	src := Dir(dist)

	_, err := Resolve("/late.js", src)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, os.WriteFile(filepath.Join(dist, "late.js"), []byte("late"), 0o644))
	asset, err := Resolve("/late.js", src)
	require.NoError(t, err)
	assert.Equal(t, "late", string(asset.Body))
}

func TestResolve_NilSource(t *testing.T) {
	_, err := Resolve("/", nil)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "application/javascript", ContentType("static/app.js"))
	assert.Equal(t, "text/html; charset=utf-8", ContentType("index.HTML"))
	assert.Equal(t, "application/octet-stream", ContentType("LICENSE"))
	assert.Equal(t, "application/octet-stream", ContentType("blob.unknownext"))
}

func without(src fstest.MapFS, names ...string) fstest.MapFS {
	out := fstest.MapFS{}
	for k, v := range src {
		out[k] = v
	}
	for _, n := range names {
		delete(out, n)
	}
	return out
}
