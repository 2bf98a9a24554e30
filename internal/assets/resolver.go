package assets

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"path"
	"strings"
)

const (
	indexPage    = "index.html"
	fallbackPage = "fallback.html"
	notFoundPage = "404.html"

	notFoundText = "Cannot find the file specified!"
)

// Outcome names the step of the fallback chain that produced an Asset.
type Outcome string

const (
	OutcomeFile     Outcome = "file"
	OutcomeFallback Outcome = "fallback"
	OutcomeNotFound Outcome = "404-page"
	OutcomeSPA      Outcome = "spa-index"
	OutcomeMissing  Outcome = "missing"
)

type Asset struct {
	Path        string
	Body        []byte
	ContentType string
	Status      int
	Outcome     Outcome
}

type AssetErrorKind string

const NotFound AssetErrorKind = "not_found"

type AssetError struct {
	Kind AssetErrorKind
	Path string
}

func (e *AssetError) Error() string {
	return fmt.Sprintf("asset %s: %s", e.Kind, e.Path)
}

func (e *AssetError) Is(target error) bool {
	t, ok := target.(*AssetError)
	return ok && t.Kind == e.Kind && (t.Path == "" || t.Path == e.Path)
}

// ErrNotFound matches any AssetError of kind NotFound.
var ErrNotFound = &AssetError{Kind: NotFound}

// Resolve maps a request path onto src. The first match wins:
//
//  1. a path ending in "/" is looked up as path+"index.html"
//  2. the path itself
//  3. fallback.html
//  4. 404.html, served with status 404
//  5. index.html, so client-side routing can handle the path
//
// When nothing matches a plain text 404 asset is returned together with an
// error matching ErrNotFound. Read failures other than "does not exist" are
// returned as is.
func Resolve(p string, src Source) (Asset, error) {
	if src == nil {
		return missing(p), &AssetError{Kind: NotFound, Path: p}
	}
	fsys := src.fsys()
	name := requestName(p)

	candidates := []struct {
		name    string
		status  int
		outcome Outcome
	}{
		{name, http.StatusOK, OutcomeFile},
		{fallbackPage, http.StatusOK, OutcomeFallback},
		{notFoundPage, http.StatusNotFound, OutcomeNotFound},
		{indexPage, http.StatusOK, OutcomeSPA},
	}
	for _, c := range candidates {
		if c.name == "" {
			continue
		}
		body, err := readRegular(fsys, c.name)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) || errors.Is(err, errIsDir) || errors.Is(err, fs.ErrInvalid) {
				continue
			}
			return Asset{}, fmt.Errorf("read %s from %s: %w", c.name, src, err)
		}
		return Asset{
			Path:        c.name,
			Body:        body,
			ContentType: ContentType(c.name),
			Status:      c.status,
			Outcome:     c.outcome,
		}, nil
	}
	return missing(p), &AssetError{Kind: NotFound, Path: p}
}

func missing(p string) Asset {
	return Asset{
		Path:        p,
		Body:        []byte(notFoundText),
		ContentType: "text/plain; charset=utf-8",
		Status:      http.StatusNotFound,
		Outcome:     OutcomeMissing,
	}
}

// requestName converts a URL path into an fs.FS name. The result never
// escapes the source root; "" means the path cannot name a file.
func requestName(p string) string {
	if p == "" {
		p = "/"
	}
	if strings.HasSuffix(p, "/") {
		p += indexPage
	}
	name := strings.TrimPrefix(path.Clean("/"+p), "/")
	if name == "" || !fs.ValidPath(name) {
		return ""
	}
	return name
}

var errIsDir = errors.New("is a directory")

func readRegular(fsys fs.FS, name string) ([]byte, error) {
	st, err := fs.Stat(fsys, name)
	if err != nil {
		return nil, err
	}
	if st.IsDir() {
		return nil, errIsDir
	}
	return fs.ReadFile(fsys, name)
}
