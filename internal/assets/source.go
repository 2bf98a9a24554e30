// Package assets serves a pre-built UI bundle with a fixed fallback chain.
package assets

import (
	"errors"
	"io/fs"
	"os"
	"path"
	"strings"

	"cloudeng.io/webapp/webassets"
)

// Source is a read-only tree of built UI files. The set of implementations
// is closed: Embedded for bundles compiled into the binary and Dir for a
// directory filled by an external build step.
type Source interface {
	fsys() fs.FS
	String() string
}

type embeddedSource struct {
	fs     fs.FS
	prefix string
}

func (s *embeddedSource) fsys() fs.FS { return s.fs }

func (s *embeddedSource) String() string {
	if s.prefix == "" {
		return "embedded:/"
	}
	return "embedded:" + s.prefix
}

// Embedded wraps a build-time bundle such as an embed.FS. When prefix is
// non-empty it is treated as the bundle root, so Embedded(content, "build")
// serves build/index.html as /index.html.
func Embedded(fsys fs.FS, prefix string) Source {
	prefix = strings.Trim(path.Clean("/"+prefix), "/")
	if prefix != "" {
		fsys = webassets.RelativeFS(prefix, fsys)
	}
	return &embeddedSource{fs: fsys, prefix: prefix}
}

type dirSource struct {
	fs  fs.FS
	dir string
}

func (s *dirSource) fsys() fs.FS { return s.fs }

func (s *dirSource) String() string { return "dir:" + s.dir }

// Dir serves files from a directory on disk. The directory is read lazily,
// so it may be populated after the gateway is constructed.
func Dir(dir string) Source {
	return &dirSource{fs: os.DirFS(dir), dir: dir}
}

// CheckDir reports whether dir exists and is a directory.
func CheckDir(dir string) error {
	st, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !st.IsDir() {
		return &fs.PathError{Op: "stat", Path: dir, Err: errors.New("not a directory")}
	}
	return nil
}
