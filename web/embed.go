// Package web embeds the dashboard pages (public/) and serves them with
// extensionless page routing.
package web

import (
	"embed"
	"io/fs"
	"net/http"
	"path"
	"strings"
)

//go:embed all:public
var publicFS embed.FS

// Public returns the embedded page tree.
func Public() fs.FS {
	subFS, err := fs.Sub(publicFS, "public")
	if err != nil {
		panic("web: failed to create sub filesystem: " + err.Error())
	}
	return subFS
}

// PageHandler serves fsys. A path without an extension is tried as
// <path>.html, then <path>/index.html, before plain static serving.
func PageHandler(fsys fs.FS) http.Handler {
	fileServer := http.FileServerFS(fsys)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")

		if path.Ext(name) == "" {
			for _, candidate := range pageCandidates(name) {
				if isFile(fsys, candidate) {
					http.ServeFileFS(w, r, fsys, candidate)
					return
				}
			}
		}

		fileServer.ServeHTTP(w, r)
	})
}

func pageCandidates(name string) []string {
	if name == "" {
		return []string{"index.html"}
	}
	return []string{name + ".html", path.Join(name, "index.html")}
}

func isFile(fsys fs.FS, name string) bool {
	info, err := fs.Stat(fsys, name)
	return err == nil && !info.IsDir()
}
