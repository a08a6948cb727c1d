package web

import (
	"io"
	"io/fs"
	"net/http"
	"strings"
)

type SPAOptions struct {
	APIPrefix string // default "/api"
}

// RegisterSPA mounts publicFS at "/" and falls back to index.html for
// unknown paths outside the API prefix. It reports false when publicFS has
// no index.html.
func RegisterSPA(mux *http.ServeMux, publicFS fs.FS, opts SPAOptions) bool {
	if publicFS == nil {
		return false
	}
	index, err := publicFS.Open("index.html")
	if err != nil {
		return false
	}
	_ = index.Close()

	apiPrefix := opts.APIPrefix
	if apiPrefix == "" {
		apiPrefix = "/api"
	}

	fileServer := http.FileServer(http.FS(publicFS))
	mux.Handle("/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, apiPrefix) {
			http.NotFound(w, r)
			return
		}

		path := strings.TrimPrefix(r.URL.Path, "/")
		if path == "" {
			path = "index.html"
		}

		f, err := publicFS.Open(path)
		if err != nil {
			index, err := publicFS.Open("index.html")
			if err != nil {
				http.NotFound(w, r)
				return
			}
			defer func() { _ = index.Close() }()

			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = io.Copy(w, index)
			return
		}
		_ = f.Close()
		fileServer.ServeHTTP(w, r)
	}))
	return true
}
