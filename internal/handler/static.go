package handler

import (
	"io/fs"
	"net/http"
	"os"
	"strings"
)

const indexFile = "index.html"

// SPAHandler serves the built portal frontend. Unknown paths fall back to
// index.html so client-side routes such as /customer or /rm survive a reload.
type SPAHandler struct {
	files fs.FS
}

func NewSPAHandler(staticDir string) *SPAHandler {
	return &SPAHandler{files: os.DirFS(staticDir)}
}

func (h *SPAHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/")
	if strings.HasPrefix(name, "api/") {
		http.NotFound(w, r)
		return
	}
	if name == "" {
		name = indexFile
	}

	if fs.ValidPath(name) {
		if info, err := fs.Stat(h.files, name); err == nil && !info.IsDir() {
			http.ServeFileFS(w, r, h.files, name)
			return
		}
	}

	if _, err := fs.Stat(h.files, indexFile); err != nil {
		http.NotFound(w, r)
		return
	}
	// index.html must not be cached so a new deploy is picked up
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeFileFS(w, r, h.files, indexFile)
}
