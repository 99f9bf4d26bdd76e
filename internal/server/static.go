package server

import (
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
)

// handleStatic serves the built frontend. Unknown paths get index.html so
// client-side routes survive a reload.
func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	index := filepath.Join(s.staticDir, "index.html")
	if _, err := os.Stat(index); err != nil {
		http.Error(w, "Frontend not built", http.StatusNotFound)
		return
	}

	name := path.Clean("/" + r.URL.Path)
	if name != "/" {
		info, err := fs.Stat(os.DirFS(s.staticDir), name[1:])
		if err == nil && !info.IsDir() {
			http.FileServer(http.Dir(s.staticDir)).ServeHTTP(w, r)
			return
		}
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.logError(r, "stat static file", err)
		}
	}
	http.ServeFile(w, r, index)
}
