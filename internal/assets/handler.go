package assets

import (
	"errors"
	"io/fs"
	"net/http"

	"github.com/go-chi/chi/v5"
)

const cachePrivateOneDay = "private, max-age=86400"

// ServeAsset serves a stored asset when the request carries a token granting
// it. Mount it on a route with a trailing wildcard, e.g. /assets/*.
func (s *FileStorage) ServeAsset(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	if key == "" {
		http.Error(w, "path required", http.StatusBadRequest)
		return
	}

	token := r.URL.Query().Get("token")
	if token == "" || s.Verify(key, token) != nil {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	f, err := s.Open(key)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			http.Error(w, "asset not found", http.StatusNotFound)
			return
		}
		http.Error(w, "asset unavailable", http.StatusBadRequest)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		http.Error(w, "asset not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Cache-Control", cachePrivateOneDay)
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}
