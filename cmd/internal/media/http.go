package media

import (
	"errors"
	"net/http"
	"strings"
)

// Handler serves GET/HEAD {prefix}{ref} with range support so players can seek.
func (s *Store) Handler(prefix string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		ref := strings.TrimPrefix(r.URL.Path, prefix)
		if ref == "" || ref == r.URL.Path {
			http.NotFound(w, r)
			return
		}

		b, err := s.Open(ref)
		if errors.Is(err, ErrNotFound) {
			http.NotFound(w, r)
			return
		}

		w.Header().Set("Content-Type", b.MIMEType)
		w.Header().Set("ETag", b.ETag())
		w.Header().Set("Cache-Control", "private, max-age=3600, immutable")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		http.ServeContent(w, r, "", b.CreatedAt, b.Reader())
	})
}
