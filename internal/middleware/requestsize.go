package middleware

import "net/http"

// DefaultMaxRequestSize caps request bodies at 1MB. Tag and rule payloads
// are tiny; anything near this limit is malformed or hostile.
const DefaultMaxRequestSize int64 = 1 << 20

// MaxRequestSize bounds request body size. Oversized bodies fail fast on
// the declared Content-Length; chunked uploads are cut off by the reader.
func MaxRequestSize(maxBytes int64) func(http.Handler) http.Handler {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxRequestSize
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				respondError(w, http.StatusRequestEntityTooLarge, "Request body too large")
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

			next.ServeHTTP(w, r)
		})
	}
}
