package reqlog

import (
	"net/http"

	"accountd/internal/httputil"
)

// Handler serves the in-memory request log, oldest entry first.
func Handler(buffer *Buffer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.RespondJSON(w, buffer.Entries(), http.StatusOK)
	}
}
