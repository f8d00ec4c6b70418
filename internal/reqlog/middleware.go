package reqlog

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"accountd/internal/logging"
)

// bodyLimit caps how much of a request body one entry keeps.
const bodyLimit = 1000

// skippedPaths are never recorded: the viewer itself and the health probe.
var skippedPaths = map[string]bool{
	"/logs":   true,
	"/health": true,
}

type statusWriter struct {
	http.ResponseWriter
	status  int
	nbytes  int
	written bool
}

func (w *statusWriter) WriteHeader(status int) {
	if !w.written {
		w.status = status
		w.written = true
		w.ResponseWriter.WriteHeader(status)
	}
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(b)
	w.nbytes += n
	return n, err
}

// Middleware records each completed request into the buffer and the sink.
func Middleware(buffer *Buffer, sink *FileSink) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skippedPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()

			var body string
			if r.Body != nil && strings.Contains(r.Header.Get("Content-Type"), "application/json") {
				raw, err := io.ReadAll(io.LimitReader(r.Body, bodyLimit))
				if err == nil {
					body = string(raw)
					// Splice what we read back together with the rest.
					r.Body = struct {
						io.Reader
						io.Closer
					}{io.MultiReader(bytes.NewReader(raw), r.Body), r.Body}
				}
			}

			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)

			entry := Entry{
				Method:        r.Method,
				URL:           r.URL.Path,
				Status:        sw.status,
				ContentLength: strconv.Itoa(sw.nbytes),
				ResponseTime:  time.Since(start).Round(time.Millisecond).String(),
				Body:          body,
				Level:         "http",
				Timestamp:     time.Now().UTC().Format(time.RFC3339),
			}

			buffer.Add(entry)

			if sink != nil {
				if err := sink.Write(entry); err != nil {
					logging.GetLoggerFromContext(r.Context()).Warn("failed to write request log entry", "error", err)
				}
			}
		})
	}
}
