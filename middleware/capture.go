package middleware

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"

	authgate "github.com/altinors/authgate"
)

// maxCaptureBody bounds how much of a request body is read into audit
// details.
const maxCaptureBody = 64 * 1024

// statusRecorder remembers the first status code written.
type statusRecorder struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (w *statusRecorder) WriteHeader(status int) {
	if !w.wrote {
		w.status = status
		w.wrote = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusRecorder) Write(p []byte) (int, error) {
	if !w.wrote {
		w.status = http.StatusOK
		w.wrote = true
	}
	return w.ResponseWriter.Write(p)
}

// Unwrap exposes the underlying writer so http.ResponseController can
// reach Flusher/Hijacker through the wrapper.
func (w *statusRecorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (w *statusRecorder) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := w.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}

// Capture records one audit event per request after the handler
// completes, carrying the final status code, the query string, and the
// sanitized JSON body. Success means the response status was below
// 400. The event is recorded exactly once even if the handler panics
// its way to the error handler and writes twice.
func Capture(engine *authgate.Engine, action, resource string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				next.ServeHTTP(w, r)
				return
			}

			var body map[string]any
			if r.Body != nil && r.Body != http.NoBody {
				raw, err := io.ReadAll(io.LimitReader(r.Body, maxCaptureBody))
				r.Body.Close()
				// Hand the handler an equivalent body.
				r.Body = io.NopCloser(bytes.NewReader(raw))
				if err == nil && len(raw) > 0 {
					_ = json.Unmarshal(raw, &body)
				}
			}

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			details := map[string]any{
				"method":     r.Method,
				"url":        r.URL.Path,
				"statusCode": strconv.Itoa(rec.status),
			}
			if q := r.URL.RawQuery; q != "" {
				details["query"] = q
			}
			if body != nil {
				details["body"] = authgate.SanitizeAuditDetails(body)
			}

			event := authgate.AuditEvent{
				Action:   action,
				Resource: resource,
				Success:  rec.status < http.StatusBadRequest,
				Details:  details,
			}
			if res, ok := authgate.AuthResultFromContext(r.Context()); ok {
				event.UserID = res.UserID
				event.UserEmail = res.Email
			}
			event.IPAddress = clientIP(r)
			event.UserAgent = r.UserAgent()

			engine.RecordAuditEvent(r.Context(), event)
		})
	}
}
