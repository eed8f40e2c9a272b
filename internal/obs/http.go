package obs

import (
	"net/http"
	"time"

	"github.com/kuitang/dashboard-e2e/internal/logutil"
)

// ResponseRecorder tracks response status and bytes written.
type ResponseRecorder struct {
	http.ResponseWriter
	statusCode  int
	respBytes   int64
	wroteHeader bool
}

func (r *ResponseRecorder) WriteHeader(code int) {
	if r.wroteHeader {
		return
	}
	r.statusCode = code
	r.wroteHeader = true
	r.ResponseWriter.WriteHeader(code)
}

func (r *ResponseRecorder) Write(p []byte) (int, error) {
	if !r.wroteHeader {
		r.statusCode = http.StatusOK
		r.wroteHeader = true
	}
	n, err := r.ResponseWriter.Write(p)
	r.respBytes += int64(n)
	return n, err
}

func (r *ResponseRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (r *ResponseRecorder) StatusCode() int {
	return r.statusCode
}

func (r *ResponseRecorder) RespBytes() int64 {
	return r.respBytes
}

// AccessLogMiddleware emits one structured access event per request served by
// the in-process fakes.
func AccessLogMiddleware(pkg string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &ResponseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(recorder, r)

		From(r.Context()).
			With("pkg", pkg).
			Debug(
				"http_access",
				"method", r.Method,
				"path", r.URL.Path,
				"status", recorder.StatusCode(),
				"dur_ms", DurMS(start),
				"resp_bytes", recorder.RespBytes(),
			)
	})
}

// Transport logs every outbound request made through it. Sensitive headers
// are redacted.
type Transport struct {
	Pkg  string
	Base http.RoundTripper
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	start := time.Now()
	resp, err := base.RoundTrip(req)

	l := From(req.Context()).With("pkg", t.Pkg)
	if err != nil {
		l.Warn("http_client_error",
			"method", req.Method,
			"path", req.URL.Path,
			"headers", logutil.FormatHeadersForLog(req.Header),
			"dur_ms", DurMS(start),
			"error", err.Error(),
		)
		return nil, err
	}
	l.Debug("http_client",
		"method", req.Method,
		"path", req.URL.Path,
		"headers", logutil.FormatHeadersForLog(req.Header),
		"status", resp.StatusCode,
		"dur_ms", DurMS(start),
	)
	return resp, nil
}
