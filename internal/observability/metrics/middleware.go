package metrics

import (
	"bufio"
	"io"
	"net"
	"net/http"
	"time"
)

// ResponseRecorder captures the status code a handler writes so middleware
// can label request metrics and logs after the fact.
type ResponseRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

// NewResponseRecorder wraps a ResponseWriter. A handler that never calls
// WriteHeader reports 200 OK.
func NewResponseRecorder(w http.ResponseWriter) *ResponseRecorder {
	return &ResponseRecorder{ResponseWriter: w, status: http.StatusOK}
}

// Status returns the captured status code.
func (rr *ResponseRecorder) Status() int {
	return rr.status
}

func (rr *ResponseRecorder) WriteHeader(status int) {
	if !rr.wroteHeader {
		rr.status = status
		rr.wroteHeader = true
	}
	rr.ResponseWriter.WriteHeader(status)
}

func (rr *ResponseRecorder) Write(p []byte) (int, error) {
	rr.wroteHeader = true
	return rr.ResponseWriter.Write(p)
}

// Flush forwards to the underlying writer so streamed responses keep working
// behind the recorder.
func (rr *ResponseRecorder) Flush() {
	if flusher, ok := rr.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack forwards connection hijacking when the underlying writer supports it.
func (rr *ResponseRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := rr.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}

func (rr *ResponseRecorder) ReadFrom(r io.Reader) (int64, error) {
	if readerFrom, ok := rr.ResponseWriter.(io.ReaderFrom); ok {
		return readerFrom.ReadFrom(r)
	}
	return io.Copy(rr.ResponseWriter, r)
}

// HTTPMiddleware times each request and feeds method, normalized path, and
// status into the recorder. A nil recorder falls back to the process default.
func HTTPMiddleware(recorder *Recorder, next http.Handler) http.Handler {
	if recorder == nil {
		recorder = Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rr := NewResponseRecorder(w)
		start := time.Now()
		next.ServeHTTP(rr, r)
		recorder.ObserveRequest(r.Method, r.URL.Path, rr.Status(), time.Since(start))
	})
}
