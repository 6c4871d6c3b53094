package server

import (
	"net/http"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// statusWriter wraps http.ResponseWriter to capture the response code and
// size for request logging.
type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// logRequests logs every request at a level picked from the response code:
// 5xx error, 4xx warn, everything else info.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		level := zapcore.InfoLevel
		switch {
		case sw.status >= http.StatusInternalServerError:
			level = zapcore.ErrorLevel
		case sw.status >= http.StatusBadRequest:
			level = zapcore.WarnLevel
		}
		s.Log.Log(level, "http",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", sw.status),
			zap.Int("bytes", sw.bytes),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}
