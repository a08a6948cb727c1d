package server

import (
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const requestIDHeader = "X-Request-ID"

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// withRequestLog tags every request with an id and logs API calls.
func withRequestLog(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		requestID := strings.TrimSpace(req.Header.Get(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)

		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(recorder, req)
		if logger == nil || !strings.HasPrefix(req.URL.Path, "/api/") {
			return
		}
		logger.Printf(
			"http request: request_id=%s method=%s path=%s status=%d duration_ms=%d",
			requestID,
			req.Method,
			req.URL.Path,
			recorder.status,
			time.Since(start).Milliseconds(),
		)
	})
}
