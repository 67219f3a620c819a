package middleware

import (
	"net/http"
	"time"

	"github.com/msgsync/internal/logger"
)

// RequestLog логирует каждый запрос к bridge: method, path, статус и время (асинхронно, не блокирует).
func RequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := wrap(w)
		next.ServeHTTP(rw, r)
		if rw.status >= http.StatusInternalServerError {
			logger.Errorf("http %s %s -> %d (%v)", r.Method, r.URL.Path, rw.status, time.Since(start))
			return
		}
		logger.Debugf("http %s %s -> %d (%v)", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}
