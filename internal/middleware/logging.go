// Package middleware は運用HTTPサーバー向けのミドルウェアを提供する。
package middleware

import (
	"log/slog"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// quietPaths はスクレイプやヘルスチェックで頻繁に叩かれるパス。Debugで記録する。
var quietPaths = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

// responseCapture はレスポンスのステータスコードと書き込みバイト数を保持する。
type responseCapture struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (c *responseCapture) WriteHeader(code int) {
	if c.status == 0 {
		c.status = code
	}
	c.ResponseWriter.WriteHeader(code)
}

func (c *responseCapture) Write(b []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	n, err := c.ResponseWriter.Write(b)
	c.bytes += n
	return n, err
}

// statusCode は書き込みがなかった場合も200として扱う。
func (c *responseCapture) statusCode() int {
	if c.status == 0 {
		return http.StatusOK
	}
	return c.status
}

// accessLogLevel はステータスコードとパスからアクセスログのレベルを決める。
func accessLogLevel(path string, status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case status >= http.StatusBadRequest:
		return slog.LevelWarn
	case quietPaths[path]:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// NewLoggingMiddleware はリクエストごとにhttp_requestログを出力するミドルウェアを返す。
// chimw.RequestIDが前段にある場合はrequest_idも記録する。
func NewLoggingMiddleware(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			capture := &responseCapture{ResponseWriter: w}

			next.ServeHTTP(capture, r)

			status := capture.statusCode()
			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", status),
				slog.Int("bytes", capture.bytes),
				slog.Float64("duration_ms", float64(time.Since(start).Microseconds())/1000),
			}
			if id := chimw.GetReqID(r.Context()); id != "" {
				attrs = append(attrs, slog.String("request_id", id))
			}

			logger.LogAttrs(r.Context(), accessLogLevel(r.URL.Path, status), "http_request", attrs...)
		})
	}
}
