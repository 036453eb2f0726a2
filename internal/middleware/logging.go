package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// requestIDKey is the context key carrying the per-request ID through the
// forwarder chain.
type requestIDKey struct{}

// RequestIDFromContext returns the request ID assigned by the logging
// middleware, or "unknown".
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return "unknown"
}

// LoggingMiddleware provides request/response logging
type LoggingMiddleware struct {
	logger     *slog.Logger
	monitoring *MonitoringMiddleware
}

// NewLoggingMiddleware creates a new logging middleware
func NewLoggingMiddleware(logger *slog.Logger) *LoggingMiddleware {
	return &LoggingMiddleware{
		logger: logger,
	}
}

// SetMonitoringMiddleware sets the monitoring middleware reference
func (lm *LoggingMiddleware) SetMonitoringMiddleware(mm *MonitoringMiddleware) {
	lm.monitoring = mm
}

// responseWriter wraps http.ResponseWriter to capture status code and bytes written
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	bytes      int64
}

func (rw *responseWriter) WriteHeader(code int) {
	if rw.statusCode == 0 {
		rw.statusCode = code
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if rw.statusCode == 0 {
		rw.statusCode = http.StatusOK
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += int64(n)
	return n, err
}

// Wrap wraps an HTTP handler with logging
func (lm *LoggingMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := uuid.NewString()[:8]
		clientIP := getClientIP(r)

		r = r.WithContext(context.WithValue(r.Context(), requestIDKey{}, requestID))

		if lm.monitoring != nil {
			lm.monitoring.RecordRequestStart(requestID, r.Method, r.URL.Path, clientIP)
		}

		rw := &responseWriter{ResponseWriter: w}

		lm.logger.Debug(fmt.Sprintf("📝 [请求接收] [%s] %s %s", requestID, r.Method, r.URL.Path),
			"method", r.Method,
			"path", r.URL.Path,
			"client_ip", clientIP,
			"content_length", r.ContentLength,
			"request_id", requestID,
		)

		next.ServeHTTP(rw, r)

		duration := time.Since(start)
		statusCode := rw.statusCode
		if statusCode == 0 {
			statusCode = http.StatusOK
		}

		if lm.monitoring != nil {
			lm.monitoring.RecordRequestDone(requestID, statusCode, duration)
		}

		statusEmoji := getStatusEmoji(statusCode)
		lm.logger.Info(fmt.Sprintf("%s [请求完成] [%s] %s %s → %d (%s)",
			statusEmoji, requestID, r.Method, r.URL.Path, statusCode, formatDuration(duration)),
			"method", r.Method,
			"path", r.URL.Path,
			"status_code", statusCode,
			"bytes_written", formatBytes(rw.bytes),
			"duration", formatDuration(duration),
			"client_ip", clientIP,
			"request_id", requestID,
		)

		// Log slow requests as warnings
		if duration > 10*time.Second {
			lm.logger.Warn(fmt.Sprintf("🐌 [慢请求] [%s] %s %s 耗时 %s",
				requestID, r.Method, r.URL.Path, formatDuration(duration)),
				"status_code", statusCode,
				"request_id", requestID,
			)
		}
	})
}

// Helper functions for better log formatting

func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.Split(xff, ",")[0]
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	if idx := strings.LastIndex(r.RemoteAddr, ":"); idx != -1 {
		return r.RemoteAddr[:idx]
	}
	return r.RemoteAddr
}

func getStatusEmoji(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return "✅"
	case statusCode >= 300 && statusCode < 400:
		return "🔄"
	case statusCode >= 400 && statusCode < 500:
		return "⚠️"
	case statusCode >= 500:
		return "❌"
	default:
		return "❓"
	}
}

func formatBytes(bytes int64) string {
	if bytes < 1024 {
		return fmt.Sprintf("%dB", bytes)
	} else if bytes < 1024*1024 {
		return fmt.Sprintf("%.1fKB", float64(bytes)/1024)
	}
	return fmt.Sprintf("%.1fMB", float64(bytes)/(1024*1024))
}

func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%.2fμs", float64(d.Nanoseconds())/1000)
	} else if d < time.Second {
		return fmt.Sprintf("%.1fms", float64(d.Nanoseconds())/1000000)
	}
	return fmt.Sprintf("%.2fs", d.Seconds())
}
