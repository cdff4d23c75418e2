package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/groundtruth-ai/restaurant-chat/internal/logger"
	"github.com/groundtruth-ai/restaurant-chat/internal/privacy"
	"github.com/groundtruth-ai/restaurant-chat/internal/websocket"
)

type contextKey string

const (
	requestIDKey  contextKey = "request_id"
	detectionsKey contextKey = "privacy_detections"
)

const requestIDHeader = "X-Request-ID"

// requestIDMiddleware assigns every request an ID, reusing a valid incoming one
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(requestIDHeader)
		if _, err := uuid.Parse(requestID); err != nil {
			requestID = uuid.NewString()
		}

		w.Header().Set(requestIDHeader, requestID)
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// loggingMiddleware logs HTTP requests and publishes request-log events
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := getRequestID(r.Context())
		log := s.logger.WithRequestID(requestID)
		s.totalRequests.Add(1)

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		log.Debug("HTTP request started",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote_addr", r.RemoteAddr),
			zap.String("user_agent", r.UserAgent()),
		)

		next.ServeHTTP(rw, r)

		duration := time.Since(start)
		log.Info("HTTP request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status_code", rw.statusCode),
			zap.Duration("duration", duration),
			zap.Int("response_size", rw.size),
		)

		s.deps.Hub.PublishRequestLog(websocket.RequestLogEvent{
			RequestID:    requestID,
			Method:       r.Method,
			Path:         r.URL.Path,
			StatusCode:   rw.statusCode,
			ClientIP:     websocket.ClientIP(r),
			UserAgent:    r.UserAgent(),
			Duration:     duration,
			RequestSize:  r.ContentLength,
			ResponseSize: int64(rw.size),
			Headers:      logger.SafeHeaders(r.Header),
		})
	})
}

// privacyMiddleware masks PII in request bodies and scrubs credential
// headers before the request travels upstream
func (s *Server) privacyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.deps.Detector.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		log := s.logger.WithRequestID(getRequestID(r.Context()))

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			log.Error("Failed to read request body", zap.Error(err))
			writeError(w, http.StatusBadRequest, "failed to read request")
			return
		}
		r.Body.Close()

		r.Header = http.Header(s.deps.Detector.ProcessHeadersForContext(r.Header, true))

		result := s.deps.Detector.ProcessText(r.Context(), string(body))
		if result.HasPII {
			log.Info("PII masked in upstream request",
				zap.Int("detections", len(result.Detections)),
				zap.String("path", r.URL.Path),
			)
			if s.deps.Metrics != nil {
				s.deps.Metrics.ObserveMask(result)
			}
			s.deps.Hub.PublishPIIDetection("", getRequestID(r.Context()), result.Detections)
		}

		r.Body = io.NopCloser(bytes.NewReader([]byte(result.MaskedText)))
		r.ContentLength = int64(len(result.MaskedText))

		ctx := context.WithValue(r.Context(), detectionsKey, privacy.Redacted(result.Detections))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// rateLimitMiddleware rejects message submissions beyond the per-client rate
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientIP := websocket.ClientIP(r)
		if !s.deps.Limiter.Allow(clientIP) {
			if s.deps.Metrics != nil {
				s.deps.Metrics.RecordRateLimited()
			}
			s.logger.WithRequestID(getRequestID(r.Context())).Warn("Rate limit exceeded",
				zap.String("client_ip", clientIP))
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded, please wait a moment before trying again")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture response data
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	size       int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	size, err := rw.ResponseWriter.Write(b)
	rw.size += size
	return size, err
}

// Flush lets streamed upstream responses through the wrapper
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// getRequestID extracts request ID from context
func getRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(requestIDKey).(string); ok {
		return requestID
	}
	return "unknown"
}

// detectionsFromContext returns the redacted detections found in the request body
func detectionsFromContext(ctx context.Context) []privacy.Detection {
	detections, _ := ctx.Value(detectionsKey).([]privacy.Detection)
	return detections
}
