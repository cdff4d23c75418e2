package server

import (
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const upstreamIdleConnTimeout = 90 * time.Second

// newUpstreamProxy builds the reverse proxy shared by every /upstream request.
// Connections to the upstream are pooled on one transport.
func (s *Server) newUpstreamProxy(target *url.URL) *httputil.ReverseProxy {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = s.config.Upstream.Timeout
	transport.IdleConnTimeout = upstreamIdleConnTimeout
	transport.MaxIdleConnsPerHost = 16

	proxy := httputil.NewSingleHostReverseProxy(target)
	director := proxy.Director
	proxy.Director = func(req *http.Request) {
		director(req)
		req.Host = target.Host

		auth := req.Header.Get("Authorization")
		if s.config.Upstream.APIKey != "" && (auth == "" || auth == "[REDACTED]") {
			req.Header.Set("Authorization", "Bearer "+s.config.Upstream.APIKey)
		}
		if _, ok := req.Header["User-Agent"]; !ok {
			req.Header.Set("User-Agent", "restaurant-chat/"+version)
		}

		s.logger.WithRequestID(getRequestID(req.Context())).Debug("Proxying request",
			zap.String("target_url", req.URL.String()),
			zap.String("method", req.Method),
		)
	}

	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		s.logger.WithRequestID(getRequestID(r.Context())).Error("Proxy error", zap.Error(err))
		writeError(w, http.StatusBadGateway, "upstream unavailable")
	}
	proxy.Transport = transport

	return proxy
}

// handleUpstreamProxy forwards an already-masked request to the upstream
// text-generation service
func (s *Server) handleUpstreamProxy(w http.ResponseWriter, r *http.Request) {
	r.URL.Path = strings.TrimPrefix(r.URL.Path, "/upstream")
	if r.URL.Path == "" {
		r.URL.Path = "/"
	}

	if detections := detectionsFromContext(r.Context()); len(detections) > 0 {
		w.Header().Set("X-PII-Masked", strconv.Itoa(len(detections)))
	}

	start := time.Now()
	s.proxy.ServeHTTP(w, r)

	s.logger.WithRequestID(getRequestID(r.Context())).Info("Request proxied",
		zap.String("path", r.URL.Path),
		zap.Duration("upstream_duration", time.Since(start)),
	)
}
