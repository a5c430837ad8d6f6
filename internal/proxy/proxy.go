/*
Copyright 2025 IBM.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package proxy

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/klog/v2"
)

var (
	// FunctionPath is the path Netlify serves the function on
	FunctionPath = "/.netlify/functions/deepseek-api"
	// APIPath is a shorter alias of FunctionPath
	APIPath = "/api/deepseek"

	HealthzPath = "/healthz"
	MetricsPath = "/metrics"
)

// Server is the standalone HTTP server wrapping the Handler
type Server struct {
	logger  logr.Logger
	addr    net.Addr // the proxy TCP address
	port    string   // the proxy TCP port
	handler *Handler
	metrics *Metrics
}

// NewProxy creates a new proxy server. metrics may be nil.
func NewProxy(port string, handler *Handler, metrics *Metrics) *Server {
	return &Server{
		port:    port,
		handler: handler,
		metrics: metrics,
	}
}

// Start the HTTP server. It returns once ctx is done and the server has shut down.
func (s *Server) Start(ctx context.Context) error {
	logger := klog.FromContext(ctx).WithName("proxy server")
	s.logger = logger

	ln, err := net.Listen("tcp", ":"+s.port)
	if err != nil {
		logger.Error(err, "Failed to start")
		return err
	}
	s.addr = ln.Addr()

	// Configure handlers
	mux := s.createRoutes()

	server := &http.Server{
		Handler: s.withLogging(mux),
		BaseContext: func(net.Listener) context.Context {
			return klog.NewContext(context.Background(), logger)
		},
	}

	// Setup graceful termination
	go func() {
		<-ctx.Done()
		logger.Info("shutting down")

		ctx, cancelFn := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancelFn()
		if err := server.Shutdown(ctx); err != nil {
			logger.Error(err, "Failed to gracefully shutdown")
		}
	}()

	logger.Info("starting", "addr", s.addr.String())
	if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
		logger.Error(err, "Failed to start")
		return err
	}

	return nil
}

func (s *Server) createRoutes() *http.ServeMux {
	// Configure handlers
	mux := http.NewServeMux()

	// The handler answers every method itself (405 and preflight included)
	mux.Handle(FunctionPath, s.handler)
	mux.Handle(APIPath, s.handler)

	mux.HandleFunc("GET "+HealthzPath, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set(headerContentType, contentTypeJSON)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`)) //nolint:all
	})

	if s.metrics != nil {
		mux.Handle("GET "+MetricsPath, s.metrics.Handler())
	}

	return mux
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusResponseWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)

		s.logger.V(2).Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"code", sw.code(),
			"duration", time.Since(start),
		)
	})
}
