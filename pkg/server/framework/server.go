// Package framework is a minimal web framework.
package framework

import (
	"net/http"
	"os"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/opsecid/traceability-service/config"
)

type contextKey string

const (
	TraceIDKey       contextKey = "traceID"
	ShutdownErrorKey contextKey = "shutdownError"
)

func (c contextKey) String() string {
	return string(c)
}

// Server is the entrypoint into our application and what configures our context object for each of our http router.
type Server struct {
	*http.Server
	router   *gin.Engine
	tracer   trace.Tracer
	shutdown chan os.Signal
}

// Handler handles a request. Errors that were not already sent to the client are answered by the errors middleware.
type Handler func(c *gin.Context) error

// NewHTTPServer creates a Server that handles a set of routes for the application.
func NewHTTPServer(cfg config.ServerConfig, handler *gin.Engine, shutdown chan os.Signal) *Server {
	var tracer trace.Tracer
	if cfg.JagerEnabled {
		tracer = otel.Tracer(config.ServiceName)
	}

	return &Server{
		Server: &http.Server{
			Addr:              cfg.APIHost,
			Handler:           handler,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
		},
		router:   handler,
		tracer:   tracer,
		shutdown: shutdown,
	}
}

// Handle sets a handler function for a given HTTP method and path pair
// to the server mux. The middleware only applies to this route.
func (s *Server) Handle(method string, path string, handler Handler, middleware ...gin.HandlerFunc) {
	h := func(c *gin.Context) {
		r := c.Request

		// init a span, but only if the tracer is initialized
		if s.tracer != nil {
			ctx, span := s.tracer.Start(r.Context(), path)
			defer span.End()
			c.Request = r.WithContext(ctx)
			c.Set(TraceIDKey.String(), span.SpanContext().TraceID().String())

			body, err := PeekRequestBody(r)
			if err != nil {
				// log the error and continue the trace with an empty body value
				logrus.WithError(err).Error("failed to read request body during tracing")
			}
			span.SetAttributes(
				attribute.String("method", method),
				attribute.String("path", path),
				attribute.String("host", r.Host),
				attribute.String("user-agent", r.UserAgent()),
				attribute.String("proto", r.Proto),
				attribute.String("body", body),
			)
		}

		if err := handler(c); err != nil {
			_ = c.Error(err)
			if IsShutdown(err) {
				logrus.WithError(err).Errorf("unsafe error, shutting down")
				s.SignalShutdown()
			}
		}
	}

	handlers := append(gin.HandlersChain{}, middleware...)
	s.router.Handle(method, path, append(handlers, h)...)
}

// SignalShutdown is used to gracefully shut down the server when an integrity issue is identified.
func (s *Server) SignalShutdown() {
	select {
	case s.shutdown <- syscall.SIGTERM:
	default:
		logrus.Warn("shutdown already signalled")
	}
}
