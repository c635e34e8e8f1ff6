// Package server exposes a process image and its patch engine over
// Connect. Messages are CBOR encoded; every procedure is unary.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"github.com/tliron/commonlog"

	"github.com/chazu/repatch/compiler"
	"github.com/chazu/repatch/image"
)

var log = commonlog.GetLogger("repatch.server")

// RequestIDHeader carries the id the server assigned to a request.
const RequestIDHeader = "Repatch-Request-Id"

// PatchServer serves a PatchService over HTTP.
type PatchServer struct {
	service *PatchService
	mux     *http.ServeMux
	http    *http.Server
}

// ServerOption configures a PatchServer.
type ServerOption func(*serverConfig)

type serverConfig struct {
	defaults compiler.Options
}

// WithDefaultFlags sets the compile flags merged into every Compile
// request.
func WithDefaultFlags(opts compiler.Options) ServerOption {
	return func(c *serverConfig) { c.defaults = opts }
}

// New creates a PatchServer over the given image.
func New(im *image.Image, opts ...ServerOption) *PatchServer {
	cfg := &serverConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	s := &PatchServer{
		service: NewPatchService(im, cfg.defaults),
		mux:     http.NewServeMux(),
	}
	s.http = &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	handlerOpts := []connect.HandlerOption{
		connect.WithCodec(cborCodec{}),
		connect.WithInterceptors(requestIDInterceptor()),
	}
	s.mux.Handle(CompileProcedure, connect.NewUnaryHandler(CompileProcedure, s.service.Compile, handlerOpts...))
	s.mux.Handle(ResolveProcedure, connect.NewUnaryHandler(ResolveProcedure, s.service.Resolve, handlerOpts...))
	s.mux.Handle(LoadProcedure, connect.NewUnaryHandler(LoadProcedure, s.service.Load, handlerOpts...))
	s.mux.Handle(ApplyProcedure, connect.NewUnaryHandler(ApplyProcedure, s.service.Apply, handlerOpts...))
	s.mux.Handle(CallProcedure, connect.NewUnaryHandler(CallProcedure, s.service.Call, handlerOpts...))
	s.mux.Handle(UnitsProcedure, connect.NewUnaryHandler(UnitsProcedure, s.service.Units, handlerOpts...))
	return s
}

// Handler returns the HTTP handler serving every procedure.
func (s *PatchServer) Handler() http.Handler {
	return s.mux
}

// ListenAndServe starts the HTTP server on the given address and blocks
// until it stops. It returns nil after Stop, including a Stop that came
// before the server started.
func (s *PatchServer) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Stop. It closes ln.
func (s *PatchServer) Serve(ln net.Listener) error {
	log.Noticef("patch server listening on %s", ln.Addr())
	log.Infof("  Connect (CBOR): http://%s/%s/", ln.Addr(), ServiceName)
	if err := s.http.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts the HTTP server down, waiting for in-flight requests until
// ctx ends. A stopped server cannot be started again.
func (s *PatchServer) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// requestIDInterceptor tags every request with a fresh id and logs its
// outcome.
func requestIDInterceptor() connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			id := uuid.NewString()
			start := time.Now()
			resp, err := next(ctx, req)
			if err != nil {
				log.Infof("%s %s failed after %s: %s", id, req.Spec().Procedure, time.Since(start), err)
				var cerr *connect.Error
				if errors.As(err, &cerr) {
					cerr.Meta().Set(RequestIDHeader, id)
				}
				return nil, err
			}
			log.Debugf("%s %s ok in %s", id, req.Spec().Procedure, time.Since(start))
			resp.Header().Set(RequestIDHeader, id)
			return resp, nil
		}
	}
}
