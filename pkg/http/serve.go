package xhttp

import (
	"context"
	"net"
	"reflect"
	"runtime"
	"slices"
	"time"

	"github.com/nimasrn/sms-forwarder/pkg/logger"
	"github.com/valyala/fasthttp"
)

var (
	defaultReadBufferSize  = 1024 * 4
	defaultWriteBufferSize = 1024 * 4
	defaultReadTimeout     = time.Millisecond * 2500
	defaultWriteTimeout    = time.Millisecond * 2500
)

// DefaultServerOption keeps bodies small: device posts are single SMS payloads.
var DefaultServerOption = ServerOption{
	Handler: func(ctx *RequestCtx) {
		ctx.Error(StatusText(StatusNotFound), StatusNotFound)
	},
	IdleTimeout:           time.Second * 10,
	MaxIdleWorkerDuration: time.Minute * 1,
	TCPKeepalivePeriod:    time.Minute * 120, // linux default
	MaxRequestBodySize:    1024 * 1024,
	ReadBufferSize:        defaultReadBufferSize, // also, max header size
	WriteBufferSize:       defaultWriteBufferSize,
	ReadTimeout:           defaultReadTimeout,
	WriteTimeout:          defaultWriteTimeout,
	Concurrency:           30_000,
	MaxConnsPerIP:         10_000,
	TCPKeepalive:          true,
	NoDefaultServerHeader: true,
	NoDefaultDate:         true,
	NoDefaultContentType:  true,
	CloseOnShutdown:       true,
	LogAllErrors:          true,
}

type RequestHeader = fasthttp.RequestHeader
type ResponseHeader = fasthttp.ResponseHeader
type Server = fasthttp.Server

type ServerOption struct {
	Handler RequestHandler

	// idle keep-alive connections are closed after this; long values run into
	// open file limits under many devices
	IdleTimeout time.Duration

	MaxIdleWorkerDuration time.Duration
	TCPKeepalivePeriod    time.Duration
	MaxRequestBodySize    int
	ReadBufferSize        int
	WriteBufferSize       int
	ReadTimeout           time.Duration
	WriteTimeout          time.Duration
	Concurrency           int
	MaxConnsPerIP         int
	MaxRequestsPerConn    int

	ErrorHandler          func(ctx *RequestCtx, err error)
	Name                  string
	TCPKeepalive          bool
	NoDefaultServerHeader bool
	NoDefaultDate         bool
	NoDefaultContentType  bool
	CloseOnShutdown       bool
	LogAllErrors          bool
	Logger                logger.Logger
}

type Engine struct {
	*Router
	*Server
	option ServerOption
	middle []MiddlewareFunc
}

func newServer(options ServerOption) *fasthttp.Server {
	s := &fasthttp.Server{
		Handler:               options.Handler,
		ErrorHandler:          options.ErrorHandler,
		Name:                  options.Name,
		Concurrency:           options.Concurrency,
		ReadBufferSize:        options.ReadBufferSize,
		WriteBufferSize:       options.WriteBufferSize,
		ReadTimeout:           options.ReadTimeout,
		WriteTimeout:          options.WriteTimeout,
		IdleTimeout:           options.IdleTimeout,
		MaxConnsPerIP:         options.MaxConnsPerIP,
		MaxRequestsPerConn:    options.MaxRequestsPerConn,
		MaxIdleWorkerDuration: options.MaxIdleWorkerDuration,
		TCPKeepalivePeriod:    options.TCPKeepalivePeriod,
		MaxRequestBodySize:    options.MaxRequestBodySize,
		TCPKeepalive:          options.TCPKeepalive,
		LogAllErrors:          options.LogAllErrors,
		NoDefaultServerHeader: options.NoDefaultServerHeader,
		NoDefaultDate:         options.NoDefaultDate,
		NoDefaultContentType:  options.NoDefaultContentType,
		CloseOnShutdown:       options.CloseOnShutdown,
	}
	if options.Logger != nil {
		s.Logger = options.Logger
	}
	return s
}

func NewServer(options ServerOption) *Engine {
	if options.Logger == nil {
		options.Logger = logger.Nop()
	}
	if options.ErrorHandler == nil {
		l := options.Logger
		options.ErrorHandler = func(ctx *RequestCtx, err error) {
			l.Warn("[xhttp] connection error", "error", err, "ip", ctx.RemoteIP().String())
		}
	}
	return &Engine{
		Server: newServer(options),
		Router: NewRouter(),
		option: options,
	}
}

// CreateServer returns an engine with the default options and router.
func CreateServer(l logger.Logger) *Engine {
	opt := DefaultServerOption
	opt.Logger = l
	s := NewServer(opt)
	s.Router = CreateDefaultRouter()
	return s
}

func (e *Engine) Log() logger.Logger {
	return e.option.Logger
}

func (e *Engine) ListenAndServe(addr string) error {
	if err := e.DoRouting(); err != nil {
		return err
	}
	e.option.Logger.Info("[xhttp] server is listening", "addr", addr)
	return e.Server.ListenAndServe(addr)
}

// Serve is ListenAndServe over an existing listener.
func (e *Engine) Serve(ln net.Listener) error {
	if err := e.DoRouting(); err != nil {
		return err
	}
	return e.Server.Serve(ln)
}

// DoRouting installs the router as the server handler and wraps it with the
// registered middleware. The first middleware passed to Use runs first.
func (e *Engine) DoRouting() error {
	for method, route := range e.Router.List() {
		for _, r := range route {
			e.option.Logger.Debug("[xhttp] route", "method", method, "path", r)
		}
	}
	e.Server.Handler = e.Router.Handler
	middle := slices.Clone(e.middle)
	slices.Reverse(middle)
	for i, m := range middle {
		e.Server.Handler = m(e.Server.Handler)
		e.option.Logger.Debug("[xhttp] middleware registered", "order", len(middle)-i, "name", runtime.FuncForPC(reflect.ValueOf(m).Pointer()).Name())
	}
	return nil
}

// Handler returns the fully wrapped handler. Used by tests that drive the
// engine without a listener.
func (e *Engine) Handler() RequestHandler {
	_ = e.DoRouting()
	return e.Server.Handler
}

// Use adds middleware to the end of the chain.
func (e *Engine) Use(middleware MiddlewareFunc) {
	e.middle = append(e.middle, middleware)
}

// Shutdown waits for active connections until ctx is done.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.option.Logger.Info("[xhttp] server is shutting down")
	if err := e.Server.ShutdownWithContext(ctx); err != nil {
		e.option.Logger.Error("[xhttp] error while shutting down", "error", err)
		return err
	}
	return nil
}
