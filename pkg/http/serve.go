package xhttp

import (
	"time"

	"github.com/valyala/fasthttp"

	"github.com/sahelsms/orange-gateway/pkg/logger"
)

type (
	RequestCtx     = fasthttp.RequestCtx
	RequestHandler = fasthttp.RequestHandler
	Server         = fasthttp.Server
)

func StatusText(code int) string { return fasthttp.StatusMessage(code) }

const (
	StatusOK                  = fasthttp.StatusOK
	StatusCreated             = fasthttp.StatusCreated
	StatusMovedPermanently    = fasthttp.StatusMovedPermanently
	StatusBadRequest          = fasthttp.StatusBadRequest
	StatusNotFound            = fasthttp.StatusNotFound
	StatusRequestTimeout      = fasthttp.StatusRequestTimeout
	StatusBadGateway          = fasthttp.StatusBadGateway
	StatusInternalServerError = fasthttp.StatusInternalServerError
)

type ServerOption struct {
	Name               string
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	IdleTimeout        time.Duration
	ReadBufferSize     int
	WriteBufferSize    int
	MaxRequestBodySize int
	Concurrency        int
}

var DefaultServerOption = ServerOption{
	ReadTimeout:        time.Millisecond * 2500,
	WriteTimeout:       time.Millisecond * 2500,
	IdleTimeout:        time.Second * 10,
	ReadBufferSize:     1024 * 4,
	WriteBufferSize:    1024 * 4,
	MaxRequestBodySize: 4 * 1024 * 1024,
	Concurrency:        30_000,
}

// Engine couples a fasthttp server with a router and middleware chain.
type Engine struct {
	*Router
	*Server
	middle []MiddlewareFunc
}

func NewServer(options ServerOption) *Engine {
	return &Engine{
		Server: &fasthttp.Server{
			Name:                  options.Name,
			ReadTimeout:           options.ReadTimeout,
			WriteTimeout:          options.WriteTimeout,
			IdleTimeout:           options.IdleTimeout,
			ReadBufferSize:        options.ReadBufferSize,
			WriteBufferSize:       options.WriteBufferSize,
			MaxRequestBodySize:    options.MaxRequestBodySize,
			Concurrency:           options.Concurrency,
			NoDefaultServerHeader: true,
			CloseOnShutdown:       true,
			Logger:                logger.GetLogger(),
		},
		Router: NewRouter(),
	}
}

// Use appends a middleware. Middleware registered first runs outermost.
func (e *Engine) Use(m MiddlewareFunc) {
	e.middle = append(e.middle, m)
}

func (e *Engine) handler() RequestHandler {
	h := e.Router.Handler
	for i := len(e.middle) - 1; i >= 0; i-- {
		h = e.middle[i](h)
	}
	return h
}

func (e *Engine) ListenAndServe(addr string) error {
	e.Server.Handler = e.handler()
	logger.Info("http server listening", "addr", addr)
	return e.Server.ListenAndServe(addr)
}

func (e *Engine) Shutdown() error {
	return e.Server.Shutdown()
}
