// Package router adapts chi to handlers that return errors.
//
// Handlers registered on a Mux return an error instead of writing failure
// responses themselves. Returned errors, and panics recovered from handlers,
// travel through the error handler chain installed with UseError. Each stage
// either consumes the error by returning nil or hands a (possibly wrapped)
// error to the next stage. Whatever is left at the end of the chain is
// answered by Deliver.
package router

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"ocm.software/open-component-model/server/internal/errdefs"
)

// HandlerFunc serves a request and reports failures as error.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

// ErrorHandlerFunc is one stage of the error chain.
type ErrorHandlerFunc func(w http.ResponseWriter, r *http.Request, err error) error

// Middleware wraps a http.Handler.
type Middleware = func(http.Handler) http.Handler

// Router is the routing capability handed to plugins and the bootstrap.
type Router interface {
	Handle(method, pattern string, h HandlerFunc) error
	Use(mws ...Middleware)
	UseError(hs ...ErrorHandlerFunc)
}

// ErrNoRoute is reported for requests no registered route serves.
var ErrNoRoute = errors.New("no matching route")

// Mux is a chi backed Router.
type Mux struct {
	mux *chi.Mux

	mu            sync.RWMutex
	errorHandlers []ErrorHandlerFunc
}

var _ Router = (*Mux)(nil)

// NewMux creates an empty Mux. Unknown routes and methods are reported
// through the error chain.
func NewMux() *Mux {
	m := &Mux{mux: chi.NewRouter()}
	m.mux.NotFound(m.adapt(func(_ http.ResponseWriter, r *http.Request) error {
		return errdefs.NewStatusError(http.StatusNotFound, fmt.Errorf("%w for %s %s", ErrNoRoute, r.Method, r.URL.Path))
	}))
	m.mux.MethodNotAllowed(m.adapt(func(_ http.ResponseWriter, r *http.Request) error {
		return errdefs.NewStatusError(http.StatusMethodNotAllowed, fmt.Errorf("%w for %s %s", ErrNoRoute, r.Method, r.URL.Path))
	}))
	return m
}

// Use appends middlewares. All middlewares must be installed before the first route.
func (m *Mux) Use(mws ...Middleware) {
	m.mux.Use(mws...)
}

// UseError appends stages to the error chain. Stages installed late still
// apply to routes registered earlier.
func (m *Mux) UseError(hs ...ErrorHandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorHandlers = append(m.errorHandlers, hs...)
}

// Handle registers h for method and pattern. A pattern chi cannot route is
// reported as configuration error.
func (m *Mux) Handle(method, pattern string, h HandlerFunc) error {
	return mount(m.mux, method, pattern, m.adapt(h))
}

// ValidatePattern reports whether pattern can be routed, without touching any Mux.
func ValidatePattern(pattern string) error {
	return mount(chi.NewRouter(), http.MethodGet, pattern, func(http.ResponseWriter, *http.Request) {})
}

func mount(mux chi.Router, method, pattern string, h http.HandlerFunc) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errdefs.Configuration("invalid route %s %q: %v", method, pattern, rec)
		}
	}()
	mux.MethodFunc(method, pattern, h)
	return nil
}

func (m *Mux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.mux.ServeHTTP(w, r)
}

// Routes lists registered routes as "METHOD pattern".
func (m *Mux) Routes() []string {
	var routes []string
	_ = chi.Walk(m.mux, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		routes = append(routes, method+" "+route)
		return nil
	})
	return routes
}

func (m *Mux) adapt(h HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ww, ok := w.(middleware.WrapResponseWriter)
		if !ok {
			ww = middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		}
		if err := call(h, ww, r); err != nil {
			m.handleError(ww, r, err)
		}
	}
}

func (m *Mux) handleError(w http.ResponseWriter, r *http.Request, err error) {
	m.mu.RLock()
	chain := append([]ErrorHandlerFunc(nil), m.errorHandlers...)
	m.mu.RUnlock()

	for _, h := range chain {
		if err = h(w, r, err); err == nil {
			return
		}
	}
	Deliver(w, r, err)
}

func call(h HandlerFunc, w http.ResponseWriter, r *http.Request) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			err = &PanicError{Value: rec, Stack: string(debug.Stack())}
		}
	}()
	return h(w, r)
}

// PanicError is a panic recovered from a handler.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

func (e *PanicError) StackTrace() string {
	return e.Stack
}

// Started reports whether a response has already been written to w.
func Started(w http.ResponseWriter) bool {
	ww, ok := w.(middleware.WrapResponseWriter)
	if !ok {
		return false
	}
	return ww.Status() != 0 || ww.BytesWritten() > 0
}

// Deliver is the default delivery of an unhandled error: the status text in
// plain text, unless a response was already started.
func Deliver(w http.ResponseWriter, _ *http.Request, err error) {
	if Started(w) {
		return
	}
	status := errdefs.StatusCode(err)
	http.Error(w, http.StatusText(status), status)
}
