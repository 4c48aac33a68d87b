package middlewares

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
)

type CorsMw struct {
	h http.Handler
}

// NewCorsMw builds a read-only CORS policy for the status endpoints.
func NewCorsMw() mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return NewCors(cors.Options{
			AllowedMethods: []string{http.MethodGet},
		}, next)
	}
}

// Called once for each middleware chain
func NewCors(opts cors.Options, next http.Handler) *CorsMw {
	cors := cors.New(opts)

	return &CorsMw{
		h: cors.Handler(next),
	}
}

// This should be the first Middleware in the chain
func (mw *CorsMw) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	mw.h.ServeHTTP(rw, r)
}
