package gateway

import (
	"net/http"
	"runtime/debug"

	"github.com/sapcc/go-bits/logg"
)

// RecoverPanics wraps a handler so that a panic in any request handler is
// logged with its stack trace and turned into a 500 Registry v2 error
// response, instead of taking down the whole process.
func RecoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logg.Error("panic while handling %s %s: %v\n%s", r.Method, r.URL.String(), rec, debug.Stack())
				ErrUnknown.With("internal server error").WriteAsRegistryV2ResponseTo(w)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
