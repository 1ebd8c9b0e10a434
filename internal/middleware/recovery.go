package middleware

import (
	"net/http"
	"runtime/debug"

	"iap-entitlement-api/pkg/apierror"

	"github.com/rs/zerolog"
)

// Recovery is a middleware that recovers from panics.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				zerolog.Ctx(r.Context()).Error().
					Interface("panic", err).
					Bytes("stack", debug.Stack()).
					Str("path", r.URL.Path).
					Msg("Recovered from panic")

				writeError(w, apierror.InternalError("internal server error"))
			}
		}()

		next.ServeHTTP(w, r)
	})
}
