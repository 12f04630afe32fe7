package middleware

import (
	"net/http"
	"runtime/debug"
)

func RecoverPanic(logger Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					if err == http.ErrAbortHandler {
						panic(err)
					}
					logger.Error("panic recovered",
						"path", r.URL.Path,
						"panic", err,
						"stack", string(debug.Stack()))

					w.Header().Set("Connection", "close")
					WriteError(w, http.StatusInternalServerError, "Something went wrong on our end.")
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
