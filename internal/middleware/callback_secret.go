package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/rs/zerolog"
)

// CallbackSecretHeader carries the shared secret on pipeline callbacks.
const CallbackSecretHeader = "X-Callback-Secret"

// CallbackSecret rejects callbacks whose shared secret does not match. With
// an empty secret verification is skipped and a warning logged at startup.
func CallbackSecret(secret string, l zerolog.Logger) func(http.Handler) http.Handler {
	if secret == "" {
		l.Warn().Msg("CALLBACK_SECRET not set; pipeline callbacks are not authenticated")
	}
	return func(next http.Handler) http.Handler {
		if secret == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(CallbackSecretHeader)
			if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				l.Warn().Str("path", r.URL.Path).Str("request_id", RequestIDFromContext(r.Context())).Msg("callback rejected: bad secret")
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid callback secret")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
