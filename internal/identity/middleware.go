package identity

import (
	"net/http"

	apierrors "github.com/lucidlens/server/internal/errors"
	"github.com/lucidlens/server/internal/logger"
)

// UnauthenticatedMessage is the only text a rejected caller sees.
const UnauthenticatedMessage = "You must be logged in."

// RejectFunc writes the response for a request that failed authentication.
type RejectFunc func(w http.ResponseWriter, r *http.Request, err error)

// RejectJSON writes the standard error envelope with 401.
func RejectJSON(w http.ResponseWriter, _ *http.Request, _ error) {
	apierrors.WriteSimpleError(w, apierrors.ErrCodeUnauthenticated, UnauthenticatedMessage)
}

// RejectCallable writes the callable-function error envelope with 401.
func RejectCallable(w http.ResponseWriter, _ *http.Request, _ error) {
	apierrors.WriteCallableError(w, apierrors.ErrCodeUnauthenticated, UnauthenticatedMessage)
}

// Middleware requires a valid bearer identity token on every request.
// The verified user is stored on the request context and bound to the request logger.
// A nil reject uses RejectJSON.
func Middleware(v Verifier, reject RejectFunc) func(http.Handler) http.Handler {
	if reject == nil {
		reject = RejectJSON
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log := logger.FromContext(r.Context())

			token, err := BearerToken(r)
			if err != nil {
				log.Debug().Msg("auth.token.missing")
				reject(w, r, err)
				return
			}

			user, err := v.Verify(r.Context(), token)
			if err != nil {
				log.Warn().Err(err).Msg("auth.token.invalid")
				reject(w, r, err)
				return
			}

			ctx := WithUser(r.Context(), user)
			ctx = logger.WithUser(ctx, user.UID)
			log = logger.FromContext(ctx)
			log.Debug().
				Str("email", logger.RedactEmail(user.Email)).
				Msg("auth.token.verified")
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
