package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/nfrund/watchparty/internal/auth"
)

// IdentityContextKey is where a verified identity is stored on the echo context.
const IdentityContextKey = "identity"

// TokenVerifier resolves a bearer token to a user identity.
type TokenVerifier interface {
	Verify(token string) (auth.Identity, error)
}

// Identity requires a valid bearer token on the routes it guards. The token
// is read from the "token" query parameter (browsers cannot set headers on a
// websocket upgrade) or from an Authorization: Bearer header. The token's
// subject becomes the caller's user id; a userId query parameter that names
// somebody else is rejected.
func Identity(verifier TokenVerifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			logger := FromContext(c.Request().Context())

			id, err := verifier.Verify(bearerToken(c))
			if err != nil {
				logger.Info("Rejected websocket connection", "path", c.Path(), "error", err)
				msg := "invalid token"
				switch {
				case errors.Is(err, auth.ErrMissingToken):
					msg = "missing token"
				case errors.Is(err, auth.ErrExpiredToken):
					msg = "token has expired"
				}
				return echo.NewHTTPError(http.StatusUnauthorized, msg)
			}

			if claimed := c.QueryParam("userId"); claimed != "" && claimed != id.UserID {
				logger.Warn("userId does not match token subject", "claimed", claimed, "user_id", id.UserID)
				return echo.NewHTTPError(http.StatusUnauthorized, "userId does not match token")
			}

			c.Set(IdentityContextKey, id)
			return next(c)
		}
	}
}

// IdentityFrom returns the identity stored by the Identity middleware.
func IdentityFrom(c echo.Context) (auth.Identity, bool) {
	id, ok := c.Get(IdentityContextKey).(auth.Identity)
	return id, ok
}

func bearerToken(c echo.Context) string {
	if token := c.QueryParam("token"); token != "" {
		return token
	}
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	if scheme, token, ok := strings.Cut(header, " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return ""
}
