package auth

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-checkout/app/factory"
	"github.com/vibast-solutions/ms-go-checkout/app/types"
)

const identityContextKey = "auth_identity"

type identityResolver interface {
	Resolve(authorization string) (*Identity, error)
}

type EchoUserMiddleware struct {
	resolver identityResolver
	logger   logrus.FieldLogger
}

func NewEchoUserMiddleware(resolver identityResolver) *EchoUserMiddleware {
	return &EchoUserMiddleware{
		resolver: resolver,
		logger:   factory.NewModuleLogger("user-auth"),
	}
}

// RequireUser rejects requests without a valid bearer token and stores the
// resolved identity on the echo context.
func (m *EchoUserMiddleware) RequireUser() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			identity, err := m.resolver.Resolve(ctx.Request().Header.Get(echo.HeaderAuthorization))
			if err != nil {
				l := factory.LoggerWithContext(m.logger, ctx)
				if errors.Is(err, ErrNotConfigured) {
					l.WithError(err).Error("User authentication misconfigured")
				} else {
					l.WithError(err).Debug("User authentication failed")
				}
				return ctx.JSON(http.StatusUnauthorized, &types.ErrorResponse{Error: "Unauthorized"})
			}
			ctx.Set(identityContextKey, identity)
			return next(ctx)
		}
	}
}

func IdentityFromContext(ctx echo.Context) (*Identity, bool) {
	identity, ok := ctx.Get(identityContextKey).(*Identity)
	return identity, ok && identity != nil
}

// WithIdentity stores identity on ctx the same way RequireUser does.
func WithIdentity(ctx echo.Context, identity *Identity) {
	ctx.Set(identityContextKey, identity)
}
