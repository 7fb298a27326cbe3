package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken  = errors.New("missing bearer token")
	ErrInvalidToken  = errors.New("invalid bearer token")
	ErrNotConfigured = errors.New("token verification is not configured")
)

// Identity is the authenticated storefront user a checkout is made for.
type Identity struct {
	UserID string
}

type userClaims struct {
	jwt.RegisteredClaims
}

type JWTConfig struct {
	Secret   string
	Audience string
	Issuer   string
}

// JWTIdentityResolver verifies HMAC-signed session tokens issued by the
// storefront's identity provider.
type JWTIdentityResolver struct {
	secret []byte
	parser *jwt.Parser
}

func NewJWTIdentityResolver(cfg JWTConfig) *JWTIdentityResolver {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS384.Alg(), jwt.SigningMethodHS512.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if audience := strings.TrimSpace(cfg.Audience); audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}
	if issuer := strings.TrimSpace(cfg.Issuer); issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}

	return &JWTIdentityResolver{
		secret: []byte(cfg.Secret),
		parser: jwt.NewParser(opts...),
	}
}

// Resolve validates an Authorization header value of the form "Bearer <jwt>".
func (r *JWTIdentityResolver) Resolve(authorization string) (*Identity, error) {
	if len(r.secret) == 0 {
		return nil, ErrNotConfigured
	}

	token, ok := bearerToken(authorization)
	if !ok {
		return nil, ErrMissingToken
	}

	claims := &userClaims{}
	parsed, err := r.parser.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return r.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}

	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return nil, fmt.Errorf("%w: subject claim missing", ErrInvalidToken)
	}

	return &Identity{UserID: subject}, nil
}

func bearerToken(authorization string) (string, bool) {
	authorization = strings.TrimSpace(authorization)
	const prefix = "bearer "
	if len(authorization) <= len(prefix) || !strings.EqualFold(authorization[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(authorization[len(prefix):])
	return token, token != ""
}
