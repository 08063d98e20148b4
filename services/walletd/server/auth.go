package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	nodecfg "agentvault/config"
	"agentvault/core/types"
	"agentvault/observability/logging"
)

// Scopes granted to callers through the token "scope" claim.
const (
	ScopeRead    = "wallet:read"
	ScopeWrite   = "wallet:write"
	ScopeRelay   = "relay"
	ScopeFactory = "factory"
	ScopeAdmin   = "admin"
)

// AuthConfig configures bearer token validation.
type AuthConfig struct {
	HMACSecret string
	Issuer     string
	Audience   string
	ClockSkew  time.Duration
}

type principalKey struct{}

// Principal is the authenticated caller. Its address is taken from the
// token subject and is the identity every engine call is made under.
type Principal struct {
	Address types.Address
	Scopes  []string
}

// Has reports whether the principal carries scope.
func (p Principal) Has(scope string) bool {
	for _, s := range p.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// PrincipalFrom returns the principal stored on ctx.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// Authenticator validates HMAC-signed JWTs.
type Authenticator struct {
	cfg    AuthConfig
	secret []byte
	logger *slog.Logger
	now    func() time.Time
}

// NewAuthenticator constructs an authenticator. An empty secret rejects every
// request.
func NewAuthenticator(cfg AuthConfig, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
	return &Authenticator{
		cfg:    cfg,
		secret: []byte(strings.TrimSpace(cfg.HMACSecret)),
		logger: logger,
		now:    time.Now,
	}
}

// Middleware authenticates the request and enforces every required scope.
func (a *Authenticator) Middleware(required ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := extractBearer(r.Header.Get("Authorization"))
			if tokenString == "" {
				writeError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			principal, err := a.authenticate(tokenString)
			if err != nil {
				a.logger.Debug("auth: token rejected",
					slog.String("path", r.URL.Path),
					logging.MaskField("token", tokenString),
					slog.Any("error", err))
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			for _, scope := range required {
				if !principal.Has(scope) {
					writeError(w, http.StatusForbidden, "insufficient scope")
					return
				}
			}
			ctx := context.WithValue(r.Context(), principalKey{}, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (a *Authenticator) authenticate(tokenString string) (Principal, error) {
	if len(a.secret) == 0 {
		return Principal{}, errors.New("auth secret not configured")
	}
	opts := []jwt.ParserOption{
		jwt.WithLeeway(a.cfg.ClockSkew),
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	}
	if a.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.cfg.Issuer))
	}
	if a.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(a.cfg.Audience))
	}
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return Principal{}, err
	}
	if !token.Valid {
		return Principal{}, errors.New("token invalid")
	}
	subject, err := claims.GetSubject()
	if err != nil || strings.TrimSpace(subject) == "" {
		return Principal{}, errors.New("subject required")
	}
	addr, err := nodecfg.ParseAddress(subject)
	if err != nil {
		return Principal{}, err
	}
	if addr.IsZero() {
		return Principal{}, errors.New("subject is the zero address")
	}
	return Principal{Address: addr, Scopes: extractScopes(claims)}, nil
}

func extractScopes(claims jwt.MapClaims) []string {
	switch v := claims["scope"].(type) {
	case string:
		return strings.Fields(v)
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, entry := range v {
			if s, ok := entry.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func extractBearer(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
