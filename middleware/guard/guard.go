package guard

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
)

var (
	defaultTokenLookup      = "header:" + fiber.HeaderAuthorization
	ErrTokenMissing         = errors.New("missing or malformed bearer token")
	ErrRoleNotAllowed       = errors.New("role not allowed")
	defaultContextKey       = "identity"
	defaultAuthScheme       = "Bearer"
	msgUnauthorized         = "Invalid or expired token"
	msgForbidden            = "Insufficient role"
	unauthorizedContentType = fiber.MIMETextPlainCharsetUTF8
)

// TokenValidator validates raw access tokens without importing the identity
// package, mirroring its TokenService.ValidateUse for access tokens.
type TokenValidator interface {
	Validate(tokenString string) (AuthClaims, error)
}

// AuthClaims mirrors the claims the identity package embeds in its tokens.
// The role rides inside the signed token, so the gate never touches storage.
type AuthClaims interface {
	Subject() string
	UserID() string
	UserEmail() string
	Role() string
	Use() string
	HasRole(role string) bool
}

type Config struct {
	Filter         func(*fiber.Ctx) bool
	SuccessHandler fiber.Handler
	ErrorHandler   fiber.ErrorHandler
	ContextKey     string
	TokenLookup    string
	AuthScheme     string

	// TokenValidator is required
	TokenValidator TokenValidator

	// Roles is an allow-list; empty means any authenticated subject passes.
	Roles []string

	// RoleChecker overrides the default membership test against Roles.
	RoleChecker func(AuthClaims, []string) bool

	// ContextEnricher propagates verified claims to the request's standard
	// context so service code can read them without fiber types.
	ContextEnricher func(ctx context.Context, claims AuthClaims) context.Context
}

// New returns a fiber middleware that rejects requests without a valid
// access token (401) or whose role is outside the allow-list (403). Claims
// are stored under ContextKey for downstream handlers.
func New(config ...Config) fiber.Handler {
	cfg := configDefault(config...)

	extractors := GetExtractors(cfg.TokenLookup, cfg.AuthScheme)

	return func(c *fiber.Ctx) error {
		if cfg.Filter != nil && cfg.Filter(c) {
			return c.Next()
		}

		raw, err := ExtractRawToken(c, extractors)
		if err != nil {
			return cfg.ErrorHandler(c, err)
		}

		claims, err := cfg.TokenValidator.Validate(raw)
		if err != nil {
			return cfg.ErrorHandler(c, err)
		}

		if !cfg.roleAllowed(claims) {
			return cfg.ErrorHandler(c, ErrRoleNotAllowed)
		}

		c.Locals(cfg.ContextKey, claims)

		if cfg.ContextEnricher != nil {
			c.SetUserContext(cfg.ContextEnricher(c.UserContext(), claims))
		}

		return cfg.SuccessHandler(c)
	}
}

// RequireRoles is a convenience wrapper for route groups that share a
// validator but differ in allowed roles.
func RequireRoles(validator TokenValidator, roles ...string) fiber.Handler {
	return New(Config{
		TokenValidator: validator,
		Roles:          roles,
	})
}

// ClaimsFromContext returns the claims the middleware stored, or nil when
// the request never passed through it.
func ClaimsFromContext(c *fiber.Ctx, contextKey ...string) AuthClaims {
	key := defaultContextKey
	if len(contextKey) > 0 && contextKey[0] != "" {
		key = contextKey[0]
	}

	claims, ok := c.Locals(key).(AuthClaims)
	if !ok {
		return nil
	}

	return claims
}

func (cfg *Config) roleAllowed(claims AuthClaims) bool {
	if cfg.RoleChecker != nil {
		return cfg.RoleChecker(claims, cfg.Roles)
	}

	if len(cfg.Roles) == 0 {
		return true
	}

	for _, role := range cfg.Roles {
		if claims.HasRole(role) {
			return true
		}
	}

	return false
}

func configDefault(config ...Config) (cfg Config) {
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.TokenValidator == nil {
		panic("GUARD: middleware configuration: TokenValidator is required.")
	}

	if cfg.SuccessHandler == nil {
		cfg.SuccessHandler = func(c *fiber.Ctx) error {
			return c.Next()
		}
	}

	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = func(c *fiber.Ctx, err error) error {
			c.Set(fiber.HeaderContentType, unauthorizedContentType)
			if errors.Is(err, ErrRoleNotAllowed) {
				return c.Status(fiber.StatusForbidden).SendString(msgForbidden)
			}
			return c.Status(fiber.StatusUnauthorized).SendString(msgUnauthorized)
		}
	}

	if cfg.ContextKey == "" {
		cfg.ContextKey = defaultContextKey
	}

	if cfg.TokenLookup == "" {
		cfg.TokenLookup = defaultTokenLookup
	}

	if cfg.AuthScheme == "" {
		cfg.AuthScheme = defaultAuthScheme
	}

	return cfg
}

type TokenExtractor func(c *fiber.Ctx) (string, error)

// ExtractRawToken runs the extractors in order and returns the first hit.
func ExtractRawToken(c *fiber.Ctx, extractors []TokenExtractor) (string, error) {
	var raw string
	var err error

	for _, extractor := range extractors {
		raw, err = extractor(c)
		if raw != "" && err == nil {
			break
		}
	}

	if raw == "" && err == nil {
		err = ErrTokenMissing
	}

	return raw, err
}

// GetExtractors parses a lookup string like
// "header:Authorization,cookie:access_token,query:token" into extractors.
func GetExtractors(tokenLookup string, authSchemes ...string) []TokenExtractor {
	extractors := make([]TokenExtractor, 0)

	authScheme := defaultAuthScheme
	if len(authSchemes) > 0 {
		authScheme = authSchemes[0]
	}

	rootParts := strings.Split(tokenLookup, ",")
	for _, rootPart := range rootParts {
		parts := strings.Split(strings.TrimSpace(rootPart), ":")
		if len(parts) != 2 {
			continue
		}

		for i, el := range parts {
			parts[i] = strings.TrimSpace(el)
		}

		switch parts[0] {
		case "header":
			extractors = append(extractors, tokenFromHeader(parts[1], authScheme))
		case "query":
			extractors = append(extractors, tokenFromQuery(parts[1]))
		case "cookie":
			extractors = append(extractors, tokenFromCookie(parts[1]))
		}
	}

	return extractors
}

func tokenFromHeader(header string, authScheme string) TokenExtractor {
	return func(c *fiber.Ctx) (string, error) {
		a := c.Get(header)
		l := len(authScheme)
		if l == 0 {
			return strings.TrimSpace(a), nil
		}
		if len(a) > l+1 && strings.EqualFold(a[:l], authScheme) {
			return strings.TrimSpace(a[l:]), nil
		}
		return "", ErrTokenMissing
	}
}

func tokenFromQuery(param string) TokenExtractor {
	return func(c *fiber.Ctx) (string, error) {
		token := c.Query(param)
		if token == "" {
			return "", ErrTokenMissing
		}
		return token, nil
	}
}

func tokenFromCookie(name string) TokenExtractor {
	return func(c *fiber.Ctx) (string, error) {
		token := c.Cookies(name)
		if token == "" {
			return "", ErrTokenMissing
		}
		return token, nil
	}
}
