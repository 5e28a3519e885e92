package identity

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/peoplekit/go-identity/middleware/guard"
)

// accessTokenValidator adapts TokenService to the guard middleware: only
// access tokens pass, a refresh token presented at the gate is rejected.
type accessTokenValidator struct {
	tokens TokenService
}

func (v accessTokenValidator) Validate(tokenString string) (guard.AuthClaims, error) {
	claims, err := v.tokens.ValidateUse(tokenString, TokenUseAccess)
	if err != nil {
		return nil, err
	}

	return claims, nil
}

// GuardValidator wraps a TokenService for use in guard.Config.
func GuardValidator(tokens TokenService) guard.TokenValidator {
	return accessTokenValidator{tokens: tokens}
}

// ContextEnricherAdapter stores verified claims in the standard context for
// downstream code that never sees fiber types.
func ContextEnricherAdapter(c context.Context, claims guard.AuthClaims) context.Context {
	authClaims, ok := claims.(AuthClaims)
	if !ok {
		return c
	}

	return WithClaimsContext(c, authClaims)
}

// Protected returns the gate middleware for routes any approved subject may
// reach.
func (s *Service) Protected() fiber.Handler {
	return guard.New(guard.Config{
		TokenValidator:  GuardValidator(s.tokens),
		ContextKey:      s.contextKey,
		AuthScheme:      s.authScheme,
		ContextEnricher: ContextEnricherAdapter,
	})
}

// AdminOnly returns the gate middleware for admin routes.
func (s *Service) AdminOnly() fiber.Handler {
	return guard.New(guard.Config{
		TokenValidator:  GuardValidator(s.tokens),
		ContextKey:      s.contextKey,
		AuthScheme:      s.authScheme,
		Roles:           []string{RoleAdmin},
		ContextEnricher: ContextEnricherAdapter,
	})
}

// ClaimsFromContext recovers the verified claims the gate stored on the
// request, or nil when the route is unprotected.
func ClaimsFromContext(c *fiber.Ctx, contextKey ...string) AuthClaims {
	claims, ok := guard.ClaimsFromContext(c, contextKey...).(AuthClaims)
	if !ok {
		return nil
	}

	return claims
}
