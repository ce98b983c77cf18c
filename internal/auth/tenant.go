package auth

import "fmt"

// TenantGuard authorizes a request's claimed tenant against the caller's
// verified identity.
type TenantGuard struct {
	rootIssuer string
}

// NewTenantGuard builds a guard trusting the given root issuer.
func NewTenantGuard(rootIssuer string) *TenantGuard {
	return &TenantGuard{rootIssuer: rootIssuer}
}

// Authorize checks that the caller may act on tenantID. Internal service
// tokens (root issuer, internal audience) may act on behalf of any tenant;
// everyone else only within their own.
func (g *TenantGuard) Authorize(claims Claims, tenantID string) error {
	if claims.Issuer == g.rootIssuer && claims.Audience == internalAudience {
		return nil
	}
	if tenantID == "" {
		return fmt.Errorf("tenant id required: %w", ErrForbidden)
	}
	if tenantID != claims.Subject {
		return fmt.Errorf("tenant %q does not match caller %q: %w", tenantID, claims.Subject, ErrForbidden)
	}
	return nil
}
