package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTenantGuard(t *testing.T) {
	guard := NewTenantGuard("platform")

	internal := Claims{Subject: "insights", Audience: "internal", Issuer: "platform"}
	tenant := Claims{Subject: "tenant-1", Audience: "internal", Issuer: "content-writer"}

	t.Run("internal service may act on any tenant", func(t *testing.T) {
		assert.NoError(t, guard.Authorize(internal, "tenant-1"))
		assert.NoError(t, guard.Authorize(internal, "tenant-2"))
	})

	t.Run("caller may act within its own tenant", func(t *testing.T) {
		assert.NoError(t, guard.Authorize(tenant, "tenant-1"))
	})

	t.Run("tenant mismatch is forbidden", func(t *testing.T) {
		assert.ErrorIs(t, guard.Authorize(tenant, "tenant-2"), ErrForbidden)
	})

	t.Run("missing tenant id is forbidden for non-internal callers", func(t *testing.T) {
		assert.ErrorIs(t, guard.Authorize(tenant, ""), ErrForbidden)
	})

	t.Run("wrong issuer gets no bypass", func(t *testing.T) {
		imposter := Claims{Subject: "svc", Audience: "internal", Issuer: "someone-else"}
		assert.ErrorIs(t, guard.Authorize(imposter, "tenant-1"), ErrForbidden)
	})
}
