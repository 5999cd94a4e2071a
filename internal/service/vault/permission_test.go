package vault

import (
	"context"
	"testing"
	"time"

	"filevault/internal/capabilities"
	"filevault/internal/domain"
	models "filevault/internal/domain/models/vault"
	vaultSvc "filevault/internal/domain/services/vault"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (h *harness) grant(t *testing.T, fileID string, subject models.Subject, caps models.Capability, expiresAt *time.Time) *models.FilePermission {
	t.Helper()
	p, err := h.permissions.Grant(context.Background(), &vaultSvc.GrantRequest{
		FileID:       fileID,
		Subject:      subject,
		Capabilities: caps,
		GrantedBy:    "7",
		ExpiresAt:    expiresAt,
	})
	require.NoError(t, err)
	return p
}

func TestGrantAndRevoke(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	f := h.file(t, h.root(t, "Root"), "spec.txt")
	user := models.UserSubject("9")

	perm := h.grant(t, f.ID, user, models.CapRead|models.CapDownload, nil)
	assert.True(t, perm.Active)
	assert.Equal(t, models.LevelReader, perm.EffectiveLevel(h.clock.Now()))

	ok, err := h.permissions.HasPermission(ctx, f.ID, user, models.CapDownload)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.permissions.HasPermission(ctx, f.ID, user, models.CapWrite)
	require.NoError(t, err)
	assert.False(t, ok)

	t.Run("second active grant conflicts", func(t *testing.T) {
		_, err := h.permissions.Grant(ctx, &vaultSvc.GrantRequest{
			FileID: f.ID, Subject: user, Capabilities: models.CapWrite, GrantedBy: "7",
		})
		assert.True(t, domain.HasConflictReason(err, domain.ConflictAlreadyGranted))
	})

	revoked, err := h.permissions.Revoke(ctx, perm.ID, "7", "left the team")
	require.NoError(t, err)
	assert.False(t, revoked.Active)
	require.NotNil(t, revoked.RevokeReason)
	assert.Equal(t, "left the team", *revoked.RevokeReason)

	// The cached grant above must not survive the revoke
	for _, c := range []models.Capability{models.CapRead, models.CapDownload, models.CapWrite} {
		ok, err := h.permissions.HasPermission(ctx, f.ID, user, c)
		require.NoError(t, err)
		assert.False(t, ok, c.String())
	}
	level, err := h.permissions.EffectiveLevel(ctx, perm.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LevelNone, level)

	_, err = h.permissions.Revoke(ctx, perm.ID, "7", "")
	assert.True(t, domain.HasConflictReason(err, domain.ConflictAlreadyRevoked))

	t.Run("restore", func(t *testing.T) {
		restored, err := h.permissions.Restore(ctx, perm.ID, "7", "back again")
		require.NoError(t, err)
		assert.True(t, restored.Active)
		assert.Nil(t, restored.RevokedAt)

		ok, err := h.permissions.HasPermission(ctx, f.ID, user, models.CapRead)
		require.NoError(t, err)
		assert.True(t, ok)

		_, err = h.permissions.Restore(ctx, perm.ID, "7", "")
		assert.True(t, domain.HasConflictReason(err, domain.ConflictNotRevoked))
	})
}

func TestRestoreBlockedByNewerGrant(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	f := h.file(t, h.root(t, "Root"), "spec.txt")
	user := models.UserSubject("9")

	old := h.grant(t, f.ID, user, models.CapRead, nil)
	_, err := h.permissions.Revoke(ctx, old.ID, "7", "")
	require.NoError(t, err)
	h.grant(t, f.ID, user, models.CapRead|models.CapWrite, nil)

	_, err = h.permissions.Restore(ctx, old.ID, "7", "")
	assert.True(t, domain.HasConflictReason(err, domain.ConflictAlreadyGranted))
}

func TestGrantExpiry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	f := h.file(t, h.root(t, "Root"), "spec.txt")
	user := models.UserSubject("9")

	expires := h.clock.Now().Add(time.Hour)
	perm := h.grant(t, f.ID, user, models.CapRead, &expires)

	ok, err := h.permissions.HasPermission(ctx, f.ID, user, models.CapRead)
	require.NoError(t, err)
	assert.True(t, ok)

	// The cache TTL is a minute, but the entry must not outlive the grant
	h.clock.Advance(time.Hour)
	ok, err = h.permissions.HasPermission(ctx, f.ID, user, models.CapRead)
	require.NoError(t, err)
	assert.False(t, ok)

	t.Run("extend expiry must be in the future", func(t *testing.T) {
		_, err := h.permissions.ExtendExpiry(ctx, perm.ID, h.clock.Now(), "7")
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("extend revives the grant", func(t *testing.T) {
		extended, err := h.permissions.ExtendExpiry(ctx, perm.ID, h.clock.Now().Add(24*time.Hour), "7")
		require.NoError(t, err)
		assert.Equal(t, models.LevelReader, extended.EffectiveLevel(h.clock.Now()))

		ok, err := h.permissions.HasPermission(ctx, f.ID, user, models.CapRead)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("expired active row does not block a new grant", func(t *testing.T) {
		h.clock.Advance(48 * time.Hour)
		fresh := h.grant(t, f.ID, user, models.CapRead|models.CapComment, nil)

		rows, err := h.permissions.ListForFile(ctx, f.ID)
		require.NoError(t, err)
		require.Len(t, rows, 2)
		for _, r := range rows {
			assert.Equal(t, r.ID == fresh.ID, r.Active, r.ID)
		}
	})
}

func TestGrantValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	f := h.file(t, h.root(t, "Root"), "spec.txt")
	past := h.clock.Now().Add(-time.Minute)

	tests := []struct {
		name string
		req  vaultSvc.GrantRequest
	}{
		{"no capabilities", vaultSvc.GrantRequest{FileID: f.ID, Subject: models.UserSubject("9"), GrantedBy: "7"}},
		{"unknown bits", vaultSvc.GrantRequest{FileID: f.ID, Subject: models.UserSubject("9"), Capabilities: 1 << 14, GrantedBy: "7"}},
		{"empty subject", vaultSvc.GrantRequest{FileID: f.ID, Subject: models.Subject{Kind: models.SubjectUser}, Capabilities: models.CapRead, GrantedBy: "7"}},
		{"expiry in the past", vaultSvc.GrantRequest{FileID: f.ID, Subject: models.UserSubject("9"), Capabilities: models.CapRead, GrantedBy: "7", ExpiresAt: &past}},
		{"no grantor", vaultSvc.GrantRequest{FileID: f.ID, Subject: models.UserSubject("9"), Capabilities: models.CapRead}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.permissions.Grant(ctx, &tt.req)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
}

func TestSubjectsAreIndependent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	f := h.file(t, h.root(t, "Root"), "spec.txt")

	h.grant(t, f.ID, models.RoleSubject("editors"), models.CapRead|models.CapWrite|models.CapCheckout, nil)
	h.grant(t, f.ID, models.PublicSubject(), models.CapRead, nil)

	level, err := h.permissions.GetLevel(ctx, f.ID, models.RoleSubject("editors"))
	require.NoError(t, err)
	assert.Equal(t, models.LevelEditor, level)

	level, err = h.permissions.GetLevel(ctx, f.ID, models.PublicSubject())
	require.NoError(t, err)
	assert.Equal(t, models.LevelReader, level)

	level, err = h.permissions.GetLevel(ctx, f.ID, models.UserSubject("9"))
	require.NoError(t, err)
	assert.Equal(t, models.LevelNone, level)
}

func TestGrantPreset(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	f := h.file(t, h.root(t, "Root"), "spec.txt")

	perm, err := h.permissions.GrantPreset(ctx, &vaultSvc.GrantPresetRequest{
		FileID:    f.ID,
		Subject:   models.UserSubject("9"),
		Preset:    capabilities.PresetFull,
		GrantedBy: "7",
	})
	require.NoError(t, err)
	assert.Equal(t, models.LevelOwner, perm.EffectiveLevel(h.clock.Now()))

	_, err = h.permissions.GrantPreset(ctx, &vaultSvc.GrantPresetRequest{
		FileID:    f.ID,
		Subject:   models.UserSubject("10"),
		Preset:    "superuser",
		GrantedBy: "7",
	})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestPermissionsWithoutCache(t *testing.T) {
	h := newHarness(t, withCacheTTL(0))
	ctx := context.Background()
	f := h.file(t, h.root(t, "Root"), "spec.txt")
	user := models.UserSubject("9")

	perm := h.grant(t, f.ID, user, models.CapRead, nil)
	ok, err := h.permissions.HasPermission(ctx, f.ID, user, models.CapRead)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = h.permissions.Revoke(ctx, perm.ID, "7", "")
	require.NoError(t, err)
	ok, err = h.permissions.HasPermission(ctx, f.ID, user, models.CapRead)
	require.NoError(t, err)
	assert.False(t, ok)
}
