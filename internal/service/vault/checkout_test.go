package vault

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"filevault/internal/config"
	"filevault/internal/domain"
	"filevault/internal/metrics"
	"filevault/internal/repository/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckoutLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	f := h.file(t, h.root(t, "Root"), "spec.txt")

	locked, err := h.checkout.Checkout(ctx, f.ID, "7", 2)
	require.NoError(t, err)
	require.NotNil(t, locked.CheckedOutBy)
	assert.Equal(t, "7", *locked.CheckedOutBy)
	assert.Equal(t, h.clock.Now().Add(2*time.Hour), *locked.ExpectedCheckinAt)

	_, err = h.checkout.Checkout(ctx, f.ID, "9", 2)
	assert.True(t, domain.HasConflictReason(err, domain.ConflictAlreadyCheckedOut))

	_, err = h.checkout.Checkout(ctx, f.ID, "7", 2)
	assert.True(t, domain.HasConflictReason(err, domain.ConflictAlreadyCheckedOut), "re-checkout by the holder")

	_, err = h.checkout.Checkin(ctx, f.ID, "9")
	assert.True(t, domain.HasConflictReason(err, domain.ConflictNotHolder))

	unlocked, err := h.checkout.Checkin(ctx, f.ID, "7")
	require.NoError(t, err)
	assert.Nil(t, unlocked.CheckedOutBy)
	assert.Nil(t, unlocked.ExpectedCheckinAt)

	_, err = h.checkout.Checkin(ctx, f.ID, "7")
	assert.True(t, domain.HasConflictReason(err, domain.ConflictNotHolder), "checkin of an unlocked file")
}

func TestCheckoutDefaultsAndOverdue(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	f := h.file(t, h.root(t, "Root"), "spec.txt")

	locked, err := h.checkout.Checkout(ctx, f.ID, "7", 0)
	require.NoError(t, err)
	assert.Equal(t, h.clock.Now().Add(8*time.Hour), *locked.ExpectedCheckinAt)

	overdue, err := h.checkout.IsOverdue(ctx, f.ID)
	require.NoError(t, err)
	assert.False(t, overdue)

	h.clock.Advance(8 * time.Hour)
	overdue, err = h.checkout.IsOverdue(ctx, f.ID)
	require.NoError(t, err)
	assert.False(t, overdue, "exactly at the deadline is not overdue")

	h.clock.Advance(time.Second)
	overdue, err = h.checkout.IsOverdue(ctx, f.ID)
	require.NoError(t, err)
	assert.True(t, overdue)

	list, err := h.checkout.ListOverdue(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, f.ID, list[0].ID)

	// Overdue locks are not reclaimed automatically
	_, err = h.checkout.Checkout(ctx, f.ID, "9", 1)
	assert.True(t, domain.HasConflictReason(err, domain.ConflictAlreadyCheckedOut))
}

func TestForceCheckin(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	f := h.file(t, h.root(t, "Root"), "spec.txt")

	_, err := h.checkout.Checkout(ctx, f.ID, "7", 1)
	require.NoError(t, err)

	released, err := h.checkout.ForceCheckin(ctx, f.ID, "admin")
	require.NoError(t, err)
	assert.False(t, released.IsCheckedOut())
	assert.Equal(t, "admin", released.UpdatedBy)

	again, err := h.checkout.ForceCheckin(ctx, f.ID, "admin")
	require.NoError(t, err, "force checkin of an unlocked file is a no-op")
	assert.False(t, again.IsCheckedOut())

	_, err = h.checkout.Checkout(ctx, f.ID, "9", 1)
	assert.NoError(t, err)
}

func TestCheckoutRace(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	f := h.file(t, h.root(t, "Root"), "spec.txt")

	const n = 32
	var (
		wg        sync.WaitGroup
		winners   atomic.Int32
		conflicts atomic.Int32
	)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.checkout.Checkout(ctx, f.ID, fmt.Sprint(i), 1)
			switch {
			case err == nil:
				winners.Add(1)
			case domain.HasConflictReason(err, domain.ConflictAlreadyCheckedOut):
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, winners.Load())
	assert.EqualValues(t, n-1, conflicts.Load())
}

func TestCheckoutValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.checkout.Checkout(ctx, "missing", "7", 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	f := h.file(t, h.root(t, "Root"), "spec.txt")
	_, err = h.checkout.Checkout(ctx, f.ID, "", 1)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestCheckoutZeroDefaultFallsBack(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	f := h.file(t, h.root(t, "Root"), "spec.txt")

	svc := NewCheckoutService(memory.NewFileRepository(h.store), NewResourceValidator(
		memory.NewFolderRepository(h.store), memory.NewFileRepository(h.store)), 0, metrics.Noop{}, h.clock, discardLogger())

	locked, err := svc.Checkout(ctx, f.ID, "7", 0)
	require.NoError(t, err)
	assert.Equal(t, h.clock.Now().Add(config.DefaultCheckoutHours*time.Hour), *locked.ExpectedCheckinAt)

	h.clock.Advance(time.Nanosecond)
	overdue, err := svc.IsOverdue(ctx, f.ID)
	require.NoError(t, err)
	assert.False(t, overdue)
}
