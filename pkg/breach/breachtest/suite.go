// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

// Package breachtest holds a conformance suite shared by all breach.Store
// implementations.
package breachtest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telekom/sla-escalation/pkg/breach"
)

// NewEvent returns a valid breach created at createdAt.
func NewEvent(id string, createdAt time.Time) *breach.Event {
	return &breach.Event{
		ID:                   id,
		ClaimID:              "claim-" + id,
		ClaimReference:       "WC-" + id,
		Severity:             breach.SeverityMajor,
		ResponsiblePartyType: "tpa",
		ResponsiblePartyName: "Acme Claims Services",
		DelayDays:            3,
		CreatedAt:            createdAt.UTC(),
		Recipients: map[breach.Role]breach.Contact{
			breach.RoleWorker:   {Name: "Dana Worker", Email: "dana@example.com", Phone: "+15550100"},
			breach.RoleAttorney: {Name: "Sam Counsel", Email: "counsel@example.com"},
			breach.RoleEmployer: {Name: "Widget Corp", Email: "hr@widget.example.com"},
			breach.RoleTPA:      {Name: "Acme Claims Services", Email: "ops@acme.example.com"},
		},
	}
}

// Run exercises store against the breach.Store contract.
func Run(t *testing.T, newStore func(t *testing.T) breach.Store) {
	ctx := context.Background()
	base := time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)

	t.Run("create and get", func(t *testing.T) {
		s := newStore(t)
		e := NewEvent("b1", base)
		require.NoError(t, s.Create(ctx, e))

		got, err := s.Get(ctx, "b1")
		require.NoError(t, err)
		assert.Equal(t, e.ClaimID, got.ClaimID)
		assert.Equal(t, e.Severity, got.Severity)
		assert.True(t, e.CreatedAt.Equal(got.CreatedAt))
		assert.Equal(t, breach.TierNone, got.LastEscalatedTier)
		assert.Equal(t, e.Recipients[breach.RoleAttorney].Email, got.Recipients[breach.RoleAttorney].Email)

		err = s.Create(ctx, e)
		assert.ErrorIs(t, err, breach.ErrExists)

		_, err = s.Get(ctx, "missing")
		assert.ErrorIs(t, err, breach.ErrNotFound)
	})

	t.Run("create rejects invalid events", func(t *testing.T) {
		s := newStore(t)
		e := NewEvent("bad", base)
		e.Severity = "catastrophic"
		assert.Error(t, s.Create(ctx, e))
	})

	t.Run("advance tier is compare and set", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, NewEvent("b2", base)))

		at := base.Add(2 * time.Hour)
		require.NoError(t, s.AdvanceTier(ctx, "b2", breach.TierNone, breach.TierAlert, at))

		got, err := s.Get(ctx, "b2")
		require.NoError(t, err)
		assert.Equal(t, breach.TierAlert, got.LastEscalatedTier)
		require.NotNil(t, got.LastEscalatedAt)
		assert.True(t, at.Equal(*got.LastEscalatedAt))

		// stale expectation
		err = s.AdvanceTier(ctx, "b2", breach.TierNone, breach.TierOperational, at)
		assert.ErrorIs(t, err, breach.ErrTierConflict)

		// regression and no-op transitions
		assert.ErrorIs(t, s.AdvanceTier(ctx, "b2", breach.TierAlert, breach.TierAlert, at), breach.ErrTierRegression)
		assert.ErrorIs(t, s.AdvanceTier(ctx, "b2", breach.TierAlert, breach.TierNone, at), breach.ErrTierRegression)

		// skipping directly to the terminal tier is allowed
		require.NoError(t, s.AdvanceTier(ctx, "b2", breach.TierAlert, breach.TierInstitutional, at))

		assert.ErrorIs(t, s.AdvanceTier(ctx, "missing", breach.TierNone, breach.TierAlert, at), breach.ErrNotFound)
	})

	t.Run("concurrent advances let exactly one win", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, NewEvent("b3", base)))

		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := s.AdvanceTier(ctx, "b3", breach.TierNone, breach.TierOperational, base); err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, wins)
	})

	t.Run("resolve and list", func(t *testing.T) {
		s := newStore(t)
		for i := 0; i < 3; i++ {
			require.NoError(t, s.Create(ctx, NewEvent(fmt.Sprintf("l%d", i), base.Add(time.Duration(i)*time.Hour))))
		}
		require.NoError(t, s.Resolve(ctx, "l1", base.Add(5*time.Hour)))
		// resolving twice is harmless
		require.NoError(t, s.Resolve(ctx, "l1", base.Add(6*time.Hour)))

		all, err := s.List(ctx, breach.ListOptions{})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, "l0", all[0].ID)

		open, err := s.List(ctx, breach.ListOptions{OpenOnly: true})
		require.NoError(t, err)
		require.Len(t, open, 2)
		for _, e := range open {
			assert.NotEqual(t, "l1", e.ID)
		}

		byClaim, err := s.List(ctx, breach.ListOptions{ClaimID: "claim-l2"})
		require.NoError(t, err)
		require.Len(t, byClaim, 1)

		resolved, err := s.Get(ctx, "l1")
		require.NoError(t, err)
		assert.True(t, resolved.Resolved)
		require.NotNil(t, resolved.ResolvedAt)
		assert.True(t, base.Add(5*time.Hour).Equal(*resolved.ResolvedAt))

		assert.ErrorIs(t, s.Resolve(ctx, "missing", base), breach.ErrNotFound)
	})
}
