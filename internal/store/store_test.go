package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SignalSentinel/internal/model"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()
	sq, err := NewSQLiteStore(":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { sq.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sq,
	}
}

var base = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func newOpp(id, symbol, strategy string, created time.Time) *model.Opportunity {
	return &model.Opportunity{
		ID:          id,
		Symbol:      symbol,
		Strategy:    strategy,
		EntryPrice:  100,
		Targets:     []float64{105, 110, 115},
		StopLoss:    95,
		TargetIndex: 0,
		Status:      model.StatusActive,
		CreatedAt:   created,
		UpdatedAt:   created,
	}
}

func TestCreateAndGet(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			o := newOpp("a", "AAPL", "breakout", base)
			require.NoError(t, s.CreateOpportunity(ctx, o))

			got, err := s.GetOpportunity(ctx, "a")
			require.NoError(t, err)
			assert.Equal(t, "AAPL", got.Symbol)
			assert.Equal(t, []float64{105, 110, 115}, got.Targets)
			assert.Equal(t, model.StatusActive, got.Status)
			assert.True(t, got.CreatedAt.Equal(base))

			_, err = s.GetOpportunity(ctx, "missing")
			assert.ErrorIs(t, err, model.ErrNotFound)
		})
	}
}

func TestActivePairIsUnique(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.CreateOpportunity(ctx, newOpp("a", "AAPL", "breakout", base)))

			err := s.CreateOpportunity(ctx, newOpp("b", "AAPL", "breakout", base))
			assert.ErrorIs(t, err, model.ErrActiveExists)

			// other strategy on the same symbol is fine
			assert.NoError(t, s.CreateOpportunity(ctx, newOpp("c", "AAPL", "trend_cross", base)))

			active, err := s.ListActive(ctx)
			require.NoError(t, err)
			assert.Len(t, active, 2)
		})
	}
}

func TestConcurrentCreateSingleWinner(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var (
				wg       sync.WaitGroup
				mu       sync.Mutex
				wins     int
				conflict int
			)
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					err := s.CreateOpportunity(ctx, newOpp(string(rune('a'+i)), "MSFT", "breakout", base))
					mu.Lock()
					defer mu.Unlock()
					if err == nil {
						wins++
					} else if assert.ErrorIs(t, err, model.ErrActiveExists) {
						conflict++
					}
				}(i)
			}
			wg.Wait()
			assert.Equal(t, 1, wins)
			assert.Equal(t, 7, conflict)
		})
	}
}

func TestApplyTransitionWithSuccessor(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			o := newOpp("a", "AAPL", "breakout", base)
			require.NoError(t, s.CreateOpportunity(ctx, o))

			done := o.Clone()
			done.Status = model.StatusCompleted
			done.TargetIndex = 3
			done.ExitPrice = 116
			done.UpdatedAt = base.Add(time.Hour)

			next := newOpp("b", "AAPL", "breakout", base.Add(time.Hour))
			next.EntryPrice = 115
			next.PredecessorID = "a"
			require.NoError(t, s.ApplyTransition(ctx, done, next))

			got, err := s.GetOpportunity(ctx, "a")
			require.NoError(t, err)
			assert.Equal(t, model.StatusCompleted, got.Status)
			assert.Equal(t, 3, got.TargetIndex)
			assert.Equal(t, 116.0, got.ExitPrice)

			active, err := s.ListActive(ctx)
			require.NoError(t, err)
			require.Len(t, active, 1)
			assert.Equal(t, "b", active[0].ID)
			assert.Equal(t, "a", active[0].PredecessorID)
			assert.Equal(t, 115.0, active[0].EntryPrice)

			// a closed record cannot transition again
			assert.ErrorIs(t, s.ApplyTransition(ctx, done, nil), model.ErrPersistence)
		})
	}
}

func TestApplyTransitionRollsBack(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.CreateOpportunity(ctx, newOpp("a", "AAPL", "breakout", base)))
			require.NoError(t, s.CreateOpportunity(ctx, newOpp("x", "TSLA", "breakout", base)))

			done, err := s.GetOpportunity(ctx, "a")
			require.NoError(t, err)
			done.Status = model.StatusCompleted
			done.TargetIndex = 3

			// successor reuses an existing id so the insert fails
			dup := newOpp("x", "AAPL", "breakout", base)
			require.Error(t, s.ApplyTransition(ctx, done, dup))

			got, err := s.GetOpportunity(ctx, "a")
			require.NoError(t, err)
			assert.Equal(t, model.StatusActive, got.Status)
			assert.Equal(t, 0, got.TargetIndex)
		})
	}
}

func TestApplyTransitionKeepsAlertRefs(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.CreateOpportunity(ctx, newOpp("a", "AAPL", "breakout", base)))

			// copy taken before the refs are stored
			stale, err := s.GetOpportunity(ctx, "a")
			require.NoError(t, err)
			require.NoError(t, s.MergeAlertRefs(ctx, "a", map[string]string{"chat-1": "msg-42"}))

			stale.TargetIndex = 1
			stale.AlertRefs = map[string]string{"other": "stale"}
			require.NoError(t, s.ApplyTransition(ctx, stale, nil))
			assert.Equal(t, map[string]string{"chat-1": "msg-42"}, stale.AlertRefs)

			got, err := s.GetOpportunity(ctx, "a")
			require.NoError(t, err)
			assert.Equal(t, 1, got.TargetIndex)
			assert.Equal(t, map[string]string{"chat-1": "msg-42"}, got.AlertRefs)
		})
	}
}

func TestMergeAlertRefsAndCreatedSince(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.CreateOpportunity(ctx, newOpp("old", "AAPL", "breakout", base.Add(-48*time.Hour))))
			require.NoError(t, s.CreateOpportunity(ctx, newOpp("new", "MSFT", "breakout", base)))

			require.NoError(t, s.MergeAlertRefs(ctx, "new", map[string]string{"t1": "10"}))
			require.NoError(t, s.MergeAlertRefs(ctx, "new", map[string]string{"t2": "20"}))
			got, err := s.GetOpportunity(ctx, "new")
			require.NoError(t, err)
			assert.Equal(t, map[string]string{"t1": "10", "t2": "20"}, got.AlertRefs)

			assert.ErrorIs(t, s.MergeAlertRefs(ctx, "nope", map[string]string{"t": "1"}), model.ErrNotFound)

			recent, err := s.ListCreatedSince(ctx, base.Add(-24*time.Hour))
			require.NoError(t, err)
			require.Len(t, recent, 1)
			assert.Equal(t, "new", recent[0].ID)
		})
	}
}

func TestTenants(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			tn := &model.Tenant{
				ID: "chat-1",
				Settings: model.TenantSettings{
					Strategies: map[string]bool{"breakout": true},
					Reports:    map[model.Cadence]bool{model.CadenceDaily: true},
				},
				CreatedAt: base,
				UpdatedAt: base,
			}
			stored, created, err := s.InsertTenantIfAbsent(ctx, tn)
			require.NoError(t, err)
			assert.True(t, created)
			assert.False(t, stored.Approved)

			again := *tn
			again.Approved = true
			stored, created, err = s.InsertTenantIfAbsent(ctx, &again)
			require.NoError(t, err)
			assert.False(t, created)
			assert.False(t, stored.Approved, "existing tenant must not be overwritten")

			exp := base.Add(30 * 24 * time.Hour)
			stored.Approved = true
			stored.Active = true
			stored.SubscriptionExpires = &exp
			require.NoError(t, s.SaveTenant(ctx, stored))

			got, err := s.GetTenant(ctx, "chat-1")
			require.NoError(t, err)
			assert.True(t, got.Approved)
			assert.True(t, got.Active)
			require.NotNil(t, got.SubscriptionExpires)
			assert.True(t, got.SubscriptionExpires.Equal(exp))
			assert.True(t, got.Settings.Reports[model.CadenceDaily])

			assert.ErrorIs(t, s.SaveTenant(ctx, &model.Tenant{ID: "ghost"}), model.ErrNotFound)
			_, err = s.GetTenant(ctx, "ghost")
			assert.ErrorIs(t, err, model.ErrNotFound)

			all, err := s.ListTenants(ctx)
			require.NoError(t, err)
			assert.Len(t, all, 1)
		})
	}
}
