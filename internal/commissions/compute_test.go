package commissions

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mercato/mercato-backend/pkg/db/models"
	"github.com/mercato/mercato-backend/pkg/enums"
)

func ptr[T any](v T) *T { return &v }

func TestCompute(t *testing.T) {
	cases := []struct {
		name   string
		rate   Rate
		amount int64
		want   int64
	}{
		{"plain percentage", Rate{RateBps: 1000}, 10000, 1000},
		{"half rounds up", Rate{RateBps: 1000}, 1005, 101},
		{"below half rounds down", Rate{RateBps: 1000}, 1004, 100},
		{"fixed fee added", Rate{RateBps: 500, FixedCents: 30}, 2000, 130},
		{"min applies", Rate{RateBps: 100, MinCents: ptr(int64(50))}, 1000, 50},
		{"max applies", Rate{RateBps: 2000, MaxCents: ptr(int64(150))}, 10000, 150},
		{"never above amount", Rate{RateBps: 100, FixedCents: 500}, 300, 300},
		{"zero amount", Rate{RateBps: 1000, FixedCents: 30}, 0, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Compute(tc.rate, tc.amount))
		})
	}
}

func TestPickRulePrefersStoreOverCategoryOverGlobal(t *testing.T) {
	now := time.Now().UTC()
	storeID := uuid.New()
	categoryID := uuid.New()

	global := models.CommissionRule{ID: uuid.New(), Scope: enums.CommissionScopeGlobal, RateBps: 1000, Priority: 99, Active: true, EffectiveFrom: now.Add(-time.Hour)}
	category := models.CommissionRule{ID: uuid.New(), Scope: enums.CommissionScopeCategory, CategoryID: &categoryID, RateBps: 800, Active: true, EffectiveFrom: now.Add(-time.Hour)}
	store := models.CommissionRule{ID: uuid.New(), Scope: enums.CommissionScopeStore, StoreID: &storeID, RateBps: 500, Active: true, EffectiveFrom: now.Add(-time.Hour)}
	rules := []models.CommissionRule{global, category, store}

	got := pickRule(rules, storeID, &categoryID, now)
	require.NotNil(t, got)
	assert.Equal(t, store.ID, got.ID)

	got = pickRule(rules, uuid.New(), &categoryID, now)
	require.NotNil(t, got)
	assert.Equal(t, category.ID, got.ID)

	got = pickRule(rules, uuid.New(), nil, now)
	require.NotNil(t, got)
	assert.Equal(t, global.ID, got.ID)
}

func TestPickRuleTieBreaks(t *testing.T) {
	now := time.Now().UTC()
	older := models.CommissionRule{ID: uuid.New(), Scope: enums.CommissionScopeGlobal, Priority: 1, Active: true, EffectiveFrom: now.Add(-48 * time.Hour)}
	newer := models.CommissionRule{ID: uuid.New(), Scope: enums.CommissionScopeGlobal, Priority: 1, Active: true, EffectiveFrom: now.Add(-time.Hour)}
	urgent := models.CommissionRule{ID: uuid.New(), Scope: enums.CommissionScopeGlobal, Priority: 5, Active: true, EffectiveFrom: now.Add(-72 * time.Hour)}

	got := pickRule([]models.CommissionRule{older, newer}, uuid.New(), nil, now)
	require.NotNil(t, got)
	assert.Equal(t, newer.ID, got.ID)

	got = pickRule([]models.CommissionRule{older, newer, urgent}, uuid.New(), nil, now)
	require.NotNil(t, got)
	assert.Equal(t, urgent.ID, got.ID)
}

func TestPickRuleSkipsExpiredAndFuture(t *testing.T) {
	now := time.Now().UTC()
	expired := models.CommissionRule{ID: uuid.New(), Scope: enums.CommissionScopeGlobal, Active: true, EffectiveFrom: now.Add(-48 * time.Hour), EffectiveTo: ptr(now.Add(-time.Hour))}
	future := models.CommissionRule{ID: uuid.New(), Scope: enums.CommissionScopeGlobal, Active: true, EffectiveFrom: now.Add(time.Hour)}
	assert.Nil(t, pickRule([]models.CommissionRule{expired, future}, uuid.New(), nil, now))
}
