package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quarterplan/internal/domain"
)

func TestCommitmentTiersAreExclusive(t *testing.T) {
	_, err := domain.NewCommitment(domain.NewCommitmentParams{
		ID: "cm-1", TenantID: tenant, ProductID: "pay", Quarter: "Q3-2024",
		Committed: []string{"ep-1"}, Targeted: []string{"ep-2", "ep-1"},
	})
	assert.ErrorIs(t, err, domain.ErrTierConflict)
}

func TestCommitmentReplaceTiers(t *testing.T) {
	c, err := domain.NewCommitment(domain.NewCommitmentParams{
		ID: "cm-1", TenantID: tenant, ProductID: "pay", Quarter: "q3-2024",
		Committed: []string{"ep-1", "ep-1"}, Now: fixedNow,
	})
	require.NoError(t, err)
	rec := c.Record()
	assert.Equal(t, "Q3-2024", rec.Quarter)
	assert.Equal(t, []string{"ep-1"}, rec.Committed)
	assert.Equal(t, []string{}, rec.Targeted)

	err = c.ReplaceTiers([]string{"ep-2"}, nil, []string{"ep-2"}, fixedNow)
	assert.ErrorIs(t, err, domain.ErrTierConflict)
	assert.Equal(t, []string{"ep-1"}, c.Record().Committed)

	require.NoError(t, c.ReplaceTiers([]string{"ep-2"}, []string{"ep-1"}, []string{"ep-3"}, fixedNow))
	assert.Equal(t, domain.TierTargeted, c.TierOf("ep-1"))
	assert.Equal(t, "", c.TierOf("ep-9"))
}

func TestCommitmentTiersProjection(t *testing.T) {
	reg := testCatalog(t)
	c, err := domain.NewCommitment(domain.NewCommitmentParams{
		ID: "cm-1", TenantID: tenant, ProductID: "pay", Quarter: "Q3-2024",
		Committed: []string{"ep-1"}, Aspirational: []string{"ep-3"},
	})
	require.NoError(t, err)

	view, err := c.Tiers(reg)
	require.NoError(t, err)
	require.Len(t, view.Tiers, 3)
	assert.Equal(t, "Committed", view.Tiers[0].Tier.Label())
	assert.Equal(t, []string{"ep-1"}, view.Tiers[0].EpicIDs)
	assert.Equal(t, "targeted", view.Tiers[1].Tier.Slug())
	assert.Empty(t, view.Tiers[1].EpicIDs)
	assert.Equal(t, "commitment_tier:aspirational", view.Tiers[2].Tier.ID())
}
