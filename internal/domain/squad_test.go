package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quarterplan/internal/domain"
	"quarterplan/internal/domain/catalog"
)

func TestNewSquadNormalizesSlug(t *testing.T) {
	reg := testCatalog(t)
	s, err := domain.NewSquad(domain.NewSquadParams{
		ID: "sq-1", TenantID: tenant, Name: "  Payments Core ", DefaultCapacity: 40,
		Status: value(t, reg, catalog.SquadStatus, "active"), Now: fixedNow,
	})
	require.NoError(t, err)
	rec := s.Record()
	assert.Equal(t, "Payments Core", rec.Name)
	assert.Equal(t, "payments-core", rec.Slug)
	assert.Equal(t, "2024-07-01T12:00:00Z", rec.CreatedAt)
}

func TestNewSquadValidation(t *testing.T) {
	reg := testCatalog(t)
	active := value(t, reg, catalog.SquadStatus, "active")

	_, err := domain.NewSquad(domain.NewSquadParams{ID: "sq-1", TenantID: tenant, Name: "A", DefaultCapacity: -1, Status: active})
	assert.ErrorIs(t, err, domain.ErrInvalidCapacity)

	_, err = domain.NewSquad(domain.NewSquadParams{ID: "sq-1", TenantID: tenant, Name: " ", Status: active})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = domain.NewSquad(domain.NewSquadParams{ID: "sq-1", TenantID: tenant, Name: "A", Status: value(t, reg, catalog.EpicHealth, "green")})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestSquadUpdateIsAtomic(t *testing.T) {
	reg := testCatalog(t)
	s, err := domain.NewSquad(domain.NewSquadParams{
		ID: "sq-1", TenantID: tenant, Name: "Core", DefaultCapacity: 10,
		Status: value(t, reg, catalog.SquadStatus, "active"),
	})
	require.NoError(t, err)

	err = s.Update(domain.SquadPatch{Name: ptr("Renamed"), DefaultCapacity: ptr(-5.0)}, fixedNow)
	assert.ErrorIs(t, err, domain.ErrInvalidCapacity)
	assert.Equal(t, "Core", s.Record().Name)

	require.NoError(t, s.Update(domain.SquadPatch{Timezone: ptr("America/Sao_Paulo"), DefaultCapacity: ptr(12.0)}, fixedNow))
	assert.Equal(t, "America/Sao_Paulo", s.Record().Timezone)
	assert.Equal(t, 12.0, s.Record().DefaultCapacity)
	assert.Equal(t, "Core", s.Record().Name)
}

func TestSquadChangeStatusIsUnconditional(t *testing.T) {
	reg := testCatalog(t)
	s, err := domain.NewSquad(domain.NewSquadParams{
		ID: "sq-1", TenantID: tenant, Name: "Core",
		Status: value(t, reg, catalog.SquadStatus, "active"),
	})
	require.NoError(t, err)
	require.NoError(t, s.ChangeStatus(value(t, reg, catalog.SquadStatus, "inactive"), fixedNow))
	assert.Equal(t, "inactive", s.Status().Slug())
	require.NoError(t, s.ChangeStatus(value(t, reg, catalog.SquadStatus, "active"), fixedNow))
	assert.Equal(t, "active", s.Status().Slug())
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "a-b-c", domain.Slugify("A  b__C!"))
	assert.Equal(t, "", domain.Slugify("  --  "))
	assert.Equal(t, "sq-1", domain.Slugify("SQ-1"))
}
