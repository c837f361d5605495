package seed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/egovportal/internal/domain"
	"github.com/punchamoorthee/egovportal/internal/store"
	"github.com/punchamoorthee/egovportal/internal/store/memory"
)

func TestCatalogIsConsistent(t *testing.T) {
	depts := map[string]bool{}
	for _, d := range Departments() {
		depts[d.ID] = true
	}
	for _, s := range Services() {
		assert.True(t, depts[s.DepartmentID], s.Name)
		assert.GreaterOrEqual(t, s.Fee, 0.0, s.Name)
	}
	assert.Equal(t, Services()[0].ID, Services()[0].ID)
}

func TestLookupDepartment(t *testing.T) {
	d, ok := LookupDepartment("  revenue department ")
	require.True(t, ok)
	assert.Equal(t, DepartmentID("Revenue Department"), d.ID)

	_, ok = LookupDepartment("Department of Magic")
	assert.False(t, ok)
}

func TestMemoryLoadsCatalog(t *testing.T) {
	s := memory.New()
	admin := domain.UserRole{UserID: "a", Role: domain.RoleSuperAdmin}
	Memory(s, []domain.UserRole{admin})

	services, err := s.ListServices(context.Background(), store.ServiceFilter{Search: "transport"})
	require.NoError(t, err)
	assert.Len(t, services, 2)

	role, err := s.GetUserRole(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleSuperAdmin, role.Role)
}
