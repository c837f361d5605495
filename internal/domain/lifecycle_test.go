package domain

import (
	"context"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from  RequestStatus
		to    RequestStatus
		valid bool
	}{
		{StatusPending, StatusApproved, true},
		{StatusPending, StatusRejected, true},
		{StatusPending, StatusUnderReview, true},
		{StatusApproved, StatusCompleted, true},
		{StatusPending, StatusCompleted, false},
		{StatusPending, StatusPending, false},
		{StatusUnderReview, StatusApproved, false},
		{StatusApproved, StatusRejected, false},
		{StatusApproved, StatusPending, false},
		{StatusCompleted, StatusPending, false},
		{RequestStatus("archived"), StatusPending, false},
	}

	for _, tt := range cases {
		if got := CanTransition(tt.from, tt.to); got != tt.valid {
			t.Fatalf("CanTransition(%q, %q)=%v, want %v", tt.from, tt.to, got, tt.valid)
		}
	}
}

func TestTerminalStatesAbsorb(t *testing.T) {
	for _, from := range []RequestStatus{StatusRejected, StatusCompleted} {
		assert.True(t, from.Terminal(), from)
		for _, to := range Statuses {
			assert.False(t, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusApproved.Terminal())
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus(" Under_Review ")
	require.NoError(t, err)
	assert.Equal(t, StatusUnderReview, s)

	_, err = ParseStatus("closed")
	assert.True(t, errors.Is(err, errors.NotValid))
}

func TestParsePaymentMethod(t *testing.T) {
	for _, raw := range []string{"card", "UPI", "net_banking"} {
		_, err := ParsePaymentMethod(raw)
		assert.NoError(t, err, raw)
	}
	_, err := ParsePaymentMethod("cash")
	assert.ErrorIs(t, err, ErrInvalidPaymentMethod)
}

func TestRoleCapabilities(t *testing.T) {
	assert.True(t, RoleCitizen.Can(CapSubmit))
	assert.False(t, RoleCitizen.Can(CapProcess))
	assert.False(t, RoleCitizen.Can(CapViewAll))
	assert.True(t, RoleDataEntry.Can(CapSubmitOnBehalf))
	assert.False(t, RoleDataEntry.Can(CapProcess))
	for _, r := range []Role{RoleDepartmentAdmin, RoleSuperAdmin} {
		assert.True(t, r.Can(CapProcess), r)
		assert.True(t, r.Can(CapViewAll), r)
		assert.True(t, r.Can(CapManageCatalog), r)
	}
	assert.False(t, Role("auditor").Can(CapSubmit))

	_, err := ParseRole("auditor")
	assert.ErrorIs(t, err, ErrUnknownRole)
}

func TestActorDepartment(t *testing.T) {
	dept := "d-1"
	_, scoped := Actor{Role: RoleSuperAdmin, DepartmentID: &dept}.Department()
	assert.False(t, scoped)

	_, scoped = Actor{Role: RoleDepartmentAdmin}.Department()
	assert.False(t, scoped)

	got, scoped := Actor{Role: RoleDepartmentAdmin, DepartmentID: &dept}.Department()
	assert.True(t, scoped)
	assert.Equal(t, dept, got)
}

func TestKind(t *testing.T) {
	assert.Equal(t, errors.NotFound, Kind(ErrRequestNotFound))
	assert.Equal(t, errors.Forbidden, Kind(ErrNotPermitted))
	assert.Equal(t, errors.Unauthorized, Kind(ErrMissingToken))
	assert.Equal(t, errors.NotValid, Kind(ErrRemarksRequired))
	assert.Equal(t, Unavailable, Kind(UnavailableError("select", errors.New("dial tcp: refused"))))
	assert.Nil(t, Kind(errors.New("boom")))
}

func TestUnavailableErrorKeepsCause(t *testing.T) {
	err := UnavailableError("list requests", context.Canceled)
	assert.ErrorIs(t, err, Unavailable)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "list requests: backend unavailable: context canceled", err.Error())

	// a backend failure stays Unavailable whatever its cause wraps
	assert.Equal(t, Unavailable, Kind(UnavailableError("get service", ErrServiceNotFound)))
}

func TestCountStats(t *testing.T) {
	reqs := []RequestDetail{
		{ServiceRequest: ServiceRequest{Status: StatusPending}},
		{ServiceRequest: ServiceRequest{Status: StatusApproved}},
		{ServiceRequest: ServiceRequest{Status: StatusCompleted}},
		{ServiceRequest: ServiceRequest{Status: StatusRejected}},
		{ServiceRequest: ServiceRequest{Status: StatusUnderReview}},
	}
	assert.Equal(t, Stats{Total: 5, Pending: 1, Approved: 2, Rejected: 1}, CountStats(reqs))
}
